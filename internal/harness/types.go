package harness

import (
	"github.com/roach88/iapsync/internal/purchase"
)

// TraceEvent is one entry in the scenario trace: either a step the harness
// drove into the reconciler, or a callback the reconciler fired.
type TraceEvent struct {
	Seq           int64  `json:"seq"`
	Step          int    `json:"step"`
	Type          string `json:"type"`
	User          string `json:"user,omitempty"`
	OfferID       string `json:"offer_id,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	State         string `json:"state,omitempty"`
	ErrorCode     string `json:"error_code,omitempty"`
}

// Callback records what a checkout or query callback delivered.
type Callback struct {
	Step    int
	Fired   bool
	Err     error
	Receipt purchase.Receipt
}

// ErrorCode returns the stable error code delivered, or "" on success.
func (c *Callback) ErrorCode() string {
	if c.Err == nil {
		return ""
	}
	return purchase.ResultOf(c.Err).ErrorCode
}

// RecordedReceipt is a receipt as the store holds it at the end of a run.
type RecordedReceipt struct {
	Source  string
	User    purchase.UserKey
	Receipt purchase.Receipt
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace lists steps and callbacks in the order they happened.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Receipts holds every stored receipt: completed receipts per user in
	// user order, then offline receipts.
	Receipts []RecordedReceipt `json:"-"`

	// NativeCalls lists the calls the scripted native layer received.
	NativeCalls []string `json:"native_calls"`

	// Pending is the number of live pending transactions after the run.
	Pending int `json:"pending"`

	// Callbacks is keyed by the index of the step that registered them.
	Callbacks map[int]*Callback `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:        true,
		Trace:       []TraceEvent{},
		Errors:      []string{},
		NativeCalls: []string{},
		Callbacks:   make(map[int]*Callback),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// addTrace appends an event with the next trace seq.
func (r *Result) addTrace(ev TraceEvent) {
	ev.Seq = int64(len(r.Trace) + 1)
	r.Trace = append(r.Trace, ev)
}
