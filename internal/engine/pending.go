package engine

import (
	"github.com/roach88/iapsync/internal/purchase"
)

// CheckoutCallback receives the outcome of a checkout. err is nil when the
// receipt state is Purchased or Restored, and a *purchase.Error otherwise.
// It always runs on the engine goroutine.
type CheckoutCallback func(err error, receipt purchase.Receipt)

// PendingTransaction is one outstanding checkout awaiting native completions.
//
// The requested offers are fixed at creation. Offer states and receipt lines
// change only through AddCompletedOffer and ForceFailed; the overall state is
// always derived from the offer states.
type PendingTransaction struct {
	CheckoutID string
	User       purchase.UserKey

	requested     []purchase.OfferRequest
	offerStates   map[string]purchase.TransactionState
	receiptLines  map[string][]purchase.LineItem
	transactionID string
	failure       purchase.Kind
	created       int64

	callback CheckoutCallback
	fired    bool
}

// NewPendingTransaction creates a pending transaction with every requested
// offer in NotStarted.
func NewPendingTransaction(checkoutID string, user purchase.UserKey, req purchase.CheckoutRequest, cb CheckoutCallback) *PendingTransaction {
	p := &PendingTransaction{
		CheckoutID:   checkoutID,
		User:         user,
		requested:    append([]purchase.OfferRequest{}, req.Offers...),
		offerStates:  make(map[string]purchase.TransactionState, len(req.Offers)),
		receiptLines: make(map[string][]purchase.LineItem, len(req.Offers)),
		callback:     cb,
	}
	for _, o := range p.requested {
		p.offerStates[o.OfferID] = purchase.StateNotStarted
	}
	return p
}

// RequestedOffers returns a copy of the offers the checkout asked for.
func (p *PendingTransaction) RequestedOffers() []purchase.OfferRequest {
	return append([]purchase.OfferRequest{}, p.requested...)
}

// MarkProcessing moves every offer that has not started into Processing.
// Called once the native purchase call has been dispatched.
func (p *PendingTransaction) MarkProcessing() {
	for id, s := range p.offerStates {
		if s == purchase.StateNotStarted {
			p.offerStates[id] = purchase.StateProcessing
		}
	}
}

// HasOffer reports whether offerID was part of the request.
func (p *PendingTransaction) HasOffer(offerID string) bool {
	_, ok := p.offerStates[offerID]
	return ok
}

// OfferState returns the recorded state of one requested offer.
func (p *PendingTransaction) OfferState(offerID string) (purchase.TransactionState, bool) {
	s, ok := p.offerStates[offerID]
	return s, ok
}

// TransactionID returns the first backend transaction id recorded.
func (p *PendingTransaction) TransactionID() string {
	return p.transactionID
}

// AddCompletedOffer records a completion for one of the requested offers.
// Returns false when data.OfferID was not requested; nothing is recorded in
// that case and the caller must still drive the transaction to a terminal
// state.
func (p *PendingTransaction) AddCompletedOffer(result purchase.TransactionState, data purchase.TransactionData) bool {
	if _, ok := p.offerStates[data.OfferID]; !ok {
		return false
	}
	p.offerStates[data.OfferID] = result
	p.receiptLines[data.OfferID] = []purchase.LineItem{data.LineItem()}
	if p.transactionID == "" && data.TransactionID != "" {
		p.transactionID = data.TransactionID
	}
	return true
}

// ForceFailed fails every offer still waiting on the native layer and
// remembers why. Afterwards AreAllOffersComplete is true.
func (p *PendingTransaction) ForceFailed(kind purchase.Kind) {
	for id, s := range p.offerStates {
		if !s.IsResolved() {
			p.offerStates[id] = purchase.StateFailed
		}
	}
	p.noteFailure(kind)
}

// noteFailure keeps the first failure reason only.
func (p *PendingTransaction) noteFailure(kind purchase.Kind) {
	if p.failure == "" {
		p.failure = kind
	}
}

// AreAllOffersComplete reports whether every requested offer is resolved.
func (p *PendingTransaction) AreAllOffersComplete() bool {
	for _, s := range p.offerStates {
		if !s.IsResolved() {
			return false
		}
	}
	return true
}

// GetFinalTransactionState aggregates the offer states. First match wins:
//
//  1. any NotStarted, Processing or Failed -> Failed
//  2. any Invalid -> Invalid
//  3. any NotAllowed -> NotAllowed
//  4. any Deferred -> Deferred
//  5. any Canceled -> Canceled
//  6. every offer Restored -> Restored
//  7. otherwise Purchased
//
// The result does not depend on the order completions arrived in.
func (p *PendingTransaction) GetFinalTransactionState() purchase.TransactionState {
	var invalid, notAllowed, deferred, canceled bool
	allRestored := len(p.offerStates) > 0
	for _, s := range p.offerStates {
		switch s {
		case purchase.StateNotStarted, purchase.StateProcessing, purchase.StateFailed:
			return purchase.StateFailed
		case purchase.StateInvalid:
			invalid = true
		case purchase.StateNotAllowed:
			notAllowed = true
		case purchase.StateDeferred:
			deferred = true
		case purchase.StateCanceled:
			canceled = true
		}
		if s != purchase.StateRestored {
			allRestored = false
		}
	}
	switch {
	case invalid:
		return purchase.StateInvalid
	case notAllowed:
		return purchase.StateNotAllowed
	case deferred:
		return purchase.StateDeferred
	case canceled:
		return purchase.StateCanceled
	case allRestored:
		return purchase.StateRestored
	default:
		return purchase.StatePurchased
	}
}

// OverallState is the derived state of the whole checkout. A deferred offer
// settles the checkout as Deferred even while other offers are outstanding,
// unless another offer already failed.
func (p *PendingTransaction) OverallState() purchase.TransactionState {
	var anyProcessing, anyDeferred, anyFailed bool
	for _, s := range p.offerStates {
		switch s {
		case purchase.StateDeferred:
			anyDeferred = true
		case purchase.StateFailed:
			anyFailed = true
		case purchase.StateProcessing:
			anyProcessing = true
		}
	}
	if anyDeferred && !anyFailed {
		return purchase.StateDeferred
	}
	if p.AreAllOffersComplete() {
		return p.GetFinalTransactionState()
	}
	if anyProcessing {
		return purchase.StateProcessing
	}
	return purchase.StateNotStarted
}

// finalError returns the error delivered with the final receipt.
func (p *PendingTransaction) finalError(state purchase.TransactionState) error {
	if state == purchase.StateFailed && p.failure != "" {
		return purchase.NewError(p.failure, "%s", failureMessage(p.failure))
	}
	return purchase.ErrorForState(state)
}

// complete fires the checkout callback at most once.
func (p *PendingTransaction) complete(err error, receipt purchase.Receipt) {
	if p.fired {
		return
	}
	p.fired = true
	if p.callback != nil {
		p.callback(err, receipt)
	}
}

func failureMessage(kind purchase.Kind) string {
	switch kind {
	case purchase.KindMalformedCompletion:
		return "completion is missing a transaction id"
	case purchase.KindUnmatchedOffer:
		return "completion for an offer that was not part of the checkout"
	case purchase.KindBackendFailure:
		return "native purchase could not be started"
	default:
		return "purchase failed"
	}
}
