package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/iapsync/internal/purchase"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] step %d %s", event.Seq, event.Step, event.Type)
			if event.User != "" {
				fmt.Fprintf(&buf, " user=%s", event.User)
			}
			if event.OfferID != "" {
				fmt.Fprintf(&buf, " offer=%s", event.OfferID)
			}
			if event.TransactionID != "" {
				fmt.Fprintf(&buf, " txid=%s", event.TransactionID)
			}
			if event.State != "" {
				fmt.Fprintf(&buf, " state=%s", event.State)
			}
			if event.ErrorCode != "" {
				fmt.Fprintf(&buf, " error=%s", event.ErrorCode)
			}
			buf.WriteByte('\n')
		}
	}

	return buf.String()
}

// receiptsFor selects the receipts an assertion looks at. An empty source
// mirrors GetReceipts: the user's completed receipts, then every offline
// receipt.
func receiptsFor(result *Result, a Assertion) []purchase.Receipt {
	var out []purchase.Receipt
	for _, rr := range result.Receipts {
		switch a.Source {
		case purchase.SourceCompleted:
			if rr.Source != purchase.SourceCompleted || string(rr.User) != a.User {
				continue
			}
		case purchase.SourceOffline:
			if rr.Source != purchase.SourceOffline {
				continue
			}
		default:
			if rr.Source == purchase.SourceCompleted && string(rr.User) != a.User {
				continue
			}
		}
		out = append(out, rr.Receipt)
	}
	return out
}

func describeSet(a Assertion) string {
	switch a.Source {
	case purchase.SourceOffline:
		return "offline receipts"
	case purchase.SourceCompleted:
		return fmt.Sprintf("completed receipts of %q", a.User)
	default:
		return fmt.Sprintf("receipts visible to %q", a.User)
	}
}

func assertReceiptCount(result *Result, a Assertion) error {
	got := len(receiptsFor(result, a))
	if got != a.Count {
		return &AssertionError{
			Type:     AssertReceiptCount,
			Expected: fmt.Sprintf("%d %s", a.Count, describeSet(a)),
			Actual:   fmt.Sprintf("%d", got),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertReceiptState checks the state of the receipt for a transaction id,
// or of the last receipt when no id is given.
func assertReceiptState(result *Result, a Assertion) error {
	receipts := receiptsFor(result, a)

	var states []string
	if a.TransactionID == "" {
		if len(receipts) > 0 {
			last := receipts[len(receipts)-1]
			if last.State.String() == a.State {
				return nil
			}
			states = append(states, last.State.String())
		}
	} else {
		for _, r := range receipts {
			if r.TransactionID != a.TransactionID {
				continue
			}
			if r.State.String() == a.State {
				return nil
			}
			states = append(states, r.State.String())
		}
	}

	actual := "no matching receipt"
	if len(states) > 0 {
		actual = "states " + strings.Join(states, ", ")
	}
	target := "last receipt"
	if a.TransactionID != "" {
		target = fmt.Sprintf("receipt %q", a.TransactionID)
	}
	return &AssertionError{
		Type:     AssertReceiptState,
		Expected: fmt.Sprintf("%s in %s to be %s", target, describeSet(a), a.State),
		Actual:   actual,
		Trace:    result.Trace,
	}
}

func assertPending(result *Result, a Assertion) error {
	if result.Pending != a.Count {
		return &AssertionError{
			Type:     AssertPending,
			Expected: fmt.Sprintf("%d pending transactions", a.Count),
			Actual:   fmt.Sprintf("%d", result.Pending),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertErrorCode(result *Result, a Assertion) error {
	cb, ok := result.Callbacks[a.Step]
	if !ok || !cb.Fired {
		return &AssertionError{
			Type:     AssertErrorCode,
			Expected: fmt.Sprintf("callback of step %d to fire with %q", a.Step, a.Code),
			Actual:   "callback did not fire",
			Trace:    result.Trace,
		}
	}
	if got := cb.ErrorCode(); got != a.Code {
		return &AssertionError{
			Type:     AssertErrorCode,
			Expected: fmt.Sprintf("step %d error code %q", a.Step, a.Code),
			Actual:   fmt.Sprintf("%q", got),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertNativeCalls(result *Result, a Assertion) error {
	want := a.Calls
	if want == nil {
		want = []string{}
	}
	if !slices.Equal(result.NativeCalls, want) {
		return &AssertionError{
			Type:     AssertNativeCalls,
			Expected: fmt.Sprintf("%v", want),
			Actual:   fmt.Sprintf("%v", result.NativeCalls),
		}
	}
	return nil
}

// checkExpect validates a step's expect clause. Returns "" when it holds.
func checkExpect(result *Result, step int, e *ExpectClause) string {
	if e == nil {
		return ""
	}
	cb := result.Callbacks[step]
	if cb == nil {
		return fmt.Sprintf("step %d: expect on a step without a callback", step)
	}
	if e.Pending {
		if cb.Fired {
			return fmt.Sprintf("step %d: expected callback to be pending, it fired with %q", step, cb.ErrorCode())
		}
		return ""
	}
	if !cb.Fired {
		return fmt.Sprintf("step %d: expected callback to fire", step)
	}
	if e.Succeeded != nil && *e.Succeeded != (cb.Err == nil) {
		return fmt.Sprintf("step %d: expected succeeded=%t, got error %v", step, *e.Succeeded, cb.Err)
	}
	if e.ErrorCode != "" && cb.ErrorCode() != e.ErrorCode {
		return fmt.Sprintf("step %d: expected error code %q, got %q", step, e.ErrorCode, cb.ErrorCode())
	}
	if e.State != "" && cb.Receipt.State.String() != e.State {
		return fmt.Sprintf("step %d: expected receipt state %s, got %s", step, e.State, cb.Receipt.State)
	}
	return ""
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertReceiptCount:
			err = assertReceiptCount(result, assertion)
		case AssertReceiptState:
			err = assertReceiptState(result, assertion)
		case AssertPending:
			err = assertPending(result, assertion)
		case AssertErrorCode:
			err = assertErrorCode(result, assertion)
		case AssertNativeCalls:
			err = assertNativeCalls(result, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
