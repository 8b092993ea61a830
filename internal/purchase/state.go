package purchase

import "fmt"

// TransactionState is the state of a single offer or of a whole checkout.
type TransactionState int

const (
	StateNotStarted TransactionState = iota
	StateProcessing
	StatePurchased
	StateFailed
	StateDeferred
	StateCanceled
	StateRestored
	StateNotAllowed
	StateInvalid
)

var stateNames = [...]string{
	StateNotStarted: "NotStarted",
	StateProcessing: "Processing",
	StatePurchased:  "Purchased",
	StateFailed:     "Failed",
	StateDeferred:   "Deferred",
	StateCanceled:   "Canceled",
	StateRestored:   "Restored",
	StateNotAllowed: "NotAllowed",
	StateInvalid:    "Invalid",
}

// String returns the state name used in logs, JSON and the database.
func (s TransactionState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("TransactionState(%d)", int(s))
	}
	return stateNames[s]
}

// ParseState converts a state name back into a TransactionState.
func ParseState(name string) (TransactionState, error) {
	for i, n := range stateNames {
		if n == name {
			return TransactionState(i), nil
		}
	}
	return StateNotStarted, fmt.Errorf("unknown transaction state %q", name)
}

// IsResolved reports whether an offer in this state no longer waits on the
// native layer. Everything except NotStarted and Processing is resolved.
func (s TransactionState) IsResolved() bool {
	return s != StateNotStarted && s != StateProcessing
}

// IsSuccess reports whether the state carries purchased content.
func (s TransactionState) IsSuccess() bool {
	return s == StatePurchased || s == StateRestored
}

// MarshalText implements encoding.TextMarshaler.
func (s TransactionState) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(stateNames) {
		return nil, fmt.Errorf("invalid transaction state %d", int(s))
	}
	return []byte(stateNames[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *TransactionState) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
