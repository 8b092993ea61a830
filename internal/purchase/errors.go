package purchase

import (
	"errors"
	"fmt"
)

// Kind classifies why a purchase operation did not succeed.
type Kind string

const (
	KindMalformedCompletion Kind = "malformed_completion"
	KindUnmatchedOffer      Kind = "unmatched_offer"
	KindConcurrentCheckout  Kind = "concurrent_checkout"
	KindNoOffersSpecified   Kind = "no_offers_specified"
	KindNotAllowed          Kind = "not_allowed"
	KindBackendFailure      Kind = "backend_failure"
	KindBackendCancel       Kind = "backend_cancel"
	KindBackendInvalidState Kind = "backend_invalid_state"
	KindDeferred            Kind = "deferred"
	KindQueryInProgress     Kind = "query_in_progress"
	KindUnexpectedState     Kind = "unexpected_state"
)

// Stable error codes. Calling UIs key localized messages off these values;
// never rename one, add a new code instead.
const (
	CodeFailure         = "purchase.failure"
	CodeUserCancelled   = "purchase.user_cancelled"
	CodeInvalid         = "purchase.invalid"
	CodeUnexpectedState = "purchase.unexpected_state"
	CodeDeferred        = "purchase.deferred"
)

// Code returns the stable error code for the kind.
func (k Kind) Code() string {
	switch k {
	case KindBackendCancel:
		return CodeUserCancelled
	case KindBackendInvalidState:
		return CodeInvalid
	case KindDeferred:
		return CodeDeferred
	case KindUnexpectedState:
		return CodeUnexpectedState
	default:
		return CodeFailure
	}
}

// Error is a purchase failure delivered to a checkout or query callback.
type Error struct {
	Kind    Kind
	Message string
}

// NewError creates an Error of the given kind.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind.Code(), e.Message)
}

// Code returns the stable error code.
func (e *Error) Code() string {
	return e.Kind.Code()
}

// Is matches another *Error by kind, so errors.Is works against the
// sentinel values below.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrNoOffersSpecified  = &Error{Kind: KindNoOffersSpecified, Message: "no offers specified"}
	ErrConcurrentCheckout = &Error{Kind: KindConcurrentCheckout, Message: "transaction in progress"}
	ErrNotAllowed         = &Error{Kind: KindNotAllowed, Message: "not allowed"}
	ErrQueryInProgress    = &Error{Kind: KindQueryInProgress, Message: "query already in progress"}
)

// KindOf returns the Kind of err, or "" when err is not a purchase error.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsKind reports whether err is a purchase error of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// ErrorForState maps a final transaction state to the error delivered with
// its receipt. Purchased and Restored yield nil.
func ErrorForState(state TransactionState) error {
	switch state {
	case StatePurchased, StateRestored:
		return nil
	case StateCanceled:
		return NewError(KindBackendCancel, "purchase canceled by user")
	case StateInvalid:
		return NewError(KindBackendInvalidState, "purchase state does not match the store")
	case StateDeferred:
		return NewError(KindDeferred, "purchase awaiting external approval")
	case StateNotAllowed:
		return NewError(KindNotAllowed, "purchases are not allowed")
	case StateFailed:
		return NewError(KindBackendFailure, "purchase failed")
	default:
		return NewError(KindUnexpectedState, "unexpected transaction state %s", state)
	}
}

// Result is the wire shape of a callback error.
type Result struct {
	Succeeded    bool   `json:"succeeded"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// ResultOf converts a callback error into its wire shape.
func ResultOf(err error) Result {
	if err == nil {
		return Result{Succeeded: true}
	}
	var pe *Error
	if errors.As(err, &pe) {
		return Result{ErrorCode: pe.Code(), ErrorMessage: pe.Message}
	}
	return Result{ErrorCode: CodeFailure, ErrorMessage: err.Error()}
}
