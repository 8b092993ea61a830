package purchase

// UserKey identifies the user a checkout belongs to. The engine treats it as
// an opaque key.
type UserKey string

// OfferRequest is one offer the caller asked to buy.
type OfferRequest struct {
	Namespace string `json:"namespace" yaml:"namespace"`
	OfferID   string `json:"offer_id" yaml:"offer_id"`
	Quantity  int    `json:"quantity" yaml:"quantity"`
}

// CheckoutRequest is a single customer-initiated purchase of one or more offers.
type CheckoutRequest struct {
	Offers []OfferRequest `json:"offers" yaml:"offers"`
}

// LineItem is one purchased item inside a receipt offer entry.
type LineItem struct {
	ItemName       string `json:"item_name"`
	UniqueID       string `json:"unique_id"`
	ValidationInfo string `json:"validation_info,omitempty"`
}

// TransactionData is one raw completion notification from a native backend.
//
// An empty TransactionID marks the completion as malformed.
type TransactionData struct {
	OfferID       string `json:"offer_id" yaml:"offer_id"`
	TransactionID string `json:"transaction_id" yaml:"transaction_id"`
	ReceiptBlob   string `json:"receipt_blob,omitempty" yaml:"receipt_blob,omitempty"`
	Signature     string `json:"signature,omitempty" yaml:"signature,omitempty"`
	ErrorText     string `json:"error_text,omitempty" yaml:"error_text,omitempty"`
}

// Malformed reports whether the completion lacks a transaction id.
func (d TransactionData) Malformed() bool {
	return d.TransactionID == ""
}

// ValidationInfo returns the payload a server needs to validate the
// purchase. Backends that sign separately get the receipt and signature
// combined into one canonical JSON object.
func (d TransactionData) ValidationInfo() string {
	if d.Signature == "" {
		return d.ReceiptBlob
	}
	combined, err := MarshalCanonical(map[string]any{
		"receipt_data": d.ReceiptBlob,
		"signature":    d.Signature,
	})
	if err != nil {
		// Only reachable for invalid UTF-8 input; keep the raw blob.
		return d.ReceiptBlob
	}
	return string(combined)
}

// LineItem builds the line item recorded for this completion.
func (d TransactionData) LineItem() LineItem {
	return LineItem{
		ItemName:       d.OfferID,
		UniqueID:       d.TransactionID,
		ValidationInfo: d.ValidationInfo(),
	}
}

// ReceiptOffer is one offer entry in a receipt.
type ReceiptOffer struct {
	Namespace string     `json:"namespace"`
	OfferID   string     `json:"offer_id"`
	Quantity  int        `json:"quantity"`
	LineItems []LineItem `json:"line_items"`
}

// Receipt is an immutable proof-of-purchase snapshot.
//
// ID and Seq are zero until the receipt is recorded in a store.
type Receipt struct {
	ID            string           `json:"id,omitempty"`
	Seq           int64            `json:"seq,omitempty"`
	TransactionID string           `json:"transaction_id"`
	State         TransactionState `json:"state"`
	Offers        []ReceiptOffer   `json:"offers"`
}

// Clone returns a deep copy so callers cannot mutate stored receipts.
func (r Receipt) Clone() Receipt {
	out := r
	out.Offers = make([]ReceiptOffer, len(r.Offers))
	for i, o := range r.Offers {
		out.Offers[i] = o
		out.Offers[i].LineItems = append([]LineItem{}, o.LineItems...)
	}
	return out
}

// LineItemCount returns the number of line items across all offers.
func (r Receipt) LineItemCount() int {
	n := 0
	for _, o := range r.Offers {
		n += len(o.LineItems)
	}
	return n
}

// Outcome is what a native backend reports for one completion: either a raw
// backend response code that still has to be mapped, or a state the backend
// already mapped itself.
type Outcome struct {
	code      int
	state     TransactionState
	premapped bool
}

// ResponseCode wraps a backend response code.
func ResponseCode(code int) Outcome {
	return Outcome{code: code}
}

// MappedState wraps a state the backend already derived.
func MappedState(state TransactionState) Outcome {
	return Outcome{state: state, premapped: true}
}

// Code returns the raw response code and false when the outcome is premapped.
func (o Outcome) Code() (int, bool) {
	return o.code, !o.premapped
}

// Resolve returns the outcome's state, running mapper for raw codes.
func (o Outcome) Resolve(mapper func(code int) TransactionState) TransactionState {
	if o.premapped {
		return o.state
	}
	return mapper(o.code)
}
