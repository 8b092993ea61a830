package backend

import (
	"fmt"

	"github.com/roach88/iapsync/internal/purchase"
)

// SKPaymentTransactionState values.
type SKTransactionState int

const (
	SKPurchasing SKTransactionState = iota
	SKPurchased
	SKFailed
	SKRestored
	SKDeferred
)

var skStateNames = map[SKTransactionState]string{
	SKPurchasing: "purchasing",
	SKPurchased:  "purchased",
	SKFailed:     "failed",
	SKRestored:   "restored",
	SKDeferred:   "deferred",
}

func (s SKTransactionState) String() string {
	if name, ok := skStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("SKTransactionState(%d)", int(s))
}

// MarshalText encodes the state by name.
func (s SKTransactionState) MarshalText() ([]byte, error) {
	if _, ok := skStateNames[s]; !ok {
		return nil, fmt.Errorf("unknown storekit transaction state %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *SKTransactionState) UnmarshalText(text []byte) error {
	for state, name := range skStateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown storekit transaction state %q", string(text))
}

// SKErrorCode values carried by failed transactions.
const (
	SKErrorUnknown                  = 0
	SKErrorClientInvalid            = 1
	SKErrorPaymentCancelled         = 2
	SKErrorPaymentInvalid           = 3
	SKErrorPaymentNotAllowed        = 4
	SKErrorStoreProductNotAvailable = 5
	SKErrorCloudServicePermission   = 6
	SKErrorCloudServiceNetwork      = 7
	SKErrorCloudServiceRevoked      = 8
)

// MapStoreKitCode maps the error code of a failed transaction. Unknown codes
// map to Failed.
func MapStoreKitCode(code int) purchase.TransactionState {
	switch code {
	case SKErrorPaymentCancelled:
		return purchase.StateCanceled
	case SKErrorPaymentNotAllowed:
		return purchase.StateNotAllowed
	default:
		return purchase.StateFailed
	}
}

// StoreKitQueue is the native SKPaymentQueue surface.
type StoreKitQueue interface {
	AddPayment(productID string) bool
	FinishTransaction(transactionID string)
	RefreshReceipt() bool
	RestoreCompletedTransactions(productIDs []string) bool
	CanMakePayments() bool
}

// StoreKit is the per-transaction-event backend. One checkout may add
// several payments.
type StoreKit struct {
	queue StoreKitQueue
}

// NewStoreKit creates the backend. A nil queue refuses every call.
func NewStoreKit(queue StoreKitQueue) *StoreKit {
	return &StoreKit{queue: queue}
}

func (s *StoreKit) Name() string { return NameStoreKit }

func (s *StoreKit) MapResponseCode(code int) purchase.TransactionState {
	return MapStoreKitCode(code)
}

func (s *StoreKit) MaxOffersPerCheckout() int { return 0 }

func (s *StoreKit) BeginPurchase(offerID string) bool {
	return s.queue != nil && s.queue.AddPayment(offerID)
}

func (s *StoreKit) ConsumePurchase(transactionID string) {
	if s.queue != nil {
		s.queue.FinishTransaction(transactionID)
	}
}

func (s *StoreKit) QueryExistingPurchases() bool {
	return s.queue != nil && s.queue.RefreshReceipt()
}

// RestorePurchases restores completed transactions. StoreKit has no notion
// of consumables at restore time, so the flags are dropped.
func (s *StoreKit) RestorePurchases(offerIDs []string, _ []bool) bool {
	return s.queue != nil && s.queue.RestoreCompletedTransactions(offerIDs)
}

func (s *StoreKit) IsAllowedToPurchase() bool {
	return s.queue != nil && s.queue.CanMakePayments()
}

// StoreKitTransaction is one SKPaymentTransaction update. ReceiptData is the
// base64 App Store receipt.
type StoreKitTransaction struct {
	ProductID        string             `json:"product_id" yaml:"product_id"`
	TransactionID    string             `json:"transaction_id" yaml:"transaction_id"`
	State            SKTransactionState `json:"state" yaml:"state"`
	ReceiptData      string             `json:"receipt_data,omitempty" yaml:"receipt_data,omitempty"`
	ErrorCode        int                `json:"error_code,omitempty" yaml:"error_code,omitempty"`
	ErrorDescription string             `json:"error_description,omitempty" yaml:"error_description,omitempty"`
}

// TransactionData converts the update for the engine.
func (t StoreKitTransaction) TransactionData() purchase.TransactionData {
	data := purchase.TransactionData{
		OfferID:       t.ProductID,
		TransactionID: t.TransactionID,
		ReceiptBlob:   t.ReceiptData,
	}
	if t.State == SKFailed {
		data.ErrorText = t.ErrorDescription
		if data.ErrorText == "" {
			data.ErrorText = fmt.Sprintf("storekit error %d", t.ErrorCode)
		}
	}
	return data
}

// Outcome returns what the update reports. Purchased, Restored and Deferred
// arrive already mapped; Failed carries an error code for the mapper.
// ok is false for Purchasing, which the engine never sees.
func (t StoreKitTransaction) Outcome() (outcome purchase.Outcome, ok bool, err error) {
	switch t.State {
	case SKPurchasing:
		return purchase.Outcome{}, false, nil
	case SKPurchased:
		return purchase.MappedState(purchase.StatePurchased), true, nil
	case SKRestored:
		return purchase.MappedState(purchase.StateRestored), true, nil
	case SKDeferred:
		return purchase.MappedState(purchase.StateDeferred), true, nil
	case SKFailed:
		return purchase.ResponseCode(t.ErrorCode), true, nil
	default:
		return purchase.Outcome{}, false, fmt.Errorf("unknown storekit transaction state %d", int(t.State))
	}
}

// HandleStoreKitTransaction forwards a paymentQueue:updatedTransactions:
// entry.
func HandleStoreKitTransaction(sink CompletionSink, t StoreKitTransaction) error {
	outcome, ok, err := t.Outcome()
	if err != nil || !ok {
		return err
	}
	return sink.OnNativeCompletion(outcome, t.TransactionData())
}

// StoreKitBatch is the end of a receipt refresh or restore. Failed with
// ErrorCode reports that the request itself failed.
type StoreKitBatch struct {
	Restore      bool                  `json:"restore" yaml:"restore"`
	Failed       bool                  `json:"failed,omitempty" yaml:"failed,omitempty"`
	ErrorCode    int                   `json:"error_code,omitempty" yaml:"error_code,omitempty"`
	Transactions []StoreKitTransaction `json:"transactions" yaml:"transactions"`
}

// HandleStoreKitBatch forwards the batch to the matching completion.
func HandleStoreKitBatch(sink CompletionSink, b StoreKitBatch) error {
	txs := make([]purchase.TransactionData, 0, len(b.Transactions))
	for _, t := range b.Transactions {
		if t.State == SKPurchasing {
			continue
		}
		txs = append(txs, t.TransactionData())
	}

	outcome := purchase.MappedState(purchase.StatePurchased)
	if b.Failed {
		outcome = purchase.ResponseCode(b.ErrorCode)
	}
	if b.Restore {
		return sink.OnRestoreTransactionsComplete(outcome, txs)
	}
	return sink.OnQueryExistingPurchasesComplete(outcome, txs)
}
