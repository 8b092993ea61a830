package engine

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/roach88/iapsync/internal/purchase"
)

// fakeBackend is a scripted Backend. Response codes follow the Play
// Billing shape: 0 ok, 1 cancel, 7 already owned, anything else failure.
type fakeBackend struct {
	mu          sync.Mutex
	maxOffers   int
	allowed     bool
	rejectBegin map[string]bool
	rejectQuery bool
	calls       []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{allowed: true, rejectBegin: make(map[string]bool)}
}

func (b *fakeBackend) record(call string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, call)
}

func (b *fakeBackend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string{}, b.calls...)
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) MapResponseCode(code int) purchase.TransactionState {
	switch code {
	case 0:
		return purchase.StatePurchased
	case 1:
		return purchase.StateCanceled
	case 7:
		return purchase.StateInvalid
	default:
		return purchase.StateFailed
	}
}

func (b *fakeBackend) MaxOffersPerCheckout() int { return b.maxOffers }

func (b *fakeBackend) BeginPurchase(offerID string) bool {
	b.record("begin:" + offerID)
	return !b.rejectBegin[offerID]
}

func (b *fakeBackend) ConsumePurchase(transactionID string) {
	b.record("consume:" + transactionID)
}

func (b *fakeBackend) QueryExistingPurchases() bool {
	b.record("query")
	return !b.rejectQuery
}

func (b *fakeBackend) RestorePurchases(offerIDs []string, consumable []bool) bool {
	b.record(fmt.Sprintf("restore:%d", len(offerIDs)))
	return !b.rejectQuery
}

func (b *fakeBackend) IsAllowedToPurchase() bool {
	b.record("allowed")
	return b.allowed
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// checkoutResult captures checkout callbacks.
type checkoutResult struct {
	fired   int
	err     error
	receipt purchase.Receipt
}

func (c *checkoutResult) callback() CheckoutCallback {
	return func(err error, receipt purchase.Receipt) {
		c.fired++
		c.err = err
		c.receipt = receipt
	}
}

func newTestReconciler(b Backend) (*Reconciler, *MemoryStore) {
	store := NewMemoryStore()
	r := NewReconciler(b, store,
		WithLogger(discardLogger()),
		WithIDGenerator(NewFixedGenerator("co")),
	)
	return r, store
}

func request(offerIDs ...string) purchase.CheckoutRequest {
	req := purchase.CheckoutRequest{}
	for _, id := range offerIDs {
		req.Offers = append(req.Offers, purchase.OfferRequest{Namespace: "game", OfferID: id, Quantity: 1})
	}
	return req
}

func completion(offerID, transactionID string) purchase.TransactionData {
	return purchase.TransactionData{
		OfferID:       offerID,
		TransactionID: transactionID,
		ReceiptBlob:   "blob-" + transactionID,
	}
}

func offerIDs(r purchase.Receipt) []string {
	ids := make([]string, len(r.Offers))
	for i, o := range r.Offers {
		ids[i] = o.OfferID
	}
	return ids
}
