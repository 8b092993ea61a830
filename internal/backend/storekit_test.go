package backend

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/iapsync/internal/purchase"
	"github.com/roach88/iapsync/internal/testutil"
)

func TestMapStoreKitCode(t *testing.T) {
	assert.Equal(t, purchase.StateCanceled, MapStoreKitCode(SKErrorPaymentCancelled))
	assert.Equal(t, purchase.StateNotAllowed, MapStoreKitCode(SKErrorPaymentNotAllowed))
	assert.Equal(t, purchase.StateFailed, MapStoreKitCode(SKErrorUnknown))
	assert.Equal(t, purchase.StateFailed, MapStoreKitCode(SKErrorStoreProductNotAvailable))
	assert.Equal(t, purchase.StateFailed, MapStoreKitCode(1234))
}

func TestStoreKit_Capabilities(t *testing.T) {
	native := testutil.NewScriptedNative()
	s := NewStoreKit(native)

	assert.Equal(t, NameStoreKit, s.Name())
	assert.Equal(t, 0, s.MaxOffersPerCheckout())
	assert.True(t, s.BeginPurchase("a"))
	assert.True(t, s.BeginPurchase("b"))
	s.ConsumePurchase("1000")
	assert.True(t, s.QueryExistingPurchases())
	assert.True(t, s.RestorePurchases([]string{"a", "b"}, nil))

	assert.Equal(t, []string{"begin:a", "begin:b", "consume:1000", "query", "restore:2"}, native.CallStrings())

	native.SetAllowed(false)
	assert.False(t, s.IsAllowedToPurchase())
}

func TestStoreKitTransaction_Outcome(t *testing.T) {
	tests := []struct {
		name  string
		tx    StoreKitTransaction
		want  purchase.TransactionState
		route bool
	}{
		{"purchasing ignored", StoreKitTransaction{State: SKPurchasing}, purchase.StateNotStarted, false},
		{"purchased", StoreKitTransaction{State: SKPurchased}, purchase.StatePurchased, true},
		{"restored", StoreKitTransaction{State: SKRestored}, purchase.StateRestored, true},
		{"deferred", StoreKitTransaction{State: SKDeferred}, purchase.StateDeferred, true},
		{"failed cancelled", StoreKitTransaction{State: SKFailed, ErrorCode: SKErrorPaymentCancelled}, purchase.StateCanceled, true},
		{"failed not allowed", StoreKitTransaction{State: SKFailed, ErrorCode: SKErrorPaymentNotAllowed}, purchase.StateNotAllowed, true},
		{"failed other", StoreKitTransaction{State: SKFailed, ErrorCode: SKErrorPaymentInvalid}, purchase.StateFailed, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome, ok, err := tt.tx.Outcome()
			require.NoError(t, err)
			assert.Equal(t, tt.route, ok)
			if ok {
				assert.Equal(t, tt.want, outcome.Resolve(MapStoreKitCode))
			}
		})
	}

	_, _, err := StoreKitTransaction{State: SKTransactionState(42)}.Outcome()
	assert.Error(t, err)
}

func TestHandleStoreKitTransaction(t *testing.T) {
	sink := &recordingSink{}

	require.NoError(t, HandleStoreKitTransaction(sink, StoreKitTransaction{ProductID: "a", State: SKPurchasing}))
	assert.Empty(t, sink.calls)

	require.NoError(t, HandleStoreKitTransaction(sink, StoreKitTransaction{
		ProductID:     "a",
		TransactionID: "1000",
		State:         SKPurchased,
		ReceiptData:   "TUlJ",
	}))
	require.NoError(t, HandleStoreKitTransaction(sink, StoreKitTransaction{
		ProductID:        "b",
		State:            SKFailed,
		ErrorCode:        SKErrorPaymentCancelled,
		ErrorDescription: "cancelled",
	}))

	require.Len(t, sink.calls, 2)
	assert.Equal(t, "TUlJ", sink.calls[0].txs[0].ReceiptBlob)
	assert.Empty(t, sink.calls[0].txs[0].ErrorText)
	assert.Equal(t, "cancelled", sink.calls[1].txs[0].ErrorText)
	assert.Equal(t, purchase.StateCanceled, sink.calls[1].outcome.Resolve(MapStoreKitCode))
}

func TestHandleStoreKitBatch(t *testing.T) {
	sink := &recordingSink{}

	require.NoError(t, HandleStoreKitBatch(sink, StoreKitBatch{
		Restore: true,
		Transactions: []StoreKitTransaction{
			{ProductID: "a", TransactionID: "1", State: SKRestored},
			{ProductID: "b", State: SKPurchasing},
			{ProductID: "c", TransactionID: "3", State: SKFailed, ErrorCode: SKErrorUnknown},
		},
	}))
	require.NoError(t, HandleStoreKitBatch(sink, StoreKitBatch{Failed: true, ErrorCode: SKErrorPaymentCancelled}))

	require.Len(t, sink.calls, 2)
	assert.Equal(t, "restore", sink.calls[0].kind)
	require.Len(t, sink.calls[0].txs, 2)
	assert.Equal(t, "storekit error 0", sink.calls[0].txs[1].ErrorText)
	assert.Equal(t, purchase.StatePurchased, sink.calls[0].outcome.Resolve(MapStoreKitCode))

	assert.Equal(t, "query", sink.calls[1].kind)
	assert.Equal(t, purchase.StateCanceled, sink.calls[1].outcome.Resolve(MapStoreKitCode))
}

func TestSKTransactionState_JSON(t *testing.T) {
	var tx StoreKitTransaction
	require.NoError(t, json.Unmarshal([]byte(`{"product_id":"a","transaction_id":"1","state":"deferred"}`), &tx))
	assert.Equal(t, SKDeferred, tx.State)

	err := json.Unmarshal([]byte(`{"state":"bogus"}`), &tx)
	assert.Error(t, err)
}
