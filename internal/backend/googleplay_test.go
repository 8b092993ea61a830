package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/iapsync/internal/purchase"
	"github.com/roach88/iapsync/internal/testutil"
)

func TestMapGooglePlayCode(t *testing.T) {
	tests := []struct {
		name string
		code int
		want purchase.TransactionState
	}{
		{"ok", GooglePlayOk, purchase.StatePurchased},
		{"user cancelled", GooglePlayUserCancelled, purchase.StateCanceled},
		{"already owned", GooglePlayItemAlreadyOwned, purchase.StateInvalid},
		{"not owned", GooglePlayItemNotOwned, purchase.StateInvalid},
		{"service unavailable", GooglePlayServiceUnavailable, purchase.StateFailed},
		{"billing unavailable", GooglePlayBillingUnavailable, purchase.StateFailed},
		{"item unavailable", GooglePlayItemUnavailable, purchase.StateFailed},
		{"developer error", GooglePlayDeveloperError, purchase.StateFailed},
		{"error", GooglePlayError, purchase.StateFailed},
		{"disconnected", GooglePlayServiceDisconnected, purchase.StateFailed},
		{"feature not supported", GooglePlayFeatureNotSupported, purchase.StateFailed},
		{"timeout", GooglePlayServiceTimeout, purchase.StateFailed},
		{"network", GooglePlayNetworkError, purchase.StateFailed},
		{"unknown future code", 99, purchase.StateFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MapGooglePlayCode(tt.code))
		})
	}
}

func TestGooglePlay_Capabilities(t *testing.T) {
	native := testutil.NewScriptedNative()
	g := NewGooglePlay(native)

	assert.Equal(t, NameGooglePlay, g.Name())
	assert.Equal(t, 1, g.MaxOffersPerCheckout())
	assert.True(t, g.IsAllowedToPurchase())
	assert.True(t, g.BeginPurchase("gems"))
	g.ConsumePurchase("tok")
	assert.True(t, g.QueryExistingPurchases())
	assert.True(t, g.RestorePurchases([]string{"a"}, []bool{true}))

	assert.Equal(t, []string{"begin:gems", "consume:tok", "query", "restore:1"}, native.CallStrings())
}

func TestGooglePlay_NilSDKFailsClosed(t *testing.T) {
	g := NewGooglePlay(nil)

	assert.False(t, g.IsAllowedToPurchase())
	assert.False(t, g.BeginPurchase("gems"))
	assert.False(t, g.QueryExistingPurchases())
	assert.False(t, g.RestorePurchases(nil, nil))
	g.ConsumePurchase("tok")
}

func TestHandleGooglePlayPurchase(t *testing.T) {
	sink := &recordingSink{}
	p := GooglePlayPurchase{
		ProductID:     "gems",
		PurchaseToken: "tok-1",
		OriginalJSON:  `{"orderId":"GPA.1"}`,
		Signature:     "sig",
	}

	require.NoError(t, HandleGooglePlayPurchase(sink, GooglePlayOk, p))
	require.Len(t, sink.calls, 1)

	call := sink.calls[0]
	assert.Equal(t, "completion", call.kind)
	assert.Equal(t, purchase.StatePurchased, call.outcome.Resolve(MapGooglePlayCode))
	assert.Equal(t, "gems", call.txs[0].OfferID)
	assert.Equal(t, "tok-1", call.txs[0].TransactionID)
	assert.Equal(t, "sig", call.txs[0].Signature)
	assert.Empty(t, call.txs[0].ErrorText)
}

func TestHandleGooglePlayPurchase_ErrorCodeSetsErrorText(t *testing.T) {
	sink := &recordingSink{}

	require.NoError(t, HandleGooglePlayPurchase(sink, GooglePlayUserCancelled, GooglePlayPurchase{ProductID: "gems"}))

	call := sink.calls[0]
	code, raw := call.outcome.Code()
	assert.True(t, raw)
	assert.Equal(t, GooglePlayUserCancelled, code)
	assert.Equal(t, "billing response Canceled", call.txs[0].ErrorText)
}

func TestHandleGooglePlayQuery_RoutesByRestoreFlag(t *testing.T) {
	sink := &recordingSink{}
	purchases := []GooglePlayPurchase{
		{ProductID: "a", PurchaseToken: "t1"},
		{ProductID: "b", PurchaseToken: "t2", DebugMessage: "pending"},
	}

	require.NoError(t, HandleGooglePlayQuery(sink, GooglePlayOk, purchases, false))
	require.NoError(t, HandleGooglePlayQuery(sink, GooglePlayOk, purchases, true))

	require.Len(t, sink.calls, 2)
	assert.Equal(t, "query", sink.calls[0].kind)
	assert.Equal(t, "restore", sink.calls[1].kind)
	require.Len(t, sink.calls[0].txs, 2)
	assert.Empty(t, sink.calls[0].txs[0].ErrorText)
	assert.Equal(t, "pending", sink.calls[0].txs[1].ErrorText)
}
