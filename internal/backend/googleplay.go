package backend

import (
	"github.com/roach88/iapsync/internal/purchase"
)

// Google Play Billing response codes.
const (
	GooglePlayServiceTimeout      = -3
	GooglePlayFeatureNotSupported = -2
	GooglePlayServiceDisconnected = -1
	GooglePlayOk                  = 0
	GooglePlayUserCancelled       = 1
	GooglePlayServiceUnavailable  = 2
	GooglePlayBillingUnavailable  = 3
	GooglePlayItemUnavailable     = 4
	GooglePlayDeveloperError      = 5
	GooglePlayError               = 6
	GooglePlayItemAlreadyOwned    = 7
	GooglePlayItemNotOwned        = 8
	GooglePlayNetworkError        = 12
)

// MapGooglePlayCode maps a billing response code to a transaction state.
// Unknown codes map to Failed.
func MapGooglePlayCode(code int) purchase.TransactionState {
	switch code {
	case GooglePlayOk:
		return purchase.StatePurchased
	case GooglePlayUserCancelled:
		return purchase.StateCanceled
	case GooglePlayItemAlreadyOwned, GooglePlayItemNotOwned:
		return purchase.StateInvalid
	default:
		return purchase.StateFailed
	}
}

// GooglePlayBilling is the native Play Billing surface.
type GooglePlayBilling interface {
	LaunchBillingFlow(productID string) bool
	ConsumePurchase(purchaseToken string)
	QueryPurchases() bool
	RestorePurchases(productIDs []string, consumable []bool) bool
	IsBillingSupported() bool
}

// GooglePlay is the response-code backend. A billing flow carries a single
// product, so checkouts are limited to one offer.
type GooglePlay struct {
	sdk GooglePlayBilling
}

// NewGooglePlay creates the backend. A nil sdk refuses every call.
func NewGooglePlay(sdk GooglePlayBilling) *GooglePlay {
	return &GooglePlay{sdk: sdk}
}

func (g *GooglePlay) Name() string { return NameGooglePlay }

func (g *GooglePlay) MapResponseCode(code int) purchase.TransactionState {
	return MapGooglePlayCode(code)
}

func (g *GooglePlay) MaxOffersPerCheckout() int { return 1 }

func (g *GooglePlay) BeginPurchase(offerID string) bool {
	return g.sdk != nil && g.sdk.LaunchBillingFlow(offerID)
}

func (g *GooglePlay) ConsumePurchase(transactionID string) {
	if g.sdk != nil {
		g.sdk.ConsumePurchase(transactionID)
	}
}

func (g *GooglePlay) QueryExistingPurchases() bool {
	return g.sdk != nil && g.sdk.QueryPurchases()
}

func (g *GooglePlay) RestorePurchases(offerIDs []string, consumable []bool) bool {
	return g.sdk != nil && g.sdk.RestorePurchases(offerIDs, consumable)
}

func (g *GooglePlay) IsAllowedToPurchase() bool {
	return g.sdk != nil && g.sdk.IsBillingSupported()
}

// GooglePlayPurchase is one purchase as reported by Play Billing.
// PurchaseToken is the transaction id used for consumption.
type GooglePlayPurchase struct {
	ProductID     string `json:"product_id" yaml:"product_id"`
	PurchaseToken string `json:"purchase_token" yaml:"purchase_token"`
	OriginalJSON  string `json:"original_json,omitempty" yaml:"original_json,omitempty"`
	Signature     string `json:"signature,omitempty" yaml:"signature,omitempty"`
	DebugMessage  string `json:"debug_message,omitempty" yaml:"debug_message,omitempty"`
}

// TransactionData converts the purchase for the engine. The debug message
// becomes the error text; a non-Ok code without one gets the mapped state.
func (p GooglePlayPurchase) TransactionData(responseCode int) purchase.TransactionData {
	data := purchase.TransactionData{
		OfferID:       p.ProductID,
		TransactionID: p.PurchaseToken,
		ReceiptBlob:   p.OriginalJSON,
		Signature:     p.Signature,
		ErrorText:     p.DebugMessage,
	}
	if responseCode != GooglePlayOk && data.ErrorText == "" {
		data.ErrorText = "billing response " + MapGooglePlayCode(responseCode).String()
	}
	return data
}

// HandleGooglePlayPurchase forwards an onPurchasesUpdated callback.
func HandleGooglePlayPurchase(sink CompletionSink, responseCode int, p GooglePlayPurchase) error {
	return sink.OnNativeCompletion(purchase.ResponseCode(responseCode), p.TransactionData(responseCode))
}

// HandleGooglePlayQuery forwards a queryPurchases result. restore selects
// which batch the purchases answer.
func HandleGooglePlayQuery(sink CompletionSink, responseCode int, purchases []GooglePlayPurchase, restore bool) error {
	txs := make([]purchase.TransactionData, 0, len(purchases))
	for _, p := range purchases {
		// The batch code says whether the query went through, not whether
		// each listed purchase is good.
		txs = append(txs, p.TransactionData(GooglePlayOk))
	}
	outcome := purchase.ResponseCode(responseCode)
	if restore {
		return sink.OnRestoreTransactionsComplete(outcome, txs)
	}
	return sink.OnQueryExistingPurchasesComplete(outcome, txs)
}
