package backend

import (
	"fmt"

	"github.com/roach88/iapsync/internal/engine"
	"github.com/roach88/iapsync/internal/purchase"
)

// Backend names accepted by New and the configuration file.
const (
	NameGooglePlay = "googleplay"
	NameStoreKit   = "storekit"
)

// CompletionSink receives normalized native callbacks. engine.Engine
// implements it; tests use a recording sink.
type CompletionSink interface {
	OnNativeCompletion(outcome purchase.Outcome, data purchase.TransactionData) error
	OnQueryExistingPurchasesComplete(outcome purchase.Outcome, txs []purchase.TransactionData) error
	OnRestoreTransactionsComplete(outcome purchase.Outcome, txs []purchase.TransactionData) error
}

// Native is the union of both native SDK surfaces.
type Native interface {
	GooglePlayBilling
	StoreKitQueue
}

var (
	_ engine.Backend = (*GooglePlay)(nil)
	_ engine.Backend = (*StoreKit)(nil)
	_ Native         = (*Outbox)(nil)
	_ CompletionSink = (*engine.Engine)(nil)
)

// New builds the named backend on top of native.
func New(name string, native Native) (engine.Backend, error) {
	switch name {
	case NameGooglePlay:
		return NewGooglePlay(native), nil
	case NameStoreKit:
		return NewStoreKit(native), nil
	default:
		return nil, fmt.Errorf("unknown backend %q (want %q or %q)", name, NameGooglePlay, NameStoreKit)
	}
}
