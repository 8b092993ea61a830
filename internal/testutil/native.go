package testutil

import (
	"fmt"
	"sync"
)

// NativeCall is one call recorded by ScriptedNative, e.g. "begin:gems".
type NativeCall string

// ScriptedNative is a fake native SDK for tests. It implements both the
// Play Billing and StoreKit surfaces, records every call in order and
// answers with scripted results.
//
// By default every call is accepted and purchases are allowed.
//
// Thread-safety: safe for concurrent use via internal mutex.
type ScriptedNative struct {
	mu          sync.Mutex
	calls       []NativeCall
	allowed     bool
	rejectBegin map[string]bool
	rejectQuery bool
}

// NewScriptedNative creates a native that accepts everything.
func NewScriptedNative() *ScriptedNative {
	return &ScriptedNative{allowed: true, rejectBegin: make(map[string]bool)}
}

// SetAllowed scripts the answer to IsBillingSupported / CanMakePayments.
func (n *ScriptedNative) SetAllowed(allowed bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.allowed = allowed
}

// RejectBegin makes the native layer refuse purchases of offerID.
func (n *ScriptedNative) RejectBegin(offerID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rejectBegin[offerID] = true
}

// RejectQueries makes query and restore calls fail to start.
func (n *ScriptedNative) RejectQueries(reject bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rejectQuery = reject
}

// Calls returns the recorded calls in order.
func (n *ScriptedNative) Calls() []NativeCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]NativeCall{}, n.calls...)
}

// CallStrings returns the recorded calls as plain strings.
func (n *ScriptedNative) CallStrings() []string {
	calls := n.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = string(c)
	}
	return out
}

// Reset clears the recorded calls.
func (n *ScriptedNative) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = nil
}

func (n *ScriptedNative) record(format string, args ...any) {
	n.calls = append(n.calls, NativeCall(fmt.Sprintf(format, args...)))
}

func (n *ScriptedNative) begin(offerID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.record("begin:%s", offerID)
	return !n.rejectBegin[offerID]
}

func (n *ScriptedNative) consume(transactionID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.record("consume:%s", transactionID)
}

func (n *ScriptedNative) query() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.record("query")
	return !n.rejectQuery
}

func (n *ScriptedNative) restore(productIDs []string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.record("restore:%d", len(productIDs))
	return !n.rejectQuery
}

func (n *ScriptedNative) isAllowed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.allowed
}

func (n *ScriptedNative) LaunchBillingFlow(productID string) bool { return n.begin(productID) }

func (n *ScriptedNative) ConsumePurchase(purchaseToken string) { n.consume(purchaseToken) }

func (n *ScriptedNative) QueryPurchases() bool { return n.query() }

func (n *ScriptedNative) RestorePurchases(productIDs []string, _ []bool) bool {
	return n.restore(productIDs)
}

func (n *ScriptedNative) IsBillingSupported() bool { return n.isAllowed() }

func (n *ScriptedNative) AddPayment(productID string) bool { return n.begin(productID) }

func (n *ScriptedNative) FinishTransaction(transactionID string) { n.consume(transactionID) }

func (n *ScriptedNative) RefreshReceipt() bool { return n.query() }

func (n *ScriptedNative) RestoreCompletedTransactions(productIDs []string) bool {
	return n.restore(productIDs)
}

func (n *ScriptedNative) CanMakePayments() bool { return n.isAllowed() }
