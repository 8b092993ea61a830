// Package engine implements the iapsync purchase reconciliation core.
//
// ARCHITECTURE:
//
// Single-Consumer Event Loop:
// Native billing callbacks arrive on foreign goroutines (a JNI thread, a
// StoreKit dispatch queue, an HTTP handler). The Engine marshals each of them
// into an Event and Run applies events one at a time to the Reconciler.
// Nothing else touches the registry or the receipt store.
//
// Event Processing Flow:
//  1. Checkout creates a PendingTransaction, starts the native purchase and
//     registers it (at most one per user)
//  2. OnNativeCompletion routes the completion to its pending transaction and
//     records the offer outcome
//  3. Once every offer is resolved the receipt is generated, appended to the
//     completed history, the registry entry is removed and the callback fires
//  4. Completions nobody is waiting for, and query/restore batches, go to the
//     offline history
//
// Deferred (parental approval) settles the checkout immediately without
// recording anything; the eventual approval arrives as an offline completion.
//
// Receipts are stamped with a monotonic seq from Clock.Next(), never a
// wall-clock timestamp.
package engine
