// Package backend adapts vendor billing SDKs to the engine.
//
// Each backend has two halves. The capability half (GooglePlay, StoreKit)
// implements engine.Backend on top of a native SDK surface and maps the
// vendor's response codes. The adapter half (HandleGooglePlayPurchase,
// HandleStoreKitTransaction and the batch variants) turns raw native
// callbacks into TransactionData and hands them to a CompletionSink, which
// in production is the engine's event queue.
//
// Outbox implements both native SDK surfaces as a queue of commands that a
// remote device runtime drains over HTTP.
package backend
