// Package store provides SQLite-backed durable storage for receipt history.
//
// Two append-only sequences share one table:
//   - completed: receipts produced by an in-process checkout, per user
//   - offline: receipts discovered through restore, query or unattributed
//     completions, one global sequence
//
// Rows are content addressed (purchase.ReceiptID) and written with
// ON CONFLICT DO NOTHING, so re-recording the same receipt is a no-op. An
// offline receipt with a transaction id also carries a dedupe key of
// (transaction id, state), which turns a repeated native notification into a
// no-op too.
//
// All reads use ORDER BY seq ASC, id ASC COLLATE BINARY.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON
package store
