// Package purchase provides the value types shared by the reconciliation
// engine, its backends and its stores.
//
// This package contains types and pure helpers only. All other internal
// packages import purchase; purchase imports nothing internal.
//
// Key design constraints:
//   - Receipts are immutable snapshots; Clone before handing one out
//   - TransactionState is a closed enum, unknown names fail to parse
//   - All JSON tags use snake_case
//   - Receipt ordering uses logical seq numbers, never wall-clock time
package purchase
