package engine

import (
	"context"
	"sync"

	"github.com/roach88/iapsync/internal/purchase"
)

// ReceiptStore is the append-only history of finalized receipts.
//
// Completed receipts come from in-process checkouts and are kept per user.
// Offline receipts were discovered through restore, query or unattributed
// completions and form one global sequence. AppendOffline returns false when
// a receipt with the same non-empty transaction id and state is already
// recorded.
type ReceiptStore interface {
	AppendCompleted(ctx context.Context, user purchase.UserKey, r purchase.Receipt) error
	AppendOffline(ctx context.Context, r purchase.Receipt) (bool, error)
	CompletedReceipts(ctx context.Context, user purchase.UserKey) ([]purchase.Receipt, error)
	OfflineReceipts(ctx context.Context) ([]purchase.Receipt, error)
	LastSeq(ctx context.Context) (int64, error)
}

// MemoryStore is an in-memory ReceiptStore used by tests and the harness.
//
// Thread-safety: all methods are safe for concurrent use so tests can read
// while an engine goroutine writes.
type MemoryStore struct {
	mu        sync.Mutex
	completed map[purchase.UserKey][]purchase.Receipt
	offline   []purchase.Receipt
	seen      map[offlineKey]bool
	lastSeq   int64
}

type offlineKey struct {
	transactionID string
	state         purchase.TransactionState
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		completed: make(map[purchase.UserKey][]purchase.Receipt),
		seen:      make(map[offlineKey]bool),
	}
}

// AppendCompleted implements ReceiptStore.
func (m *MemoryStore) AppendCompleted(_ context.Context, user purchase.UserKey, r purchase.Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed[user] = append(m.completed[user], r.Clone())
	m.bumpSeq(r.Seq)
	return nil
}

// AppendOffline implements ReceiptStore.
func (m *MemoryStore) AppendOffline(_ context.Context, r purchase.Receipt) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.TransactionID != "" {
		key := offlineKey{transactionID: r.TransactionID, state: r.State}
		if m.seen[key] {
			return false, nil
		}
		m.seen[key] = true
	}
	m.offline = append(m.offline, r.Clone())
	m.bumpSeq(r.Seq)
	return true, nil
}

// CompletedReceipts implements ReceiptStore.
func (m *MemoryStore) CompletedReceipts(_ context.Context, user purchase.UserKey) ([]purchase.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneReceipts(m.completed[user]), nil
}

// OfflineReceipts implements ReceiptStore.
func (m *MemoryStore) OfflineReceipts(_ context.Context) ([]purchase.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneReceipts(m.offline), nil
}

// LastSeq implements ReceiptStore.
func (m *MemoryStore) LastSeq(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSeq, nil
}

func (m *MemoryStore) bumpSeq(seq int64) {
	if seq > m.lastSeq {
		m.lastSeq = seq
	}
}

func cloneReceipts(in []purchase.Receipt) []purchase.Receipt {
	out := make([]purchase.Receipt, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}
