package engine

import (
	"sort"

	"github.com/roach88/iapsync/internal/purchase"
)

// Registry holds the live pending transactions, at most one per user.
//
// Not safe for concurrent use; only the engine goroutine touches it.
type Registry struct {
	entries map[purchase.UserKey]*PendingTransaction
	next    int64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[purchase.UserKey]*PendingTransaction)}
}

// Insert registers p for its user. Fails with purchase.ErrConcurrentCheckout
// when the user already has a live entry; the registry is unchanged then.
func (r *Registry) Insert(p *PendingTransaction) error {
	if _, exists := r.entries[p.User]; exists {
		return purchase.ErrConcurrentCheckout
	}
	r.next++
	p.created = r.next
	r.entries[p.User] = p
	return nil
}

// Get returns the live entry for user.
func (r *Registry) Get(user purchase.UserKey) (*PendingTransaction, bool) {
	p, ok := r.entries[user]
	return p, ok
}

// Has reports whether user has a live entry.
func (r *Registry) Has(user purchase.UserKey) bool {
	_, ok := r.entries[user]
	return ok
}

// Remove deletes p from the registry. It only removes the exact entry
// passed in, so a stale pointer cannot evict a newer checkout.
func (r *Registry) Remove(p *PendingTransaction) bool {
	cur, ok := r.entries[p.User]
	if !ok || cur != p {
		return false
	}
	delete(r.entries, p.User)
	return true
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	return len(r.entries)
}

// All returns the live entries oldest first.
func (r *Registry) All() []*PendingTransaction {
	out := make([]*PendingTransaction, 0, len(r.entries))
	for _, p := range r.entries {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].created < out[j].created })
	return out
}

// Route picks the pending transaction a native completion for offerID
// belongs to: the oldest entry still waiting on that offer, else the oldest
// entry that requested it, else the only entry when exactly one is live.
// Returns nil when the completion cannot be attributed and must be treated
// as offline.
func (r *Registry) Route(offerID string) *PendingTransaction {
	all := r.All()
	if offerID != "" {
		var settled *PendingTransaction
		for _, p := range all {
			s, ok := p.OfferState(offerID)
			if !ok {
				continue
			}
			if !s.IsResolved() {
				return p
			}
			if settled == nil {
				settled = p
			}
		}
		if settled != nil {
			return settled
		}
	}
	if len(all) == 1 {
		return all[0]
	}
	return nil
}
