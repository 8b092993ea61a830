package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/iapsync/internal/purchase"
)

func newPending(offerIDs ...string) *PendingTransaction {
	p := NewPendingTransaction("co-1", "alice", request(offerIDs...), nil)
	p.MarkProcessing()
	return p
}

func TestPendingTransaction_InitialStates(t *testing.T) {
	p := NewPendingTransaction("co-1", "alice", request("a", "b"), nil)

	s, ok := p.OfferState("a")
	require.True(t, ok)
	assert.Equal(t, purchase.StateNotStarted, s)
	assert.Equal(t, purchase.StateNotStarted, p.OverallState())

	p.MarkProcessing()
	s, _ = p.OfferState("b")
	assert.Equal(t, purchase.StateProcessing, s)
	assert.Equal(t, purchase.StateProcessing, p.OverallState())
	assert.False(t, p.AreAllOffersComplete())
}

func TestPendingTransaction_RequestedOffersIsACopy(t *testing.T) {
	p := newPending("a")
	offers := p.RequestedOffers()
	offers[0].OfferID = "mutated"

	assert.Equal(t, "a", p.RequestedOffers()[0].OfferID)
}

func TestPendingTransaction_AddCompletedOffer(t *testing.T) {
	p := newPending("a", "b")

	assert.True(t, p.AddCompletedOffer(purchase.StatePurchased, completion("a", "t1")))
	assert.False(t, p.AreAllOffersComplete())
	assert.Equal(t, "t1", p.TransactionID())

	assert.True(t, p.AddCompletedOffer(purchase.StatePurchased, completion("b", "t2")))
	assert.True(t, p.AreAllOffersComplete())
	assert.Equal(t, "t1", p.TransactionID(), "first transaction id wins")
	assert.Equal(t, purchase.StatePurchased, p.GetFinalTransactionState())
}

func TestPendingTransaction_AddCompletedOffer_Unmatched(t *testing.T) {
	p := newPending("a")

	assert.False(t, p.AddCompletedOffer(purchase.StatePurchased, completion("zzz", "t1")))
	s, _ := p.OfferState("a")
	assert.Equal(t, purchase.StateProcessing, s, "unmatched completion records nothing")
	assert.False(t, p.HasOffer("zzz"))

	p.ForceFailed(purchase.KindUnmatchedOffer)
	assert.True(t, p.AreAllOffersComplete())
	assert.Equal(t, purchase.StateFailed, p.GetFinalTransactionState())
	assert.True(t, purchase.IsKind(p.finalError(purchase.StateFailed), purchase.KindUnmatchedOffer))
}

func TestPendingTransaction_ForceFailedKeepsResolvedOffers(t *testing.T) {
	p := newPending("a", "b")
	p.AddCompletedOffer(purchase.StatePurchased, completion("a", "t1"))

	p.ForceFailed(purchase.KindBackendFailure)
	p.ForceFailed(purchase.KindUnmatchedOffer)

	a, _ := p.OfferState("a")
	b, _ := p.OfferState("b")
	assert.Equal(t, purchase.StatePurchased, a)
	assert.Equal(t, purchase.StateFailed, b)
	assert.True(t, purchase.IsKind(p.finalError(purchase.StateFailed), purchase.KindBackendFailure), "first reason kept")
}

func TestPendingTransaction_FinalStatePrecedence(t *testing.T) {
	S := purchase.StatePurchased
	tests := []struct {
		name   string
		states []purchase.TransactionState
		want   purchase.TransactionState
	}{
		{"all purchased", []purchase.TransactionState{S, S}, purchase.StatePurchased},
		{"failed poisons success", []purchase.TransactionState{S, purchase.StateFailed}, purchase.StateFailed},
		{"failed beats canceled", []purchase.TransactionState{purchase.StateCanceled, purchase.StateFailed}, purchase.StateFailed},
		{"canceled beats purchased", []purchase.TransactionState{S, purchase.StateCanceled}, purchase.StateCanceled},
		{"invalid beats canceled", []purchase.TransactionState{purchase.StateInvalid, purchase.StateCanceled}, purchase.StateInvalid},
		{"not allowed beats deferred", []purchase.TransactionState{purchase.StateNotAllowed, purchase.StateDeferred}, purchase.StateNotAllowed},
		{"failed beats deferred", []purchase.TransactionState{purchase.StateDeferred, purchase.StateFailed}, purchase.StateFailed},
		{"deferred beats canceled", []purchase.TransactionState{purchase.StateDeferred, purchase.StateCanceled}, purchase.StateDeferred},
		{"all restored", []purchase.TransactionState{purchase.StateRestored, purchase.StateRestored}, purchase.StateRestored},
		{"restored and purchased", []purchase.TransactionState{purchase.StateRestored, S}, purchase.StatePurchased},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids := []string{"a", "b"}
			forward := newPending(ids...)
			backward := newPending(ids...)
			for i, s := range tt.states {
				forward.AddCompletedOffer(s, completion(ids[i], "t"))
			}
			for i := len(tt.states) - 1; i >= 0; i-- {
				backward.AddCompletedOffer(tt.states[i], completion(ids[i], "t"))
			}
			assert.Equal(t, tt.want, forward.GetFinalTransactionState())
			assert.Equal(t, tt.want, backward.GetFinalTransactionState(), "order independent")
		})
	}
}

func TestPendingTransaction_DeferredSettlesEarly(t *testing.T) {
	p := newPending("a", "b")
	p.AddCompletedOffer(purchase.StateDeferred, completion("a", "t1"))

	assert.False(t, p.AreAllOffersComplete())
	assert.Equal(t, purchase.StateDeferred, p.OverallState())
}

func TestPendingTransaction_FailureOutranksDeferred(t *testing.T) {
	p := newPending("a", "b", "c")
	p.AddCompletedOffer(purchase.StateFailed, completion("a", "t1"))
	p.AddCompletedOffer(purchase.StateDeferred, completion("b", "t2"))

	assert.Equal(t, purchase.StateProcessing, p.OverallState(), "waits for the remaining offer")

	p.AddCompletedOffer(purchase.StatePurchased, completion("c", "t3"))
	assert.Equal(t, purchase.StateFailed, p.OverallState())

	both := newPending("a", "b")
	both.AddCompletedOffer(purchase.StateDeferred, completion("a", "t1"))
	both.AddCompletedOffer(purchase.StateFailed, completion("b", "t2"))
	assert.Equal(t, purchase.StateFailed, both.OverallState())
}

func TestPendingTransaction_CallbackFiresOnce(t *testing.T) {
	res := &checkoutResult{}
	p := NewPendingTransaction("co-1", "alice", request("a"), res.callback())

	p.complete(nil, purchase.Receipt{State: purchase.StatePurchased})
	p.complete(purchase.ErrNotAllowed, purchase.Receipt{})

	assert.Equal(t, 1, res.fired)
	assert.NoError(t, res.err)
}

func TestPendingTransaction_FinalErrorByState(t *testing.T) {
	p := newPending("a")

	assert.NoError(t, p.finalError(purchase.StatePurchased))
	assert.Equal(t, purchase.CodeUserCancelled, purchase.ResultOf(p.finalError(purchase.StateCanceled)).ErrorCode)
	assert.Equal(t, purchase.CodeDeferred, purchase.ResultOf(p.finalError(purchase.StateDeferred)).ErrorCode)

	p.noteFailure(purchase.KindMalformedCompletion)
	err := p.finalError(purchase.StateFailed)
	assert.True(t, purchase.IsKind(err, purchase.KindMalformedCompletion))
	assert.Equal(t, purchase.CodeFailure, purchase.ResultOf(err).ErrorCode)
}
