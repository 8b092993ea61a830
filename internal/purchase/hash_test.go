package purchase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReceiptID_Deterministic(t *testing.T) {
	r := Receipt{TransactionID: "tx", State: StateFailed, Offers: []ReceiptOffer{{OfferID: "a", Quantity: 1}}}

	id1, err := ReceiptID(SourceCompleted, "u1", 3, r)
	require.NoError(t, err)
	id2, err := ReceiptID(SourceCompleted, "u1", 3, r)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.Len(t, id1, 64)
}

func TestReceiptID_DistinguishesInputs(t *testing.T) {
	r := Receipt{TransactionID: "tx", State: StateFailed, Offers: []ReceiptOffer{}}
	base := MustReceiptID(SourceCompleted, "u1", 1, r)

	assert.NotEqual(t, base, MustReceiptID(SourceOffline, "u1", 1, r))
	assert.NotEqual(t, base, MustReceiptID(SourceCompleted, "u2", 1, r))
	assert.NotEqual(t, base, MustReceiptID(SourceCompleted, "u1", 2, r))

	r.State = StatePurchased
	assert.NotEqual(t, base, MustReceiptID(SourceCompleted, "u1", 1, r))
}

func TestReceipt_CloneIsDeep(t *testing.T) {
	r := Receipt{Offers: []ReceiptOffer{{OfferID: "a", LineItems: []LineItem{{ItemName: "a"}}}}}
	c := r.Clone()
	c.Offers[0].LineItems[0].ItemName = "changed"
	c.Offers[0].OfferID = "b"

	assert.Equal(t, "a", r.Offers[0].LineItems[0].ItemName)
	assert.Equal(t, "a", r.Offers[0].OfferID)
	assert.Equal(t, 1, r.LineItemCount())
}

func TestOutcome_Resolve(t *testing.T) {
	mapper := func(code int) TransactionState {
		if code == 0 {
			return StatePurchased
		}
		return StateFailed
	}

	code, raw := ResponseCode(0).Code()
	assert.True(t, raw)
	assert.Equal(t, 0, code)
	assert.Equal(t, StatePurchased, ResponseCode(0).Resolve(mapper))
	assert.Equal(t, StateFailed, ResponseCode(9).Resolve(mapper))

	_, raw = MappedState(StateDeferred).Code()
	assert.False(t, raw)
	assert.Equal(t, StateDeferred, MappedState(StateDeferred).Resolve(mapper))
}
