package purchase

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionState_IsResolved(t *testing.T) {
	assert.False(t, StateNotStarted.IsResolved())
	assert.False(t, StateProcessing.IsResolved())

	for _, s := range []TransactionState{
		StatePurchased, StateFailed, StateDeferred, StateCanceled,
		StateRestored, StateNotAllowed, StateInvalid,
	} {
		assert.True(t, s.IsResolved(), "%s should be resolved", s)
	}
}

func TestTransactionState_IsSuccess(t *testing.T) {
	assert.True(t, StatePurchased.IsSuccess())
	assert.True(t, StateRestored.IsSuccess())
	assert.False(t, StateDeferred.IsSuccess())
	assert.False(t, StateCanceled.IsSuccess())
}

func TestParseState_RoundTripsEveryName(t *testing.T) {
	for i := range stateNames {
		s := TransactionState(i)
		got, err := ParseState(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
}

func TestParseState_Unknown(t *testing.T) {
	_, err := ParseState("Refunded")
	assert.Error(t, err)
}

func TestTransactionState_StringOutOfRange(t *testing.T) {
	assert.Equal(t, "TransactionState(42)", TransactionState(42).String())
}

func TestTransactionState_JSON(t *testing.T) {
	data, err := json.Marshal(Receipt{TransactionID: "tx", State: StateCanceled, Offers: []ReceiptOffer{}})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":"Canceled"`)

	var r Receipt
	require.NoError(t, json.Unmarshal(data, &r))
	assert.Equal(t, StateCanceled, r.State)
}
