package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/iapsync/internal/backend"
)

const minimalScenario = `
name: minimal
description: one checkout
backend: googleplay
steps:
  - checkout:
      user: alice
      offers:
        - { namespace: game, offer_id: gems, quantity: 1 }
assertions:
  - type: pending
    count: 1
`

func TestLoadScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minimal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalScenario), 0o644))

	s, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "minimal", s.Name)
	assert.Equal(t, backend.NameGooglePlay, s.Backend)
	require.Len(t, s.Steps, 1)
	require.NotNil(t, s.Steps[0].Checkout)
	assert.Equal(t, "alice", s.Steps[0].Checkout.User)
	assert.Equal(t, "gems", s.Steps[0].Checkout.Offers[0].OfferID)
	assert.Equal(t, 1, s.Steps[0].Checkout.Offers[0].Quantity)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "failed to read scenario file")
}

func TestParseScenario_StoreKitStates(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: sk
description: storekit state names decode
backend: storekit
steps:
  - complete:
      storekit: { product_id: premium, transaction_id: t-1, state: restored }
assertions:
  - type: pending
`))
	require.NoError(t, err)
	assert.Equal(t, backend.SKRestored, s.Steps[0].Complete.StoreKit.State)
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "unknown field",
			yaml:    "name: x\ndescription: d\nbackend: googleplay\nstep: []\n",
			wantErr: "failed to parse YAML",
		},
		{
			name:    "missing name",
			yaml:    "description: d\nbackend: googleplay\nsteps: [{finalize: {transaction_id: t}}]\nassertions: [{type: pending}]\n",
			wantErr: "name is required",
		},
		{
			name:    "unknown backend",
			yaml:    "name: x\ndescription: d\nbackend: amazon\nsteps: [{finalize: {transaction_id: t}}]\nassertions: [{type: pending}]\n",
			wantErr: `unknown backend "amazon"`,
		},
		{
			name:    "no steps",
			yaml:    "name: x\ndescription: d\nbackend: googleplay\nassertions: [{type: pending}]\n",
			wantErr: "steps list is required",
		},
		{
			name:    "two actions in one step",
			yaml:    "name: x\ndescription: d\nbackend: googleplay\nsteps: [{finalize: {transaction_id: t}, query: {user: a}}]\nassertions: [{type: pending}]\n",
			wantErr: "multiple actions",
		},
		{
			name:    "expect on finalize",
			yaml:    "name: x\ndescription: d\nbackend: googleplay\nsteps: [{finalize: {transaction_id: t}, expect: {pending: true}}]\nassertions: [{type: pending}]\n",
			wantErr: "expect is only valid",
		},
		{
			name:    "storekit completion in googleplay scenario",
			yaml:    "name: x\ndescription: d\nbackend: googleplay\nsteps: [{complete: {storekit: {product_id: p, state: purchased}}}]\nassertions: [{type: pending}]\n",
			wantErr: "storekit completion in a googleplay scenario",
		},
		{
			name:    "unknown state",
			yaml:    "name: x\ndescription: d\nbackend: googleplay\nsteps: [{finalize: {transaction_id: t}}]\nassertions: [{type: receipt_state, state: Bought}]\n",
			wantErr: "unknown transaction state",
		},
		{
			name:    "error_code step out of range",
			yaml:    "name: x\ndescription: d\nbackend: googleplay\nsteps: [{finalize: {transaction_id: t}}]\nassertions: [{type: error_code, step: 3}]\n",
			wantErr: "out of range",
		},
		{
			name:    "unknown assertion",
			yaml:    "name: x\ndescription: d\nbackend: googleplay\nsteps: [{finalize: {transaction_id: t}}]\nassertions: [{type: trace_order}]\n",
			wantErr: `unknown assertion type "trace_order"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestScenarioFiles_AllLoad(t *testing.T) {
	files, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, f := range files {
		_, err := LoadScenario(f)
		assert.NoError(t, err, f)
	}
}
