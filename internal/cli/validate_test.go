package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runValidateCommand(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "iapsync.cue")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestValidateValidConfig(t *testing.T) {
	path := writeConfig(t, `
backend: "storekit"
restore_offers: [{id: "premium"}, {id: "coins", consumable: true}]
`)

	out, err := runValidateCommand(t, "text", path)
	require.NoError(t, err)
	assert.Contains(t, out, "valid")
	assert.Contains(t, out, "backend:          storekit")
	assert.Contains(t, out, "checkout_wait:    10s")
	assert.Contains(t, out, "coins (consumable)")
}

func TestValidateValidConfigJSON(t *testing.T) {
	path := writeConfig(t, `checkout_wait: "250ms"`)

	out, err := runValidateCommand(t, "json", path)
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	require.NotNil(t, resp.Data.Config)
	assert.Equal(t, "googleplay", resp.Data.Config.Backend)
	assert.Equal(t, "250ms", resp.Data.Config.CheckoutWait)
	assert.Equal(t, 1024, resp.Data.Config.OutboxCapacity)
}

func TestValidateInvalidConfig(t *testing.T) {
	path := writeConfig(t, `backend: "amazon"`)

	out, err := runValidateCommand(t, "text", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Validation failed")
}

func TestValidateUnknownFieldJSON(t *testing.T) {
	path := writeConfig(t, "listen: \":8080\"\nlisten_port: 8080\n")

	out, err := runValidateCommand(t, "json", path)
	require.Error(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_CONFIG", resp.Error.Code)
}

func TestValidateMissingFile(t *testing.T) {
	_, err := runValidateCommand(t, "text", filepath.Join(t.TempDir(), "none.cue"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
