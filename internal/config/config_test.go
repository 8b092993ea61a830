package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "googleplay", cfg.Backend)
	assert.Equal(t, "iapsync.db", cfg.Database)
	assert.Equal(t, ":8080", cfg.Listen)
	assert.True(t, cfg.Metrics)
	assert.True(t, cfg.AllowPurchases)
	assert.Equal(t, 10*time.Second, cfg.CheckoutWait)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 1024, cfg.OutboxCapacity)
	assert.Empty(t, cfg.RestoreOffers)
	require.NoError(t, cfg.Validate())
}

func TestParse(t *testing.T) {
	src := `
backend:         "storekit"
database:        "/tmp/receipts.db"
allow_purchases: false
checkout_wait:   "250ms"
log_level:       "debug"
outbox_capacity: 16
restore_offers: [
	{id: "premium"},
	{id: "coins", consumable: true},
]
`
	cfg, err := Parse("iapsync.cue", []byte(src))
	require.NoError(t, err)

	assert.Equal(t, "storekit", cfg.Backend)
	assert.Equal(t, "/tmp/receipts.db", cfg.Database)
	assert.False(t, cfg.AllowPurchases)
	assert.Equal(t, 250*time.Millisecond, cfg.CheckoutWait)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 16, cfg.OutboxCapacity)
	assert.Equal(t, []RestoreOffer{
		{ID: "premium", Consumable: false},
		{ID: "coins", Consumable: true},
	}, cfg.RestoreOffers)

	// Untouched fields keep their defaults.
	assert.Equal(t, ":8080", cfg.Listen)
	assert.True(t, cfg.Metrics)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unknown backend", `backend: "amazon"`},
		{"unknown field", `color: "blue"`},
		{"bad wait", `checkout_wait: "soon"`},
		{"zero capacity", `outbox_capacity: 0`},
		{"empty offer id", `restore_offers: [{id: ""}]`},
		{"syntax", `backend: `},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("bad.cue", []byte(tt.src))
			require.Error(t, err)

			var cfgErr *Error
			assert.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "iapsync.cue")
	require.NoError(t, os.WriteFile(path, []byte(`listen: "127.0.0.1:9000"`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Listen)

	_, err = Load(filepath.Join(t.TempDir(), "missing.cue"))
	assert.Error(t, err)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestError_Format(t *testing.T) {
	_, err := Parse("iapsync.cue", []byte("log_level: \"loud\"\n"))
	require.Error(t, err)

	var cfgErr *Error
	require.ErrorAs(t, err, &cfgErr)
	if cfgErr.Pos.IsValid() {
		assert.Contains(t, err.Error(), ".cue:")
	}

	plain := &Error{Field: "backend", Message: "unknown"}
	assert.Equal(t, "backend: unknown", plain.Error())
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"IAPSYNC_BACKEND":         "storekit",
		"IAPSYNC_DATABASE":        "/data/r.db",
		"IAPSYNC_LISTEN":          ":9090",
		"IAPSYNC_LOG_LEVEL":       "WARN",
		"IAPSYNC_ALLOW_PURCHASES": "false",
		"IAPSYNC_METRICS":         "0",
		"IAPSYNC_CHECKOUT_WAIT":   "2s",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(lookup))

	assert.Equal(t, "storekit", cfg.Backend)
	assert.Equal(t, "/data/r.db", cfg.Database)
	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.False(t, cfg.AllowPurchases)
	assert.False(t, cfg.Metrics)
	assert.Equal(t, 2*time.Second, cfg.CheckoutWait)
	require.NoError(t, cfg.Validate())
}

func TestApplyEnv_Invalid(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(func(k string) (string, bool) {
		if k == "IAPSYNC_ALLOW_PURCHASES" {
			return "maybe", true
		}
		return "", false
	})

	var cfgErr *Error
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "IAPSYNC_ALLOW_PURCHASES", cfgErr.Field)
}

func TestValidate_RejectsOverrides(t *testing.T) {
	cfg := Default()
	cfg.Backend = "amazon"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.OutboxCapacity = -1
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.CheckoutWait = 1500 * time.Millisecond
	assert.NoError(t, cfg.Validate())
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("IAPSYNC_TEST_DOTENV=from-file\n"), 0o644))

	t.Setenv("IAPSYNC_TEST_DOTENV", "")
	os.Unsetenv("IAPSYNC_TEST_DOTENV")

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv("IAPSYNC_TEST_DOTENV"))

	assert.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env")))
	assert.NoError(t, LoadDotEnv(""))
}
