// Package config loads the iapsync configuration.
//
// Values come from, lowest precedence first: the defaults in the embedded
// CUE schema, a CUE config file, IAPSYNC_* environment variables (optionally
// loaded from a .env file) and finally command-line flags, which the CLI
// applies directly to the struct.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"github.com/joho/godotenv"
)

//go:embed schema.cue
var schemaCUE string

// EnvPrefix prefixes every environment override.
const EnvPrefix = "IAPSYNC_"

// Config is the resolved configuration.
type Config struct {
	Backend        string
	Database       string
	Listen         string
	Metrics        bool
	AllowPurchases bool
	CheckoutWait   time.Duration
	LogLevel       string
	OutboxCapacity int
	RestoreOffers  []RestoreOffer
}

// RestoreOffer is an offer handed to the native restore call.
type RestoreOffer struct {
	ID         string
	Consumable bool
}

// Error is a configuration error with source position.
type Error struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Default returns the schema defaults.
func Default() Config {
	cfg, err := Parse("defaults.cue", nil)
	if err != nil {
		// The embedded schema is fixed at build time.
		panic(fmt.Sprintf("config: invalid embedded schema: %v", err))
	}
	return cfg
}

// Load reads a CUE config file. An empty path yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(path, data)
}

// Parse validates data against the schema and resolves defaults. filename
// is only used in error positions.
func Parse(filename string, data []byte) (Config, error) {
	ctx := cuecontext.New()
	def, err := schema(ctx)
	if err != nil {
		return Config{}, err
	}

	file := ctx.CompileBytes(data, cue.Filename(filename))
	if err := file.Err(); err != nil {
		return Config{}, formatCUEError(err)
	}

	v := def.Unify(file)
	if err := v.Validate(); err != nil {
		return Config{}, formatCUEError(err)
	}
	return decode(v)
}

func schema(ctx *cue.Context) (cue.Value, error) {
	s := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := s.Err(); err != nil {
		return cue.Value{}, formatCUEError(err)
	}
	return s.LookupPath(cue.ParsePath("#Config")), nil
}

func decode(v cue.Value) (Config, error) {
	var cfg Config
	var err error

	if cfg.Backend, err = stringField(v, "backend"); err != nil {
		return Config{}, err
	}
	if cfg.Database, err = stringField(v, "database"); err != nil {
		return Config{}, err
	}
	if cfg.Listen, err = stringField(v, "listen"); err != nil {
		return Config{}, err
	}
	if cfg.LogLevel, err = stringField(v, "log_level"); err != nil {
		return Config{}, err
	}
	if cfg.Metrics, err = boolField(v, "metrics"); err != nil {
		return Config{}, err
	}
	if cfg.AllowPurchases, err = boolField(v, "allow_purchases"); err != nil {
		return Config{}, err
	}

	wait, err := stringField(v, "checkout_wait")
	if err != nil {
		return Config{}, err
	}
	if cfg.CheckoutWait, err = time.ParseDuration(wait); err != nil {
		return Config{}, &Error{Field: "checkout_wait", Message: err.Error(), Pos: v.LookupPath(cue.ParsePath("checkout_wait")).Pos()}
	}

	capacity, err := field(v, "outbox_capacity").Int64()
	if err != nil {
		return Config{}, fieldError("outbox_capacity", v, err)
	}
	cfg.OutboxCapacity = int(capacity)

	offers, err := field(v, "restore_offers").List()
	if err != nil {
		return Config{}, fieldError("restore_offers", v, err)
	}
	for offers.Next() {
		item := offers.Value()
		id, err := stringField(item, "id")
		if err != nil {
			return Config{}, err
		}
		consumable, err := boolField(item, "consumable")
		if err != nil {
			return Config{}, err
		}
		cfg.RestoreOffers = append(cfg.RestoreOffers, RestoreOffer{ID: id, Consumable: consumable})
	}

	return cfg, nil
}

// field looks up name and resolves its default.
func field(v cue.Value, name string) cue.Value {
	f := v.LookupPath(cue.ParsePath(name))
	if d, ok := f.Default(); ok {
		return d
	}
	return f
}

func stringField(v cue.Value, name string) (string, error) {
	s, err := field(v, name).String()
	if err != nil {
		return "", fieldError(name, v, err)
	}
	return s, nil
}

func boolField(v cue.Value, name string) (bool, error) {
	b, err := field(v, name).Bool()
	if err != nil {
		return false, fieldError(name, v, err)
	}
	return b, nil
}

func fieldError(name string, v cue.Value, err error) error {
	return &Error{
		Field:   name,
		Message: err.Error(),
		Pos:     v.LookupPath(cue.ParsePath(name)).Pos(),
	}
}

// Validate checks a resolved config, including env and flag overrides,
// against the schema.
func (c Config) Validate() error {
	ctx := cuecontext.New()
	def, err := schema(ctx)
	if err != nil {
		return err
	}

	offers := make([]map[string]any, len(c.RestoreOffers))
	for i, o := range c.RestoreOffers {
		offers[i] = map[string]any{"id": o.ID, "consumable": o.Consumable}
	}
	v := def.Unify(ctx.Encode(map[string]any{
		"backend":         c.Backend,
		"database":        c.Database,
		"listen":          c.Listen,
		"metrics":         c.Metrics,
		"allow_purchases": c.AllowPurchases,
		"checkout_wait":   formatWait(c.CheckoutWait),
		"log_level":       c.LogLevel,
		"outbox_capacity": c.OutboxCapacity,
		"restore_offers":  offers,
	}))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return formatCUEError(err)
	}
	return nil
}

// formatWait renders a duration in the schema's checkout_wait syntax.
func formatWait(d time.Duration) string {
	if d > 0 && d%time.Second == 0 {
		return strconv.FormatInt(int64(d/time.Second), 10) + "s"
	}
	return strconv.FormatInt(d.Milliseconds(), 10) + "ms"
}

// LoadDotEnv loads KEY=value pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays IAPSYNC_* variables. lookup is os.LookupEnv in
// production.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvPrefix + "BACKEND"); ok {
		c.Backend = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvPrefix + "DATABASE"); ok {
		c.Database = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvPrefix + "LISTEN"); ok {
		c.Listen = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvPrefix + "LOG_LEVEL"); ok {
		c.LogLevel = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := lookup(EnvPrefix + "ALLOW_PURCHASES"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return &Error{Field: EnvPrefix + "ALLOW_PURCHASES", Message: err.Error()}
		}
		c.AllowPurchases = b
	}
	if v, ok := lookup(EnvPrefix + "METRICS"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return &Error{Field: EnvPrefix + "METRICS", Message: err.Error()}
		}
		c.Metrics = b
	}
	if v, ok := lookup(EnvPrefix + "CHECKOUT_WAIT"); ok {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return &Error{Field: EnvPrefix + "CHECKOUT_WAIT", Message: err.Error()}
		}
		c.CheckoutWait = d
	}
	return nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	msg := first.Error()
	field := "cue"
	if path := first.Path(); len(path) > 0 {
		field = strings.Join(path, ".")
	}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		return &Error{Field: field, Message: msg, Pos: positions[0]}
	}
	return &Error{Field: field, Message: msg}
}
