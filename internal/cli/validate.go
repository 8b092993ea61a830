package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/iapsync/internal/config"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
}

// ValidationResult is the JSON payload of the validate command.
type ValidationResult struct {
	Valid  bool            `json:"valid"`
	Config *ResolvedConfig `json:"config,omitempty"`
	Error  *ConfigIssue    `json:"error,omitempty"`
}

// ResolvedConfig is a config after defaults are applied.
type ResolvedConfig struct {
	Backend        string   `json:"backend"`
	Database       string   `json:"database"`
	Listen         string   `json:"listen"`
	Metrics        bool     `json:"metrics"`
	AllowPurchases bool     `json:"allow_purchases"`
	CheckoutWait   string   `json:"checkout_wait"`
	LogLevel       string   `json:"log_level"`
	OutboxCapacity int      `json:"outbox_capacity"`
	RestoreOffers  []string `json:"restore_offers"`
}

// ConfigIssue locates a config error.
type ConfigIssue struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <config.cue>",
		Short: "Validate a CUE config file",
		Long: `Validate a config file against the iapsync schema and print the
resolved values, defaults included.

Exit codes:
  0 - Config is valid
  1 - Config does not satisfy the schema
  2 - Command error (file not found, etc.)

Example:
  iapsync validate ./iapsync.cue
  iapsync validate ./iapsync.cue --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *ValidateOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewExitError(ExitCommandError, fmt.Sprintf("config file not found: %s", path))
		}
		return WrapExitError(ExitCommandError, "failed to read config", err)
	}
	formatter.VerboseLog("validating %s", path)

	cfg, err := config.Parse(path, data)
	if err != nil {
		return outputValidateError(formatter, err)
	}

	resolved := toResolved(cfg)
	return formatter.Emit(ValidationResult{Valid: true, Config: resolved}, func(w io.Writer) error {
		return outputResolvedText(w, path, resolved)
	})
}

func outputResolvedText(w io.Writer, path string, resolved *ResolvedConfig) error {
	fmt.Fprintf(w, "✓ %s valid\n", path)
	fmt.Fprintf(w, "  backend:          %s\n", resolved.Backend)
	fmt.Fprintf(w, "  database:         %s\n", resolved.Database)
	fmt.Fprintf(w, "  listen:           %s\n", resolved.Listen)
	fmt.Fprintf(w, "  metrics:          %t\n", resolved.Metrics)
	fmt.Fprintf(w, "  allow_purchases:  %t\n", resolved.AllowPurchases)
	fmt.Fprintf(w, "  checkout_wait:    %s\n", resolved.CheckoutWait)
	fmt.Fprintf(w, "  log_level:        %s\n", resolved.LogLevel)
	fmt.Fprintf(w, "  outbox_capacity:  %d\n", resolved.OutboxCapacity)
	fmt.Fprintf(w, "  restore_offers:   %v\n", resolved.RestoreOffers)
	return nil
}

func toResolved(cfg config.Config) *ResolvedConfig {
	offers := make([]string, len(cfg.RestoreOffers))
	for i, o := range cfg.RestoreOffers {
		offers[i] = o.ID
		if o.Consumable {
			offers[i] += " (consumable)"
		}
	}
	return &ResolvedConfig{
		Backend:        cfg.Backend,
		Database:       cfg.Database,
		Listen:         cfg.Listen,
		Metrics:        cfg.Metrics,
		AllowPurchases: cfg.AllowPurchases,
		CheckoutWait:   cfg.CheckoutWait.String(),
		LogLevel:       cfg.LogLevel,
		OutboxCapacity: cfg.OutboxCapacity,
		RestoreOffers:  offers,
	}
}

// outputValidateError reports a schema violation. Validation failures exit 1.
func outputValidateError(formatter *OutputFormatter, err error) error {
	issue := &ConfigIssue{Message: err.Error()}
	var cfgErr *config.Error
	if errors.As(err, &cfgErr) {
		issue.Field = cfgErr.Field
		issue.Message = cfgErr.Message
		if cfgErr.Pos.IsValid() {
			issue.Line = cfgErr.Pos.Line()
			issue.Column = cfgErr.Pos.Column()
		}
	}

	if formatter.Format == "json" {
		_ = formatter.Error("E_CONFIG", issue.Message, ValidationResult{Valid: false, Error: issue})
	} else {
		fmt.Fprintln(formatter.Writer, "✗ Validation failed")
		if issue.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d, column %d\n", issue.Line, issue.Column)
		}
		if issue.Field != "" {
			fmt.Fprintf(formatter.Writer, "  %s: %s\n", issue.Field, issue.Message)
		} else {
			fmt.Fprintf(formatter.Writer, "  %s\n", issue.Message)
		}
	}
	return WrapExitError(ExitFailure, "validation failed", err)
}
