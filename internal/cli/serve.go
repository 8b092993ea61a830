package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/iapsync/internal/backend"
	"github.com/roach88/iapsync/internal/config"
	"github.com/roach88/iapsync/internal/engine"
	"github.com/roach88/iapsync/internal/httpapi"
	"github.com/roach88/iapsync/internal/store"
	"github.com/roach88/iapsync/internal/telemetry"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	ConfigPath string
	EnvFile    string
	Database   string
	Listen     string
	Backend    string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return newServeCommand(&ServeOptions{RootOptions: rootOpts})
}

func newServeCommand(opts *ServeOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the reconciliation engine and HTTP API",
		Long: `Start the purchase reconciliation engine behind the HTTP API.

Configuration is resolved in order: the CUE config file (or built-in
defaults), the .env file, IAPSYNC_* environment variables, then flags.
The SQLite database is created if it does not exist and the receipt clock
resumes from the highest recorded seq.

Example:
  iapsync serve --config iapsync.cue
  iapsync serve --backend storekit --db ./receipts.db --listen :9090 -v`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to CUE config file")
	cmd.Flags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file loaded before IAPSYNC_* overrides")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.Flags().StringVar(&opts.Listen, "listen", "", "HTTP listen address (overrides config)")
	cmd.Flags().StringVar(&opts.Backend, "backend", "", "googleplay or storekit (overrides config)")

	return cmd
}

// resolveConfig layers the config file, dotenv, environment and flags.
func resolveConfig(opts *ServeOptions, cmd *cobra.Command, lookup func(string) (string, bool)) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	if err := config.LoadDotEnv(opts.EnvFile); err != nil {
		return config.Config{}, err
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.Database = opts.Database
	}
	if flags.Changed("listen") {
		cfg.Listen = opts.Listen
	}
	if flags.Changed("backend") {
		cfg.Backend = opts.Backend
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newLogger(w io.Writer, level string, verbose bool) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	if verbose {
		lvl = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func restorableOffers(offers []config.RestoreOffer) []engine.RestorableOffer {
	out := make([]engine.RestorableOffer, len(offers))
	for i, o := range offers {
		out[i] = engine.RestorableOffer{ID: o.ID, Consumable: o.Consumable}
	}
	return out
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := resolveConfig(opts, cmd, os.LookupEnv)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	logger := newLogger(cmd.ErrOrStderr(), cfg.LogLevel, opts.Verbose)
	slog.SetDefault(logger)

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The meter provider must exist before the engine creates its instruments.
	var metrics http.Handler
	if cfg.Metrics {
		tel, err := telemetry.Setup(ctx, logger)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to set up telemetry", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tel.Shutdown(shutdownCtx)
		}()
		metrics = tel.Handler()
	}

	logger.Info("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	lastSeq, err := st.LastSeq(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read receipt clock", err)
	}
	completed, offline, err := st.Counts(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to count receipts", err)
	}
	logger.Info("database ready", "last_seq", lastSeq, "completed", completed, "offline", offline)

	outbox := backend.NewOutbox(cfg.AllowPurchases)
	outbox.SetCapacity(cfg.OutboxCapacity)
	be, err := backend.New(cfg.Backend, outbox)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create backend", err)
	}

	eng := engine.New(be, st,
		engine.WithLogger(logger),
		engine.WithClock(engine.NewClockAt(lastSeq)),
		engine.WithRestorableOffers(restorableOffers(cfg.RestoreOffers)),
	)
	srv := httpapi.New(eng, httpapi.Options{
		Backend:      cfg.Backend,
		Outbox:       outbox,
		CheckoutWait: cfg.CheckoutWait,
		Metrics:      metrics,
		Logger:       logger,
	})

	fmt.Fprintf(cmd.OutOrStdout(), "iapsync %s backend listening on %s\n", cfg.Backend, cfg.Listen)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.Run(gctx)
	})
	g.Go(func() error {
		err := srv.ListenAndServe(gctx, cfg.Listen)
		if err == nil {
			// Stop the engine even if the server returned on its own.
			return context.Canceled
		}
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "server error", err)
	}

	logger.Info("engine stopped gracefully", "queued", eng.QueueLen())
	return nil
}
