// Package httpapi exposes the engine over HTTP: a caller API for checkouts
// and receipts, and a native bridge through which the device runtime drains
// queued SDK commands and reports billing callbacks.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/roach88/iapsync/internal/backend"
	"github.com/roach88/iapsync/internal/engine"
	"github.com/roach88/iapsync/internal/purchase"
)

// DefaultCheckoutWait is used when Options.CheckoutWait is zero.
const DefaultCheckoutWait = 10 * time.Second

// Engine is the part of *engine.Engine the HTTP surface drives.
type Engine interface {
	backend.CompletionSink
	Checkout(user purchase.UserKey, req purchase.CheckoutRequest, cb engine.CheckoutCallback) error
	FinalizePurchase(user purchase.UserKey, transactionID string) error
	QueryReceipts(user purchase.UserKey, restore bool, cb engine.QueryCallback) error
	GetReceipts(ctx context.Context, user purchase.UserKey) ([]purchase.Receipt, error)
	IsAllowedToPurchase(ctx context.Context, user purchase.UserKey) (bool, error)
	PendingCount(ctx context.Context) (int, error)
}

// Options configures a Server.
type Options struct {
	// Backend is the configured backend name; native batch payloads are
	// decoded in its format.
	Backend string
	// Outbox serves GET /native/commands. Nil disables the endpoint.
	Outbox *backend.Outbox
	// CheckoutWait bounds how long checkout and query requests wait for
	// their callback before answering 202.
	CheckoutWait time.Duration
	// Metrics is mounted at GET /metrics when set.
	Metrics http.Handler
	Logger  *slog.Logger
}

// Server is the gin HTTP surface.
type Server struct {
	engine  Engine
	outbox  *backend.Outbox
	backend string
	wait    time.Duration
	logger  *slog.Logger
	router  *gin.Engine
}

// New builds the router.
func New(eng Engine, opts Options) *Server {
	s := &Server{
		engine:  eng,
		outbox:  opts.Outbox,
		backend: opts.Backend,
		wait:    opts.CheckoutWait,
		logger:  opts.Logger,
	}
	if s.wait <= 0 {
		s.wait = DefaultCheckoutWait
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger))
	s.routes(r, opts.Metrics)
	s.router = r
	return s
}

func (s *Server) routes(r *gin.Engine, metrics http.Handler) {
	v1 := r.Group("/v1")
	{
		v1.POST("/checkout", s.checkout)
		v1.POST("/purchases/:transaction_id/finalize", s.finalize)
		v1.POST("/receipts/query", s.queryReceipts)
		v1.GET("/receipts", s.receipts)
		v1.GET("/allowed", s.allowed)
	}

	native := r.Group("/native")
	{
		native.GET("/commands", s.commands)
		native.POST("/googleplay/purchase", s.googlePlayPurchase)
		native.POST("/storekit/transaction", s.storeKitTransaction)
		native.POST("/query-complete", s.batchComplete(false))
		native.POST("/restore-complete", s.batchComplete(true))
	}

	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}

	r.GET("/health", s.health)
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("http.listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		s.logger.Info("http.stopped")
		return nil
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http.request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func (s *Server) health(c *gin.Context) {
	pending, err := s.engine.PendingCount(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unavailable",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "iapsync",
		"backend": s.backend,
		"pending": pending,
	})
}

// badRequest answers a malformed request body or query.
func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"message": "Invalid request format: " + err.Error(),
	})
}

// engineUnavailable answers when the engine refused an event.
func engineUnavailable(c *gin.Context, err error) {
	c.JSON(http.StatusServiceUnavailable, gin.H{
		"success": false,
		"message": err.Error(),
	})
}
