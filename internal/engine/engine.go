package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/iapsync/internal/purchase"
)

// Engine is the single-consumer event loop around a Reconciler.
//
// Native callbacks and API handlers arrive on arbitrary goroutines. Every
// public method only enqueues; Run is the one goroutine that touches the
// Reconciler, so registry and store mutations are serialized without locks.
//
// Thread-safety model:
//   - all methods except Run: safe from any goroutine
//   - Run(): must be called from exactly one goroutine
//   - callbacks fire on the Run goroutine and must not block on the Engine
type Engine struct {
	rec    *Reconciler
	queue  *eventQueue
	logger *slog.Logger
}

// New creates an Engine driving backend and recording into store.
func New(backend Backend, store ReceiptStore, opts ...Option) *Engine {
	rec := NewReconciler(backend, store, opts...)
	return &Engine{
		rec:    rec,
		queue:  newEventQueue(),
		logger: rec.logger,
	}
}

// Enqueue submits an event for processing by the Run loop.
// Returns false if the engine has been stopped.
func (e *Engine) Enqueue(ev Event) bool {
	return e.queue.Enqueue(ev)
}

// QueueLen returns the number of events waiting.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// Run starts the event loop. Blocks until ctx is cancelled or Stop() is
// called and the queue has drained.
//
// A failing event is logged and processing continues; nothing an event does
// can stop the loop.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting", "backend", e.rec.backend.Name())

	for {
		event, ok := e.queue.TryDequeue()
		if ok {
			if err := e.processEvent(ctx, event); err != nil {
				e.logEventError(event, err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel is closed with the queue, so this fires
			// repeatedly once stopped; exit when nothing is left.
			if e.queue.Closed() && e.queue.Len() == 0 {
				e.logger.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue. Run drains what is already queued, then returns.
func (e *Engine) Stop() {
	e.queue.Close()
}

func (e *Engine) processEvent(ctx context.Context, event Event) (err error) {
	if event.Apply == nil {
		return fmt.Errorf("%s event missing handler", event.Type)
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%s event panicked: %v", event.Type, p)
		}
	}()
	return event.Apply(ctx, e.rec)
}

func (e *Engine) logEventError(event Event, err error) {
	e.logger.Error("event processing failed",
		"event_type", event.Type.String(),
		"queue_len", e.queue.Len(),
		"error", err,
	)
}

func (e *Engine) submit(t EventType, apply func(ctx context.Context, r *Reconciler) error) error {
	if !e.queue.Enqueue(Event{Type: t, Apply: apply}) {
		return ErrStopped
	}
	return nil
}

// Checkout queues a checkout. cb fires on the engine goroutine.
func (e *Engine) Checkout(user purchase.UserKey, req purchase.CheckoutRequest, cb CheckoutCallback) error {
	return e.submit(EventTypeCheckout, func(ctx context.Context, r *Reconciler) error {
		r.Checkout(ctx, user, req, cb)
		return nil
	})
}

// FinalizePurchase queues a consume of transactionID.
func (e *Engine) FinalizePurchase(user purchase.UserKey, transactionID string) error {
	return e.submit(EventTypeFinalize, func(ctx context.Context, r *Reconciler) error {
		r.FinalizePurchase(ctx, user, transactionID)
		return nil
	})
}

// QueryReceipts queues a query (restore=false) or restore (restore=true).
func (e *Engine) QueryReceipts(user purchase.UserKey, restore bool, cb QueryCallback) error {
	return e.submit(EventTypeQuery, func(ctx context.Context, r *Reconciler) error {
		r.QueryReceipts(ctx, user, restore, cb)
		return nil
	})
}

// OnNativeCompletion queues one native purchase completion.
func (e *Engine) OnNativeCompletion(outcome purchase.Outcome, data purchase.TransactionData) error {
	return e.submit(EventTypeNativeCompletion, func(ctx context.Context, r *Reconciler) error {
		return r.OnNativeCompletion(ctx, outcome, data)
	})
}

// OnQueryExistingPurchasesComplete queues a query batch.
func (e *Engine) OnQueryExistingPurchasesComplete(outcome purchase.Outcome, txs []purchase.TransactionData) error {
	txs = append([]purchase.TransactionData{}, txs...)
	return e.submit(EventTypeQueryComplete, func(ctx context.Context, r *Reconciler) error {
		return r.OnQueryExistingPurchasesComplete(ctx, outcome, txs)
	})
}

// OnRestoreTransactionsComplete queues a restore batch.
func (e *Engine) OnRestoreTransactionsComplete(outcome purchase.Outcome, txs []purchase.TransactionData) error {
	txs = append([]purchase.TransactionData{}, txs...)
	return e.submit(EventTypeRestoreComplete, func(ctx context.Context, r *Reconciler) error {
		return r.OnRestoreTransactionsComplete(ctx, outcome, txs)
	})
}

// RunOnEngineThread queues fn to run on the engine goroutine.
func (e *Engine) RunOnEngineThread(fn func(ctx context.Context, r *Reconciler)) error {
	return e.submit(EventTypeCall, func(ctx context.Context, r *Reconciler) error {
		fn(ctx, r)
		return nil
	})
}

// GetReceipts returns the user's receipts, waiting for the engine goroutine.
func (e *Engine) GetReceipts(ctx context.Context, user purchase.UserKey) ([]purchase.Receipt, error) {
	type reply struct {
		receipts []purchase.Receipt
		err      error
	}
	ch := make(chan reply, 1)
	err := e.submit(EventTypeCall, func(ctx context.Context, r *Reconciler) error {
		receipts, err := r.GetReceipts(ctx, user)
		ch <- reply{receipts: receipts, err: err}
		return nil
	})
	if err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case rep := <-ch:
		return rep.receipts, rep.err
	}
}

// IsAllowedToPurchase asks the native layer on the engine goroutine.
func (e *Engine) IsAllowedToPurchase(ctx context.Context, user purchase.UserKey) (bool, error) {
	ch := make(chan bool, 1)
	err := e.submit(EventTypeCall, func(_ context.Context, r *Reconciler) error {
		ch <- r.IsAllowedToPurchase(user)
		return nil
	})
	if err != nil {
		return false, err
	}
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case allowed := <-ch:
		return allowed, nil
	}
}

// PendingCount returns the number of live pending transactions.
func (e *Engine) PendingCount(ctx context.Context) (int, error) {
	ch := make(chan int, 1)
	err := e.submit(EventTypeCall, func(_ context.Context, r *Reconciler) error {
		ch <- r.PendingCount()
		return nil
	})
	if err != nil {
		return 0, err
	}
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case n := <-ch:
		return n, nil
	}
}
