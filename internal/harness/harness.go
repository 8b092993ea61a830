package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/roach88/iapsync/internal/backend"
	"github.com/roach88/iapsync/internal/engine"
	"github.com/roach88/iapsync/internal/purchase"
	"github.com/roach88/iapsync/internal/store"
	"github.com/roach88/iapsync/internal/testutil"
)

// CheckoutIDPrefix prefixes the deterministic checkout ids of a run.
const CheckoutIDPrefix = "checkout"

// Harness drives one scenario against a reconciler.
type Harness struct {
	store   *store.Store
	rec     *engine.Reconciler
	native  *testutil.ScriptedNative
	sink    backend.CompletionSink
	backend string
	logger  *slog.Logger
	result  *Result
	users   map[purchase.UserKey]bool
}

// reconcilerSink feeds native adapter output straight into the reconciler.
// The harness is the only goroutine, so no event loop is needed.
type reconcilerSink struct {
	ctx context.Context
	rec *engine.Reconciler
}

func (s reconcilerSink) OnNativeCompletion(outcome purchase.Outcome, data purchase.TransactionData) error {
	return s.rec.OnNativeCompletion(s.ctx, outcome, data)
}

func (s reconcilerSink) OnQueryExistingPurchasesComplete(outcome purchase.Outcome, txs []purchase.TransactionData) error {
	return s.rec.OnQueryExistingPurchasesComplete(s.ctx, outcome, txs)
}

func (s reconcilerSink) OnRestoreTransactionsComplete(outcome purchase.Outcome, txs []purchase.TransactionData) error {
	return s.rec.OnRestoreTransactionsComplete(s.ctx, outcome, txs)
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database with deterministic
// checkout ids and a logical clock starting at zero, so receipts and traces
// are reproducible.
//
// Execution flow:
//  1. Create fresh in-memory database and scripted native layer
//  2. Build the backend and reconciler
//  3. Execute steps in order
//  4. Check expect clauses and assertions
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	native := testutil.NewScriptedNative()
	if scenario.Allowed != nil {
		native.SetAllowed(*scenario.Allowed)
	}

	be, err := backend.New(scenario.Backend, native)
	if err != nil {
		return nil, err
	}

	last, err := st.LastSeq(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read last seq: %w", err)
	}

	restore := make([]engine.RestorableOffer, len(scenario.RestoreOffers))
	for i, o := range scenario.RestoreOffers {
		restore[i] = engine.RestorableOffer{ID: o.ID, Consumable: o.Consumable}
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := engine.NewReconciler(be, st,
		engine.WithLogger(logger),
		engine.WithClock(engine.NewClockAt(last)),
		engine.WithIDGenerator(engine.NewFixedGenerator(CheckoutIDPrefix)),
		engine.WithRestorableOffers(restore),
	)

	h := &Harness{
		store:   st,
		rec:     rec,
		native:  native,
		sink:    reconcilerSink{ctx: ctx, rec: rec},
		backend: scenario.Backend,
		logger:  logger,
		result:  NewResult(),
		users:   make(map[purchase.UserKey]bool),
	}

	for i := range scenario.Steps {
		if err := h.executeStep(ctx, i, &scenario.Steps[i]); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	if err := h.collect(ctx); err != nil {
		return nil, err
	}

	for i := range scenario.Steps {
		if msg := checkExpect(h.result, i, scenario.Steps[i].Expect); msg != "" {
			h.result.AddError(msg)
		}
	}

	for _, errMsg := range EvaluateAssertions(h.result, scenario.Assertions) {
		h.result.AddError(errMsg)
	}

	return h.result, nil
}

func (h *Harness) executeStep(ctx context.Context, i int, step *Step) error {
	kind, err := stepKind(step)
	if err != nil {
		return err
	}

	switch {
	case step.Checkout != nil:
		user := purchase.UserKey(step.Checkout.User)
		h.users[user] = true
		h.result.addTrace(TraceEvent{
			Step:    i,
			Type:    kind,
			User:    step.Checkout.User,
			OfferID: joinOffers(step.Checkout.Offers),
		})
		cb := &Callback{Step: i}
		h.result.Callbacks[i] = cb
		h.rec.Checkout(ctx, user, purchase.CheckoutRequest{Offers: step.Checkout.Offers},
			func(err error, receipt purchase.Receipt) {
				cb.Fired = true
				cb.Err = err
				cb.Receipt = receipt
				h.result.addTrace(TraceEvent{
					Step:          i,
					Type:          "checkout_callback",
					User:          step.Checkout.User,
					TransactionID: receipt.TransactionID,
					State:         receipt.State.String(),
					ErrorCode:     cb.ErrorCode(),
				})
			})
		return nil

	case step.Complete != nil:
		return h.complete(i, step.Complete)

	case step.Query != nil:
		h.result.addTrace(TraceEvent{Step: i, Type: kind, User: step.Query.User})
		cb := &Callback{Step: i}
		h.result.Callbacks[i] = cb
		h.rec.QueryReceipts(ctx, purchase.UserKey(step.Query.User), step.Query.Restore, func(err error) {
			cb.Fired = true
			cb.Err = err
			h.result.addTrace(TraceEvent{
				Step:      i,
				Type:      "query_callback",
				User:      step.Query.User,
				ErrorCode: cb.ErrorCode(),
			})
		})
		return nil

	case step.QueryComplete != nil:
		h.result.addTrace(TraceEvent{Step: i, Type: kind})
		return h.batch(step.QueryComplete, false)

	case step.RestoreComplete != nil:
		h.result.addTrace(TraceEvent{Step: i, Type: kind})
		return h.batch(step.RestoreComplete, true)

	case step.Finalize != nil:
		h.result.addTrace(TraceEvent{
			Step:          i,
			Type:          kind,
			User:          step.Finalize.User,
			TransactionID: step.Finalize.TransactionID,
		})
		h.rec.FinalizePurchase(ctx, purchase.UserKey(step.Finalize.User), step.Finalize.TransactionID)
		return nil

	case step.Native != nil:
		h.result.addTrace(TraceEvent{Step: i, Type: kind})
		if step.Native.Allowed != nil {
			h.native.SetAllowed(*step.Native.Allowed)
		}
		for _, id := range step.Native.RejectBegin {
			h.native.RejectBegin(id)
		}
		if step.Native.RejectQueries != nil {
			h.native.RejectQueries(*step.Native.RejectQueries)
		}
		return nil
	}
	return fmt.Errorf("no action")
}

func (h *Harness) complete(i int, c *CompleteStep) error {
	switch {
	case c.GooglePlay != nil:
		p := c.GooglePlay.Purchase
		h.result.addTrace(TraceEvent{
			Step:          i,
			Type:          "complete",
			OfferID:       p.ProductID,
			TransactionID: p.PurchaseToken,
			State:         backend.MapGooglePlayCode(c.GooglePlay.ResponseCode).String(),
		})
		return backend.HandleGooglePlayPurchase(h.sink, c.GooglePlay.ResponseCode, p)
	case c.StoreKit != nil:
		t := *c.StoreKit
		h.result.addTrace(TraceEvent{
			Step:          i,
			Type:          "complete",
			OfferID:       t.ProductID,
			TransactionID: t.TransactionID,
			State:         t.State.String(),
		})
		return backend.HandleStoreKitTransaction(h.sink, t)
	}
	return fmt.Errorf("empty completion")
}

func (h *Harness) batch(b *BatchStep, restore bool) error {
	if h.backend == backend.NameGooglePlay {
		return backend.HandleGooglePlayQuery(h.sink, b.ResponseCode, b.Purchases, restore)
	}
	return backend.HandleStoreKitBatch(h.sink, backend.StoreKitBatch{
		Restore:      restore,
		Failed:       b.Failed,
		ErrorCode:    b.ErrorCode,
		Transactions: b.Transactions,
	})
}

// collect snapshots the store, registry and native calls into the result.
func (h *Harness) collect(ctx context.Context) error {
	users := make([]string, 0, len(h.users))
	for u := range h.users {
		users = append(users, string(u))
	}
	sort.Strings(users)

	for _, u := range users {
		receipts, err := h.store.CompletedReceipts(ctx, purchase.UserKey(u))
		if err != nil {
			return fmt.Errorf("failed to read completed receipts: %w", err)
		}
		for _, r := range receipts {
			h.result.Receipts = append(h.result.Receipts, RecordedReceipt{
				Source:  purchase.SourceCompleted,
				User:    purchase.UserKey(u),
				Receipt: r,
			})
		}
	}

	offline, err := h.store.OfflineReceipts(ctx)
	if err != nil {
		return fmt.Errorf("failed to read offline receipts: %w", err)
	}
	for _, r := range offline {
		h.result.Receipts = append(h.result.Receipts, RecordedReceipt{
			Source:  purchase.SourceOffline,
			Receipt: r,
		})
	}

	h.result.NativeCalls = append(h.result.NativeCalls, h.native.CallStrings()...)
	h.result.Pending = h.rec.PendingCount()
	return nil
}

func joinOffers(offers []purchase.OfferRequest) string {
	ids := make([]string, len(offers))
	for i, o := range offers {
		ids[i] = o.OfferID
	}
	return strings.Join(ids, ",")
}
