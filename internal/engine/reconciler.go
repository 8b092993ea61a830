package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/iapsync/internal/purchase"
)

// Backend is the native billing capability the reconciler drives.
//
// Every call is made from the engine goroutine. Implementations must not
// call back into the reconciler synchronously; completions are delivered
// later through the Engine.
type Backend interface {
	// Name identifies the backend in logs and metrics.
	Name() string
	// MapResponseCode maps a backend response code to a state. Unknown
	// codes must map to Failed.
	MapResponseCode(code int) purchase.TransactionState
	// MaxOffersPerCheckout is the number of offers one native purchase can
	// carry, or 0 for no limit.
	MaxOffersPerCheckout() int
	// BeginPurchase starts a native purchase and reports whether the native
	// layer accepted it.
	BeginPurchase(offerID string) bool
	ConsumePurchase(transactionID string)
	QueryExistingPurchases() bool
	RestorePurchases(offerIDs []string, consumable []bool) bool
	IsAllowedToPurchase() bool
}

// RestorableOffer is an offer passed to the native restore call.
type RestorableOffer struct {
	ID         string
	Consumable bool
}

// QueryCallback receives the outcome of QueryReceipts. It runs on the engine
// goroutine.
type QueryCallback func(err error)

type pendingQuery struct {
	user     purchase.UserKey
	restore  bool
	callback QueryCallback
}

// Reconciler is the checkout orchestrator. It owns the registry, talks to
// the backend and records finalized receipts.
//
// Not safe for concurrent use. The Engine serializes every call onto its
// Run goroutine; tests and the harness drive a Reconciler directly from one
// goroutine.
type Reconciler struct {
	backend       Backend
	registry      *Registry
	store         ReceiptStore
	clock         *Clock
	ids           IDGenerator
	logger        *slog.Logger
	metrics       *engineMetrics
	restoreOffers []RestorableOffer
	query         *pendingQuery
}

// Option configures a Reconciler (and the Engine wrapping it).
type Option func(*Reconciler)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock sets the sequence clock, typically NewClockAt(store.LastSeq).
func WithClock(clock *Clock) Option {
	return func(r *Reconciler) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithIDGenerator sets the checkout id generator. Default: UUIDv7Generator.
func WithIDGenerator(ids IDGenerator) Option {
	return func(r *Reconciler) {
		if ids != nil {
			r.ids = ids
		}
	}
}

// WithRestorableOffers sets the offers handed to the native restore call.
func WithRestorableOffers(offers []RestorableOffer) Option {
	return func(r *Reconciler) {
		r.restoreOffers = append([]RestorableOffer{}, offers...)
	}
}

// NewReconciler creates a reconciler. A nil backend behaves as one that
// refuses everything; a nil store falls back to a MemoryStore.
func NewReconciler(backend Backend, store ReceiptStore, opts ...Option) *Reconciler {
	if backend == nil {
		backend = unavailableBackend{}
	}
	if store == nil {
		store = NewMemoryStore()
	}
	r := &Reconciler{
		backend:  backend,
		registry: NewRegistry(),
		store:    store,
		clock:    NewClock(),
		ids:      UUIDv7Generator{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.metrics = newEngineMetrics(r.logger)
	return r
}

// Backend returns the backend the reconciler drives.
func (r *Reconciler) Backend() Backend {
	return r.backend
}

// Clock returns the sequence clock.
func (r *Reconciler) Clock() *Clock {
	return r.clock
}

// PendingCount returns the number of live pending transactions.
func (r *Reconciler) PendingCount() int {
	return r.registry.Len()
}

// Pending returns the live pending transaction for user.
func (r *Reconciler) Pending(user purchase.UserKey) (*PendingTransaction, bool) {
	return r.registry.Get(user)
}

// QueryInFlight reports whether a query or restore is outstanding.
func (r *Reconciler) QueryInFlight() bool {
	return r.query != nil
}

// IsAllowedToPurchase asks the native layer. Anything but an explicit yes
// is treated as not allowed.
func (r *Reconciler) IsAllowedToPurchase(user purchase.UserKey) bool {
	return r.backend.IsAllowedToPurchase()
}

// Checkout starts a checkout for user. cb fires exactly once: immediately
// when a precondition fails or the native layer refuses the purchase,
// otherwise when the last offer completes.
func (r *Reconciler) Checkout(ctx context.Context, user purchase.UserKey, req purchase.CheckoutRequest, cb CheckoutCallback) {
	if len(req.Offers) == 0 {
		r.reject(ctx, user, cb, purchase.ErrNoOffersSpecified, rejectedReceipt(req, purchase.StateFailed))
		return
	}
	if r.registry.Has(user) {
		r.reject(ctx, user, cb, purchase.ErrConcurrentCheckout, rejectedReceipt(req, purchase.StateFailed))
		return
	}
	if !r.IsAllowedToPurchase(user) {
		r.reject(ctx, user, cb, purchase.ErrNotAllowed, rejectedReceipt(req, purchase.StateNotAllowed))
		return
	}

	if limit := r.backend.MaxOffersPerCheckout(); limit > 0 && len(req.Offers) > limit {
		r.logger.Warn("checkout.offers_dropped",
			"user", user,
			"backend", r.backend.Name(),
			"requested", len(req.Offers),
			"kept", limit,
		)
		req.Offers = req.Offers[:limit]
	}

	p := NewPendingTransaction(r.ids.Generate(), user, req, cb)
	p.MarkProcessing()

	started := make(map[string]bool, len(req.Offers))
	for _, o := range req.Offers {
		if started[o.OfferID] {
			continue
		}
		started[o.OfferID] = true
		if !r.backend.BeginPurchase(o.OfferID) {
			r.logger.Warn("checkout.begin_failed",
				"user", user,
				"checkout_id", p.CheckoutID,
				"offer_id", o.OfferID,
				"backend", r.backend.Name(),
			)
			r.metrics.recordCheckout(ctx, "begin_failed")
			p.ForceFailed(purchase.KindBackendFailure)
			r.finalize(ctx, p, false)
			return
		}
	}

	// Cannot fail: the user was checked above and nothing ran in between.
	if err := r.registry.Insert(p); err != nil {
		r.reject(ctx, user, cb, err, rejectedReceipt(req, purchase.StateFailed))
		return
	}
	r.metrics.setPending(r.registry.Len())
	r.metrics.recordCheckout(ctx, "started")

	r.logger.Info("checkout.started",
		"user", user,
		"checkout_id", p.CheckoutID,
		"offers", len(req.Offers),
		"backend", r.backend.Name(),
	)
}

func (r *Reconciler) reject(ctx context.Context, user purchase.UserKey, cb CheckoutCallback, err error, receipt purchase.Receipt) {
	r.logger.Info("checkout.rejected", "user", user, "error", err)
	r.metrics.recordCheckout(ctx, string(purchase.KindOf(err)))
	if cb != nil {
		cb(err, receipt)
	}
}

// OnNativeCompletion ingests one native purchase completion.
//
// The completion is routed to the pending transaction that requested the
// offer. Without one it is an offline completion and only recorded when it
// succeeded. The returned error reports store failures only; callbacks have
// fired regardless.
func (r *Reconciler) OnNativeCompletion(ctx context.Context, outcome purchase.Outcome, data purchase.TransactionData) error {
	state := outcome.Resolve(r.backend.MapResponseCode)
	if !state.IsResolved() {
		r.logger.Debug("completion.ignored", "offer_id", data.OfferID, "state", state)
		return nil
	}

	malformed := state.IsSuccess() && data.Malformed()
	if malformed {
		r.logger.Warn("completion.malformed",
			"offer_id", data.OfferID,
			"state", state,
		)
		state = purchase.StateFailed
	}

	p := r.registry.Route(data.OfferID)
	if p == nil {
		if !state.IsSuccess() {
			r.logger.Info("completion.offline_discarded",
				"offer_id", data.OfferID,
				"transaction_id", data.TransactionID,
				"state", state,
			)
			return nil
		}
		return r.recordOffline(ctx, state, data, "completion")
	}

	if !p.AddCompletedOffer(state, data) {
		r.logger.Warn("completion.unmatched_offer",
			"user", p.User,
			"checkout_id", p.CheckoutID,
			"offer_id", data.OfferID,
		)
		p.ForceFailed(purchase.KindUnmatchedOffer)
	} else if malformed {
		p.noteFailure(purchase.KindMalformedCompletion)
	}

	switch {
	case p.OverallState() == purchase.StateDeferred:
		return r.finalize(ctx, p, false)
	case p.AreAllOffersComplete():
		return r.finalize(ctx, p, true)
	}
	return nil
}

// finalize removes p from the registry, records its receipt when asked to
// and fires the callback.
func (r *Reconciler) finalize(ctx context.Context, p *PendingTransaction, record bool) error {
	r.registry.Remove(p)
	r.metrics.setPending(r.registry.Len())

	receipt := GenerateFromPending(p)
	cbErr := p.finalError(receipt.State)

	var storeErr error
	if record {
		receipt = r.stamp(receipt, purchase.SourceCompleted, p.User)
		if err := r.store.AppendCompleted(ctx, p.User, receipt); err != nil {
			r.logger.Error("store.append_completed_failed",
				"user", p.User,
				"checkout_id", p.CheckoutID,
				"error", err,
			)
			storeErr = fmt.Errorf("append completed receipt for %s: %w", p.User, err)
		}
	}

	r.metrics.recordFinalized(ctx, receipt.State)
	r.logger.Info("transaction.finalized",
		"user", p.User,
		"checkout_id", p.CheckoutID,
		"transaction_id", receipt.TransactionID,
		"state", receipt.State,
		"recorded", record,
	)

	p.complete(cbErr, receipt)
	return storeErr
}

// stamp assigns the next seq and the content-addressed id.
func (r *Reconciler) stamp(receipt purchase.Receipt, source string, user purchase.UserKey) purchase.Receipt {
	receipt.Seq = r.clock.Next()
	id, err := purchase.ReceiptID(source, user, receipt.Seq, receipt)
	if err != nil {
		r.logger.Warn("receipt.id_failed", "seq", receipt.Seq, "error", err)
		return receipt
	}
	receipt.ID = id
	return receipt
}

func (r *Reconciler) recordOffline(ctx context.Context, state purchase.TransactionState, data purchase.TransactionData, origin string) error {
	receipt := r.stamp(GenerateFromTransaction(state, data), purchase.SourceOffline, "")
	added, err := r.store.AppendOffline(ctx, receipt)
	if err != nil {
		r.logger.Error("store.append_offline_failed",
			"transaction_id", data.TransactionID,
			"origin", origin,
			"error", err,
		)
		return fmt.Errorf("append offline receipt %q: %w", data.TransactionID, err)
	}
	if !added {
		r.logger.Warn("offline.duplicate",
			"transaction_id", data.TransactionID,
			"state", state,
			"origin", origin,
		)
		return nil
	}
	r.metrics.recordOffline(ctx, state, origin)
	r.logger.Info("offline.recorded",
		"transaction_id", data.TransactionID,
		"offer_id", data.OfferID,
		"state", state,
		"origin", origin,
	)
	return nil
}

// FinalizePurchase forwards to the native consume call. Consumption
// semantics belong to the native layer.
func (r *Reconciler) FinalizePurchase(ctx context.Context, user purchase.UserKey, transactionID string) {
	if transactionID == "" {
		r.logger.Warn("finalize.missing_transaction_id", "user", user)
		return
	}
	r.backend.ConsumePurchase(transactionID)
	r.logger.Info("finalize.forwarded", "user", user, "transaction_id", transactionID)
}

// QueryReceipts asks the native layer for existing purchases (restore=false)
// or to restore transactions (restore=true). Only one query may be in
// flight; a second fails with purchase.ErrQueryInProgress without touching
// the native layer. cb fires when the matching batch arrives.
func (r *Reconciler) QueryReceipts(ctx context.Context, user purchase.UserKey, restore bool, cb QueryCallback) {
	if r.query != nil {
		r.logger.Info("query.rejected", "user", user, "restore", restore)
		if cb != nil {
			cb(purchase.ErrQueryInProgress)
		}
		return
	}
	r.query = &pendingQuery{user: user, restore: restore, callback: cb}

	var started bool
	if restore {
		ids := make([]string, len(r.restoreOffers))
		consumable := make([]bool, len(r.restoreOffers))
		for i, o := range r.restoreOffers {
			ids[i] = o.ID
			consumable[i] = o.Consumable
		}
		started = r.backend.RestorePurchases(ids, consumable)
	} else {
		started = r.backend.QueryExistingPurchases()
	}

	if !started {
		r.query = nil
		r.logger.Warn("query.begin_failed", "user", user, "restore", restore, "backend", r.backend.Name())
		if cb != nil {
			cb(purchase.NewError(purchase.KindBackendFailure, "native query could not be started"))
		}
		return
	}
	r.logger.Info("query.started", "user", user, "restore", restore)
}

// OnQueryExistingPurchasesComplete records every transaction of a query
// batch offline: Purchased when error free, Failed otherwise.
func (r *Reconciler) OnQueryExistingPurchasesComplete(ctx context.Context, outcome purchase.Outcome, txs []purchase.TransactionData) error {
	return r.completeBatch(ctx, "query", purchase.StatePurchased, outcome, txs)
}

// OnRestoreTransactionsComplete records every transaction of a restore
// batch offline: Restored when error free, Failed otherwise.
func (r *Reconciler) OnRestoreTransactionsComplete(ctx context.Context, outcome purchase.Outcome, txs []purchase.TransactionData) error {
	return r.completeBatch(ctx, "restore", purchase.StateRestored, outcome, txs)
}

func (r *Reconciler) completeBatch(ctx context.Context, origin string, success purchase.TransactionState, outcome purchase.Outcome, txs []purchase.TransactionData) error {
	var firstErr error
	for _, tx := range txs {
		state := success
		if tx.ErrorText != "" || tx.Malformed() {
			state = purchase.StateFailed
		}
		if err := r.recordOffline(ctx, state, tx, origin); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	result := outcome.Resolve(r.backend.MapResponseCode)

	// Only the batch kind the in-flight query asked for answers it.
	q := r.query
	if q == nil || q.restore != (origin == "restore") {
		r.logger.Warn("query.unsolicited_batch",
			"origin", origin,
			"transactions", len(txs),
			"result", result,
			"in_flight", q != nil,
		)
		return firstErr
	}
	r.query = nil

	r.logger.Info("query.completed",
		"user", q.user,
		"origin", origin,
		"transactions", len(txs),
		"result", result,
	)
	if q.callback != nil {
		q.callback(purchase.ErrorForState(result))
	}
	return firstErr
}

// GetReceipts returns the user's completed receipts followed by every
// offline receipt.
func (r *Reconciler) GetReceipts(ctx context.Context, user purchase.UserKey) ([]purchase.Receipt, error) {
	completed, err := r.store.CompletedReceipts(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("read completed receipts for %s: %w", user, err)
	}
	offline, err := r.store.OfflineReceipts(ctx)
	if err != nil {
		return nil, fmt.Errorf("read offline receipts: %w", err)
	}
	return append(completed, offline...), nil
}

// unavailableBackend refuses every native call.
type unavailableBackend struct{}

func (unavailableBackend) Name() string { return "unavailable" }

func (unavailableBackend) MapResponseCode(int) purchase.TransactionState {
	return purchase.StateFailed
}

func (unavailableBackend) MaxOffersPerCheckout() int { return 0 }

func (unavailableBackend) BeginPurchase(string) bool { return false }

func (unavailableBackend) ConsumePurchase(string) {}

func (unavailableBackend) QueryExistingPurchases() bool { return false }

func (unavailableBackend) RestorePurchases([]string, []bool) bool { return false }

func (unavailableBackend) IsAllowedToPurchase() bool { return false }
