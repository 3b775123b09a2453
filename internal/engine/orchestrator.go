// Package engine turns an allowed signal into at most one order attempt,
// with a full decision trace for every outcome.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"sentinel/internal/config"
	"sentinel/internal/gateway/exchange"
	"sentinel/internal/gateway/notifier"
	"sentinel/internal/logger"
	"sentinel/internal/metrics"
	"sentinel/internal/quantize"
	"sentinel/internal/signal"
	"sentinel/internal/store/gormstore"
	"sentinel/internal/store/model"
)

type intentStore interface {
	CreateIntent(ctx context.Context, intent *model.OrderIntentModel) error
	FindIntentByDedupKey(ctx context.Context, key string) (*model.OrderIntentModel, error)
	SaveIntent(ctx context.Context, intent *model.OrderIntentModel) error
	CountOpenOrders(ctx context.Context, symbol string) (int64, error)
	ListOpenOrders(ctx context.Context, symbol string) ([]model.OrderModel, error)
	LastOrderCreatedAt(ctx context.Context, symbol string) (time.Time, error)
	SaveOrder(ctx context.Context, order *model.OrderModel) error
	SaveNotification(ctx context.Context, n *model.NotificationModel) error
}

// BracketPlacer receives a placed parent order for protective SL/TP creation.
// It runs outside the placement lock; its own idempotency check covers
// re-invocation.
type BracketPlacer interface {
	HandleParentOrder(ctx context.Context, parent model.OrderModel, slPct, tpPct float64) error
}

// Orchestrator owns OrderIntent rows: every signal that reaches Process
// leaves exactly one intent behind, with decision type and reason filled in.
type Orchestrator struct {
	store    intentStore
	client   exchange.Client
	notify   notifier.Notifier
	brackets BracketPlacer
	cfg      config.EngineConfig
	defaults config.StrategyDefaults
	locks    keyedLocks

	// sleep, when set, replaces the backoff wait; nil means a real
	// context-aware wait.
	sleep func(time.Duration)
	now   func() time.Time
}

func NewOrchestrator(store intentStore, client exchange.Client, notify notifier.Notifier, brackets BracketPlacer, cfg config.EngineConfig, defaults config.StrategyDefaults) *Orchestrator {
	return &Orchestrator{
		store:    store,
		client:   client,
		notify:   notify,
		brackets: brackets,
		cfg:      cfg,
		defaults: defaults,
		now:      time.Now,
	}
}

// intentContext is the structured snapshot persisted in OrderIntent.context.
// Attempts grows as the fallback policy works through its ladder, so the
// trail shows the full decision path, not just the final outcome.
type intentContext struct {
	Price       string             `json:"price"`
	Notional    string             `json:"notional,omitempty"`
	Quantity    string             `json:"quantity,omitempty"`
	Balance     string             `json:"balance,omitempty"`
	Leverage    int                `json:"leverage,omitempty"`
	Indicators  map[string]float64 `json:"indicators,omitempty"`
	GuardDetail string             `json:"guard_detail,omitempty"`
	DuplicateOf int64              `json:"duplicate_of,omitempty"`
	Attempts    []attemptRecord    `json:"attempts,omitempty"`
}

func (c *intentContext) marshal() []byte {
	buf, err := json.Marshal(c)
	if err != nil {
		return []byte("{}")
	}
	return buf
}

// Process runs the full pipeline for one allowed signal. It never returns a
// nil intent together with a nil error: guard skips, dedup skips and exchange
// failures are all recorded outcomes, not Go errors. The returned error is
// reserved for infrastructure faults (store unreachable) where no trace could
// be written.
func (o *Orchestrator) Process(ctx context.Context, sig *signal.Signal, symCfg config.SymbolConfig) (*model.OrderIntentModel, error) {
	if sig == nil {
		return nil, fmt.Errorf("engine: nil signal")
	}
	dedupKey := sig.DedupKey
	if dedupKey == "" {
		dedupKey = fmt.Sprintf("%s|%s|%s|%d", sig.Symbol, sig.Side, sig.StrategyKey, sig.Time.Unix()/60)
	}

	ictx := &intentContext{
		Price:      sig.Price.String(),
		Indicators: sig.Indicators,
	}
	intent := &model.OrderIntentModel{
		SignalID:      sig.ID,
		CorrelationID: sig.CorrelationID,
		Symbol:        sig.Symbol,
		Side:          string(sig.Side),
		StrategyKey:   sig.StrategyKey,
		DedupKey:      dedupKey,
		Status:        model.IntentStatusPending,
		Context:       ictx.marshal(),
	}

	// Step 1: dedup. The explicit lookup gives a clean trace entry; the
	// unique index on dedup_key catches the race the lookup cannot.
	if existing, err := o.store.FindIntentByDedupKey(ctx, dedupKey); err != nil {
		return nil, fmt.Errorf("engine: dedup lookup: %w", err)
	} else if existing != nil {
		return o.recordDedupSkip(ctx, intent, ictx, existing.ID)
	}
	if err := o.store.CreateIntent(ctx, intent); err != nil {
		if err == gormstore.ErrDuplicateIntent {
			return o.recordDedupSkip(ctx, intent, ictx, 0)
		}
		return nil, fmt.Errorf("engine: create intent: %w", err)
	}

	// Step 2: per-(symbol, side) exclusive lock. It covers only the guard
	// chain and the placement attempt; the bracket phase runs after release.
	lockKey := sig.Symbol + "|" + string(sig.Side)
	if !o.locks.TryAcquire(lockKey) {
		o.finalize(ctx, intent, model.IntentStatusBlocked, model.DecisionSkipped,
			ReasonOrderCreationLock, "another placement in flight", ictx)
		return intent, nil
	}
	metrics.PlacementsInFlight.Inc()
	released := false
	release := func() {
		if released {
			return
		}
		released = true
		o.locks.Release(lockKey)
		metrics.PlacementsInFlight.Dec()
	}
	defer release()

	// Step 3: guard chain, fixed order.
	if res := o.runGuards(ctx, sig, symCfg, ictx); !res.ok {
		ictx.GuardDetail = res.message
		o.finalize(ctx, intent, model.IntentStatusBlocked, model.DecisionSkipped,
			res.reason, res.message, ictx)
		return intent, nil
	}

	// Step 4: place the order, with the fallback policy behind it.
	ack, err := o.placeEntryOrder(ctx, sig, ictx)
	if err != nil {
		reason := ReasonExchangeRejected
		if apiErr, ok := exchange.AsAPIError(err); ok && apiErr.Class() == exchange.ClassRateLimit {
			reason = ReasonRetryExhausted
		}
		o.finalize(ctx, intent, model.IntentStatusOrderFailed, model.DecisionFailed,
			reason, err.Error(), ictx)
		o.notifyFailure(ctx, sig, err)
		return intent, nil
	}

	intent.OrderID = ack.OrderID
	o.finalize(ctx, intent, model.IntentStatusOrderPlaced, model.DecisionExecuted,
		ReasonOrderPlaced, "order accepted by exchange", ictx)

	parent := model.OrderModel{
		OrderID:  ack.OrderID,
		IntentID: intent.ID,
		Symbol:   sig.Symbol,
		Side:     string(sig.Side),
		Type:     string(exchange.TypeMarket),
		Quantity: ictx.Quantity,
		Price:    ictx.Price,
		Status:   string(ack.Status),
	}
	if err := o.store.SaveOrder(ctx, &parent); err != nil {
		logger.Errorf("engine: persist parent order %s failed: %v", ack.OrderID, err)
	}

	// Step 5: drop the lock before the bracket phase. Fill polling can take
	// tens of seconds and must not starve other placements on this key; the
	// bracket engine's per-parent idempotency check stands in for the lock.
	release()
	if o.brackets != nil {
		if err := o.brackets.HandleParentOrder(ctx, parent, symCfg.EffectiveSL(o.defaults), symCfg.EffectiveTP(o.defaults)); err != nil {
			logger.Errorf("engine: bracket handling for order %s failed: %v", ack.OrderID, err)
		}
	}
	return intent, nil
}

func (o *Orchestrator) recordDedupSkip(ctx context.Context, intent *model.OrderIntentModel, ictx *intentContext, originalID int64) (*model.OrderIntentModel, error) {
	ictx.DuplicateOf = originalID
	// The skip row needs its own key; the original keeps the real one.
	intent.DedupKey = intent.DedupKey + "#skip-" + uuid.NewString()[:8]
	if err := o.store.CreateIntent(ctx, intent); err != nil {
		return nil, fmt.Errorf("engine: record dedup skip: %w", err)
	}
	o.finalize(ctx, intent, model.IntentStatusDedupSkip, model.DecisionSkipped,
		ReasonDuplicateSignal, "intent with this dedup key already exists", ictx)
	return intent, nil
}

// finalize stamps the terminal fields and persists the row. Every terminal
// path funnels through here, which is what keeps decision_type and
// reason_code non-null by construction.
func (o *Orchestrator) finalize(ctx context.Context, intent *model.OrderIntentModel, status model.IntentStatus, decision, reason, message string, ictx *intentContext) {
	intent.Status = status
	intent.DecisionType = decision
	intent.ReasonCode = reason
	intent.ReasonMessage = message
	intent.Context = ictx.marshal()
	if err := o.store.SaveIntent(ctx, intent); err != nil {
		logger.Errorf("engine: persist intent %s/%s failed: %v", intent.Symbol, intent.DedupKey, err)
	}
	metrics.IntentDecisions.WithLabelValues(decision, reason).Inc()
	logger.Infof("engine: %s %s %s decision=%s reason=%s", intent.Symbol, intent.Side, status, decision, reason)
}

// placeEntryOrder quantizes the trade size and drives the placement through
// the fallback policy. All attempts land in ictx.Attempts.
func (o *Orchestrator) placeEntryOrder(ctx context.Context, sig *signal.Signal, ictx *intentContext) (*exchange.OrderAck, error) {
	notional := decimal.NewFromFloat(o.cfg.TradeNotionalUSD)
	rawQty := notional.Div(sig.Price)
	ictx.Notional = notional.String()
	ictx.Leverage = o.cfg.Leverage

	inst, err := o.client.InstrumentInfo(ctx, sig.Symbol)
	if err != nil {
		logger.Warnf("engine: instrument info for %s unavailable: %v", sig.Symbol, err)
		inst = nil
	}
	qty := quantize.Quantity(inst, rawQty)
	if qtyDec, err := decimal.NewFromString(qty); err != nil || !qtyDec.IsPositive() {
		return nil, fmt.Errorf("%s: quantity %s too small for step size", ReasonQuantizeFailed, qty)
	}
	ictx.Quantity = qty

	req := exchange.OrderRequest{
		Symbol:        sig.Symbol,
		Side:          sig.Side,
		Type:          exchange.TypeMarket,
		Quantity:      qty,
		Leverage:      o.cfg.Leverage,
		ClientOrderID: "snt-" + uuid.NewString()[:20],
	}
	return o.placeWithFallback(ctx, req, inst, rawQty, &ictx.Attempts)
}

func (o *Orchestrator) notifyFailure(ctx context.Context, sig *signal.Signal, placeErr error) {
	text := fmt.Sprintf("Order placement failed for %s %s: %v", sig.Symbol, sig.Side, placeErr)
	sendErr := o.notify.Send(notifier.SeverityCritical, sig.Symbol, text, sig.CorrelationID)
	rec := &model.NotificationModel{
		Kind:          model.NotificationKindFailure,
		Severity:      string(notifier.SeverityCritical),
		Symbol:        sig.Symbol,
		Text:          text,
		CorrelationID: sig.CorrelationID,
		Delivered:     sendErr == nil,
	}
	if err := o.store.SaveNotification(ctx, rec); err != nil {
		logger.Errorf("engine: persist failure notification for %s: %v", sig.Symbol, err)
	}
}
