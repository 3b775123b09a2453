// Package scheduler runs the periodic evaluation loop: every tick, each
// watchlist symbol is evaluated concurrently and any signal that survives the
// alert flags and the throttle gate flows to the orchestrator.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"sentinel/internal/config"
	"sentinel/internal/engine"
	"sentinel/internal/gateway/exchange"
	"sentinel/internal/gateway/notifier"
	"sentinel/internal/logger"
	"sentinel/internal/metrics"
	"sentinel/internal/signal"
	"sentinel/internal/store/model"
	"sentinel/internal/throttle"
)

var log = logger.Scope("scheduler")

type notificationStore interface {
	SaveNotification(ctx context.Context, n *model.NotificationModel) error
}

// Loop owns the tick cadence. It reads the watchlist fresh from the registry
// on every tick, so file reloads and HTTP toggles take effect at the next
// evaluation without a restart.
type Loop struct {
	registry  *config.Registry
	evaluator signal.Evaluator
	gate      *throttle.Gate
	orch      *engine.Orchestrator
	notify    notifier.Notifier
	store     notificationStore
}

func NewLoop(registry *config.Registry, evaluator signal.Evaluator, gate *throttle.Gate, orch *engine.Orchestrator, notify notifier.Notifier, store notificationStore) *Loop {
	return &Loop{
		registry:  registry,
		evaluator: evaluator,
		gate:      gate,
		orch:      orch,
		notify:    notify,
		store:     store,
	}
}

// Run blocks until ctx is cancelled. The first pass fires immediately; after
// that the ticker sets the pace. A tick that overruns simply delays the next
// one, ticks never stack.
func (l *Loop) Run(ctx context.Context) error {
	interval := l.registry.Current().Engine.PollInterval()
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Infof("evaluation loop started, interval %s", interval)
	l.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Infof("evaluation loop stopped")
			return ctx.Err()
		case <-ticker.C:
			l.runOnce(ctx)
		}
	}
}

func (l *Loop) runOnce(ctx context.Context) {
	cfg := l.registry.Current()
	limit := cfg.Engine.EvalConcurrency
	if limit <= 0 {
		limit = 4
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := range cfg.Watchlist {
		symCfg := cfg.Watchlist[i]
		g.Go(func() error {
			if err := l.evalSymbol(gctx, symCfg); err != nil {
				log.Errorf("%s evaluation: %v", symCfg.Symbol, err)
			}
			// Evaluation errors are per-symbol, they never cancel siblings.
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Errorf("tick aborted: %v", err)
	}
}

func (l *Loop) evalSymbol(ctx context.Context, symCfg config.SymbolConfig) error {
	sig, err := l.evaluator.Evaluate(ctx, symCfg.Symbol)
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	if sig == nil {
		return nil
	}
	sig.CorrelationID = uuid.NewString()

	if !alertAllowed(symCfg, sig.Side) {
		log.Debugf("%s %s signal suppressed by alert flags", sig.Symbol, sig.Side)
		return nil
	}

	dec, err := l.gate.Evaluate(ctx, throttle.Key{
		Symbol:      sig.Symbol,
		Side:        string(sig.Side),
		StrategyKey: sig.StrategyKey,
	}, sig.Price, sig.Time, throttle.Limits{
		MinInterval:       symCfg.MinInterval(),
		MinPriceChangePct: decimal.NewFromFloat(symCfg.MinPriceChangePct),
	})
	if err != nil {
		return fmt.Errorf("throttle: %w", err)
	}
	if !dec.Allowed {
		metrics.ThrottleBlocks.WithLabelValues(dec.Reason).Inc()
		log.Debugf("%s %s blocked by throttle (%s)", sig.Symbol, sig.Side, dec.Reason)
		return nil
	}
	if dec.Forced {
		log.Infof("%s %s passed on force_next", sig.Symbol, sig.Side)
	}

	l.sendSignalAlert(ctx, sig)

	intent, err := l.orch.Process(ctx, sig, symCfg)
	if err != nil {
		return fmt.Errorf("orchestrate: %w", err)
	}
	log.Infof("%s %s intent #%d -> %s", sig.Symbol, sig.Side, intent.ID, intent.Status)
	return nil
}

// alertAllowed applies the symbol-wide switch first, then the side-specific
// one.
func alertAllowed(symCfg config.SymbolConfig, side exchange.Side) bool {
	if !symCfg.AlertEnabled {
		return false
	}
	if side == exchange.SideBuy {
		return symCfg.BuyAlertEnabled
	}
	return symCfg.SellAlertEnabled
}

// sendSignalAlert delivers the user-facing signal notification and persists
// the send. The persisted row is what the audit joins against; a signal with
// no intent afterwards is an integrity finding.
func (l *Loop) sendSignalAlert(ctx context.Context, sig *signal.Signal) {
	text := fmt.Sprintf("%s signal on %s at %s (RSI %.1f, vol ratio %.2f)",
		sig.Side, sig.Symbol, sig.Price,
		sig.Indicators[signal.IndicatorRSI], sig.Indicators[signal.IndicatorVolumeRatio])
	sendErr := l.notify.Send(notifier.SeverityInfo, sig.Symbol, text, sig.CorrelationID)
	if sendErr != nil {
		log.Warnf("signal notification for %s failed: %v", sig.Symbol, sendErr)
	}
	rec := &model.NotificationModel{
		Kind:          model.NotificationKindSignal,
		Severity:      string(notifier.SeverityInfo),
		Symbol:        sig.Symbol,
		Text:          text,
		CorrelationID: sig.CorrelationID,
		Delivered:     sendErr == nil,
	}
	if err := l.store.SaveNotification(ctx, rec); err != nil {
		log.Errorf("persist signal notification for %s: %v", sig.Symbol, err)
	}
}
