package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sentinel/internal/bracket"
	"sentinel/internal/config"
	"sentinel/internal/engine"
	"sentinel/internal/gateway/binance"
	"sentinel/internal/gateway/notifier"
	"sentinel/internal/logger"
	"sentinel/internal/scheduler"
	"sentinel/internal/signal"
	"sentinel/internal/store/audit"
	"sentinel/internal/store/gormstore"
	"sentinel/internal/throttle"
	transporthttp "sentinel/internal/transport/http"
)

// build constructs the dependency graph by hand, bottom-up: store, exchange
// client, notifier, then the gate/orchestrator/bracket stack, then the loop
// and HTTP server on top.
func build(registry *config.Registry) (*App, error) {
	cfg := registry.Current()

	store, err := gormstore.Open(cfg.App.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	auditor, err := audit.Open(store.Path())
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open audit store: %w", err)
	}

	client := binance.New(binance.Config{
		APIKey:      cfg.Exchange.APIKey,
		APISecret:   cfg.Exchange.APISecret,
		RESTBaseURL: cfg.Exchange.RESTBaseURL,
		HTTPTimeout: time.Duration(cfg.Exchange.HTTPTimeoutSec) * time.Second,
		Testnet:     cfg.Exchange.Testnet,
	})

	var notify notifier.Notifier = notifier.Noop{}
	if strings.TrimSpace(cfg.Telegram.BotToken) != "" && strings.TrimSpace(cfg.Telegram.ChatID) != "" {
		notify = notifier.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		logger.Infof("app: telegram notifier enabled")
	} else {
		logger.Warnf("app: telegram credentials missing, notifications are log-only")
	}

	gate := throttle.NewGate(store)
	brackets := bracket.New(store, client, notify, cfg.Engine)
	orch := engine.NewOrchestrator(store, client, notify, brackets, cfg.Engine, cfg.Defaults)
	evaluator := signal.NewIndicatorEvaluator(client, cfg.Defaults, cfg.Engine.CandleInterval, cfg.Engine.CandleLimit)
	loop := scheduler.NewLoop(registry, evaluator, gate, orch, notify, store)

	// Toggle flips re-arm the throttle for their scope so the next signal
	// after re-enable is never silently swallowed by a stale baseline.
	registry.Subscribe(func(_ *config.Config, changes []config.ToggleChange) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, ch := range changes {
			if err := gate.ResetScope(ctx, ch.Symbol, ch.Side); err != nil {
				logger.Errorf("app: throttle reset for %s/%s after %s flip: %v", ch.Symbol, ch.Side, ch.Flag, err)
			} else {
				logger.Infof("app: throttle reset for %s/%s (%s)", ch.Symbol, ch.Side, ch.Flag)
			}
		}
	})

	var httpSrv *transporthttp.Server
	if strings.TrimSpace(cfg.App.HTTPAddr) != "" {
		httpSrv = transporthttp.NewServer(cfg.App.HTTPAddr, registry, store, auditor)
	}

	return &App{
		registry: registry,
		store:    store,
		auditor:  auditor,
		loop:     loop,
		httpSrv:  httpSrv,
	}, nil
}
