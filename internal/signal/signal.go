package signal

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"sentinel/internal/gateway/exchange"
)

// Indicator keys every tradeable signal must carry. The orchestrator's
// missing-indicator guard checks for these.
const (
	IndicatorRSI         = "rsi"
	IndicatorMA          = "ma"
	IndicatorVolumeRatio = "volume_ratio"
)

// Signal is one tradeable observation. Price is the exact last trade price,
// not a float recovered from indicator math.
type Signal struct {
	ID          string
	Symbol      string
	Side        exchange.Side
	StrategyKey string
	Price       decimal.Decimal
	Time        time.Time
	Indicators  map[string]float64

	// CorrelationID ties the alert notification, the intent and any failure
	// notification together for the audit joins. Set by the evaluation loop.
	CorrelationID string

	// DedupKey overrides the derived symbol|side|minute key, for callers that
	// already have a stable per-signal identifier.
	DedupKey string
}

// Evaluator produces at most one signal per symbol per evaluation. A nil
// signal with nil error means "nothing to do", the common case.
type Evaluator interface {
	Evaluate(ctx context.Context, symbol string) (*Signal, error)
}
