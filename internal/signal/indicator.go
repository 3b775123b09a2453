package signal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/markcheno/go-talib"

	"sentinel/internal/config"
	"sentinel/internal/gateway/exchange"
	"sentinel/internal/logger"
)

const strategyRSIReversal = "rsi-reversal"

// IndicatorEvaluator is the default signal source: RSI extremes confirmed by
// the price/MA relation and a volume spike. The trading edge is not the point
// here; the orchestrator downstream is.
type IndicatorEvaluator struct {
	market   exchange.MarketData
	params   config.StrategyDefaults
	interval string
	limit    int
}

func NewIndicatorEvaluator(market exchange.MarketData, params config.StrategyDefaults, interval string, limit int) *IndicatorEvaluator {
	if interval == "" {
		interval = "5m"
	}
	if limit <= 0 {
		limit = 200
	}
	return &IndicatorEvaluator{market: market, params: params, interval: interval, limit: limit}
}

func (e *IndicatorEvaluator) Evaluate(ctx context.Context, symbol string) (*Signal, error) {
	candles, err := e.market.Candles(ctx, symbol, e.interval, e.limit)
	if err != nil {
		return nil, fmt.Errorf("signal: fetch candles for %s: %w", symbol, err)
	}
	need := e.params.MAPeriod
	if e.params.RSIPeriod+1 > need {
		need = e.params.RSIPeriod + 1
	}
	if len(candles) < need {
		logger.Debugf("signal: %s has %d candles, need %d", symbol, len(candles), need)
		return nil, nil
	}

	closes := make([]float64, len(candles))
	volumes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		volumes[i] = c.Volume
	}

	rsiSeries := talib.Rsi(closes, e.params.RSIPeriod)
	maSeries := talib.Sma(closes, e.params.MAPeriod)
	rsi := rsiSeries[len(rsiSeries)-1]
	ma := maSeries[len(maSeries)-1]
	volumeRatio := lastVolumeRatio(volumes, e.params.VolumeLookback)

	var side exchange.Side
	switch {
	case rsi <= e.params.RSIBuyBelow && volumeRatio >= e.params.VolumeSpikeRatio:
		side = exchange.SideBuy
	case rsi >= e.params.RSISellAbove && volumeRatio >= e.params.VolumeSpikeRatio:
		side = exchange.SideSell
	default:
		return nil, nil
	}

	price, err := e.market.LastPrice(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("signal: fetch price for %s: %w", symbol, err)
	}

	return &Signal{
		ID:          uuid.NewString(),
		Symbol:      symbol,
		Side:        side,
		StrategyKey: strategyRSIReversal,
		Price:       price,
		Time:        time.Now(),
		Indicators: map[string]float64{
			IndicatorRSI:         rsi,
			IndicatorMA:          ma,
			IndicatorVolumeRatio: volumeRatio,
		},
	}, nil
}

// lastVolumeRatio compares the newest volume against the average of the
// lookback window preceding it.
func lastVolumeRatio(volumes []float64, lookback int) float64 {
	if lookback <= 0 || len(volumes) < lookback+1 {
		return 0
	}
	window := volumes[len(volumes)-1-lookback : len(volumes)-1]
	sum := 0.0
	for _, v := range window {
		sum += v
	}
	avg := sum / float64(lookback)
	if avg <= 0 {
		return 0
	}
	return volumes[len(volumes)-1] / avg
}
