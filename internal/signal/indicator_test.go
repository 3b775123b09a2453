package signal

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel/internal/config"
	"sentinel/internal/gateway/exchange"
)

type fakeMarket struct {
	candles []exchange.Candle
	price   decimal.Decimal
}

func (f *fakeMarket) Candles(_ context.Context, _, _ string, _ int) ([]exchange.Candle, error) {
	return f.candles, nil
}

func (f *fakeMarket) LastPrice(_ context.Context, _ string) (decimal.Decimal, error) {
	return f.price, nil
}

func testParams() config.StrategyDefaults {
	return config.StrategyDefaults{
		RSIPeriod:        14,
		RSIBuyBelow:      30,
		RSISellAbove:     70,
		MAPeriod:         5,
		VolumeLookback:   5,
		VolumeSpikeRatio: 1.5,
	}
}

// makeCandles builds n candles whose closes move by delta each step. The last
// candle's volume is scaled by spike relative to the flat base volume.
func makeCandles(n int, start, delta, spike float64) []exchange.Candle {
	out := make([]exchange.Candle, n)
	price := start
	for i := range out {
		out[i] = exchange.Candle{
			OpenTime:  time.Unix(int64(i*300), 0),
			CloseTime: time.Unix(int64(i*300+299), 0),
			Close:     price,
			Volume:    10,
		}
		price += delta
	}
	out[n-1].Volume = 10 * spike
	return out
}

func TestEvaluateBuyOnOversoldWithVolumeSpike(t *testing.T) {
	market := &fakeMarket{
		candles: makeCandles(40, 100, -1, 3),
		price:   decimal.RequireFromString("60.5"),
	}
	e := NewIndicatorEvaluator(market, testParams(), "5m", 200)

	sig, err := e.Evaluate(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, sig)

	assert.Equal(t, exchange.SideBuy, sig.Side)
	assert.Equal(t, "BTCUSDT", sig.Symbol)
	// Price comes from the ticker, untouched by indicator float math.
	assert.Equal(t, "60.5", sig.Price.String())
	assert.NotEmpty(t, sig.ID)
	require.Contains(t, sig.Indicators, IndicatorRSI)
	require.Contains(t, sig.Indicators, IndicatorMA)
	require.Contains(t, sig.Indicators, IndicatorVolumeRatio)
	assert.Less(t, sig.Indicators[IndicatorRSI], 30.0)
	assert.GreaterOrEqual(t, sig.Indicators[IndicatorVolumeRatio], 1.5)
}

func TestEvaluateSellOnOverboughtWithVolumeSpike(t *testing.T) {
	market := &fakeMarket{
		candles: makeCandles(40, 100, 1, 3),
		price:   decimal.RequireFromString("139"),
	}
	e := NewIndicatorEvaluator(market, testParams(), "5m", 200)

	sig, err := e.Evaluate(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, exchange.SideSell, sig.Side)
}

func TestEvaluateNoSignalWithoutVolumeSpike(t *testing.T) {
	market := &fakeMarket{
		candles: makeCandles(40, 100, -1, 1),
		price:   decimal.RequireFromString("60"),
	}
	e := NewIndicatorEvaluator(market, testParams(), "5m", 200)

	sig, err := e.Evaluate(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, sig)
}

func TestEvaluateNoSignalOnShortHistory(t *testing.T) {
	market := &fakeMarket{
		candles: makeCandles(5, 100, -1, 3),
		price:   decimal.RequireFromString("95"),
	}
	e := NewIndicatorEvaluator(market, testParams(), "5m", 200)

	sig, err := e.Evaluate(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, sig)
}

func TestLastVolumeRatio(t *testing.T) {
	volumes := []float64{10, 10, 10, 10, 10, 30}
	assert.InDelta(t, 3.0, lastVolumeRatio(volumes, 5), 1e-9)

	// Not enough history.
	assert.Zero(t, lastVolumeRatio([]float64{10, 30}, 5))
	assert.Zero(t, lastVolumeRatio(nil, 5))
}
