package throttle

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel/internal/store/model"
)

type fakeStore struct {
	states map[string]*model.ThrottleStateModel
}

func newFakeStore() *fakeStore {
	return &fakeStore{states: make(map[string]*model.ThrottleStateModel)}
}

func (f *fakeStore) key(symbol, side, strategy string) string {
	return symbol + "|" + side + "|" + strategy
}

func (f *fakeStore) GetThrottle(_ context.Context, symbol, side, strategy string) (*model.ThrottleStateModel, error) {
	state, ok := f.states[f.key(symbol, side, strategy)]
	if !ok {
		return nil, nil
	}
	cp := *state
	return &cp, nil
}

func (f *fakeStore) UpsertThrottle(_ context.Context, state *model.ThrottleStateModel) error {
	cp := *state
	f.states[f.key(state.Symbol, state.Side, state.StrategyKey)] = &cp
	return nil
}

func (f *fakeStore) ResetThrottle(_ context.Context, symbol, side string) error {
	for _, state := range f.states {
		if state.Symbol != symbol {
			continue
		}
		if side != "" && state.Side != side {
			continue
		}
		state.LastAllowedUnix = nil
		state.LastAllowedPrice = ""
		state.ForceNext = true
	}
	return nil
}

var (
	testKey    = Key{Symbol: "BTCUSDT", Side: "BUY", StrategyKey: "rsi"}
	testLimits = Limits{
		MinInterval:       60 * time.Second,
		MinPriceChangePct: decimal.NewFromFloat(1.0),
	}
)

func evalAt(t *testing.T, g *Gate, sec int64, price string) Decision {
	t.Helper()
	d, err := g.Evaluate(context.Background(), testKey, decimal.RequireFromString(price),
		time.Unix(sec, 0), testLimits)
	require.NoError(t, err)
	return d
}

func TestEvaluateDeterministicSequence(t *testing.T) {
	g := NewGate(newFakeStore())

	// t=0: first evaluation, no prior state.
	assert.True(t, evalAt(t, g, 0, "100").Allowed)

	// t=30: interval not elapsed.
	d := evalAt(t, g, 30, "100.5")
	assert.False(t, d.Allowed)
	assert.Equal(t, BlockIntervalNotElapsed, d.Reason)

	// t=61: interval ok, but delta 0.5% < 1%.
	d = evalAt(t, g, 61, "100.5")
	assert.False(t, d.Allowed)
	assert.Equal(t, BlockDeltaTooSmall, d.Reason)

	// t=61: both conditions hold.
	assert.True(t, evalAt(t, g, 61, "102").Allowed)
}

func TestBlockLeavesStateUntouched(t *testing.T) {
	store := newFakeStore()
	g := NewGate(store)

	assert.True(t, evalAt(t, g, 0, "100").Allowed)
	before := *store.states[store.key("BTCUSDT", "BUY", "rsi")]

	assert.False(t, evalAt(t, g, 30, "100.2").Allowed)
	after := *store.states[store.key("BTCUSDT", "BUY", "rsi")]
	assert.Equal(t, before, after)
}

func TestForceNextIsSingleUse(t *testing.T) {
	g := NewGate(newFakeStore())

	assert.True(t, evalAt(t, g, 0, "100").Allowed)
	require.NoError(t, g.Reset(context.Background(), testKey))

	// Immediately after reset: allowed despite zero elapsed time and delta.
	d := evalAt(t, g, 1, "100")
	assert.True(t, d.Allowed)
	assert.True(t, d.Forced)

	// The very next evaluation throttles normally again.
	d = evalAt(t, g, 2, "100")
	assert.False(t, d.Allowed)
	assert.Equal(t, BlockIntervalNotElapsed, d.Reason)
}

func TestZeroLimitDisablesOneDimensionOnly(t *testing.T) {
	g := NewGate(newFakeStore())
	ctx := context.Background()
	noInterval := Limits{MinPriceChangePct: decimal.NewFromFloat(1.0)}

	d, err := g.Evaluate(ctx, testKey, decimal.RequireFromString("100"), time.Unix(0, 0), noInterval)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	// No interval limit, so an instant re-evaluation is judged on delta alone.
	d, err = g.Evaluate(ctx, testKey, decimal.RequireFromString("100.1"), time.Unix(0, 0), noInterval)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, BlockDeltaTooSmall, d.Reason)

	d, err = g.Evaluate(ctx, testKey, decimal.RequireFromString("101.5"), time.Unix(0, 0), noInterval)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestResetScopeBySide(t *testing.T) {
	store := newFakeStore()
	g := NewGate(store)
	ctx := context.Background()

	buyKey := Key{Symbol: "ETHUSDT", Side: "BUY", StrategyKey: "rsi"}
	sellKey := Key{Symbol: "ETHUSDT", Side: "SELL", StrategyKey: "rsi"}
	limits := Limits{MinInterval: time.Hour}

	for _, k := range []Key{buyKey, sellKey} {
		d, err := g.Evaluate(ctx, k, decimal.RequireFromString("2000"), time.Unix(0, 0), limits)
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}

	require.NoError(t, g.ResetScope(ctx, "ETHUSDT", "BUY"))

	d, err := g.Evaluate(ctx, buyKey, decimal.RequireFromString("2000"), time.Unix(1, 0), limits)
	require.NoError(t, err)
	assert.True(t, d.Allowed, "buy side was reset")

	d, err = g.Evaluate(ctx, sellKey, decimal.RequireFromString("2000"), time.Unix(1, 0), limits)
	require.NoError(t, err)
	assert.False(t, d.Allowed, "sell side keeps throttling")
}

func TestEvaluateRejectsNonPositivePrice(t *testing.T) {
	g := NewGate(newFakeStore())
	_, err := g.Evaluate(context.Background(), testKey, decimal.Zero, time.Now(), testLimits)
	assert.Error(t, err)
}
