// Package throttle decides whether a recurring signal may produce output.
// State is durable and read fresh on every evaluation; there is deliberately
// no in-memory last-alert cache beside it.
package throttle

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"sentinel/internal/logger"
	"sentinel/internal/store/model"
)

// Block reasons.
const (
	BlockIntervalNotElapsed = "THROTTLE_INTERVAL"
	BlockDeltaTooSmall      = "THROTTLE_PRICE_DELTA"
)

// Key identifies one throttle state row.
type Key struct {
	Symbol      string
	Side        string
	StrategyKey string
}

func (k Key) String() string {
	return k.Symbol + "/" + k.Side + "/" + k.StrategyKey
}

// Limits are the per-key thresholds. A zero value disables that dimension
// only; the other still applies.
type Limits struct {
	MinInterval       time.Duration
	MinPriceChangePct decimal.Decimal
}

// Decision is the evaluation outcome. Reason is set only on block.
type Decision struct {
	Allowed bool
	Forced  bool
	Reason  string
}

type stateStore interface {
	GetThrottle(ctx context.Context, symbol, side, strategy string) (*model.ThrottleStateModel, error)
	UpsertThrottle(ctx context.Context, state *model.ThrottleStateModel) error
	ResetThrottle(ctx context.Context, symbol, side string) error
}

// Gate owns ThrottleState. No other component writes these rows.
type Gate struct {
	store stateStore
}

func NewGate(store stateStore) *Gate {
	return &Gate{store: store}
}

// Evaluate applies the gate to one candidate signal. Both the elapsed-time
// and price-delta conditions must hold (AND, not OR): small fast moves and
// slow drifts are each blocked on their own. force_next bypasses both and is
// consumed exactly once, before the caller attempts any send.
func (g *Gate) Evaluate(ctx context.Context, key Key, price decimal.Decimal, now time.Time, limits Limits) (Decision, error) {
	if !price.IsPositive() {
		return Decision{}, fmt.Errorf("throttle: non-positive price %s for %s", price, key)
	}
	state, err := g.store.GetThrottle(ctx, key.Symbol, key.Side, key.StrategyKey)
	if err != nil {
		return Decision{}, err
	}
	if state == nil {
		state = &model.ThrottleStateModel{
			Symbol:      key.Symbol,
			Side:        key.Side,
			StrategyKey: key.StrategyKey,
		}
		if err := g.allow(ctx, state, price, now); err != nil {
			return Decision{}, err
		}
		return Decision{Allowed: true}, nil
	}

	if state.ForceNext {
		if err := g.allow(ctx, state, price, now); err != nil {
			return Decision{}, err
		}
		logger.Debugf("throttle: force_next consumed for %s", key)
		return Decision{Allowed: true, Forced: true}, nil
	}

	if limits.MinInterval > 0 && state.LastAllowedUnix != nil {
		elapsed := now.Sub(time.Unix(*state.LastAllowedUnix, 0))
		if elapsed < limits.MinInterval {
			return Decision{Reason: BlockIntervalNotElapsed}, nil
		}
	}
	if limits.MinPriceChangePct.IsPositive() && state.LastAllowedPrice != "" {
		last, err := decimal.NewFromString(state.LastAllowedPrice)
		if err != nil {
			return Decision{}, fmt.Errorf("throttle: corrupt stored price %q for %s: %w", state.LastAllowedPrice, key, err)
		}
		if last.IsPositive() {
			deltaPct := price.Sub(last).Abs().Div(last).Mul(decimal.NewFromInt(100))
			if deltaPct.LessThan(limits.MinPriceChangePct) {
				return Decision{Reason: BlockDeltaTooSmall}, nil
			}
		}
	}

	if err := g.allow(ctx, state, price, now); err != nil {
		return Decision{}, err
	}
	return Decision{Allowed: true}, nil
}

// allow records the candidate as the new baseline and clears force_next.
func (g *Gate) allow(ctx context.Context, state *model.ThrottleStateModel, price decimal.Decimal, now time.Time) error {
	ts := now.Unix()
	state.LastAllowedUnix = &ts
	state.LastAllowedPrice = price.String()
	state.ForceNext = false
	return g.store.UpsertThrottle(ctx, state)
}

// Reset clears the baseline for one key and arms force_next, so the next
// evaluation passes regardless of elapsed time or price. Called when the
// owning enable flag flips in either direction.
func (g *Gate) Reset(ctx context.Context, key Key) error {
	state, err := g.store.GetThrottle(ctx, key.Symbol, key.Side, key.StrategyKey)
	if err != nil {
		return err
	}
	if state == nil {
		// No state yet: the first evaluation passes anyway.
		return nil
	}
	state.LastAllowedUnix = nil
	state.LastAllowedPrice = ""
	state.ForceNext = true
	return g.store.UpsertThrottle(ctx, state)
}

// ResetScope resets every state row for a symbol, optionally restricted to
// one side. Side-specific flags (buy_alert_enabled) pass their side; the
// master switches pass "".
func (g *Gate) ResetScope(ctx context.Context, symbol, side string) error {
	return g.store.ResetThrottle(ctx, symbol, side)
}
