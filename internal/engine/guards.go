package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"sentinel/internal/config"
	"sentinel/internal/logger"
	"sentinel/internal/signal"
)

type guardResult struct {
	ok      bool
	reason  string
	message string
}

func guardPass() guardResult { return guardResult{ok: true} }

func guardBlock(reason, format string, args ...any) guardResult {
	return guardResult{reason: reason, message: fmt.Sprintf(format, args...)}
}

// runGuards walks the pre-placement checks in a fixed order and stops at the
// first block. The order matters: cheap config checks run before anything
// that touches the store or the exchange.
func (o *Orchestrator) runGuards(ctx context.Context, sig *signal.Signal, symCfg config.SymbolConfig, ictx *intentContext) guardResult {
	if res := o.guardTradingEnabled(symCfg); !res.ok {
		return res
	}
	if res := o.guardMaxOpenOrders(ctx, sig.Symbol); !res.ok {
		return res
	}
	if res := o.guardCooldown(ctx, sig.Symbol); !res.ok {
		return res
	}
	if res := o.guardIndicators(sig); !res.ok {
		return res
	}
	if res := o.guardPositionValue(ctx, sig.Symbol); !res.ok {
		return res
	}
	return o.guardBalance(ctx, ictx)
}

func (o *Orchestrator) guardTradingEnabled(symCfg config.SymbolConfig) guardResult {
	if !symCfg.TradeEnabled {
		return guardBlock(ReasonTradingDisabled, "trading disabled for %s", symCfg.Symbol)
	}
	return guardPass()
}

func (o *Orchestrator) guardMaxOpenOrders(ctx context.Context, symbol string) guardResult {
	if o.cfg.MaxOpenOrdersPerSymbol <= 0 {
		return guardPass()
	}
	n, err := o.store.CountOpenOrders(ctx, symbol)
	if err != nil {
		// Fail closed: an unreadable store must not let an order through.
		return guardBlock(ReasonMaxOpenOrders, "open order count unavailable: %v", err)
	}
	if n >= int64(o.cfg.MaxOpenOrdersPerSymbol) {
		return guardBlock(ReasonMaxOpenOrders, "%d open orders, limit %d", n, o.cfg.MaxOpenOrdersPerSymbol)
	}
	return guardPass()
}

func (o *Orchestrator) guardCooldown(ctx context.Context, symbol string) guardResult {
	cooldown := o.cfg.OrderCooldown()
	if cooldown <= 0 {
		return guardPass()
	}
	last, err := o.store.LastOrderCreatedAt(ctx, symbol)
	if err != nil {
		return guardBlock(ReasonOrderCooldown, "last order time unavailable: %v", err)
	}
	if last.IsZero() {
		return guardPass()
	}
	if elapsed := o.now().Sub(last); elapsed < cooldown {
		return guardBlock(ReasonOrderCooldown, "last order %s ago, cooldown %s",
			elapsed.Truncate(time.Second), cooldown)
	}
	return guardPass()
}

func (o *Orchestrator) guardIndicators(sig *signal.Signal) guardResult {
	for _, key := range []string{signal.IndicatorRSI, signal.IndicatorMA, signal.IndicatorVolumeRatio} {
		if _, ok := sig.Indicators[key]; !ok {
			return guardBlock(ReasonIndicatorsMissing, "indicator %q missing from signal", key)
		}
	}
	return guardPass()
}

// guardPositionValue caps total exposure per symbol: the summed notional of
// open orders must stay under position_value_multiple trade notionals.
func (o *Orchestrator) guardPositionValue(ctx context.Context, symbol string) guardResult {
	if o.cfg.PositionValueMultiple <= 0 {
		return guardPass()
	}
	open, err := o.store.ListOpenOrders(ctx, symbol)
	if err != nil {
		return guardBlock(ReasonPositionValueCap, "open orders unavailable: %v", err)
	}
	total := decimal.Zero
	for _, ord := range open {
		qty, qErr := decimal.NewFromString(ord.Quantity)
		price, pErr := decimal.NewFromString(ord.Price)
		if qErr != nil || pErr != nil {
			logger.Warnf("engine: order %s has non-decimal qty/price, skipping in exposure sum", ord.OrderID)
			continue
		}
		total = total.Add(qty.Mul(price))
	}
	limit := decimal.NewFromFloat(o.cfg.PositionValueMultiple).
		Mul(decimal.NewFromFloat(o.cfg.TradeNotionalUSD))
	if total.GreaterThanOrEqual(limit) {
		return guardBlock(ReasonPositionValueCap, "open exposure %s >= cap %s", total, limit)
	}
	return guardPass()
}

func (o *Orchestrator) guardBalance(ctx context.Context, ictx *intentContext) guardResult {
	bal, err := o.client.AvailableBalance(ctx)
	if err != nil {
		return guardBlock(ReasonInsufficientBalance, "balance unavailable: %v", err)
	}
	ictx.Balance = bal.String()
	lev := o.cfg.Leverage
	if lev < 1 {
		lev = 1
	}
	required := decimal.NewFromFloat(o.cfg.TradeNotionalUSD).Div(decimal.NewFromInt(int64(lev)))
	if bal.LessThan(required) {
		return guardBlock(ReasonInsufficientBalance, "balance %s < required margin %s", bal, required)
	}
	return guardPass()
}
