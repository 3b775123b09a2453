package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"sentinel/internal/gateway/exchange"
	"sentinel/internal/logger"
	"sentinel/internal/metrics"
	"sentinel/internal/quantize"
)

// attemptRecord is one entry in the intent's decision trail. The sequence of
// records reconstructs exactly which ladder rungs and retries were tried.
type attemptRecord struct {
	Attempt  int    `json:"attempt"`
	Class    string `json:"class,omitempty"`
	Leverage int    `json:"leverage"`
	Quantity string `json:"quantity"`
	Backoff  string `json:"backoff,omitempty"`
	Result   string `json:"result"`
	Error    string `json:"error,omitempty"`
}

const (
	attemptPlaced   = "placed"
	attemptRejected = "rejected"
	attemptTerminal = "terminal"
)

// defaultMaxAttempts bounds the whole fallback run when retry_max_attempts is
// unset. It covers the longest legal path: full leverage ladder plus cash.
const defaultMaxAttempts = 6

// placeWithFallback drives one placement through the error-class policy:
//
//	auth                -> one cash retry if the order was leveraged
//	insufficient margin -> step down the leverage ladder, then cash
//	bad precision       -> requantize once against a coarser step
//	rate limit          -> exponential backoff, bounded by the attempt cap
//	unknown             -> terminal immediately
//
// Each downgrade is one-way: a cash order never regains leverage and a
// coarsened quantity never goes fine again.
func (o *Orchestrator) placeWithFallback(ctx context.Context, req exchange.OrderRequest, inst *quantize.Instrument, rawQty decimal.Decimal, attempts *[]attemptRecord) (*exchange.OrderAck, error) {
	maxAttempts := o.cfg.RetryMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	cashTried := false
	coarsened := false
	step := decimal.Zero
	if inst != nil {
		step = inst.StepSize
	}
	backoff := time.Second

	for attempt := 1; ; attempt++ {
		ack, err := o.client.PlaceOrder(ctx, req)
		rec := attemptRecord{
			Attempt:  attempt,
			Leverage: req.Leverage,
			Quantity: req.Quantity,
		}
		if err == nil {
			rec.Result = attemptPlaced
			*attempts = append(*attempts, rec)
			return ack, nil
		}
		rec.Error = err.Error()

		apiErr, ok := exchange.AsAPIError(err)
		if !ok {
			rec.Result = attemptTerminal
			*attempts = append(*attempts, rec)
			return nil, err
		}
		class := apiErr.Class()
		rec.Class = class.String()

		if attempt >= maxAttempts {
			rec.Result = attemptTerminal
			*attempts = append(*attempts, rec)
			metrics.FallbackAttempts.WithLabelValues(class.String(), attemptTerminal).Inc()
			return nil, fmt.Errorf("placement gave up after %d attempts: %w", attempt, err)
		}

		switch class {
		case exchange.ClassAuth:
			// A leveraged order can fail on key permissions that a plain cash
			// order passes. One downgrade, then give up.
			if req.Leverage > 1 && !cashTried {
				cashTried = true
				req.Leverage = 0
				logger.Warnf("engine: auth rejection on %s, retrying as cash order", req.Symbol)
			} else {
				rec.Result = attemptTerminal
				*attempts = append(*attempts, rec)
				metrics.FallbackAttempts.WithLabelValues(class.String(), attemptTerminal).Inc()
				return nil, err
			}

		case exchange.ClassInsufficientMargin:
			next, ok := o.nextLeverage(req.Leverage)
			if ok {
				logger.Warnf("engine: margin rejection on %s at %dx, stepping down to %dx", req.Symbol, req.Leverage, next)
				req.Leverage = next
			} else if !cashTried {
				cashTried = true
				req.Leverage = 0
				logger.Warnf("engine: margin rejection on %s, ladder exhausted, retrying as cash order", req.Symbol)
			} else {
				rec.Result = attemptTerminal
				*attempts = append(*attempts, rec)
				metrics.FallbackAttempts.WithLabelValues(class.String(), attemptTerminal).Inc()
				return nil, err
			}

		case exchange.ClassBadPrecision:
			if coarsened || !step.IsPositive() {
				rec.Result = attemptTerminal
				*attempts = append(*attempts, rec)
				metrics.FallbackAttempts.WithLabelValues(class.String(), attemptTerminal).Inc()
				return nil, err
			}
			coarsened = true
			step = quantize.Coarsen(step)
			qty, qErr := quantize.Quantize(rawQty, step, quantize.RoundDown)
			if qErr != nil {
				rec.Result = attemptTerminal
				*attempts = append(*attempts, rec)
				return nil, fmt.Errorf("requantize after precision rejection: %w", qErr)
			}
			if qtyDec, pErr := decimal.NewFromString(qty); pErr != nil || !qtyDec.IsPositive() {
				rec.Result = attemptTerminal
				*attempts = append(*attempts, rec)
				return nil, fmt.Errorf("%s: quantity %s vanished at coarser step %s", ReasonQuantizeFailed, qty, step)
			}
			logger.Warnf("engine: precision rejection on %s, requantized %s -> %s", req.Symbol, req.Quantity, qty)
			req.Quantity = qty

		case exchange.ClassRateLimit:
			rec.Backoff = backoff.String()
			logger.Warnf("engine: rate limited on %s, backing off %s", req.Symbol, backoff)
			if waitErr := o.waitBackoff(ctx, backoff); waitErr != nil {
				rec.Result = attemptTerminal
				*attempts = append(*attempts, rec)
				return nil, waitErr
			}
			backoff *= 2

		default:
			rec.Result = attemptTerminal
			*attempts = append(*attempts, rec)
			metrics.FallbackAttempts.WithLabelValues(class.String(), attemptTerminal).Inc()
			return nil, err
		}

		rec.Result = attemptRejected
		*attempts = append(*attempts, rec)
		metrics.FallbackAttempts.WithLabelValues(class.String(), attemptRejected).Inc()
	}
}

// waitBackoff pauses for d or until ctx is cancelled, whichever comes first.
// Tests inject o.sleep to skip the wait; the injected path still reports a
// cancelled context so the caller bails out the same way.
func (o *Orchestrator) waitBackoff(ctx context.Context, d time.Duration) error {
	if o.sleep != nil {
		o.sleep(d)
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// nextLeverage returns the highest ladder entry strictly below current.
// The ladder is validated as descending at config load, but scanning for the
// maximum below current keeps this correct either way.
func (o *Orchestrator) nextLeverage(current int) (int, bool) {
	if current <= 1 {
		return 0, false
	}
	best := 0
	for _, lv := range o.cfg.LeverageLadder {
		if lv < current && lv > best {
			best = lv
		}
	}
	if best == 0 {
		return 0, false
	}
	return best, true
}
