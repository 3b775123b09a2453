// Package quantize converts raw prices and quantities into exchange-legal
// decimal strings. All math stays in decimal form; binary floats never touch
// a value after it enters this package.
package quantize

import (
	"fmt"

	"github.com/shopspring/decimal"

	"sentinel/internal/logger"
)

// Mode selects the rounding direction for a quantization.
type Mode int

const (
	RoundDown Mode = iota
	RoundUp
)

// DefaultPrecision is used when instrument metadata is unavailable. Eight
// places is the finest granularity Binance futures accepts anywhere.
const DefaultPrecision = 8

// Instrument carries the exchange-mandated increments for one symbol.
type Instrument struct {
	Symbol      string
	TickSize    decimal.Decimal
	StepSize    decimal.Decimal
	MinNotional decimal.Decimal
}

// Quantize snaps raw onto the step grid in the given direction and renders it
// with exactly the step's decimal places, trailing zeros included.
func Quantize(raw, step decimal.Decimal, mode Mode) (string, error) {
	if raw.IsNegative() {
		return "", fmt.Errorf("quantize: negative value %s", raw)
	}
	if !step.IsPositive() {
		return "", fmt.Errorf("quantize: step must be positive, got %s", step)
	}
	units := raw.Div(step)
	switch mode {
	case RoundUp:
		units = units.Ceil()
	default:
		units = units.Floor()
	}
	return units.Mul(step).StringFixed(stepPlaces(step)), nil
}

// QuantizeFallback is used when no instrument metadata could be fetched.
// It truncates to DefaultPrecision and logs that the fallback fired so a
// metadata outage is visible in the decision trail.
func QuantizeFallback(symbol string, raw decimal.Decimal, mode Mode) string {
	logger.Warnf("quantize: no instrument metadata for %s, falling back to %d places", symbol, DefaultPrecision)
	if mode == RoundUp {
		return raw.RoundCeil(DefaultPrecision).StringFixed(DefaultPrecision)
	}
	return raw.RoundFloor(DefaultPrecision).StringFixed(DefaultPrecision)
}

// PriceMode returns the rounding direction a price quantization must use.
// Buy-side entries and stop-losses round down, sell-side entries and
// take-profits round up, so a snapped price is never less favorable than the
// computed one.
func PriceMode(side, orderType string) Mode {
	switch orderType {
	case "STOP_LOSS", "STOP_MARKET":
		return RoundDown
	case "TAKE_PROFIT", "TAKE_PROFIT_MARKET":
		return RoundUp
	}
	if side == "SELL" {
		return RoundUp
	}
	return RoundDown
}

// Price quantizes a price against the instrument tick size.
func Price(inst *Instrument, raw decimal.Decimal, mode Mode) string {
	if inst == nil || !inst.TickSize.IsPositive() {
		sym := ""
		if inst != nil {
			sym = inst.Symbol
		}
		return QuantizeFallback(sym, raw, mode)
	}
	out, err := Quantize(raw, inst.TickSize, mode)
	if err != nil {
		return QuantizeFallback(inst.Symbol, raw, mode)
	}
	return out
}

// Quantity quantizes a quantity against the instrument step size. Quantities
// always round down: rounding up would spend more than the caller asked for.
func Quantity(inst *Instrument, raw decimal.Decimal) string {
	if inst == nil || !inst.StepSize.IsPositive() {
		sym := ""
		if inst != nil {
			sym = inst.Symbol
		}
		return QuantizeFallback(sym, raw, RoundDown)
	}
	out, err := Quantize(raw, inst.StepSize, RoundDown)
	if err != nil {
		return QuantizeFallback(inst.Symbol, raw, RoundDown)
	}
	return out
}

// Coarsen returns a step one decimal place coarser, used by the fallback
// policy after a precision rejection. A step that is already integral is
// returned unchanged. The multiplier is 1e1, not the integer 10: the result
// must carry one fewer decimal place in its exponent, or the re-quantized
// value renders with the old precision.
func Coarsen(step decimal.Decimal) decimal.Decimal {
	if stepPlaces(step) == 0 {
		return step
	}
	return step.Mul(decimal.New(1, 1))
}

func stepPlaces(step decimal.Decimal) int32 {
	if exp := step.Exponent(); exp < 0 {
		return -exp
	}
	return 0
}
