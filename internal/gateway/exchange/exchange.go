package exchange

import (
	"context"

	"github.com/shopspring/decimal"

	"sentinel/internal/quantize"
)

// Client is the order-side contract against the remote exchange. Quantity and
// price fields cross this boundary as quantizer-produced decimal strings,
// never as floats. A nil error from PlaceOrder always carries an order id;
// the caller may not assume placement on any other outcome.
type Client interface {
	Name() string

	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderAck, error)

	GetOrderStatus(ctx context.Context, symbol, orderID string) (*OrderState, error)

	CancelOrder(ctx context.Context, symbol, orderID string) error

	InstrumentInfo(ctx context.Context, symbol string) (*quantize.Instrument, error)

	AvailableBalance(ctx context.Context) (decimal.Decimal, error)
}

// MarketData is the read-side contract used by the signal evaluator.
type MarketData interface {
	Candles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)

	LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}
