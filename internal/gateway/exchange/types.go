package exchange

import "time"

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the closing side for a position opened with s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

type OrderType string

const (
	TypeMarket     OrderType = "MARKET"
	TypeLimit      OrderType = "LIMIT"
	TypeStopLoss   OrderType = "STOP_MARKET"
	TypeTakeProfit OrderType = "TAKE_PROFIT_MARKET"
)

type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCancelled       OrderStatus = "CANCELED"
	StatusRejected        OrderStatus = "REJECTED"
)

// OrderRequest describes one order to place. Quantity, Price and StopPrice
// are exchange-legal decimal strings. Leverage 0 means a cash (1x) order with
// no leverage change on the exchange side.
type OrderRequest struct {
	Symbol        string
	Side          Side
	Type          OrderType
	Quantity      string
	Price         string
	StopPrice     string
	Leverage      int
	ReduceOnly    bool
	ClientOrderID string
}

// OrderAck is the successful placement response.
type OrderAck struct {
	OrderID string
	Symbol  string
	Status  OrderStatus
}

// OrderState is a status poll response. FilledQuantity and AvgPrice are the
// exchange's decimal strings, passed through untouched.
type OrderState struct {
	OrderID        string
	Status         OrderStatus
	FilledQuantity string
	AvgPrice       string
	UpdatedAt      time.Time
}

// Candle is one kline, oldest-first when returned in a slice.
type Candle struct {
	OpenTime  time.Time
	CloseTime time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}
