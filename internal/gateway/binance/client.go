package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"sentinel/internal/gateway/exchange"
	"sentinel/internal/logger"
	"sentinel/internal/quantize"
)

const quoteAsset = "USDT"

// orderNotFoundCode is Binance's "Order does not exist" rejection.
const orderNotFoundCode = -2013

// Client implements exchange.Client and exchange.MarketData against the
// Binance USDT-M futures REST API.
type Client struct {
	cfg    Config
	client *futures.Client

	instMu      sync.Mutex
	instruments map[string]*quantize.Instrument

	levMu    sync.Mutex
	leverage map[string]int
}

func New(cfg Config) *Client {
	final := cfg.withDefaults()
	fc := futures.NewClient(final.APIKey, final.APISecret)
	fc.BaseURL = strings.TrimRight(final.RESTBaseURL, "/")
	fc.HTTPClient = &http.Client{Timeout: final.HTTPTimeout}
	return &Client{
		cfg:         final,
		client:      fc,
		instruments: make(map[string]*quantize.Instrument),
		leverage:    make(map[string]int),
	}
}

func (c *Client) Name() string { return "binance-futures" }

// PlaceOrder places one order. When the request carries leverage the symbol
// leverage is adjusted first; a leverage-change rejection surfaces as the
// placement error so the fallback policy sees the real cause.
func (c *Client) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderAck, error) {
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		return nil, fmt.Errorf("binance: symbol is required")
	}
	if req.Quantity == "" {
		return nil, fmt.Errorf("binance: quantity is required")
	}

	lev := req.Leverage
	if lev <= 0 {
		lev = 1
	}
	if err := c.ensureLeverage(ctx, symbol, lev); err != nil {
		return nil, normalizeError(err)
	}

	svc := c.client.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(req.Side)).
		Type(futures.OrderType(req.Type)).
		Quantity(req.Quantity)
	if req.Type == exchange.TypeLimit {
		svc = svc.Price(req.Price).TimeInForce(futures.TimeInForceTypeGTC)
	}
	if req.StopPrice != "" {
		svc = svc.StopPrice(req.StopPrice)
	}
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}
	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return nil, normalizeError(err)
	}
	return &exchange.OrderAck{
		OrderID: strconv.FormatInt(res.OrderID, 10),
		Symbol:  res.Symbol,
		Status:  exchange.OrderStatus(res.Status),
	}, nil
}

func (c *Client) GetOrderStatus(ctx context.Context, symbol, orderID string) (*exchange.OrderState, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("binance: bad order id %q: %w", orderID, err)
	}
	res, err := c.client.NewGetOrderService().
		Symbol(strings.ToUpper(symbol)).
		OrderID(id).
		Do(ctx)
	if err != nil {
		norm := normalizeError(err)
		if apiErr, ok := exchange.AsAPIError(norm); ok && apiErr.Code == orderNotFoundCode {
			return nil, exchange.ErrOrderNotFound
		}
		return nil, norm
	}
	return &exchange.OrderState{
		OrderID:        strconv.FormatInt(res.OrderID, 10),
		Status:         exchange.OrderStatus(res.Status),
		FilledQuantity: res.ExecutedQuantity,
		AvgPrice:       res.AvgPrice,
		UpdatedAt:      time.UnixMilli(res.UpdateTime),
	}, nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("binance: bad order id %q: %w", orderID, err)
	}
	_, err = c.client.NewCancelOrderService().
		Symbol(strings.ToUpper(symbol)).
		OrderID(id).
		Do(ctx)
	if err != nil {
		return normalizeError(err)
	}
	return nil
}

// InstrumentInfo returns the tick/step/notional filters for one symbol. The
// full exchange info payload is fetched once and cached; an unknown symbol
// forces one refresh before giving up.
func (c *Client) InstrumentInfo(ctx context.Context, symbol string) (*quantize.Instrument, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	c.instMu.Lock()
	defer c.instMu.Unlock()
	if inst, ok := c.instruments[symbol]; ok {
		return inst, nil
	}
	if err := c.refreshInstrumentsLocked(ctx); err != nil {
		return nil, err
	}
	inst, ok := c.instruments[symbol]
	if !ok {
		return nil, fmt.Errorf("binance: symbol %s not in exchange info", symbol)
	}
	return inst, nil
}

func (c *Client) refreshInstrumentsLocked(ctx context.Context) error {
	info, err := c.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return normalizeError(err)
	}
	count := 0
	for i := range info.Symbols {
		s := info.Symbols[i]
		inst := &quantize.Instrument{Symbol: s.Symbol}
		if pf := s.PriceFilter(); pf != nil {
			if tick, err := decimal.NewFromString(pf.TickSize); err == nil {
				inst.TickSize = tick
			}
		}
		if lf := s.LotSizeFilter(); lf != nil {
			if step, err := decimal.NewFromString(lf.StepSize); err == nil {
				inst.StepSize = step
			}
		}
		if nf := s.MinNotionalFilter(); nf != nil {
			if notional, err := decimal.NewFromString(nf.Notional); err == nil {
				inst.MinNotional = notional
			}
		}
		c.instruments[s.Symbol] = inst
		count++
	}
	logger.Debugf("binance: cached filters for %d symbols", count)
	return nil
}

func (c *Client) AvailableBalance(ctx context.Context) (decimal.Decimal, error) {
	balances, err := c.client.NewGetBalanceService().Do(ctx)
	if err != nil {
		return decimal.Zero, normalizeError(err)
	}
	for _, b := range balances {
		if b.Asset == quoteAsset {
			avail, err := decimal.NewFromString(b.AvailableBalance)
			if err != nil {
				return decimal.Zero, fmt.Errorf("binance: bad balance %q: %w", b.AvailableBalance, err)
			}
			return avail, nil
		}
	}
	return decimal.Zero, nil
}

func (c *Client) Candles(ctx context.Context, symbol, interval string, limit int) ([]exchange.Candle, error) {
	if limit <= 0 {
		limit = 200
	}
	klines, err := c.client.NewKlinesService().
		Symbol(strings.ToUpper(symbol)).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, normalizeError(err)
	}
	out := make([]exchange.Candle, 0, len(klines))
	for _, k := range klines {
		out = append(out, exchange.Candle{
			OpenTime:  time.UnixMilli(k.OpenTime),
			CloseTime: time.UnixMilli(k.CloseTime),
			Open:      parseFloat(k.Open),
			High:      parseFloat(k.High),
			Low:       parseFloat(k.Low),
			Close:     parseFloat(k.Close),
			Volume:    parseFloat(k.Volume),
		})
	}
	return out, nil
}

func (c *Client) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	prices, err := c.client.NewListPricesService().Symbol(strings.ToUpper(symbol)).Do(ctx)
	if err != nil {
		return decimal.Zero, normalizeError(err)
	}
	if len(prices) == 0 {
		return decimal.Zero, fmt.Errorf("binance: no price for %s", symbol)
	}
	return decimal.NewFromString(prices[0].Price)
}

func (c *Client) ensureLeverage(ctx context.Context, symbol string, leverage int) error {
	c.levMu.Lock()
	current, ok := c.leverage[symbol]
	c.levMu.Unlock()
	if ok && current == leverage {
		return nil
	}
	_, err := c.client.NewChangeLeverageService().
		Symbol(symbol).
		Leverage(leverage).
		Do(ctx)
	if err != nil {
		return err
	}
	c.levMu.Lock()
	c.leverage[symbol] = leverage
	c.levMu.Unlock()
	return nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// normalizeError converts SDK and transport errors into *exchange.APIError
// where a Binance error code can be recovered. The raw payload is preserved
// verbatim for the decision trail.
func normalizeError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if common.IsAPIError(err) {
		apiErr = err.(*common.APIError)
		raw, _ := json.Marshal(map[string]any{"code": apiErr.Code, "msg": apiErr.Message})
		return &exchange.APIError{
			Code:    int(apiErr.Code),
			Message: apiErr.Message,
			Raw:     string(raw),
		}
	}
	// Some transport paths surface the response body inside the error text.
	if body := extractJSONBody(err.Error()); body != "" {
		code := gjson.Get(body, "code")
		msg := gjson.Get(body, "msg")
		if code.Exists() {
			return &exchange.APIError{
				Code:    int(code.Int()),
				Message: msg.String(),
				Raw:     body,
			}
		}
	}
	return err
}

func extractJSONBody(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	candidate := s[start : end+1]
	if !gjson.Valid(candidate) {
		return ""
	}
	return candidate
}
