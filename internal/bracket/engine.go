// Package bracket creates the protective stop-loss and take-profit pair for a
// filled entry order. The pair is atomic: either both legs exist afterwards,
// or neither does, or the failure is escalated to the operator.
package bracket

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"sentinel/internal/config"
	"sentinel/internal/gateway/exchange"
	"sentinel/internal/gateway/notifier"
	"sentinel/internal/logger"
	"sentinel/internal/metrics"
	"sentinel/internal/quantize"
	"sentinel/internal/store/model"
)

type bracketStore interface {
	FindBracket(ctx context.Context, parentOrderID string) (*model.BracketAttemptModel, error)
	SaveBracket(ctx context.Context, attempt *model.BracketAttemptModel) error
	OrdersByParent(ctx context.Context, parentOrderID string) ([]model.OrderModel, error)
	SaveOrder(ctx context.Context, order *model.OrderModel) error
	UpdateOrderStatus(ctx context.Context, orderID, status string) error
	SaveNotification(ctx context.Context, n *model.NotificationModel) error
}

// Engine places SL/TP brackets. It never auto-retries a FAILED_NO_ROLLBACK
// parent: once that outcome is recorded, only an operator resolves it.
type Engine struct {
	store  bracketStore
	client exchange.Client
	notify notifier.Notifier
	cfg    config.EngineConfig

	sleep func(time.Duration)
}

func New(store bracketStore, client exchange.Client, notify notifier.Notifier, cfg config.EngineConfig) *Engine {
	return &Engine{
		store:  store,
		client: client,
		notify: notify,
		cfg:    cfg,
		sleep:  time.Sleep,
	}
}

var errNotFilled = errors.New("bracket: parent order did not fill")

// HandleParentOrder waits for the parent to fill, then creates the SL and TP
// legs. Idempotent per parent: a recorded attempt, whatever its outcome,
// suppresses a second pass.
func (e *Engine) HandleParentOrder(ctx context.Context, parent model.OrderModel, slPct, tpPct float64) error {
	prior, err := e.store.FindBracket(ctx, parent.OrderID)
	if err != nil {
		return fmt.Errorf("bracket: attempt lookup: %w", err)
	}
	if prior != nil {
		logger.Infof("bracket: parent %s already has attempt outcome=%s, skipping", parent.OrderID, prior.Outcome)
		return nil
	}
	// Covers a crash between leg placement and attempt recording.
	if legs, err := e.store.OrdersByParent(ctx, parent.OrderID); err != nil {
		return fmt.Errorf("bracket: legs lookup: %w", err)
	} else if len(legs) > 0 {
		logger.Warnf("bracket: parent %s already has %d legs but no recorded attempt, skipping", parent.OrderID, len(legs))
		return nil
	}

	fill, err := e.awaitFill(ctx, parent.Symbol, parent.OrderID)
	if err != nil {
		if errors.Is(err, errNotFilled) {
			logger.Warnf("bracket: parent %s never filled, no bracket placed", parent.OrderID)
			return nil
		}
		return err
	}

	entrySide := exchange.Side(parent.Side)
	slPrice, tpPrice, err := e.protectivePrices(ctx, parent.Symbol, entrySide, fill.avgPrice, slPct, tpPct)
	if err != nil {
		return err
	}

	attempt := &model.BracketAttemptModel{ParentOrderID: parent.OrderID}

	slAck, err := e.placeLeg(ctx, parent, entrySide.Opposite(), exchange.TypeStopLoss, fill.quantity, slPrice)
	if err != nil {
		attempt.Outcome = model.BracketFailedNoRollback
		attempt.FailureReason = fmt.Sprintf("SL placement: %v", err)
		e.record(ctx, attempt)
		e.escalate(ctx, parent, fmt.Sprintf("Stop-loss placement failed for %s (parent %s): %v. Position is UNPROTECTED.",
			parent.Symbol, parent.OrderID, err))
		return fmt.Errorf("bracket: SL placement: %w", err)
	}
	attempt.SLOrderID = slAck.OrderID
	e.saveLeg(ctx, parent, slAck, exchange.TypeStopLoss, fill.quantity, slPrice)

	tpAck, err := e.placeLeg(ctx, parent, entrySide.Opposite(), exchange.TypeTakeProfit, fill.quantity, tpPrice)
	if err == nil {
		attempt.TPOrderID = tpAck.OrderID
		attempt.Outcome = model.BracketBothCreated
		e.saveLeg(ctx, parent, tpAck, exchange.TypeTakeProfit, fill.quantity, tpPrice)
		e.record(ctx, attempt)
		logger.Infof("bracket: parent %s protected, SL=%s TP=%s", parent.OrderID, slAck.OrderID, tpAck.OrderID)
		return nil
	}

	// TP failed with a live SL: roll the SL back so the position is never
	// half-bracketed.
	logger.Warnf("bracket: TP placement for parent %s failed (%v), rolling back SL %s", parent.OrderID, err, slAck.OrderID)
	if cancelErr := e.client.CancelOrder(ctx, parent.Symbol, slAck.OrderID); cancelErr != nil {
		attempt.Outcome = model.BracketFailedNoRollback
		attempt.FailureReason = fmt.Sprintf("TP placement: %v; SL cancel: %v", err, cancelErr)
		e.record(ctx, attempt)
		e.escalate(ctx, parent, fmt.Sprintf("Bracket rollback failed for %s (parent %s): take-profit rejected and stop-loss %s could not be cancelled. Manual intervention required.",
			parent.Symbol, parent.OrderID, slAck.OrderID))
		return fmt.Errorf("bracket: rollback of SL %s: %v (after TP failure: %w)", slAck.OrderID, cancelErr, err)
	}

	if uErr := e.store.UpdateOrderStatus(ctx, slAck.OrderID, string(exchange.StatusCancelled)); uErr != nil {
		logger.Errorf("bracket: mark SL %s cancelled: %v", slAck.OrderID, uErr)
	}
	attempt.Outcome = model.BracketRolledBack
	attempt.FailureReason = fmt.Sprintf("TP placement: %v", err)
	e.record(ctx, attempt)
	e.notifyBracket(ctx, notifier.SeverityCritical, parent,
		fmt.Sprintf("Bracket for %s rolled back: take-profit rejected (%v), stop-loss cancelled. Position has NO protective orders.", parent.Symbol, err))
	return fmt.Errorf("bracket: TP placement: %w", err)
}

type fillResult struct {
	quantity decimal.Decimal
	avgPrice decimal.Decimal
}

// awaitFill polls the parent until FILLED or the poll budget runs out.
// ErrOrderNotFound counts as a retryable poll: the exchange may not have
// propagated the order yet.
func (e *Engine) awaitFill(ctx context.Context, symbol, orderID string) (*fillResult, error) {
	attempts := e.cfg.FillPollAttempts
	if attempts <= 0 {
		attempts = 10
	}
	interval := e.cfg.FillPollInterval()
	if interval <= 0 {
		interval = 2 * time.Second
	}

	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
			e.sleep(interval)
		}
		state, err := e.client.GetOrderStatus(ctx, symbol, orderID)
		if errors.Is(err, exchange.ErrOrderNotFound) {
			continue
		}
		if err != nil {
			logger.Warnf("bracket: poll %d for order %s: %v", i+1, orderID, err)
			continue
		}
		switch state.Status {
		case exchange.StatusFilled:
			qty, qErr := decimal.NewFromString(state.FilledQuantity)
			price, pErr := decimal.NewFromString(state.AvgPrice)
			if qErr != nil || pErr != nil || !qty.IsPositive() || !price.IsPositive() {
				return nil, fmt.Errorf("bracket: order %s filled with unusable qty=%q avg=%q",
					orderID, state.FilledQuantity, state.AvgPrice)
			}
			return &fillResult{quantity: qty, avgPrice: price}, nil
		case exchange.StatusCancelled, exchange.StatusRejected:
			return nil, fmt.Errorf("%w: order %s is %s", errNotFilled, orderID, state.Status)
		}
	}
	return nil, fmt.Errorf("%w: order %s still open after %d polls", errNotFilled, orderID, attempts)
}

// protectivePrices computes the SL/TP trigger prices from the actual fill
// price and snaps them onto the tick grid, SL down and TP up.
func (e *Engine) protectivePrices(ctx context.Context, symbol string, entrySide exchange.Side, avgPrice decimal.Decimal, slPct, tpPct float64) (string, string, error) {
	if slPct <= 0 || tpPct <= 0 {
		return "", "", fmt.Errorf("bracket: non-positive SL/TP percentages (%v, %v)", slPct, tpPct)
	}
	hundred := decimal.NewFromInt(100)
	slOff := avgPrice.Mul(decimal.NewFromFloat(slPct)).Div(hundred)
	tpOff := avgPrice.Mul(decimal.NewFromFloat(tpPct)).Div(hundred)

	var slRaw, tpRaw decimal.Decimal
	if entrySide == exchange.SideBuy {
		slRaw = avgPrice.Sub(slOff)
		tpRaw = avgPrice.Add(tpOff)
	} else {
		slRaw = avgPrice.Add(slOff)
		tpRaw = avgPrice.Sub(tpOff)
	}
	if !slRaw.IsPositive() || !tpRaw.IsPositive() {
		return "", "", fmt.Errorf("bracket: protective price went non-positive from avg %s", avgPrice)
	}

	inst, err := e.client.InstrumentInfo(ctx, symbol)
	if err != nil {
		logger.Warnf("bracket: instrument info for %s unavailable: %v", symbol, err)
		inst = nil
	}
	closeSide := string(entrySide.Opposite())
	sl := quantize.Price(inst, slRaw, quantize.PriceMode(closeSide, string(exchange.TypeStopLoss)))
	tp := quantize.Price(inst, tpRaw, quantize.PriceMode(closeSide, string(exchange.TypeTakeProfit)))
	return sl, tp, nil
}

func (e *Engine) placeLeg(ctx context.Context, parent model.OrderModel, side exchange.Side, typ exchange.OrderType, qty decimal.Decimal, stopPrice string) (*exchange.OrderAck, error) {
	return e.client.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:        parent.Symbol,
		Side:          side,
		Type:          typ,
		Quantity:      qty.String(),
		StopPrice:     stopPrice,
		ReduceOnly:    true,
		ClientOrderID: "snt-br-" + uuid.NewString()[:16],
	})
}

func (e *Engine) saveLeg(ctx context.Context, parent model.OrderModel, ack *exchange.OrderAck, typ exchange.OrderType, qty decimal.Decimal, stopPrice string) {
	leg := &model.OrderModel{
		OrderID:       ack.OrderID,
		IntentID:      parent.IntentID,
		Symbol:        parent.Symbol,
		Side:          string(exchange.Side(parent.Side).Opposite()),
		Type:          string(typ),
		Quantity:      qty.String(),
		Price:         stopPrice,
		Status:        string(ack.Status),
		ParentOrderID: parent.OrderID,
	}
	if err := e.store.SaveOrder(ctx, leg); err != nil {
		logger.Errorf("bracket: persist %s leg %s: %v", typ, ack.OrderID, err)
	}
}

func (e *Engine) record(ctx context.Context, attempt *model.BracketAttemptModel) {
	if err := e.store.SaveBracket(ctx, attempt); err != nil {
		logger.Errorf("bracket: persist attempt for parent %s: %v", attempt.ParentOrderID, err)
	}
	metrics.BracketOutcomes.WithLabelValues(attempt.Outcome).Inc()
}

// escalate sends the operator-severity alert for an unprotected position.
func (e *Engine) escalate(ctx context.Context, parent model.OrderModel, text string) {
	sendErr := e.notify.Send(notifier.SeverityOperator, parent.Symbol, text, "")
	rec := &model.NotificationModel{
		Kind:      model.NotificationKindOperator,
		Severity:  string(notifier.SeverityOperator),
		Symbol:    parent.Symbol,
		Text:      text,
		Delivered: sendErr == nil,
	}
	if err := e.store.SaveNotification(ctx, rec); err != nil {
		logger.Errorf("bracket: persist operator notification: %v", err)
	}
}

func (e *Engine) notifyBracket(ctx context.Context, severity notifier.Severity, parent model.OrderModel, text string) {
	sendErr := e.notify.Send(severity, parent.Symbol, text, "")
	rec := &model.NotificationModel{
		Kind:      model.NotificationKindBracket,
		Severity:  string(severity),
		Symbol:    parent.Symbol,
		Text:      text,
		Delivered: sendErr == nil,
	}
	if err := e.store.SaveNotification(ctx, rec); err != nil {
		logger.Errorf("bracket: persist bracket notification: %v", err)
	}
}
