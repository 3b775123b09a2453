package bracket

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel/internal/config"
	"sentinel/internal/gateway/exchange"
	"sentinel/internal/gateway/notifier"
	"sentinel/internal/quantize"
	"sentinel/internal/store/model"
)

type fakeStore struct {
	mu            sync.Mutex
	attempts      map[string]*model.BracketAttemptModel
	orders        []model.OrderModel
	statusUpdates map[string]string
	notifications []model.NotificationModel
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		attempts:      make(map[string]*model.BracketAttemptModel),
		statusUpdates: make(map[string]string),
	}
}

func (f *fakeStore) FindBracket(_ context.Context, parentOrderID string) (*model.BracketAttemptModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.attempts[parentOrderID]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeStore) SaveBracket(_ context.Context, attempt *model.BracketAttemptModel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *attempt
	f.attempts[attempt.ParentOrderID] = &cp
	return nil
}

func (f *fakeStore) OrdersByParent(_ context.Context, parentOrderID string) ([]model.OrderModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.OrderModel
	for _, o := range f.orders {
		if o.ParentOrderID == parentOrderID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeStore) SaveOrder(_ context.Context, order *model.OrderModel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, *order)
	return nil
}

func (f *fakeStore) UpdateOrderStatus(_ context.Context, orderID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusUpdates[orderID] = status
	return nil
}

func (f *fakeStore) SaveNotification(_ context.Context, n *model.NotificationModel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifications = append(f.notifications, *n)
	return nil
}

type pollStep struct {
	state *exchange.OrderState
	err   error
}

type fakeClient struct {
	mu        sync.Mutex
	polls     []pollStep
	pollIdx   int
	placeErrs []error
	requests  []exchange.OrderRequest
	cancelErr error
	cancelled []string
}

func (f *fakeClient) Name() string { return "fake" }

func (f *fakeClient) PlaceOrder(_ context.Context, req exchange.OrderRequest) (*exchange.OrderAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	idx := len(f.requests) - 1
	if idx < len(f.placeErrs) && f.placeErrs[idx] != nil {
		return nil, f.placeErrs[idx]
	}
	return &exchange.OrderAck{OrderID: fmt.Sprintf("leg-%d", idx+1), Symbol: req.Symbol, Status: exchange.StatusNew}, nil
}

func (f *fakeClient) GetOrderStatus(_ context.Context, _, _ string) (*exchange.OrderState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pollIdx >= len(f.polls) {
		return nil, exchange.ErrOrderNotFound
	}
	step := f.polls[f.pollIdx]
	f.pollIdx++
	return step.state, step.err
}

func (f *fakeClient) CancelOrder(_ context.Context, _, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

func (f *fakeClient) InstrumentInfo(_ context.Context, symbol string) (*quantize.Instrument, error) {
	return &quantize.Instrument{
		Symbol:   symbol,
		TickSize: decimal.RequireFromString("0.01"),
		StepSize: decimal.RequireFromString("0.001"),
	}, nil
}

func (f *fakeClient) AvailableBalance(_ context.Context) (decimal.Decimal, error) {
	return decimal.NewFromInt(10000), nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	sends []notifier.Severity
}

func (f *fakeNotifier) Send(severity notifier.Severity, _, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, severity)
	return nil
}

func filledStep(qty, avg string) pollStep {
	return pollStep{state: &exchange.OrderState{
		OrderID:        "parent-1",
		Status:         exchange.StatusFilled,
		FilledQuantity: qty,
		AvgPrice:       avg,
	}}
}

func testParent(side exchange.Side) model.OrderModel {
	return model.OrderModel{
		OrderID:  "parent-1",
		IntentID: 7,
		Symbol:   "BTCUSDT",
		Side:     string(side),
		Type:     "MARKET",
		Quantity: "0.5",
		Price:    "100",
		Status:   "NEW",
	}
}

func newTestEngine(store *fakeStore, client *fakeClient, notify *fakeNotifier) *Engine {
	e := New(store, client, notify, config.EngineConfig{
		FillPollAttempts:    3,
		FillPollIntervalSec: 1,
	})
	e.sleep = func(time.Duration) {}
	return e
}

func TestBracketCreatesBothLegs(t *testing.T) {
	store := newFakeStore()
	client := &fakeClient{polls: []pollStep{filledStep("0.5", "100")}}
	notify := &fakeNotifier{}
	e := newTestEngine(store, client, notify)

	err := e.HandleParentOrder(context.Background(), testParent(exchange.SideBuy), 2.0, 4.0)
	require.NoError(t, err)

	require.Len(t, client.requests, 2)
	sl, tp := client.requests[0], client.requests[1]

	assert.Equal(t, exchange.TypeStopLoss, sl.Type)
	assert.Equal(t, exchange.SideSell, sl.Side)
	assert.Equal(t, "98.00", sl.StopPrice)
	assert.True(t, sl.ReduceOnly)
	assert.Equal(t, "0.5", sl.Quantity)

	assert.Equal(t, exchange.TypeTakeProfit, tp.Type)
	assert.Equal(t, exchange.SideSell, tp.Side)
	assert.Equal(t, "104.00", tp.StopPrice)
	assert.True(t, tp.ReduceOnly)

	attempt := store.attempts["parent-1"]
	require.NotNil(t, attempt)
	assert.Equal(t, model.BracketBothCreated, attempt.Outcome)
	assert.Equal(t, "leg-1", attempt.SLOrderID)
	assert.Equal(t, "leg-2", attempt.TPOrderID)

	require.Len(t, store.orders, 2)
	for _, leg := range store.orders {
		assert.Equal(t, "parent-1", leg.ParentOrderID)
		assert.Equal(t, int64(7), leg.IntentID)
	}
}

func TestBracketSellEntryInvertsPrices(t *testing.T) {
	store := newFakeStore()
	client := &fakeClient{polls: []pollStep{filledStep("0.5", "100")}}
	e := newTestEngine(store, client, &fakeNotifier{})

	err := e.HandleParentOrder(context.Background(), testParent(exchange.SideSell), 2.0, 4.0)
	require.NoError(t, err)

	require.Len(t, client.requests, 2)
	assert.Equal(t, exchange.SideBuy, client.requests[0].Side)
	assert.Equal(t, "102.00", client.requests[0].StopPrice)
	assert.Equal(t, "96.00", client.requests[1].StopPrice)
}

func TestBracketTPFailureRollsBackSL(t *testing.T) {
	store := newFakeStore()
	client := &fakeClient{
		polls:     []pollStep{filledStep("0.5", "100")},
		placeErrs: []error{nil, &exchange.APIError{Code: -9999, Message: "tp rejected"}},
	}
	notify := &fakeNotifier{}
	e := newTestEngine(store, client, notify)

	err := e.HandleParentOrder(context.Background(), testParent(exchange.SideBuy), 2.0, 4.0)
	require.Error(t, err)

	assert.Equal(t, []string{"leg-1"}, client.cancelled)
	assert.Equal(t, "CANCELED", store.statusUpdates["leg-1"])

	attempt := store.attempts["parent-1"]
	require.NotNil(t, attempt)
	assert.Equal(t, model.BracketRolledBack, attempt.Outcome)
	assert.Contains(t, attempt.FailureReason, "tp rejected")

	require.Len(t, store.notifications, 1)
	assert.Equal(t, model.NotificationKindBracket, store.notifications[0].Kind)
	require.Len(t, notify.sends, 1)
	assert.Equal(t, notifier.SeverityCritical, notify.sends[0])
}

func TestBracketRollbackFailureEscalates(t *testing.T) {
	store := newFakeStore()
	client := &fakeClient{
		polls:     []pollStep{filledStep("0.5", "100")},
		placeErrs: []error{nil, &exchange.APIError{Code: -9999, Message: "tp rejected"}},
		cancelErr: fmt.Errorf("cancel timed out"),
	}
	notify := &fakeNotifier{}
	e := newTestEngine(store, client, notify)

	err := e.HandleParentOrder(context.Background(), testParent(exchange.SideBuy), 2.0, 4.0)
	require.Error(t, err)

	attempt := store.attempts["parent-1"]
	require.NotNil(t, attempt)
	assert.Equal(t, model.BracketFailedNoRollback, attempt.Outcome)

	require.Len(t, store.notifications, 1)
	assert.Equal(t, model.NotificationKindOperator, store.notifications[0].Kind)
	require.Len(t, notify.sends, 1)
	assert.Equal(t, notifier.SeverityOperator, notify.sends[0])
}

func TestBracketSLFailureEscalatesWithoutTPAttempt(t *testing.T) {
	store := newFakeStore()
	client := &fakeClient{
		polls:     []pollStep{filledStep("0.5", "100")},
		placeErrs: []error{&exchange.APIError{Code: -9999, Message: "sl rejected"}},
	}
	notify := &fakeNotifier{}
	e := newTestEngine(store, client, notify)

	err := e.HandleParentOrder(context.Background(), testParent(exchange.SideBuy), 2.0, 4.0)
	require.Error(t, err)

	assert.Len(t, client.requests, 1)
	attempt := store.attempts["parent-1"]
	require.NotNil(t, attempt)
	assert.Equal(t, model.BracketFailedNoRollback, attempt.Outcome)
	require.Len(t, notify.sends, 1)
	assert.Equal(t, notifier.SeverityOperator, notify.sends[0])
}

func TestBracketIdempotentPerParent(t *testing.T) {
	store := newFakeStore()
	store.attempts["parent-1"] = &model.BracketAttemptModel{
		ParentOrderID: "parent-1",
		Outcome:       model.BracketFailedNoRollback,
	}
	client := &fakeClient{polls: []pollStep{filledStep("0.5", "100")}}
	e := newTestEngine(store, client, &fakeNotifier{})

	err := e.HandleParentOrder(context.Background(), testParent(exchange.SideBuy), 2.0, 4.0)
	require.NoError(t, err)
	// No polls, no placements: a recorded outcome is final.
	assert.Empty(t, client.requests)
	assert.Equal(t, 0, client.pollIdx)
}

func TestAwaitFillRetriesNotFound(t *testing.T) {
	store := newFakeStore()
	client := &fakeClient{polls: []pollStep{
		{err: exchange.ErrOrderNotFound},
		filledStep("0.5", "100"),
	}}
	e := newTestEngine(store, client, &fakeNotifier{})

	err := e.HandleParentOrder(context.Background(), testParent(exchange.SideBuy), 2.0, 4.0)
	require.NoError(t, err)
	assert.Len(t, client.requests, 2)
}

func TestBracketSkipsCancelledParent(t *testing.T) {
	store := newFakeStore()
	client := &fakeClient{polls: []pollStep{
		{state: &exchange.OrderState{OrderID: "parent-1", Status: exchange.StatusCancelled}},
	}}
	e := newTestEngine(store, client, &fakeNotifier{})

	err := e.HandleParentOrder(context.Background(), testParent(exchange.SideBuy), 2.0, 4.0)
	require.NoError(t, err)
	assert.Empty(t, client.requests)
	assert.Empty(t, store.attempts)
}

func TestBracketGivesUpAfterPollBudget(t *testing.T) {
	store := newFakeStore()
	openState := &exchange.OrderState{OrderID: "parent-1", Status: exchange.StatusNew}
	client := &fakeClient{polls: []pollStep{{state: openState}, {state: openState}, {state: openState}}}
	e := newTestEngine(store, client, &fakeNotifier{})

	err := e.HandleParentOrder(context.Background(), testParent(exchange.SideBuy), 2.0, 4.0)
	require.NoError(t, err)
	assert.Equal(t, 3, client.pollIdx)
	assert.Empty(t, client.requests)
	assert.Empty(t, store.attempts)
}
