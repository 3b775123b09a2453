package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel/internal/gateway/exchange"
	"sentinel/internal/store/model"
)

func marginErr() error {
	return &exchange.APIError{Code: -2019, Message: "Margin is insufficient"}
}

func unmarshalContext(intent *model.OrderIntentModel, ictx *intentContext) error {
	return json.Unmarshal(intent.Context, ictx)
}

func requestLeverages(c *fakeClient) []int {
	out := make([]int, len(c.requests))
	for i, r := range c.requests {
		out[i] = r.Leverage
	}
	return out
}

func TestFallbackMarginWalksLadderThenCash(t *testing.T) {
	store := newFakeStore()
	client := newFakeClient()
	// 5x, 3x and 1x all rejected on margin; the cash attempt succeeds.
	client.placeErrs = []error{marginErr(), marginErr(), marginErr(), nil}
	o := newTestOrchestrator(store, client, &fakeNotifier{}, &fakeBrackets{})

	intent, err := o.Process(context.Background(), testSignal(), tradingSymbol())
	require.NoError(t, err)
	assert.Equal(t, model.IntentStatusOrderPlaced, intent.Status)
	assert.Equal(t, []int{5, 3, 1, 0}, requestLeverages(client))

	var ictx intentContext
	require.NoError(t, unmarshalContext(intent, &ictx))
	require.Len(t, ictx.Attempts, 4)
	for i := 0; i < 3; i++ {
		assert.Equal(t, attemptRejected, ictx.Attempts[i].Result)
		assert.Equal(t, "insufficient_margin", ictx.Attempts[i].Class)
	}
	assert.Equal(t, attemptPlaced, ictx.Attempts[3].Result)
	assert.Equal(t, 0, ictx.Attempts[3].Leverage)
}

func TestFallbackMarginExhaustedFails(t *testing.T) {
	store := newFakeStore()
	client := newFakeClient()
	client.placeErrs = []error{marginErr(), marginErr(), marginErr(), marginErr()}
	o := newTestOrchestrator(store, client, &fakeNotifier{}, &fakeBrackets{})

	intent, err := o.Process(context.Background(), testSignal(), tradingSymbol())
	require.NoError(t, err)
	assert.Equal(t, model.IntentStatusOrderFailed, intent.Status)
	// Ladder was fully walked before giving up.
	assert.Equal(t, []int{5, 3, 1, 0}, requestLeverages(client))
}

func TestFallbackAuthRetriesAsCashOnce(t *testing.T) {
	store := newFakeStore()
	client := newFakeClient()
	client.placeErrs = []error{
		&exchange.APIError{Code: -2015, Message: "Invalid API-key permissions"},
		nil,
	}
	o := newTestOrchestrator(store, client, &fakeNotifier{}, &fakeBrackets{})

	intent, err := o.Process(context.Background(), testSignal(), tradingSymbol())
	require.NoError(t, err)
	assert.Equal(t, model.IntentStatusOrderPlaced, intent.Status)
	assert.Equal(t, []int{5, 0}, requestLeverages(client))
}

func TestFallbackAuthOnCashOrderIsTerminal(t *testing.T) {
	store := newFakeStore()
	client := newFakeClient()
	client.placeErrs = []error{&exchange.APIError{Code: -2015, Message: "Invalid API-key"}}
	o := newTestOrchestrator(store, client, &fakeNotifier{}, &fakeBrackets{})
	o.cfg.Leverage = 0

	intent, err := o.Process(context.Background(), testSignal(), tradingSymbol())
	require.NoError(t, err)
	assert.Equal(t, model.IntentStatusOrderFailed, intent.Status)
	assert.Len(t, client.requests, 1)
}

func TestFallbackPrecisionCoarsensOnce(t *testing.T) {
	store := newFakeStore()
	client := newFakeClient()
	client.placeErrs = []error{
		&exchange.APIError{Code: -1111, Message: "Precision is over the maximum"},
		nil,
	}
	o := newTestOrchestrator(store, client, &fakeNotifier{}, &fakeBrackets{})
	// Big enough that the quantity survives a tenfold coarser step.
	o.cfg.TradeNotionalUSD = 2750

	intent, err := o.Process(context.Background(), testSignal(), tradingSymbol())
	require.NoError(t, err)
	assert.Equal(t, model.IntentStatusOrderPlaced, intent.Status)
	require.Len(t, client.requests, 2)
	assert.Equal(t, "0.055", client.requests[0].Quantity)
	assert.Equal(t, "0.05", client.requests[1].Quantity)
}

func TestFallbackPrecisionSecondRejectionTerminal(t *testing.T) {
	store := newFakeStore()
	client := newFakeClient()
	precisionErr := &exchange.APIError{Code: -1111, Message: "Precision is over the maximum"}
	client.placeErrs = []error{precisionErr, precisionErr}
	o := newTestOrchestrator(store, client, &fakeNotifier{}, &fakeBrackets{})
	o.cfg.TradeNotionalUSD = 2750

	intent, err := o.Process(context.Background(), testSignal(), tradingSymbol())
	require.NoError(t, err)
	assert.Equal(t, model.IntentStatusOrderFailed, intent.Status)
	assert.Len(t, client.requests, 2)
}

func TestFallbackRateLimitBacksOffExponentially(t *testing.T) {
	store := newFakeStore()
	client := newFakeClient()
	rateErr := &exchange.APIError{Code: -1003, Message: "Too many requests"}
	client.placeErrs = []error{rateErr, rateErr, nil}
	o := newTestOrchestrator(store, client, &fakeNotifier{}, &fakeBrackets{})

	var slept []time.Duration
	o.sleep = func(d time.Duration) { slept = append(slept, d) }

	intent, err := o.Process(context.Background(), testSignal(), tradingSymbol())
	require.NoError(t, err)
	assert.Equal(t, model.IntentStatusOrderPlaced, intent.Status)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, slept)
}

func TestFallbackRateLimitRespectsAttemptCap(t *testing.T) {
	store := newFakeStore()
	client := newFakeClient()
	rateErr := &exchange.APIError{Code: -1003, Message: "Too many requests"}
	client.placeErrs = []error{rateErr, rateErr, rateErr}
	o := newTestOrchestrator(store, client, &fakeNotifier{}, &fakeBrackets{})
	o.cfg.RetryMaxAttempts = 3

	intent, err := o.Process(context.Background(), testSignal(), tradingSymbol())
	require.NoError(t, err)
	assert.Equal(t, model.IntentStatusOrderFailed, intent.Status)
	assert.Equal(t, ReasonRetryExhausted, intent.ReasonCode)
	assert.Len(t, client.requests, 3)
}

// Cancelling the context must cut the backoff wait short instead of letting
// the full timer run down.
func TestFallbackRateLimitStopsOnCancel(t *testing.T) {
	store := newFakeStore()
	client := newFakeClient()
	rateErr := &exchange.APIError{Code: -1003, Message: "Too many requests"}
	client.placeErrs = []error{rateErr, rateErr, nil}
	o := newTestOrchestrator(store, client, &fakeNotifier{}, &fakeBrackets{})
	// Take the real wait path, with the context already cancelled.
	o.sleep = nil
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	intent, err := o.Process(ctx, testSignal(), tradingSymbol())
	require.NoError(t, err)
	assert.Equal(t, model.IntentStatusOrderFailed, intent.Status)
	assert.Len(t, client.requests, 1, "no retry after cancellation")
	assert.Less(t, time.Since(start), time.Second, "backoff must not run down")

	var ictx intentContext
	require.NoError(t, unmarshalContext(intent, &ictx))
	require.Len(t, ictx.Attempts, 1)
	assert.Equal(t, attemptTerminal, ictx.Attempts[0].Result)
	assert.Equal(t, time.Second.String(), ictx.Attempts[0].Backoff)
}

func TestFallbackUnknownClassTerminal(t *testing.T) {
	store := newFakeStore()
	client := newFakeClient()
	client.placeErrs = []error{&exchange.APIError{Code: -4444, Message: "no idea"}}
	o := newTestOrchestrator(store, client, &fakeNotifier{}, &fakeBrackets{})

	intent, err := o.Process(context.Background(), testSignal(), tradingSymbol())
	require.NoError(t, err)
	assert.Equal(t, model.IntentStatusOrderFailed, intent.Status)
	assert.Len(t, client.requests, 1)

	var ictx intentContext
	require.NoError(t, unmarshalContext(intent, &ictx))
	require.Len(t, ictx.Attempts, 1)
	assert.Equal(t, attemptTerminal, ictx.Attempts[0].Result)
	assert.Equal(t, "unknown", ictx.Attempts[0].Class)
}

func TestNextLeverage(t *testing.T) {
	o := &Orchestrator{}
	o.cfg.LeverageLadder = []int{5, 3, 1}

	next, ok := o.nextLeverage(5)
	require.True(t, ok)
	assert.Equal(t, 3, next)

	next, ok = o.nextLeverage(3)
	require.True(t, ok)
	assert.Equal(t, 1, next)

	_, ok = o.nextLeverage(1)
	assert.False(t, ok)

	_, ok = o.nextLeverage(0)
	assert.False(t, ok)
}
