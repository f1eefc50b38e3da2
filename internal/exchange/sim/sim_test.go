package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"main/internal/exchange"
	"main/internal/schema"
	"main/pkg/exception"
)

func simConfig() Config {
	cfg := DefaultConfig([]schema.Ticker{"KXSIM-A"})
	cfg.TickEvery = time.Millisecond
	cfg.Seed = 1
	return cfg
}

func intent(id string, side schema.OrderSide, price schema.Price) schema.OrderIntent {
	return schema.OrderIntent{
		ClientOrderID: id,
		StrategyID:    "s1",
		Ticker:        "KXSIM-A",
		Side:          side,
		Price:         price,
		Size:          5,
		TimeInForce:   schema.TimeInForceGTC,
	}
}

func TestStreamHasIncreasingSeqs(t *testing.T) {
	c := New(simConfig())
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, err := c.Stream(ctx, []schema.Ticker{"KXSIM-A"})
	require.NoError(t, err)

	var last uint64
	for i := 0; i < 5; i++ {
		select {
		case msg := <-stream:
			require.Equal(t, schema.Ticker("KXSIM-A"), msg.Ticker)
			require.Greater(t, msg.Seq, last)
			last = msg.Seq
		case <-time.After(time.Second):
			t.Fatal("no tick")
		}
	}
}

func TestMarketableOrderFillsImmediately(t *testing.T) {
	c := New(simConfig())
	defer c.Close()

	// A buy at the price cap is always marketable.
	result, err := c.SubmitOrder(context.Background(), intent("c1", schema.OrderSideBuy, 99))
	require.NoError(t, err)
	require.True(t, result.Accepted)

	select {
	case u := <-c.Updates():
		require.NotNil(t, u.Fill)
		require.Equal(t, "c1", u.Fill.ClientOrderID)
		require.Equal(t, schema.Quantity(5), u.Fill.Size)
	case <-time.After(time.Second):
		t.Fatal("no fill")
	}

	positions, err := c.Positions(context.Background())
	require.NoError(t, err)
	require.Equal(t, []exchange.PositionSnapshot{{Ticker: "KXSIM-A", Qty: 5}}, positions)
}

func TestUnmarketableOrderRests(t *testing.T) {
	c := New(simConfig())
	defer c.Close()

	result, err := c.SubmitOrder(context.Background(), intent("c1", schema.OrderSideBuy, 1))
	require.NoError(t, err)
	require.True(t, result.Accepted)

	open, err := c.OpenOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, "c1", open[0].ClientOrderID)

	require.NoError(t, c.CancelOrder(context.Background(), result.ExchangeOrderID))
	select {
	case u := <-c.Updates():
		require.NotNil(t, u.Order)
		require.Equal(t, "canceled", u.Order.Status)
	case <-time.After(time.Second):
		t.Fatal("no cancel confirmation")
	}

	open, err = c.OpenOrders(context.Background())
	require.NoError(t, err)
	require.Empty(t, open)

	require.ErrorIs(t, c.CancelOrder(context.Background(), "sim-999"), exception.ErrOrderUnknown)
}

func TestInvalidOrderRejected(t *testing.T) {
	c := New(simConfig())
	defer c.Close()

	result, err := c.SubmitOrder(context.Background(), intent("c1", schema.OrderSideBuy, 0))
	require.NoError(t, err)
	require.False(t, result.Accepted)
}

func TestRestingOrderFillsWhenWalkCrosses(t *testing.T) {
	cfg := simConfig()
	cfg.Drift = 10
	c := New(cfg)
	defer c.Close()

	// Resting near mid, the walk should cross it quickly.
	_, err := c.SubmitOrder(context.Background(), intent("c1", schema.OrderSideBuy, 45))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, err := c.Stream(ctx, []schema.Ticker{"KXSIM-A"})
	require.NoError(t, err)
	go func() {
		for range stream {
		}
	}()

	select {
	case u := <-c.Updates():
		require.NotNil(t, u.Fill)
		require.LessOrEqual(t, u.Fill.Price, schema.Price(45))
	case <-time.After(5 * time.Second):
		t.Fatal("walk never crossed the resting order")
	}
}
