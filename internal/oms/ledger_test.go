package oms

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"main/internal/schema"
)

func ledgerFillAt(id string, side schema.OrderSide, price schema.Price, size schema.Quantity) schema.Fill {
	return schema.Fill{
		ClientOrderID: "c1",
		FillID:        id,
		Ticker:        "KXTEST-A",
		Side:          side,
		Price:         price,
		Size:          size,
	}
}

func TestLedgerWeightedAverage(t *testing.T) {
	l := NewLedger(CostWeightedAverage)

	pos, applied := l.Apply("s1", ledgerFillAt("f1", schema.OrderSideBuy, 50, 4))
	require.True(t, applied)
	require.Equal(t, schema.Quantity(4), pos.Qty)
	require.True(t, pos.AvgPrice.Equal(decimal.NewFromInt(50)))

	pos, applied = l.Apply("s1", ledgerFillAt("f2", schema.OrderSideBuy, 51, 6))
	require.True(t, applied)
	require.Equal(t, schema.Quantity(10), pos.Qty)
	require.True(t, pos.AvgPrice.Equal(decimal.RequireFromString("50.6")), "avg=%s", pos.AvgPrice)
	require.True(t, pos.RealizedPnL.IsZero())
}

func TestLedgerRealizedPnLOnReduce(t *testing.T) {
	l := NewLedger(CostWeightedAverage)

	l.Apply("s1", ledgerFillAt("f1", schema.OrderSideBuy, 50, 10))
	pos, _ := l.Apply("s1", ledgerFillAt("f2", schema.OrderSideSell, 55, 4))

	require.Equal(t, schema.Quantity(6), pos.Qty)
	require.True(t, pos.AvgPrice.Equal(decimal.NewFromInt(50)), "reducing must not move the average")
	require.True(t, pos.RealizedPnL.Equal(decimal.NewFromInt(20)), "pnl=%s", pos.RealizedPnL)

	// Closing to flat zeroes the average.
	pos, _ = l.Apply("s1", ledgerFillAt("f3", schema.OrderSideSell, 48, 6))
	require.Zero(t, pos.Qty)
	require.True(t, pos.AvgPrice.IsZero())
	require.True(t, pos.RealizedPnL.Equal(decimal.NewFromInt(8)), "pnl=%s", pos.RealizedPnL)
}

func TestLedgerShortSide(t *testing.T) {
	l := NewLedger(CostWeightedAverage)

	pos, _ := l.Apply("s1", ledgerFillAt("f1", schema.OrderSideSell, 60, 5))
	require.Equal(t, schema.Quantity(-5), pos.Qty)
	require.True(t, pos.AvgPrice.Equal(decimal.NewFromInt(60)))

	// Buying back below the short average realizes a gain.
	pos, _ = l.Apply("s1", ledgerFillAt("f2", schema.OrderSideBuy, 55, 5))
	require.Zero(t, pos.Qty)
	require.True(t, pos.RealizedPnL.Equal(decimal.NewFromInt(25)), "pnl=%s", pos.RealizedPnL)
}

func TestLedgerCrossZeroReopensAtFillPrice(t *testing.T) {
	l := NewLedger(CostWeightedAverage)

	l.Apply("s1", ledgerFillAt("f1", schema.OrderSideBuy, 50, 4))
	pos, _ := l.Apply("s1", ledgerFillAt("f2", schema.OrderSideSell, 56, 10))

	require.Equal(t, schema.Quantity(-6), pos.Qty)
	require.True(t, pos.AvgPrice.Equal(decimal.NewFromInt(56)), "remainder opens at the fill price")
	require.True(t, pos.RealizedPnL.Equal(decimal.NewFromInt(24)), "pnl=%s", pos.RealizedPnL)
}

func TestLedgerDuplicateFillID(t *testing.T) {
	l := NewLedger(CostWeightedAverage)

	f := ledgerFillAt("f1", schema.OrderSideBuy, 50, 4)
	_, applied := l.Apply("s1", f)
	require.True(t, applied)
	pos, applied := l.Apply("s1", f)
	require.False(t, applied)
	require.Equal(t, schema.Quantity(4), pos.Qty)
	require.True(t, l.Seen("f1"))
}

func TestLedgerRecomputeMatchesIncremental(t *testing.T) {
	l := NewLedger(CostWeightedAverage)

	fills := []schema.Fill{
		ledgerFillAt("f1", schema.OrderSideBuy, 50, 4),
		ledgerFillAt("f2", schema.OrderSideBuy, 51, 6),
		ledgerFillAt("f3", schema.OrderSideSell, 55, 3),
		ledgerFillAt("f4", schema.OrderSideSell, 45, 9),
		ledgerFillAt("f5", schema.OrderSideBuy, 47, 2),
	}
	var incremental schema.Position
	for i, f := range fills {
		incremental, _ = l.Apply("s1", f)
		recomputed := l.Recompute("s1", "KXTEST-A")
		require.Equal(t, incremental.Qty, recomputed.Qty, "after fill %d", i)
		require.True(t, incremental.AvgPrice.Equal(recomputed.AvgPrice), "after fill %d: %s vs %s", i, incremental.AvgPrice, recomputed.AvgPrice)
		require.True(t, incremental.RealizedPnL.Equal(recomputed.RealizedPnL), "after fill %d: %s vs %s", i, incremental.RealizedPnL, recomputed.RealizedPnL)
	}
}

func TestLedgerNetQtyAcrossStrategies(t *testing.T) {
	l := NewLedger(CostWeightedAverage)

	l.Apply("s1", ledgerFillAt("f1", schema.OrderSideBuy, 50, 4))
	l.Apply("s2", ledgerFillAt("f2", schema.OrderSideSell, 50, 1))

	require.Equal(t, schema.Quantity(3), l.NetQty("KXTEST-A"))
	require.Zero(t, l.NetQty("KXTEST-B"))
	require.Equal(t, []schema.Ticker{"KXTEST-A"}, l.Tickers())
	require.Len(t, l.Positions(), 2)
}

func TestLedgerManyFillsStaysConsistent(t *testing.T) {
	l := NewLedger(CostWeightedAverage)

	for i := 0; i < 200; i++ {
		side := schema.OrderSideBuy
		if i%3 == 0 {
			side = schema.OrderSideSell
		}
		price := schema.Price(30 + i%40)
		l.Apply("s1", ledgerFillAt(fmt.Sprintf("f%d", i), side, price, schema.Quantity(1+i%5)))
	}
	incremental := l.Position("s1", "KXTEST-A")
	recomputed := l.Recompute("s1", "KXTEST-A")
	require.Equal(t, incremental.Qty, recomputed.Qty)
	require.True(t, incremental.AvgPrice.Equal(recomputed.AvgPrice))
	require.True(t, incremental.RealizedPnL.Equal(recomputed.RealizedPnL))
}
