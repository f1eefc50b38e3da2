package strategy

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"main/internal/schema"
)

func quoteEvent(ticker schema.Ticker, yesBid int64) schema.MarketEvent {
	return schema.MarketEvent{
		Ticker:  ticker,
		Kind:    schema.EventKindQuote,
		Payload: fmt.Appendf(nil, `{"yes_bid":%d,"yes_ask":%d}`, yesBid, yesBid+2),
	}
}

func startThreshold(t *testing.T) (*Threshold, *fakeOrders) {
	t.Helper()
	orders := &fakeOrders{}
	th := NewThreshold("demo")
	require.NoError(t, th.OnStart(NewContext(th.ID(), orders)))
	return th, orders
}

func TestThresholdBuysInsideBand(t *testing.T) {
	th, orders := startThreshold(t)

	th.OnMarketEvent(quoteEvent("KXTEST-A", 10))

	intents := orders.submitted()
	require.Len(t, intents, 1)
	require.Equal(t, schema.OrderSideBuy, intents[0].Side)
	require.Equal(t, schema.Price(15), intents[0].Price)
	require.Equal(t, schema.Quantity(10), intents[0].Size)
}

func TestThresholdIgnoresOutsideBand(t *testing.T) {
	th, orders := startThreshold(t)

	for _, bid := range []int64{0, 5, 20, 50} {
		th.OnMarketEvent(quoteEvent("KXTEST-A", bid))
	}
	require.Empty(t, orders.submitted())
}

func TestThresholdIgnoresNonQuotes(t *testing.T) {
	th, orders := startThreshold(t)

	th.OnMarketEvent(schema.MarketEvent{Ticker: "KXTEST-A", Kind: schema.EventKindTrade})
	th.OnMarketEvent(schema.MarketEvent{Ticker: "KXTEST-A", Kind: schema.EventKindHeartbeat})
	require.Empty(t, orders.submitted())
}

func TestThresholdOneWorkingOrderPerTicker(t *testing.T) {
	th, orders := startThreshold(t)

	th.OnMarketEvent(quoteEvent("KXTEST-A", 10))
	th.OnMarketEvent(quoteEvent("KXTEST-A", 12))
	th.OnMarketEvent(quoteEvent("KXTEST-B", 12))
	require.Len(t, orders.submitted(), 2)

	// A terminal update frees the ticker for the next signal.
	th.OnOrderUpdate(schema.Order{
		ClientOrderID: orders.submitted()[0].ClientOrderID,
		StrategyID:    "demo",
		Ticker:        "KXTEST-A",
		Status:        schema.OrderStatusFilled,
	})
	th.OnMarketEvent(quoteEvent("KXTEST-A", 11))
	require.Len(t, orders.submitted(), 3)
}
