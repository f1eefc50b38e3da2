package strategy

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/logs"

	"main/internal/schema"
)

var quoteJSON = sonic.ConfigFastest

type quotePayload struct {
	YesBid int64 `json:"yes_bid"`
	YesAsk int64 `json:"yes_ask"`
}

// Threshold is a demonstration strategy, not a profitable one. When the best
// yes bid sits strictly between the low and high bounds it buys Size
// contracts at a limit of bid plus Pad, at most one working order per ticker.
type Threshold struct {
	id   string
	sctx *Context

	Low  schema.Price
	High schema.Price
	Pad  schema.Price
	Size schema.Quantity

	working map[schema.Ticker]string
}

// NewThreshold creates the demo strategy with its documented defaults.
func NewThreshold(id string) *Threshold {
	return &Threshold{
		id:      id,
		Low:     5,
		High:    20,
		Pad:     5,
		Size:    10,
		working: make(map[schema.Ticker]string),
	}
}

func (t *Threshold) ID() string { return t.id }

func (t *Threshold) OnStart(sc *Context) error {
	t.sctx = sc
	logs.Infof("strategy %s started: buy band (%d,%d) pad=%d size=%d", t.id, t.Low, t.High, t.Pad, t.Size)
	return nil
}

func (t *Threshold) OnMarketEvent(event schema.MarketEvent) {
	if event.Kind != schema.EventKindQuote {
		return
	}
	if _, busy := t.working[event.Ticker]; busy {
		return
	}

	var quote quotePayload
	if err := quoteJSON.Unmarshal(event.Payload, &quote); err != nil {
		logs.Warnf("strategy %s: bad quote payload on %s: %+v", t.id, event.Ticker, err)
		return
	}
	best := schema.Price(quote.YesBid)
	if best <= t.Low || best >= t.High {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	order, err := t.sctx.Submit(ctx, event.Ticker, schema.OrderSideBuy, best+t.Pad, t.Size, schema.TimeInForceGTC)
	if err != nil {
		logs.Warnf("strategy %s: submit on %s failed: %+v", t.id, event.Ticker, err)
		return
	}
	t.working[event.Ticker] = order.ClientOrderID
	logs.Infof("strategy %s: buying %d %s at %d", t.id, t.Size, event.Ticker, best+t.Pad)
}

func (t *Threshold) OnOrderUpdate(order schema.Order) {
	if order.Status.Terminal() {
		delete(t.working, order.Ticker)
	}
}

func (t *Threshold) OnPositionUpdate(pos schema.Position) {
	logs.Infof("strategy %s: position %s qty=%d avg=%s pnl=%s", t.id, pos.Ticker, pos.Qty, pos.AvgPrice, pos.RealizedPnL)
}

func (t *Threshold) OnStop() {
	logs.Infof("strategy %s stopped", t.id)
}
