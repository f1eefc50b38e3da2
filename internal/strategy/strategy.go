package strategy

import (
	"context"

	"github.com/google/uuid"

	"main/internal/schema"
)

// OrderAPI is the slice of the order manager a strategy may touch.
type OrderAPI interface {
	Submit(ctx context.Context, intent schema.OrderIntent) (schema.Order, error)
	Cancel(ctx context.Context, clientOrderID string) error
	QueryOrder(clientOrderID string) (schema.Order, error)
	QueryPosition(strategyID string, ticker schema.Ticker) (schema.Position, error)
}

// Strategy receives pipeline callbacks on a single goroutine per strategy.
// Callbacks must return promptly; a slow strategy backs up only its own
// mailbox.
type Strategy interface {
	ID() string
	OnStart(sc *Context) error
	OnMarketEvent(event schema.MarketEvent)
	OnOrderUpdate(order schema.Order)
	OnPositionUpdate(pos schema.Position)
	OnStop()
}

// Context is handed to a strategy on start and stays valid until OnStop.
type Context struct {
	strategyID string
	orders     OrderAPI
}

// NewContext binds an order API to one strategy id.
func NewContext(strategyID string, orders OrderAPI) *Context {
	return &Context{strategyID: strategyID, orders: orders}
}

// StrategyID returns the owning strategy id.
func (c *Context) StrategyID() string {
	return c.strategyID
}

// Submit sends a limit order stamped with a fresh client order id.
func (c *Context) Submit(ctx context.Context, ticker schema.Ticker, side schema.OrderSide, price schema.Price, size schema.Quantity, tif schema.TimeInForce) (schema.Order, error) {
	return c.orders.Submit(ctx, schema.OrderIntent{
		ClientOrderID: uuid.NewString(),
		StrategyID:    c.strategyID,
		Ticker:        ticker,
		Side:          side,
		Price:         price,
		Size:          size,
		TimeInForce:   tif,
	})
}

// Cancel requests a cancel for one of this strategy's orders.
func (c *Context) Cancel(ctx context.Context, clientOrderID string) error {
	return c.orders.Cancel(ctx, clientOrderID)
}

// Order returns a snapshot of one order.
func (c *Context) Order(clientOrderID string) (schema.Order, error) {
	return c.orders.QueryOrder(clientOrderID)
}

// Position returns this strategy's position on a ticker.
func (c *Context) Position(ticker schema.Ticker) (schema.Position, error) {
	return c.orders.QueryPosition(c.strategyID, ticker)
}
