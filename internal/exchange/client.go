package exchange

import (
	"context"

	"main/internal/schema"
)

// RawMessage is one frame from the exchange stream, labeled by channel.
// The payload keeps the exchange's wire shape; normalization happens in the
// market data publisher.
type RawMessage struct {
	Channel string
	Ticker  schema.Ticker
	Seq     uint64
	Payload []byte
	TsRecv  int64
}

// BookSnapshot is an authoritative orderbook state used for gap resync.
type BookSnapshot struct {
	Ticker  schema.Ticker
	Seq     uint64
	Payload []byte
}

// SubmitResult is the exchange's synchronous answer to an order submission.
type SubmitResult struct {
	Accepted        bool
	ExchangeOrderID string
	Reason          string
}

// OpenOrder is one entry of the exchange's open-order snapshot.
type OpenOrder struct {
	ClientOrderID   string
	ExchangeOrderID string
	Ticker          schema.Ticker
	Side            schema.OrderSide
	Price           schema.Price
	Size            schema.Quantity
	FilledSize      schema.Quantity
}

// PositionSnapshot is the exchange's authoritative net quantity per ticker.
type PositionSnapshot struct {
	Ticker schema.Ticker
	Qty    schema.Quantity
}

// OrderStatusUpdate is an asynchronous order lifecycle notification.
type OrderStatusUpdate struct {
	ClientOrderID   string
	ExchangeOrderID string
	Status          string
	Reason          string
}

// PushUpdate carries either a fill or an order status change from the
// exchange push channel. Exactly one field is set.
type PushUpdate struct {
	Fill  *schema.Fill
	Order *OrderStatusUpdate
}

// Client is the exchange boundary. Implementations own the wire format;
// callers depend only on this contract.
type Client interface {
	// Stream opens the market data stream for the given tickers. The
	// returned channel closes when ctx is done or the stream terminates
	// fatally; transient disconnects are handled internally.
	Stream(ctx context.Context, tickers []schema.Ticker) (<-chan RawMessage, error)

	// Snapshot fetches an authoritative orderbook snapshot for one ticker.
	Snapshot(ctx context.Context, ticker schema.Ticker) (BookSnapshot, error)

	SubmitOrder(ctx context.Context, intent schema.OrderIntent) (SubmitResult, error)
	CancelOrder(ctx context.Context, clientOrderID string) error

	OpenOrders(ctx context.Context) ([]OpenOrder, error)
	Positions(ctx context.Context) ([]PositionSnapshot, error)

	// Updates is the push channel for fills and order status changes.
	Updates() <-chan PushUpdate

	Close() error
}
