package schema

import "github.com/shopspring/decimal"

// OrderStatus tracks the lifecycle of an order.
type OrderStatus uint16

const (
	OrderStatusUnknown OrderStatus = iota
	OrderStatusNew
	OrderStatusPendingSubmit
	OrderStatusOpen
	OrderStatusPartiallyFilled
	OrderStatusFilled
	OrderStatusCancelled
	OrderStatusRejected
	OrderStatusExpired
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusNew:
		return "new"
	case OrderStatusPendingSubmit:
		return "pending_submit"
	case OrderStatusOpen:
		return "open"
	case OrderStatusPartiallyFilled:
		return "partially_filled"
	case OrderStatusFilled:
		return "filled"
	case OrderStatusCancelled:
		return "cancelled"
	case OrderStatusRejected:
		return "rejected"
	case OrderStatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is allowed from s.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// Order is the OMS view of an order. Instances are owned exclusively by the
// OMS; everyone else receives copies.
type Order struct {
	ClientOrderID   string      `json:"clientOrderId"`
	ExchangeOrderID string      `json:"exchangeOrderId,omitempty"`
	StrategyID      string      `json:"strategyId"`
	Ticker          Ticker      `json:"ticker"`
	Side            OrderSide   `json:"side"`
	Price           Price       `json:"price"`
	Size            Quantity    `json:"size"`
	FilledSize      Quantity    `json:"filledSize"`
	TimeInForce     TimeInForce `json:"timeInForce"`
	Status          OrderStatus `json:"status"`
	Reason          string      `json:"reason,omitempty"`
	External        bool        `json:"external,omitempty"`
	CreatedAt       int64       `json:"createdAt"`
	UpdatedAt       int64       `json:"updatedAt"`
}

// Position is the net result of all recorded fills for one
// (strategy, ticker) pair. Qty is signed: positive long, negative short.
type Position struct {
	StrategyID  string          `json:"strategyId"`
	Ticker      Ticker          `json:"ticker"`
	Qty         Quantity        `json:"qty"`
	AvgPrice    decimal.Decimal `json:"avgPrice"`
	RealizedPnL decimal.Decimal `json:"realizedPnl"`
}
