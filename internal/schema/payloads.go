package schema

// OrderSide describes order direction.
type OrderSide uint16

const (
	OrderSideUnknown OrderSide = iota
	OrderSideBuy
	OrderSideSell
)

func (s OrderSide) String() string {
	switch s {
	case OrderSideBuy:
		return "buy"
	case OrderSideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// TimeInForce describes order time-in-force.
type TimeInForce uint16

const (
	TimeInForceUnknown TimeInForce = iota
	TimeInForceGTC
	TimeInForceIOC
	TimeInForceFOK
)

func (t TimeInForce) String() string {
	switch t {
	case TimeInForceGTC:
		return "gtc"
	case TimeInForceIOC:
		return "ioc"
	case TimeInForceFOK:
		return "fok"
	default:
		return "unknown"
	}
}

// OrderIntent is a strategy's request to trade. Immutable once submitted.
// ClientOrderID is the caller-generated idempotency key, stable across retries.
type OrderIntent struct {
	ClientOrderID string      `json:"clientOrderId"`
	StrategyID    string      `json:"strategyId"`
	Ticker        Ticker      `json:"ticker"`
	Side          OrderSide   `json:"side"`
	Price         Price       `json:"price"`
	Size          Quantity    `json:"size"`
	TimeInForce   TimeInForce `json:"timeInForce"`
}

// Fill is a partial or complete execution of an order. Immutable once
// recorded; FillID deduplicates re-delivered fill notifications.
type Fill struct {
	ClientOrderID string    `json:"clientOrderId"`
	FillID        string    `json:"fillId"`
	Ticker        Ticker    `json:"ticker"`
	Side          OrderSide `json:"side"`
	Price         Price     `json:"price"`
	Size          Quantity  `json:"size"`
	TsExchange    int64     `json:"tsExchange"`
}
