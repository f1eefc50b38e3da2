package kalshi

import "main/internal/schema"

// Environment selects the exchange target. It is passed in explicitly at
// construction; there is no module-level toggle.
type Environment uint16

const (
	EnvUnknown Environment = iota
	EnvProd
	EnvDemo
)

func (e Environment) String() string {
	switch e {
	case EnvProd:
		return "prod"
	case EnvDemo:
		return "demo"
	default:
		return "unknown"
	}
}

const (
	prodRestURL = "https://api.elections.kalshi.com/trade-api/v2"
	prodWsURL   = "wss://api.elections.kalshi.com/trade-api/ws/v2"

	demoRestURL = "https://demo-api.kalshi.co/trade-api/v2"
	demoWsURL   = "wss://demo-api.kalshi.co/trade-api/ws/v2"
)

func (e Environment) restURL() string {
	if e == EnvDemo {
		return demoRestURL
	}
	return prodRestURL
}

func (e Environment) wsURL() string {
	if e == EnvDemo {
		return demoWsURL
	}
	return prodWsURL
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

type createOrderRequest struct {
	Ticker        string `json:"ticker"`
	ClientOrderID string `json:"client_order_id"`
	Action        string `json:"action"`
	Type          string `json:"type"`
	Side          string `json:"side"`
	Count         int64  `json:"count"`
	Price         int64  `json:"price"`
	TimeInForce   string `json:"time_in_force,omitempty"`
}

type createOrderResponse struct {
	Order struct {
		OrderID       string `json:"order_id"`
		ClientOrderID string `json:"client_order_id"`
		Status        string `json:"status"`
	} `json:"order"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type restOrder struct {
	OrderID        string `json:"order_id"`
	ClientOrderID  string `json:"client_order_id"`
	Ticker         string `json:"ticker"`
	Action         string `json:"action"`
	Side           string `json:"side"`
	Price          int64  `json:"price"`
	InitialCount   int64  `json:"initial_count"`
	RemainingCount int64  `json:"remaining_count"`
	Status         string `json:"status"`
}

type ordersResponse struct {
	Orders []restOrder `json:"orders"`
}

type restPosition struct {
	Ticker   string `json:"ticker"`
	Position int64  `json:"position"`
}

type positionsResponse struct {
	MarketPositions []restPosition `json:"market_positions"`
}

type orderbookResponse struct {
	Orderbook struct {
		Seq uint64 `json:"seq"`
	} `json:"orderbook"`
}

// wire envelope of every websocket message
type wsEnvelope struct {
	Type string `json:"type"`
	Seq  uint64 `json:"seq"`
	Msg  wsMsg  `json:"msg"`
}

type wsMsg struct {
	MarketTicker  string `json:"market_ticker"`
	TradeID       string `json:"trade_id"`
	OrderID       string `json:"order_id"`
	ClientOrderID string `json:"client_order_id"`
	Side          string `json:"side"`
	Action        string `json:"action"`
	Price         int64  `json:"price"`
	Count         int64  `json:"count"`
	Ts            int64  `json:"ts"`
	Status        string `json:"status"`
	Channel       string `json:"channel"`
}

type wsCommand struct {
	ID     int64           `json:"id"`
	Cmd    string          `json:"cmd"`
	Params wsCommandParams `json:"params"`
}

type wsCommandParams struct {
	Channels      []string `json:"channels"`
	MarketTickers []string `json:"market_tickers,omitempty"`
}

func sideFromWire(action string) schema.OrderSide {
	switch action {
	case "buy":
		return schema.OrderSideBuy
	case "sell":
		return schema.OrderSideSell
	default:
		return schema.OrderSideUnknown
	}
}

func sideToWire(side schema.OrderSide) string {
	if side == schema.OrderSideSell {
		return "sell"
	}
	return "buy"
}

func tifToWire(tif schema.TimeInForce) string {
	switch tif {
	case schema.TimeInForceIOC:
		return "immediate_or_cancel"
	case schema.TimeInForceFOK:
		return "fill_or_kill"
	default:
		return ""
	}
}
