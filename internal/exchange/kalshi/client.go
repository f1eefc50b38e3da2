package kalshi

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"main/internal/exchange"
	"main/internal/schema"
	"main/pkg/backoff"
	"main/pkg/exception"
)

const requestTimeout = 15 * time.Second

// Config carries credentials and the environment selection. Credentials come
// from the process environment; the exchange target is an explicit value.
type Config struct {
	Environment Environment
	Email       string
	Password    string

	// Reconnect bounds for the stream. Zero values take backoff.Default.
	Reconnect backoff.Backoff
}

// Client talks to the Kalshi trade API over REST and websocket.
type Client struct {
	cfg     Config
	client  *http.Client
	updates chan exchange.PushUpdate

	mu    sync.RWMutex
	token string

	closeOnce sync.Once
	closed    chan struct{}
}

var _ exchange.Client = (*Client)(nil)

// New creates a client for the configured environment. No connection is made
// until the first call that needs one.
func New(cfg Config) *Client {
	if cfg.Reconnect == (backoff.Backoff{}) {
		cfg.Reconnect = backoff.Default()
	}
	return &Client{
		cfg:     cfg,
		client:  &http.Client{Timeout: requestTimeout},
		updates: make(chan exchange.PushUpdate, 256),
		closed:  make(chan struct{}),
	}
}

// Updates returns the push channel for fills and order status changes.
func (c *Client) Updates() <-chan exchange.PushUpdate {
	return c.updates
}

// Close terminates the push channel and any running stream.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *Client) login(ctx context.Context) error {
	payload, err := sonic.ConfigFastest.Marshal(loginRequest{
		Email:    c.cfg.Email,
		Password: c.cfg.Password,
	})
	if err != nil {
		return err
	}

	body, status, err := c.do(ctx, http.MethodPost, "/login", payload)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return exception.ErrAuthFailed
	}
	if status != http.StatusOK {
		return errors.Wrap(exception.ErrConnectionLost, "login status "+http.StatusText(status))
	}

	var resp loginResponse
	if err := sonic.ConfigFastest.Unmarshal(body, &resp); err != nil {
		return errors.Wrap(err, "decode login response")
	}
	if resp.Token == "" {
		return exception.ErrAuthFailed
	}

	c.mu.Lock()
	c.token = resp.Token
	c.mu.Unlock()
	return nil
}

func (c *Client) bearer(ctx context.Context) (string, error) {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		return token, nil
	}
	if err := c.login(ctx); err != nil {
		return "", err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token, nil
}

// SubmitOrder places a limit order using the intent's client order id as the
// exchange-side idempotency key.
func (c *Client) SubmitOrder(ctx context.Context, intent schema.OrderIntent) (exchange.SubmitResult, error) {
	var result exchange.SubmitResult
	payload, err := sonic.ConfigFastest.Marshal(createOrderRequest{
		Ticker:        intent.Ticker.String(),
		ClientOrderID: intent.ClientOrderID,
		Action:        sideToWire(intent.Side),
		Type:          "limit",
		Side:          "yes",
		Count:         int64(intent.Size),
		Price:         int64(intent.Price),
		TimeInForce:   tifToWire(intent.TimeInForce),
	})
	if err != nil {
		return result, err
	}

	body, status, err := c.doAuth(ctx, http.MethodPost, "/portfolio/orders", payload)
	if err != nil {
		return result, err
	}

	var resp createOrderResponse
	if err := sonic.ConfigFastest.Unmarshal(body, &resp); err != nil {
		return result, errors.Wrap(err, "decode order response")
	}

	switch {
	case status >= 200 && status < 300 && resp.Order.OrderID != "":
		result.Accepted = true
		result.ExchangeOrderID = resp.Order.OrderID
		return result, nil
	case status >= 500:
		return result, errors.Wrap(exception.ErrConnectionLost, "order status "+http.StatusText(status))
	default:
		result.Accepted = false
		if resp.Error != nil {
			result.Reason = resp.Error.Message
		} else {
			result.Reason = http.StatusText(status)
		}
		return result, nil
	}
}

// CancelOrder requests a cancel; the confirmation arrives on Updates.
func (c *Client) CancelOrder(ctx context.Context, exchangeOrderID string) error {
	_, status, err := c.doAuth(ctx, http.MethodDelete, "/portfolio/orders/"+url.PathEscape(exchangeOrderID), nil)
	if err != nil {
		return err
	}
	if status >= 500 {
		return errors.Wrap(exception.ErrConnectionLost, "cancel status "+http.StatusText(status))
	}
	if status >= 400 {
		return errors.Wrap(exception.ErrOrderExchangeReject, http.StatusText(status))
	}
	return nil
}

// OpenOrders fetches the exchange's resting order snapshot.
func (c *Client) OpenOrders(ctx context.Context) ([]exchange.OpenOrder, error) {
	body, status, err := c.doAuth(ctx, http.MethodGet, "/portfolio/orders?status=resting", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, errors.Wrap(exception.ErrConnectionLost, "open orders status "+http.StatusText(status))
	}

	var resp ordersResponse
	if err := sonic.ConfigFastest.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrap(err, "decode open orders")
	}
	out := make([]exchange.OpenOrder, 0, len(resp.Orders))
	for _, o := range resp.Orders {
		out = append(out, exchange.OpenOrder{
			ClientOrderID:   o.ClientOrderID,
			ExchangeOrderID: o.OrderID,
			Ticker:          schema.Ticker(o.Ticker),
			Side:            sideFromWire(o.Action),
			Price:           schema.Price(o.Price),
			Size:            schema.Quantity(o.InitialCount),
			FilledSize:      schema.Quantity(o.InitialCount - o.RemainingCount),
		})
	}
	return out, nil
}

// Positions fetches the exchange's authoritative net quantity per ticker.
func (c *Client) Positions(ctx context.Context) ([]exchange.PositionSnapshot, error) {
	body, status, err := c.doAuth(ctx, http.MethodGet, "/portfolio/positions", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, errors.Wrap(exception.ErrConnectionLost, "positions status "+http.StatusText(status))
	}

	var resp positionsResponse
	if err := sonic.ConfigFastest.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrap(err, "decode positions")
	}
	out := make([]exchange.PositionSnapshot, 0, len(resp.MarketPositions))
	for _, p := range resp.MarketPositions {
		out = append(out, exchange.PositionSnapshot{
			Ticker: schema.Ticker(p.Ticker),
			Qty:    schema.Quantity(p.Position),
		})
	}
	return out, nil
}

// Snapshot fetches the orderbook for one ticker, used for gap resync.
func (c *Client) Snapshot(ctx context.Context, ticker schema.Ticker) (exchange.BookSnapshot, error) {
	body, status, err := c.doAuth(ctx, http.MethodGet, "/markets/"+url.PathEscape(ticker.String())+"/orderbook", nil)
	if err != nil {
		return exchange.BookSnapshot{}, err
	}
	if status != http.StatusOK {
		return exchange.BookSnapshot{}, errors.Wrap(exception.ErrConnectionLost, "orderbook status "+http.StatusText(status))
	}

	var resp orderbookResponse
	if err := sonic.ConfigFastest.Unmarshal(body, &resp); err != nil {
		return exchange.BookSnapshot{}, errors.Wrap(err, "decode orderbook")
	}
	return exchange.BookSnapshot{
		Ticker:  ticker,
		Seq:     resp.Orderbook.Seq,
		Payload: body,
	}, nil
}

func (c *Client) doAuth(ctx context.Context, method, path string, payload []byte) ([]byte, int, error) {
	token, err := c.bearer(ctx)
	if err != nil {
		return nil, 0, err
	}
	body, status, err := c.request(ctx, method, path, payload, token)
	if err != nil {
		return nil, 0, err
	}
	if status == http.StatusUnauthorized {
		// Session token expired; login once and retry the call.
		if err := c.login(ctx); err != nil {
			return nil, 0, err
		}
		c.mu.RLock()
		token = c.token
		c.mu.RUnlock()
		return c.request(ctx, method, path, payload, token)
	}
	return body, status, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, int, error) {
	return c.request(ctx, method, path, payload, "")
}

func (c *Client) request(ctx context.Context, method, path string, payload []byte, token string) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var reader io.Reader
	if len(payload) > 0 {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.Environment.restURL()+path, reader)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, 0, errors.Wrap(exception.ErrRequestTimeout, method+" "+path)
		}
		return nil, 0, errors.Wrap(exception.ErrConnectionLost, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, errors.Wrap(exception.ErrConnectionLost, "read response body")
	}
	return body, resp.StatusCode, nil
}
