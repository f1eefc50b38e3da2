package sim

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"main/internal/exchange"
	"main/internal/schema"
	"main/pkg/exception"
)

var wire = sonic.ConfigFastest

// Config tunes the simulated exchange.
type Config struct {
	Tickers   []schema.Ticker
	TickEvery time.Duration
	BasePrice schema.Price
	Spread    schema.Price
	// Largest random walk step per tick, in cents.
	Drift int64
	Seed  int64
}

// DefaultConfig returns a mid-book random walk around 50 cents.
func DefaultConfig(tickers []schema.Ticker) Config {
	return Config{
		Tickers:   tickers,
		TickEvery: 100 * time.Millisecond,
		BasePrice: 50,
		Spread:    2,
		Drift:     3,
	}
}

type restingOrder struct {
	clientOrderID   string
	exchangeOrderID string
	intent          schema.OrderIntent
	filled          schema.Quantity
}

// Client is an in-process exchange for paper trading and load tests. It
// random-walks a synthetic quote per ticker, rests limit orders and fills
// them when the walk crosses their price, and reports fills on the same
// push channel a real venue would.
type Client struct {
	cfg     Config
	updates chan exchange.PushUpdate

	mu        sync.Mutex
	rng       *rand.Rand
	prices    map[schema.Ticker]schema.Price
	seqs      map[schema.Ticker]uint64
	resting   map[string]*restingOrder
	positions map[schema.Ticker]schema.Quantity
	nextID    uint64

	closeOnce sync.Once
	closed    chan struct{}
}

var _ exchange.Client = (*Client)(nil)

// New creates a simulated exchange.
func New(cfg Config) *Client {
	def := DefaultConfig(cfg.Tickers)
	if cfg.TickEvery <= 0 {
		cfg.TickEvery = def.TickEvery
	}
	if cfg.BasePrice <= 0 {
		cfg.BasePrice = def.BasePrice
	}
	if cfg.Spread <= 0 {
		cfg.Spread = def.Spread
	}
	if cfg.Drift <= 0 {
		cfg.Drift = def.Drift
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	c := &Client{
		cfg:       cfg,
		updates:   make(chan exchange.PushUpdate, 256),
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		prices:    make(map[schema.Ticker]schema.Price, len(cfg.Tickers)),
		seqs:      make(map[schema.Ticker]uint64, len(cfg.Tickers)),
		resting:   make(map[string]*restingOrder),
		positions: make(map[schema.Ticker]schema.Quantity),
		closed:    make(chan struct{}),
	}
	for _, ticker := range cfg.Tickers {
		c.prices[ticker] = cfg.BasePrice
	}
	return c
}

// Stream emits a synthetic quote per ticker on every tick.
func (c *Client) Stream(ctx context.Context, tickers []schema.Ticker) (<-chan exchange.RawMessage, error) {
	out := make(chan exchange.RawMessage, 256)
	go func() {
		defer close(out)
		ticker := time.NewTicker(c.cfg.TickEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.closed:
				return
			case now := <-ticker.C:
				for _, t := range tickers {
					msg := c.tick(t, now)
					select {
					case out <- msg:
					default:
						// Slow consumers lose ticks, like a real feed.
					}
				}
			}
		}
	}()
	return out, nil
}

// tick advances one ticker's walk, matches resting orders and returns the
// quote message.
func (c *Client) tick(ticker schema.Ticker, now time.Time) exchange.RawMessage {
	c.mu.Lock()
	price := c.prices[ticker]
	price += schema.Price(c.rng.Int63n(2*c.cfg.Drift+1) - c.cfg.Drift)
	if price < 1 {
		price = 1
	}
	if price > 99 {
		price = 99
	}
	c.prices[ticker] = price
	c.seqs[ticker]++
	seq := c.seqs[ticker]
	fills := c.match(ticker, price)
	c.mu.Unlock()

	for _, fill := range fills {
		c.push(exchange.PushUpdate{Fill: fill})
	}

	bid, ask := quote(price, c.cfg.Spread)
	payload, _ := wire.Marshal(map[string]any{
		"market_ticker": ticker.String(),
		"price":         price,
		"yes_bid":       bid,
		"yes_ask":       ask,
	})
	return exchange.RawMessage{
		Channel: "ticker",
		Ticker:  ticker,
		Seq:     seq,
		Payload: payload,
		TsRecv:  now.UTC().UnixNano(),
	}
}

// match fills resting orders the walk has crossed. Caller holds the lock.
func (c *Client) match(ticker schema.Ticker, price schema.Price) []*schema.Fill {
	bid, ask := quote(price, c.cfg.Spread)
	var fills []*schema.Fill
	for id, order := range c.resting {
		if order.intent.Ticker != ticker {
			continue
		}
		var fillPrice schema.Price
		switch order.intent.Side {
		case schema.OrderSideBuy:
			if ask > order.intent.Price {
				continue
			}
			fillPrice = ask
		case schema.OrderSideSell:
			if bid < order.intent.Price {
				continue
			}
			fillPrice = bid
		default:
			continue
		}
		size := order.intent.Size - order.filled
		order.filled = order.intent.Size
		delete(c.resting, id)
		c.applyPosition(order.intent, size)
		fills = append(fills, c.fill(order, fillPrice, size))
	}
	return fills
}

func (c *Client) applyPosition(intent schema.OrderIntent, size schema.Quantity) {
	if intent.Side == schema.OrderSideSell {
		size = -size
	}
	c.positions[intent.Ticker] += size
}

func (c *Client) fill(order *restingOrder, price schema.Price, size schema.Quantity) *schema.Fill {
	c.nextID++
	return &schema.Fill{
		ClientOrderID: order.clientOrderID,
		FillID:        fmt.Sprintf("sim-fill-%d", c.nextID),
		Ticker:        order.intent.Ticker,
		Side:          order.intent.Side,
		Price:         price,
		Size:          size,
		TsExchange:    time.Now().UTC().UnixNano(),
	}
}

func (c *Client) push(u exchange.PushUpdate) {
	select {
	case c.updates <- u:
	case <-c.closed:
	}
}

// Snapshot returns the current synthetic quote as an authoritative book.
func (c *Client) Snapshot(ctx context.Context, ticker schema.Ticker) (exchange.BookSnapshot, error) {
	c.mu.Lock()
	price := c.prices[ticker]
	seq := c.seqs[ticker]
	c.mu.Unlock()
	bid, ask := quote(price, c.cfg.Spread)
	payload, err := wire.Marshal(map[string]any{
		"market_ticker": ticker.String(),
		"yes_bid":       bid,
		"yes_ask":       ask,
	})
	if err != nil {
		return exchange.BookSnapshot{}, err
	}
	return exchange.BookSnapshot{Ticker: ticker, Seq: seq, Payload: payload}, nil
}

// SubmitOrder rests a limit order, filling immediately when it is already
// marketable against the synthetic quote.
func (c *Client) SubmitOrder(ctx context.Context, intent schema.OrderIntent) (exchange.SubmitResult, error) {
	if intent.Price < 1 || intent.Price > 99 || intent.Size <= 0 {
		return exchange.SubmitResult{Accepted: false, Reason: "invalid order"}, nil
	}

	c.mu.Lock()
	c.nextID++
	order := &restingOrder{
		clientOrderID:   intent.ClientOrderID,
		exchangeOrderID: fmt.Sprintf("sim-%d", c.nextID),
		intent:          intent,
	}
	c.resting[order.exchangeOrderID] = order
	fills := c.match(intent.Ticker, c.prices[intent.Ticker])
	c.mu.Unlock()

	for _, fill := range fills {
		c.push(exchange.PushUpdate{Fill: fill})
	}
	return exchange.SubmitResult{Accepted: true, ExchangeOrderID: order.exchangeOrderID}, nil
}

// CancelOrder removes a resting order and confirms on the push channel.
func (c *Client) CancelOrder(ctx context.Context, exchangeOrderID string) error {
	c.mu.Lock()
	order, ok := c.resting[exchangeOrderID]
	if ok {
		delete(c.resting, exchangeOrderID)
	}
	c.mu.Unlock()
	if !ok {
		return exception.ErrOrderUnknown
	}
	c.push(exchange.PushUpdate{Order: &exchange.OrderStatusUpdate{
		ClientOrderID:   order.clientOrderID,
		ExchangeOrderID: exchangeOrderID,
		Status:          "canceled",
	}})
	return nil
}

// OpenOrders lists resting orders.
func (c *Client) OpenOrders(ctx context.Context) ([]exchange.OpenOrder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]exchange.OpenOrder, 0, len(c.resting))
	for _, order := range c.resting {
		out = append(out, exchange.OpenOrder{
			ClientOrderID:   order.clientOrderID,
			ExchangeOrderID: order.exchangeOrderID,
			Ticker:          order.intent.Ticker,
			Side:            order.intent.Side,
			Price:           order.intent.Price,
			Size:            order.intent.Size,
			FilledSize:      order.filled,
		})
	}
	return out, nil
}

// Positions lists net filled quantity per ticker.
func (c *Client) Positions(ctx context.Context) ([]exchange.PositionSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]exchange.PositionSnapshot, 0, len(c.positions))
	for ticker, qty := range c.positions {
		if qty == 0 {
			continue
		}
		out = append(out, exchange.PositionSnapshot{Ticker: ticker, Qty: qty})
	}
	return out, nil
}

// Updates returns the push channel for fills and cancels.
func (c *Client) Updates() <-chan exchange.PushUpdate {
	return c.updates
}

// Close terminates the stream and push channel.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func quote(price, spread schema.Price) (bid, ask schema.Price) {
	bid = price - spread
	if bid < 1 {
		bid = 1
	}
	ask = price + spread
	if ask > 99 {
		ask = 99
	}
	return bid, ask
}
