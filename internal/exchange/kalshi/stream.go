package kalshi

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/yanun0323/logs"

	"main/internal/exchange"
	"main/internal/schema"
)

const (
	channelOrderbookDelta    = "orderbook_delta"
	channelOrderbookSnapshot = "orderbook_snapshot"
	channelTrade             = "trade"
	channelTicker            = "ticker"
	channelFill              = "fill"
	channelOrder             = "order"
)

// Stream opens the market data and fill stream. Disconnects are retried with
// exponential backoff and re-subscription; authentication failures terminate
// the stream and close the returned channel.
func (c *Client) Stream(ctx context.Context, tickers []schema.Ticker) (<-chan exchange.RawMessage, error) {
	if _, err := c.bearer(ctx); err != nil {
		return nil, err
	}

	out := make(chan exchange.RawMessage, 1024)
	go c.streamLoop(ctx, tickers, out)
	return out, nil
}

func (c *Client) streamLoop(ctx context.Context, tickers []schema.Ticker, out chan<- exchange.RawMessage) {
	defer close(out)

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		default:
		}

		conn, err := c.dial(ctx, tickers)
		if err != nil {
			if exchange.Fatal(err) {
				logs.Errorf("stream auth failed, giving up: %+v", err)
				return
			}
			attempt++
			logs.Warnf("stream connect failed (attempt %d): %+v", attempt, err)
			if err := c.cfg.Reconnect.Sleep(ctx, attempt); err != nil {
				return
			}
			continue
		}

		attempt = 0
		err = c.readLoop(ctx, conn, out)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		logs.Warnf("stream disconnected, reconnecting: %+v", err)
		// Session token may have expired while connected.
		c.mu.Lock()
		c.token = ""
		c.mu.Unlock()
	}
}

func (c *Client) dial(ctx context.Context, tickers []schema.Ticker) (*websocket.Conn, error) {
	token, err := c.bearer(ctx)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.cfg.Environment.wsURL(), header)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(tickers))
	for i, t := range tickers {
		names[i] = t.String()
	}

	var cmdID atomic.Int64
	subscribe := func(channels []string, withTickers bool) error {
		cmd := wsCommand{
			ID:     cmdID.Add(1),
			Cmd:    "subscribe",
			Params: wsCommandParams{Channels: channels},
		}
		if withTickers {
			cmd.Params.MarketTickers = names
		}
		payload, err := sonic.ConfigFastest.Marshal(cmd)
		if err != nil {
			return err
		}
		return conn.WriteMessage(websocket.TextMessage, payload)
	}

	for _, sub := range []struct {
		channels    []string
		withTickers bool
	}{
		{[]string{channelOrderbookDelta}, true},
		{[]string{channelTicker}, true},
		{[]string{channelTrade}, true},
		{[]string{channelFill}, false},
	} {
		if err := subscribe(sub.channels, sub.withTickers); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	return conn, nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- exchange.RawMessage) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closed:
			return nil
		default:
		}

		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var env wsEnvelope
		if err := sonic.ConfigFastest.Unmarshal(payload, &env); err != nil {
			logs.Errorf("unmarshal stream frame: %+v", err)
			continue
		}

		switch env.Type {
		case "subscribed":
			logs.Infof("subscription confirmed: %s", env.Msg.Channel)
		case channelFill:
			c.pushFill(ctx, env.Msg)
		case channelOrder:
			c.pushOrderStatus(ctx, env.Msg)
		case channelOrderbookDelta, channelOrderbookSnapshot, channelTrade, channelTicker:
			if env.Msg.MarketTicker == "" {
				continue
			}
			msg := exchange.RawMessage{
				Channel: env.Type,
				Ticker:  schema.Ticker(env.Msg.MarketTicker),
				Seq:     env.Seq,
				Payload: append([]byte(nil), payload...),
				TsRecv:  time.Now().UTC().UnixNano(),
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return ctx.Err()
			}
		default:
			logs.Infof("unknown stream message type: %s", env.Type)
		}
	}
}

func (c *Client) pushFill(ctx context.Context, msg wsMsg) {
	fill := schema.Fill{
		ClientOrderID: msg.ClientOrderID,
		FillID:        msg.TradeID,
		Ticker:        schema.Ticker(msg.MarketTicker),
		Side:          sideFromWire(msg.Action),
		Price:         schema.Price(msg.Price),
		Size:          schema.Quantity(msg.Count),
		TsExchange:    msg.Ts,
	}
	select {
	case c.updates <- exchange.PushUpdate{Fill: &fill}:
	case <-ctx.Done():
	case <-c.closed:
	}
}

func (c *Client) pushOrderStatus(ctx context.Context, msg wsMsg) {
	update := exchange.OrderStatusUpdate{
		ClientOrderID:   msg.ClientOrderID,
		ExchangeOrderID: msg.OrderID,
		Status:          msg.Status,
	}
	select {
	case c.updates <- exchange.PushUpdate{Order: &update}:
	case <-ctx.Done():
	case <-c.closed:
	}
}
