package marketdata

import (
	"context"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/codec"
	"main/internal/exchange"
	"main/internal/obs"
	"main/internal/schema"
	"main/pkg/backoff"
	"main/pkg/broker"
	"main/pkg/exception"
)

// Config controls the market data publisher.
type Config struct {
	Tickers []schema.Ticker

	QueueSize int
	// How long a producer blocks on a full queue before shedding the
	// oldest event.
	QueueWait time.Duration

	HeartbeatEvery time.Duration
	GapTimeout     time.Duration
	MaxPending     int

	PublishRetries int
	RetryBackoff   backoff.Backoff
}

// DefaultConfig returns the publisher defaults.
func DefaultConfig(tickers []schema.Ticker) Config {
	return Config{
		Tickers:        tickers,
		QueueSize:      4096,
		QueueWait:      20 * time.Millisecond,
		HeartbeatEvery: 5 * time.Second,
		GapTimeout:     3 * time.Second,
		MaxPending:     512,
		PublishRetries: 3,
		RetryBackoff:   backoff.Default(),
	}
}

const (
	channelBookDelta    = "orderbook_delta"
	channelBookSnapshot = "orderbook_snapshot"
	channelTrade        = "trade"
	channelTicker       = "ticker"
)

// streamKey identifies one sequence-number domain. The exchange assigns
// seqs per channel, so one instrument carries several independent domains
// and each needs its own Sequencer.
type streamKey struct {
	ticker  schema.Ticker
	channel string
}

// Publisher normalizes the exchange stream into MarketEvents and fans them
// out through the broker, one topic per instrument. Ordering, dedup and gap
// recovery are handled per (instrument, channel) by a Sequencer.
type Publisher struct {
	cfg      Config
	client   exchange.Client
	producer broker.Producer
	metrics  *obs.Metrics

	queue      *bus.Queue
	subscribed map[schema.Ticker]bool
	seqs       map[streamKey]*Sequencer
	lastOut    map[schema.Ticker]time.Time
}

// New creates a publisher for the configured tickers.
func New(client exchange.Client, producer broker.Producer, metrics *obs.Metrics, cfg Config) *Publisher {
	def := DefaultConfig(cfg.Tickers)
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.QueueWait <= 0 {
		cfg.QueueWait = def.QueueWait
	}
	if cfg.HeartbeatEvery <= 0 {
		cfg.HeartbeatEvery = def.HeartbeatEvery
	}
	if cfg.GapTimeout <= 0 {
		cfg.GapTimeout = def.GapTimeout
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = def.MaxPending
	}
	if cfg.PublishRetries <= 0 {
		cfg.PublishRetries = def.PublishRetries
	}
	if cfg.RetryBackoff == (backoff.Backoff{}) {
		cfg.RetryBackoff = def.RetryBackoff
	}
	p := &Publisher{
		cfg:        cfg,
		client:     client,
		producer:   producer,
		metrics:    metrics,
		queue:      bus.NewQueue(cfg.QueueSize),
		subscribed: make(map[schema.Ticker]bool, len(cfg.Tickers)),
		seqs:       make(map[streamKey]*Sequencer),
		lastOut:    make(map[schema.Ticker]time.Time, len(cfg.Tickers)),
	}
	for _, ticker := range cfg.Tickers {
		p.subscribed[ticker] = true
	}
	return p
}

// Run streams, sequences and publishes until the context is done. The
// exchange client handles transient reconnects internally; a closed stream
// is fatal and terminates Run.
func (p *Publisher) Run(ctx context.Context) error {
	stream, err := p.client.Stream(ctx, p.cfg.Tickers)
	if err != nil {
		return errors.Wrap(err, "open market data stream")
	}

	drainDone := make(chan struct{})
	go func() {
		defer close(drainDone)
		p.queue.Run(ctx, p.deliver)
	}()
	defer func() {
		p.queue.Close()
		<-drainDone
	}()

	heartbeat := time.NewTicker(p.cfg.HeartbeatEvery)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case now := <-heartbeat.C:
			p.emitHeartbeats(now)
			p.resyncExpired(ctx, now)

		case msg, ok := <-stream:
			if !ok {
				return errors.Wrap(exception.ErrConnectionClosed, "market data stream")
			}
			p.handleRaw(ctx, msg)
		}
	}
}

func (p *Publisher) handleRaw(ctx context.Context, msg exchange.RawMessage) {
	if !p.subscribed[msg.Ticker] {
		logs.Warnf("message for unsubscribed ticker %s dropped", msg.Ticker)
		return
	}
	key := streamKey{ticker: msg.Ticker, channel: domainChannel(msg.Channel)}
	seq, ok := p.seqs[key]
	if !ok {
		seq = NewSequencer(p.cfg.MaxPending, p.cfg.GapTimeout)
		p.seqs[key] = seq
	}

	before := seq.Last()
	ready, needResync := seq.Offer(msg, time.Now())
	if len(ready) == 0 && !needResync && msg.Seq <= before {
		p.metrics.IncDupDropped()
		return
	}
	for _, r := range ready {
		p.enqueueRaw(r)
	}
	if needResync {
		p.resync(ctx, key)
	}
}

// domainChannel folds book snapshots into the delta domain: the exchange
// numbers both from the same counter.
func domainChannel(channel string) string {
	if channel == channelBookSnapshot {
		return channelBookDelta
	}
	return channel
}

// resyncExpired forces a resync on any sequence domain whose gap has
// outlived the timeout with no further traffic.
func (p *Publisher) resyncExpired(ctx context.Context, now time.Time) {
	for key, seq := range p.seqs {
		if seq.Expired(now) {
			p.resync(ctx, key)
		}
	}
}

func (p *Publisher) resync(ctx context.Context, key streamKey) {
	seq := p.seqs[key]

	// Only the book can be rebuilt from a snapshot. Lost trades and
	// quotes are gone; skip past them and keep the stream moving.
	if key.channel != channelBookDelta {
		p.metrics.IncGapResync()
		logs.Warnf("gap on %s %s, lost messages skipped", key.ticker, key.channel)
		for _, r := range seq.Skip() {
			p.enqueueRaw(r)
		}
		return
	}

	snap, err := p.client.Snapshot(ctx, key.ticker)
	if err != nil {
		logs.Errorf("snapshot resync for %s failed: %+v", key.ticker, err)
		return
	}
	p.metrics.IncGapResync()
	logs.Warnf("gap on %s, resynced from snapshot seq=%d", key.ticker, snap.Seq)

	p.enqueue(schema.MarketEvent{
		Ticker:  snap.Ticker,
		Seq:     snap.Seq,
		Kind:    schema.EventKindBookDelta,
		Payload: snap.Payload,
		TsRecv:  time.Now().UTC().UnixNano(),
	})
	for _, r := range seq.Reset(snap.Seq) {
		p.enqueueRaw(r)
	}
}

func (p *Publisher) emitHeartbeats(now time.Time) {
	for ticker := range p.subscribed {
		if last, ok := p.lastOut[ticker]; ok && now.Sub(last) < p.cfg.HeartbeatEvery {
			continue
		}
		var seq uint64
		if s, ok := p.seqs[streamKey{ticker: ticker, channel: channelBookDelta}]; ok {
			seq = s.Last()
		}
		p.enqueue(schema.MarketEvent{
			Ticker: ticker,
			Seq:    seq,
			Kind:   schema.EventKindHeartbeat,
			TsRecv: now.UTC().UnixNano(),
		})
	}
}

func (p *Publisher) enqueueRaw(msg exchange.RawMessage) {
	kind, ok := kindForChannel(msg.Channel)
	if !ok {
		logs.Warnf("unknown channel %q on %s dropped", msg.Channel, msg.Ticker)
		return
	}
	p.enqueue(schema.MarketEvent{
		Ticker:  msg.Ticker,
		Seq:     msg.Seq,
		Kind:    kind,
		Payload: msg.Payload,
		TsRecv:  msg.TsRecv,
	})
}

func (p *Publisher) enqueue(event schema.MarketEvent) {
	payload, err := codec.EncodeMarketEvent(event)
	if err != nil {
		logs.Errorf("encode market event %s seq=%d: %+v", event.Ticker, event.Seq, err)
		return
	}
	dropped, err := p.queue.PublishWait(bus.Event{
		Topic:   broker.MarketTopic(event.Ticker.String()),
		Key:     event.Ticker.String(),
		Payload: payload,
	}, p.cfg.QueueWait)
	if dropped {
		p.metrics.IncQueueDrop()
		logs.Warnf("outbound queue full, oldest event shed; %s data may be stale", event.Ticker)
	}
	if err != nil {
		logs.Errorf("enqueue market event %s seq=%d: %+v", event.Ticker, event.Seq, err)
		return
	}
	p.lastOut[event.Ticker] = time.Now()
}

// deliver pushes one queued event to the broker with bounded retries.
func (p *Publisher) deliver(e bus.Event) {
	err := broker.PublishRetry(context.Background(), p.producer, e.Topic, e.Key, e.Payload,
		p.cfg.PublishRetries, p.cfg.RetryBackoff)
	if err != nil {
		p.metrics.IncPublishDrop()
		logs.Errorf("market event dropped on %s: %+v", e.Topic, err)
		return
	}
	p.metrics.IncEventPublished()
}

func kindForChannel(channel string) (schema.EventKind, bool) {
	switch channel {
	case channelBookDelta, channelBookSnapshot:
		return schema.EventKindBookDelta, true
	case channelTrade:
		return schema.EventKindTrade, true
	case channelTicker:
		return schema.EventKindQuote, true
	default:
		return schema.EventKindUnknown, false
	}
}
