package strategy

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/codec"
	"main/internal/schema"
	"main/pkg/broker"
)

type mail struct {
	event *schema.MarketEvent
	order *schema.Order
	pos   *schema.Position
}

// Runner drives one strategy on its own goroutine through a bounded mailbox.
// Delivery never blocks: when the strategy cannot keep up, its mailbox sheds
// new messages and counts the drops while the rest of the pipeline keeps
// moving.
type Runner struct {
	strategy Strategy
	sctx     *Context
	deadline time.Duration

	mailbox chan mail
	drops   uint64
	wg      sync.WaitGroup
	once    sync.Once

	// mu fences deliver against Stop closing the mailbox while monitor
	// dispatch goroutines are still handing messages in.
	mu      sync.RWMutex
	stopped bool
}

// NewRunner wires a strategy to the order API.
func NewRunner(s Strategy, orders OrderAPI, mailboxSize int, deadline time.Duration) *Runner {
	if mailboxSize <= 0 {
		mailboxSize = 1024
	}
	if deadline <= 0 {
		deadline = time.Second
	}
	return &Runner{
		strategy: s,
		sctx:     NewContext(s.ID(), orders),
		deadline: deadline,
		mailbox:  make(chan mail, mailboxSize),
	}
}

// Start calls OnStart and begins the callback loop.
func (r *Runner) Start(ctx context.Context) error {
	if err := r.strategy.OnStart(r.sctx); err != nil {
		return errors.Wrap(err, "start strategy "+r.strategy.ID())
	}
	r.wg.Add(1)
	go r.loop(ctx)
	return nil
}

// Stop drains the mailbox, calls OnStop and waits for the loop to exit.
// Messages delivered after Stop are discarded.
func (r *Runner) Stop() {
	r.once.Do(func() {
		r.mu.Lock()
		r.stopped = true
		r.mu.Unlock()
		close(r.mailbox)
	})
	r.wg.Wait()
}

// Drops reports how many messages this strategy's mailbox shed.
func (r *Runner) Drops() uint64 {
	return atomic.LoadUint64(&r.drops)
}

func (r *Runner) loop(ctx context.Context) {
	defer r.wg.Done()
	defer r.strategy.OnStop()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-r.mailbox:
			if !ok {
				return
			}
			r.invoke(m)
		}
	}
}

func (r *Runner) invoke(m mail) {
	start := time.Now()
	switch {
	case m.event != nil:
		r.strategy.OnMarketEvent(*m.event)
	case m.order != nil:
		r.strategy.OnOrderUpdate(*m.order)
	case m.pos != nil:
		r.strategy.OnPositionUpdate(*m.pos)
	}
	if elapsed := time.Since(start); elapsed > r.deadline {
		logs.Warnf("strategy %s callback overran deadline: %s > %s", r.strategy.ID(), elapsed, r.deadline)
	}
}

func (r *Runner) deliver(m mail) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stopped {
		return
	}
	select {
	case r.mailbox <- m:
	default:
		if atomic.AddUint64(&r.drops, 1)%100 == 1 {
			logs.Warnf("strategy %s mailbox full, shedding messages (dropped=%d)", r.strategy.ID(), r.Drops())
		}
	}
}

// DeliverMarketEvent enqueues a market event without blocking.
func (r *Runner) DeliverMarketEvent(event schema.MarketEvent) {
	r.deliver(mail{event: &event})
}

// DeliverOrderUpdate enqueues an order update without blocking.
func (r *Runner) DeliverOrderUpdate(order schema.Order) {
	r.deliver(mail{order: &order})
}

// DeliverPositionUpdate enqueues a position update without blocking.
func (r *Runner) DeliverPositionUpdate(pos schema.Position) {
	r.deliver(mail{pos: &pos})
}

// MarketHandler adapts the runner to a broker message handler for market
// data topics.
func (r *Runner) MarketHandler() func(ctx context.Context, msg broker.Message) error {
	return func(ctx context.Context, msg broker.Message) error {
		event, err := codec.DecodeMarketEvent(msg.Payload)
		if err != nil {
			return errors.Wrap(err, "decode market event")
		}
		r.DeliverMarketEvent(event)
		return nil
	}
}

// OrderHandler adapts the runner to a broker message handler for the order
// update topic. Updates for other strategies are skipped.
func (r *Runner) OrderHandler() func(ctx context.Context, msg broker.Message) error {
	return func(ctx context.Context, msg broker.Message) error {
		order, err := codec.DecodeOrder(msg.Payload)
		if err != nil {
			return errors.Wrap(err, "decode order update")
		}
		if order.StrategyID != r.strategy.ID() {
			return nil
		}
		r.DeliverOrderUpdate(order)
		return nil
	}
}

// PositionHandler adapts the runner to a broker message handler for the
// position update topic.
func (r *Runner) PositionHandler() func(ctx context.Context, msg broker.Message) error {
	return func(ctx context.Context, msg broker.Message) error {
		pos, err := codec.DecodePosition(msg.Payload)
		if err != nil {
			return errors.Wrap(err, "decode position update")
		}
		if pos.StrategyID != r.strategy.ID() {
			return nil
		}
		r.DeliverPositionUpdate(pos)
		return nil
	}
}
