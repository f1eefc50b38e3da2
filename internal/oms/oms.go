package oms

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"golang.org/x/time/rate"

	"main/internal/codec"
	"main/internal/exchange"
	"main/internal/obs"
	"main/internal/risk"
	"main/internal/schema"
	"main/internal/store"
	"main/pkg/backoff"
	"main/pkg/broker"
	"main/pkg/exception"
)

// ExternalStrategyID marks orders discovered on the exchange that no local
// strategy originated.
const ExternalStrategyID = "external"

// Config controls OMS behavior. Zero values take DefaultConfig.
type Config struct {
	Risk       risk.Config
	CostPolicy CostPolicy

	// Token bucket shared across all strategies for exchange order calls.
	SubmitPerSec float64
	SubmitBurst  int

	// Bounded retry for transient exchange errors on submission. The
	// client order id keeps retries idempotent.
	SubmitRetries int
	RetryBackoff  backoff.Backoff
}

// DefaultConfig returns documented defaults; all of them are configurable.
func DefaultConfig() Config {
	return Config{
		Risk:          risk.DefaultConfig(),
		CostPolicy:    CostWeightedAverage,
		SubmitPerSec:  10,
		SubmitBurst:   5,
		SubmitRetries: 3,
		RetryBackoff:  backoff.Default(),
	}
}

// OMS is the authority for order submission, lifecycle tracking, fill
// reconciliation and position bookkeeping. All state mutation is serialized
// through a single writer goroutine; reads are snapshot copies.
type OMS struct {
	cfg      Config
	client   exchange.Client
	producer broker.Producer
	store    store.Store
	engine   *risk.Engine
	limiter  *rate.Limiter
	metrics  *obs.Metrics

	cmds    chan func()
	closed  chan struct{}
	exited  chan struct{}
	once    sync.Once
	started atomic.Bool
	wg      sync.WaitGroup

	// Owned by the writer goroutine after Start.
	orders       map[string]*schema.Order
	byExchangeID map[string]string
	ledger       *Ledger
	halted       map[schema.Ticker]string
}

// New creates an OMS. producer and st may be nil (no update publishing, no
// persistence).
func New(client exchange.Client, producer broker.Producer, st store.Store, metrics *obs.Metrics, cfg Config) *OMS {
	def := DefaultConfig()
	if cfg.SubmitPerSec <= 0 {
		cfg.SubmitPerSec = def.SubmitPerSec
	}
	if cfg.SubmitBurst <= 0 {
		cfg.SubmitBurst = def.SubmitBurst
	}
	if cfg.SubmitRetries <= 0 {
		cfg.SubmitRetries = def.SubmitRetries
	}
	if cfg.RetryBackoff == (backoff.Backoff{}) {
		cfg.RetryBackoff = def.RetryBackoff
	}
	return &OMS{
		cfg:          cfg,
		client:       client,
		producer:     producer,
		store:        st,
		engine:       risk.NewEngine(cfg.Risk),
		limiter:      rate.NewLimiter(rate.Limit(cfg.SubmitPerSec), cfg.SubmitBurst),
		metrics:      metrics,
		cmds:         make(chan func()),
		closed:       make(chan struct{}),
		exited:       make(chan struct{}),
		orders:       make(map[string]*schema.Order),
		byExchangeID: make(map[string]string),
		ledger:       NewLedger(cfg.CostPolicy),
		halted:       make(map[schema.Ticker]string),
	}
}

// Start reconciles against the exchange snapshot and then begins serving.
// It returns a ReconciliationMismatch-wrapped error when instruments were
// halted; the OMS still serves the remaining instruments in that case.
func (o *OMS) Start(ctx context.Context) error {
	reconcileErr := o.reconcile(ctx)

	o.started.Store(true)
	o.wg.Add(1)
	go o.run()

	return reconcileErr
}

// Stop terminates the writer after in-flight commands complete.
func (o *OMS) Stop() {
	o.once.Do(func() { close(o.closed) })
	o.wg.Wait()
}

// run serves commands until Stop. It outlives the trading context on
// purpose: shutdown still needs Positions for the state snapshot.
func (o *OMS) run() {
	// exited unblocks callers stuck in do once the writer is gone.
	defer func() {
		close(o.exited)
		o.wg.Done()
	}()
	updates := o.client.Updates()
	for {
		select {
		case <-o.closed:
			return
		case fn := <-o.cmds:
			fn()
		case u, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			o.handleUpdate(u)
		}
	}
}

// do runs fn on the writer goroutine and waits for it.
func (o *OMS) do(fn func()) error {
	if !o.started.Load() {
		return exception.ErrOmsClosed
	}
	done := make(chan struct{})
	select {
	case o.cmds <- func() { fn(); close(done) }:
	case <-o.exited:
		return exception.ErrOmsClosed
	}
	select {
	case <-done:
		return nil
	case <-o.exited:
		select {
		case <-done:
			return nil
		default:
			return exception.ErrOmsClosed
		}
	}
}

// Submit validates an intent, registers the order and submits it to the
// exchange. Resubmitting an already-known client order id returns the
// existing order unchanged without touching the exchange.
func (o *OMS) Submit(ctx context.Context, intent schema.OrderIntent) (schema.Order, error) {
	var (
		out      schema.Order
		existing bool
		rejectAt error
	)
	err := o.do(func() {
		if reason, ok := o.halted[intent.Ticker]; ok {
			rejectAt = errors.Wrap(exception.ErrInstrumentHalted, reason)
			return
		}
		if order, ok := o.orders[intent.ClientOrderID]; ok {
			out = *order
			existing = true
			return
		}

		pos := o.ledger.Position(intent.StrategyID, intent.Ticker)
		decision := o.engine.Evaluate(intent, risk.StateView{Position: pos.Qty})
		if decision.Action != risk.ActionAllow {
			rejectAt = errors.Wrap(exception.ErrOrderValidation, decision.Reason.String())
			return
		}

		now := time.Now().UTC().UnixNano()
		order := &schema.Order{
			ClientOrderID: intent.ClientOrderID,
			StrategyID:    intent.StrategyID,
			Ticker:        intent.Ticker,
			Side:          intent.Side,
			Price:         intent.Price,
			Size:          intent.Size,
			TimeInForce:   intent.TimeInForce,
			Status:        schema.OrderStatusNew,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		transition(order, schema.OrderStatusPendingSubmit)
		o.orders[order.ClientOrderID] = order
		o.persistOrder(order)
		out = *order
	})
	if err != nil {
		return out, err
	}
	if rejectAt != nil {
		return out, rejectAt
	}
	if existing {
		return out, nil
	}

	result, err := o.submitWithRetry(ctx, intent)
	if err != nil {
		if exchange.Fatal(err) {
			return out, err
		}
		logs.Warnf("submit exhausted retries for %s, awaiting reconciliation: %+v", intent.ClientOrderID, err)
		return out, errors.Wrap(err, "submit "+intent.ClientOrderID)
	}

	var rejected error
	err = o.do(func() {
		order, ok := o.orders[intent.ClientOrderID]
		if !ok {
			return
		}
		if result.Accepted {
			order.ExchangeOrderID = result.ExchangeOrderID
			o.byExchangeID[result.ExchangeOrderID] = order.ClientOrderID
			// A fill may already have advanced the order past OPEN.
			transition(order, schema.OrderStatusOpen)
		} else {
			order.Reason = result.Reason
			transition(order, schema.OrderStatusRejected)
			rejected = errors.Wrap(exception.ErrOrderExchangeReject, result.Reason)
		}
		order.UpdatedAt = time.Now().UTC().UnixNano()
		o.persistOrder(order)
		o.publishOrder(*order)
		out = *order
	})
	if err != nil {
		return out, err
	}
	return out, rejected
}

func (o *OMS) submitWithRetry(ctx context.Context, intent schema.OrderIntent) (exchange.SubmitResult, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return exchange.SubmitResult{}, err
	}
	var (
		result exchange.SubmitResult
		err    error
	)
	for attempt := 1; attempt <= o.cfg.SubmitRetries; attempt++ {
		result, err = o.client.SubmitOrder(ctx, intent)
		if err == nil {
			return result, nil
		}
		if !exchange.Transient(err) {
			return result, err
		}
		if attempt < o.cfg.SubmitRetries {
			if sleepErr := o.cfg.RetryBackoff.Sleep(ctx, attempt); sleepErr != nil {
				return result, sleepErr
			}
		}
	}
	return result, err
}

// Cancel requests a cancel for an open order. The CANCELLED state is reached
// only when the exchange confirms it on the push channel.
func (o *OMS) Cancel(ctx context.Context, clientOrderID string) error {
	var (
		exchangeOrderID string
		failed          error
	)
	err := o.do(func() {
		order, ok := o.orders[clientOrderID]
		if !ok {
			failed = exception.ErrOrderUnknown
			return
		}
		switch order.Status {
		case schema.OrderStatusOpen, schema.OrderStatusPartiallyFilled:
			exchangeOrderID = order.ExchangeOrderID
		default:
			failed = errors.Wrap(exception.ErrOrderNotCancelable, order.Status.String())
		}
	})
	if err != nil {
		return err
	}
	if failed != nil {
		return failed
	}
	if err := o.limiter.Wait(ctx); err != nil {
		return err
	}
	return o.client.CancelOrder(ctx, exchangeOrderID)
}

// OnFill records a fill delivered by the exchange push interface. Duplicate
// fills return nil; fills that cannot be applied return a sentinel error.
func (o *OMS) OnFill(fill schema.Fill) error {
	var applyErr error
	if err := o.do(func() { applyErr = o.applyFill(fill) }); err != nil {
		return err
	}
	return applyErr
}

// OnOrderUpdate records an asynchronous order status change.
func (o *OMS) OnOrderUpdate(update exchange.OrderStatusUpdate) error {
	return o.do(func() { o.applyOrderStatus(update) })
}

// QueryOrder returns a snapshot of one order.
func (o *OMS) QueryOrder(clientOrderID string) (schema.Order, error) {
	var (
		out   schema.Order
		found bool
	)
	err := o.do(func() {
		if order, ok := o.orders[clientOrderID]; ok {
			out = *order
			found = true
		}
	})
	if err != nil {
		return out, err
	}
	if !found {
		return out, exception.ErrOrderUnknown
	}
	return out, nil
}

// QueryPosition returns a snapshot of one position.
func (o *OMS) QueryPosition(strategyID string, ticker schema.Ticker) (schema.Position, error) {
	var out schema.Position
	err := o.do(func() {
		out = o.ledger.Position(strategyID, ticker)
	})
	return out, err
}

// Positions returns a snapshot of all positions.
func (o *OMS) Positions() ([]schema.Position, error) {
	var out []schema.Position
	err := o.do(func() {
		out = o.ledger.Positions()
	})
	return out, err
}

// Halted reports whether a ticker is halted pending operator clearance.
func (o *OMS) Halted(ticker schema.Ticker) (string, bool) {
	var (
		reason string
		ok     bool
	)
	_ = o.do(func() {
		reason, ok = o.halted[ticker]
	})
	return reason, ok
}

// ClearHalt removes a reconciliation halt after operator review.
func (o *OMS) ClearHalt(ticker schema.Ticker) error {
	return o.do(func() {
		delete(o.halted, ticker)
	})
}

func (o *OMS) handleUpdate(u exchange.PushUpdate) {
	switch {
	case u.Fill != nil:
		if err := o.applyFill(*u.Fill); err != nil {
			logs.Warnf("fill %s dropped: %+v", u.Fill.FillID, err)
		}
	case u.Order != nil:
		o.applyOrderStatus(*u.Order)
	}
}

func (o *OMS) applyFill(fill schema.Fill) error {
	if o.ledger.Seen(fill.FillID) {
		return nil
	}
	order, ok := o.orders[fill.ClientOrderID]
	if !ok {
		return errors.Wrap(exception.ErrOrderInvalidFill, "no order "+fill.ClientOrderID+" for fill "+fill.FillID)
	}
	if order.FilledSize+fill.Size > order.Size {
		return errors.Wrapf(exception.ErrOrderFillOverflow, "fill %s on order %s: filled=%d size=%d fill=%d",
			fill.FillID, order.ClientOrderID, order.FilledSize, order.Size, fill.Size)
	}

	pos, applied := o.ledger.Apply(order.StrategyID, fill)
	if !applied {
		return nil
	}
	o.persistFill(order.StrategyID, fill)

	order.FilledSize += fill.Size
	target := schema.OrderStatusPartiallyFilled
	if order.FilledSize == order.Size {
		target = schema.OrderStatusFilled
	}
	if !transition(order, target) {
		logs.Warnf("fill %s arrived for %s order %s; position updated, status kept",
			fill.FillID, order.Status, order.ClientOrderID)
	}
	order.UpdatedAt = time.Now().UTC().UnixNano()
	o.persistOrder(order)
	if o.metrics != nil {
		o.metrics.IncFill()
	}

	o.publishOrder(*order)
	o.publishPosition(pos)
	return nil
}

func (o *OMS) applyOrderStatus(update exchange.OrderStatusUpdate) {
	clientOrderID := update.ClientOrderID
	if clientOrderID == "" {
		clientOrderID = o.byExchangeID[update.ExchangeOrderID]
	}
	order, ok := o.orders[clientOrderID]
	if !ok {
		logs.Warnf("status update for unknown order %s/%s dropped", update.ClientOrderID, update.ExchangeOrderID)
		return
	}

	var target schema.OrderStatus
	switch strings.ToLower(update.Status) {
	case "canceled", "cancelled":
		target = schema.OrderStatusCancelled
	case "expired":
		target = schema.OrderStatusExpired
	default:
		return
	}
	if !transition(order, target) {
		return
	}
	if update.Reason != "" {
		order.Reason = update.Reason
	}
	order.UpdatedAt = time.Now().UTC().UnixNano()
	o.persistOrder(order)
	o.publishOrder(*order)
}

func (o *OMS) persistOrder(order *schema.Order) {
	if o.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.store.SaveOrder(ctx, *order); err != nil {
		logs.Errorf("persist order %s: %+v", order.ClientOrderID, err)
	}
}

func (o *OMS) persistFill(strategyID string, fill schema.Fill) {
	if o.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.store.SaveFill(ctx, strategyID, fill); err != nil {
		logs.Errorf("persist fill %s: %+v", fill.FillID, err)
	}
}

func (o *OMS) publishOrder(order schema.Order) {
	if o.producer == nil {
		return
	}
	payload, err := codec.EncodeOrder(order)
	if err != nil {
		logs.Errorf("encode order update %s: %+v", order.ClientOrderID, err)
		return
	}
	if err := o.producer.Publish(broker.TopicOrderUpdates, order.Ticker.String(), payload); err != nil {
		logs.Errorf("order update dropped for %s: %+v", order.ClientOrderID, err)
		if o.metrics != nil {
			o.metrics.IncPublishDrop()
		}
	}
}

func (o *OMS) publishPosition(pos schema.Position) {
	if o.producer == nil {
		return
	}
	payload, err := codec.EncodePosition(pos)
	if err != nil {
		logs.Errorf("encode position update %s/%s: %+v", pos.StrategyID, pos.Ticker, err)
		return
	}
	if err := o.producer.Publish(broker.TopicPositionUpdates, pos.Ticker.String(), payload); err != nil {
		logs.Errorf("position update dropped for %s/%s: %+v", pos.StrategyID, pos.Ticker, err)
		if o.metrics != nil {
			o.metrics.IncPublishDrop()
		}
	}
}
