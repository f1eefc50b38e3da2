package strategy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"main/internal/codec"
	"main/internal/schema"
	"main/pkg/broker"
	"main/pkg/exception"
)

type fakeOrders struct {
	mu      sync.Mutex
	submits []schema.OrderIntent
	cancels []string
	reject  bool
}

func (f *fakeOrders) Submit(ctx context.Context, intent schema.OrderIntent) (schema.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject {
		return schema.Order{}, exception.ErrOrderValidation
	}
	f.submits = append(f.submits, intent)
	return schema.Order{
		ClientOrderID: intent.ClientOrderID,
		StrategyID:    intent.StrategyID,
		Ticker:        intent.Ticker,
		Status:        schema.OrderStatusOpen,
	}, nil
}

func (f *fakeOrders) Cancel(ctx context.Context, clientOrderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, clientOrderID)
	return nil
}

func (f *fakeOrders) QueryOrder(clientOrderID string) (schema.Order, error) {
	return schema.Order{}, exception.ErrOrderUnknown
}

func (f *fakeOrders) QueryPosition(strategyID string, ticker schema.Ticker) (schema.Position, error) {
	return schema.Position{StrategyID: strategyID, Ticker: ticker}, nil
}

func (f *fakeOrders) submitted() []schema.OrderIntent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]schema.OrderIntent, len(f.submits))
	copy(out, f.submits)
	return out
}

type countingStrategy struct {
	id string

	mu     sync.Mutex
	events []schema.MarketEvent
	orders []schema.Order
	block  chan struct{}
}

func (s *countingStrategy) ID() string                       { return s.id }
func (s *countingStrategy) OnStart(*Context) error           { return nil }
func (s *countingStrategy) OnStop()                          {}
func (s *countingStrategy) OnPositionUpdate(schema.Position) {}

func (s *countingStrategy) OnMarketEvent(event schema.MarketEvent) {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *countingStrategy) OnOrderUpdate(order schema.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, order)
}

func (s *countingStrategy) eventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *countingStrategy) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func TestRunnerDeliversInOrder(t *testing.T) {
	s := &countingStrategy{id: "s1"}
	r := NewRunner(s, &fakeOrders{}, 16, time.Second)
	require.NoError(t, r.Start(context.Background()))

	for seq := uint64(1); seq <= 3; seq++ {
		r.DeliverMarketEvent(schema.MarketEvent{Ticker: "KXTEST-A", Seq: seq})
	}
	require.Eventually(t, func() bool { return s.eventCount() == 3 }, time.Second, time.Millisecond)

	r.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.Equal(t, uint64(1), s.events[0].Seq)
	require.Equal(t, uint64(3), s.events[2].Seq)
}

func TestRunnerShedsWhenMailboxFull(t *testing.T) {
	s := &countingStrategy{id: "s1", block: make(chan struct{})}
	r := NewRunner(s, &fakeOrders{}, 2, time.Second)
	require.NoError(t, r.Start(context.Background()))
	defer func() {
		close(s.block)
		r.Stop()
	}()

	// One in flight, two buffered, the rest shed.
	require.Eventually(t, func() bool {
		r.DeliverMarketEvent(schema.MarketEvent{Ticker: "KXTEST-A"})
		return r.Drops() > 0
	}, time.Second, time.Millisecond)
}

func TestRunnerHandlersFilterByStrategy(t *testing.T) {
	s := &countingStrategy{id: "s1"}
	r := NewRunner(s, &fakeOrders{}, 16, time.Second)
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()

	mine, err := codec.EncodeOrder(schema.Order{ClientOrderID: "c1", StrategyID: "s1"})
	require.NoError(t, err)
	other, err := codec.EncodeOrder(schema.Order{ClientOrderID: "c2", StrategyID: "s2"})
	require.NoError(t, err)

	handler := r.OrderHandler()
	require.NoError(t, handler(context.Background(), broker.Message{Topic: "orders.updates", Payload: mine}))
	require.NoError(t, handler(context.Background(), broker.Message{Topic: "orders.updates", Payload: other}))
	require.Error(t, handler(context.Background(), broker.Message{Topic: "orders.updates", Payload: []byte("{")}))

	require.Eventually(t, func() bool { return s.orderCount() == 1 }, time.Second, time.Millisecond)
}

func TestContextStampsIntent(t *testing.T) {
	orders := &fakeOrders{}
	sc := NewContext("s1", orders)

	first, err := sc.Submit(context.Background(), "KXTEST-A", schema.OrderSideBuy, 10, 5, schema.TimeInForceGTC)
	require.NoError(t, err)
	second, err := sc.Submit(context.Background(), "KXTEST-A", schema.OrderSideBuy, 10, 5, schema.TimeInForceGTC)
	require.NoError(t, err)

	intents := orders.submitted()
	require.Len(t, intents, 2)
	require.Equal(t, "s1", intents[0].StrategyID)
	require.NotEmpty(t, first.ClientOrderID)
	require.NotEqual(t, first.ClientOrderID, second.ClientOrderID)
}

func TestRunnerDiscardsDeliveriesAfterStop(t *testing.T) {
	s := &countingStrategy{id: "s1"}
	r := NewRunner(s, &fakeOrders{}, 4, time.Second)
	require.NoError(t, r.Start(context.Background()))
	r.Stop()

	// Monitor dispatch goroutines can outlive the runner during the
	// shutdown drain window; late deliveries must be a no-op.
	require.NotPanics(t, func() {
		r.DeliverMarketEvent(schema.MarketEvent{Ticker: "KXTEST-A", Seq: 1})
		r.DeliverOrderUpdate(schema.Order{ClientOrderID: "c1"})
		r.DeliverPositionUpdate(schema.Position{Ticker: "KXTEST-A"})
	})
	require.Zero(t, s.eventCount())
}

func TestRunnerStopWithConcurrentDeliveries(t *testing.T) {
	s := &countingStrategy{id: "s1"}
	r := NewRunner(s, &fakeOrders{}, 4, time.Second)
	require.NoError(t, r.Start(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.DeliverMarketEvent(schema.MarketEvent{Ticker: "KXTEST-A", Seq: uint64(j)})
			}
		}()
	}
	r.Stop()
	wg.Wait()
}
