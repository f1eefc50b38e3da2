package memory

import (
	"context"
	"sync"
	"time"

	"main/pkg/broker"
	"main/pkg/exception"
)

// redeliverAfter paces redelivery to a failing handler so it cannot spin
// a core on the same message.
const redeliverAfter = 10 * time.Millisecond

// Broker is an in-process, append-only topic log. Each topic is a single
// partition, so per-key ordering holds trivially. Consumer groups track
// committed offsets, so a restarted consumer resumes where it left off and
// a first-time group replays from the retention start.
type Broker struct {
	mu      sync.Mutex
	cond    *sync.Cond
	topics  map[string][]broker.Message
	offsets map[string]int64
	closed  bool
}

// NewBroker allocates an empty broker.
func NewBroker() *Broker {
	b := &Broker{
		topics:  make(map[string][]broker.Message),
		offsets: make(map[string]int64),
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Producer returns a producer view of the broker.
func (b *Broker) Producer() broker.Producer {
	return (*producer)(b)
}

// Consumer returns a consumer view bound to a consumer group.
func (b *Broker) Consumer(groupID string) broker.Consumer {
	return &consumer{broker: b, groupID: groupID}
}

// Close rejects further publishes and wakes blocked consumers.
func (b *Broker) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.cond.Broadcast()
}

// Messages returns a copy of a topic's log, for assertions in tests.
func (b *Broker) Messages(topic string) []broker.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]broker.Message, len(b.topics[topic]))
	copy(out, b.topics[topic])
	return out
}

type producer Broker

func (p *producer) Publish(topic, key string, payload []byte) error {
	b := (*Broker)(p)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return exception.ErrBrokerClosed
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	b.topics[topic] = append(b.topics[topic], broker.Message{
		Topic:   topic,
		Offset:  int64(len(b.topics[topic])),
		Key:     key,
		Payload: buf,
	})
	b.mu.Unlock()
	b.cond.Broadcast()
	return nil
}

func (p *producer) Close() error {
	return nil
}

type consumer struct {
	broker  *Broker
	groupID string
}

func (c *consumer) Consume(ctx context.Context, topics []string, handler func(broker.Message) error) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		c.broker.cond.Broadcast()
	}()

	var wg sync.WaitGroup
	for _, topic := range topics {
		wg.Add(1)
		go func(topic string) {
			defer wg.Done()
			c.consumeTopic(ctx, topic, handler)
		}(topic)
	}
	wg.Wait()
	return ctx.Err()
}

func (c *consumer) consumeTopic(ctx context.Context, topic string, handler func(broker.Message) error) {
	b := c.broker
	key := c.groupID + "|" + topic
	for {
		b.mu.Lock()
		for ctx.Err() == nil && !b.closed && b.offsets[key] >= int64(len(b.topics[topic])) {
			b.cond.Wait()
		}
		if ctx.Err() != nil || (b.closed && b.offsets[key] >= int64(len(b.topics[topic]))) {
			b.mu.Unlock()
			return
		}
		msg := b.topics[topic][b.offsets[key]]
		b.mu.Unlock()

		if err := handler(msg); err != nil {
			// Offset stays put; the message is redelivered after a pause.
			select {
			case <-ctx.Done():
				return
			case <-time.After(redeliverAfter):
			}
			continue
		}

		b.mu.Lock()
		b.offsets[key] = msg.Offset + 1
		b.mu.Unlock()
	}
}

func (c *consumer) Close() error {
	return nil
}
