package broker

import "context"

// Topic names used across the pipeline. Market data topics are derived per
// ticker so the broker can partition by instrument.
const (
	TopicOrderUpdates    = "orders.updates"
	TopicPositionUpdates = "positions.updates"
	marketTopicPrefix    = "market."
)

// MarketTopic returns the market data topic for a ticker.
func MarketTopic(ticker string) string {
	return marketTopicPrefix + ticker
}

// Message is a single record delivered from a topic partition.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       string
	Payload   []byte
}

// Producer publishes keyed messages. Messages with the same key land on the
// same partition, preserving per-instrument order.
type Producer interface {
	Publish(topic, key string, payload []byte) error
	Close() error
}

// Consumer delivers messages for a set of topics in per-partition order.
// The committed offset for a message advances only after the handler
// returns nil, giving at-least-once delivery across restarts. A first-time
// consumer group starts from the retention start.
type Consumer interface {
	Consume(ctx context.Context, topics []string, handler func(Message) error) error
	Close() error
}
