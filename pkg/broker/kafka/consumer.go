package kafka

import (
	"context"
	"time"

	"github.com/IBM/sarama"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/pkg/broker"
	"main/pkg/exception"
)

// Consumer runs a sarama consumer group, delivering messages in
// per-partition order and marking offsets only after the handler accepts
// each message.
type Consumer struct {
	group sarama.ConsumerGroup
}

// NewConsumer creates a consumer group with reliable offsets.
func NewConsumer(brokers []string, groupID string) (*Consumer, error) {
	config := sarama.NewConfig()
	// The consumer returns errors to the Errors() channel.
	// Has to be handled, otherwise deadlocks may occur.
	config.Consumer.Return.Errors = true
	// OffsetOldest ensures a first-time group processes retained messages.
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategySticky()

	var cg sarama.ConsumerGroup
	var err error
	for i := 0; i < connectAttempts; i++ {
		cg, err = sarama.NewConsumerGroup(brokers, groupID, config)
		if err == nil {
			return &Consumer{group: cg}, nil
		}
		time.Sleep(2 * time.Second)
	}
	logs.Errorf("consumer group %s could not reach %v after %d attempts: %+v", groupID, brokers, connectAttempts, err)
	return nil, errors.Wrap(exception.ErrBrokerUnavailable, err.Error())
}

// Consume blocks until ctx is done, rejoining the group across rebalances.
func (c *Consumer) Consume(ctx context.Context, topics []string, handler func(broker.Message) error) error {
	// Drain the Errors channel to prevent deadlocks.
	go func() {
		for err := range c.group.Errors() {
			logs.Errorf("background consumer error: %+v", err)
		}
	}()

	h := &groupHandler{handler: handler}
	for {
		if err := c.group.Consume(ctx, topics, h); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logs.Errorf("consumer group session: %+v", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Close shuts down the consumer group.
func (c *Consumer) Close() error {
	return c.group.Close()
}

type groupHandler struct {
	handler func(broker.Message) error
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		err := h.handler(broker.Message{
			Topic:     msg.Topic,
			Partition: msg.Partition,
			Offset:    msg.Offset,
			Key:       string(msg.Key),
			Payload:   msg.Value,
		})
		if err != nil {
			// Leave the offset unmarked so the message is redelivered.
			logs.Errorf("handler rejected message topic=%s offset=%d: %+v", msg.Topic, msg.Offset, err)
			continue
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}
