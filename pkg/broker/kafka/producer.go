package kafka

import (
	"time"

	"github.com/IBM/sarama"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/pkg/exception"
)

const connectAttempts = 10

// Producer wraps a sarama.SyncProducer with a reliable configuration.
type Producer struct {
	internal sarama.SyncProducer
}

// NewProducer creates a SyncProducer with a connection retry mechanism.
// The hash partitioner keeps every key (ticker) on a stable partition.
func NewProducer(brokers []string) (*Producer, error) {
	config := sarama.NewConfig()
	// The producer waits for the message to be committed by the broker.
	config.Producer.Return.Successes = true
	// WaitForAll ensures the message is committed by the leader AND all in-sync replicas.
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Partitioner = sarama.NewHashPartitioner

	var prod sarama.SyncProducer
	var err error
	for i := 0; i < connectAttempts; i++ {
		prod, err = sarama.NewSyncProducer(brokers, config)
		if err == nil {
			return &Producer{internal: prod}, nil
		}
		time.Sleep(2 * time.Second)
	}
	logs.Errorf("producer could not reach %v after %d attempts: %+v", brokers, connectAttempts, err)
	return nil, errors.Wrap(exception.ErrBrokerUnavailable, err.Error())
}

// Publish sends one keyed message and blocks until the broker acks it.
func (p *Producer) Publish(topic, key string, payload []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(payload),
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}
	if _, _, err := p.internal.SendMessage(msg); err != nil {
		return errors.Wrap(err, "produce message to "+topic)
	}
	return nil
}

// Close shuts down the underlying producer.
func (p *Producer) Close() error {
	return p.internal.Close()
}
