package broker

import (
	"context"

	"github.com/yanun0323/errors"

	"main/pkg/backoff"
	"main/pkg/exception"
)

// PublishRetry publishes with bounded retries, backing off between attempts.
// When the bound is exhausted the message is dropped and
// ErrBrokerPublishDropped returned so the caller can raise an alert; the
// broker being down must never stall or grow the pipeline unboundedly.
func PublishRetry(ctx context.Context, p Producer, topic, key string, payload []byte, attempts int, b backoff.Backoff) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = p.Publish(topic, key, payload); err == nil {
			return nil
		}
		if attempt < attempts {
			if sleepErr := b.Sleep(ctx, attempt); sleepErr != nil {
				return errors.Wrap(exception.ErrBrokerPublishDropped, sleepErr.Error())
			}
		}
	}
	return errors.Wrap(exception.ErrBrokerPublishDropped, err.Error())
}
