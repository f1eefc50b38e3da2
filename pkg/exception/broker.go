package exception

import "errors"

var (
	ErrBrokerUnavailable    = errors.New("broker: unavailable")
	ErrBrokerClosed         = errors.New("broker: closed")
	ErrBrokerPublishDropped = errors.New("broker: publish retries exhausted, message dropped")
	ErrHandlerDisabled      = errors.New("monitor: handler disabled by circuit breaker")
)
