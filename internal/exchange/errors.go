package exchange

import (
	"context"
	"errors"
	"net"

	"main/pkg/exception"
)

// Transient reports whether an error is worth retrying with backoff.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if Fatal(err) {
		return false
	}
	if errors.Is(err, exception.ErrConnectionLost) ||
		errors.Is(err, exception.ErrConnectionClosed) ||
		errors.Is(err, exception.ErrRequestTimeout) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// Fatal reports whether an error must terminate the owning component.
func Fatal(err error) bool {
	return errors.Is(err, exception.ErrAuthFailed)
}
