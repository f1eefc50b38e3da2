package bus

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

var (
	ErrQueueFull   = errors.New("event queue full")
	ErrQueueClosed = errors.New("event queue closed")
)

// Event is the unit passed through the in-memory outbound queue.
type Event struct {
	Topic   string
	Key     string
	Payload []byte
}

// Queue is a bounded event queue. Producers either enqueue without blocking
// or block briefly and shed the oldest event; memory use never grows past
// the configured capacity.
type Queue struct {
	ch     chan Event
	closed uint32
	drops  uint64
}

// NewQueue allocates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan Event, capacity)}
}

// TryPublish enqueues an event without blocking.
func (q *Queue) TryPublish(e Event) error {
	if atomic.LoadUint32(&q.closed) != 0 {
		return ErrQueueClosed
	}
	select {
	case q.ch <- e:
		return nil
	default:
		return ErrQueueFull
	}
}

// PublishWait enqueues an event, blocking up to wait for capacity. If the
// queue is still full afterwards, the oldest buffered event is dropped to
// make room and dropped=true is reported so the caller can raise a
// staleness alert.
func (q *Queue) PublishWait(e Event, wait time.Duration) (dropped bool, err error) {
	if atomic.LoadUint32(&q.closed) != 0 {
		return false, ErrQueueClosed
	}
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case q.ch <- e:
			return false, nil
		case <-timer.C:
		}
	} else {
		select {
		case q.ch <- e:
			return false, nil
		default:
		}
	}

	// Shed the oldest event rather than grow or stall indefinitely.
	select {
	case <-q.ch:
		dropped = true
		atomic.AddUint64(&q.drops, 1)
	default:
	}
	select {
	case q.ch <- e:
		return dropped, nil
	default:
		return dropped, ErrQueueFull
	}
}

// Drops reports how many events were shed by PublishWait.
func (q *Queue) Drops() uint64 {
	return atomic.LoadUint64(&q.drops)
}

// Len reports the number of buffered events.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops the queue from accepting new events.
func (q *Queue) Close() {
	if atomic.CompareAndSwapUint32(&q.closed, 0, 1) {
		close(q.ch)
	}
}

// Run consumes events until the context is done or the queue is closed.
func (q *Queue) Run(ctx context.Context, handler func(Event)) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-q.ch:
			if !ok {
				return
			}
			handler(e)
		}
	}
}
