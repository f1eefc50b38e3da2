package obs

import (
	"sync/atomic"
	"time"
)

// Metrics collects lightweight counters and latency stats across the
// pipeline. All methods are safe on a nil receiver.
type Metrics struct {
	eventsPublished uint64
	dupsDropped     uint64
	gapResyncs      uint64
	queueDrops      uint64
	publishDrops    uint64
	fillsApplied    uint64
	handlerFailures uint64
	handlerDisabled uint64

	publishLatency LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	EventsPublished uint64
	DupsDropped     uint64
	GapResyncs      uint64
	QueueDrops      uint64
	PublishDrops    uint64
	FillsApplied    uint64
	HandlerFailures uint64
	HandlerDisabled uint64
	PublishLatency  LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// IncEventPublished records one market event handed to the broker.
func (m *Metrics) IncEventPublished() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.eventsPublished, 1)
}

// IncDupDropped records a duplicate sequence number dropped by the sequencer.
func (m *Metrics) IncDupDropped() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.dupsDropped, 1)
}

// IncGapResync records a snapshot resync after a sequence gap.
func (m *Metrics) IncGapResync() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.gapResyncs, 1)
}

// IncQueueDrop records an outbound queue drop under backpressure.
func (m *Metrics) IncQueueDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueDrops, 1)
}

// IncPublishDrop records a broker publish that exhausted its retries.
func (m *Metrics) IncPublishDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.publishDrops, 1)
}

// IncFill records a fill applied to the position book.
func (m *Metrics) IncFill() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.fillsApplied, 1)
}

// IncHandlerFailure records a consumer handler error.
func (m *Metrics) IncHandlerFailure() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.handlerFailures, 1)
}

// IncHandlerDisabled records a handler tripped by its circuit breaker.
func (m *Metrics) IncHandlerDisabled() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.handlerDisabled, 1)
}

// ObservePublish measures receive-to-publish latency for one event.
func (m *Metrics) ObservePublish(d time.Duration) {
	if m == nil {
		return
	}
	m.publishLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		EventsPublished: atomic.LoadUint64(&m.eventsPublished),
		DupsDropped:     atomic.LoadUint64(&m.dupsDropped),
		GapResyncs:      atomic.LoadUint64(&m.gapResyncs),
		QueueDrops:      atomic.LoadUint64(&m.queueDrops),
		PublishDrops:    atomic.LoadUint64(&m.publishDrops),
		FillsApplied:    atomic.LoadUint64(&m.fillsApplied),
		HandlerFailures: atomic.LoadUint64(&m.handlerFailures),
		HandlerDisabled: atomic.LoadUint64(&m.handlerDisabled),
		PublishLatency:  m.publishLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
