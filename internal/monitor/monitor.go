package monitor

import (
	"context"
	"sync"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/obs"
	"main/pkg/broker"
	"main/pkg/exception"
)

// HandlerFunc processes one broker message. Handlers must tolerate
// redelivery: the pipeline is at-least-once.
type HandlerFunc func(ctx context.Context, msg broker.Message) error

// Config controls handler supervision.
type Config struct {
	// Consecutive failures before a handler is taken out of rotation.
	TripAfter int
}

// DefaultConfig returns the monitor defaults.
func DefaultConfig() Config {
	return Config{TripAfter: 5}
}

type registration struct {
	name string
	fn   HandlerFunc

	mu       sync.Mutex
	failures int
	disabled bool
}

// Monitor fans broker messages out to registered handlers. Every handler is
// attempted for every message; a slow or failing handler never blocks the
// others, and one that fails repeatedly is tripped until re-enabled so it
// cannot stall offset progress for the rest.
type Monitor struct {
	cfg      Config
	consumer broker.Consumer
	metrics  *obs.Metrics

	mu       sync.RWMutex
	handlers []*registration
	byName   map[string]*registration
}

// New creates a monitor over one consumer group.
func New(consumer broker.Consumer, metrics *obs.Metrics, cfg Config) *Monitor {
	if cfg.TripAfter <= 0 {
		cfg.TripAfter = DefaultConfig().TripAfter
	}
	return &Monitor{
		cfg:      cfg,
		consumer: consumer,
		metrics:  metrics,
		byName:   make(map[string]*registration),
	}
}

// Register adds a named handler. Registering an existing name replaces it
// and resets its breaker.
func (m *Monitor) Register(name string, fn HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg := &registration{name: name, fn: fn}
	if old, ok := m.byName[name]; ok {
		for i, r := range m.handlers {
			if r == old {
				m.handlers[i] = reg
				break
			}
		}
	} else {
		m.handlers = append(m.handlers, reg)
	}
	m.byName[name] = reg
}

// Enable resets a tripped handler's breaker.
func (m *Monitor) Enable(name string) error {
	m.mu.RLock()
	reg, ok := m.byName[name]
	m.mu.RUnlock()
	if !ok {
		return errors.Wrap(exception.ErrHandlerDisabled, "unknown handler "+name)
	}
	reg.mu.Lock()
	reg.failures = 0
	reg.disabled = false
	reg.mu.Unlock()
	return nil
}

// Disabled lists handlers currently tripped.
func (m *Monitor) Disabled() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for _, reg := range m.handlers {
		reg.mu.Lock()
		if reg.disabled {
			out = append(out, reg.name)
		}
		reg.mu.Unlock()
	}
	return out
}

// Run consumes the given topics until the context is done. The consumer
// offset advances once every handler was attempted, regardless of handler
// errors, so one broken handler cannot wedge delivery.
func (m *Monitor) Run(ctx context.Context, topics []string) error {
	return m.consumer.Consume(ctx, topics, func(msg broker.Message) error {
		m.dispatch(ctx, msg)
		return nil
	})
}

func (m *Monitor) dispatch(ctx context.Context, msg broker.Message) {
	m.mu.RLock()
	regs := make([]*registration, len(m.handlers))
	copy(regs, m.handlers)
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, reg := range regs {
		reg.mu.Lock()
		skip := reg.disabled
		reg.mu.Unlock()
		if skip {
			continue
		}
		wg.Add(1)
		go func(reg *registration) {
			defer wg.Done()
			m.attempt(ctx, reg, msg)
		}(reg)
	}
	wg.Wait()
}

func (m *Monitor) attempt(ctx context.Context, reg *registration, msg broker.Message) {
	defer func() {
		if r := recover(); r != nil {
			logs.Errorf("handler %s panicked on %s@%d: %v", reg.name, msg.Topic, msg.Offset, r)
			m.recordFailure(reg)
		}
	}()

	if err := reg.fn(ctx, msg); err != nil {
		logs.Warnf("handler %s failed on %s@%d: %+v", reg.name, msg.Topic, msg.Offset, err)
		m.recordFailure(reg)
		return
	}

	reg.mu.Lock()
	reg.failures = 0
	reg.mu.Unlock()
}

func (m *Monitor) recordFailure(reg *registration) {
	m.metrics.IncHandlerFailure()
	reg.mu.Lock()
	reg.failures++
	tripped := !reg.disabled && reg.failures >= m.cfg.TripAfter
	if tripped {
		reg.disabled = true
	}
	reg.mu.Unlock()
	if tripped {
		m.metrics.IncHandlerDisabled()
		logs.Errorf("handler %s tripped after %d consecutive failures", reg.name, m.cfg.TripAfter)
	}
}
