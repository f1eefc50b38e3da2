package store

import (
	"context"
	"sync"

	"main/internal/schema"
)

// Memory is an in-process store for tests and paper runs.
type Memory struct {
	mu     sync.Mutex
	orders map[string]schema.Order
	fills  []StoredFill
	seen   map[string]struct{}
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		orders: make(map[string]schema.Order),
		seen:   make(map[string]struct{}),
	}
}

func (m *Memory) SaveOrder(_ context.Context, order schema.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[order.ClientOrderID] = order
	return nil
}

func (m *Memory) SaveFill(_ context.Context, strategyID string, fill schema.Fill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[fill.FillID]; ok {
		return nil
	}
	m.seen[fill.FillID] = struct{}{}
	m.fills = append(m.fills, StoredFill{StrategyID: strategyID, Fill: fill})
	return nil
}

func (m *Memory) LoadOrders(context.Context) ([]schema.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]schema.Order, 0, len(m.orders))
	for _, order := range m.orders {
		out = append(out, order)
	}
	return out, nil
}

func (m *Memory) LoadFills(context.Context) ([]StoredFill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]StoredFill, len(m.fills))
	copy(out, m.fills)
	return out, nil
}

func (m *Memory) Close() error {
	return nil
}
