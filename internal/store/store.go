package store

import (
	"context"

	"main/internal/schema"
)

// StoredFill is a ledger entry with its owning strategy.
type StoredFill struct {
	StrategyID string
	Fill       schema.Fill
}

// Store persists orders and the fill ledger so local state survives a
// restart and can be reconciled against the exchange snapshot. The OMS
// treats a nil Store as "no persistence".
type Store interface {
	SaveOrder(ctx context.Context, order schema.Order) error
	SaveFill(ctx context.Context, strategyID string, fill schema.Fill) error
	LoadOrders(ctx context.Context) ([]schema.Order, error)
	LoadFills(ctx context.Context) ([]StoredFill, error)
	Close() error
}
