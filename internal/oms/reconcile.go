package oms

import (
	"context"
	"fmt"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/exchange"
	"main/internal/schema"
	"main/pkg/exception"
)

// reconcile rebuilds local state from the store and squares it against the
// exchange snapshot. It runs before the writer goroutine starts, so it may
// touch state directly. Mismatched tickers are halted until ClearHalt.
func (o *OMS) reconcile(ctx context.Context) error {
	if err := o.loadLocal(ctx); err != nil {
		return err
	}

	open, err := o.client.OpenOrders(ctx)
	if err != nil {
		return errors.Wrap(err, "reconcile open orders")
	}
	for _, oo := range open {
		o.adoptOpenOrder(oo)
	}

	positions, err := o.client.Positions(ctx)
	if err != nil {
		return errors.Wrap(err, "reconcile positions")
	}

	remote := make(map[schema.Ticker]schema.Quantity, len(positions))
	for _, p := range positions {
		remote[p.Ticker] = p.Qty
	}

	var mismatched []string
	check := func(ticker schema.Ticker, local, exch schema.Quantity) {
		if local == exch {
			return
		}
		reason := fmt.Sprintf("position mismatch on %s: local=%d exchange=%d", ticker, local, exch)
		o.halted[ticker] = reason
		mismatched = append(mismatched, reason)
		logs.Errorf("reconcile: %s, ticker halted", reason)
	}

	seen := make(map[schema.Ticker]struct{}, len(remote))
	for ticker, qty := range remote {
		seen[ticker] = struct{}{}
		check(ticker, o.ledger.NetQty(ticker), qty)
	}
	for _, ticker := range o.ledger.Tickers() {
		if _, ok := seen[ticker]; ok {
			continue
		}
		check(ticker, o.ledger.NetQty(ticker), 0)
	}

	if len(mismatched) != 0 {
		return errors.Wrap(exception.ErrReconciliationMismatch, fmt.Sprintf("%d ticker(s) halted", len(mismatched)))
	}
	return nil
}

func (o *OMS) loadLocal(ctx context.Context) error {
	if o.store == nil {
		return nil
	}
	orders, err := o.store.LoadOrders(ctx)
	if err != nil {
		return errors.Wrap(err, "load orders")
	}
	for i := range orders {
		order := orders[i]
		o.orders[order.ClientOrderID] = &order
		if order.ExchangeOrderID != "" {
			o.byExchangeID[order.ExchangeOrderID] = order.ClientOrderID
		}
	}
	fills, err := o.store.LoadFills(ctx)
	if err != nil {
		return errors.Wrap(err, "load fills")
	}
	for _, f := range fills {
		o.ledger.Apply(f.StrategyID, f.Fill)
	}
	logs.Infof("reconcile: restored %d order(s), %d fill(s)", len(orders), len(fills))
	return nil
}

// adoptOpenOrder folds one entry of the exchange open-order snapshot into
// local state. Unknown orders become External orders; known orders trust the
// exchange for quantities.
func (o *OMS) adoptOpenOrder(oo exchange.OpenOrder) {
	clientOrderID := oo.ClientOrderID
	if clientOrderID == "" {
		clientOrderID = "ext-" + oo.ExchangeOrderID
	}
	if order, ok := o.orders[clientOrderID]; ok {
		if order.Size != oo.Size || order.FilledSize != oo.FilledSize {
			logs.Warnf("reconcile: order %s quantities adjusted to exchange snapshot: size %d->%d filled %d->%d",
				clientOrderID, order.Size, oo.Size, order.FilledSize, oo.FilledSize)
			order.Size = oo.Size
			order.FilledSize = oo.FilledSize
		}
		if order.ExchangeOrderID == "" {
			order.ExchangeOrderID = oo.ExchangeOrderID
		}
		o.byExchangeID[order.ExchangeOrderID] = clientOrderID
		switch order.Status {
		case schema.OrderStatusOpen, schema.OrderStatusPartiallyFilled:
		default:
			// Exchange says it is resting; the stored state is stale.
			status := schema.OrderStatusOpen
			if order.FilledSize > 0 {
				status = schema.OrderStatusPartiallyFilled
			}
			order.Status = status
		}
		order.UpdatedAt = time.Now().UTC().UnixNano()
		o.persistOrder(order)
		return
	}

	now := time.Now().UTC().UnixNano()
	status := schema.OrderStatusOpen
	if oo.FilledSize > 0 {
		status = schema.OrderStatusPartiallyFilled
	}
	order := &schema.Order{
		ClientOrderID:   clientOrderID,
		ExchangeOrderID: oo.ExchangeOrderID,
		StrategyID:      ExternalStrategyID,
		Ticker:          oo.Ticker,
		Side:            oo.Side,
		Price:           oo.Price,
		Size:            oo.Size,
		FilledSize:      oo.FilledSize,
		Status:          status,
		External:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	o.orders[clientOrderID] = order
	o.byExchangeID[oo.ExchangeOrderID] = clientOrderID
	o.persistOrder(order)
	logs.Warnf("reconcile: adopted external order %s on %s", clientOrderID, oo.Ticker)
}
