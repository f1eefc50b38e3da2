package oms

import (
	"github.com/shopspring/decimal"

	"main/internal/schema"
)

// CostPolicy selects how realized PnL is attributed when a position is
// reduced. Only weighted-average cost is implemented.
type CostPolicy uint16

const (
	CostWeightedAverage CostPolicy = iota
	CostFIFO                       // reserved, not implemented
)

type positionKey struct {
	strategyID string
	ticker     schema.Ticker
}

type ledgerFill struct {
	fill       schema.Fill
	strategyID string
}

// Ledger is the append-only fill ledger and the position book derived from
// it. Fills are keyed by exchange fill id so re-delivered notifications are
// absorbed. The incrementally maintained book always matches a recompute
// over the full ledger.
type Ledger struct {
	policy CostPolicy
	fills  map[string]ledgerFill
	order  []string
	byKey  map[positionKey][]string
	book   map[positionKey]*schema.Position
}

// NewLedger creates an empty ledger.
func NewLedger(policy CostPolicy) *Ledger {
	return &Ledger{
		policy: policy,
		fills:  make(map[string]ledgerFill),
		byKey:  make(map[positionKey][]string),
		book:   make(map[positionKey]*schema.Position),
	}
}

// Apply records a fill and updates the position book. It reports false when
// the fill id was already recorded.
func (l *Ledger) Apply(strategyID string, fill schema.Fill) (schema.Position, bool) {
	key := positionKey{strategyID: strategyID, ticker: fill.Ticker}
	if _, seen := l.fills[fill.FillID]; seen {
		return l.position(key), false
	}

	l.fills[fill.FillID] = ledgerFill{fill: fill, strategyID: strategyID}
	l.order = append(l.order, fill.FillID)
	l.byKey[key] = append(l.byKey[key], fill.FillID)

	pos, ok := l.book[key]
	if !ok {
		pos = &schema.Position{
			StrategyID:  strategyID,
			Ticker:      fill.Ticker,
			AvgPrice:    decimal.Zero,
			RealizedPnL: decimal.Zero,
		}
		l.book[key] = pos
	}
	applyFill(pos, fill)
	return *pos, true
}

// Seen reports whether a fill id is already recorded.
func (l *Ledger) Seen(fillID string) bool {
	_, ok := l.fills[fillID]
	return ok
}

// Position returns the current position for a strategy and ticker.
func (l *Ledger) Position(strategyID string, ticker schema.Ticker) schema.Position {
	return l.position(positionKey{strategyID: strategyID, ticker: ticker})
}

func (l *Ledger) position(key positionKey) schema.Position {
	if pos, ok := l.book[key]; ok {
		return *pos
	}
	return schema.Position{
		StrategyID:  key.strategyID,
		Ticker:      key.ticker,
		AvgPrice:    decimal.Zero,
		RealizedPnL: decimal.Zero,
	}
}

// Positions returns a snapshot of every tracked position.
func (l *Ledger) Positions() []schema.Position {
	out := make([]schema.Position, 0, len(l.book))
	for _, pos := range l.book {
		out = append(out, *pos)
	}
	return out
}

// Tickers returns every ticker with a tracked position.
func (l *Ledger) Tickers() []schema.Ticker {
	seen := make(map[schema.Ticker]struct{}, len(l.book))
	out := make([]schema.Ticker, 0, len(l.book))
	for key := range l.book {
		if _, ok := seen[key.ticker]; ok {
			continue
		}
		seen[key.ticker] = struct{}{}
		out = append(out, key.ticker)
	}
	return out
}

// NetQty sums the signed quantity across all strategies for a ticker.
func (l *Ledger) NetQty(ticker schema.Ticker) schema.Quantity {
	var net schema.Quantity
	for key, pos := range l.book {
		if key.ticker == ticker {
			net += pos.Qty
		}
	}
	return net
}

// Recompute rebuilds one position from the full fill ledger. The result must
// always equal the incrementally maintained book entry.
func (l *Ledger) Recompute(strategyID string, ticker schema.Ticker) schema.Position {
	key := positionKey{strategyID: strategyID, ticker: ticker}
	pos := schema.Position{
		StrategyID:  strategyID,
		Ticker:      ticker,
		AvgPrice:    decimal.Zero,
		RealizedPnL: decimal.Zero,
	}
	for _, id := range l.byKey[key] {
		applyFill(&pos, l.fills[id].fill)
	}
	return pos
}

// applyFill folds one fill into a position using weighted-average cost.
// Realized PnL accrues on the quantity that reduces the position toward or
// through zero; crossing zero re-opens the remainder at the fill price.
func applyFill(pos *schema.Position, fill schema.Fill) {
	signed := fill.Size
	if fill.Side == schema.OrderSideSell {
		signed = -signed
	}
	if signed == 0 {
		return
	}

	price := decimal.NewFromInt(int64(fill.Price))

	switch {
	case pos.Qty == 0 || sameSign(pos.Qty, signed):
		// Increasing exposure: fold the fill into the average cost.
		oldAbs := decimal.NewFromInt(int64(abs(pos.Qty)))
		addAbs := decimal.NewFromInt(int64(abs(signed)))
		total := oldAbs.Add(addAbs)
		pos.AvgPrice = pos.AvgPrice.Mul(oldAbs).Add(price.Mul(addAbs)).Div(total)
		pos.Qty += signed

	default:
		closed := abs(signed)
		if closed > abs(pos.Qty) {
			closed = abs(pos.Qty)
		}
		closedDec := decimal.NewFromInt(int64(closed))
		perUnit := price.Sub(pos.AvgPrice)
		if pos.Qty < 0 {
			perUnit = perUnit.Neg()
		}
		pos.RealizedPnL = pos.RealizedPnL.Add(perUnit.Mul(closedDec))

		pos.Qty += signed
		switch {
		case pos.Qty == 0:
			pos.AvgPrice = decimal.Zero
		case !sameSign(pos.Qty-signed, pos.Qty):
			// Crossed through zero; the remainder opens at the fill price.
			pos.AvgPrice = price
		}
	}
}

func sameSign(a, b schema.Quantity) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func abs(q schema.Quantity) schema.Quantity {
	if q < 0 {
		return -q
	}
	return q
}
