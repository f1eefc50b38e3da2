package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"main/internal/schema"
)

// Snapshot captures the position book at a point in time. It is written on
// shutdown and compared against the recomputed book on the next start as a
// bookkeeping cross-check; the exchange snapshot stays authoritative.
type Snapshot struct {
	Timestamp int64           `json:"timestamp"`
	Positions []PositionEntry `json:"positions"`
}

// PositionEntry is one strategy/ticker position entry.
type PositionEntry struct {
	StrategyID  string          `json:"strategyId"`
	Ticker      schema.Ticker   `json:"ticker"`
	Qty         schema.Quantity `json:"qty"`
	AvgPrice    decimal.Decimal `json:"avgPrice"`
	RealizedPnL decimal.Decimal `json:"realizedPnl"`
}

// Build creates a snapshot from the current positions, entries sorted for
// stable output.
func Build(positions []schema.Position) Snapshot {
	entries := make([]PositionEntry, 0, len(positions))
	for _, pos := range positions {
		entries = append(entries, PositionEntry{
			StrategyID:  pos.StrategyID,
			Ticker:      pos.Ticker,
			Qty:         pos.Qty,
			AvgPrice:    pos.AvgPrice,
			RealizedPnL: pos.RealizedPnL,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].StrategyID != entries[j].StrategyID {
			return entries[i].StrategyID < entries[j].StrategyID
		}
		return entries[i].Ticker < entries[j].Ticker
	})
	return Snapshot{
		Timestamp: time.Now().UTC().UnixNano(),
		Positions: entries,
	}
}

// Write writes a snapshot to disk as JSON.
func Write(path string, snapshot Snapshot) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// Read loads a snapshot from disk.
func Read(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Compare checks whether two snapshots hold the same positions.
func Compare(expected, actual Snapshot) error {
	if len(expected.Positions) != len(actual.Positions) {
		return fmt.Errorf("snapshot length mismatch: expected=%d actual=%d", len(expected.Positions), len(actual.Positions))
	}
	type key struct {
		strategyID string
		ticker     schema.Ticker
	}
	expectedMap := make(map[key]PositionEntry, len(expected.Positions))
	for _, entry := range expected.Positions {
		expectedMap[key{entry.StrategyID, entry.Ticker}] = entry
	}
	for _, entry := range actual.Positions {
		want, ok := expectedMap[key{entry.StrategyID, entry.Ticker}]
		if !ok {
			return fmt.Errorf("snapshot missing position: %s/%s", entry.StrategyID, entry.Ticker)
		}
		if want.Qty != entry.Qty {
			return fmt.Errorf("snapshot qty mismatch: %s/%s expected=%d actual=%d", entry.StrategyID, entry.Ticker, want.Qty, entry.Qty)
		}
		if !want.AvgPrice.Equal(entry.AvgPrice) {
			return fmt.Errorf("snapshot avg price mismatch: %s/%s expected=%s actual=%s", entry.StrategyID, entry.Ticker, want.AvgPrice, entry.AvgPrice)
		}
		if !want.RealizedPnL.Equal(entry.RealizedPnL) {
			return fmt.Errorf("snapshot pnl mismatch: %s/%s expected=%s actual=%s", entry.StrategyID, entry.Ticker, want.RealizedPnL, entry.RealizedPnL)
		}
	}
	return nil
}
