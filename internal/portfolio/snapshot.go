package portfolio

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/paperfolio/portfolio-service/internal/models"
)

// Persisted snapshot wire format: cash is stored as a double under
// user_<id>_cash, the position list as JSON under user_<id>_portfolio.
// Timestamps travel as RFC 3339 strings.

type positionSnapshot struct {
	Symbol       string                `json:"symbol"`
	Transactions []transactionSnapshot `json:"transactions"`
}

type transactionSnapshot struct {
	Quantity      int64   `json:"quantity"`
	PricePerShare float64 `json:"pricePerShare"`
	Timestamp     string  `json:"timestamp"`
}

// snapshotPositions flattens the position map into a symbol-sorted list so
// consecutive saves of the same state produce identical bytes.
func snapshotPositions(positions map[string]*models.Position) []positionSnapshot {
	symbols := make([]string, 0, len(positions))
	for symbol := range positions {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	snaps := make([]positionSnapshot, 0, len(symbols))
	for _, symbol := range symbols {
		pos := positions[symbol]
		txs := make([]transactionSnapshot, 0, len(pos.Transactions))
		for _, tx := range pos.Transactions {
			txs = append(txs, transactionSnapshot{
				Quantity:      tx.Quantity,
				PricePerShare: tx.PricePerShare.InexactFloat64(),
				Timestamp:     tx.Timestamp.UTC().Format(time.RFC3339),
			})
		}
		snaps = append(snaps, positionSnapshot{Symbol: symbol, Transactions: txs})
	}
	return snaps
}

// restorePositions rebuilds the ledger map from a decoded snapshot,
// preserving transaction order per symbol.
func restorePositions(snaps []positionSnapshot) (map[string]*models.Position, error) {
	positions := make(map[string]*models.Position, len(snaps))
	for _, snap := range snaps {
		if snap.Symbol == "" {
			return nil, fmt.Errorf("position snapshot without symbol")
		}
		pos := &models.Position{Symbol: snap.Symbol}
		for _, tx := range snap.Transactions {
			ts, err := time.Parse(time.RFC3339, tx.Timestamp)
			if err != nil {
				return nil, fmt.Errorf("bad timestamp %q for %s: %w", tx.Timestamp, snap.Symbol, err)
			}
			pos.Append(models.Transaction{
				Quantity:      tx.Quantity,
				PricePerShare: decimal.NewFromFloat(tx.PricePerShare),
				Timestamp:     ts,
			})
		}
		positions[snap.Symbol] = pos
	}
	return positions, nil
}
