package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade side constants
const (
	TradeSideBuy  = "BUY"
	TradeSideSell = "SELL"
)

// Transaction is a single signed buy or sell record in a position's ledger.
// Buys carry a positive quantity, sells a negative one. A transaction is
// immutable once appended.
type Transaction struct {
	Quantity      int64           `json:"quantity"`
	PricePerShare decimal.Decimal `json:"price_per_share"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Position is the append-only transaction history for one symbol.
// Quantity, cost basis and average price are derived by folding over the
// transaction list; nothing is precomputed or cached.
type Position struct {
	Symbol       string        `json:"symbol"`
	Transactions []Transaction `json:"transactions"`
}

// Append adds a transaction to the ledger. The ledger performs no
// validation; callers are responsible for checking legality first.
func (p *Position) Append(tx Transaction) {
	p.Transactions = append(p.Transactions, tx)
}

// Quantity returns the net number of shares held.
func (p *Position) Quantity() int64 {
	var total int64
	for _, tx := range p.Transactions {
		total += tx.Quantity
	}
	return total
}

// CostBasis returns the cumulative cash committed to this position: the sum
// of quantity times price over all transactions. A sell subtracts quantity
// times the sale price, not the original purchase price, so this tracks net
// invested cash rather than the cost of the shares still held.
func (p *Position) CostBasis() decimal.Decimal {
	total := decimal.Zero
	for _, tx := range p.Transactions {
		total = total.Add(tx.PricePerShare.Mul(decimal.NewFromInt(tx.Quantity)))
	}
	return total
}

// AveragePrice returns cost basis divided by quantity, or zero when no
// shares are held.
func (p *Position) AveragePrice() decimal.Decimal {
	qty := p.Quantity()
	if qty <= 0 {
		return decimal.Zero
	}
	return p.CostBasis().Div(decimal.NewFromInt(qty))
}
