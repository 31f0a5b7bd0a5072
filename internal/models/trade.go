package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event type constants
const (
	EventTypeTradeExecuted = "TRADE_EXECUTED"
)

// TradeEvent is the Kafka event published after a buy or sell has been
// applied to a portfolio.
type TradeEvent struct {
	EventType  string          `json:"event_type"`
	EventID    string          `json:"event_id"`
	UserID     string          `json:"user_id"`
	Symbol     string          `json:"symbol"`
	Side       string          `json:"side"`
	Quantity   int64           `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	CashAfter  decimal.Decimal `json:"cash_after"`
	ExecutedAt time.Time       `json:"executed_at"`
}

// TradeRecord is a journaled trade row in the audit database.
type TradeRecord struct {
	ID         int             `json:"id"`
	EventID    string          `json:"event_id"`
	UserID     string          `json:"user_id"`
	Symbol     string          `json:"symbol"`
	Side       string          `json:"side"`
	Quantity   int64           `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	ExecutedAt time.Time       `json:"executed_at"`
	CreatedAt  time.Time       `json:"created_at"`
}
