package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/paperfolio/portfolio-service/internal/models"
)

// CreateTradeRecord inserts a new journaled trade
func (db *DB) CreateTradeRecord(t *models.TradeRecord) error {
	query := `
		INSERT INTO trade_records (
			event_id, user_id, symbol, side, quantity, price, executed_at, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
		RETURNING id
	`
	now := time.Now()
	executedAt := t.ExecutedAt
	if executedAt.IsZero() {
		executedAt = now
	}

	err := db.conn.QueryRow(query,
		t.EventID, t.UserID, t.Symbol, t.Side, t.Quantity, t.Price, executedAt, now,
	).Scan(&t.ID)

	if err != nil {
		return fmt.Errorf("failed to create trade record: %w", err)
	}
	t.ExecutedAt = executedAt
	t.CreatedAt = now
	return nil
}

// TradeExistsByEventID checks if a trade with the given event_id was
// already journaled
func (db *DB) TradeExistsByEventID(eventID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM trade_records WHERE event_id = $1)`
	var exists bool
	if err := db.conn.QueryRow(query, eventID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check trade record existence: %w", err)
	}
	return exists, nil
}

// GetTradeRecordByID retrieves a journaled trade by ID
func (db *DB) GetTradeRecordByID(id int) (*models.TradeRecord, error) {
	query := `
		SELECT id, event_id, user_id, symbol, side, quantity, price, executed_at, created_at
		FROM trade_records
		WHERE id = $1
	`
	row := db.conn.QueryRow(query, id)

	var t models.TradeRecord
	err := row.Scan(&t.ID, &t.EventID, &t.UserID, &t.Symbol, &t.Side, &t.Quantity, &t.Price, &t.ExecutedAt, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("trade record not found: %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trade record: %w", err)
	}
	return &t, nil
}

// GetTradeRecordsBySymbol retrieves journaled trades for a symbol, most
// recent first
func (db *DB) GetTradeRecordsBySymbol(symbol string, limit int) ([]*models.TradeRecord, error) {
	query := `
		SELECT id, event_id, user_id, symbol, side, quantity, price, executed_at, created_at
		FROM trade_records
		WHERE symbol = $1
		ORDER BY executed_at DESC
		LIMIT $2
	`
	return db.scanTradeRecords(db.conn.Query(query, symbol, limit))
}

// GetTradeRecordsByUser retrieves journaled trades for a user, most recent
// first
func (db *DB) GetTradeRecordsByUser(userID string, limit int) ([]*models.TradeRecord, error) {
	query := `
		SELECT id, event_id, user_id, symbol, side, quantity, price, executed_at, created_at
		FROM trade_records
		WHERE user_id = $1
		ORDER BY executed_at DESC
		LIMIT $2
	`
	return db.scanTradeRecords(db.conn.Query(query, userID, limit))
}

// GetRecentTradeRecords retrieves the most recent journaled trades
func (db *DB) GetRecentTradeRecords(limit int) ([]*models.TradeRecord, error) {
	query := `
		SELECT id, event_id, user_id, symbol, side, quantity, price, executed_at, created_at
		FROM trade_records
		ORDER BY executed_at DESC
		LIMIT $1
	`
	return db.scanTradeRecords(db.conn.Query(query, limit))
}

func (db *DB) scanTradeRecords(rows *sql.Rows, err error) ([]*models.TradeRecord, error) {
	if err != nil {
		return nil, fmt.Errorf("failed to query trade records: %w", err)
	}
	defer rows.Close()

	var trades []*models.TradeRecord
	for rows.Next() {
		var t models.TradeRecord
		err := rows.Scan(&t.ID, &t.EventID, &t.UserID, &t.Symbol, &t.Side, &t.Quantity, &t.Price, &t.ExecutedAt, &t.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade record: %w", err)
		}
		trades = append(trades, &t)
	}
	return trades, nil
}
