// Package portfolio maintains a per-user cash balance and per-symbol stock
// holdings as an append-only transaction ledger.
package portfolio

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/paperfolio/portfolio-service/internal/models"
	"github.com/paperfolio/portfolio-service/internal/persistence"
)

// DefaultStartingCash is the balance a fresh portfolio starts with.
var DefaultStartingCash = decimal.NewFromInt(10000)

// Store owns the cash balance and the symbol-to-ledger map for the current
// identity. All exported operations hold the mutex for their whole
// check-then-act span, so no two mutations interleave mid-update.
type Store struct {
	store        persistence.Store
	identity     Identity
	startingCash decimal.Decimal
	log          zerolog.Logger

	mu        sync.Mutex
	cash      decimal.Decimal
	positions map[string]*models.Position
}

// NewStore creates a Store around the given persistence backend and
// identity provider. A zero startingCash selects the default.
func NewStore(ps persistence.Store, identity Identity, startingCash decimal.Decimal) *Store {
	if startingCash.IsZero() {
		startingCash = DefaultStartingCash
	}
	return &Store{
		store:        ps,
		identity:     identity,
		startingCash: startingCash,
		log:          log.With().Str("component", "portfolio").Logger(),
		cash:         startingCash,
		positions:    make(map[string]*models.Position),
	}
}

func cashKey(userID string) string      { return "user_" + userID + "_cash" }
func portfolioKey(userID string) string { return "user_" + userID + "_portfolio" }

// Buy validates and applies a purchase: debits cash and appends a positive
// transaction to the symbol's ledger, creating it if absent. The in-memory
// mutation commits even if the subsequent save fails; persistence failures
// are logged, not rolled back.
func (s *Store) Buy(ctx context.Context, symbol string, quantity int64, price decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	userID, ok := s.identity.UserID()
	if !ok {
		return models.ErrNoIdentity
	}
	if quantity <= 0 {
		return models.NewValidationError("quantity must be positive, got %d", quantity)
	}
	if price.Sign() <= 0 {
		return models.NewValidationError("price must be positive, got %s", price)
	}
	cost := price.Mul(decimal.NewFromInt(quantity))
	if cost.GreaterThan(s.cash) {
		return models.NewValidationError("insufficient cash: need %s, have %s", cost, s.cash)
	}

	s.cash = s.cash.Sub(cost)
	pos, ok := s.positions[symbol]
	if !ok {
		pos = &models.Position{Symbol: symbol}
		s.positions[symbol] = pos
	}
	pos.Append(models.Transaction{
		Quantity:      quantity,
		PricePerShare: price,
		Timestamp:     time.Now().UTC(),
	})

	if err := s.saveLocked(ctx, userID); err != nil {
		s.log.Error().Err(err).Str("symbol", symbol).Msg("buy applied but save failed")
	}
	return nil
}

// Sell validates and applies a sale: credits cash and appends a negative
// transaction. The ledger is kept even when the resulting quantity is zero,
// preserving the selling history.
func (s *Store) Sell(ctx context.Context, symbol string, quantity int64, price decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	userID, ok := s.identity.UserID()
	if !ok {
		return models.ErrNoIdentity
	}
	if quantity <= 0 {
		return models.NewValidationError("quantity must be positive, got %d", quantity)
	}
	if price.Sign() <= 0 {
		return models.NewValidationError("price must be positive, got %s", price)
	}
	pos, ok := s.positions[symbol]
	if !ok {
		return models.NewValidationError("no position in %s", symbol)
	}
	if held := pos.Quantity(); quantity > held {
		return models.NewValidationError("insufficient shares of %s: selling %d, holding %d", symbol, quantity, held)
	}

	s.cash = s.cash.Add(price.Mul(decimal.NewFromInt(quantity)))
	pos.Append(models.Transaction{
		Quantity:      -quantity,
		PricePerShare: price,
		Timestamp:     time.Now().UTC(),
	})

	if err := s.saveLocked(ctx, userID); err != nil {
		s.log.Error().Err(err).Str("symbol", symbol).Msg("sell applied but save failed")
	}
	return nil
}

// Load reads the persisted snapshot for the current identity, falling back
// to the starting balance when nothing is stored. Any storage or decode
// failure resets to default in-memory state and is returned as a
// PersistenceError; it never propagates as a panic.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	userID, ok := s.identity.UserID()
	if !ok {
		s.resetLocked()
		return nil
	}

	cash, found, err := s.store.GetFloat(ctx, cashKey(userID))
	if err != nil {
		s.resetLocked()
		return &models.PersistenceError{Op: "load cash", Err: err}
	}
	if found {
		s.cash = decimal.NewFromFloat(cash)
	} else {
		s.cash = s.startingCash
	}

	raw, found, err := s.store.GetString(ctx, portfolioKey(userID))
	if err != nil {
		s.resetLocked()
		return &models.PersistenceError{Op: "load portfolio", Err: err}
	}
	if !found {
		s.positions = make(map[string]*models.Position)
		return nil
	}

	var snaps []positionSnapshot
	if err := json.Unmarshal([]byte(raw), &snaps); err != nil {
		s.resetLocked()
		return &models.PersistenceError{Op: "decode portfolio", Err: err}
	}
	positions, err := restorePositions(snaps)
	if err != nil {
		s.resetLocked()
		return &models.PersistenceError{Op: "decode portfolio", Err: err}
	}
	s.positions = positions
	return nil
}

// Save persists the full snapshot for the current identity.
func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	userID, ok := s.identity.UserID()
	if !ok {
		return models.ErrNoIdentity
	}
	return s.saveLocked(ctx, userID)
}

// saveLocked writes cash and the position list as two separate calls. The
// writes are not atomically coupled: a crash between them can leave cash
// and holdings out of sync until the next save.
func (s *Store) saveLocked(ctx context.Context, userID string) error {
	if err := s.store.SetFloat(ctx, cashKey(userID), s.cash.InexactFloat64()); err != nil {
		return &models.PersistenceError{Op: "save cash", Err: err}
	}

	data, err := json.Marshal(snapshotPositions(s.positions))
	if err != nil {
		return &models.PersistenceError{Op: "encode portfolio", Err: err}
	}
	if err := s.store.SetString(ctx, portfolioKey(userID), string(data)); err != nil {
		return &models.PersistenceError{Op: "save portfolio", Err: err}
	}
	return nil
}

// Clear removes the current identity's persisted keys and resets in-memory
// state to defaults. This is the logout path.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	userID, ok := s.identity.UserID()
	s.resetLocked()
	if !ok {
		return nil
	}
	if err := s.store.Delete(ctx, cashKey(userID), portfolioKey(userID)); err != nil {
		return &models.PersistenceError{Op: "clear", Err: err}
	}
	return nil
}

func (s *Store) resetLocked() {
	s.cash = s.startingCash
	s.positions = make(map[string]*models.Position)
}

// Cash returns the current cash balance.
func (s *Store) Cash() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cash
}

// Position returns a copy of the ledger for a symbol.
func (s *Store) Position(symbol string) (models.Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[symbol]
	if !ok {
		return models.Position{}, false
	}
	return copyPosition(pos), true
}

// Positions returns copies of all ledgers, including those sold down to
// zero shares.
func (s *Store) Positions() []models.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Position, 0, len(s.positions))
	for _, pos := range s.positions {
		out = append(out, copyPosition(pos))
	}
	return out
}

func copyPosition(pos *models.Position) models.Position {
	cp := models.Position{Symbol: pos.Symbol}
	cp.Transactions = append(cp.Transactions, pos.Transactions...)
	return cp
}
