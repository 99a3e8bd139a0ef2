// Package store defines the persistence interface for the custody service.
// Implementations include SQLite (default source of truth), PostgreSQL,
// Redis (read-through cache) and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/yushukk/trading-custody-sub000/internal/model"
)

var (
	// ErrNotFound is returned when a user or price does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when a unique key (username) is already taken.
	ErrConflict = errors.New("store: already exists")
)

// Store is the persistence interface. The transaction and fund ledgers are
// append-only; no operation updates or deletes their rows.
type Store interface {
	// --- Users ---

	// CreateUser persists a new user. Returns ErrConflict on duplicate username.
	CreateUser(ctx context.Context, user *model.User) error

	// GetUser retrieves a user by ID.
	GetUser(ctx context.Context, id string) (*model.User, error)

	// GetUserByName retrieves a user by username.
	GetUserByName(ctx context.Context, username string) (*model.User, error)

	// ListUsers returns all users ordered by creation time.
	ListUsers(ctx context.Context) ([]model.User, error)

	// UpdateUserPassword replaces a user's password hash.
	UpdateUserPassword(ctx context.Context, id, passwordHash string) error

	// DeleteUser removes a user account. Ledger rows are kept.
	DeleteUser(ctx context.Context, id string) error

	// --- Cash ledger ---

	// InsertFundEntry appends an immutable cash movement.
	InsertFundEntry(ctx context.Context, entry *model.FundEntry) error

	// GetFundEntries returns a user's cash movements, oldest first.
	GetFundEntries(ctx context.Context, userID string) ([]model.FundEntry, error)

	// GetFundBalance returns deposits minus withdrawals for a user.
	GetFundBalance(ctx context.Context, userID string) (decimal.Decimal, error)

	// --- Immutable transaction ledger ---

	// InsertTransaction appends a trade record and assigns its Seq.
	InsertTransaction(ctx context.Context, tx *model.Transaction) error

	// GetTransactionsByUser returns a user's trades ordered by timestamp,
	// insertion order breaking ties.
	GetTransactionsByUser(ctx context.Context, userID string) ([]model.Transaction, error)

	// ListInstruments returns every distinct instrument present in the ledger.
	ListInstruments(ctx context.Context) ([]model.Instrument, error)

	// --- Market prices ---

	// UpsertPrice stores the latest price for an instrument.
	UpsertPrice(ctx context.Context, price *model.Price) error

	// GetPrice returns the latest price for an instrument, or ErrNotFound.
	GetPrice(ctx context.Context, code string, kind model.InstrumentKind) (*model.Price, error)

	// ListPrices returns all stored prices.
	ListPrices(ctx context.Context) ([]model.Price, error)
}

// Primary unwraps caching layers so reads see every committed write.
// Checks that must not act on stale data read through it.
func Primary(st Store) Store {
	for {
		c, ok := st.(interface{ Primary() Store })
		if !ok {
			return st
		}
		st = c.Primary()
	}
}
