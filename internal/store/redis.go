package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/yushukk/trading-custody-sub000/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache for the
// two hot reads of a PnL request: a user's ledger and latest prices.
//
// Ledger entries are keyed by a per-user generation that every insert
// bumps. A reader that filled the cache from a ledger read older than an
// insert writes under the superseded generation, which is never read again.
type CachedStore struct {
	primary Store
	rdb     redis.Cmdable
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb redis.Cmdable, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) InsertTransaction(ctx context.Context, tx *model.Transaction) error {
	if err := s.primary.InsertTransaction(ctx, tx); err != nil {
		return err
	}
	s.rdb.Incr(ctx, ledgerGenKey(tx.UserID))
	return nil
}

func (s *CachedStore) UpsertPrice(ctx context.Context, p *model.Price) error {
	if err := s.primary.UpsertPrice(ctx, p); err != nil {
		return err
	}
	s.cachePrice(ctx, p)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetTransactionsByUser(ctx context.Context, userID string) ([]model.Transaction, error) {
	gen, err := s.rdb.Get(ctx, ledgerGenKey(userID)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		// Without a generation a fill could go stale; skip the cache.
		return s.primary.GetTransactionsByUser(ctx, userID)
	}
	key := ledgerKey(userID, gen)

	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var cached []cachedTransaction
		if json.Unmarshal(data, &cached) == nil {
			txs := make([]model.Transaction, len(cached))
			for i, c := range cached {
				txs[i] = c.Transaction
				txs[i].Seq = c.Seq
			}
			return txs, nil
		}
	}

	// Cache miss.
	txs, err := s.primary.GetTransactionsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	cached := make([]cachedTransaction, len(txs))
	for i, tx := range txs {
		cached[i] = cachedTransaction{Transaction: tx, Seq: tx.Seq}
	}
	if data, err := json.Marshal(cached); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return txs, nil
}

func (s *CachedStore) GetPrice(ctx context.Context, code string, kind model.InstrumentKind) (*model.Price, error) {
	data, err := s.rdb.Get(ctx, priceCacheKey(code, kind)).Bytes()
	if err == nil {
		var p model.Price
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	p, err := s.primary.GetPrice(ctx, code, kind)
	if err != nil {
		return nil, err
	}
	s.cachePrice(ctx, p)
	return p, nil
}

// Primary returns the wrapped store.
func (s *CachedStore) Primary() Store {
	return s.primary
}

// --- Passthrough (not cached) ---

func (s *CachedStore) CreateUser(ctx context.Context, u *model.User) error {
	return s.primary.CreateUser(ctx, u)
}

func (s *CachedStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	return s.primary.GetUser(ctx, id)
}

func (s *CachedStore) GetUserByName(ctx context.Context, username string) (*model.User, error) {
	return s.primary.GetUserByName(ctx, username)
}

func (s *CachedStore) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.primary.ListUsers(ctx)
}

func (s *CachedStore) UpdateUserPassword(ctx context.Context, id, passwordHash string) error {
	return s.primary.UpdateUserPassword(ctx, id, passwordHash)
}

func (s *CachedStore) DeleteUser(ctx context.Context, id string) error {
	return s.primary.DeleteUser(ctx, id)
}

func (s *CachedStore) InsertFundEntry(ctx context.Context, e *model.FundEntry) error {
	return s.primary.InsertFundEntry(ctx, e)
}

func (s *CachedStore) GetFundEntries(ctx context.Context, userID string) ([]model.FundEntry, error) {
	return s.primary.GetFundEntries(ctx, userID)
}

func (s *CachedStore) GetFundBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	return s.primary.GetFundBalance(ctx, userID)
}

func (s *CachedStore) ListInstruments(ctx context.Context) ([]model.Instrument, error) {
	return s.primary.ListInstruments(ctx)
}

func (s *CachedStore) ListPrices(ctx context.Context) ([]model.Price, error) {
	return s.primary.ListPrices(ctx)
}

// --- Cache helpers ---

// cachedTransaction keeps Seq, which model.Transaction hides from JSON.
type cachedTransaction struct {
	model.Transaction
	Seq int64 `json:"seq"`
}

func (s *CachedStore) cachePrice(ctx context.Context, p *model.Price) {
	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, priceCacheKey(p.Code, p.Kind), data, s.ttl)
	}
}

func ledgerGenKey(uid string) string { return fmt.Sprintf("ledger:%s:gen", uid) }
func ledgerKey(uid string, gen int64) string {
	return fmt.Sprintf("ledger:%s:%d", uid, gen)
}
func priceCacheKey(code string, kind model.InstrumentKind) string {
	return fmt.Sprintf("price:%s:%s", kind, code)
}
