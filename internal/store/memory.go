package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/yushukk/trading-custody-sub000/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu     sync.RWMutex
	users  map[string]*model.User
	funds  []model.FundEntry
	ledger []model.Transaction
	prices map[string]model.Price
	seq    int64
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:  make(map[string]*model.User),
		prices: make(map[string]model.Price),
	}
}

func (s *MemoryStore) CreateUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Username == u.Username {
			return fmt.Errorf("user %s: %w", u.Username, ErrConflict)
		}
	}

	// Store a copy to avoid external mutation.
	copy := *u
	s.users[u.ID] = &copy
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	copy := *u
	return &copy, nil
}

func (s *MemoryStore) GetUserByName(_ context.Context, username string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Username == username {
			copy := *u
			return &copy, nil
		}
	}
	return nil, fmt.Errorf("user %s: %w", username, ErrNotFound)
}

func (s *MemoryStore) ListUsers(_ context.Context) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].Username < users[j].Username
		}
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users, nil
}

func (s *MemoryStore) UpdateUserPassword(_ context.Context, id, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	u.PasswordHash = passwordHash
	return nil
}

func (s *MemoryStore) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[id]; !ok {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	delete(s.users, id)
	return nil
}

func (s *MemoryStore) InsertFundEntry(_ context.Context, entry *model.FundEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.funds = append(s.funds, *entry)
	return nil
}

func (s *MemoryStore) GetFundEntries(_ context.Context, userID string) ([]model.FundEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.FundEntry
	for _, e := range s.funds {
		if e.UserID == userID {
			result = append(result, e)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

func (s *MemoryStore) GetFundBalance(_ context.Context, userID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	balance := decimal.Zero
	for _, e := range s.funds {
		if e.UserID == userID {
			balance = balance.Add(e.Signed())
		}
	}
	return balance, nil
}

func (s *MemoryStore) InsertTransaction(_ context.Context, tx *model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	tx.Seq = s.seq
	s.ledger = append(s.ledger, *tx)
	return nil
}

func (s *MemoryStore) GetTransactionsByUser(_ context.Context, userID string) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Transaction
	for _, tx := range s.ledger {
		if tx.UserID == userID {
			result = append(result, tx)
		}
	}
	// Ledger is in insertion order, so a stable sort keeps Seq order on ties.
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

func (s *MemoryStore) ListInstruments(_ context.Context) ([]model.Instrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[model.Instrument]bool)
	var result []model.Instrument
	for _, tx := range s.ledger {
		inst := model.Instrument{Code: tx.Code, Kind: tx.Kind}
		if !seen[inst] {
			seen[inst] = true
			result = append(result, inst)
		}
	}
	return result, nil
}

func (s *MemoryStore) UpsertPrice(_ context.Context, p *model.Price) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prices[priceKey(p.Code, p.Kind)] = *p
	return nil
}

func (s *MemoryStore) GetPrice(_ context.Context, code string, kind model.InstrumentKind) (*model.Price, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.prices[priceKey(code, kind)]
	if !ok {
		return nil, fmt.Errorf("price %s/%s: %w", kind, code, ErrNotFound)
	}
	return &p, nil
}

func (s *MemoryStore) ListPrices(_ context.Context) ([]model.Price, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prices := make([]model.Price, 0, len(s.prices))
	for _, p := range s.prices {
		prices = append(prices, p)
	}
	sort.Slice(prices, func(i, j int) bool {
		return priceKey(prices[i].Code, prices[i].Kind) < priceKey(prices[j].Code, prices[j].Kind)
	})
	return prices, nil
}

func priceKey(code string, kind model.InstrumentKind) string {
	return string(kind) + ":" + code
}
