package marketdata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yushukk/trading-custody-sub000/internal/metrics"
	"github.com/yushukk/trading-custody-sub000/internal/model"
)

// ErrSyncDisabled is returned by SyncNow when no quote source is configured.
var ErrSyncDisabled = errors.New("marketdata: price sync is not configured")

// QuoteSource is the subset of Client the syncer needs.
type QuoteSource interface {
	Quote(ctx context.Context, code string, kind model.InstrumentKind) (*Quote, error)
}

// PriceStore is where synced prices land.
type PriceStore interface {
	ListInstruments(ctx context.Context) ([]model.Instrument, error)
	UpsertPrice(ctx context.Context, p *model.Price) error
}

// SyncResult summarizes one sync pass.
type SyncResult struct {
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
}

// Syncer refreshes the stored price of every instrument present in the ledger.
type Syncer struct {
	source   QuoteSource
	store    PriceStore
	interval time.Duration
	now      func() time.Time

	// Serializes passes so a manual sync never overlaps the ticker.
	mu sync.Mutex

	// OnUpdate, when set, is called for every stored price.
	OnUpdate func(model.Price)
}

// NewSyncer creates a syncer that runs every interval once Run is called.
// A nil source leaves manual price entry working and disables syncing.
func NewSyncer(source QuoteSource, store PriceStore, interval time.Duration) *Syncer {
	return &Syncer{
		source:   source,
		store:    store,
		interval: interval,
		now:      time.Now,
	}
}

// Run syncs immediately, then on every tick until ctx is cancelled.
func (s *Syncer) Run(ctx context.Context) {
	if s.source == nil || s.interval <= 0 {
		slog.Info("price sync disabled")
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.SyncNow(ctx); err != nil && ctx.Err() == nil {
			slog.Error("price sync failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SyncNow fetches a quote for every known instrument and stores it.
// A failing instrument is logged and counted; it never aborts the pass.
func (s *Syncer) SyncNow(ctx context.Context) (SyncResult, error) {
	if s.source == nil {
		return SyncResult{}, ErrSyncDisabled
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var res SyncResult
	instruments, err := s.store.ListInstruments(ctx)
	if err != nil {
		return res, fmt.Errorf("list instruments: %w", err)
	}

	for _, inst := range instruments {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if err := s.syncOne(ctx, inst); err != nil {
			res.Failed++
			metrics.PriceSyncTotal.WithLabelValues("error").Inc()
			slog.Warn("price sync failed for instrument",
				"code", inst.Code,
				"kind", inst.Kind,
				"err", err,
			)
			continue
		}
		res.Updated++
		metrics.PriceSyncTotal.WithLabelValues("ok").Inc()
	}

	slog.Info("price sync complete", "updated", res.Updated, "failed", res.Failed)
	return res, nil
}

func (s *Syncer) syncOne(ctx context.Context, inst model.Instrument) error {
	q, err := s.source.Quote(ctx, inst.Code, inst.Kind)
	if err != nil {
		return err
	}
	return s.Store(ctx, inst.Code, inst.Kind, q.Price)
}

// Store records a price and publishes it to OnUpdate. Manual price entry
// goes through here too.
func (s *Syncer) Store(ctx context.Context, code string, kind model.InstrumentKind, price decimal.Decimal) error {
	p := model.Price{
		Code:      code,
		Kind:      kind,
		Price:     price,
		UpdatedAt: s.now().UTC(),
	}
	if err := s.store.UpsertPrice(ctx, &p); err != nil {
		return fmt.Errorf("store price %s: %w", code, err)
	}
	if s.OnUpdate != nil {
		s.OnUpdate(p)
	}
	return nil
}
