package marketdata

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/yushukk/trading-custody-sub000/internal/model"
)

// PriceReader reads a stored price.
type PriceReader interface {
	GetPrice(ctx context.Context, code string, kind model.InstrumentKind) (*model.Price, error)
}

// StoreLookup serves the PnL engine's latest-price lookups from the store.
// A missing price is returned as an error, which the engine turns into zero.
type StoreLookup struct {
	prices PriceReader
}

func NewStoreLookup(prices PriceReader) *StoreLookup {
	return &StoreLookup{prices: prices}
}

func (l *StoreLookup) LatestPrice(ctx context.Context, code string, kind model.InstrumentKind) (decimal.Decimal, error) {
	p, err := l.prices.GetPrice(ctx, code, kind)
	if err != nil {
		return decimal.Zero, err
	}
	return p.Price, nil
}
