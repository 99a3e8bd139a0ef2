// Package pnl computes per-instrument profit and loss for one user by
// replaying the user's transaction ledger through FIFO lot queues.
//
// The engine holds no state between calls: every Compute replays the ledger
// from scratch, so concurrent calls need no locking.
package pnl

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/yushukk/trading-custody-sub000/internal/metrics"
	"github.com/yushukk/trading-custody-sub000/internal/model"
)

// DefaultLookupConcurrency bounds the number of in-flight price lookups
// issued by a single Compute call.
const DefaultLookupConcurrency = 8

// Ledger supplies a user's transactions ordered by timestamp ascending,
// insertion order breaking ties.
type Ledger interface {
	GetTransactionsByUser(ctx context.Context, userID string) ([]model.Transaction, error)
}

// PriceLookup returns the latest known market price of an instrument.
type PriceLookup interface {
	LatestPrice(ctx context.Context, code string, kind model.InstrumentKind) (decimal.Decimal, error)
}

// PriceLookupFunc adapts a plain function to PriceLookup.
type PriceLookupFunc func(ctx context.Context, code string, kind model.InstrumentKind) (decimal.Decimal, error)

func (f PriceLookupFunc) LatestPrice(ctx context.Context, code string, kind model.InstrumentKind) (decimal.Decimal, error) {
	return f(ctx, code, kind)
}

// Engine values open positions and realized gains per instrument.
type Engine struct {
	ledger      Ledger
	prices      PriceLookup
	concurrency int
}

// NewEngine creates an engine over the given ledger and price source.
// concurrency <= 0 selects DefaultLookupConcurrency.
func NewEngine(ledger Ledger, prices PriceLookup, concurrency int) *Engine {
	if concurrency <= 0 {
		concurrency = DefaultLookupConcurrency
	}
	return &Engine{
		ledger:      ledger,
		prices:      prices,
		concurrency: concurrency,
	}
}

// Compute returns one summary per instrument the user has traded, in order
// of first appearance in the ledger. Ledger errors are returned; price
// lookup errors only zero out the unrealized side of the affected row.
func (e *Engine) Compute(ctx context.Context, userID string) ([]model.InstrumentSummary, error) {
	start := time.Now()
	defer func() {
		metrics.PnLComputeDuration.Observe(time.Since(start).Seconds())
	}()

	txs, err := e.ledger.GetTransactionsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load ledger for user %s: %w", userID, err)
	}

	groups := groupByInstrument(txs)
	summaries := make([]model.InstrumentSummary, len(groups))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for i, grp := range groups {
		var b book
		for _, tx := range grp.txs {
			b.apply(tx)
		}

		if b.skipped > 0 {
			metrics.SkippedTransactions.Add(float64(b.skipped))
			slog.Warn("skipped invalid ledger records",
				"user", userID,
				"code", grp.code,
				"count", b.skipped,
			)
		}
		if b.oversold.IsPositive() {
			slog.Warn("sell quantity exceeded open lots, excess discarded",
				"user", userID,
				"code", grp.code,
				"discarded", b.oversold.String(),
			)
		}

		openQty := b.openQuantity()
		summaries[i] = model.InstrumentSummary{
			Code:          grp.code,
			Name:          grp.name,
			Kind:          grp.kind,
			Quantity:      openQty,
			RealizedPnL:   b.netRealized(),
			UnrealizedPnL: decimal.Zero,
			LatestPrice:   decimal.Zero,
			Fee:           b.fees,
			AverageCost:   decimal.Zero,
		}
		summaries[i].TotalPnL = summaries[i].RealizedPnL

		if !openQty.IsPositive() {
			continue
		}

		openCost := b.openCost()
		summaries[i].AverageCost = openCost.Div(openQty)

		sum := &summaries[i]
		g.Go(func() error {
			price := e.latestPrice(gctx, userID, sum.Code, sum.Kind)
			sum.LatestPrice = price
			if price.IsPositive() {
				// openQty × (price − openCost/openQty), without the division.
				sum.UnrealizedPnL = openQty.Mul(price).Sub(openCost)
			}
			sum.TotalPnL = sum.RealizedPnL.Add(sum.UnrealizedPnL)
			return nil
		})
	}

	// Lookups never return errors; Wait only joins them.
	_ = g.Wait()

	return summaries, nil
}

// latestPrice resolves a price, degrading any failure to zero.
func (e *Engine) latestPrice(ctx context.Context, userID, code string, kind model.InstrumentKind) decimal.Decimal {
	if e.prices == nil {
		return decimal.Zero
	}
	price, err := e.prices.LatestPrice(ctx, code, kind)
	if err != nil {
		metrics.PriceLookupFailures.WithLabelValues(string(kind)).Inc()
		slog.Warn("price lookup failed, valuing open position at zero",
			"user", userID,
			"code", code,
			"kind", kind,
			"err", err,
		)
		return decimal.Zero
	}
	if price.IsNegative() {
		return decimal.Zero
	}
	return price
}

type instrumentGroup struct {
	code string
	name string
	kind model.InstrumentKind
	txs  []model.Transaction
}

// groupByInstrument splits the ledger into independent per-code streams,
// keeping ledger order inside each stream and first-appearance order
// across streams.
func groupByInstrument(txs []model.Transaction) []*instrumentGroup {
	index := make(map[string]*instrumentGroup)
	var groups []*instrumentGroup
	for _, tx := range txs {
		grp, ok := index[tx.Code]
		if !ok {
			grp = &instrumentGroup{code: tx.Code, name: tx.Name, kind: tx.Kind}
			index[tx.Code] = grp
			groups = append(groups, grp)
		}
		if grp.name == "" {
			grp.name = tx.Name
		}
		grp.txs = append(grp.txs, tx)
	}
	return groups
}
