// Package guard enforces ledger ingestion rules: a transaction must be
// well-formed, a sell may not exceed the quantity held at that point in
// time, and an optional cap bounds the open quantity per instrument.
//
// The PnL engine tolerates oversold history by discarding the excess;
// this package keeps new oversells out of the ledger in the first place.
package guard

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/yushukk/trading-custody-sub000/internal/model"
)

var (
	// ErrOversell is returned when a sell exceeds the open quantity.
	ErrOversell = errors.New("guard: sell quantity exceeds open position")

	// ErrPositionLimitExceeded is returned when a buy would push the open
	// quantity of one instrument beyond the configured maximum.
	ErrPositionLimitExceeded = errors.New("guard: position limit exceeded")
)

// PositionGuard validates transactions against the existing ledger.
type PositionGuard struct {
	// MaxPosition is the maximum open quantity per instrument.
	// Zero disables the check.
	MaxPosition decimal.Decimal
}

// NewPositionGuard creates a guard. A non-positive maxPosition means unlimited.
func NewPositionGuard(maxPosition decimal.Decimal) *PositionGuard {
	if maxPosition.IsNegative() {
		maxPosition = decimal.Zero
	}
	return &PositionGuard{MaxPosition: maxPosition}
}

// Check validates tx against the user's history, ordered as the ledger
// returns it. tx is placed after every history row with a timestamp not
// later than its own, matching the order the store will give it.
//
// History is replayed with and without tx. Only violations that tx creates
// or makes worse are reported, so a back-dated sell that starves a later
// sell is rejected, while a back-dated buy that shrinks an existing
// oversell passes.
func (g *PositionGuard) Check(tx model.Transaction, history []model.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}

	var before []model.Transaction
	for _, h := range history {
		if h.Code == tx.Code {
			before = append(before, h)
		}
	}

	// origin[i] is the index in before of merged[i], -1 for tx.
	merged := make([]model.Transaction, 0, len(before)+1)
	origin := make([]int, 0, len(before)+1)
	inserted := false
	for i, h := range before {
		if !inserted && h.Timestamp.After(tx.Timestamp) {
			merged = append(merged, tx)
			origin = append(origin, -1)
			inserted = true
		}
		merged = append(merged, h)
		origin = append(origin, i)
	}
	if !inserted {
		merged = append(merged, tx)
		origin = append(origin, -1)
	}

	base := g.replay(before)
	with := g.replay(merged)

	for i, st := range with {
		prev := step{shortfall: decimal.Zero, overage: decimal.Zero}
		if origin[i] >= 0 {
			prev = base[origin[i]]
		}
		m := merged[i]
		if st.shortfall.GreaterThan(prev.shortfall) {
			return fmt.Errorf("%w: %s sells %s with %s open",
				ErrOversell, m.Code, m.Quantity, st.open)
		}
		if st.overage.GreaterThan(prev.overage) {
			return fmt.Errorf("%w: %s would hold %s (max %s)",
				ErrPositionLimitExceeded, m.Code, st.open, g.MaxPosition)
		}
	}
	return nil
}

// step is the effect of one replayed row.
type step struct {
	open      decimal.Decimal // held before a sell, after a buy
	shortfall decimal.Decimal // sell quantity beyond the open quantity
	overage   decimal.Decimal // open quantity beyond MaxPosition after a buy
}

// replay walks rows of one instrument with the PnL engine's discard rule:
// an oversell empties the position and the excess is dropped.
func (g *PositionGuard) replay(rows []model.Transaction) []step {
	steps := make([]step, len(rows))
	open := decimal.Zero
	for i, r := range rows {
		st := step{shortfall: decimal.Zero, overage: decimal.Zero}
		switch r.Side {
		case model.SideBuy:
			open = open.Add(r.Quantity)
			st.open = open
			if g.MaxPosition.IsPositive() && open.GreaterThan(g.MaxPosition) {
				st.overage = open.Sub(g.MaxPosition)
			}
		case model.SideSell:
			st.open = open
			if r.Quantity.GreaterThan(open) {
				st.shortfall = r.Quantity.Sub(open)
				open = decimal.Zero
			} else {
				open = open.Sub(r.Quantity)
			}
		}
		steps[i] = st
	}
	return steps
}
