package pnl

import (
	"github.com/shopspring/decimal"

	"github.com/yushukk/trading-custody-sub000/internal/model"
)

// lot is the unconsumed remainder of one historical buy.
// unitCost excludes fees; fees are tracked in aggregate on the book.
type lot struct {
	remaining decimal.Decimal
	unitCost  decimal.Decimal
}

// book replays the transactions of a single instrument through a FIFO
// lot queue. The zero value is an empty book.
type book struct {
	lots     []lot // head is lots[0]
	realized decimal.Decimal
	fees     decimal.Decimal
	oversold decimal.Decimal // sell quantity discarded because the queue ran dry
	skipped  int
}

// apply replays one transaction. Records that violate the ledger invariants
// are skipped and counted rather than corrupting the book.
func (b *book) apply(tx model.Transaction) {
	if !tx.Price.IsPositive() || !tx.Quantity.IsPositive() || tx.Fee.IsNegative() {
		b.skipped++
		return
	}

	switch tx.Side {
	case model.SideBuy:
		b.fees = b.fees.Add(tx.Fee)
		b.lots = append(b.lots, lot{remaining: tx.Quantity, unitCost: tx.Price})
	case model.SideSell:
		b.fees = b.fees.Add(tx.Fee)
		b.sell(tx.Quantity, tx.Price)
	default:
		b.skipped++
	}
}

// sell consumes quantity from the head of the queue at the given price.
func (b *book) sell(quantity, price decimal.Decimal) {
	toSell := quantity
	for toSell.IsPositive() && len(b.lots) > 0 {
		head := &b.lots[0]
		matched := decimal.Min(toSell, head.remaining)

		b.realized = b.realized.Add(matched.Mul(price.Sub(head.unitCost)))
		head.remaining = head.remaining.Sub(matched)
		toSell = toSell.Sub(matched)

		if head.remaining.IsZero() {
			b.lots = b.lots[1:]
		}
	}
	if toSell.IsPositive() {
		b.oversold = b.oversold.Add(toSell)
	}
}

// openQuantity is the sum of remaining lot quantities.
func (b *book) openQuantity() decimal.Decimal {
	total := decimal.Zero
	for _, l := range b.lots {
		total = total.Add(l.remaining)
	}
	return total
}

// openCost is Σ remaining × unitCost over the open lots.
func (b *book) openCost() decimal.Decimal {
	total := decimal.Zero
	for _, l := range b.lots {
		total = total.Add(l.remaining.Mul(l.unitCost))
	}
	return total
}

// netRealized is realized PnL with every fee of the instrument netted out once.
func (b *book) netRealized() decimal.Decimal {
	return b.realized.Sub(b.fees)
}
