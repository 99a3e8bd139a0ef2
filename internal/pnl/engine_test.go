package pnl

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yushukk/trading-custody-sub000/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

type fakeLedger struct {
	txs []model.Transaction
	err error
}

func (l *fakeLedger) GetTransactionsByUser(_ context.Context, userID string) ([]model.Transaction, error) {
	if l.err != nil {
		return nil, l.err
	}
	var out []model.Transaction
	for _, tx := range l.txs {
		if tx.UserID == userID {
			out = append(out, tx)
		}
	}
	return out, nil
}

type fakePrices struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	fail   map[string]bool
	calls  map[string]int
}

func newFakePrices(prices map[string]decimal.Decimal) *fakePrices {
	return &fakePrices{prices: prices, fail: map[string]bool{}, calls: map[string]int{}}
}

func (p *fakePrices) LatestPrice(_ context.Context, code string, _ model.InstrumentKind) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[code]++
	if p.fail[code] {
		return decimal.Zero, errors.New("quote timeout")
	}
	return p.prices[code], nil
}

// ledgerBuilder produces transactions with strictly increasing timestamps.
type ledgerBuilder struct {
	at  time.Time
	txs []model.Transaction
}

func newLedgerBuilder() *ledgerBuilder {
	return &ledgerBuilder{at: time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)}
}

func (b *ledgerBuilder) add(code string, side model.Side, qty, price, fee float64) *ledgerBuilder {
	b.at = b.at.Add(time.Minute)
	b.txs = append(b.txs, model.Transaction{
		ID:        code + "-" + b.at.Format("150405"),
		UserID:    "u1",
		Code:      code,
		Name:      code + " Inc",
		Kind:      model.KindEquity,
		Side:      side,
		Price:     d(price),
		Quantity:  d(qty),
		Fee:       d(fee),
		Timestamp: b.at,
		Seq:       int64(len(b.txs) + 1),
	})
	return b
}

func (b *ledgerBuilder) buy(code string, qty, price, fee float64) *ledgerBuilder {
	return b.add(code, model.SideBuy, qty, price, fee)
}

func (b *ledgerBuilder) sell(code string, qty, price, fee float64) *ledgerBuilder {
	return b.add(code, model.SideSell, qty, price, fee)
}

func compute(t *testing.T, txs []model.Transaction, prices PriceLookup) []model.InstrumentSummary {
	t.Helper()
	e := NewEngine(&fakeLedger{txs: txs}, prices, 0)
	out, err := e.Compute(context.Background(), "u1")
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	return out
}

func assertDecimal(t *testing.T, field string, want, got decimal.Decimal) {
	t.Helper()
	if !got.Equal(want) {
		t.Errorf("%s: expected %s, got %s", field, want, got)
	}
}

func TestCompute_FIFOConsumesEarliestLotFirst(t *testing.T) {
	txs := newLedgerBuilder().
		buy("AAPL", 10, 100, 0).
		buy("AAPL", 10, 120, 0).
		sell("AAPL", 12, 150, 0).
		txs
	prices := newFakePrices(map[string]decimal.Decimal{"AAPL": d(120)})

	out := compute(t, txs, prices)
	if len(out) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(out))
	}
	s := out[0]
	assertDecimal(t, "realized", d(560), s.RealizedPnL)
	assertDecimal(t, "quantity", d(8), s.Quantity)
	assertDecimal(t, "average cost", d(120), s.AverageCost)
	assertDecimal(t, "unrealized", decimal.Zero, s.UnrealizedPnL)
	assertDecimal(t, "total", d(560), s.TotalPnL)
}

func TestCompute_PartialLotStaysQueued(t *testing.T) {
	txs := newLedgerBuilder().
		buy("AAPL", 10, 100, 0).
		sell("AAPL", 4, 110, 0).
		sell("AAPL", 4, 90, 0).
		txs
	prices := newFakePrices(map[string]decimal.Decimal{"AAPL": d(100)})

	s := compute(t, txs, prices)[0]
	// 4×10 − 4×10 = 0 realized, 2 units left at 100.
	assertDecimal(t, "realized", decimal.Zero, s.RealizedPnL)
	assertDecimal(t, "quantity", d(2), s.Quantity)
	assertDecimal(t, "average cost", d(100), s.AverageCost)
}

func TestCompute_FeesNettedOnceAgainstRealized(t *testing.T) {
	txs := newLedgerBuilder().
		buy("AAPL", 10, 100, 5).
		sell("AAPL", 10, 150, 5).
		txs
	prices := newFakePrices(nil)

	s := compute(t, txs, prices)[0]
	assertDecimal(t, "realized", d(490), s.RealizedPnL)
	assertDecimal(t, "fee", d(10), s.Fee)
	assertDecimal(t, "total", d(490), s.TotalPnL)
}

func TestCompute_FeesNeverTouchUnrealized(t *testing.T) {
	txs := newLedgerBuilder().
		buy("AAPL", 10, 100, 7).
		txs
	prices := newFakePrices(map[string]decimal.Decimal{"AAPL": d(110)})

	s := compute(t, txs, prices)[0]
	assertDecimal(t, "realized", d(-7), s.RealizedPnL)
	assertDecimal(t, "unrealized", d(100), s.UnrealizedPnL)
	assertDecimal(t, "total", d(93), s.TotalPnL)
}

func TestCompute_ClosedPositionSkipsLookup(t *testing.T) {
	txs := newLedgerBuilder().
		buy("AAPL", 5, 100, 0).
		sell("AAPL", 5, 120, 0).
		txs
	prices := newFakePrices(map[string]decimal.Decimal{"AAPL": d(999)})

	s := compute(t, txs, prices)[0]
	assertDecimal(t, "latest price", decimal.Zero, s.LatestPrice)
	assertDecimal(t, "unrealized", decimal.Zero, s.UnrealizedPnL)
	assertDecimal(t, "quantity", decimal.Zero, s.Quantity)
	if prices.calls["AAPL"] != 0 {
		t.Errorf("expected no price lookup for closed position, got %d", prices.calls["AAPL"])
	}
}

func TestCompute_WeightedAverageCost(t *testing.T) {
	txs := newLedgerBuilder().
		buy("AAPL", 8, 120, 0).
		buy("AAPL", 5, 130, 0).
		txs
	prices := newFakePrices(map[string]decimal.Decimal{"AAPL": d(140)})

	s := compute(t, txs, prices)[0]
	assertDecimal(t, "quantity", d(13), s.Quantity)
	assertDecimal(t, "latest price", d(140), s.LatestPrice)
	assertDecimal(t, "unrealized", d(210), s.UnrealizedPnL)
	if s.AverageCost.Round(2).String() != "123.85" {
		t.Errorf("expected average cost ≈ 123.85, got %s", s.AverageCost)
	}
}

func TestCompute_InstrumentsAreIsolated(t *testing.T) {
	txs := newLedgerBuilder().
		buy("AAPL", 10, 100, 1).
		buy("GOOGL", 3, 2000, 2).
		sell("AAPL", 10, 110, 1).
		sell("GOOGL", 1, 2100, 2).
		txs
	prices := newFakePrices(map[string]decimal.Decimal{"AAPL": d(500), "GOOGL": d(2200)})

	out := compute(t, txs, prices)
	if len(out) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(out))
	}
	if out[0].Code != "AAPL" || out[1].Code != "GOOGL" {
		t.Fatalf("expected first-appearance order AAPL, GOOGL; got %s, %s", out[0].Code, out[1].Code)
	}

	aapl, googl := out[0], out[1]
	assertDecimal(t, "AAPL realized", d(98), aapl.RealizedPnL)
	assertDecimal(t, "AAPL quantity", decimal.Zero, aapl.Quantity)
	assertDecimal(t, "AAPL fee", d(2), aapl.Fee)

	assertDecimal(t, "GOOGL realized", d(96), googl.RealizedPnL)
	assertDecimal(t, "GOOGL quantity", d(2), googl.Quantity)
	assertDecimal(t, "GOOGL unrealized", d(400), googl.UnrealizedPnL)
	assertDecimal(t, "GOOGL total", d(496), googl.TotalPnL)
}

func TestCompute_Idempotent(t *testing.T) {
	txs := newLedgerBuilder().
		buy("AAPL", 10, 100, 1).
		buy("AAPL", 10, 120, 1).
		sell("AAPL", 12, 150, 1).
		buy("MSFT", 4, 300, 0).
		txs
	prices := newFakePrices(map[string]decimal.Decimal{"AAPL": d(130), "MSFT": d(310)})
	e := NewEngine(&fakeLedger{txs: txs}, prices, 2)

	first, err := e.Compute(context.Background(), "u1")
	if err != nil {
		t.Fatalf("first compute: %v", err)
	}
	second, err := e.Compute(context.Background(), "u1")
	if err != nil {
		t.Fatalf("second compute: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("length changed between runs: %d vs %d", len(first), len(second))
	}
	for i := range first {
		a, b := first[i], second[i]
		if a.Code != b.Code ||
			!a.Quantity.Equal(b.Quantity) ||
			!a.RealizedPnL.Equal(b.RealizedPnL) ||
			!a.UnrealizedPnL.Equal(b.UnrealizedPnL) ||
			!a.TotalPnL.Equal(b.TotalPnL) ||
			!a.LatestPrice.Equal(b.LatestPrice) ||
			!a.Fee.Equal(b.Fee) {
			t.Errorf("run %d differs: %+v vs %+v", i, a, b)
		}
	}
}

func TestCompute_LookupFailureDegradesSingleInstrument(t *testing.T) {
	txs := newLedgerBuilder().
		buy("AAPL", 10, 100, 0).
		buy("GOOGL", 2, 1000, 0).
		txs
	prices := newFakePrices(map[string]decimal.Decimal{"AAPL": d(110), "GOOGL": d(1100)})
	prices.fail["GOOGL"] = true

	out := compute(t, txs, prices)
	if len(out) != 2 {
		t.Fatalf("expected both rows despite lookup failure, got %d", len(out))
	}
	assertDecimal(t, "AAPL unrealized", d(100), out[0].UnrealizedPnL)
	assertDecimal(t, "GOOGL latest price", decimal.Zero, out[1].LatestPrice)
	assertDecimal(t, "GOOGL unrealized", decimal.Zero, out[1].UnrealizedPnL)
	assertDecimal(t, "GOOGL quantity", d(2), out[1].Quantity)
}

func TestCompute_OversellDiscardsExcess(t *testing.T) {
	txs := newLedgerBuilder().
		buy("AAPL", 5, 100, 0).
		sell("AAPL", 8, 110, 0).
		buy("AAPL", 2, 90, 0).
		txs
	prices := newFakePrices(map[string]decimal.Decimal{"AAPL": d(100)})

	s := compute(t, txs, prices)[0]
	// Only 5 units matched; the 3 excess units never become a short lot.
	assertDecimal(t, "realized", d(50), s.RealizedPnL)
	assertDecimal(t, "quantity", d(2), s.Quantity)
	assertDecimal(t, "average cost", d(90), s.AverageCost)
	assertDecimal(t, "unrealized", d(20), s.UnrealizedPnL)
}

func TestCompute_SkipsInvalidRecords(t *testing.T) {
	b := newLedgerBuilder().
		buy("AAPL", 10, 100, 0).
		buy("AAPL", 0, 100, 0).
		sell("AAPL", 5, -1, 0)
	prices := newFakePrices(map[string]decimal.Decimal{"AAPL": d(100)})

	s := compute(t, b.txs, prices)[0]
	assertDecimal(t, "quantity", d(10), s.Quantity)
	assertDecimal(t, "realized", decimal.Zero, s.RealizedPnL)
}

func TestCompute_EmptyLedger(t *testing.T) {
	out := compute(t, nil, newFakePrices(nil))
	if out == nil {
		t.Fatal("expected empty slice, got nil")
	}
	if len(out) != 0 {
		t.Errorf("expected 0 summaries, got %d", len(out))
	}
}

func TestCompute_LedgerErrorPropagates(t *testing.T) {
	boom := errors.New("disk I/O error")
	e := NewEngine(&fakeLedger{err: boom}, newFakePrices(nil), 0)

	_, err := e.Compute(context.Background(), "u1")
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped ledger error, got %v", err)
	}
}

func TestCompute_LookupsRunConcurrently(t *testing.T) {
	b := newLedgerBuilder()
	codes := []string{"A", "B", "C", "D"}
	for _, c := range codes {
		b.buy(c, 1, 10, 0)
	}

	var inFlight, peak int32
	release := make(chan struct{})
	lookup := PriceLookupFunc(func(ctx context.Context, _ string, _ model.InstrumentKind) (decimal.Decimal, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		if n == int32(len(codes)) {
			close(release)
		}
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
		atomic.AddInt32(&inFlight, -1)
		return d(11), nil
	})

	out := compute(t, b.txs, lookup)
	if len(out) != len(codes) {
		t.Fatalf("expected %d summaries, got %d", len(codes), len(out))
	}
	if atomic.LoadInt32(&peak) != int32(len(codes)) {
		t.Errorf("expected %d concurrent lookups, peak was %d", len(codes), peak)
	}
	for _, s := range out {
		assertDecimal(t, s.Code+" unrealized", d(1), s.UnrealizedPnL)
	}
}

func TestCompute_NilPriceLookup(t *testing.T) {
	txs := newLedgerBuilder().buy("AAPL", 1, 100, 0).txs
	s := compute(t, txs, nil)[0]
	assertDecimal(t, "latest price", decimal.Zero, s.LatestPrice)
	assertDecimal(t, "unrealized", decimal.Zero, s.UnrealizedPnL)
}
