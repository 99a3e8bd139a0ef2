package marketdata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yushukk/trading-custody-sub000/internal/model"
	"github.com/yushukk/trading-custody-sub000/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// quoteServer serves fixed prices; codes absent from the map return 404.
func quoteServer(t *testing.T, prices map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "secret" {
			http.Error(w, "bad key", http.StatusUnauthorized)
			return
		}
		code := strings.TrimPrefix(r.URL.Path, "/quote/")
		price, ok := prices[code]
		if !ok {
			http.Error(w, "unknown instrument", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"code":"` + code + `","price":` + price + `}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Quote(t *testing.T) {
	srv := quoteServer(t, map[string]string{"AAPL": "181.25"})
	c := NewClient(srv.URL+"/", "secret", WithRateLimit(100), WithHTTPClient(srv.Client()))

	q, err := c.Quote(context.Background(), "AAPL", model.KindEquity)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if q.Code != "AAPL" || !q.Price.Equal(d(181.25)) {
		t.Errorf("unexpected quote: %+v", q)
	}
}

func TestClient_APIError(t *testing.T) {
	srv := quoteServer(t, map[string]string{})
	c := NewClient(srv.URL, "secret")

	_, err := c.Quote(context.Background(), "NOPE", model.KindEquity)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", apiErr.StatusCode)
	}
	if apiErr.Endpoint != "/quote/NOPE" {
		t.Errorf("unexpected endpoint %s", apiErr.Endpoint)
	}
}

func TestClient_RejectsNonPositivePrice(t *testing.T) {
	srv := quoteServer(t, map[string]string{"ZERO": "0"})
	c := NewClient(srv.URL, "secret")

	if _, err := c.Quote(context.Background(), "ZERO", model.KindFund); err == nil {
		t.Fatal("expected error for zero price")
	}
}

func TestSyncer_SyncNow(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	for i, code := range []string{"AAPL", "MISSING", "510300"} {
		kind := model.KindEquity
		if code == "510300" {
			kind = model.KindFund
		}
		tx := &model.Transaction{
			ID: code, UserID: "u1", Code: code, Kind: kind, Side: model.SideBuy,
			Price: d(1), Quantity: d(1), Timestamp: time.Unix(int64(i), 0),
		}
		if err := st.InsertTransaction(ctx, tx); err != nil {
			t.Fatal(err)
		}
	}

	srv := quoteServer(t, map[string]string{"AAPL": "190.5", "510300": "3.912"})
	syncer := NewSyncer(NewClient(srv.URL, "secret", WithRateLimit(100)), st, time.Minute)

	var mu sync.Mutex
	var published []model.Price
	syncer.OnUpdate = func(p model.Price) {
		mu.Lock()
		published = append(published, p)
		mu.Unlock()
	}

	res, err := syncer.SyncNow(ctx)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Updated != 2 || res.Failed != 1 {
		t.Errorf("expected 2 updated 1 failed, got %+v", res)
	}
	if len(published) != 2 {
		t.Errorf("expected 2 published prices, got %d", len(published))
	}

	lookup := NewStoreLookup(st)
	price, err := lookup.LatestPrice(ctx, "510300", model.KindFund)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !price.Equal(d(3.912)) {
		t.Errorf("expected 3.912, got %s", price)
	}

	if _, err := lookup.LatestPrice(ctx, "MISSING", model.KindEquity); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unsynced instrument, got %v", err)
	}
}

func TestSyncer_RunStopsOnCancel(t *testing.T) {
	st := store.NewMemoryStore()
	srv := quoteServer(t, nil)
	syncer := NewSyncer(NewClient(srv.URL, "secret"), st, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		syncer.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSyncer_WithoutSource(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	syncer := NewSyncer(nil, st, time.Minute)

	if _, err := syncer.SyncNow(ctx); !errors.Is(err, ErrSyncDisabled) {
		t.Errorf("expected ErrSyncDisabled, got %v", err)
	}

	// Manual prices still land in the store.
	if err := syncer.Store(ctx, "IF2406", model.KindDerivative, d(3550.2)); err != nil {
		t.Fatalf("store: %v", err)
	}
	p, err := st.GetPrice(ctx, "IF2406", model.KindDerivative)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !p.Price.Equal(d(3550.2)) || p.UpdatedAt.IsZero() {
		t.Errorf("unexpected price %+v", p)
	}
}
