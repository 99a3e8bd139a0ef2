// Package custody provides the HTTP handlers for the custody service:
// authentication, user administration, cash and transaction ledgers,
// profit/loss reports and latest prices.
package custody

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/yushukk/trading-custody-sub000/internal/auth"
	"github.com/yushukk/trading-custody-sub000/internal/guard"
	"github.com/yushukk/trading-custody-sub000/internal/instrument"
	"github.com/yushukk/trading-custody-sub000/internal/marketdata"
	"github.com/yushukk/trading-custody-sub000/internal/model"
	"github.com/yushukk/trading-custody-sub000/internal/store"
)

// Valuator produces the per-instrument profit/loss report of one user.
type Valuator interface {
	Compute(ctx context.Context, userID string) ([]model.InstrumentSummary, error)
}

// PriceSyncer refreshes and records latest prices.
type PriceSyncer interface {
	SyncNow(ctx context.Context) (marketdata.SyncResult, error)
	Store(ctx context.Context, code string, kind model.InstrumentKind, price decimal.Decimal) error
}

// Service handles custody operations. Ledger appends are serialized by a
// mutex so the oversell and balance checks see every earlier write
// (single-instance).
type Service struct {
	store  store.Store
	engine Valuator
	guard  *guard.PositionGuard
	issuer *auth.Issuer
	prices PriceSyncer
	wsHub  *WSHub // optional
	mu     sync.Mutex
	secure bool // mark session cookies Secure
}

// Options bundles the collaborators of a Service.
type Options struct {
	Store  store.Store
	Engine Valuator
	Guard  *guard.PositionGuard
	Issuer *auth.Issuer
	Prices PriceSyncer
	Hub    *WSHub

	// SecureCookies sets the Secure flag on the session cookie.
	SecureCookies bool
}

// NewService creates a custody service. A nil Guard allows unlimited
// positions but still rejects oversells; a nil Hub disables broadcasts.
func NewService(opts Options) *Service {
	g := opts.Guard
	if g == nil {
		g = guard.NewPositionGuard(decimal.Zero)
	}
	return &Service{
		store:  opts.Store,
		engine: opts.Engine,
		guard:  g,
		issuer: opts.Issuer,
		prices: opts.Prices,
		wsHub:  opts.Hub,
		secure: opts.SecureCookies,
	}
}

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict),
		errors.Is(err, guard.ErrOversell),
		errors.Is(err, guard.ErrPositionLimitExceeded),
		errors.Is(err, ErrInsufficientFunds):
		return http.StatusConflict
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, model.ErrMissingCode),
		errors.Is(err, model.ErrInvalidKind),
		errors.Is(err, model.ErrInvalidSide),
		errors.Is(err, model.ErrInvalidPrice),
		errors.Is(err, model.ErrInvalidQuantity),
		errors.Is(err, model.ErrInvalidFee),
		errors.Is(err, model.ErrInvalidAmount),
		errors.Is(err, instrument.ErrInvalidCode),
		errors.Is(err, instrument.ErrInvalidKind):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// writeFailure logs unexpected errors and hides their text from clients.
func writeFailure(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		slog.Error(fallback, "path", r.URL.Path, "err", err)
		writeError(w, fallback, status)
		return
	}
	writeError(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func decode(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}
