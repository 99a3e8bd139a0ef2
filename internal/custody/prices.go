package custody

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/yushukk/trading-custody-sub000/internal/instrument"
	"github.com/yushukk/trading-custody-sub000/internal/marketdata"
	"github.com/yushukk/trading-custody-sub000/internal/model"
)

// SetPriceRequest is the JSON body for PUT /prices/{code}.
type SetPriceRequest struct {
	AssetType string          `json:"asset_type"`
	Price     decimal.Decimal `json:"price"`
}

// ListPrices handles GET /api/v1/prices
func (s *Service) ListPrices(w http.ResponseWriter, r *http.Request) {
	prices, err := s.store.ListPrices(r.Context())
	if err != nil {
		writeFailure(w, r, err, "failed to list prices")
		return
	}
	if prices == nil {
		prices = []model.Price{}
	}
	writeJSON(w, http.StatusOK, prices)
}

// GetPrice handles GET /api/v1/prices/{code}?asset_type=equity
func (s *Service) GetPrice(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("asset_type")
	if kind == "" {
		kind = string(model.KindEquity)
	}
	inst, err := instrument.Parse(chi.URLParam(r, "code"), kind)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	p, err := s.store.GetPrice(r.Context(), inst.Code, inst.Kind)
	if err != nil {
		writeFailure(w, r, err, "failed to load price")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// SetPrice handles PUT /api/v1/prices/{code}
// Manual entry for instruments the provider does not cover.
func (s *Service) SetPrice(w http.ResponseWriter, r *http.Request) {
	var req SetPriceRequest
	if err := decode(r, &req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	inst, err := instrument.Parse(chi.URLParam(r, "code"), req.AssetType)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !req.Price.IsPositive() {
		writeError(w, model.ErrInvalidPrice.Error(), http.StatusBadRequest)
		return
	}

	if err := s.prices.Store(r.Context(), inst.Code, inst.Kind, req.Price); err != nil {
		writeFailure(w, r, err, "failed to store price")
		return
	}
	slog.Info("price set manually", "code", inst.Code, "kind", inst.Kind, "price", req.Price.String())

	p, err := s.store.GetPrice(r.Context(), inst.Code, inst.Kind)
	if err != nil {
		writeFailure(w, r, err, "failed to load price")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// SyncPrices handles POST /api/v1/prices/sync
func (s *Service) SyncPrices(w http.ResponseWriter, r *http.Request) {
	res, err := s.prices.SyncNow(r.Context())
	if errors.Is(err, marketdata.ErrSyncDisabled) {
		writeError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		writeFailure(w, r, err, "price sync failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// broadcastPrice publishes a stored price to websocket clients.
func (s *Service) broadcastPrice(p model.Price) {
	if s.wsHub == nil {
		return
	}
	s.wsHub.Broadcast(WSMessage{
		Type:      "price_updated",
		Code:      p.Code,
		AssetType: string(p.Kind),
		Price:     p.Price.String(),
		Timestamp: p.UpdatedAt,
	})
}

// PriceListener returns the callback to install as the syncer's OnUpdate.
func (s *Service) PriceListener() func(model.Price) {
	return s.broadcastPrice
}
