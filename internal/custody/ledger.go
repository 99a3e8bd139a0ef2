package custody

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/yushukk/trading-custody-sub000/internal/guard"
	"github.com/yushukk/trading-custody-sub000/internal/instrument"
	"github.com/yushukk/trading-custody-sub000/internal/metrics"
	"github.com/yushukk/trading-custody-sub000/internal/model"
	"github.com/yushukk/trading-custody-sub000/internal/store"
)

// ErrInsufficientFunds is returned when a withdrawal exceeds the balance.
var ErrInsufficientFunds = errors.New("custody: insufficient funds")

// pnlPlaces is the number of decimal places in PnL responses.
const pnlPlaces = 2

// FundRequest is the JSON body for POST /users/{userID}/funds.
type FundRequest struct {
	Type   model.FundType  `json:"type"`
	Amount decimal.Decimal `json:"amount"`
	Remark string          `json:"remark"`
}

// TransactionRequest is the JSON body for POST /users/{userID}/transactions.
type TransactionRequest struct {
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	AssetType string          `json:"asset_type"`
	Side      model.Side      `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Fee       decimal.Decimal `json:"fee"`
	Timestamp *time.Time      `json:"timestamp"` // nil → now
}

// RecordFund handles POST /api/v1/users/{userID}/funds
func (s *Service) RecordFund(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	var req FundRequest
	if err := decode(r, &req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Type != model.FundDeposit && req.Type != model.FundWithdraw {
		writeError(w, "type must be deposit or withdraw", http.StatusBadRequest)
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, model.ErrInvalidAmount.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		writeFailure(w, r, err, "failed to load user")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	balance, err := s.store.GetFundBalance(ctx, userID)
	if err != nil {
		writeFailure(w, r, err, "failed to load balance")
		return
	}
	if req.Type == model.FundWithdraw && req.Amount.GreaterThan(balance) {
		writeError(w, ErrInsufficientFunds.Error(), http.StatusConflict)
		return
	}

	entry := &model.FundEntry{
		ID:        uuid.New().String(),
		UserID:    userID,
		Type:      req.Type,
		Amount:    req.Amount,
		Remark:    strings.TrimSpace(req.Remark),
		Timestamp: time.Now().UTC(),
	}
	if err := s.store.InsertFundEntry(ctx, entry); err != nil {
		writeFailure(w, r, err, "failed to record fund entry")
		return
	}
	metrics.FundOperationsTotal.WithLabelValues(string(req.Type)).Inc()

	slog.Info("fund entry recorded",
		"id", entry.ID,
		"user", userID,
		"type", entry.Type,
		"amount", entry.Amount.String(),
		"balance", balance.Add(entry.Signed()).String(),
	)
	writeJSON(w, http.StatusCreated, entry)
}

// GetFunds handles GET /api/v1/users/{userID}/funds
func (s *Service) GetFunds(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ctx := r.Context()

	entries, err := s.store.GetFundEntries(ctx, userID)
	if err != nil {
		writeFailure(w, r, err, "failed to load fund entries")
		return
	}
	if entries == nil {
		entries = []model.FundEntry{}
	}
	balance := decimal.Zero
	for _, e := range entries {
		balance = balance.Add(e.Signed())
	}
	writeJSON(w, http.StatusOK, model.FundBalance{UserID: userID, Balance: balance, Entries: entries})
}

// RecordTransaction handles POST /api/v1/users/{userID}/transactions
// The transaction is checked against the user's ledger before it is
// appended; oversells and position limit breaches are rejected with 409.
func (s *Service) RecordTransaction(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	var req TransactionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	inst, err := instrument.Parse(req.Code, req.AssetType)
	if err != nil {
		metrics.TransactionRejections.WithLabelValues("invalid").Inc()
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	tx := model.Transaction{
		ID:        uuid.New().String(),
		UserID:    userID,
		Code:      inst.Code,
		Name:      strings.TrimSpace(req.Name),
		Kind:      inst.Kind,
		Side:      model.Side(strings.ToLower(string(req.Side))),
		Price:     req.Price,
		Quantity:  req.Quantity,
		Fee:       req.Fee,
		Timestamp: time.Now().UTC(),
	}
	if req.Timestamp != nil {
		tx.Timestamp = req.Timestamp.UTC()
	}
	if tx.Name == "" {
		tx.Name = tx.Code
	}

	ctx := r.Context()
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		writeFailure(w, r, err, "failed to load user")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// The check must see every committed row, so it bypasses any cache.
	history, err := store.Primary(s.store).GetTransactionsByUser(ctx, userID)
	if err != nil {
		writeFailure(w, r, err, "failed to load ledger")
		return
	}
	if err := s.guard.Check(tx, history); err != nil {
		metrics.TransactionRejections.WithLabelValues(rejectionReason(err)).Inc()
		slog.Info("transaction rejected",
			"user", userID,
			"code", tx.Code,
			"side", tx.Side,
			"qty", tx.Quantity.String(),
			"reason", err.Error(),
		)
		writeFailure(w, r, err, "failed to validate transaction")
		return
	}

	if err := s.store.InsertTransaction(ctx, &tx); err != nil {
		writeFailure(w, r, err, "failed to record transaction")
		return
	}
	metrics.TransactionsTotal.WithLabelValues(string(tx.Side)).Inc()

	slog.Info("transaction recorded",
		"id", tx.ID,
		"user", userID,
		"code", tx.Code,
		"kind", tx.Kind,
		"side", tx.Side,
		"price", tx.Price.String(),
		"qty", tx.Quantity.String(),
		"fee", tx.Fee.String(),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:      "transaction_recorded",
			UserID:    userID,
			Code:      tx.Code,
			AssetType: string(tx.Kind),
			Side:      string(tx.Side),
			Price:     tx.Price.String(),
			Quantity:  tx.Quantity.String(),
			Timestamp: tx.Timestamp,
		})
	}

	writeJSON(w, http.StatusCreated, tx)
}

// ListTransactions handles GET /api/v1/users/{userID}/transactions
// Optional ?code= filters to one instrument.
func (s *Service) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	txs, err := s.store.GetTransactionsByUser(r.Context(), userID)
	if err != nil {
		writeFailure(w, r, err, "failed to load ledger")
		return
	}

	result := make([]model.Transaction, 0, len(txs))
	code := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("code")))
	for _, tx := range txs {
		if code == "" || tx.Code == code {
			result = append(result, tx)
		}
	}
	writeJSON(w, http.StatusOK, result)
}

// GetPnL handles GET /api/v1/users/{userID}/pnl
// Returns one summary per instrument, in order of first trade.
func (s *Service) GetPnL(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ctx := r.Context()

	if _, err := s.store.GetUser(ctx, userID); err != nil {
		writeFailure(w, r, err, "failed to load user")
		return
	}

	summaries, err := s.engine.Compute(ctx, userID)
	if err != nil {
		writeFailure(w, r, err, "failed to compute pnl")
		return
	}
	for i := range summaries {
		roundSummary(&summaries[i])
	}
	writeJSON(w, http.StatusOK, summaries)
}

func roundSummary(sum *model.InstrumentSummary) {
	sum.TotalPnL = sum.TotalPnL.Round(pnlPlaces)
	sum.RealizedPnL = sum.RealizedPnL.Round(pnlPlaces)
	sum.UnrealizedPnL = sum.UnrealizedPnL.Round(pnlPlaces)
	sum.LatestPrice = sum.LatestPrice.Round(pnlPlaces)
	sum.Fee = sum.Fee.Round(pnlPlaces)
	sum.AverageCost = sum.AverageCost.Round(pnlPlaces)
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, guard.ErrOversell):
		return "oversell"
	case errors.Is(err, guard.ErrPositionLimitExceeded):
		return "position_limit"
	}
	return "invalid"
}
