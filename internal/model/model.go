// Package model defines the core domain types shared across the custody service.
// Money and quantities are shopspring/decimal values throughout.
package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a ledger transaction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// InstrumentKind classifies an instrument. It is carried through to
// summaries and used to route price lookups, never in PnL arithmetic.
type InstrumentKind string

const (
	KindEquity     InstrumentKind = "equity"
	KindDerivative InstrumentKind = "derivative"
	KindFund       InstrumentKind = "fund"
)

// Valid reports whether k is a known instrument kind.
func (k InstrumentKind) Valid() bool {
	switch k {
	case KindEquity, KindDerivative, KindFund:
		return true
	}
	return false
}

var (
	ErrMissingCode     = errors.New("model: instrument code is required")
	ErrInvalidKind     = errors.New("model: instrument kind must be equity, derivative or fund")
	ErrInvalidSide     = errors.New("model: side must be buy or sell")
	ErrInvalidPrice    = errors.New("model: price must be positive")
	ErrInvalidQuantity = errors.New("model: quantity must be positive")
	ErrInvalidFee      = errors.New("model: fee must not be negative")
	ErrInvalidAmount   = errors.New("model: amount must be positive")
)

// Transaction is an immutable record of a buy or sell.
// Once appended to the ledger it is never modified or deleted.
type Transaction struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	Code      string          `json:"code" db:"code"`
	Name      string          `json:"name" db:"name"`
	Kind      InstrumentKind  `json:"asset_type" db:"kind"`
	Side      Side            `json:"side" db:"side"`
	Price     decimal.Decimal `json:"price" db:"price"`       // per unit
	Quantity  decimal.Decimal `json:"quantity" db:"quantity"` // always positive
	Fee       decimal.Decimal `json:"fee" db:"fee"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
	Seq       int64           `json:"-" db:"seq"` // insertion order, breaks timestamp ties
}

// Validate checks the ingestion invariants of a transaction.
func (t *Transaction) Validate() error {
	if t.Code == "" {
		return ErrMissingCode
	}
	if !t.Kind.Valid() {
		return ErrInvalidKind
	}
	if t.Side != SideBuy && t.Side != SideSell {
		return ErrInvalidSide
	}
	if !t.Price.IsPositive() {
		return ErrInvalidPrice
	}
	if !t.Quantity.IsPositive() {
		return ErrInvalidQuantity
	}
	if t.Fee.IsNegative() {
		return ErrInvalidFee
	}
	return nil
}

// InstrumentSummary is the profit/loss view of one instrument held by one user.
// Values are full precision; presentation rounding happens at the API edge.
type InstrumentSummary struct {
	Code          string          `json:"code"`
	Name          string          `json:"name"`
	Kind          InstrumentKind  `json:"assetType"`
	Quantity      decimal.Decimal `json:"quantity"` // open quantity after replay
	TotalPnL      decimal.Decimal `json:"totalPnL"`
	RealizedPnL   decimal.Decimal `json:"realizedPnL"`
	UnrealizedPnL decimal.Decimal `json:"unrealizedPnL"`
	LatestPrice   decimal.Decimal `json:"latestPrice"`
	Fee           decimal.Decimal `json:"fee"`
	AverageCost   decimal.Decimal `json:"averageCost"` // weighted cost of open lots
}

// Role controls what a user may do through the API.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// User is an account that owns a cash ledger and a transaction ledger.
type User struct {
	ID           string    `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Role         Role      `json:"role" db:"role"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// FundType is the kind of cash movement.
type FundType string

const (
	FundDeposit  FundType = "deposit"
	FundWithdraw FundType = "withdraw"
)

// FundEntry is an immutable cash ledger row. Amount is always positive;
// Type carries the direction.
type FundEntry struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	Type      FundType        `json:"type" db:"type"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	Remark    string          `json:"remark,omitempty" db:"remark"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// Signed returns the amount with withdrawals negated.
func (f FundEntry) Signed() decimal.Decimal {
	if f.Type == FundWithdraw {
		return f.Amount.Neg()
	}
	return f.Amount
}

// FundBalance is a user's cash position.
type FundBalance struct {
	UserID  string          `json:"user_id"`
	Balance decimal.Decimal `json:"balance"`
	Entries []FundEntry     `json:"entries"`
}

// Price is the latest known market price of an instrument.
type Price struct {
	Code      string          `json:"code" db:"code"`
	Kind      InstrumentKind  `json:"asset_type" db:"kind"`
	Price     decimal.Decimal `json:"price" db:"price"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Instrument identifies a tradable instrument.
type Instrument struct {
	Code string         `json:"code"`
	Kind InstrumentKind `json:"asset_type"`
}
