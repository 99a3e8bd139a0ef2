package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/yushukk/trading-custody-sub000/internal/model"
)

// PostgresStore implements Store using PostgreSQL.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			username      TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			role          TEXT NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS fund_entries (
			seq       BIGSERIAL PRIMARY KEY,
			id        TEXT NOT NULL UNIQUE,
			user_id   TEXT NOT NULL,
			type      TEXT NOT NULL,
			amount    NUMERIC NOT NULL,
			remark    TEXT NOT NULL DEFAULT '',
			timestamp TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_fund_entries_user ON fund_entries (user_id, timestamp);

		CREATE TABLE IF NOT EXISTS transactions (
			seq       BIGSERIAL PRIMARY KEY,
			id        TEXT NOT NULL UNIQUE,
			user_id   TEXT NOT NULL,
			code      TEXT NOT NULL,
			name      TEXT NOT NULL DEFAULT '',
			kind      TEXT NOT NULL,
			side      TEXT NOT NULL,
			price     NUMERIC NOT NULL,
			quantity  NUMERIC NOT NULL,
			fee       NUMERIC NOT NULL DEFAULT 0,
			timestamp TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions (user_id, timestamp, seq);

		CREATE TABLE IF NOT EXISTS prices (
			code       TEXT NOT NULL,
			kind       TEXT NOT NULL,
			price      NUMERIC NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (kind, code)
		);
	`)
	return err
}

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, username, password_hash, role, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.Username, u.PasswordHash, string(u.Role), u.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("user %s: %w", u.Username, ErrConflict)
	}
	return err
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, username, password_hash, role, created_at FROM users WHERE id = $1`, id)
	u, err := scanPgUser(row)
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return u, nil
}

func (s *PostgresStore) GetUserByName(ctx context.Context, username string) (*model.User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, username, password_hash, role, created_at FROM users WHERE username = $1`, username)
	u, err := scanPgUser(row)
	if err != nil {
		return nil, fmt.Errorf("get user by name %s: %w", username, err)
	}
	return u, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, username, password_hash, role, created_at FROM users ORDER BY created_at, username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanPgUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, id, passwordHash string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, id, passwordHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) DeleteUser(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) InsertFundEntry(ctx context.Context, e *model.FundEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO fund_entries (id, user_id, type, amount, remark, timestamp)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6)`,
		e.ID, e.UserID, string(e.Type), e.Amount.String(), e.Remark, e.Timestamp,
	)
	return err
}

func (s *PostgresStore) GetFundEntries(ctx context.Context, userID string) ([]model.FundEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, type, amount::TEXT, remark, timestamp
		 FROM fund_entries WHERE user_id = $1 ORDER BY timestamp, seq`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.FundEntry
	for rows.Next() {
		var e model.FundEntry
		var typ, amountS string
		if err := rows.Scan(&e.ID, &e.UserID, &typ, &amountS, &e.Remark, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Type = model.FundType(typ)
		e.Amount, _ = decimal.NewFromString(amountS)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) GetFundBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var balanceS string
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(CASE WHEN type = 'withdraw' THEN -amount ELSE amount END), 0)::TEXT
		 FROM fund_entries WHERE user_id = $1`, userID).Scan(&balanceS)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fund balance %s: %w", userID, err)
	}
	balance, _ := decimal.NewFromString(balanceS)
	return balance, nil
}

func (s *PostgresStore) InsertTransaction(ctx context.Context, tx *model.Transaction) error {
	return s.pool.QueryRow(ctx,
		`INSERT INTO transactions (id, user_id, code, name, kind, side, price, quantity, fee, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10)
		 RETURNING seq`,
		tx.ID, tx.UserID, tx.Code, tx.Name, string(tx.Kind), string(tx.Side),
		tx.Price.String(), tx.Quantity.String(), tx.Fee.String(),
		tx.Timestamp,
	).Scan(&tx.Seq)
}

func (s *PostgresStore) GetTransactionsByUser(ctx context.Context, userID string) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT seq, id, user_id, code, name, kind, side,
		        price::TEXT, quantity::TEXT, fee::TEXT, timestamp
		 FROM transactions WHERE user_id = $1 ORDER BY timestamp, seq`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTransactions(rows)
}

func (s *PostgresStore) ListInstruments(ctx context.Context) ([]model.Instrument, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT code, kind FROM transactions GROUP BY code, kind ORDER BY MIN(seq)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Instrument
	for rows.Next() {
		var inst model.Instrument
		var kind string
		if err := rows.Scan(&inst.Code, &kind); err != nil {
			return nil, err
		}
		inst.Kind = model.InstrumentKind(kind)
		result = append(result, inst)
	}
	return result, rows.Err()
}

func (s *PostgresStore) UpsertPrice(ctx context.Context, p *model.Price) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO prices (code, kind, price, updated_at) VALUES ($1, $2, $3::NUMERIC, $4)
		 ON CONFLICT (kind, code) DO UPDATE SET price = EXCLUDED.price, updated_at = EXCLUDED.updated_at`,
		p.Code, string(p.Kind), p.Price.String(), p.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) GetPrice(ctx context.Context, code string, kind model.InstrumentKind) (*model.Price, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT code, kind, price::TEXT, updated_at FROM prices WHERE kind = $1 AND code = $2`,
		string(kind), code)
	p, err := scanPgPrice(row)
	if err != nil {
		return nil, fmt.Errorf("get price %s/%s: %w", kind, code, err)
	}
	return p, nil
}

func (s *PostgresStore) ListPrices(ctx context.Context) ([]model.Price, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT code, kind, price::TEXT, updated_at FROM prices ORDER BY kind, code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prices []model.Price
	for rows.Next() {
		p, err := scanPgPrice(rows)
		if err != nil {
			return nil, err
		}
		prices = append(prices, *p)
	}
	return prices, rows.Err()
}

// pgxRows is the subset of pgx.Rows used by scanTransactions.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanTransactions(rows pgxRows) ([]model.Transaction, error) {
	var txs []model.Transaction
	for rows.Next() {
		var tx model.Transaction
		var kind, side, priceS, qtyS, feeS string

		if err := rows.Scan(&tx.Seq, &tx.ID, &tx.UserID, &tx.Code, &tx.Name, &kind, &side,
			&priceS, &qtyS, &feeS, &tx.Timestamp); err != nil {
			return nil, err
		}

		tx.Kind = model.InstrumentKind(kind)
		tx.Side = model.Side(side)
		tx.Price, _ = decimal.NewFromString(priceS)
		tx.Quantity, _ = decimal.NewFromString(qtyS)
		tx.Fee, _ = decimal.NewFromString(feeS)

		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func scanPgUser(row pgx.Row) (*model.User, error) {
	var u model.User
	var role string
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &role, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.Role = model.Role(role)
	return &u, nil
}

func scanPgPrice(row pgx.Row) (*model.Price, error) {
	var p model.Price
	var kind, priceS string
	if err := row.Scan(&p.Code, &kind, &priceS, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	p.Kind = model.InstrumentKind(kind)
	p.Price, _ = decimal.NewFromString(priceS)
	return &p, nil
}
