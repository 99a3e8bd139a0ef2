package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/yushukk/trading-custody-sub000/internal/model"
)

// SQLiteStore implements Store on a single SQLite database file.
// Decimals are stored as TEXT to keep exact precision; timestamps as
// unix nanoseconds so ORDER BY is chronological.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path with WAL journaling
// and ensures the schema exists.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer connection; readers queue behind it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	slog.Info("opened sqlite database", "path", path)
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT    PRIMARY KEY,
			username      TEXT    NOT NULL UNIQUE,
			password_hash TEXT    NOT NULL,
			role          TEXT    NOT NULL,
			created_at    INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS fund_entries (
			id        TEXT    PRIMARY KEY,
			user_id   TEXT    NOT NULL,
			type      TEXT    NOT NULL,
			amount    TEXT    NOT NULL,
			remark    TEXT    NOT NULL DEFAULT '',
			ts        INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_fund_entries_user ON fund_entries (user_id, ts);

		CREATE TABLE IF NOT EXISTS transactions (
			seq       INTEGER PRIMARY KEY AUTOINCREMENT,
			id        TEXT    NOT NULL UNIQUE,
			user_id   TEXT    NOT NULL,
			code      TEXT    NOT NULL,
			name      TEXT    NOT NULL DEFAULT '',
			kind      TEXT    NOT NULL,
			side      TEXT    NOT NULL,
			price     TEXT    NOT NULL,
			quantity  TEXT    NOT NULL,
			fee       TEXT    NOT NULL DEFAULT '0',
			ts        INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions (user_id, ts, seq);

		CREATE TABLE IF NOT EXISTS prices (
			code       TEXT    NOT NULL,
			kind       TEXT    NOT NULL,
			price      TEXT    NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (kind, code)
		);
	`)
	return err
}

func (s *SQLiteStore) CreateUser(ctx context.Context, u *model.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash, role, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.PasswordHash, string(u.Role), u.CreatedAt.UnixNano(),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("user %s: %w", u.Username, ErrConflict)
	}
	return err
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, role, created_at FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return u, nil
}

func (s *SQLiteStore) GetUserByName(ctx context.Context, username string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, role, created_at FROM users WHERE username = ?`, username)
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("get user by name %s: %w", username, err)
	}
	return u, nil
}

func (s *SQLiteStore) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, password_hash, role, created_at FROM users ORDER BY created_at, username`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (s *SQLiteStore) UpdateUserPassword(ctx context.Context, id, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash = ? WHERE id = ?`, passwordHash, id)
	if err != nil {
		return err
	}
	return requireAffected(res, "user "+id)
}

func (s *SQLiteStore) DeleteUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res, "user "+id)
}

func (s *SQLiteStore) InsertFundEntry(ctx context.Context, e *model.FundEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fund_entries (id, user_id, type, amount, remark, ts) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, string(e.Type), e.Amount.String(), e.Remark, e.Timestamp.UnixNano(),
	)
	return err
}

func (s *SQLiteStore) GetFundEntries(ctx context.Context, userID string) ([]model.FundEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, type, amount, remark, ts
		 FROM fund_entries WHERE user_id = ? ORDER BY ts ASC, rowid ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite query fund_entries: %w", err)
	}
	defer rows.Close()

	var entries []model.FundEntry
	for rows.Next() {
		var e model.FundEntry
		var typ, amount string
		var ts int64
		if err := rows.Scan(&e.ID, &e.UserID, &typ, &amount, &e.Remark, &ts); err != nil {
			return nil, fmt.Errorf("sqlite scan fund_entries: %w", err)
		}
		e.Type = model.FundType(typ)
		e.Timestamp = time.Unix(0, ts).UTC()
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("fund entry %s amount: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetFundBalance sums in Go: SQLite has no exact decimal arithmetic.
func (s *SQLiteStore) GetFundBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	entries, err := s.GetFundEntries(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	balance := decimal.Zero
	for _, e := range entries {
		balance = balance.Add(e.Signed())
	}
	return balance, nil
}

func (s *SQLiteStore) InsertTransaction(ctx context.Context, tx *model.Transaction) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO transactions (id, user_id, code, name, kind, side, price, quantity, fee, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.UserID, tx.Code, tx.Name, string(tx.Kind), string(tx.Side),
		tx.Price.String(), tx.Quantity.String(), tx.Fee.String(),
		tx.Timestamp.UnixNano(),
	)
	if err != nil {
		return err
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return err
	}
	tx.Seq = seq
	return nil
}

func (s *SQLiteStore) GetTransactionsByUser(ctx context.Context, userID string) ([]model.Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, id, user_id, code, name, kind, side, price, quantity, fee, ts
		 FROM transactions WHERE user_id = ? ORDER BY ts ASC, seq ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite query transactions: %w", err)
	}
	defer rows.Close()

	var txs []model.Transaction
	for rows.Next() {
		var tx model.Transaction
		var kind, side, price, qty, fee string
		var ts int64
		if err := rows.Scan(&tx.Seq, &tx.ID, &tx.UserID, &tx.Code, &tx.Name,
			&kind, &side, &price, &qty, &fee, &ts); err != nil {
			return nil, fmt.Errorf("sqlite scan transactions: %w", err)
		}
		tx.Kind = model.InstrumentKind(kind)
		tx.Side = model.Side(side)
		tx.Timestamp = time.Unix(0, ts).UTC()
		if err := parseDecimals(tx.ID, []string{price, qty, fee}, &tx.Price, &tx.Quantity, &tx.Fee); err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func (s *SQLiteStore) ListInstruments(ctx context.Context) ([]model.Instrument, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT code, kind FROM transactions GROUP BY code, kind ORDER BY MIN(seq)`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query instruments: %w", err)
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

func (s *SQLiteStore) UpsertPrice(ctx context.Context, p *model.Price) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO prices (code, kind, price, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (kind, code) DO UPDATE SET price = excluded.price, updated_at = excluded.updated_at`,
		p.Code, string(p.Kind), p.Price.String(), p.UpdatedAt.UnixNano(),
	)
	return err
}

func (s *SQLiteStore) GetPrice(ctx context.Context, code string, kind model.InstrumentKind) (*model.Price, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT code, kind, price, updated_at FROM prices WHERE kind = ? AND code = ?`, string(kind), code)
	p, err := scanPrice(row)
	if err != nil {
		return nil, fmt.Errorf("get price %s/%s: %w", kind, code, err)
	}
	return p, nil
}

func (s *SQLiteStore) ListPrices(ctx context.Context) ([]model.Price, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT code, kind, price, updated_at FROM prices ORDER BY kind, code`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query prices: %w", err)
	}
	defer rows.Close()

	var prices []model.Price
	for rows.Next() {
		p, err := scanPrice(rows)
		if err != nil {
			return nil, err
		}
		prices = append(prices, *p)
	}
	return prices, rows.Err()
}

// --- scan helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var u model.User
	var role string
	var createdAt int64
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &role, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.Role = model.Role(role)
	u.CreatedAt = time.Unix(0, createdAt).UTC()
	return &u, nil
}

func scanPrice(row rowScanner) (*model.Price, error) {
	var p model.Price
	var kind, price string
	var updatedAt int64
	if err := row.Scan(&p.Code, &kind, &price, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	p.Kind = model.InstrumentKind(kind)
	p.UpdatedAt = time.Unix(0, updatedAt).UTC()
	v, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("price %s: %w", p.Code, err)
	}
	p.Price = v
	return &p, nil
}

func parseDecimals(id string, raw []string, dst ...*decimal.Decimal) error {
	for i, s := range raw {
		v, err := decimal.NewFromString(s)
		if err != nil {
			return fmt.Errorf("record %s: %w", id, err)
		}
		*dst[i] = v
	}
	return nil
}

func requireAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
