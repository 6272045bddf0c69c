// Package sqliteledger is a durable native-currency ledger on SQLite. Amounts are
// whole numbers of the smallest unit stored as decimal strings, so values beyond
// int64 (up to uint128) keep full precision.
package sqliteledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/betbot/nftmarket/internal/domain"
	"github.com/betbot/nftmarket/internal/ports"
)

var ErrInsufficientFunds = errors.New("ledger: insufficient funds")

type Ledger struct {
	db *sql.DB
}

func Open(path string) (*Ledger, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("ledger path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir ledger dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite：单连接，写入天然串行
	db.SetMaxIdleConns(1)

	l := &Ledger{db: db}
	if err := l.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

func (l *Ledger) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS balances (
  account TEXT NOT NULL,
  denom TEXT NOT NULL,
  amount TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  PRIMARY KEY (account, denom)
);`,
		`
CREATE TABLE IF NOT EXISTS payments (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  from_account TEXT NOT NULL,
  to_account TEXT NOT NULL,
  denom TEXT NOT NULL,
  amount TEXT NOT NULL,
  created_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_payments_from ON payments(from_account, id DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_payments_to ON payments(to_account, id DESC);`,
	}
	for _, q := range stmts {
		if _, err := l.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate exec failed: %w", err)
		}
	}
	return nil
}

// Deposit credits account from outside the ledger (faucet, bridge, admin top-up).
func (l *Ledger) Deposit(ctx context.Context, account string, c domain.Coin) error {
	if !c.Valid() {
		return fmt.Errorf("ledger: deposit must be a positive whole number, got %s", c)
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin deposit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	have, err := balanceTx(ctx, tx, account, c.Denom)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := setBalanceTx(ctx, tx, account, c.Denom, have.Add(c.Amount), now); err != nil {
		return err
	}
	if err := journalTx(ctx, tx, "", account, c, now); err != nil {
		return err
	}
	return tx.Commit()
}

func (l *Ledger) Balance(ctx context.Context, account, denom string) (decimal.Decimal, error) {
	var raw string
	err := l.db.QueryRowContext(ctx, `SELECT amount FROM balances WHERE account=? AND denom=?`, account, denom).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("query balance: %w", err)
	}
	return decimal.NewFromString(raw)
}

// MovePayment debits from and credits to in one SQL transaction.
func (l *Ledger) MovePayment(ctx context.Context, from, to string, amount domain.Coin) error {
	if !amount.Valid() {
		return fmt.Errorf("ledger: amount must be a positive whole number, got %s", amount)
	}
	if from == to {
		return nil
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin payment: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	src, err := balanceTx(ctx, tx, from, amount.Denom)
	if err != nil {
		return err
	}
	if src.LessThan(amount.Amount) {
		return fmt.Errorf("%w: %s has %s%s, needs %s", ErrInsufficientFunds, from, src, amount.Denom, amount)
	}
	dst, err := balanceTx(ctx, tx, to, amount.Denom)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := setBalanceTx(ctx, tx, from, amount.Denom, src.Sub(amount.Amount), now); err != nil {
		return err
	}
	if err := setBalanceTx(ctx, tx, to, amount.Denom, dst.Add(amount.Amount), now); err != nil {
		return err
	}
	if err := journalTx(ctx, tx, from, to, amount, now); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit payment: %w", err)
	}
	return nil
}

// History returns the latest payments touching account, newest first.
func (l *Ledger) History(ctx context.Context, account string, limit int) ([]domain.Payment, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx, `
SELECT id, from_account, to_account, denom, amount, created_at
FROM payments
WHERE from_account=? OR to_account=?
ORDER BY id DESC
LIMIT ?
`, account, account, limit)
	if err != nil {
		return nil, fmt.Errorf("query payments: %w", err)
	}
	defer rows.Close()

	var out []domain.Payment
	for rows.Next() {
		var (
			p              domain.Payment
			denom, amt, ts string
		)
		if err := rows.Scan(&p.ID, &p.From, &p.To, &denom, &amt, &ts); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		d, err := decimal.NewFromString(amt)
		if err != nil {
			return nil, fmt.Errorf("payment %d amount: %w", p.ID, err)
		}
		p.Amount = domain.Coin{Denom: denom, Amount: d}
		p.CreatedAt, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, p)
	}
	return out, rows.Err()
}

func balanceTx(ctx context.Context, tx *sql.Tx, account, denom string) (decimal.Decimal, error) {
	var raw string
	err := tx.QueryRowContext(ctx, `SELECT amount FROM balances WHERE account=? AND denom=?`, account, denom).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("query balance %s: %w", account, err)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance %s: %w", account, err)
	}
	return d, nil
}

func setBalanceTx(ctx context.Context, tx *sql.Tx, account, denom string, amount decimal.Decimal, now string) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO balances (account, denom, amount, updated_at)
VALUES (?,?,?,?)
ON CONFLICT(account, denom) DO UPDATE SET amount=excluded.amount, updated_at=excluded.updated_at
`, account, denom, amount.String(), now)
	if err != nil {
		return fmt.Errorf("update balance %s: %w", account, err)
	}
	return nil
}

func journalTx(ctx context.Context, tx *sql.Tx, from, to string, c domain.Coin, now string) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO payments (from_account, to_account, denom, amount, created_at)
VALUES (?,?,?,?,?)
`, from, to, c.Denom, c.Amount.String(), now)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

var _ ports.Ledger = (*Ledger)(nil)

// BalanceOf is an alias of Balance so both ledgers satisfy the same read interface.
func (l *Ledger) BalanceOf(ctx context.Context, account, denom string) (decimal.Decimal, error) {
	return l.Balance(ctx, account, denom)
}
