package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/betbot/nftmarket/internal/domain"
	"github.com/betbot/nftmarket/internal/ports"
	"github.com/shopspring/decimal"
)

var ErrInsufficientFunds = errors.New("ledger: insufficient funds")

// Ledger keeps balances per account and denom.
type Ledger struct {
	mu       sync.Mutex
	balances map[string]map[string]decimal.Decimal
	moves    []Move
	journal  []domain.Payment
	failTo   map[string]error
}

// Move records one successful MovePayment.
type Move struct {
	From   string
	To     string
	Amount domain.Coin
}

func NewLedger() *Ledger {
	return &Ledger{
		balances: make(map[string]map[string]decimal.Decimal),
		failTo:   make(map[string]error),
	}
}

// Fund credits an account out of thin air.
func (l *Ledger) Fund(account string, c domain.Coin) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(account, c)
}

func (l *Ledger) Balance(account, denom string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[account][denom]
}

// Moves returns the recorded payment history.
func (l *Ledger) Moves() []Move {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Move(nil), l.moves...)
}

// FailPaymentsTo makes every payment to account fail with err; nil clears it.
func (l *Ledger) FailPaymentsTo(account string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		delete(l.failTo, account)
		return
	}
	l.failTo[account] = err
}

func (l *Ledger) MovePayment(_ context.Context, from, to string, amount domain.Coin) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.failTo[to]; err != nil {
		return err
	}
	if !amount.Valid() {
		return fmt.Errorf("ledger: amount must be a positive whole number, got %s", amount)
	}
	have := l.balances[from][amount.Denom]
	if have.LessThan(amount.Amount) {
		return fmt.Errorf("%w: %s has %s%s, needs %s", ErrInsufficientFunds, from, have, amount.Denom, amount)
	}
	l.balances[from][amount.Denom] = have.Sub(amount.Amount)
	l.credit(to, amount)
	l.moves = append(l.moves, Move{From: from, To: to, Amount: amount})
	l.journal = append(l.journal, domain.Payment{From: from, To: to, Amount: amount, CreatedAt: time.Now().UTC()})
	return nil
}

func (l *Ledger) credit(account string, c domain.Coin) {
	if l.balances[account] == nil {
		l.balances[account] = make(map[string]decimal.Decimal)
	}
	l.balances[account][c.Denom] = l.balances[account][c.Denom].Add(c.Amount)
}

var _ ports.Ledger = (*Ledger)(nil)

// Deposit is Fund with the signature the dev API expects.
func (l *Ledger) Deposit(_ context.Context, account string, c domain.Coin) error {
	if !c.Valid() {
		return fmt.Errorf("ledger: deposit must be a positive whole number, got %s", c)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(account, c)
	l.journal = append(l.journal, domain.Payment{To: account, Amount: c, CreatedAt: time.Now().UTC()})
	return nil
}

// History returns the latest payments touching account, newest first. Deposits have
// no source account.
func (l *Ledger) History(_ context.Context, account string, limit int) ([]domain.Payment, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.Payment
	for i := len(l.journal) - 1; i >= 0 && len(out) < limit; i-- {
		p := l.journal[i]
		if p.From == account || p.To == account {
			p.ID = int64(i + 1)
			out = append(out, p)
		}
	}
	return out, nil
}

// BalanceOf is Balance behind a context-aware signature.
func (l *Ledger) BalanceOf(_ context.Context, account, denom string) (decimal.Decimal, error) {
	return l.Balance(account, denom), nil
}
