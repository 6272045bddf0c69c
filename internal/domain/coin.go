package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Coin 原生货币金额（数量 + 币种）
type Coin struct {
	Denom  string          `json:"denom"`
	Amount decimal.Decimal `json:"amount"`
}

// NewCoin builds a coin from an integer amount in the smallest unit.
func NewCoin(amount int64, denom string) Coin {
	return Coin{Denom: denom, Amount: decimal.NewFromInt(amount)}
}

// IsPositive 金额是否 > 0
func (c Coin) IsPositive() bool {
	return c.Amount.IsPositive()
}

// IsWhole reports whether the amount is a whole number of the smallest unit.
func (c Coin) IsWhole() bool {
	return c.Amount.IsInteger()
}

// Valid 正数且为整数（最小单位）
func (c Coin) Valid() bool {
	return c.IsPositive() && c.IsWhole()
}

// Equal compares amount and denom.
func (c Coin) Equal(o Coin) bool {
	return c.Denom == o.Denom && c.Amount.Equal(o.Amount)
}

// String renders the coin the way the host ledger prints it: "100uusd".
func (c Coin) String() string {
	return c.Amount.String() + c.Denom
}


// Payment 账本流水中的一条记录；充值没有 From
type Payment struct {
	ID        int64     `json:"id"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to"`
	Amount    Coin      `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}
