package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// BlockInfo 宿主链当前区块（高度 + 时间），由 Clock 提供
type BlockInfo struct {
	Height uint64    `json:"height"`
	Time   time.Time `json:"time"`
}

// ExpirationKind 过期类型
type ExpirationKind string

const (
	ExpiresNever    ExpirationKind = "never"
	ExpiresAtHeight ExpirationKind = "at_height"
	ExpiresAtTime   ExpirationKind = "at_time"
)

// Expiration is a deadline expressed either as a block height, a wall-clock time,
// or never. The zero value means never.
type Expiration struct {
	Kind   ExpirationKind
	Height uint64
	Time   time.Time
}

func AtHeight(h uint64) Expiration { return Expiration{Kind: ExpiresAtHeight, Height: h} }

func AtTime(t time.Time) Expiration { return Expiration{Kind: ExpiresAtTime, Time: t.UTC()} }

func Never() Expiration { return Expiration{Kind: ExpiresNever} }

func (e Expiration) kind() ExpirationKind {
	if e.Kind == "" {
		return ExpiresNever
	}
	return e.Kind
}

// IsExpired reports whether the deadline has been reached at block.
// Reaching the exact height or time counts as expired.
func (e Expiration) IsExpired(block BlockInfo) bool {
	switch e.kind() {
	case ExpiresAtHeight:
		return block.Height >= e.Height
	case ExpiresAtTime:
		return !block.Time.Before(e.Time)
	default:
		return false
	}
}

// Equal is a structural match: same kind and same deadline.
func (e Expiration) Equal(o Expiration) bool {
	if e.kind() != o.kind() {
		return false
	}
	switch e.kind() {
	case ExpiresAtHeight:
		return e.Height == o.Height
	case ExpiresAtTime:
		return e.Time.Equal(o.Time)
	default:
		return true
	}
}

func (e Expiration) String() string {
	switch e.kind() {
	case ExpiresAtHeight:
		return fmt.Sprintf("expiration height: %d", e.Height)
	case ExpiresAtTime:
		return fmt.Sprintf("expiration time: %s", e.Time.UTC().Format(time.RFC3339Nano))
	default:
		return "expiration: never"
	}
}

type expirationJSON struct {
	AtHeight *uint64    `json:"at_height,omitempty"`
	AtTime   *time.Time `json:"at_time,omitempty"`
	Never    *struct{}  `json:"never,omitempty"`
}

// MarshalJSON uses the registry's tagged shape: {"at_height":N}, {"at_time":T}, {"never":{}}.
func (e Expiration) MarshalJSON() ([]byte, error) {
	var out expirationJSON
	switch e.kind() {
	case ExpiresAtHeight:
		h := e.Height
		out.AtHeight = &h
	case ExpiresAtTime:
		t := e.Time.UTC()
		out.AtTime = &t
	default:
		out.Never = &struct{}{}
	}
	return json.Marshal(out)
}

func (e *Expiration) UnmarshalJSON(b []byte) error {
	var in expirationJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return fmt.Errorf("decode expiration: %w", err)
	}
	set := 0
	if in.AtHeight != nil {
		*e = AtHeight(*in.AtHeight)
		set++
	}
	if in.AtTime != nil {
		*e = AtTime(*in.AtTime)
		set++
	}
	if in.Never != nil {
		*e = Never()
		set++
	}
	if set != 1 {
		return fmt.Errorf("decode expiration: exactly one of at_height, at_time, never is required")
	}
	return nil
}

// Approval 资产注册方授予 spender 的转移授权
type Approval struct {
	Spender string     `json:"spender"`
	Expires Expiration `json:"expires"`
}

// Equal is the exact structural match used by the marketplace approval check.
func (a Approval) Equal(o Approval) bool {
	return a.Spender == o.Spender && a.Expires.Equal(o.Expires)
}
