package risk

import (
	"errors"
	"sync/atomic"
	"time"
)

// ErrCircuitBreakerOpen 表示断路器已打开，拒绝继续结算。
var ErrCircuitBreakerOpen = errors.New("circuit breaker open")

// CircuitBreakerConfig 断路器配置。
// 约定：阈值 <= 0 表示关闭对应限制。
type CircuitBreakerConfig struct {
	// MaxConsecutiveFailures 连续执行失败上限（effect 失败 / commit 失败）。
	MaxConsecutiveFailures int64
	// Cooldown 自动熔断后多久允许半开重试；0 表示只能手动 Resume。
	Cooldown time.Duration
}

// CircuitBreaker guards the settlement path. Rejections are not failures: only
// effect execution, commit and compensation errors count.
type CircuitBreaker struct {
	halted   atomic.Bool
	manual   atomic.Bool
	haltedAt atomic.Int64 // unix nano

	consecutiveFailures atomic.Int64
	trips               atomic.Int64

	maxConsecutiveFailures atomic.Int64
	cooldown               atomic.Int64

	now func() time.Time
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{now: time.Now}
	cb.SetConfig(cfg)
	return cb
}

func (cb *CircuitBreaker) SetConfig(cfg CircuitBreakerConfig) {
	if cb == nil {
		return
	}
	cb.maxConsecutiveFailures.Store(cfg.MaxConsecutiveFailures)
	cb.cooldown.Store(int64(cfg.Cooldown))
}

// Halt 手动熔断（人工介入或补偿失败）。手动熔断不会被 cooldown 自动恢复。
func (cb *CircuitBreaker) Halt() {
	if cb == nil {
		return
	}
	cb.manual.Store(true)
	cb.trip()
}

// Resume 手动恢复（会同时清空连续失败计数）。
func (cb *CircuitBreaker) Resume() {
	if cb == nil {
		return
	}
	cb.manual.Store(false)
	cb.halted.Store(false)
	cb.consecutiveFailures.Store(0)
}

// Allow 快路径检查是否允许结算。
func (cb *CircuitBreaker) Allow() error {
	if cb == nil {
		return nil
	}
	if cb.halted.Load() {
		if cb.manual.Load() || !cb.cooledDown() {
			return ErrCircuitBreakerOpen
		}
		// 半开：放行一次，失败会立即再次熔断
		cb.halted.Store(false)
		if maxFail := cb.maxConsecutiveFailures.Load(); maxFail > 0 {
			cb.consecutiveFailures.Store(maxFail - 1)
		}
		return nil
	}
	maxFail := cb.maxConsecutiveFailures.Load()
	if maxFail > 0 && cb.consecutiveFailures.Load() >= maxFail {
		cb.trip()
		return ErrCircuitBreakerOpen
	}
	return nil
}

// OnSuccess 清空连续失败计数。
func (cb *CircuitBreaker) OnSuccess() {
	if cb == nil {
		return
	}
	cb.consecutiveFailures.Store(0)
}

// OnFailure 累计连续失败，达到阈值立即熔断。
func (cb *CircuitBreaker) OnFailure() {
	if cb == nil {
		return
	}
	n := cb.consecutiveFailures.Add(1)
	if maxFail := cb.maxConsecutiveFailures.Load(); maxFail > 0 && n >= maxFail {
		cb.trip()
	}
}

func (cb *CircuitBreaker) Halted() bool {
	return cb != nil && cb.halted.Load()
}

// Manual reports whether the breaker was halted by an operator.
func (cb *CircuitBreaker) Manual() bool {
	return cb != nil && cb.manual.Load()
}

// Trips returns how many times the breaker has opened.
func (cb *CircuitBreaker) Trips() int64 {
	if cb == nil {
		return 0
	}
	return cb.trips.Load()
}

func (cb *CircuitBreaker) trip() {
	if cb.halted.CompareAndSwap(false, true) {
		cb.trips.Add(1)
	}
	cb.haltedAt.Store(cb.now().UnixNano())
}

func (cb *CircuitBreaker) cooledDown() bool {
	d := time.Duration(cb.cooldown.Load())
	if d <= 0 {
		return false
	}
	return cb.now().Sub(time.Unix(0, cb.haltedAt.Load())) >= d
}
