package ratelimit

import (
	"context"
	"sync"
	"time"
)

// RateLimiter 速率限制器接口
type RateLimiter interface {
	Wait(ctx context.Context) error
	Allow() bool
	GetRemaining() int
	GetResetTime() time.Time
}

// TokenBucket 令牌桶速率限制器
type TokenBucket struct {
	capacity   float64 // 桶容量
	tokens     float64 // 当前令牌数
	refillRate float64 // 每秒补充的令牌数
	lastRefill time.Time
	now        func() time.Time
	mu         sync.Mutex
}

// NewTokenBucket 创建新的令牌桶，初始为满桶
func NewTokenBucket(capacity int, refillRate float64) *TokenBucket {
	return newTokenBucket(capacity, refillRate, time.Now)
}

func newTokenBucket(capacity int, refillRate float64, now func() time.Time) *TokenBucket {
	if capacity < 1 {
		capacity = 1
	}
	return &TokenBucket{
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		refillRate: refillRate,
		lastRefill: now(),
		now:        now,
	}
}

// refill 按经过的时间补充令牌（允许小数，低速率下也能逐步恢复）
func (tb *TokenBucket) refill() time.Time {
	now := tb.now()
	elapsed := now.Sub(tb.lastRefill)
	if elapsed > 0 {
		tb.tokens = min(tb.capacity, tb.tokens+elapsed.Seconds()*tb.refillRate)
		tb.lastRefill = now
	}
	return now
}

// Allow 检查是否允许请求
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

// Wait 等待直到允许请求
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		if tb.Allow() {
			return nil
		}

		tb.mu.Lock()
		wait := tb.untilNextLocked()
		tb.mu.Unlock()
		if wait <= 0 {
			wait = time.Second
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (tb *TokenBucket) untilNextLocked() time.Duration {
	if tb.refillRate <= 0 {
		return 0
	}
	missing := 1 - tb.tokens
	if missing <= 0 {
		return 0
	}
	return time.Duration(missing / tb.refillRate * float64(time.Second))
}

// GetRemaining 获取剩余令牌数
func (tb *TokenBucket) GetRemaining() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	return int(tb.tokens)
}

// GetResetTime 获取下一个令牌可用的时间
func (tb *TokenBucket) GetResetTime() time.Time {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	now := tb.refill()
	return now.Add(tb.untilNextLocked())
}

// KeyedLimiter 按 key（通常是 sender 地址）各自维护一个令牌桶
type KeyedLimiter struct {
	rate     float64
	burst    int
	now      func() time.Time
	mu       sync.Mutex
	limiters map[string]*TokenBucket
	lastSeen map[string]time.Time
}

// NewKeyedLimiter rate 为每秒请求数，burst 为桶容量
func NewKeyedLimiter(rate float64, burst int) *KeyedLimiter {
	return newKeyedLimiter(rate, burst, time.Now)
}

func newKeyedLimiter(rate float64, burst int, now func() time.Time) *KeyedLimiter {
	return &KeyedLimiter{
		rate:     rate,
		burst:    burst,
		now:      now,
		limiters: make(map[string]*TokenBucket),
		lastSeen: make(map[string]time.Time),
	}
}

// GetLimiter 获取 key 对应的限制器，不存在时创建
func (kl *KeyedLimiter) GetLimiter(key string) RateLimiter {
	return kl.bucket(key)
}

func (kl *KeyedLimiter) bucket(key string) *TokenBucket {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	tb, ok := kl.limiters[key]
	if !ok {
		tb = newTokenBucket(kl.burst, kl.rate, kl.now)
		kl.limiters[key] = tb
	}
	kl.lastSeen[key] = kl.now()
	return tb
}

// Allow 检查 key 是否允许请求
func (kl *KeyedLimiter) Allow(key string) bool {
	return kl.bucket(key).Allow()
}

// Wait 等待 key 的令牌
func (kl *KeyedLimiter) Wait(ctx context.Context, key string) error {
	return kl.bucket(key).Wait(ctx)
}

// GetRemaining 获取 key 的剩余令牌数
func (kl *KeyedLimiter) GetRemaining(key string) int {
	return kl.bucket(key).GetRemaining()
}

// Prune 删除超过 idle 未出现的 key，返回删除数量
func (kl *KeyedLimiter) Prune(idle time.Duration) int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	now := kl.now()
	removed := 0
	for key, seen := range kl.lastSeen {
		if now.Sub(seen) >= idle {
			delete(kl.lastSeen, key)
			delete(kl.limiters, key)
			removed++
		}
	}
	return removed
}

// Len 当前跟踪的 key 数量
func (kl *KeyedLimiter) Len() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return len(kl.limiters)
}
