package execution

import (
	"errors"
	"hash/fnv"
	"sync"
	"time"
)

// ErrDuplicateInFlight 表示同一幂等 key 的请求仍在执行中。
var ErrDuplicateInFlight = errors.New("duplicate in-flight")

// InFlightDeduper 按幂等 key 做确定性去重（不允许误判，所以不用 bitset）。
//
// 一个 key 的生命周期：
//   - TryAcquire 成功 -> in-flight，重复提交返回 ErrDuplicateInFlight
//   - Complete -> 在 TTL 内重放已提交的结果
//   - Release -> 失败后立即允许重试
type InFlightDeduper struct {
	ttl    time.Duration
	now    func() time.Time
	shards []inFlightShard
}

type inFlightShard struct {
	mu sync.Mutex
	m  map[string]inFlightEntry
}

type inFlightEntry struct {
	expiresAt time.Time
	result    *Result // nil while in flight
}

// NewInFlightDeduper 创建去重器。ttl 是已完成结果的保留时间，也是 in-flight 令牌的兜底过期时间。
func NewInFlightDeduper(ttl time.Duration, shardCount int) *InFlightDeduper {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if shardCount <= 0 {
		shardCount = 64
	}
	shards := make([]inFlightShard, shardCount)
	for i := range shards {
		shards[i].m = make(map[string]inFlightEntry)
	}
	return &InFlightDeduper{ttl: ttl, now: time.Now, shards: shards}
}

// TryAcquire 尝试获取 key 的令牌。
//   - (nil, nil): 获取成功，调用方负责 Complete 或 Release
//   - (res, nil): key 已完成，res 是之前的结果
//   - (nil, ErrDuplicateInFlight): 仍在执行
func (d *InFlightDeduper) TryAcquire(key string) (*Result, error) {
	if d == nil || key == "" {
		return nil, nil
	}
	now := d.now()
	sh := d.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	// 惰性清理：仅清理本 shard
	for k, e := range sh.m {
		if !e.expiresAt.After(now) {
			delete(sh.m, k)
		}
	}

	if e, ok := sh.m[key]; ok {
		if e.result != nil {
			replay := *e.result
			replay.Replayed = true
			return &replay, nil
		}
		return nil, ErrDuplicateInFlight
	}
	sh.m[key] = inFlightEntry{expiresAt: now.Add(d.ttl)}
	return nil, nil
}

// Complete records the committed result for key so retries replay it.
func (d *InFlightDeduper) Complete(key string, res *Result) {
	if d == nil || key == "" || res == nil {
		return
	}
	sh := d.shard(key)
	sh.mu.Lock()
	sh.m[key] = inFlightEntry{expiresAt: d.now().Add(d.ttl), result: res}
	sh.mu.Unlock()
}

// Release 提前释放 key（失败的请求允许立即重试）。
func (d *InFlightDeduper) Release(key string) {
	if d == nil || key == "" {
		return
	}
	sh := d.shard(key)
	sh.mu.Lock()
	delete(sh.m, key)
	sh.mu.Unlock()
}

func (d *InFlightDeduper) shard(key string) *inFlightShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	idx := int(h.Sum32() % uint32(len(d.shards)))
	return &d.shards[idx]
}
