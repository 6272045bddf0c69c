package syncgroup

import (
	"sync"
)

// SyncGroup 是 sync.WaitGroup 的包装器，简化后台 goroutine 生命周期管理。
// 自动管理 Add() 和 Done()，并记录每个 goroutine 的名字，方便关闭时排查卡住的任务。
type SyncGroup struct {
	wg sync.WaitGroup

	mu      sync.Mutex
	running map[string]int
}

// NewSyncGroup 创建新的 SyncGroup
func NewSyncGroup() *SyncGroup {
	return &SyncGroup{running: make(map[string]int)}
}

// Go 以 name 启动一个 goroutine
func (g *SyncGroup) Go(name string, fn func()) {
	if fn == nil {
		return
	}
	g.mu.Lock()
	g.running[name]++
	g.mu.Unlock()

	g.wg.Add(1)
	go func() {
		defer func() {
			g.mu.Lock()
			if g.running[name]--; g.running[name] <= 0 {
				delete(g.running, name)
			}
			g.mu.Unlock()
			g.wg.Done()
		}()
		fn()
	}()
}

// Wait 等待所有 goroutine 完成
func (g *SyncGroup) Wait() {
	g.wg.Wait()
}

// WaitC 返回一个在全部 goroutine 完成后关闭的 channel，便于和 context 一起 select
func (g *SyncGroup) WaitC() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	return done
}

// Running 返回仍在运行的 goroutine 名字及数量
func (g *SyncGroup) Running() map[string]int {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]int, len(g.running))
	for k, v := range g.running {
		out[k] = v
	}
	return out
}
