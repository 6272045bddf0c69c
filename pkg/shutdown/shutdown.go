package shutdown

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/betbot/nftmarket/pkg/logger"
)

// Handler 关闭处理函数。返回错误只用于日志，不会中断其它回调。
type Handler func(ctx context.Context) error

type hook struct {
	name    string
	stage   int
	handler Handler
}

// Manager 优雅关闭管理器。回调按 stage 从小到大分批执行，同一 stage 内并发。
// 例如：stage 0 停止接收请求，stage 1 排空执行队列，stage 2 关闭存储。
type Manager struct {
	hooks []hook
	mu    sync.Mutex
}

// NewManager 创建新的关闭管理器
func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown 注册关闭回调
func (m *Manager) OnShutdown(name string, stage int, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook{name: name, stage: stage, handler: handler})
}

// Shutdown 执行所有关闭回调（阻塞调用）。
// ctx 应该是一个带超时的 context，避免无限等待；超时后剩余 stage 不再执行。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	hooks := append([]hook(nil), m.hooks...)
	m.mu.Unlock()

	if len(hooks) == 0 {
		logger.Info("no shutdown hooks registered")
		return nil
	}

	stages := map[int][]hook{}
	order := []int{}
	for _, h := range hooks {
		if _, ok := stages[h.stage]; !ok {
			order = append(order, h.stage)
		}
		stages[h.stage] = append(stages[h.stage], h)
	}
	sort.Ints(order)

	logger.Infof("graceful shutdown: %d hooks in %d stages", len(hooks), len(order))
	start := time.Now()

	for _, stage := range order {
		if err := runStage(ctx, stages[stage]); err != nil {
			logger.Warnf("shutdown timed out at stage %d: %v", stage, err)
			return err
		}
	}
	logger.Infof("shutdown complete in %s", time.Since(start).Round(time.Millisecond))
	return nil
}

func runStage(ctx context.Context, hooks []hook) error {
	var wg sync.WaitGroup
	wg.Add(len(hooks))
	for _, h := range hooks {
		go func(h hook) {
			defer wg.Done()
			if err := h.handler(ctx); err != nil {
				logger.Errorf("shutdown hook %s failed: %v", h.name, err)
				return
			}
			logger.Debugf("shutdown hook %s done", h.name)
		}(h)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
