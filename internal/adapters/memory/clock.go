package memory

import (
	"context"
	"sync"
	"time"

	"github.com/betbot/nftmarket/internal/domain"
	"github.com/betbot/nftmarket/internal/ports"
)

// Clock is a manually driven block clock.
type Clock struct {
	mu    sync.Mutex
	block domain.BlockInfo
}

func NewClock(height uint64, t time.Time) *Clock {
	return &Clock{block: domain.BlockInfo{Height: height, Time: t.UTC()}}
}

func (c *Clock) Block(context.Context) (domain.BlockInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.block, nil
}

// Advance moves the clock forward by blocks and d.
func (c *Clock) Advance(blocks uint64, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.block.Height += blocks
	c.block.Time = c.block.Time.Add(d)
}

func (c *Clock) Set(b domain.BlockInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.block = b
}

// WallClock derives the block from wall time: one block per BlockTime since Genesis.
type WallClock struct {
	Genesis   time.Time
	BlockTime time.Duration
	Now       func() time.Time
}

func (c WallClock) Block(context.Context) (domain.BlockInfo, error) {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	t := now().UTC()
	var h uint64
	if c.BlockTime > 0 && t.After(c.Genesis) {
		h = uint64(t.Sub(c.Genesis) / c.BlockTime)
	}
	return domain.BlockInfo{Height: h, Time: t}, nil
}

var (
	_ ports.Clock = (*Clock)(nil)
	_ ports.Clock = WallClock{}
)
