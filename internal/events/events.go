package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/betbot/nftmarket/internal/domain"
)

// Kind 事件类型
type Kind string

const (
	KindSettlement Kind = "settlement"
	KindCritical   Kind = "critical"
)

// Event is what subscribers receive. Settlement carries a committed request;
// Critical reports a failure that left external state needing manual attention.
type Event struct {
	Kind       Kind               `json:"kind"`
	RequestID  string             `json:"request_id"`
	Action     string             `json:"action,omitempty"`
	AssetID    string             `json:"asset_id,omitempty"`
	Sender     string             `json:"sender,omitempty"`
	Block      *domain.BlockInfo  `json:"block,omitempty"`
	Attributes []domain.Attribute `json:"attributes,omitempty"`
	Effects    []domain.Effect    `json:"effects,omitempty"`
	Error      string             `json:"error,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
}

// Publisher is the write side of the hub.
type Publisher interface {
	Publish(ev Event)
}

// Hub fans events out to subscribers. Publish never blocks: a subscriber whose
// buffer is full misses the event and the drop is counted.
type Hub struct {
	mu      sync.RWMutex
	nextID  int
	subs    map[int]chan Event
	dropped atomic.Int64
	closed  bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Subscribe returns a channel of events and a cancel func that closes it.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
}

func (h *Hub) Publish(ev Event) {
	if h == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribers 当前订阅数
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Close closes every subscriber channel; later subscriptions get a closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
}

var _ Publisher = (*Hub)(nil)
