package engine

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/soundcord/soundcord/internal/core"
	"github.com/soundcord/soundcord/internal/domain"
)

// Hub fans session notifications out to per-room subscribers. Delivery is
// best-effort towards slow subscribers: a full subscriber buffer drops the
// notification for that subscriber rather than stalling a relay loop.
type Hub struct {
	mu   sync.RWMutex
	subs map[domain.RoomID]map[int]chan core.Notification
	next int
}

func NewHub() *Hub {
	return &Hub{subs: make(map[domain.RoomID]map[int]chan core.Notification)}
}

// Subscribe returns a channel of notifications for one room and a cancel
// func that must be called when the subscriber goes away.
func (h *Hub) Subscribe(room domain.RoomID) (<-chan core.Notification, func()) {
	ch := make(chan core.Notification, 16)

	h.mu.Lock()
	id := h.next
	h.next++
	if h.subs[room] == nil {
		h.subs[room] = make(map[int]chan core.Notification)
	}
	h.subs[room][id] = ch
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if roomSubs, ok := h.subs[room]; ok {
			if _, ok := roomSubs[id]; ok {
				delete(roomSubs, id)
				close(ch)
				if len(roomSubs) == 0 {
					delete(h.subs, room)
				}
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

func (h *Hub) Publish(n core.Notification) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs[n.Room] {
		select {
		case ch <- n:
		default:
			log.Warn().
				Str("module", "engine.hub").
				Str("room", string(n.Room)).
				Str("kind", n.Kind.String()).
				Msg("slow notification subscriber, dropping")
		}
	}
}
