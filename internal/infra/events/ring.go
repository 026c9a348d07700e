package events

import (
	"sync"

	"tg-rag-bot/internal/domain"
)

// Ring хранит последние N событий шины для панели управления.
type Ring struct {
	mu     sync.RWMutex
	buf    []domain.Event
	next   int
	filled bool
}

// NewRing создаёт буфер на capacity событий.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 256
	}
	return &Ring{buf: make([]domain.Event, capacity)}
}

// Add добавляет событие, вытесняя самое старое при переполнении.
func (r *Ring) Add(event domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = event
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.filled = true
	}
}

// Snapshot возвращает события от старых к новым.
func (r *Ring) Snapshot() []domain.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Event
	if r.filled {
		out = append(out, r.buf[r.next:]...)
	}
	out = append(out, r.buf[:r.next]...)
	return out
}
