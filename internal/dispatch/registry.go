package dispatch

import (
	"sync"

	"hookbridge/internal/domain"
	"hookbridge/internal/metrics"
)

// Registry holds the currently connected bots in registration order.
type Registry struct {
	mu   sync.RWMutex
	bots []domain.Bot
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers a connected bot. A bot with the same name replaces the old one.
func (r *Registry) Add(b domain.Bot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.bots {
		if existing.Name() == b.Name() {
			r.bots[i] = b
			return
		}
	}
	r.bots = append(r.bots, b)
	metrics.ConnectedBots.Set(int64(len(r.bots)))
}

// Remove drops the bot with the given name, if present.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, b := range r.bots {
		if b.Name() == name {
			r.bots = append(r.bots[:i], r.bots[i+1:]...)
			break
		}
	}
	metrics.ConnectedBots.Set(int64(len(r.bots)))
}

// Bots returns a snapshot of the connected bots.
func (r *Registry) Bots() []domain.Bot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Bot, len(r.bots))
	copy(out, r.bots)
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bots)
}
