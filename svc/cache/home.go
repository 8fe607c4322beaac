package cache

import (
	"sync"
	"time"

	"github.com/YanivGeorgePerez/dapim/pkg/domain"
)

// HomeSlot is the single-entry cache for the no-query homepage listing.
// There is exactly one slot; a store replaces whatever was there before
// (last writer wins), and Invalidate clears it so a freshly created paste
// shows up without waiting out the TTL.
type HomeSlot struct {
	mu         sync.Mutex
	ttl        time.Duration
	producedAt time.Time
	listings   []domain.PasteListing
	valid      bool
}

func NewHomeSlot(ttl time.Duration) *HomeSlot {
	return &HomeSlot{ttl: ttl}
}

// Get returns the cached listings if the slot is filled and within TTL.
func (h *HomeSlot) Get() ([]domain.PasteListing, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.valid || time.Since(h.producedAt) >= h.ttl {
		return nil, false
	}
	return h.listings, true
}

func (h *HomeSlot) Set(listings []domain.PasteListing) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.producedAt = time.Now()
	h.listings = listings
	h.valid = true
}

func (h *HomeSlot) Invalidate() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.valid = false
	h.listings = nil
}
