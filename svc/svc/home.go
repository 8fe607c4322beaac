package svc

import (
	"context"
	"strings"

	"github.com/YanivGeorgePerez/dapim/cfg"
	"github.com/YanivGeorgePerez/dapim/metrics"
	"github.com/YanivGeorgePerez/dapim/pkg/domain"
	"github.com/YanivGeorgePerez/dapim/svc/cache"
	"github.com/YanivGeorgePerez/dapim/svc/db"
	"golang.org/x/sync/singleflight"
)

// Home produces the enriched homepage listing. The no-query listing goes
// through the single cache slot; search results never do, so a stale search
// can't be served from a cached full listing and vice versa.
type Home struct {
	db   *db.SQLite
	slot *cache.HomeSlot
	cfg  *cfg.Cfg
	sf   singleflight.Group
}

func NewHome(sqlDB *db.SQLite, slot *cache.HomeSlot, c *cfg.Cfg) *Home {
	if sqlDB == nil || slot == nil || c == nil {
		panic("home service: nil dependency (sqlDB, slot, or cfg)")
	}
	return &Home{db: sqlDB, slot: slot, cfg: c}
}

// Listings returns pastes joined with author color, newest first. An empty
// query serves the cached homepage slot when fresh; concurrent misses
// collapse into one recompute.
func (h *Home) Listings(ctx context.Context, query string) ([]domain.PasteListing, error) {
	query = strings.TrimSpace(query)
	if query != "" {
		return h.db.ListWithAuthor(ctx, query, h.cfg.HomePageSize, h.cfg.NeutralColor)
	}
	if listings, ok := h.slot.Get(); ok {
		metrics.HomeCacheHits.Inc()
		return listings, nil
	}
	metrics.HomeCacheMisses.Inc()
	v, err, _ := h.sf.Do("home", func() (interface{}, error) {
		listings, err := h.db.ListWithAuthor(ctx, "", h.cfg.HomePageSize, h.cfg.NeutralColor)
		if err != nil {
			return nil, err
		}
		h.slot.Set(listings)
		return listings, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.PasteListing), nil
}

func (h *Home) Invalidate() {
	h.slot.Invalidate()
}
