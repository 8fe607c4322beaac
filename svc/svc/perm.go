package svc

import (
	"context"
	"sync"
	"time"

	"github.com/YanivGeorgePerez/dapim/pkg/domain"
	"github.com/YanivGeorgePerez/dapim/svc/db"
)

// HasPermission answers whether a group grants a permission string: a
// missing group denies, the wildcard grants everything, otherwise only an
// exact member matches. The check is a free function over already-fetched
// group data so the data model stays a plain value.
func HasPermission(group *domain.Group, permission string) bool {
	if group == nil {
		return false
	}
	for _, p := range group.Permissions {
		if p == domain.WildcardPermission || p == permission {
			return true
		}
	}
	return false
}

// Perm resolves principals' groups with a small TTL cache; the group table
// is tiny and changes only at seed time.
type Perm struct {
	db  *db.SQLite
	ttl time.Duration

	mu     sync.Mutex
	groups map[string]groupEntry
}

type groupEntry struct {
	group   *domain.Group
	fetched time.Time
}

func NewPerm(sqlDB *db.SQLite, ttl time.Duration) *Perm {
	return &Perm{
		db:     sqlDB,
		ttl:    ttl,
		groups: make(map[string]groupEntry),
	}
}

func (p *Perm) Group(ctx context.Context, name string) (*domain.Group, error) {
	p.mu.Lock()
	entry, ok := p.groups[name]
	p.mu.Unlock()
	if ok && time.Since(entry.fetched) < p.ttl {
		return entry.group, nil
	}
	g, err := p.db.GetGroup(ctx, name)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.groups[name] = groupEntry{group: g, fetched: time.Now()}
	p.mu.Unlock()
	return g, nil
}

// PrincipalHas resolves username's group and applies HasPermission.
// Unknown users and unknown groups deny.
func (p *Perm) PrincipalHas(ctx context.Context, username, permission string) (bool, error) {
	user, err := p.db.GetUser(ctx, username)
	if err != nil {
		if err == domain.ErrUserNotFound {
			return false, nil
		}
		return false, err
	}
	group, err := p.Group(ctx, user.Group)
	if err != nil {
		return false, err
	}
	return HasPermission(group, permission), nil
}
