// Package session maps opaque session identifiers to authenticated usernames.
// The default store lives in process memory and vanishes on restart; a
// Redis-backed store is available as a configuration choice for durability.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/YanivGeorgePerez/dapim/svc/db"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var ErrNoSession = errors.New("session not found")

type Store interface {
	// Create issues a fresh unguessable session id bound to username.
	Create(ctx context.Context, username string) (string, error)
	// Resolve returns the username for id, or ErrNoSession.
	Resolve(ctx context.Context, id string) (string, error)
	// Destroy removes id and reports whether it existed.
	Destroy(ctx context.Context, id string) (bool, error)
}

type Memory struct {
	mu       sync.RWMutex
	sessions map[string]string
}

func NewMemory() *Memory {
	return &Memory{sessions: make(map[string]string)}
}

func (m *Memory) Create(ctx context.Context, username string) (string, error) {
	id := uuid.New().String()
	m.mu.Lock()
	m.sessions[id] = username
	m.mu.Unlock()
	return id, nil
}

func (m *Memory) Resolve(ctx context.Context, id string) (string, error) {
	m.mu.RLock()
	username, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return "", ErrNoSession
	}
	return username, nil
}

func (m *Memory) Destroy(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	return ok, nil
}

// RedisStore keeps sessions in Redis so they survive process restarts.
// Entries expire server-side at the cookie max-age.
type RedisStore struct {
	rdb *db.Redis
	ttl time.Duration
}

func NewRedisStore(rdb *db.Redis, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (r *RedisStore) Create(ctx context.Context, username string) (string, error) {
	id := uuid.New().String()
	if err := r.rdb.SetSession(ctx, id, username, r.ttl); err != nil {
		return "", err
	}
	return id, nil
}

func (r *RedisStore) Resolve(ctx context.Context, id string) (string, error) {
	username, ok, err := r.rdb.GetSession(ctx, id)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNoSession
	}
	return username, nil
}

func (r *RedisStore) Destroy(ctx context.Context, id string) (bool, error) {
	return r.rdb.DelSession(ctx, id)
}
