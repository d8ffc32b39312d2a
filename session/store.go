package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/BaSui01/pyhost/internal/cache"
)

// Store mirrors session metadata outside the process. Execution history is
// not persisted.
type Store interface {
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
	Load(ctx context.Context) ([]*Session, error)
}

// MemoryStore keeps sessions in a map.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]*Session
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]*Session)}
}

func (m *MemoryStore) Save(_ context.Context, s *Session) error {
	m.mu.Lock()
	m.data[s.ID] = s.Clone()
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.data, id)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Load(_ context.Context) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.data))
	for _, s := range m.data {
		out = append(out, s.Clone())
	}
	return out, nil
}

const (
	redisIndexKey  = "sessions"
	redisKeyPrefix = "session:"
)

// RedisStore stores each session as a JSON value with a set as index.
type RedisStore struct {
	cache *cache.Manager
}

// NewRedisStore wraps a connected cache manager.
func NewRedisStore(m *cache.Manager) *RedisStore {
	return &RedisStore{cache: m}
}

func (r *RedisStore) Save(ctx context.Context, s *Session) error {
	if err := r.cache.SetJSON(ctx, redisKeyPrefix+s.ID, s, 0); err != nil {
		return fmt.Errorf("save session %s: %w", s.ID, err)
	}
	if err := r.cache.AddToSet(ctx, redisIndexKey, s.ID); err != nil {
		return fmt.Errorf("index session %s: %w", s.ID, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if err := r.cache.Delete(ctx, redisKeyPrefix+id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return r.cache.RemoveFromSet(ctx, redisIndexKey, id)
}

// Load returns every indexed session. Index entries whose value has gone
// are pruned.
func (r *RedisStore) Load(ctx context.Context) ([]*Session, error) {
	ids, err := r.cache.SetMembers(ctx, redisIndexKey)
	if err != nil {
		return nil, fmt.Errorf("load session index: %w", err)
	}
	out := make([]*Session, 0, len(ids))
	var stale []string
	for _, id := range ids {
		var s Session
		if err := r.cache.GetJSON(ctx, redisKeyPrefix+id, &s); err != nil {
			if errors.Is(err, cache.ErrCacheMiss) {
				stale = append(stale, id)
				continue
			}
			return nil, fmt.Errorf("load session %s: %w", id, err)
		}
		out = append(out, &s)
	}
	if len(stale) > 0 {
		_ = r.cache.RemoveFromSet(ctx, redisIndexKey, stale...)
	}
	return out, nil
}
