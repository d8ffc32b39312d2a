package environment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"gorm.io/gorm"
)

// Store persists environment records.
type Store interface {
	Create(ctx context.Context, env *Environment) error
	Get(ctx context.Context, id string) (*Environment, error)
	GetByName(ctx context.Context, name string) (*Environment, error)
	List(ctx context.Context) ([]*Environment, error)
	Delete(ctx context.Context, id string) error
}

// =============================================================================
// 🗄️ GORM 存储
// =============================================================================

// GormStore keeps environments in the environments table.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a store over db. The schema comes from the
// migrations package.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Create(ctx context.Context, env *Environment) error {
	if _, err := s.GetByName(ctx, env.Name); err == nil {
		return fmt.Errorf("%w: %s", ErrExists, env.Name)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	if err := s.db.WithContext(ctx).Create(env).Error; err != nil {
		return fmt.Errorf("create environment: %w", err)
	}
	return nil
}

func (s *GormStore) Get(ctx context.Context, id string) (*Environment, error) {
	return s.first(ctx, "id = ?", id)
}

func (s *GormStore) GetByName(ctx context.Context, name string) (*Environment, error) {
	return s.first(ctx, "name = ?", name)
}

func (s *GormStore) first(ctx context.Context, query string, arg string) (*Environment, error) {
	var env Environment
	err := s.db.WithContext(ctx).Where(query, arg).First(&env).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, arg)
	}
	if err != nil {
		return nil, fmt.Errorf("query environment: %w", err)
	}
	return &env, nil
}

func (s *GormStore) List(ctx context.Context) ([]*Environment, error) {
	var envs []*Environment
	if err := s.db.WithContext(ctx).Order("name").Find(&envs).Error; err != nil {
		return nil, fmt.Errorf("list environments: %w", err)
	}
	return envs, nil
}

func (s *GormStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&Environment{})
	if res.Error != nil {
		return fmt.Errorf("delete environment: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// =============================================================================
// 🧠 内存存储
// =============================================================================

// MemoryStore keeps environments in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	envs map[string]*Environment
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{envs: make(map[string]*Environment)}
}

func (s *MemoryStore) Create(_ context.Context, env *Environment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.envs {
		if e.Name == env.Name {
			return fmt.Errorf("%w: %s", ErrExists, env.Name)
		}
	}
	if _, ok := s.envs[env.ID]; ok {
		return fmt.Errorf("%w: %s", ErrExists, env.ID)
	}
	cp := *env
	s.envs[env.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Environment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.envs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) GetByName(_ context.Context, name string) (*Environment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.envs {
		if e.Name == name {
			cp := *e
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

func (s *MemoryStore) List(_ context.Context) ([]*Environment, error) {
	s.mu.RLock()
	out := make([]*Environment, 0, len(s.envs))
	for _, e := range s.envs {
		cp := *e
		out = append(out, &cp)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.envs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.envs, id)
	return nil
}
