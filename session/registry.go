package session

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var idRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]{0,127}$`)

// ValidID reports whether id is acceptable as a session identifier.
func ValidID(id string) bool {
	return idRe.MatchString(id)
}

// Registry owns the registered sessions. Store writes are best-effort:
// failures are logged and never surface to callers.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	store    Store
	logger   *zap.Logger
	now      func() time.Time
}

// NewRegistry creates a registry mirrored to store (nil: memory only).
func NewRegistry(store Store, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		store:    store,
		logger:   logger.With(zap.String("component", "session_registry")),
		now:      time.Now,
	}
}

// Register adds a new session. An empty id gets a generated one. An id that
// is still registered is rejected with ErrSessionExists.
func (r *Registry) Register(ctx context.Context, id, environmentID, notes string) (*Session, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if !ValidID(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	r.mu.Lock()
	if _, ok := r.sessions[id]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, id)
	}
	now := r.now()
	s := &Session{
		ID:            id,
		EnvironmentID: environmentID,
		Status:        StatusActive,
		StartedAt:     now,
		LastActivity:  now,
		Notes:         notes,
	}
	r.sessions[id] = s
	snapshot := s.Clone()
	r.mu.Unlock()

	r.persist(ctx, snapshot)
	r.logger.Info("session registered",
		zap.String("session_id", id),
		zap.String("environment_id", environmentID))
	return snapshot, nil
}

// Ensure returns the registered session, registering it when absent.
func (r *Registry) Ensure(ctx context.Context, id, environmentID string) (*Session, bool, error) {
	if s, ok := r.Get(id); ok {
		return s, false, nil
	}
	s, err := r.Register(ctx, id, environmentID, "")
	if err != nil {
		// lost a registration race
		if existing, ok := r.Get(id); ok {
			return existing, false, nil
		}
		return nil, false, err
	}
	return s, true, nil
}

// Get returns a copy of the session.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// List returns copies of all sessions ordered by start time.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// MarkBusy flags the session as executing.
func (r *Registry) MarkBusy(ctx context.Context, id string) error {
	return r.update(ctx, id, func(s *Session) {
		s.Status = StatusBusy
		s.LastActivity = r.now()
	})
}

// MarkIdle records the end of an execution.
func (r *Registry) MarkIdle(ctx context.Context, id string, success bool) error {
	return r.update(ctx, id, func(s *Session) {
		s.Status = StatusActive
		s.Success = success
		s.Executions++
		s.LastActivity = r.now()
	})
}

// BindEnvironment records the environment the session's namespace was
// created against.
func (r *Registry) BindEnvironment(ctx context.Context, id, environmentID string) error {
	return r.update(ctx, id, func(s *Session) { s.EnvironmentID = environmentID })
}

// SetNotes replaces the free-text notes.
func (r *Registry) SetNotes(ctx context.Context, id, notes string) error {
	return r.update(ctx, id, func(s *Session) { s.Notes = notes })
}

// Remove terminates and unregisters the session. The returned copy carries
// the terminal status and end time.
func (r *Registry) Remove(ctx context.Context, id string) (*Session, bool) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
		now := r.now()
		s.Status = StatusTerminated
		s.EndedAt = &now
	}
	r.mu.Unlock()
	if !ok {
		return nil, false
	}

	if r.store != nil {
		if err := r.store.Delete(ctx, id); err != nil {
			r.logger.Warn("session store delete failed", zap.String("session_id", id), zap.Error(err))
		}
	}
	r.logger.Info("session removed", zap.String("session_id", id))
	return s.Clone(), true
}

// Restore loads sessions from the store. Restored sessions come back
// Active; a namespace is provisioned again on first execution.
func (r *Registry) Restore(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}
	stored, err := r.store.Load(ctx)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	n := 0
	for _, s := range stored {
		if _, ok := r.sessions[s.ID]; ok || !ValidID(s.ID) {
			continue
		}
		s.Status = StatusActive
		s.EndedAt = nil
		r.sessions[s.ID] = s
		n++
	}
	r.mu.Unlock()

	r.logger.Info("sessions restored", zap.Int("count", n))
	return n, nil
}

func (r *Registry) update(ctx context.Context, id string, fn func(*Session)) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	fn(s)
	snapshot := s.Clone()
	r.mu.Unlock()

	r.persist(ctx, snapshot)
	return nil
}

func (r *Registry) persist(ctx context.Context, s *Session) {
	if r.store == nil {
		return
	}
	if err := r.store.Save(ctx, s); err != nil {
		r.logger.Warn("session store save failed", zap.String("session_id", s.ID), zap.Error(err))
	}
}
