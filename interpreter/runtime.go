package interpreter

import (
	"errors"
	"sync"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
	"go.uber.org/zap"
)

// ErrEmptySessionID is returned by CreateScope for a blank identifier.
var ErrEmptySessionID = errors.New("session id is required")

// Options configures a Runtime.
type Options struct {
	// GIL to serialize on. Defaults to Global().
	GIL *GIL
	// MaxSteps caps evaluation steps per call; 0 means unlimited.
	MaxSteps uint64
	// Builtins are predeclared in every namespace next to the defaults.
	Builtins starlark.StringDict
	Logger   *zap.Logger
}

// Runtime owns the per-session namespaces and the dialect options shared by
// all of them.
type Runtime struct {
	gil         *GIL
	opts        Options
	fileOptions *syntax.FileOptions
	builtins    starlark.StringDict
	logger      *zap.Logger

	mu     sync.RWMutex
	scopes map[string]*Scope
}

// NewRuntime creates a runtime with no scopes.
func NewRuntime(opts Options) *Runtime {
	if opts.GIL == nil {
		opts.GIL = Global()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	builtins := baseBuiltins()
	for k, v := range opts.Builtins {
		builtins[k] = v
	}
	builtins.Freeze()

	return &Runtime{
		gil:  opts.GIL,
		opts: opts,
		fileOptions: &syntax.FileOptions{
			Set:             true,
			While:           true,
			TopLevelControl: true,
			GlobalReassign:  true,
			Recursion:       true,
		},
		builtins: builtins,
		logger:   opts.Logger.With(zap.String("component", "interpreter")),
		scopes:   make(map[string]*Scope),
	}
}

// GIL returns the lock guarding every scope of this runtime.
func (r *Runtime) GIL() *GIL { return r.gil }

// GetScope returns the scope for sessionID or nil when none is provisioned.
func (r *Runtime) GetScope(sessionID string) *Scope {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.scopes[sessionID]
}

// CreateScope provisions an empty namespace for sessionID. Creating a scope
// that already exists succeeds and keeps the existing bindings.
func (r *Runtime) CreateScope(sessionID string, env Environment) (*Scope, error) {
	if sessionID == "" {
		return nil, ErrEmptySessionID
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.scopes[sessionID]; ok {
		return s, nil
	}

	s := &Scope{
		id:      sessionID,
		env:     env,
		rt:      r,
		globals: make(starlark.StringDict),
		modules: make(map[string]*loadEntry),
		created: time.Now(),
	}
	r.scopes[sessionID] = s

	r.logger.Debug("scope created",
		zap.String("session_id", sessionID),
		zap.String("environment_id", env.ID))
	return s, nil
}

// DropScope discards the namespace of sessionID. It reports whether a scope
// existed.
func (r *Runtime) DropScope(sessionID string) bool {
	r.mu.Lock()
	_, ok := r.scopes[sessionID]
	delete(r.scopes, sessionID)
	r.mu.Unlock()

	if ok {
		r.logger.Debug("scope dropped", zap.String("session_id", sessionID))
	}
	return ok
}

// ScopeCount returns the number of provisioned scopes.
func (r *Runtime) ScopeCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.scopes)
}

// Compile parses and resolves code without running it.
func (r *Runtime) Compile(filename, code string) error {
	f, err := r.fileOptions.Parse(filename, code, 0)
	if err != nil {
		return err
	}
	_, err = starlark.FileProgram(f, r.builtins.Has)
	return err
}
