package environment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/pyhost/interpreter"
	"github.com/BaSui01/pyhost/types"
)

// Compiler validates module source before it is installed.
type Compiler interface {
	Compile(filename, code string) error
}

// Config configures a Manager.
type Config struct {
	// Root holds the directories of environments created without a path.
	Root string `yaml:"root" json:"root"`
	// DefaultName is the environment sessions get when none is associated.
	DefaultName string `yaml:"default_name" json:"default_name"`
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		Root:        filepath.Join(os.TempDir(), "pyhost", "environments"),
		DefaultName: "default",
	}
}

// Manager owns environments and their modules.
type Manager struct {
	store    Store
	compiler Compiler
	config   Config
	logger   *zap.Logger

	// mu serializes creation so concurrent Default calls create one record.
	mu sync.Mutex
}

// NewManager creates a manager. compiler may be nil, in which case modules
// are installed without validation.
func NewManager(store Store, compiler Compiler, config Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil {
		store = NewMemoryStore()
	}
	d := DefaultConfig()
	if config.Root == "" {
		config.Root = d.Root
	}
	if config.DefaultName == "" {
		config.DefaultName = d.DefaultName
	}
	return &Manager{
		store:    store,
		compiler: compiler,
		config:   config,
		logger:   logger.With(zap.String("component", "environment")),
	}
}

// Create registers a new environment. An empty path places it under Root.
func (m *Manager) Create(ctx context.Context, name, path string) (*Environment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.create(ctx, name, path)
}

func (m *Manager) create(ctx context.Context, name, path string) (*Environment, error) {
	if !nameRe.MatchString(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if path == "" {
		path = filepath.Join(m.config.Root, name)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path %q: %w", path, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create environment directory: %w", err)
	}

	now := time.Now().UTC()
	env := &Environment{
		ID:          uuid.NewString(),
		Name:        name,
		Path:        abs,
		Interpreter: InterpreterStarlark,
		Status:      StatusReady,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.store.Create(ctx, env); err != nil {
		return nil, err
	}

	m.logger.Info("environment created",
		zap.String("environment_id", env.ID),
		zap.String("name", name),
		zap.String("path", abs))
	return env, nil
}

// Get returns the environment with the given ID.
func (m *Manager) Get(ctx context.Context, id string) (*Environment, error) {
	return m.store.Get(ctx, id)
}

// GetByName returns the environment with the given name.
func (m *Manager) GetByName(ctx context.Context, name string) (*Environment, error) {
	return m.store.GetByName(ctx, name)
}

// List returns every environment ordered by name.
func (m *Manager) List(ctx context.Context) ([]*Environment, error) {
	return m.store.List(ctx)
}

// Default returns the default environment, creating it on first use.
func (m *Manager) Default(ctx context.Context) (*Environment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	env, err := m.store.GetByName(ctx, m.config.DefaultName)
	if err == nil {
		return env, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return m.create(ctx, m.config.DefaultName, "")
}

// Delete removes the record and, with removeFiles, the directory. The
// default environment cannot be deleted.
func (m *Manager) Delete(ctx context.Context, id string, removeFiles bool) error {
	env, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if env.Name == m.config.DefaultName {
		return fmt.Errorf("%w: %s", ErrProtected, env.Name)
	}
	if err := m.store.Delete(ctx, id); err != nil {
		return err
	}
	if removeFiles {
		if err := os.RemoveAll(env.Path); err != nil {
			m.logger.Warn("environment directory not removed",
				zap.String("environment_id", id),
				zap.String("path", env.Path),
				zap.Error(err))
		}
	}
	m.logger.Info("environment deleted",
		zap.String("environment_id", id),
		zap.Bool("files_removed", removeFiles))
	return nil
}

// lookup accepts an ID or a name.
func (m *Manager) lookup(ctx context.Context, idOrName string) (*Environment, error) {
	if idOrName == "" || idOrName == m.config.DefaultName {
		return m.Default(ctx)
	}
	env, err := m.store.Get(ctx, idOrName)
	if errors.Is(err, ErrNotFound) {
		return m.store.GetByName(ctx, idOrName)
	}
	return env, err
}

// Resolve maps an environment ID or name ("" for the default) to the
// interpreter-side environment. Failures are reported as types.Error.
func (m *Manager) Resolve(ctx context.Context, idOrName string) (interpreter.Environment, error) {
	env, err := m.lookup(ctx, idOrName)
	if err != nil {
		return interpreter.Environment{}, AsTypesError(err)
	}
	if env.Status != StatusReady {
		return interpreter.Environment{}, types.NewError(types.ErrUnavailable,
			fmt.Sprintf("environment %s is %s", env.Name, env.Status)).
			WithHTTPStatus(types.HTTPStatusFor(types.ErrUnavailable))
	}
	return interpreter.Environment{ID: env.ID, Path: env.Path}, nil
}

// =============================================================================
// 📦 模块管理
// =============================================================================

// ListModules lists the .star modules of an environment.
func (m *Manager) ListModules(ctx context.Context, id string) ([]ModuleInfo, error) {
	env, err := m.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(env.Path)
	if err != nil {
		return nil, fmt.Errorf("read environment directory: %w", err)
	}

	modules := make([]ModuleInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !moduleRe.MatchString(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		modules = append(modules, ModuleInfo{Name: e.Name(), Size: info.Size(), ModifiedAt: info.ModTime()})
	}
	sort.Slice(modules, func(i, j int) bool { return modules[i].Name < modules[j].Name })
	return modules, nil
}

// InstallModule writes a module after checking that it parses and resolves.
// An existing module of the same name is replaced. Sessions that already
// loaded the old version keep it until their namespace is dropped.
func (m *Manager) InstallModule(ctx context.Context, id, name, source string) (*ModuleInfo, error) {
	if !moduleRe.MatchString(name) {
		return nil, fmt.Errorf("%w: name %q must look like name.star", ErrInvalidModule, name)
	}
	env, err := m.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.compiler != nil {
		if err := m.compiler.Compile(name, source); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidModule, strings.Join(interpreter.ErrorLines(err), "; "))
		}
	}

	target := filepath.Join(env.Path, name)
	tmp, err := os.CreateTemp(env.Path, "."+name+".*")
	if err != nil {
		return nil, fmt.Errorf("install module: %w", err)
	}
	if _, err := tmp.WriteString(source); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("install module: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("install module: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("install module: %w", err)
	}

	info, err := os.Stat(target)
	if err != nil {
		return nil, fmt.Errorf("install module: %w", err)
	}
	m.logger.Info("module installed",
		zap.String("environment_id", env.ID),
		zap.String("module", name),
		zap.Int64("size", info.Size()))
	return &ModuleInfo{Name: name, Size: info.Size(), ModifiedAt: info.ModTime()}, nil
}

// RemoveModule deletes an installed module.
func (m *Manager) RemoveModule(ctx context.Context, id, name string) error {
	if !moduleRe.MatchString(name) {
		return fmt.Errorf("%w: name %q must look like name.star", ErrInvalidModule, name)
	}
	env, err := m.lookup(ctx, id)
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(env.Path, name))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrModuleNotFound, name)
	}
	if err != nil {
		return fmt.Errorf("remove module: %w", err)
	}
	m.logger.Info("module removed",
		zap.String("environment_id", env.ID),
		zap.String("module", name))
	return nil
}

// AsTypesError maps package errors to API error codes. Errors that already
// are types.Error pass through.
func AsTypesError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := types.AsError(err); ok {
		return err
	}
	var code types.ErrorCode
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrModuleNotFound):
		code = types.ErrEnvironmentNotFound
	case errors.Is(err, ErrExists):
		code = types.ErrEnvironmentExists
	case errors.Is(err, ErrInvalidName), errors.Is(err, ErrInvalidModule), errors.Is(err, ErrProtected):
		code = types.ErrInvalidRequest
	default:
		return types.NewInternalError("environment operation failed", err)
	}
	return types.NewError(code, err.Error()).WithCause(err).WithHTTPStatus(types.HTTPStatusFor(code))
}
