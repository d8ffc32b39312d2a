package environment

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/pyhost/interpreter"
	"github.com/BaSui01/pyhost/types"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every connection to :memory: is a separate database
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&Environment{}))
	return db
}

func newTestManager(t *testing.T, store Store) *Manager {
	t.Helper()
	rt := interpreter.NewRuntime(interpreter.Options{GIL: interpreter.NewGIL()})
	return NewManager(store, rt, Config{Root: t.TempDir()}, zap.NewNop())
}

func TestManager_Stores(t *testing.T) {
	stores := map[string]func(t *testing.T) Store{
		"memory": func(*testing.T) Store { return NewMemoryStore() },
		"gorm":   func(t *testing.T) Store { return NewGormStore(setupTestDB(t)) },
	}

	for name, mk := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			m := newTestManager(t, mk(t))

			env, err := m.Create(ctx, "analytics", "")
			require.NoError(t, err)
			assert.NotEmpty(t, env.ID)
			assert.Equal(t, StatusReady, env.Status)
			assert.Equal(t, InterpreterStarlark, env.Interpreter)
			assert.DirExists(t, env.Path)

			_, err = m.Create(ctx, "analytics", "")
			assert.ErrorIs(t, err, ErrExists)

			_, err = m.Create(ctx, "../escape", "")
			assert.ErrorIs(t, err, ErrInvalidName)

			got, err := m.Get(ctx, env.ID)
			require.NoError(t, err)
			assert.Equal(t, env.Name, got.Name)

			got, err = m.GetByName(ctx, "analytics")
			require.NoError(t, err)
			assert.Equal(t, env.ID, got.ID)

			def, err := m.Default(ctx)
			require.NoError(t, err)
			again, err := m.Default(ctx)
			require.NoError(t, err)
			assert.Equal(t, def.ID, again.ID)

			list, err := m.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "analytics", list[0].Name)
			assert.Equal(t, "default", list[1].Name)

			assert.ErrorIs(t, m.Delete(ctx, def.ID, false), ErrProtected)
			require.NoError(t, m.Delete(ctx, env.ID, true))
			assert.NoDirExists(t, env.Path)
			_, err = m.Get(ctx, env.ID)
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, m.Delete(ctx, env.ID, false), ErrNotFound)
		})
	}
}

func TestManager_Resolve(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, NewMemoryStore())

	env, err := m.Create(ctx, "tools", "")
	require.NoError(t, err)

	resolved, err := m.Resolve(ctx, env.ID)
	require.NoError(t, err)
	assert.Equal(t, interpreter.Environment{ID: env.ID, Path: env.Path}, resolved)

	byName, err := m.Resolve(ctx, "tools")
	require.NoError(t, err)
	assert.Equal(t, resolved, byName)

	def, err := m.Resolve(ctx, "")
	require.NoError(t, err)
	assert.NotEmpty(t, def.Path)

	_, err = m.Resolve(ctx, "missing")
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrEnvironmentNotFound))
}

func TestManager_Modules(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, NewMemoryStore())

	env, err := m.Create(ctx, "mods", "")
	require.NoError(t, err)

	info, err := m.InstallModule(ctx, env.ID, "helpers.star", "def double(x):\n    return x * 2\n")
	require.NoError(t, err)
	assert.Equal(t, "helpers.star", info.Name)
	assert.Positive(t, info.Size)

	_, err = m.InstallModule(ctx, env.ID, "broken.star", "def (:\n")
	assert.ErrorIs(t, err, ErrInvalidModule)
	assert.NoFileExists(t, filepath.Join(env.Path, "broken.star"))

	_, err = m.InstallModule(ctx, env.ID, "../evil.star", "x = 1")
	assert.ErrorIs(t, err, ErrInvalidModule)

	require.NoError(t, os.WriteFile(filepath.Join(env.Path, "notes.txt"), []byte("ignored"), 0o644))
	modules, err := m.ListModules(ctx, env.ID)
	require.NoError(t, err)
	require.Len(t, modules, 1)
	assert.Equal(t, "helpers.star", modules[0].Name)

	require.NoError(t, m.RemoveModule(ctx, env.ID, "helpers.star"))
	assert.ErrorIs(t, m.RemoveModule(ctx, env.ID, "helpers.star"), ErrModuleNotFound)

	modules, err = m.ListModules(ctx, env.ID)
	require.NoError(t, err)
	assert.Empty(t, modules)
}

func TestManager_InstalledModuleIsLoadable(t *testing.T) {
	ctx := context.Background()
	rt := interpreter.NewRuntime(interpreter.Options{GIL: interpreter.NewGIL()})
	m := NewManager(NewMemoryStore(), rt, Config{Root: t.TempDir()}, nil)

	env, err := m.Create(ctx, "lib", "")
	require.NoError(t, err)
	_, err = m.InstallModule(ctx, env.ID, "greet.star", "def hello(n):\n    return 'hello ' + n\n")
	require.NoError(t, err)

	resolved, err := m.Resolve(ctx, env.ID)
	require.NoError(t, err)
	scope, err := rt.CreateScope("s1", resolved)
	require.NoError(t, err)

	buf := &interpreter.Buffer{}
	require.NoError(t, rt.GIL().Do(ctx, func() error {
		_, err := scope.Exec(ctx, "load('greet.star', 'hello')\nprint(hello('world'))", buf)
		return err
	}))
	assert.Equal(t, "hello world", buf.String())
}

func TestAsTypesError(t *testing.T) {
	assert.Nil(t, AsTypesError(nil))
	assert.True(t, types.IsErrorCode(AsTypesError(ErrNotFound), types.ErrEnvironmentNotFound))
	assert.True(t, types.IsErrorCode(AsTypesError(ErrExists), types.ErrEnvironmentExists))
	assert.True(t, types.IsErrorCode(AsTypesError(ErrInvalidModule), types.ErrInvalidRequest))
	assert.True(t, types.IsErrorCode(AsTypesError(assert.AnError), types.ErrInternalError))
}
