package interpreter

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"
)

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	return NewRuntime(Options{GIL: NewGIL()})
}

func newTestScope(t *testing.T, rt *Runtime, env Environment) *Scope {
	t.Helper()
	s, err := rt.CreateScope("session-"+t.Name(), env)
	require.NoError(t, err)
	return s
}

// locked runs fn under the runtime's GIL.
func locked(t *testing.T, rt *Runtime, fn func()) {
	t.Helper()
	require.NoError(t, rt.GIL().Do(context.Background(), func() error {
		fn()
		return nil
	}))
}

func TestScope_ExecPrintsAndPersists(t *testing.T) {
	rt := newTestRuntime(t)
	s := newTestScope(t, rt, Environment{})
	buf := &Buffer{}

	locked(t, rt, func() {
		defined, err := s.Exec(context.Background(), "x = 2 + 2\nprint(x)", buf)
		require.NoError(t, err)
		assert.Contains(t, defined, "x")
		assert.NotContains(t, defined, "result")

		defined, err = s.Exec(context.Background(), "y = x + 1", buf)
		require.NoError(t, err)
		assert.Equal(t, int64(5), FromValue(defined["y"]))

		y, err := s.Get("y")
		require.NoError(t, err)
		assert.Equal(t, int64(5), y)
	})

	assert.Equal(t, []Line{{Stream: StreamStdout, Text: "4"}}, buf.Lines())
}

func TestScope_RebindReadsPreviousValue(t *testing.T) {
	rt := newTestRuntime(t)
	s := newTestScope(t, rt, Environment{})

	locked(t, rt, func() {
		steps := []string{
			"x = 1\nacc = []",
			"x = x + 1",
			"x += 1\nacc.append(x)",
			"for i in range(2):\n    x += i",
			"a, x = x, x * 10",
		}
		for _, code := range steps {
			_, err := s.Exec(context.Background(), code, nil)
			require.NoError(t, err, code)
		}
		x, err := s.Get("x")
		require.NoError(t, err)
		assert.Equal(t, int64(40), x)
		a, err := s.Get("a")
		require.NoError(t, err)
		assert.Equal(t, int64(4), a)
		acc, err := s.Get("acc")
		require.NoError(t, err)
		assert.Equal(t, []any{int64(3)}, acc)
	})
}

func TestScope_FaultKeepsEarlierBindings(t *testing.T) {
	rt := newTestRuntime(t)
	s := newTestScope(t, rt, Environment{})

	locked(t, rt, func() {
		_, err := s.Exec(context.Background(), "a = 1\nzero = 0\nb = 1 // zero\nc = 3", nil)
		require.Error(t, err)
		assert.True(t, s.Has("a"))
		assert.False(t, s.Has("c"))

		lines := ErrorLines(err)
		require.NotEmpty(t, lines)
		assert.Contains(t, strings.Join(lines, "\n"), "division by zero")
	})
}

func TestScope_SyntaxError(t *testing.T) {
	rt := newTestRuntime(t)
	s := newTestScope(t, rt, Environment{})

	locked(t, rt, func() {
		_, err := s.Exec(context.Background(), "def (:", nil)
		require.Error(t, err)
		assert.True(t, IsSyntaxError(err))
		assert.True(t, strings.HasPrefix(ErrorLines(err)[0], "SyntaxError: "))

		_, err = s.Exec(context.Background(), "print(undefined_name)", nil)
		require.Error(t, err)
		assert.True(t, IsSyntaxError(err))
	})
}

func TestScope_RequiresGIL(t *testing.T) {
	rt := newTestRuntime(t)
	s := newTestScope(t, rt, Environment{})

	_, err := s.Exec(context.Background(), "x = 1", nil)
	assert.ErrorIs(t, err, ErrGILNotHeld)
	assert.ErrorIs(t, s.Set("x", 1), ErrGILNotHeld)
	_, err = s.Get("x")
	assert.ErrorIs(t, err, ErrGILNotHeld)
	_, err = s.Eval(context.Background(), "1", nil)
	assert.ErrorIs(t, err, ErrGILNotHeld)
}

func TestScope_SetGetCallEval(t *testing.T) {
	rt := newTestRuntime(t)
	s := newTestScope(t, rt, Environment{})

	locked(t, rt, func() {
		require.NoError(t, s.Set("items", []any{1, "two", 3.5, nil}))
		require.NoError(t, s.Set("config", map[string]any{"depth": 2, "name": "x"}))
		assert.ErrorIs(t, s.Set("not valid", 1), ErrInvalidName)

		_, err := s.Exec(context.Background(), "def total(n):\n    return len(items) + config['depth'] * n", nil)
		require.NoError(t, err)

		v, err := s.Call(context.Background(), "total", []any{10}, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(24), FromValue(v))

		_, err = s.Call(context.Background(), "items", nil, nil)
		assert.ErrorIs(t, err, ErrNotCallable)
		_, err = s.Call(context.Background(), "missing", nil, nil)
		assert.ErrorIs(t, err, ErrNameNotFound)

		v, err = s.Eval(context.Background(), "config['name'] * 3", nil)
		require.NoError(t, err)
		assert.Equal(t, "xxx", FromValue(v))
		assert.False(t, s.Has("result"))

		require.NoError(t, s.Delete("items"))
		assert.False(t, s.Has("items"))
		assert.Equal(t, []string{"config", "total"}, s.Keys())
	})
}

func TestScope_CancelInterruptsLoop(t *testing.T) {
	rt := newTestRuntime(t)
	s := newTestScope(t, rt, Environment{})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	locked(t, rt, func() {
		_, err := s.Exec(ctx, "n = 0\nwhile True:\n    n += 1", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cancelled")
	})
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.False(t, rt.GIL().Held())
}

func TestScope_SleepAndShouldStop(t *testing.T) {
	rt := newTestRuntime(t)
	s := newTestScope(t, rt, Environment{})

	locked(t, rt, func() {
		v, err := s.Eval(context.Background(), "should_stop()", nil)
		require.NoError(t, err)
		assert.Equal(t, starlark.False, v)
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	locked(t, rt, func() {
		_, err := s.Exec(ctx, "sleep(30)", nil)
		require.Error(t, err)
	})
	assert.Less(t, time.Since(start), 5*time.Second)

	locked(t, rt, func() {
		v, err := s.Eval(ctx, "should_stop()", nil)
		if err == nil {
			assert.Equal(t, starlark.True, v)
		}
	})
}

func TestScope_EprintWritesStderr(t *testing.T) {
	rt := newTestRuntime(t)
	s := newTestScope(t, rt, Environment{})
	buf := &Buffer{}

	locked(t, rt, func() {
		_, err := s.Exec(context.Background(), "print('a\\nb')\neprint('warn', 1, sep='-')", buf)
		require.NoError(t, err)
	})
	assert.Equal(t, []Line{
		{Stream: StreamStdout, Text: "a"},
		{Stream: StreamStdout, Text: "b"},
		{Stream: StreamStderr, Text: "warn-1"},
	}, buf.Lines())
}

func TestScope_LoadFromEnvironment(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "helpers.star"),
		[]byte("def double(n):\n    return n * 2\n"), 0o600))

	rt := newTestRuntime(t)
	s := newTestScope(t, rt, Environment{ID: "env-1", Path: dir})

	locked(t, rt, func() {
		_, err := s.Exec(context.Background(), "load('helpers', 'double')\nz = double(21)", nil)
		require.NoError(t, err)
		z, err := s.Get("z")
		require.NoError(t, err)
		assert.Equal(t, int64(42), z)

		_, err = s.Exec(context.Background(), "load('../etc/passwd', 'x')", nil)
		require.Error(t, err)

		_, err = s.Exec(context.Background(), "load('json', 'encode')\nout = encode({'a': 1})", nil)
		require.NoError(t, err)
		out, err := s.Get("out")
		require.NoError(t, err)
		assert.Equal(t, `{"a":1}`, out)
	})
}

func TestScope_Iterate(t *testing.T) {
	rt := newTestRuntime(t)
	s := newTestScope(t, rt, Environment{})

	var got []any
	locked(t, rt, func() {
		_, err := s.Exec(context.Background(), "def gen():\n    return range(3)\nnot_iter = lambda: 5", nil)
		require.NoError(t, err)

		it, err := s.Iterate(context.Background(), "gen", nil)
		require.NoError(t, err)
		defer it.Close()
		for {
			v, ok, err := it.Next()
			require.NoError(t, err)
			if !ok {
				break
			}
			got = append(got, v)
		}

		_, err = s.Iterate(context.Background(), "not_iter", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not iterable")
	})
	assert.Equal(t, []any{int64(0), int64(1), int64(2)}, got)
}

func TestRuntime_ScopeLifecycle(t *testing.T) {
	rt := newTestRuntime(t)

	_, err := rt.CreateScope("", Environment{})
	assert.ErrorIs(t, err, ErrEmptySessionID)
	assert.Nil(t, rt.GetScope("a"))

	first, err := rt.CreateScope("a", Environment{ID: "default"})
	require.NoError(t, err)
	locked(t, rt, func() { require.NoError(t, first.Set("k", 1)) })

	again, err := rt.CreateScope("a", Environment{ID: "default"})
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.Equal(t, 1, rt.ScopeCount())

	assert.True(t, rt.DropScope("a"))
	assert.False(t, rt.DropScope("a"))

	fresh, err := rt.CreateScope("a", Environment{ID: "default"})
	require.NoError(t, err)
	locked(t, rt, func() { assert.False(t, fresh.Has("k")) })
}

func TestRuntime_Compile(t *testing.T) {
	rt := newTestRuntime(t)
	assert.NoError(t, rt.Compile("mod.star", "def f(x):\n    return json.encode(x)"))
	assert.Error(t, rt.Compile("mod.star", "def f(:"))
	assert.Error(t, rt.Compile("mod.star", "y = unknown + 1"))
}
