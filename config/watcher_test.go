package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventLog struct {
	mu     sync.Mutex
	events []FileEvent
}

func (l *eventLog) add(e FileEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) ops() []FileOp {
	l.mu.Lock()
	defer l.mu.Unlock()
	ops := make([]FileOp, len(l.events))
	for i, e := range l.events {
		ops[i] = e.Op
	}
	return ops
}

func fastWatcher(t *testing.T, path string) (*FileWatcher, *eventLog) {
	t.Helper()
	w, err := NewFileWatcher([]string{path},
		WithPollInterval(10*time.Millisecond),
		WithDebounceDelay(20*time.Millisecond))
	require.NoError(t, err)
	log := &eventLog{}
	w.OnChange(log.add)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })
	return w, log
}

func TestNewFileWatcher(t *testing.T) {
	_, err := NewFileWatcher(nil)
	assert.Error(t, err)

	w, err := NewFileWatcher([]string{"relative.yaml"})
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(w.Paths()[0]))
	assert.False(t, w.IsRunning())
}

func TestFileWatcher_WriteCreateRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pyhost.yaml")
	w, log := fastWatcher(t, path)
	assert.True(t, w.IsRunning())

	require.NoError(t, os.WriteFile(path, []byte("a: 1"), 0o644))
	require.Eventually(t, func() bool { return len(log.ops()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, FileOpCreate, log.ops()[0])

	require.NoError(t, os.WriteFile(path, []byte("a: 12"), 0o644))
	require.Eventually(t, func() bool { return len(log.ops()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, FileOpWrite, log.ops()[1])

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool { return len(log.ops()) == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, FileOpRemove, log.ops()[2])
}

func TestFileWatcher_StartStop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pyhost.yaml")
	w, _ := fastWatcher(t, path)

	assert.Error(t, w.Start(context.Background()), "already running")
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
	assert.False(t, w.IsRunning())
}

func TestFileOp_String(t *testing.T) {
	assert.Equal(t, "CREATE", FileOpCreate.String())
	assert.Equal(t, "WRITE", FileOpWrite.String())
	assert.Equal(t, "REMOVE", FileOpRemove.String())
	assert.Equal(t, "UNKNOWN", FileOp(42).String())
}
