package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/pyhost/testutil"
)

func TestLockTable_BusyWithinBound(t *testing.T) {
	table := NewLockTable()

	release, err := table.Acquire(context.Background(), "s1", time.Second)
	require.NoError(t, err)

	start := time.Now()
	_, err = table.Acquire(context.Background(), "s1", 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrSessionBusy)
	assert.Less(t, time.Since(start), time.Second)

	// other sessions are independent
	other, err := table.Acquire(context.Background(), "s2", 50*time.Millisecond)
	require.NoError(t, err)
	other()

	release()
	release()

	again, err := table.Acquire(context.Background(), "s1", 50*time.Millisecond)
	require.NoError(t, err)
	again()
}

func TestLockTable_CallerCancel(t *testing.T) {
	table := NewLockTable()
	release, ok := table.TryAcquire("s1")
	require.True(t, ok)
	defer release()

	_, ok = table.TryAcquire("s1")
	assert.False(t, ok)

	_, err := table.Acquire(testutil.CancelledContext(), "s1", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLockTable_MutualExclusion(t *testing.T) {
	table := NewLockTable()
	var inside, violations atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				release, err := table.Acquire(context.Background(), "shared", 5*time.Second)
				if err != nil {
					continue
				}
				if inside.Add(1) > 1 {
					violations.Add(1)
				}
				time.Sleep(100 * time.Microsecond)
				inside.Add(-1)
				release()
			}
		}()
	}
	wg.Wait()
	assert.Zero(t, violations.Load())
}

func TestLockTable_Dispose(t *testing.T) {
	table := NewLockTable()
	release, err := table.Acquire(context.Background(), "s1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, table.Len())

	table.Dispose("s1")
	assert.Equal(t, 0, table.Len())
	release()

	fresh, err := table.Acquire(context.Background(), "s1", 10*time.Millisecond)
	require.NoError(t, err)
	fresh()
}

func (t *LockTable) refs(sessionID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.locks[sessionID]; ok {
		return e.refs
	}
	return 0
}

func TestLockTable_DisposeWithQueuedWaiter(t *testing.T) {
	table := NewLockTable()
	first, err := table.Acquire(context.Background(), "s1", time.Second)
	require.NoError(t, err)

	acquired := make(chan func(), 1)
	go func() {
		release, err := table.Acquire(context.Background(), "s1", 5*time.Second)
		if err == nil {
			acquired <- release
		}
	}()
	require.Eventually(t, func() bool { return table.refs("s1") == 2 },
		time.Second, 5*time.Millisecond)

	table.Dispose("s1")
	first()

	second, ok := testutil.WaitForChannel(acquired, 2*time.Second)
	require.True(t, ok, "queued waiter never acquired the lock")

	// a caller arriving after Dispose shares the lock the waiter holds
	_, err = table.Acquire(context.Background(), "s1", 100*time.Millisecond)
	assert.ErrorIs(t, err, ErrSessionBusy)

	second()
	third, err := table.Acquire(context.Background(), "s1", 100*time.Millisecond)
	require.NoError(t, err)
	third()
}

func TestLockTable_DisposedEntryRemovedWhenDrained(t *testing.T) {
	table := NewLockTable()
	first, err := table.Acquire(context.Background(), "s1", time.Second)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		release, err := table.Acquire(context.Background(), "s1", 5*time.Second)
		if err == nil {
			release()
		}
	}()
	require.Eventually(t, func() bool { return table.refs("s1") == 2 },
		time.Second, 5*time.Millisecond)

	table.Dispose("s1")
	assert.Equal(t, 0, table.Len())
	first()

	_, ok := testutil.WaitForChannel(done, 2*time.Second)
	require.True(t, ok)
	assert.Zero(t, table.refs("s1"))
	table.mu.Lock()
	assert.Empty(t, table.locks)
	table.mu.Unlock()
}
