package execution

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/pyhost/interpreter"
	"github.com/BaSui01/pyhost/progress"
	"github.com/BaSui01/pyhost/session"
	"github.com/BaSui01/pyhost/testutil"
	"github.com/BaSui01/pyhost/types"
)

func newTestCoordinator(t *testing.T, opts ...Option) (*Coordinator, *interpreter.Runtime) {
	t.Helper()
	rt := interpreter.NewRuntime(interpreter.Options{GIL: interpreter.NewGIL()})
	c := NewCoordinator(rt, nil, nil, opts...)
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })
	return c, rt
}

// waitInflight blocks until n executions are registered as running.
func waitInflight(t *testing.T, c *Coordinator, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(c.Inflight()) == n },
		5*time.Second, 10*time.Millisecond)
}

type asyncResult struct {
	res *Result
	err error
}

func runAsync(c *Coordinator, sessionID, code string, opts ExecOptions) <-chan asyncResult {
	ch := make(chan asyncResult, 1)
	go func() {
		res, err := c.ExecuteCode(context.Background(), sessionID, code, opts)
		ch <- asyncResult{res, err}
	}()
	return ch
}

func TestExecuteCode_PrintWithoutResultBinding(t *testing.T) {
	c, _ := newTestCoordinator(t)
	rec := &progress.Recorder{}

	res, err := c.ExecuteCode(context.Background(), "fresh", "x = 2 + 2\nprint(x)", ExecOptions{Sink: rec})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, "4", res.Output)
	assert.Nil(t, res.Value)
	assert.NotEmpty(t, res.ExecutionID)

	testutil.AssertOutput(t, rec.Events(), "stdout", "4")
	assert.Len(t, rec.OfType(progress.EventStarted), 1)
	assert.Len(t, rec.OfType(progress.EventCompleted), 1)
}

func TestExecuteCode_NamespacePersistsWithinSession(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	res, err := c.ExecuteCode(ctx, "s1", "x = 41", ExecOptions{})
	require.NoError(t, err)
	require.True(t, res.Success)

	res, err = c.ExecuteCode(ctx, "s1", "y = x + 1\nprint(y)", ExecOptions{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "42", res.Output)

	s, ok := c.Registry().Get("s1")
	require.True(t, ok)
	assert.Equal(t, int64(2), s.Executions)
	assert.Equal(t, DefaultEnvironmentID, s.EnvironmentID)
}

func TestExecuteCode_InterpreterFaultIsData(t *testing.T) {
	c, _ := newTestCoordinator(t)
	rec := &progress.Recorder{}

	res, err := c.ExecuteCode(context.Background(), "s1", "print('before')\n[1][5]", ExecOptions{Sink: rec})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, StatusFaulted, res.Status)
	assert.Contains(t, res.Output, "before")
	assert.Contains(t, res.Output, "index")
	assert.NotEmpty(t, res.Message)
	assert.Len(t, rec.OfType(progress.EventFaulted), 1)

	res, err = c.ExecuteCode(context.Background(), "s1", "undefined_name + 1", ExecOptions{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Output, "NameError")
}

func TestExecuteCode_Validation(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	res, err := c.ExecuteCode(ctx, "s1", "   ", ExecOptions{})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
	assert.Equal(t, StatusInvalid, res.Status)
	assert.False(t, res.Success)

	_, err = c.ExecuteCode(ctx, "", "x = 1", ExecOptions{})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))

	_, err = c.ExecuteCode(ctx, "bad id with spaces", "x = 1", ExecOptions{})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))

	// nothing was registered or locked
	assert.Equal(t, 0, c.Registry().Len())
}

func TestExecuteCode_ConcurrentCallIsBusy(t *testing.T) {
	c, _ := newTestCoordinator(t, WithLimits(Limits{SessionLockWait: 100 * time.Millisecond}))

	first := runAsync(c, "s1", "sleep(30)", ExecOptions{})
	waitInflight(t, c, 1)

	rec := &progress.Recorder{}
	res, err := c.ExecuteCode(context.Background(), "s1", "print('second')", ExecOptions{Sink: rec})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrSessionBusy))
	assert.True(t, types.IsRetryable(err))
	assert.Equal(t, StatusBusy, res.Status)
	assert.Len(t, rec.OfType(progress.EventBusy), 1)
	assert.Empty(t, rec.OfType(progress.EventOutput))

	assert.Equal(t, 1, c.StopSession("s1"))
	r := <-first
	require.NoError(t, r.err)
	assert.Equal(t, StatusCancelled, r.res.Status)
	assert.Contains(t, r.res.Output, "Execution cancelled")
}

func TestExecuteCode_TimeoutReleasesSession(t *testing.T) {
	c, _ := newTestCoordinator(t, WithLimits(Limits{CancelGrace: 500 * time.Millisecond}))
	ctx := context.Background()

	start := time.Now()
	res, err := c.ExecuteCode(ctx, "s1", "print('start')\nwhile True:\n    pass", ExecOptions{Timeout: time.Second})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, StatusTimedOut, res.Status)
	assert.Contains(t, res.Output, "start")
	assert.Contains(t, res.Output, "Execution timed out after 1s")
	assert.Less(t, elapsed, 2500*time.Millisecond)

	res, err = c.ExecuteCode(ctx, "s1", "print('again')", ExecOptions{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "again", res.Output)
}

func TestExecuteCode_CallerCancellation(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		for len(c.Inflight()) == 0 {
			time.Sleep(5 * time.Millisecond)
		}
		cancel()
	}()
	res, err := c.ExecuteCode(ctx, "s1", "while not should_stop():\n    sleep(0.01)", ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, res.Status)
}

func TestStopExecution_DoesNotOutliveCall(t *testing.T) {
	c, _ := newTestCoordinator(t)

	running := runAsync(c, "s1", "while not should_stop():\n    sleep(0.01)", ExecOptions{})
	waitInflight(t, c, 1)
	assert.Equal(t, 1, c.StopExecution())

	r := <-running
	require.NoError(t, r.err)
	assert.Equal(t, StatusCancelled, r.res.Status)

	res, err := c.ExecuteCode(context.Background(), "s2", "print(should_stop())", ExecOptions{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "False", res.Output)
}

func TestStopSession_LeavesOtherSessionsRunning(t *testing.T) {
	c, _ := newTestCoordinator(t)

	a := runAsync(c, "a", "while not should_stop():\n    sleep(0.01)", ExecOptions{})
	waitInflight(t, c, 1)
	b := runAsync(c, "b", "print('b done')", ExecOptions{})
	waitInflight(t, c, 2)

	assert.Equal(t, 1, c.StopSession("a"))

	ra := <-a
	require.NoError(t, ra.err)
	assert.Equal(t, StatusCancelled, ra.res.Status)

	rb := <-b
	require.NoError(t, rb.err)
	assert.True(t, rb.res.Success)
	assert.Equal(t, "b done", rb.res.Output)
}

func TestExecuteCommand_ReturnsResultBinding(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	v, err := c.ExecuteCommand(ctx, "s1", "2 * 21")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	v, err = c.ExecuteCommand(ctx, "s1", "{'a': [1, 2]}")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": []any{int64(1), int64(2)}}, v)

	v, err = c.ExecuteCommand(ctx, "s1", "1 + 'x'")
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = c.ExecuteCommand(ctx, "s1", "")
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}

func TestExecuteCode_StaleResultIsNotReported(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	res, err := c.ExecuteCode(ctx, "s1", "result = 7", ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.Value)

	res, err = c.ExecuteCode(ctx, "s1", "z = 1", ExecOptions{})
	require.NoError(t, err)
	assert.Nil(t, res.Value)

	res, err = c.ExecuteCode(ctx, "s1", "result += 1", ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(8), res.Value)
}

func TestExecuteWithVariables(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	rec := &progress.Recorder{}

	res, err := c.ExecuteWithVariablesOptions(ctx, "s1",
		"print('computing')\nresult = a * b + len(names)",
		map[string]any{"a": 6, "b": 7, "names": []string{"x", "y"}},
		ExecOptions{Sink: rec})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int64(44), res.Value)
	assert.Equal(t, "computing", res.Output)

	// output is reported once, not streamed
	outputs := rec.OfType(progress.EventOutput)
	require.Len(t, outputs, 1)
	assert.Equal(t, "computing", outputs[0].Message)

	res, err = c.ExecuteWithVariables(ctx, "s1", "c = a", map[string]any{"a": 1})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Nil(t, res.Value)

	_, err = c.ExecuteWithVariables(ctx, "s1", "c = 1", map[string]any{"not valid": 1})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))

	_, err = c.ExecuteWithVariables(ctx, "s1", "c = 1", map[string]any{"ch": make(chan int)})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}

func TestExecuteBatch_IsolatesFailures(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	batch, err := c.ExecuteBatch(ctx, "s1", []string{"1 + 1", "[1][5]", "x = 3", "x * 2"})
	require.NoError(t, err)
	assert.True(t, batch.Success)
	require.Len(t, batch.Items, 4)

	assert.Equal(t, int64(2), batch.Items[0].Value)
	assert.True(t, batch.Items[0].OK())
	assert.Nil(t, batch.Items[1].Value)
	assert.False(t, batch.Items[1].OK())
	assert.Contains(t, batch.Items[1].Error, "index")
	assert.Nil(t, batch.Items[2].Value)
	assert.True(t, batch.Items[2].OK())
	assert.Equal(t, int64(6), batch.Items[3].Value)

	assert.Equal(t, []any{int64(2), nil, nil, int64(6)}, batch.Values())
	assert.Equal(t, batch.Values(), batch.Value)

	v, err := c.ExecuteCommand(ctx, "s1", BatchResultsBinding)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(2), nil, nil, int64(6)}, v)

	_, err = c.ExecuteBatch(ctx, "s1", nil)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}

func TestExecuteBatch_TimeoutKeepsCompletedItems(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	batch, err := c.ExecuteBatchOptions(ctx, "s1", []string{"1 + 1", "sleep(5)", "3"},
		ExecOptions{Timeout: 500 * time.Millisecond})
	require.NoError(t, err)
	assert.False(t, batch.Success)
	assert.Equal(t, StatusTimedOut, batch.Status)
	require.Len(t, batch.Items, 3)

	assert.Equal(t, int64(2), batch.Items[0].Value)
	assert.True(t, batch.Items[0].OK())
	assert.False(t, batch.Items[1].OK())
	assert.NotContains(t, batch.Items[1].Error, "not executed")
	assert.Nil(t, batch.Items[2].Value)
	assert.True(t, strings.HasPrefix(batch.Items[2].Error, "not executed"))
	assert.Equal(t, []any{int64(2), nil, nil}, batch.Value)

	v, err := c.ExecuteCommand(ctx, "s1", BatchResultsBinding)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(2), nil, nil}, v)
}

func TestExecuteGenerator_StopsEarly(t *testing.T) {
	c, _ := newTestCoordinator(t)
	var items []any

	res, err := c.ExecuteGenerator(context.Background(), "s1",
		"def numbers():\n    return range(1000000)", "numbers",
		func(item any) error {
			items = append(items, item)
			if len(items) == 3 {
				return ErrStopGenerator
			}
			return nil
		}, ExecOptions{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 3, res.Value)
	assert.Equal(t, []any{int64(0), int64(1), int64(2)}, items)
}

func TestExecuteGenerator_RunsToCompletion(t *testing.T) {
	c, rt := newTestCoordinator(t)
	rec := &progress.Recorder{}
	var items []any

	res, err := c.ExecuteGenerator(context.Background(), "s1",
		"def rows():\n    print('producing')\n    return [{'n': i} for i in range(3)]", "rows",
		func(item any) error {
			// the GIL is free while the callback runs
			assert.False(t, rt.GIL().Held())
			items = append(items, item)
			return nil
		}, ExecOptions{Sink: rec})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 3, res.Value)
	assert.Len(t, items, 3)
	assert.Equal(t, map[string]any{"n": int64(2)}, items[2])
	assert.Equal(t, "producing", res.Output)
	assert.Len(t, rec.OfType(progress.EventItem), 3)
}

func TestExecuteGenerator_Failures(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	noop := func(any) error { return nil }

	res, err := c.ExecuteGenerator(ctx, "s1", "def f():\n    return 5", "f", noop, ExecOptions{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Output, "not iterable")

	res, err = c.ExecuteGenerator(ctx, "s1", "def g():\n    return [1]", "g",
		func(any) error { return assert.AnError }, ExecOptions{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Output, "item callback")

	_, err = c.ExecuteGenerator(ctx, "s1", "def h():\n    return []", "not a name", noop, ExecOptions{})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}

func TestExecuteGenerator_Timeout(t *testing.T) {
	c, _ := newTestCoordinator(t)
	var delivered atomic.Int64

	res, err := c.ExecuteGenerator(context.Background(), "s1",
		"def forever():\n    return range(1 << 30)", "forever",
		func(any) error {
			delivered.Add(1)
			time.Sleep(time.Millisecond)
			return nil
		}, ExecOptions{Timeout: 200 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, StatusTimedOut, res.Status)
	assert.Positive(t, delivered.Load())
}

func TestExecuteInteractive(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	segments := []string{"a = 1", "   ", "a = undefined_thing", "print(a)"}

	results, err := c.ExecuteInteractive(ctx, "stop", segments, true, ExecOptions{})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.True(t, results[0].Success)
	assert.True(t, results[1].Success)
	assert.True(t, results[1].Blank)
	assert.Nil(t, results[1].Result)
	assert.False(t, results[2].Success)
	assert.Equal(t, ModeInteractive, results[2].Result.Mode)

	results, err = c.ExecuteInteractive(ctx, "go-on", segments, false, ExecOptions{})
	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.True(t, results[3].Success)
	assert.Equal(t, "1", results[3].Output)

	s, ok := c.Registry().Get("go-on")
	require.True(t, ok)
	assert.Equal(t, int64(3), s.Executions)
}

func TestCleanupSession_FreshNamespace(t *testing.T) {
	c, rt := newTestCoordinator(t)
	ctx := context.Background()

	_, err := c.ExecuteCode(ctx, "s1", "x = 1", ExecOptions{})
	require.NoError(t, err)
	require.NotNil(t, rt.GetScope("s1"))

	require.NoError(t, c.CleanupSession(ctx, "s1"))
	assert.Nil(t, rt.GetScope("s1"))
	_, ok := c.Registry().Get("s1")
	assert.False(t, ok)

	res, err := c.ExecuteCode(ctx, "s1", "print(x)", ExecOptions{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Output, "NameError")

	err = c.CleanupSession(ctx, "never-seen")
	assert.True(t, types.IsErrorCode(err, types.ErrSessionNotFound))
}

func TestCleanupSession_StopsRunningExecution(t *testing.T) {
	c, _ := newTestCoordinator(t)

	running := runAsync(c, "s1", "while not should_stop():\n    sleep(0.01)", ExecOptions{})
	waitInflight(t, c, 1)

	require.NoError(t, c.CleanupSession(context.Background(), "s1"))
	r := <-running
	assert.Equal(t, StatusCancelled, r.res.Status)
}

func TestCleanupSession_AbandonsUnitIgnoringStop(t *testing.T) {
	c, _ := newTestCoordinator(t, WithLimits(Limits{
		SessionLockWait: 100 * time.Millisecond,
		CancelGrace:     100 * time.Millisecond,
	}))
	ctx := context.Background()

	blocked := make(chan struct{})
	unblock := make(chan struct{})
	defer close(unblock)
	var once sync.Once
	results := make(chan *Result, 1)
	go func() {
		res, _ := c.ExecuteGenerator(ctx, "s1", "def items():\n    return [1, 2]\n", "items",
			func(any) error {
				once.Do(func() { close(blocked) })
				<-unblock
				return nil
			}, ExecOptions{})
		results <- res
	}()
	<-blocked

	require.NoError(t, c.CleanupSession(ctx, "s1"))
	res, ok := testutil.WaitForChannel(results, 2*time.Second)
	require.True(t, ok)
	assert.Equal(t, StatusCancelled, res.Status)
	_, registered := c.Registry().Get("s1")
	assert.False(t, registered)
}

func TestCleanupSession_BusyWhenLockHeldPastBound(t *testing.T) {
	table := session.NewLockTable()
	c, _ := newTestCoordinator(t, WithLockTable(table), WithLimits(Limits{
		SessionLockWait: 100 * time.Millisecond,
		CancelGrace:     50 * time.Millisecond,
	}))
	ctx := context.Background()

	_, err := c.ExecuteCode(ctx, "s1", "x = 1", ExecOptions{})
	require.NoError(t, err)

	release, ok := table.TryAcquire("s1")
	require.True(t, ok)

	start := time.Now()
	err = c.CleanupSession(ctx, "s1")
	assert.True(t, types.IsErrorCode(err, types.ErrSessionBusy))
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	_, registered := c.Registry().Get("s1")
	assert.True(t, registered)

	release()
	require.NoError(t, c.CleanupSession(ctx, "s1"))
}

func TestShutdown_ReportsBusySession(t *testing.T) {
	table := session.NewLockTable()
	c, _ := newTestCoordinator(t, WithLockTable(table), WithLimits(Limits{
		SessionLockWait: 50 * time.Millisecond,
		CancelGrace:     50 * time.Millisecond,
	}))

	_, err := c.ExecuteCode(context.Background(), "s1", "x = 1", ExecOptions{})
	require.NoError(t, err)
	release, ok := table.TryAcquire("s1")
	require.True(t, ok)
	defer release()

	err = c.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cleanup session s1")
}

func TestOutputTruncation(t *testing.T) {
	c, _ := newTestCoordinator(t, WithLimits(Limits{MaxOutputLines: 3}))
	rec := &progress.Recorder{}

	res, err := c.ExecuteCode(context.Background(), "s1", "for i in range(10):\n    print(i)", ExecOptions{Sink: rec})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "0\n1\n2\n... 6 lines omitted ...\n9", res.Output)
	// the sink still sees every line
	assert.Len(t, rec.OfType(progress.EventOutput), 10)
}

func TestUpdateLimits(t *testing.T) {
	c, _ := newTestCoordinator(t)

	c.UpdateLimits(Limits{DefaultTimeout: time.Minute})
	l := c.Limits()
	assert.Equal(t, time.Minute, l.DefaultTimeout)
	assert.Equal(t, DefaultLimits().CommandTimeout, l.CommandTimeout)
	assert.Equal(t, DefaultLimits().SessionLockWait, l.SessionLockWait)
}

func TestShutdown_RejectsNewWork(t *testing.T) {
	c, rt := newTestCoordinator(t)
	ctx := context.Background()

	_, err := c.ExecuteCode(ctx, "s1", "x = 1", ExecOptions{})
	require.NoError(t, err)

	require.NoError(t, c.Shutdown(ctx))
	assert.Equal(t, 0, rt.ScopeCount())
	assert.Equal(t, 0, c.Registry().Len())

	res, err := c.ExecuteCode(ctx, "s1", "x = 1", ExecOptions{})
	assert.True(t, types.IsErrorCode(err, types.ErrUnavailable))
	assert.False(t, res.Success)

	// idempotent
	require.NoError(t, c.Shutdown(ctx))
}

func TestResolverErrorIsHostFault(t *testing.T) {
	rt := interpreter.NewRuntime(interpreter.Options{GIL: interpreter.NewGIL()})
	resolver := ResolverFunc(func(context.Context, string) (interpreter.Environment, error) {
		return interpreter.Environment{}, types.NewError(types.ErrEnvironmentNotFound, "environment not found")
	})
	c := NewCoordinator(rt, nil, resolver)
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })

	res, err := c.ExecuteCode(context.Background(), "s1", "x = 1", ExecOptions{})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrEnvironmentNotFound))
	assert.Equal(t, StatusFaulted, res.Status)
	assert.True(t, strings.Contains(res.Message, "environment not found"))
}
