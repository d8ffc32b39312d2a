package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/pyhost/interpreter"
	"github.com/BaSui01/pyhost/progress"
)

// ResultBinding is the namespace name whose value is reported as a result.
const ResultBinding = "result"

// BatchResultsBinding receives the ordered batch results in the namespace.
const BatchResultsBinding = "__batch_results__"

// Mode names the entry point an execution came through.
type Mode string

const (
	ModeCode        Mode = "code"
	ModeCommand     Mode = "command"
	ModeVariables   Mode = "variables"
	ModeBatch       Mode = "batch"
	ModeGenerator   Mode = "generator"
	ModeInteractive Mode = "interactive"
)

// Status is the terminal state of one execution.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusTimedOut  Status = "timed_out"
	StatusCancelled Status = "cancelled"
	StatusFaulted   Status = "faulted"
	StatusBusy      Status = "busy"
	StatusInvalid   Status = "invalid"
)

var (
	// ErrStopGenerator returned by an item callback ends a generator run
	// early and successfully.
	ErrStopGenerator = errors.New("stop generator")

	// ErrExecutionTimeout is the cancellation cause of an expired deadline.
	ErrExecutionTimeout = fmt.Errorf("execution timed out: %w", context.DeadlineExceeded)

	// ErrExecutionStopped is the cancellation cause of StopExecution and
	// StopSession.
	ErrExecutionStopped = errors.New("execution stopped")

	// ErrCoordinatorClosed is returned after Shutdown.
	ErrCoordinatorClosed = errors.New("coordinator is shut down")
)

// ExecOptions tunes a single call.
type ExecOptions struct {
	// Timeout overrides the configured default when positive.
	Timeout time.Duration
	// Sink receives output lines and the terminal status. Optional.
	Sink progress.Sink
}

// Result is the outcome of one execution.
type Result struct {
	ExecutionID string             `json:"execution_id"`
	SessionID   string             `json:"session_id"`
	Mode        Mode               `json:"mode"`
	Status      Status             `json:"status"`
	Success     bool               `json:"success"`
	Output      string             `json:"output"`
	Lines       []interpreter.Line `json:"lines,omitempty"`
	Value       any                `json:"value,omitempty"`
	Message     string             `json:"message,omitempty"`
	Duration    time.Duration      `json:"duration"`
}

// BatchItem is the outcome of one batch command.
type BatchItem struct {
	Command string `json:"command"`
	Value   any    `json:"value"`
	Error   string `json:"error,omitempty"`
}

// OK reports whether the command succeeded.
func (b BatchItem) OK() bool { return b.Error == "" }

// BatchResult is the outcome of ExecuteBatch. Items has one entry per
// command whenever the batch ran.
type BatchResult struct {
	*Result
	Items []BatchItem `json:"items"`
}

// Values returns the per-command values; failed commands yield nil.
func (b *BatchResult) Values() []any {
	out := make([]any, len(b.Items))
	for i, it := range b.Items {
		out[i] = it.Value
	}
	return out
}

// SegmentResult is the outcome of one interactive segment.
type SegmentResult struct {
	Index   int     `json:"index"`
	Code    string  `json:"code"`
	Success bool    `json:"success"`
	Output  string  `json:"output"`
	Blank   bool    `json:"blank,omitempty"`
	Result  *Result `json:"result,omitempty"`
}

// RuntimeProvider hands out per-session namespaces. GetScope returns nil
// when none is provisioned yet.
type RuntimeProvider interface {
	GIL() *interpreter.GIL
	GetScope(sessionID string) *interpreter.Scope
	CreateScope(sessionID string, env interpreter.Environment) (*interpreter.Scope, error)
	DropScope(sessionID string) bool
}

// EnvironmentResolver maps an environment ID ("" for the default) to the
// interpreter-side environment.
type EnvironmentResolver interface {
	Resolve(ctx context.Context, environmentID string) (interpreter.Environment, error)
}

// ResolverFunc adapts a function to EnvironmentResolver.
type ResolverFunc func(ctx context.Context, environmentID string) (interpreter.Environment, error)

// Resolve implements EnvironmentResolver.
func (f ResolverFunc) Resolve(ctx context.Context, environmentID string) (interpreter.Environment, error) {
	return f(ctx, environmentID)
}

// DefaultEnvironmentID names the environment used when none is associated.
const DefaultEnvironmentID = "default"

// builtinResolver resolves every ID to an environment with no module path.
var builtinResolver = ResolverFunc(func(_ context.Context, id string) (interpreter.Environment, error) {
	if id == "" {
		id = DefaultEnvironmentID
	}
	return interpreter.Environment{ID: id}, nil
})

// Recorder receives execution metrics.
type Recorder interface {
	RecordExecution(mode, status string, duration time.Duration)
	RecordSessionLockWait(duration time.Duration, acquired bool)
	RecordOutputLines(stream string, n int)
	RecordGeneratorItems(n int)
	SetInflight(n int)
	SetSessions(n int)
}

type nopRecorder struct{}

func (nopRecorder) RecordExecution(string, string, time.Duration) {}
func (nopRecorder) RecordSessionLockWait(time.Duration, bool)     {}
func (nopRecorder) RecordOutputLines(string, int)                 {}
func (nopRecorder) RecordGeneratorItems(int)                      {}
func (nopRecorder) SetInflight(int)                               {}
func (nopRecorder) SetSessions(int)                               {}

// Recorders fans every measurement out to rs. Nil entries are skipped.
func Recorders(rs ...Recorder) Recorder {
	var out multiRecorder
	for _, r := range rs {
		if r != nil {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return nopRecorder{}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

type multiRecorder []Recorder

func (m multiRecorder) RecordExecution(mode, status string, d time.Duration) {
	for _, r := range m {
		r.RecordExecution(mode, status, d)
	}
}

func (m multiRecorder) RecordSessionLockWait(d time.Duration, acquired bool) {
	for _, r := range m {
		r.RecordSessionLockWait(d, acquired)
	}
}

func (m multiRecorder) RecordOutputLines(stream string, n int) {
	for _, r := range m {
		r.RecordOutputLines(stream, n)
	}
}

func (m multiRecorder) RecordGeneratorItems(n int) {
	for _, r := range m {
		r.RecordGeneratorItems(n)
	}
}

func (m multiRecorder) SetInflight(n int) {
	for _, r := range m {
		r.SetInflight(n)
	}
}

func (m multiRecorder) SetSessions(n int) {
	for _, r := range m {
		r.SetSessions(n)
	}
}
