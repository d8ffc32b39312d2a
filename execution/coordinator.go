package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/pyhost/internal/channel"
	"github.com/BaSui01/pyhost/internal/ctxkeys"
	"github.com/BaSui01/pyhost/internal/pool"
	"github.com/BaSui01/pyhost/interpreter"
	"github.com/BaSui01/pyhost/progress"
	"github.com/BaSui01/pyhost/session"
	"github.com/BaSui01/pyhost/types"
)

const tracerName = "github.com/BaSui01/pyhost/execution"

// Coordinator runs code in per-session namespaces: session lock, then GIL,
// then the interpreter call, with output relayed to the caller as it is
// produced.
type Coordinator struct {
	provider RuntimeProvider
	registry *session.Registry
	resolver EnvironmentResolver
	locks    *session.LockTable

	pool     *pool.GoroutinePool
	ownsPool bool

	sink     progress.Sink
	recorder Recorder
	tracer   trace.Tracer
	logger   *zap.Logger

	limits   atomic.Pointer[Limits]
	inflight *inflightTable
	closed   atomic.Bool
}

// NewCoordinator creates a coordinator. A nil registry gets an in-memory
// one; a nil resolver maps every environment to one without modules.
func NewCoordinator(provider RuntimeProvider, registry *session.Registry, resolver EnvironmentResolver, opts ...Option) *Coordinator {
	c := &Coordinator{
		provider: provider,
		registry: registry,
		resolver: resolver,
		locks:    session.NewLockTable(),
		recorder: nopRecorder{},
		tracer:   otel.Tracer(tracerName),
		logger:   zap.NewNop(),
		inflight: newInflightTable(),
	}
	c.limits.Store(ptr(DefaultLimits()))
	for _, opt := range opts {
		opt(c)
	}

	c.logger = c.logger.With(zap.String("component", "execution"))
	if c.registry == nil {
		c.registry = session.NewRegistry(nil, c.logger)
	}
	if c.resolver == nil {
		c.resolver = builtinResolver
	}
	if c.pool == nil {
		c.pool = pool.NewGoroutinePool(pool.DefaultGoroutinePoolConfig())
		c.ownsPool = true
	}
	return c
}

// WithSink reports every execution to s in addition to per-call sinks.
func WithSink(s progress.Sink) Option {
	return func(c *Coordinator) { c.sink = s }
}

// Registry returns the session registry.
func (c *Coordinator) Registry() *session.Registry { return c.registry }

// Limits returns the current limits.
func (c *Coordinator) Limits() Limits { return *c.limits.Load() }

// UpdateLimits replaces the limits for executions that start afterwards.
func (c *Coordinator) UpdateLimits(l Limits) {
	l = l.withDefaults()
	c.limits.Store(&l)
	c.logger.Info("execution limits updated",
		zap.Duration("default_timeout", l.DefaultTimeout),
		zap.Duration("command_timeout", l.CommandTimeout),
		zap.Duration("session_lock_wait", l.SessionLockWait),
		zap.Duration("cancel_grace", l.CancelGrace),
		zap.Int("max_output_lines", l.MaxOutputLines))
}

// Inflight lists running executions, oldest first.
func (c *Coordinator) Inflight() []InflightExecution { return c.inflight.list() }

// work is the interpreter-bound part of one execution. It runs on a pool
// worker and acquires the GIL itself, for as short as it can.
type work func(ctx context.Context, scope *interpreter.Scope, out interpreter.Output) (any, error)

type request struct {
	mode      Mode
	sessionID string
	code      string
	timeout   time.Duration
	sink      progress.Sink
	// stream relays output to the sink line by line while the unit runs;
	// otherwise output is reported once as a single event.
	stream bool
	// partial keeps the unit's value when it returned after a timeout or
	// stop, so work done before the stop point is still reported.
	partial bool
	run     work
	// validate runs before any lock is taken.
	validate func() error
}

// execute is the shared pipeline behind every mode.
func (c *Coordinator) execute(ctx context.Context, req request) (*Result, error) {
	start := time.Now()
	res := &Result{
		ExecutionID: uuid.NewString(),
		SessionID:   req.sessionID,
		Mode:        req.mode,
	}
	sink := progress.Multi(c.sink, req.sink)

	ctx, span := c.tracer.Start(ctx, "execution."+string(req.mode),
		trace.WithAttributes(
			attribute.String("pyhost.session_id", req.sessionID),
			attribute.String("pyhost.execution_id", res.ExecutionID),
			attribute.String("pyhost.mode", string(req.mode)),
			attribute.Int("pyhost.code_bytes", len(req.code)),
		))
	defer span.End()

	finish := func(status Status, message string) *Result {
		res.Status = status
		res.Success = status == StatusCompleted
		res.Message = message
		res.Duration = time.Since(start)
		c.recorder.RecordExecution(string(req.mode), string(status), res.Duration)
		span.SetAttributes(attribute.String("pyhost.status", string(status)))
		if !res.Success {
			span.SetStatus(codes.Error, message)
		}
		c.reportTerminal(sink, res)
		c.logResult(res)
		return res
	}

	// ---- validation: no lock is taken ----
	if err := c.validate(req); err != nil {
		return finish(StatusInvalid, err.Error()), err
	}
	if c.closed.Load() {
		err := types.NewError(types.ErrUnavailable, ErrCoordinatorClosed.Error()).
			WithCause(ErrCoordinatorClosed).
			WithHTTPStatus(types.HTTPStatusFor(types.ErrUnavailable))
		return finish(StatusFaulted, err.Message), err
	}

	sess, created, err := c.registry.Ensure(ctx, req.sessionID, "")
	if err != nil {
		verr := types.NewInvalidRequestError(err.Error()).WithSession(req.sessionID)
		return finish(StatusInvalid, verr.Message), verr
	}
	if created {
		c.recorder.SetSessions(c.registry.Len())
	}

	// ---- session lock, bounded wait ----
	limits := c.Limits()
	lockStart := time.Now()
	release, err := c.locks.Acquire(ctx, req.sessionID, limits.SessionLockWait)
	if err != nil {
		if errors.Is(err, session.ErrSessionBusy) {
			c.recorder.RecordSessionLockWait(time.Since(lockStart), false)
			busy := types.NewSessionBusyError(req.sessionID)
			return finish(StatusBusy, busy.Message), busy
		}
		return finish(StatusCancelled, "Execution cancelled"), nil
	}
	defer release()
	c.recorder.RecordSessionLockWait(time.Since(lockStart), true)

	_ = c.registry.MarkBusy(ctx, req.sessionID)
	defer func() {
		_ = c.registry.MarkIdle(context.WithoutCancel(ctx), req.sessionID, res.Success)
	}()

	// ---- run context: caller ctx + deadline + stop signal ----
	timeout := req.timeout
	if timeout <= 0 {
		timeout = limits.DefaultTimeout
	}
	runCtx, cancel := context.WithCancelCause(
		ctxkeys.WithExecutionID(ctxkeys.WithSessionID(ctx, req.sessionID), res.ExecutionID))
	defer cancel(nil)
	runCtx, cancelTimeout := context.WithTimeoutCause(runCtx, timeout, ErrExecutionTimeout)
	defer cancelTimeout()

	c.recorder.SetInflight(c.inflight.add(InflightExecution{
		ExecutionID: res.ExecutionID,
		SessionID:   req.sessionID,
		Mode:        req.mode,
		StartedAt:   start,
	}, cancel))
	defer func() { c.recorder.SetInflight(c.inflight.remove(res.ExecutionID)) }()

	scope, err := c.scopeFor(runCtx, sess)
	if err != nil {
		c.logger.Error("namespace unavailable", zap.String("session_id", req.sessionID), zap.Error(err))
		return finish(StatusFaulted, err.Error()), err
	}

	progress.Report(sink, progress.Event{
		ExecutionID: res.ExecutionID,
		SessionID:   req.sessionID,
		Message:     fmt.Sprintf("%s execution started", req.mode),
		Severity:    progress.SeverityInfo,
		Type:        progress.EventStarted,
	})

	// ---- output relay + drain unit ----
	relay := channel.NewRelay[interpreter.Line]()
	out := interpreter.OutputFunc(func(l interpreter.Line) { relay.Push(l) })
	agg := newAggregate(limits.MaxOutputLines)

	var drained <-chan error
	if req.stream {
		drained, err = c.pool.Go(context.WithoutCancel(ctx), func(dctx context.Context) error {
			return relay.Drain(dctx, func(l interpreter.Line) {
				agg.add(l)
				c.reportLine(sink, res, l)
			})
		})
		if err != nil {
			relay.Close()
			herr := types.NewInternalError("start output relay", err).WithSession(req.sessionID)
			return finish(StatusFaulted, herr.Error()), herr
		}
	}
	closeRelay := func() {
		relay.Close()
		if drained != nil {
			<-drained
			return
		}
		_ = relay.Drain(context.Background(), agg.add)
	}

	// ---- interpreter unit ----
	var value any
	done, err := c.pool.Go(runCtx, func(wctx context.Context) error {
		v, err := req.run(wctx, scope, out)
		value = v
		return err
	})
	if err != nil {
		closeRelay()
		herr := types.NewInternalError("schedule execution", err).WithSession(req.sessionID)
		res.Lines = agg.result()
		res.Output = interpreter.JoinLines(res.Lines)
		return finish(StatusFaulted, herr.Error()), herr
	}

	var runErr error
	finished := false
	select {
	case runErr = <-done:
		finished = true
	case <-runCtx.Done():
		// give the unit a chance to observe the stop before closing the relay
		grace := time.NewTimer(limits.CancelGrace)
		select {
		case runErr = <-done:
			finished = true
		case <-grace.C:
			c.logger.Warn("interpreter unit did not stop within grace period",
				zap.String("execution_id", res.ExecutionID),
				zap.Duration("grace", limits.CancelGrace))
		}
		grace.Stop()
	}

	status := StatusCompleted
	message := ""
	switch {
	case finished && runErr == nil:
	case runCtx.Err() != nil:
		if errors.Is(context.Cause(runCtx), context.DeadlineExceeded) {
			status = StatusTimedOut
			message = fmt.Sprintf("Execution timed out after %s", timeout)
		} else {
			status = StatusCancelled
			message = "Execution cancelled"
		}
		out.WriteLine(interpreter.Line{Stream: interpreter.StreamStderr, Text: message})
	default:
		status = StatusFaulted
		interpreter.ReportError(out, runErr)
		message = errorSummary(runErr)
		if errors.Is(runErr, interpreter.ErrInterpreterPanic) || errors.Is(runErr, pool.ErrTaskPanic) {
			c.logger.Error("interpreter unit panicked",
				zap.String("execution_id", res.ExecutionID),
				zap.Error(runErr))
		}
	}

	closeRelay()
	if st := relay.Stats(); st.Dropped > 0 {
		c.logger.Debug("output dropped after relay close",
			zap.String("execution_id", res.ExecutionID),
			zap.Int64("dropped", st.Dropped),
			zap.Int("peak_backlog", st.PeakBacklog))
	}
	res.Lines = agg.result()
	res.Output = interpreter.JoinLines(res.Lines)
	for stream, n := range agg.counts() {
		c.recorder.RecordOutputLines(string(stream), n)
	}
	if !req.stream && res.Output != "" {
		progress.Report(sink, progress.Event{
			ExecutionID: res.ExecutionID,
			SessionID:   req.sessionID,
			Message:     res.Output,
			Severity:    progress.SeverityInfo,
			Type:        progress.EventOutput,
		})
	}
	if status == StatusCompleted || (req.partial && finished) {
		res.Value = value
	}
	return finish(status, message), nil
}

func (c *Coordinator) validate(req request) error {
	if strings.TrimSpace(req.sessionID) == "" {
		return types.NewInvalidRequestError("session id is required")
	}
	if req.validate != nil {
		if err := req.validate(); err != nil {
			var terr *types.Error
			if errors.As(err, &terr) {
				return terr.WithSession(req.sessionID)
			}
			return types.NewInvalidRequestError(err.Error()).WithSession(req.sessionID)
		}
	}
	return nil
}

// scopeFor returns the session namespace, provisioning it on first use.
func (c *Coordinator) scopeFor(ctx context.Context, sess *session.Session) (*interpreter.Scope, error) {
	if s := c.provider.GetScope(sess.ID); s != nil {
		return s, nil
	}

	env, err := c.resolver.Resolve(ctx, sess.EnvironmentID)
	if err != nil {
		if terr, ok := types.AsError(err); ok {
			return nil, terr.WithSession(sess.ID)
		}
		return nil, types.NewInternalError("resolve environment", err).WithSession(sess.ID)
	}
	scope, err := c.provider.CreateScope(sess.ID, env)
	if err != nil {
		return nil, types.NewInternalError("create namespace", err).WithSession(sess.ID)
	}
	if env.ID != sess.EnvironmentID {
		_ = c.registry.BindEnvironment(ctx, sess.ID, env.ID)
	}
	return scope, nil
}

func (c *Coordinator) gil() *interpreter.GIL { return c.provider.GIL() }

// =============================================================================
// 📣 progress / logging
// =============================================================================

func (c *Coordinator) reportLine(sink progress.Sink, res *Result, l interpreter.Line) {
	severity := progress.SeverityInfo
	if l.Stream == interpreter.StreamStderr {
		severity = progress.SeverityError
	}
	progress.Report(sink, progress.Event{
		ExecutionID: res.ExecutionID,
		SessionID:   res.SessionID,
		Message:     l.Text,
		Severity:    severity,
		Type:        progress.EventOutput,
		Stream:      string(l.Stream),
	})
}

func (c *Coordinator) reportTerminal(sink progress.Sink, res *Result) {
	e := progress.Event{
		ExecutionID: res.ExecutionID,
		SessionID:   res.SessionID,
		Message:     res.Message,
	}
	switch res.Status {
	case StatusCompleted:
		e.Type, e.Severity = progress.EventCompleted, progress.SeverityInfo
		if e.Message == "" {
			e.Message = fmt.Sprintf("%s execution completed in %s", res.Mode, res.Duration.Round(time.Millisecond))
		}
	case StatusBusy:
		e.Type, e.Severity = progress.EventBusy, progress.SeverityWarning
	case StatusTimedOut:
		e.Type, e.Severity = progress.EventTimeout, progress.SeverityWarning
	case StatusCancelled:
		e.Type, e.Severity = progress.EventCancelled, progress.SeverityWarning
	default:
		e.Type, e.Severity = progress.EventFaulted, progress.SeverityError
	}
	progress.Report(sink, e)
}

func (c *Coordinator) logResult(res *Result) {
	fields := []zap.Field{
		zap.String("execution_id", res.ExecutionID),
		zap.String("session_id", res.SessionID),
		zap.String("mode", string(res.Mode)),
		zap.String("status", string(res.Status)),
		zap.Duration("duration", res.Duration),
	}
	switch res.Status {
	case StatusCompleted:
		c.logger.Debug("execution finished", fields...)
	case StatusBusy, StatusInvalid:
		c.logger.Info("execution rejected", append(fields, zap.String("reason", res.Message))...)
	default:
		c.logger.Warn("execution failed", append(fields, zap.String("reason", res.Message))...)
	}
}

func errorSummary(err error) string {
	lines := interpreter.ErrorLines(err)
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}
