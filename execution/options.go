package execution

import (
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/pyhost/internal/pool"
	"github.com/BaSui01/pyhost/session"
)

// Limits bounds every execution. Zero fields fall back to DefaultLimits.
type Limits struct {
	DefaultTimeout  time.Duration `json:"default_timeout"`
	CommandTimeout  time.Duration `json:"command_timeout"`
	SessionLockWait time.Duration `json:"session_lock_wait"`
	CancelGrace     time.Duration `json:"cancel_grace"`
	// MaxOutputLines caps the aggregated output kept in a Result; 0 keeps
	// everything. The progress sink still sees every line.
	MaxOutputLines int `json:"max_output_lines"`
}

// DefaultLimits returns the stock limits.
func DefaultLimits() Limits {
	return Limits{
		DefaultTimeout:  30 * time.Second,
		CommandTimeout:  10 * time.Second,
		SessionLockWait: 5 * time.Second,
		CancelGrace:     2 * time.Second,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.DefaultTimeout <= 0 {
		l.DefaultTimeout = d.DefaultTimeout
	}
	if l.CommandTimeout <= 0 {
		l.CommandTimeout = d.CommandTimeout
	}
	if l.SessionLockWait <= 0 {
		l.SessionLockWait = d.SessionLockWait
	}
	if l.CancelGrace <= 0 {
		l.CancelGrace = d.CancelGrace
	}
	if l.MaxOutputLines < 0 {
		l.MaxOutputLines = 0
	}
	return l
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithLimits sets the initial limits.
func WithLimits(l Limits) Option {
	return func(c *Coordinator) { c.limits.Store(ptr(l.withDefaults())) }
}

// WithPool runs worker units on p instead of a private pool. The caller
// keeps ownership of p.
func WithPool(p *pool.GoroutinePool) Option {
	return func(c *Coordinator) {
		if p != nil {
			c.pool = p
			c.ownsPool = false
		}
	}
}

// WithRecorder installs a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithTracer sets the tracer used for execution spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithLockTable shares a session lock table.
func WithLockTable(t *session.LockTable) Option {
	return func(c *Coordinator) {
		if t != nil {
			c.locks = t
		}
	}
}

func ptr[T any](v T) *T { return &v }
