// Package progress defines the sink through which executions report captured
// output and terminal status. A nil sink is valid everywhere and means
// "not observed".
package progress

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Severity of a progress event.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// EventType classifies a progress event.
type EventType string

const (
	EventOutput    EventType = "output"
	EventStarted   EventType = "started"
	EventCompleted EventType = "completed"
	EventBusy      EventType = "busy"
	EventTimeout   EventType = "timeout"
	EventCancelled EventType = "cancelled"
	EventFaulted   EventType = "faulted"
	EventItem      EventType = "item"
)

// Event is one progress notification.
type Event struct {
	ExecutionID string    `json:"execution_id,omitempty"`
	SessionID   string    `json:"session_id"`
	Message     string    `json:"message"`
	Severity    Severity  `json:"severity"`
	Type        EventType `json:"type"`
	Stream      string    `json:"stream,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Sink receives progress events. Report must not block for long: it is
// called from the drain worker of a running execution.
type Sink interface {
	Report(e Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(e Event)

// Report implements Sink.
func (f SinkFunc) Report(e Event) { f(e) }

// Nop discards every event.
var Nop Sink = SinkFunc(func(Event) {})

// Report delivers e to s when s is non-nil, stamping the time if unset.
func Report(s Sink, e Event) {
	if s == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	s.Report(e)
}

// Multi fans out to every non-nil sink in order.
func Multi(sinks ...Sink) Sink {
	var live []Sink
	for _, s := range sinks {
		if s != nil {
			live = append(live, s)
		}
	}
	switch len(live) {
	case 0:
		return Nop
	case 1:
		return live[0]
	}
	return SinkFunc(func(e Event) {
		for _, s := range live {
			s.Report(e)
		}
	})
}

// NewZapSink logs every event. Output lines go to Debug; status events use
// the level matching their severity.
func NewZapSink(logger *zap.Logger) Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "progress"))
	return SinkFunc(func(e Event) {
		fields := []zap.Field{
			zap.String("session_id", e.SessionID),
			zap.String("execution_id", e.ExecutionID),
			zap.String("type", string(e.Type)),
		}
		if e.Stream != "" {
			fields = append(fields, zap.String("stream", e.Stream))
		}
		switch {
		case e.Type == EventOutput:
			logger.Debug(e.Message, fields...)
		case e.Severity == SeverityError:
			logger.Error(e.Message, fields...)
		case e.Severity == SeverityWarning:
			logger.Warn(e.Message, fields...)
		default:
			logger.Info(e.Message, fields...)
		}
	})
}

// Recorder collects events in memory. Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Report implements Sink.
func (r *Recorder) Report(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events of type t.
func (r *Recorder) OfType(t EventType) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
