package execution

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InflightExecution describes a running execution.
type InflightExecution struct {
	ExecutionID string    `json:"execution_id"`
	SessionID   string    `json:"session_id"`
	Mode        Mode      `json:"mode"`
	StartedAt   time.Time `json:"started_at"`
}

type inflightEntry struct {
	info   InflightExecution
	cancel context.CancelCauseFunc
}

// inflightTable maps execution IDs to the cancel func of their run context.
type inflightTable struct {
	mu      sync.Mutex
	entries map[string]*inflightEntry
}

func newInflightTable() *inflightTable {
	return &inflightTable{entries: make(map[string]*inflightEntry)}
}

func (t *inflightTable) add(info InflightExecution, cancel context.CancelCauseFunc) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[info.ExecutionID] = &inflightEntry{info: info, cancel: cancel}
	return len(t.entries)
}

func (t *inflightTable) remove(executionID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, executionID)
	return len(t.entries)
}

// cancel cancels every entry accepted by match and returns how many.
func (t *inflightTable) cancel(match func(InflightExecution) bool, cause error) int {
	t.mu.Lock()
	var hit []context.CancelCauseFunc
	for _, e := range t.entries {
		if match(e.info) {
			hit = append(hit, e.cancel)
		}
	}
	t.mu.Unlock()

	for _, c := range hit {
		c(cause)
	}
	return len(hit)
}

func (t *inflightTable) list() []InflightExecution {
	t.mu.Lock()
	out := make([]InflightExecution, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e.info)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (t *inflightTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
