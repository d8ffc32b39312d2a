// =============================================================================
// 📊 MockRecorder - 执行指标记录器模拟实现
// =============================================================================
// 同时满足 execution.Recorder 与 interpreter.GILObserver，按标签计数
//
// 使用方法:
//
//	rec := mocks.NewMockRecorder()
//	coord := execution.NewCoordinator(rt, nil, nil, execution.WithRecorder(rec))
//	rec.Executions("code", "completed") // 1
// =============================================================================
package mocks

import (
	"sync"
	"time"
)

// MockRecorder counts every recorded event. Safe for concurrent use.
type MockRecorder struct {
	mu sync.Mutex

	executions map[string]int
	lines      map[string]int
	items      int
	lockWaits  int
	lockDenied int
	inflight   int
	sessions   int
	gilWaits   int
	gilHolds   int
}

// NewMockRecorder 创建新的 MockRecorder
func NewMockRecorder() *MockRecorder {
	return &MockRecorder{
		executions: map[string]int{},
		lines:      map[string]int{},
	}
}

// =============================================================================
// 🎯 Recorder 接口
// =============================================================================

func (r *MockRecorder) RecordExecution(mode, status string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executions[mode+"/"+status]++
}

func (r *MockRecorder) RecordSessionLockWait(_ time.Duration, acquired bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lockWaits++
	if !acquired {
		r.lockDenied++
	}
}

func (r *MockRecorder) RecordOutputLines(stream string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines[stream] += n
}

func (r *MockRecorder) RecordGeneratorItems(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items += n
}

func (r *MockRecorder) SetInflight(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inflight = n
}

func (r *MockRecorder) SetSessions(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = n
}

func (r *MockRecorder) ObserveGILWait(time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gilWaits++
}

func (r *MockRecorder) ObserveGILHold(time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gilHolds++
}

// =============================================================================
// 🔍 查询
// =============================================================================

// Executions returns how many executions ended with mode and status.
func (r *MockRecorder) Executions(mode, status string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.executions[mode+"/"+status]
}

// Lines returns the number of recorded lines on stream.
func (r *MockRecorder) Lines(stream string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lines[stream]
}

func (r *MockRecorder) GeneratorItems() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.items
}

// LockWaits returns total and denied lock acquisitions.
func (r *MockRecorder) LockWaits() (total, denied int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lockWaits, r.lockDenied
}

// Gauges returns the last inflight and session values.
func (r *MockRecorder) Gauges() (inflight, sessions int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inflight, r.sessions
}

// GIL returns the number of observed waits and holds.
func (r *MockRecorder) GIL() (waits, holds int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gilWaits, r.gilHolds
}
