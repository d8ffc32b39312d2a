package metrics

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestCollector_RecordHTTPRequest(t *testing.T) {
	c := NewCollector(nextTestNamespace(), zap.NewNop())

	c.RecordHTTPRequest("GET", "/health", 200, 10*time.Millisecond, 64)
	c.RecordHTTPRequest("GET", "/health", 503, 10*time.Millisecond, 64)

	assert.Equal(t, float64(1), testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("GET", "/health", "2xx")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("GET", "/health", "5xx")))
}

func TestCollector_RecordExecution(t *testing.T) {
	c := NewCollector(nextTestNamespace(), nil)

	c.RecordExecution("code", "completed", 20*time.Millisecond)
	c.RecordExecution("code", "completed", 30*time.Millisecond)
	c.RecordExecution("code", "timed_out", time.Second)

	assert.Equal(t, float64(2), testutil.ToFloat64(c.executionsTotal.WithLabelValues("code", "completed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.executionsTotal.WithLabelValues("code", "timed_out")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.executionDuration))
}

func TestCollector_Gauges(t *testing.T) {
	c := NewCollector(nextTestNamespace(), nil)

	c.SetInflight(3)
	c.SetSessions(7)
	c.RecordGeneratorItems(5)
	c.RecordOutputLines("stdout", 4)
	c.RecordOutputLines("stderr", 1)
	c.RecordDBConnections("environments", 4, 2)

	assert.Equal(t, float64(3), testutil.ToFloat64(c.inflight))
	assert.Equal(t, float64(7), testutil.ToFloat64(c.sessionsActive))
	assert.Equal(t, float64(5), testutil.ToFloat64(c.generatorItems))
	assert.Equal(t, float64(4), testutil.ToFloat64(c.outputLines.WithLabelValues("stdout")))
	assert.Equal(t, float64(2), testutil.ToFloat64(c.dbConnectionsIdle.WithLabelValues("environments")))
}

func TestCollector_LockObservations(t *testing.T) {
	c := NewCollector(nextTestNamespace(), nil)

	c.RecordSessionLockWait(time.Millisecond, true)
	c.RecordSessionLockWait(5*time.Second, false)
	c.ObserveGILWait(time.Microsecond)
	c.ObserveGILHold(time.Millisecond)

	assert.Equal(t, 2, testutil.CollectAndCount(c.sessionLockWait))
	assert.Equal(t, 1, testutil.CollectAndCount(c.gilWait))
	assert.Equal(t, 1, testutil.CollectAndCount(c.gilHold))
}

func TestStatusCode(t *testing.T) {
	cases := map[int]string{200: "2xx", 301: "3xx", 404: "4xx", 500: "5xx", 100: "unknown"}
	for code, want := range cases {
		assert.Equal(t, want, statusCode(code))
	}
}
