package observability

import (
	"database/sql"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestFanoutDroppedTotal(t *testing.T) {
	before := testutil.ToFloat64(FanoutDroppedTotal.WithLabelValues("queue_full"))
	FanoutDroppedTotal.WithLabelValues("queue_full").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(FanoutDroppedTotal.WithLabelValues("queue_full")))
}

func TestWebSocketConnectionsActive(t *testing.T) {
	before := testutil.ToFloat64(WebSocketConnectionsActive)
	WebSocketConnectionsActive.Inc()
	WebSocketConnectionsActive.Inc()
	WebSocketConnectionsActive.Dec()
	assert.Equal(t, before+1, testutil.ToFloat64(WebSocketConnectionsActive))
	WebSocketConnectionsActive.Dec()
}

func TestObserveStoreOperation(t *testing.T) {
	before := testutil.CollectAndCount(StoreOperationDuration)
	ObserveStoreOperation("memory", "observe_test", time.Now().Add(-time.Millisecond))
	assert.Equal(t, before+1, testutil.CollectAndCount(StoreOperationDuration))
}

func TestRecordDBStats(t *testing.T) {
	RecordDBStats(sql.DBStats{OpenConnections: 7, InUse: 3, Idle: 4})

	assert.Equal(t, 7.0, testutil.ToFloat64(DBConnectionsOpen))
	assert.Equal(t, 3.0, testutil.ToFloat64(DBConnectionsInUse))
	assert.Equal(t, 4.0, testutil.ToFloat64(DBConnectionsIdle))
}
