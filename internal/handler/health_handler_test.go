package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"anonchat/internal/testutil"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealth_ReturnsOK(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	Health(w, req)

	testutil.AssertStatusCode(t, w, http.StatusOK)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
	assert.Equal(t, "ok", testutil.DecodeJSON[map[string]string](t, w)["status"])
}

func TestHealthCheckResult_JSON(t *testing.T) {
	tests := []struct {
		name   string
		result HealthCheckResult
		want   map[string]interface{}
	}{
		{
			name:   "healthy service",
			result: HealthCheckResult{Status: "up", LatencyMs: 5},
			want:   map[string]interface{}{"status": "up", "latency_ms": float64(5)},
		},
		{
			name:   "unhealthy service",
			result: HealthCheckResult{Status: "down", LatencyMs: 100, Error: "connection refused"},
			want:   map[string]interface{}{"status": "down", "latency_ms": float64(100), "error": "connection refused"},
		},
		{
			name:   "omits empty fields",
			result: HealthCheckResult{Status: "up"},
			want:   map[string]interface{}{"status": "up"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.result)
			require.NoError(t, err)

			var got map[string]interface{}
			require.NoError(t, json.Unmarshal(data, &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReady_AllChecksUp(t *testing.T) {
	handler := Ready(
		PingCheck("store", pingFunc(func(context.Context) error { return nil })),
		PingCheck("rabbitmq", pingFunc(func(context.Context) error { return nil })),
	)
	w := httptest.NewRecorder()

	handler(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	testutil.AssertStatusCode(t, w, http.StatusOK)
	var body struct {
		Status    string                       `json:"status"`
		Timestamp string                       `json:"timestamp"`
		Checks    map[string]HealthCheckResult `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ready", body.Status)
	assert.NotEmpty(t, body.Timestamp)
	assert.Equal(t, "up", body.Checks["store"].Status)
	assert.Equal(t, "up", body.Checks["rabbitmq"].Status)
}

func TestReady_OneCheckDown(t *testing.T) {
	handler := Ready(
		PingCheck("store", pingFunc(func(context.Context) error { return nil })),
		PingCheck("rabbitmq", pingFunc(func(context.Context) error { return errors.New("connection closed") })),
	)
	w := httptest.NewRecorder()

	handler(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	testutil.AssertStatusCode(t, w, http.StatusServiceUnavailable)
	var body struct {
		Status string                       `json:"status"`
		Checks map[string]HealthCheckResult `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "not_ready", body.Status)
	assert.Equal(t, "down", body.Checks["rabbitmq"].Status)
	assert.Equal(t, "connection closed", body.Checks["rabbitmq"].Error)
	assert.Equal(t, "up", body.Checks["store"].Status)
}

func TestReady_NoChecks(t *testing.T) {
	w := httptest.NewRecorder()

	Ready()(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	testutil.AssertStatusCode(t, w, http.StatusOK)
}

func TestDatabaseCheck(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing()
	result := DatabaseCheck(db).Run(context.Background())
	assert.Equal(t, "up", result.Status)
	assert.Contains(t, result.Metadata, "connections_open")

	mock.ExpectPing().WillReturnError(errors.New("database is down"))
	result = DatabaseCheck(db).Run(context.Background())
	assert.Equal(t, "down", result.Status)
	assert.Equal(t, "database is down", result.Error)

	assert.NoError(t, mock.ExpectationsWereMet())
}
