package handler

import (
	"context"
	"database/sql"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/render"
)

// Health returns basic health check
func Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{
		"status": "ok",
	})
}

// HealthCheckResult represents the result of a health check
type HealthCheckResult struct {
	Status    string                 `json:"status"`
	LatencyMs int64                  `json:"latency_ms,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// ReadinessCheck probes one dependency.
type ReadinessCheck struct {
	Name string
	Run  func(ctx context.Context) HealthCheckResult
}

// Pinger is anything with a cheap liveness probe: stores and the broker.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck wraps a Pinger as a readiness check.
func PingCheck(name string, p Pinger) ReadinessCheck {
	return ReadinessCheck{
		Name: name,
		Run: func(ctx context.Context) HealthCheckResult {
			start := time.Now()
			err := p.Ping(ctx)
			latency := time.Since(start)

			if err != nil {
				return HealthCheckResult{
					Status:    "down",
					LatencyMs: latency.Milliseconds(),
					Error:     err.Error(),
				}
			}
			return HealthCheckResult{Status: "up", LatencyMs: latency.Milliseconds()}
		},
	}
}

// DatabaseCheck pings Postgres and reports pool statistics.
func DatabaseCheck(db *sql.DB) ReadinessCheck {
	return ReadinessCheck{
		Name: "database",
		Run: func(ctx context.Context) HealthCheckResult {
			start := time.Now()
			err := db.PingContext(ctx)
			latency := time.Since(start)

			if err != nil {
				return HealthCheckResult{
					Status:    "down",
					LatencyMs: latency.Milliseconds(),
					Error:     err.Error(),
				}
			}

			stats := db.Stats()
			return HealthCheckResult{
				Status:    "up",
				LatencyMs: latency.Milliseconds(),
				Metadata: map[string]interface{}{
					"connections_open":   stats.OpenConnections,
					"connections_in_use": stats.InUse,
					"connections_idle":   stats.Idle,
					"max_open":           stats.MaxOpenConnections,
				},
			}
		},
	}
}

// Ready runs every check in parallel and reports 503 unless all are up.
func Ready(checks ...ReadinessCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		results := make(map[string]HealthCheckResult, len(checks))
		var mu sync.Mutex
		var wg sync.WaitGroup
		for _, check := range checks {
			wg.Add(1)
			go func(check ReadinessCheck) {
				defer wg.Done()
				result := check.Run(ctx)
				mu.Lock()
				results[check.Name] = result
				mu.Unlock()
			}(check)
		}
		wg.Wait()

		allHealthy := true
		for _, result := range results {
			if result.Status != "up" {
				allHealthy = false
			}
		}

		response := map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
			"checks":    results,
		}

		if allHealthy {
			response["status"] = "ready"
			render.Status(r, http.StatusOK)
		} else {
			response["status"] = "not_ready"
			render.Status(r, http.StatusServiceUnavailable)
		}

		render.JSON(w, r, response)
	}
}
