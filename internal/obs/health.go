package obs

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthStatusOK        HealthStatus = "ok"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Status    HealthStatus `json:"status"`
	Message   string       `json:"message,omitempty"`
	LatencyMS int64        `json:"latency_ms,omitempty"`
}

// HealthCheckResponse represents the overall health check response.
type HealthCheckResponse struct {
	Status        HealthStatus               `json:"status"`
	Version       string                     `json:"version"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	Timestamp     string                     `json:"timestamp"`
	Checks        map[string]ComponentHealth `json:"checks"`
}

// HealthCheckFunc checks the health of one component.
type HealthCheckFunc func(ctx context.Context) ComponentHealth

// HealthChecker aggregates named component checks for a long-running
// ctncipher process (e.g. one serving a metrics endpoint over many batch
// operations).
type HealthChecker struct {
	version   string
	startTime time.Time
	checks    map[string]HealthCheckFunc
}

// NewHealthChecker creates a health checker.
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		version:   version,
		startTime: time.Now(),
		checks:    make(map[string]HealthCheckFunc),
	}
}

// RegisterCheck registers a health check for a named component.
func (hc *HealthChecker) RegisterCheck(name string, checkFunc HealthCheckFunc) {
	hc.checks[name] = checkFunc
}

// Check runs every registered check and aggregates the worst status.
func (hc *HealthChecker) Check(ctx context.Context) HealthCheckResponse {
	response := HealthCheckResponse{
		Status:        HealthStatusOK,
		Version:       hc.version,
		UptimeSeconds: int64(time.Since(hc.startTime).Seconds()),
		Timestamp:     time.Now().Format(time.RFC3339),
		Checks:        make(map[string]ComponentHealth),
	}

	for name, checkFunc := range hc.checks {
		health := checkFunc(ctx)
		response.Checks[name] = health

		if health.Status == HealthStatusUnhealthy {
			response.Status = HealthStatusUnhealthy
		} else if health.Status == HealthStatusDegraded && response.Status != HealthStatusUnhealthy {
			response.Status = HealthStatusDegraded
		}
	}

	return response
}

// Handler returns an HTTP handler serving the aggregated health check.
func (hc *HealthChecker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		response := hc.Check(ctx)

		w.Header().Set("Content-Type", "application/json")
		switch response.Status {
		case HealthStatusOK, HealthStatusDegraded:
			w.WriteHeader(http.StatusOK)
		case HealthStatusUnhealthy:
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		_ = json.NewEncoder(w).Encode(response)
	}
}

// KeystoreCheck reports whether the master key was successfully loaded
// before the pipeline started accepting work.
func KeystoreCheck(keyLoaded bool) HealthCheckFunc {
	return func(ctx context.Context) ComponentHealth {
		if keyLoaded {
			return ComponentHealth{Status: HealthStatusOK, Message: "master key loaded"}
		}
		return ComponentHealth{Status: HealthStatusUnhealthy, Message: "master key not loaded"}
	}
}

// ArenaCheck reports degraded health once the buffer arena's live byte
// footprint crosses a caller-chosen warning threshold, ahead of it
// actually hitting ErrCapacityExceeded.
func ArenaCheck(liveBytes, warnThresholdBytes int64) HealthCheckFunc {
	return func(ctx context.Context) ComponentHealth {
		if liveBytes < warnThresholdBytes {
			return ComponentHealth{Status: HealthStatusOK, Message: "arena within budget"}
		}
		return ComponentHealth{
			Status:  HealthStatusDegraded,
			Message: "arena live bytes approaching capacity ceiling",
		}
	}
}
