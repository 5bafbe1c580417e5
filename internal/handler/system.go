package handler

import (
	"context"
	"net/http"
	"time"

	"debtloop/pkg/logger"
)

// PingFunc probes one dependency, e.g. db.PingContext.
type PingFunc func(ctx context.Context) error

type SystemHandler struct {
	checks    map[string]PingFunc
	logger    logger.Logger
	startTime time.Time
}

// NewSystemHandler creates a SystemHandler. checks maps a dependency name to
// its probe; nil probes are skipped.
func NewSystemHandler(checks map[string]PingFunc, log logger.Logger) *SystemHandler {
	return &SystemHandler{
		checks:    checks,
		logger:    log,
		startTime: time.Now(),
	}
}

type DependencyStatus struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"uptime": time.Since(h.startTime).Round(time.Second).String(),
	})
}

// Ready probes every dependency and returns 503 when any is down.
func (h *SystemHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]DependencyStatus, len(h.checks))
	for name, ping := range h.checks {
		if ping == nil {
			continue
		}
		start := time.Now()
		err := ping(ctx)
		dep := DependencyStatus{Status: "operational", LatencyMs: time.Since(start).Milliseconds()}
		if err != nil {
			dep.Status = "outage"
			dep.Error = err.Error()
			status = http.StatusServiceUnavailable
			h.logger.Error("Readiness check failed", map[string]interface{}{
				"dependency": name,
				"error":      err.Error(),
			})
		}
		deps[name] = dep
	}

	ready := "ready"
	if status != http.StatusOK {
		ready = "not ready"
	}
	respondJSON(w, status, map[string]interface{}{
		"status":       ready,
		"dependencies": deps,
	})
}
