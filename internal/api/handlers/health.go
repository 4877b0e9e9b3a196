package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/nikhilbhutani/dictation/internal/api/respond"
)

// Pinger is satisfied by *redis.Client via a small adapter in the router.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	redis Pinger
}

// NewHealthHandler accepts a nil pinger when no redis is configured.
func NewHealthHandler(rdb Pinger) *HealthHandler {
	return &HealthHandler{redis: rdb}
}

func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}

	if h.redis != nil {
		if err := h.redis.Ping(r.Context()); err != nil {
			slog.WarnContext(r.Context(), "readiness check failed", "check", "redis", "error", err)
			checks["redis"] = "unhealthy"
		} else {
			checks["redis"] = "ok"
		}
	}

	status := http.StatusOK
	for _, v := range checks {
		if v != "ok" {
			status = http.StatusServiceUnavailable
			break
		}
	}

	respond.JSON(w, status, map[string]interface{}{"status": statusStr(status), "checks": checks})
}

func statusStr(code int) string {
	if code == http.StatusOK {
		return "ok"
	}
	return "unhealthy"
}
