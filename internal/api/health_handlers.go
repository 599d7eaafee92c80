package api

import (
	"context"
	"net/http"
	"time"
)

// Pinger is satisfied by *sql.DB and by small adapters around Redis and NATS.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type PingFunc func(ctx context.Context) error

func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }

type HealthHandler struct {
	Checks  map[string]Pinger
	Timeout time.Duration
}

// GET /healthz
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.Checks))
	for name, p := range h.Checks {
		if err := p.PingContext(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	respondJSON(w, status, map[string]any{"status": state, "checks": checks})
}
