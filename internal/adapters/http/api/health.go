package api

import (
	"net/http"
)

// Prober reports whether the bot is connected to its relay, with details
// for the response body.
type Prober interface {
	Healthy() (bool, map[string]any)
}

// ProbeFunc adapts a function to Prober.
type ProbeFunc func() (bool, map[string]any)

// Healthy calls f.
func (f ProbeFunc) Healthy() (bool, map[string]any) { return f() }

// HealthHandler handles health check requests.
type HealthHandler struct {
	prober Prober
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(prober Prober) *HealthHandler {
	return &HealthHandler{prober: prober}
}

// HandleHealth handles GET /healthz. It answers 200 while the relay is
// connected and 503 otherwise, so a supervisor can restart a stuck bot.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
		return
	}

	ok, details := h.prober.Healthy()
	body := map[string]any{"status": "ok"}
	for k, v := range details {
		body[k] = v
	}
	if !ok {
		body["status"] = "degraded"
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	writeJSON(w, http.StatusOK, body)
}
