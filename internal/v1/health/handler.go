package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Handler exposes the readiness tracker over HTTP probe endpoints.
type Handler struct {
	readiness *Readiness
}

// NewHandler creates a health check handler backed by a readiness tracker.
func NewHandler(r *Readiness) *Handler {
	return &Handler{readiness: r}
}

// LivenessResponse represents the liveness probe response
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response
type ReadinessResponse struct {
	Status    string            `json:"status"`
	State     string            `json:"state"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles the liveness probe endpoint
// GET /health/live
// Returns 200 if the process is alive (no dependency checks)
func (h *Handler) Liveness(c *gin.Context) {
	response := LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	c.JSON(http.StatusOK, response)
}

// Readiness handles the readiness probe endpoint
// GET /health/ready
// Returns 200 only while the process is Alive and every dependency answers
// Returns 503 during startup, after a dependency outage, or on a failed probe
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	state := StateAlive
	checks := map[string]string{}
	healthy := true
	if h.readiness != nil {
		state = h.readiness.State()
		checks, healthy = h.readiness.CheckAll(ctx)
	}

	status := "ready"
	statusCode := http.StatusOK
	if state != StateAlive || !healthy {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	response := ReadinessResponse{
		Status:    status,
		State:     state.String(),
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	c.JSON(statusCode, response)
}
