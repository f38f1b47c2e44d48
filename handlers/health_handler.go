package handlers

import (
	"context"
	"net/http"

	"github.com/eventcrew/eventcrew-backend/types"
	"github.com/gin-gonic/gin"
)

// HealthChecker is implemented by services.HealthService.
type HealthChecker interface {
	CheckHealth(ctx context.Context) types.HealthCheck
}

type HealthHandler struct {
	checker HealthChecker
}

func NewHealthHandler(checker HealthChecker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

// ReadinessResponse is the short readiness answer.
type ReadinessResponse struct {
	Status     types.HealthStatus            `json:"status"`
	Components map[string]types.HealthStatus `json:"components"`
}

// LivenessCheck answers as long as the process serves HTTP.
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": types.HealthStatusUp})
}

// ReadinessCheck answers 503 while a required dependency is down. A degraded
// service stays ready.
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	health := h.checker.CheckHealth(c.Request.Context())

	resp := ReadinessResponse{
		Status:     health.Status,
		Components: make(map[string]types.HealthStatus, len(health.Components)),
	}
	for name, comp := range health.Components {
		resp.Components[name] = comp.Status
	}

	status := http.StatusOK
	if health.Status == types.HealthStatusDown {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

// DetailedHealth reports every component plus session and subscription counts.
func (h *HealthHandler) DetailedHealth(c *gin.Context) {
	c.JSON(http.StatusOK, h.checker.CheckHealth(c.Request.Context()))
}
