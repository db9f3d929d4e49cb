package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"smart-mailer-go/internal/models"
)

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	response := models.HealthResponse{
		Status:     "ok",
		Timestamp:  time.Now(),
		Database:   "ok",
		Transports: "ok",
		Scheduler:  make(map[string]string),
	}

	if err := h.store.Ping(ctx); err != nil {
		response.Status = "error"
		response.Database = "error"
		logrus.Errorf("Database health check failed: %v", err)
	}

	if !h.transports.TestConnectivity(ctx) {
		response.Transports = "error"
		if response.Status == "ok" {
			response.Status = "degraded"
		}
	}

	status := h.scheduler.Status()
	response.Scheduler["state"] = string(status.State)
	if status.TimerActive {
		response.Scheduler["timer"] = "running"
	} else {
		response.Scheduler["timer"] = "stopped"
	}
	if status.NextRun != nil {
		response.Scheduler["next_run"] = status.NextRun.Format(time.RFC3339)
	}
	if status.LastRun != nil {
		response.Scheduler["last_run"] = status.LastRun.Format(time.RFC3339)
	}

	statusCode := http.StatusOK
	if response.Status == "error" {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, response)
}
