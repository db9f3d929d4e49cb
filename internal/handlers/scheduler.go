package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"smart-mailer-go/internal/models"
	"smart-mailer-go/internal/scheduler"
)

// StartScheduler starts the email scheduler
func (h *Handlers) StartScheduler(c *gin.Context) {
	if err := h.scheduler.Start(); err != nil {
		abortWithError(c, http.StatusConflict, "scheduler_error", err.Error())
		return
	}
	c.JSON(http.StatusOK, h.scheduler.Status())
}

// StopScheduler stops the email scheduler
func (h *Handlers) StopScheduler(c *gin.Context) {
	if err := h.scheduler.Stop(); err != nil {
		abortWithError(c, http.StatusInternalServerError, "scheduler_error", err.Error())
		return
	}
	c.JSON(http.StatusOK, h.scheduler.Status())
}

// RunOnce starts a processing run in the background
func (h *Handlers) RunOnce(c *gin.Context) {
	switch err := h.scheduler.Trigger(); {
	case err == nil:
		c.JSON(http.StatusAccepted, models.MessageResponse{Message: "Processing run started"})
	case errors.Is(err, scheduler.ErrRunInProgress):
		abortWithError(c, http.StatusConflict, "run_in_progress", err.Error())
	case errors.Is(err, scheduler.ErrShuttingDown):
		abortWithError(c, http.StatusServiceUnavailable, "shutting_down", err.Error())
	default:
		logrus.Errorf("Failed to trigger processing run: %v", err)
		abortWithError(c, http.StatusInternalServerError, "scheduler_error", err.Error())
	}
}

// GetSchedulerStatus returns scheduler status
func (h *Handlers) GetSchedulerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.scheduler.Status())
}

// GetClassifierRules returns the active classification rules
func (h *Handlers) GetClassifierRules(c *gin.Context) {
	c.JSON(http.StatusOK, h.rules.Rules())
}

// TestNotification sends a test message through the notifier
func (h *Handlers) TestNotification(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.transports.SendTestNotification(ctx); err != nil {
		logrus.Errorf("Failed to send test notification: %v", err)
		abortWithError(c, http.StatusBadGateway, "transport_error", "Failed to send test notification")
		return
	}
	c.JSON(http.StatusOK, models.MessageResponse{Message: "Test notification sent"})
}
