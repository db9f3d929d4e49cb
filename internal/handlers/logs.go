package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"smart-mailer-go/internal/models"
)

// GetLogs returns the newest processing log entries
func (h *Handlers) GetLogs(c *gin.Context) {
	limit, ok := parseBoundedInt(c, "limit", 100, 1, 1000)
	if !ok {
		return
	}

	var recordID *uint
	if raw := c.Query("email_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			abortWithError(c, http.StatusBadRequest, "invalid_id", "Invalid email ID")
			return
		}
		value := uint(id)
		recordID = &value
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	entries, err := h.store.ListAudit(ctx, recordID, limit)
	if err != nil {
		logrus.Errorf("Failed to fetch logs: %v", err)
		abortWithError(c, http.StatusInternalServerError, "database_error", "Failed to fetch logs")
		return
	}
	if entries == nil {
		entries = []models.AuditEntry{}
	}
	c.JSON(http.StatusOK, entries)
}

// GetStats returns aggregate processing statistics
func (h *Handlers) GetStats(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	counts, err := h.store.AggregateCounts(ctx)
	if err != nil {
		logrus.Errorf("Failed to aggregate stats: %v", err)
		abortWithError(c, http.StatusInternalServerError, "database_error", "Failed to fetch stats")
		return
	}

	total := counts.Total
	if total < 1 {
		total = 1
	}
	rate := float64(counts.RepliesSent+counts.NotificationsSent) / float64(total) * 100
	c.JSON(http.StatusOK, models.StatsResponse{Counts: *counts, ProcessingRate: rate})
}

// Cleanup deletes emails older than the requested number of days
func (h *Handlers) Cleanup(c *gin.Context) {
	days, ok := parseBoundedInt(c, "days", h.retentionDays, 1, 365)
	if !ok {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	deleted, err := h.scheduler.Cleanup(ctx, days)
	if err != nil {
		logrus.Errorf("Failed to clean up emails: %v", err)
		abortWithError(c, http.StatusInternalServerError, "database_error", "Failed to clean up emails")
		return
	}
	c.JSON(http.StatusOK, models.CleanupResponse{Deleted: deleted, Days: days})
}
