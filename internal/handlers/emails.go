package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"smart-mailer-go/internal/models"
)

// GetEmails lists the most recent emails, optionally filtered by classification
func (h *Handlers) GetEmails(c *gin.Context) {
	limit, ok := parseBoundedInt(c, "limit", 50, 1, 1000)
	if !ok {
		return
	}

	var category *models.Category
	if raw := c.Query("classification"); raw != "" {
		value := models.Category(raw)
		if !value.IsValid() {
			abortWithError(c, http.StatusBadRequest, "validation_error", "Classification must be normal or important")
			return
		}
		category = &value
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	records, err := h.store.ListRecent(ctx, limit, category)
	if err != nil {
		logrus.Errorf("Failed to list emails: %v", err)
		abortWithError(c, http.StatusInternalServerError, "database_error", "Failed to fetch emails")
		return
	}
	c.JSON(http.StatusOK, records)
}

// GetEmail returns a single email by ID
func (h *Handlers) GetEmail(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	record, err := h.store.GetRecord(ctx, id)
	if err != nil {
		h.respondStoreError(c, err, "Failed to fetch email")
		return
	}
	c.JSON(http.StatusOK, record)
}

// DeleteEmail deletes a single email by ID
func (h *Handlers) DeleteEmail(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.store.DeleteRecord(ctx, id); err != nil {
		h.respondStoreError(c, err, "Failed to delete email")
		return
	}
	c.Status(http.StatusNoContent)
}

// UpdateCategory reclassifies an email
func (h *Handlers) UpdateCategory(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req models.CategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil || !req.Category.IsValid() {
		abortWithError(c, http.StatusBadRequest, "validation_error", "Category must be normal or important")
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.store.SetCategory(ctx, id, req.Category); err != nil {
		h.respondStoreError(c, err, "Failed to update category")
		return
	}
	record, err := h.store.GetRecord(ctx, id)
	if err != nil {
		h.respondStoreError(c, err, "Failed to fetch email")
		return
	}
	c.JSON(http.StatusOK, record)
}

// ResendNotification pushes the notification of an important email again
func (h *Handlers) ResendNotification(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	record, err := h.resender.Resend(ctx, id)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, record)
	case errors.Is(err, models.ErrRecordNotFound):
		abortWithError(c, http.StatusNotFound, "not_found", "Email not found")
	case errors.Is(err, models.ErrNotImportant):
		abortWithError(c, http.StatusBadRequest, "not_important", err.Error())
	case errors.Is(err, models.ErrTransportUnavailable):
		logrus.Errorf("Failed to resend notification for email %d: %v", id, err)
		abortWithError(c, http.StatusBadGateway, "transport_error", "Failed to send notification")
	default:
		logrus.Errorf("Failed to resend notification for email %d: %v", id, err)
		abortWithError(c, http.StatusInternalServerError, "database_error", "Failed to resend notification")
	}
}

func (h *Handlers) respondStoreError(c *gin.Context, err error, message string) {
	if errors.Is(err, models.ErrRecordNotFound) {
		abortWithError(c, http.StatusNotFound, "not_found", "Email not found")
		return
	}
	logrus.Errorf("%s: %v", message, err)
	abortWithError(c, http.StatusInternalServerError, "database_error", message)
}
