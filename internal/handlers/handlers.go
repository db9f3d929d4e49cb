package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"smart-mailer-go/internal/classifier"
	"smart-mailer-go/internal/models"
	"smart-mailer-go/internal/pipeline"
	"smart-mailer-go/internal/scheduler"
)

// EmailStore is the read and maintenance side of the repository
type EmailStore interface {
	GetRecord(ctx context.Context, id uint) (*models.EmailRecord, error)
	ListRecent(ctx context.Context, limit int, category *models.Category) ([]models.EmailRecord, error)
	DeleteRecord(ctx context.Context, id uint) error
	SetCategory(ctx context.Context, id uint, category models.Category) error
	AggregateCounts(ctx context.Context) (*models.Counts, error)
	ListAudit(ctx context.Context, recordID *uint, limit int) ([]models.AuditEntry, error)
	Ping(ctx context.Context) error
}

// Resender replays the notification of an important record
type Resender interface {
	Resend(ctx context.Context, recordID uint) (*models.EmailRecord, error)
}

// Transports reports on and exercises the outbound transports
type Transports interface {
	TestConnectivity(ctx context.Context) bool
	SendTestNotification(ctx context.Context) error
}

// RuleSource exposes the active classification rules
type RuleSource interface {
	Rules() classifier.RuleSet
}

// SchedulerControl is the scheduler surface used by the API
type SchedulerControl interface {
	Start() error
	Stop() error
	IsRunning() bool
	Trigger() error
	Status() scheduler.Status
	Cleanup(ctx context.Context, days int) (int64, error)
}

var _ SchedulerControl = (*scheduler.Scheduler)(nil)
var _ Resender = (*pipeline.Pipeline)(nil)

// Handlers contains all HTTP handlers
type Handlers struct {
	store         EmailStore
	resender      Resender
	transports    Transports
	rules         RuleSource
	scheduler     SchedulerControl
	metrics       http.Handler
	retentionDays int
}

// NewHandlers creates new HTTP handlers
func NewHandlers(store EmailStore, resender Resender, transports Transports, rules RuleSource, s SchedulerControl, metricsHandler http.Handler, retentionDays int) *Handlers {
	return &Handlers{
		store:         store,
		resender:      resender,
		transports:    transports,
		rules:         rules,
		scheduler:     s,
		metrics:       metricsHandler,
		retentionDays: retentionDays,
	}
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(h.metrics))

	api := router.Group("/api/v1")
	{
		api.GET("/emails", h.GetEmails)
		api.GET("/emails/:id", h.GetEmail)
		api.DELETE("/emails/:id", h.DeleteEmail)
		api.PUT("/emails/:id/category", h.UpdateCategory)
		api.POST("/emails/:id/resend-notification", h.ResendNotification)

		api.GET("/stats", h.GetStats)
		api.GET("/logs", h.GetLogs)
		api.POST("/maintenance/cleanup", h.Cleanup)

		api.GET("/classifier/rules", h.GetClassifierRules)
		api.POST("/notifications/test", h.TestNotification)

		api.POST("/scheduler/start", h.StartScheduler)
		api.POST("/scheduler/stop", h.StopScheduler)
		api.POST("/scheduler/run-once", h.RunOnce)
		api.GET("/scheduler/status", h.GetSchedulerStatus)
	}
}

func requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), 30*time.Second)
}

func abortWithError(c *gin.Context, code int, errType, message string) {
	c.AbortWithStatusJSON(code, models.ErrorResponse{Error: errType, Message: message, Code: code})
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		abortWithError(c, http.StatusBadRequest, "invalid_id", "Invalid email ID")
		return 0, false
	}
	return uint(id), true
}

// parseBoundedInt reads an optional query parameter within [min, max]
func parseBoundedInt(c *gin.Context, name string, def, min, max int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < min || value > max {
		abortWithError(c, http.StatusBadRequest, "validation_error",
			"Parameter "+name+" must be an integer between "+strconv.Itoa(min)+" and "+strconv.Itoa(max))
		return 0, false
	}
	return value, true
}
