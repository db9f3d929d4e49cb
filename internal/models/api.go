package models

import "time"

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Database   string            `json:"database"`
	Transports string            `json:"transports"`
	Scheduler  map[string]string `json:"scheduler"`
}

// StatsResponse is the processing statistics payload
type StatsResponse struct {
	Counts
	ProcessingRate float64 `json:"processing_rate"`
}

// CategoryRequest is the body of a reclassification request
type CategoryRequest struct {
	Category Category `json:"category" binding:"required"`
}

// CleanupResponse reports a retention sweep
type CleanupResponse struct {
	Deleted int64 `json:"deleted"`
	Days    int   `json:"days"`
}

// MessageResponse is a plain acknowledgement
type MessageResponse struct {
	Message string `json:"message"`
}
