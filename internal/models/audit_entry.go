package models

import "time"

// AuditAction is a pipeline step recorded in the audit log
type AuditAction string

const (
	ActionClassified         AuditAction = "classified"
	ActionReplySent          AuditAction = "reply_sent"
	ActionNotificationSent   AuditAction = "notification_sent"
	ActionNotificationResent AuditAction = "notification_resent"
)

// AuditStatus is the outcome of an audited step
type AuditStatus string

const (
	StatusSuccess AuditStatus = "success"
	StatusError   AuditStatus = "error"
)

// AuditEntry is an append-only row describing one step for one record.
// RecordID is a back-reference only; no foreign key is enforced so that
// single-record deletion leaves the history in place.
type AuditEntry struct {
	ID        uint        `json:"id" gorm:"primaryKey;autoIncrement"`
	RecordID  uint        `json:"email_id" gorm:"not null;index"`
	Action    AuditAction `json:"action" gorm:"type:varchar(50);not null"`
	Status    AuditStatus `json:"status" gorm:"type:varchar(20);not null"`
	Message   string      `json:"message" gorm:"type:text"`
	Timestamp time.Time   `json:"timestamp" gorm:"index"`
}

// TableName specifies the table name for AuditEntry
func (AuditEntry) TableName() string {
	return "processing_logs"
}

// Counts aggregates processing statistics over all stored records
type Counts struct {
	Total             int64              `json:"total_emails"`
	ByCategory        map[Category]int64 `json:"by_category"`
	RepliesSent       int64              `json:"auto_replies_sent"`
	NotificationsSent int64              `json:"notifications_sent"`
}
