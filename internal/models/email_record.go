package models

import (
	"time"
)

// Category is the classification outcome for an email
type Category string

const (
	CategoryNormal    Category = "normal"
	CategoryImportant Category = "important"
)

// IsValid reports whether c is a known category
func (c Category) IsValid() bool {
	switch c {
	case CategoryNormal, CategoryImportant:
		return true
	}
	return false
}

// SentFlag names one of the monotonic delivery flags on an EmailRecord
type SentFlag string

const (
	FlagReplySent        SentFlag = "reply_sent"
	FlagNotificationSent SentFlag = "notification_sent"
)

// Column returns the database column backing the flag
func (f SentFlag) Column() (string, bool) {
	switch f {
	case FlagReplySent:
		return "reply_sent", true
	case FlagNotificationSent:
		return "notification_sent", true
	}
	return "", false
}

// EmailRecord is the persisted outcome of processing one message. ExternalID
// is the deduplication key: at most one record exists per mailbox message.
type EmailRecord struct {
	ID               uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	ExternalID       string    `json:"external_id" gorm:"type:varchar(255);not null;uniqueIndex"`
	Subject          string    `json:"subject" gorm:"type:varchar(998)"`
	Sender           string    `json:"sender" gorm:"type:varchar(320)"`
	Recipient        string    `json:"recipient" gorm:"type:varchar(998)"`
	ReceivedAt       time.Time `json:"received_at" gorm:"index"`
	Body             string    `json:"body" gorm:"type:text"`
	Category         Category  `json:"category" gorm:"type:varchar(20);not null;index"`
	ReplySent        bool      `json:"reply_sent" gorm:"not null;default:false"`
	NotificationSent bool      `json:"notification_sent" gorm:"not null;default:false"`
	ProcessedAt      time.Time `json:"processed_at"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TableName specifies the table name for EmailRecord
func (EmailRecord) TableName() string {
	return "emails"
}

// Message rebuilds the message the record was created from
func (r EmailRecord) Message() Message {
	return Message{
		ExternalID: r.ExternalID,
		Subject:    r.Subject,
		Sender:     r.Sender,
		Recipient:  r.Recipient,
		ReceivedAt: r.ReceivedAt,
		Body:       r.Body,
	}
}
