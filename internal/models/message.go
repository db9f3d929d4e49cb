package models

import "time"

// Message is a single email as produced by a mail source. Multi-part bodies
// are flattened to their plain-text parts before they reach the pipeline.
type Message struct {
	ExternalID string    `json:"external_id"`
	Subject    string    `json:"subject"`
	Sender     string    `json:"sender"`
	Recipient  string    `json:"recipient"`
	ReceivedAt time.Time `json:"received_at"`
	Body       string    `json:"body"`
}

// Notification is the payload pushed for important emails
type Notification struct {
	Sender     string    `json:"sender"`
	Subject    string    `json:"subject"`
	ReceivedAt time.Time `json:"received_at"`
	Preview    string    `json:"preview"`
}
