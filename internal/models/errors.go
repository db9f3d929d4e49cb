package models

import "errors"

var (
	// ErrTransportUnavailable wraps mailbox or outbound transport failures
	ErrTransportUnavailable = errors.New("transport unavailable")
	// ErrPersistence wraps store write failures
	ErrPersistence = errors.New("persistence failure")
	// ErrDuplicateRecord is returned when a record for the external id already exists
	ErrDuplicateRecord = errors.New("record already exists")
	// ErrRecordNotFound is returned when no record matches the given id
	ErrRecordNotFound = errors.New("record not found")
	// ErrNotImportant is returned when a notification is requested for a non-important record
	ErrNotImportant = errors.New("only important emails can have notifications resent")
)
