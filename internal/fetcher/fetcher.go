// Package fetcher provides the mailbox sources the pipeline reads from: an
// IMAP source and a Gmail API source. Both flatten messages to plain text
// with go-message and return them oldest first.
package fetcher

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"

	"smart-mailer-go/internal/models"
)

// parseMessage decodes a raw RFC 5322 message. The body is the concatenation
// of its text/plain parts, or the single part of a non-multipart message.
// fallbackDate is used when the Date header is missing or invalid, and
// defaultRecipient when there is no To header.
func parseMessage(r io.Reader, externalID string, fallbackDate time.Time, defaultRecipient string) (models.Message, error) {
	msg := models.Message{
		ExternalID: externalID,
		Recipient:  defaultRecipient,
		ReceivedAt: fallbackDate,
	}

	reader, err := mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return msg, fmt.Errorf("failed to read message: %w", err)
	}
	if err != nil {
		logrus.WithField("external_id", externalID).Warnf("Unknown charset in message headers: %v", err)
	}
	defer reader.Close()

	if subject, err := reader.Header.Subject(); err == nil {
		msg.Subject = subject
	}
	if from, err := reader.Header.Text("From"); err == nil {
		msg.Sender = from
	}
	if to, err := reader.Header.Text("To"); err == nil && to != "" {
		msg.Recipient = to
	}
	if date, err := reader.Header.Date(); err == nil && !date.IsZero() {
		msg.ReceivedAt = date
	}

	mediaType, _, _ := reader.Header.ContentType()
	multipart := strings.HasPrefix(mediaType, "multipart/")

	var body strings.Builder
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) && part != nil {
				logrus.WithField("external_id", externalID).Warnf("Unknown charset in message part: %v", err)
			} else {
				return msg, fmt.Errorf("failed to read part: %w", err)
			}
		}

		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		partType, _, _ := header.ContentType()
		if multipart && partType != "text/plain" {
			continue
		}

		content, err := io.ReadAll(part.Body)
		if err != nil {
			return msg, fmt.Errorf("failed to read part body: %w", err)
		}
		body.Write(content)
	}

	msg.Body = strings.TrimSpace(body.String())
	return msg, nil
}

// parseRaw is parseMessage over an in-memory message
func parseRaw(raw []byte, externalID string, fallbackDate time.Time, defaultRecipient string) (models.Message, error) {
	return parseMessage(bytes.NewReader(raw), externalID, fallbackDate, defaultRecipient)
}

// lastN keeps the final n items of an oldest-first slice
func lastN[T any](items []T, n int) []T {
	if n > 0 && len(items) > n {
		return items[len(items)-n:]
	}
	return items
}
