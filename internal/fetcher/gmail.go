package fetcher

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/sirupsen/logrus"

	"smart-mailer-go/internal/config"
	"smart-mailer-go/internal/models"
)

// gmailMaxResults is the largest page the Gmail list endpoint returns
const gmailMaxResults = 500

// GmailSource reads the mailbox through the Gmail API
type GmailSource struct {
	cfg     config.GmailConfig
	opts    []option.ClientOption
	service *gmail.Service
}

// NewGmailSource creates a Gmail API source authenticated with the configured refresh token
func NewGmailSource(cfg config.GmailConfig) *GmailSource {
	return &GmailSource{
		cfg:  cfg,
		opts: []option.ClientOption{option.WithTokenSource(cfg.TokenSource(context.Background(), gmail.GmailReadonlyScope))},
	}
}

// NewGmailSourceWithOptions creates a Gmail API source with explicit client
// options, such as a custom endpoint
func NewGmailSourceWithOptions(cfg config.GmailConfig, opts ...option.ClientOption) *GmailSource {
	return &GmailSource{cfg: cfg, opts: opts}
}

// Connect creates the Gmail service and checks that the mailbox is reachable
func (s *GmailSource) Connect(ctx context.Context) error {
	if s.service == nil {
		service, err := gmail.NewService(ctx, s.opts...)
		if err != nil {
			return fmt.Errorf("failed to create Gmail service: %w", err)
		}
		s.service = service
	}

	if _, err := s.service.Users.GetProfile(s.cfg.UserEmail).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to reach Gmail mailbox: %w", err)
	}
	return nil
}

// Disconnect is a no-op; the Gmail API is stateless
func (s *GmailSource) Disconnect() error {
	return nil
}

// FetchSince returns up to maxCount messages received within lookback, oldest first
func (s *GmailSource) FetchSince(ctx context.Context, lookback time.Duration, maxCount int) ([]models.Message, error) {
	if s.service == nil {
		return nil, fmt.Errorf("Gmail source is not connected")
	}

	query := fmt.Sprintf("after:%d", time.Now().Add(-lookback).Unix())
	refs, err := s.listIDs(ctx, query, maxCount)
	if err != nil {
		return nil, err
	}

	// the list is newest first
	messages := make([]models.Message, 0, len(refs))
	for i := len(refs) - 1; i >= 0; i-- {
		id := refs[i]
		full, err := s.service.Users.Messages.Get(s.cfg.UserEmail, id).Format("raw").Context(ctx).Do()
		if err != nil {
			logrus.Warnf("Failed to get message %s: %v", id, err)
			continue
		}

		msg, err := parseGmailMessage(full, s.cfg.UserEmail)
		if err != nil {
			logrus.Warnf("Failed to parse message %s: %v", id, err)
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// listIDs pages through the list endpoint, newest first, until maxCount ids
// are collected. A non-positive maxCount reads a single page.
func (s *GmailSource) listIDs(ctx context.Context, query string, maxCount int) ([]string, error) {
	var ids []string
	pageToken := ""
	for {
		pageSize := gmailMaxResults
		if maxCount > 0 && maxCount-len(ids) < pageSize {
			pageSize = maxCount - len(ids)
		}

		call := s.service.Users.Messages.List(s.cfg.UserEmail).
			Q(query).
			MaxResults(int64(pageSize)).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		response, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("failed to list messages: %w", err)
		}

		for _, ref := range response.Messages {
			ids = append(ids, ref.Id)
		}
		if maxCount > 0 && len(ids) > maxCount {
			ids = ids[:maxCount]
		}

		pageToken = response.NextPageToken
		if pageToken == "" || maxCount <= 0 || len(ids) >= maxCount {
			return ids, nil
		}
	}
}

// UnreadCount returns the unread count of the INBOX label
func (s *GmailSource) UnreadCount(ctx context.Context) (int, error) {
	if s.service == nil {
		return 0, fmt.Errorf("Gmail source is not connected")
	}
	label, err := s.service.Users.Labels.Get(s.cfg.UserEmail, "INBOX").Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("failed to get INBOX label: %w", err)
	}
	return int(label.MessagesUnread), nil
}

func parseGmailMessage(msg *gmail.Message, defaultRecipient string) (models.Message, error) {
	raw, err := decodeBase64URL(msg.Raw)
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to decode raw message: %w", err)
	}

	received := time.Now()
	if msg.InternalDate > 0 {
		received = time.UnixMilli(msg.InternalDate)
	}
	return parseRaw(raw, msg.Id, received, defaultRecipient)
}

// decodeBase64URL accepts both padded and unpadded base64url
func decodeBase64URL(data string) ([]byte, error) {
	data = strings.TrimRight(data, "=")
	return base64.RawURLEncoding.DecodeString(data)
}
