package sender

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/sirupsen/logrus"

	"smart-mailer-go/internal/config"
)

const gmailSendAttempts = 3

// GmailReplier sends auto-replies with the Gmail API
type GmailReplier struct {
	service   *gmail.Service
	userEmail string
	from      *mail.Address
	backoff   func(attempt int) time.Duration
}

// NewGmailReplier creates a Gmail API replier. Without options it
// authenticates with the configured refresh token.
func NewGmailReplier(cfg config.GmailConfig, fromName string, opts ...option.ClientOption) (*GmailReplier, error) {
	ctx := context.Background()
	if len(opts) == 0 {
		opts = []option.ClientOption{option.WithTokenSource(cfg.TokenSource(ctx, gmail.GmailSendScope))}
	}

	service, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	return &GmailReplier{
		service:   service,
		userEmail: cfg.UserEmail,
		from:      &mail.Address{Name: fromName, Address: cfg.UserEmail},
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt*attempt) * time.Second
		},
	}, nil
}

// SendReply sends an HTML reply, retrying when Gmail reports rate limiting
func (r *GmailReplier) SendReply(ctx context.Context, to, subject, htmlBody string) error {
	rcpt, err := parseRecipient(to)
	if err != nil {
		return err
	}

	raw, err := composeReply(r.from, rcpt, subject, htmlBody)
	if err != nil {
		return err
	}
	message := &gmail.Message{Raw: base64.URLEncoding.EncodeToString(raw)}

	var lastErr error
	for attempt := 1; attempt <= gmailSendAttempts; attempt++ {
		_, err := r.service.Users.Messages.Send(r.userEmail, message).Context(ctx).Do()
		if err == nil {
			logrus.Infof("Auto-reply sent to %s", rcpt.Address)
			return nil
		}

		lastErr = err
		logrus.Warnf("Failed to send auto-reply (attempt %d/%d): %v", attempt, gmailSendAttempts, err)

		if !isRateLimited(err) || attempt == gmailSendAttempts {
			break
		}

		wait := r.backoff(attempt)
		logrus.Infof("Rate limited, waiting %v before retry", wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	return fmt.Errorf("failed to send auto-reply: %w", lastErr)
}

// TestConnection checks the Gmail API by reading the user profile
func (r *GmailReplier) TestConnection(ctx context.Context) error {
	if _, err := r.service.Users.GetProfile(r.userEmail).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to test Gmail API connection: %w", err)
	}
	return nil
}

func isRateLimited(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "quota") || strings.Contains(msg, "rate")
}
