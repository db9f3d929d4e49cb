// Package sender implements the outbound side of the pipeline: auto-replies
// over SMTP or the Gmail API, and notifications through Telegram.
package sender

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"smart-mailer-go/internal/models"
	"smart-mailer-go/internal/templates"
)

// Replier delivers auto-replies
type Replier interface {
	SendReply(ctx context.Context, to, subject, htmlBody string) error
	TestConnection(ctx context.Context) error
}

// Notifier delivers formatted notification text
type Notifier interface {
	Send(ctx context.Context, text string) error
	TestConnection(ctx context.Context) error
}

// ErrReplyDisabled is returned by SendReply when no replier is configured
var ErrReplyDisabled = errors.New("auto-reply transport is not configured")

// Sink combines a replier and a notifier. Delivery failures are wrapped
// with models.ErrTransportUnavailable.
type Sink struct {
	replier  Replier
	notifier Notifier
}

// NewSink creates a sink. replier may be nil when auto-replies are disabled.
func NewSink(replier Replier, notifier Notifier) *Sink {
	return &Sink{replier: replier, notifier: notifier}
}

// SendReply sends an auto-reply
func (s *Sink) SendReply(ctx context.Context, to, subject, htmlBody string) error {
	if s.replier == nil {
		return ErrReplyDisabled
	}
	if err := s.replier.SendReply(ctx, to, subject, htmlBody); err != nil {
		return fmt.Errorf("%w: %v", models.ErrTransportUnavailable, err)
	}
	return nil
}

// PushNotification formats and pushes an important-email notification
func (s *Sink) PushNotification(ctx context.Context, n models.Notification) error {
	if err := s.notifier.Send(ctx, templates.FormatTelegram(n)); err != nil {
		return fmt.Errorf("%w: %v", models.ErrTransportUnavailable, err)
	}
	return nil
}

// SendTestNotification checks the notifier and pushes a test message
func (s *Sink) SendTestNotification(ctx context.Context) error {
	if err := s.notifier.TestConnection(ctx); err != nil {
		return fmt.Errorf("%w: %v", models.ErrTransportUnavailable, err)
	}
	if err := s.notifier.Send(ctx, templates.TelegramTestMessage); err != nil {
		return fmt.Errorf("%w: %v", models.ErrTransportUnavailable, err)
	}
	return nil
}

// TestConnectivity reports whether every configured transport is reachable
func (s *Sink) TestConnectivity(ctx context.Context) bool {
	ok := true
	if s.replier != nil {
		if err := s.replier.TestConnection(ctx); err != nil {
			logrus.Errorf("Reply transport connection failed: %v", err)
			ok = false
		}
	}
	if err := s.notifier.TestConnection(ctx); err != nil {
		logrus.Errorf("Telegram connection failed: %v", err)
		ok = false
	}
	return ok
}
