// Package pipeline runs one fetch, dedupe, classify, act and audit pass over
// the mailbox. Messages are processed sequentially and independently: a failure
// on one message never stops the rest of the batch.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"smart-mailer-go/internal/metrics"
	"smart-mailer-go/internal/models"
	"smart-mailer-go/internal/templates"
)

// MailSource produces messages from a remote mailbox
type MailSource interface {
	Connect(ctx context.Context) error
	Disconnect() error
	FetchSince(ctx context.Context, lookback time.Duration, maxCount int) ([]models.Message, error)
	UnreadCount(ctx context.Context) (int, error)
}

// ActionSink delivers category actions
type ActionSink interface {
	SendReply(ctx context.Context, to, subject, htmlBody string) error
	PushNotification(ctx context.Context, n models.Notification) error
	TestConnectivity(ctx context.Context) bool
}

// Store is the persistence the pipeline needs
type Store interface {
	FindByExternalID(ctx context.Context, externalID string) (*models.EmailRecord, error)
	CreateRecord(ctx context.Context, record *models.EmailRecord) error
	SetSentFlag(ctx context.Context, id uint, flag models.SentFlag) error
	AppendAudit(ctx context.Context, recordID uint, action models.AuditAction, status models.AuditStatus, message string) error
	GetRecord(ctx context.Context, id uint) (*models.EmailRecord, error)
}

// Classifier assigns a category to a message
type Classifier interface {
	Classify(msg models.Message) models.Category
}

// ReplyRenderer renders the auto-reply body for a message
type ReplyRenderer interface {
	RenderAutoReply(msg models.Message) string
}

// Options holds the processing settings
type Options struct {
	Lookback     time.Duration
	MaxBatchSize int
	ReplyEnabled bool
}

// Summary describes one run
type Summary struct {
	RunID     uuid.UUID     `json:"run_id"`
	Attempted int           `json:"attempted"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Pipeline wires a mail source, classifier, sink and store together
type Pipeline struct {
	source     MailSource
	classifier Classifier
	sink       ActionSink
	store      Store
	renderer   ReplyRenderer
	metrics    *metrics.Metrics
	opts       Options
}

// New creates a pipeline. m may be nil.
func New(source MailSource, classifier Classifier, sink ActionSink, store Store, renderer ReplyRenderer, m *metrics.Metrics, opts Options) *Pipeline {
	return &Pipeline{
		source:     source,
		classifier: classifier,
		sink:       sink,
		store:      store,
		renderer:   renderer,
		metrics:    m,
		opts:       opts,
	}
}

// Run performs one pass over the mailbox. It returns an error only when the
// mail source cannot be reached; per-message failures are counted in the
// summary.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	summary := Summary{RunID: uuid.New(), StartedAt: time.Now()}
	log := logrus.WithField("run_id", summary.RunID.String())

	if err := p.source.Connect(ctx); err != nil {
		log.Errorf("Failed to connect to mail source: %v", err)
		p.metrics.ObserveRun("connect_error", 0, 0, time.Since(summary.StartedAt))
		return Summary{}, fmt.Errorf("%w: %v", models.ErrTransportUnavailable, err)
	}
	defer func() {
		if err := p.source.Disconnect(); err != nil {
			log.Warnf("Failed to disconnect from mail source: %v", err)
		}
	}()

	messages, err := p.source.FetchSince(ctx, p.opts.Lookback, p.opts.MaxBatchSize)
	if err != nil {
		log.Errorf("Failed to fetch emails: %v", err)
		p.metrics.ObserveRun("fetch_error", 0, 0, time.Since(summary.StartedAt))
		return Summary{}, fmt.Errorf("%w: %v", models.ErrTransportUnavailable, err)
	}
	if p.opts.MaxBatchSize > 0 && len(messages) > p.opts.MaxBatchSize {
		messages = messages[len(messages)-p.opts.MaxBatchSize:]
	}
	log.Infof("Fetched %d emails", len(messages))

	for _, msg := range messages {
		summary.Attempted++
		skipped, err := p.processSafely(ctx, msg)
		if err != nil {
			summary.Failed++
			log.WithField("external_id", msg.ExternalID).Errorf("Failed to process email: %v", err)
			continue
		}
		summary.Succeeded++
		if skipped {
			summary.Skipped++
		}
	}

	summary.Duration = time.Since(summary.StartedAt)
	log.WithFields(logrus.Fields{
		"attempted": summary.Attempted,
		"succeeded": summary.Succeeded,
		"failed":    summary.Failed,
		"skipped":   summary.Skipped,
		"duration":  summary.Duration.String(),
	}).Info("Email processing completed")
	p.metrics.ObserveRun("success", len(messages), summary.Skipped, summary.Duration)

	return summary, nil
}

// dispatch tracks the action in progress for a stored record
type dispatch struct {
	recordID uint
	action   models.AuditAction
}

func (p *Pipeline) processSafely(ctx context.Context, msg models.Message) (skipped bool, err error) {
	var d dispatch
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing email: %v", r)
			if d.action != "" {
				p.audit(ctx, d.recordID, d.action, models.StatusError, err.Error())
				p.metrics.ObserveAction(string(d.action), string(models.StatusError))
			}
		}
	}()
	return p.process(ctx, msg, &d)
}

func (p *Pipeline) process(ctx context.Context, msg models.Message, d *dispatch) (bool, error) {
	existing, err := p.store.FindByExternalID(ctx, msg.ExternalID)
	if err != nil {
		return false, err
	}
	if existing != nil {
		logrus.WithField("external_id", msg.ExternalID).Debug("Email already processed, skipping")
		return true, nil
	}

	category := p.classifier.Classify(msg)
	p.metrics.ObserveClassified(string(category))

	record := &models.EmailRecord{
		ExternalID: msg.ExternalID,
		Subject:    msg.Subject,
		Sender:     msg.Sender,
		Recipient:  msg.Recipient,
		ReceivedAt: msg.ReceivedAt,
		Body:       msg.Body,
		Category:   category,
	}
	if err := p.store.CreateRecord(ctx, record); err != nil {
		return false, err
	}
	p.audit(ctx, record.ID, models.ActionClassified, models.StatusSuccess, fmt.Sprintf("Email classified as %s", category))

	log := logrus.WithFields(logrus.Fields{"record_id": record.ID, "external_id": msg.ExternalID})
	log.Infof("Email classified as %s", category)

	d.recordID = record.ID
	switch category {
	case models.CategoryImportant:
		d.action = models.ActionNotificationSent
		return false, p.notify(ctx, record, models.ActionNotificationSent)
	default:
		if p.opts.ReplyEnabled {
			d.action = models.ActionReplySent
		}
		return false, p.reply(ctx, record)
	}
}

func (p *Pipeline) reply(ctx context.Context, record *models.EmailRecord) error {
	if !p.opts.ReplyEnabled {
		return nil
	}

	msg := record.Message()
	body := p.renderer.RenderAutoReply(msg)
	if err := p.sink.SendReply(ctx, msg.Sender, templates.ReplySubject(msg.Subject), body); err != nil {
		p.audit(ctx, record.ID, models.ActionReplySent, models.StatusError, err.Error())
		p.metrics.ObserveAction(string(models.ActionReplySent), string(models.StatusError))
		return fmt.Errorf("failed to send auto-reply: %w", err)
	}
	p.metrics.ObserveAction(string(models.ActionReplySent), string(models.StatusSuccess))

	if err := p.store.SetSentFlag(ctx, record.ID, models.FlagReplySent); err != nil {
		p.audit(ctx, record.ID, models.ActionReplySent, models.StatusError, "delivered but failed to persist flag: "+err.Error())
		return fmt.Errorf("failed to mark reply as sent: %w", err)
	}
	record.ReplySent = true
	p.audit(ctx, record.ID, models.ActionReplySent, models.StatusSuccess, "Auto-reply sent to "+msg.Sender)
	return nil
}

func (p *Pipeline) notify(ctx context.Context, record *models.EmailRecord, action models.AuditAction) error {
	notification := templates.BuildNotification(record.Message())
	if err := p.sink.PushNotification(ctx, notification); err != nil {
		p.audit(ctx, record.ID, action, models.StatusError, err.Error())
		p.metrics.ObserveAction(string(action), string(models.StatusError))
		return fmt.Errorf("failed to push notification: %w", err)
	}
	p.metrics.ObserveAction(string(action), string(models.StatusSuccess))

	if err := p.store.SetSentFlag(ctx, record.ID, models.FlagNotificationSent); err != nil {
		p.audit(ctx, record.ID, action, models.StatusError, "delivered but failed to persist flag: "+err.Error())
		return fmt.Errorf("failed to mark notification as sent: %w", err)
	}
	record.NotificationSent = true
	p.audit(ctx, record.ID, action, models.StatusSuccess, "Notification sent")
	return nil
}

// audit failures are logged and never change the outcome of a message
func (p *Pipeline) audit(ctx context.Context, recordID uint, action models.AuditAction, status models.AuditStatus, message string) {
	if err := p.store.AppendAudit(ctx, recordID, action, status, message); err != nil {
		logrus.WithField("record_id", recordID).Errorf("Failed to append audit entry %s: %v", action, err)
	}
}

// Resend pushes the notification of an existing important record again
func (p *Pipeline) Resend(ctx context.Context, recordID uint) (*models.EmailRecord, error) {
	record, err := p.store.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if record.Category != models.CategoryImportant {
		return nil, models.ErrNotImportant
	}
	if err := p.notify(ctx, record, models.ActionNotificationResent); err != nil {
		if errors.Is(err, models.ErrTransportUnavailable) || errors.Is(err, models.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", models.ErrPersistence, err)
	}
	logrus.WithField("record_id", recordID).Info("Notification resent")
	return record, nil
}

// CheckConnectivity connects to the mail source and tests the sink
func (p *Pipeline) CheckConnectivity(ctx context.Context) error {
	if err := p.source.Connect(ctx); err != nil {
		return fmt.Errorf("%w: mail source: %v", models.ErrTransportUnavailable, err)
	}
	defer p.source.Disconnect()

	if unread, err := p.source.UnreadCount(ctx); err == nil {
		logrus.Infof("Mailbox reachable, %d unread emails", unread)
	}
	if !p.sink.TestConnectivity(ctx) {
		return fmt.Errorf("%w: action sink", models.ErrTransportUnavailable)
	}
	return nil
}
