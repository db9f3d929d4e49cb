package fetcher

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"

	"smart-mailer-go/internal/config"
	"smart-mailer-go/internal/models"
)

const imapTimeout = 30 * time.Second

// IMAPSource reads a mailbox folder over IMAP. The folder is opened
// read-only and bodies are fetched with BODY.PEEK, so messages keep their
// unread state.
type IMAPSource struct {
	cfg  config.MailboxConfig
	dial func(addr string) (*client.Client, error)

	mu     sync.Mutex
	client *client.Client
}

// NewIMAPSource creates an IMAP source that connects over TLS
func NewIMAPSource(cfg config.MailboxConfig) *IMAPSource {
	return &IMAPSource{
		cfg: cfg,
		dial: func(addr string) (*client.Client, error) {
			return client.DialTLS(addr, nil)
		},
	}
}

// Connect dials, logs in and selects the configured folder
func (s *IMAPSource) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.IMAPHost, s.cfg.IMAPPort)
	c, err := s.dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	c.Timeout = imapTimeout

	if err := c.Login(s.cfg.Username, s.cfg.Password); err != nil {
		c.Logout()
		return fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	if _, err := c.Select(s.folder(), true); err != nil {
		c.Logout()
		return fmt.Errorf("failed to select %s: %w", s.folder(), err)
	}

	s.client = c
	logrus.WithField("server", addr).Info("Connected to IMAP server")
	return nil
}

// Disconnect logs out. It is safe to call when not connected.
func (s *IMAPSource) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return nil
	}
	err := s.client.Logout()
	s.client = nil
	if err != nil {
		return fmt.Errorf("failed to logout from IMAP server: %w", err)
	}
	return nil
}

// FetchSince returns up to maxCount messages received within lookback,
// oldest first. When more match, the most recent ones are kept.
func (s *IMAPSource) FetchSince(ctx context.Context, lookback time.Duration, maxCount int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return nil, fmt.Errorf("IMAP source is not connected")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	criteria := imap.NewSearchCriteria()
	criteria.Since = time.Now().Add(-lookback)

	uids, err := s.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	if len(uids) == 0 {
		return []models.Message{}, nil
	}

	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	uids = lastN(uids, maxCount)

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, imap.FetchInternalDate, section.FetchItem()}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- s.client.UidFetch(seqset, items, messages)
	}()

	var fetched []*imap.Message
	for msg := range messages {
		fetched = append(fetched, msg)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	sort.Slice(fetched, func(i, j int) bool { return fetched[i].Uid < fetched[j].Uid })

	result := make([]models.Message, 0, len(fetched))
	for _, msg := range fetched {
		parsed, err := s.parse(msg, section)
		if err != nil {
			logrus.WithField("uid", msg.Uid).Warnf("Failed to parse IMAP message: %v", err)
			continue
		}
		result = append(result, parsed)
	}
	return result, nil
}

// UnreadCount returns the number of unseen messages in the folder
func (s *IMAPSource) UnreadCount(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return 0, fmt.Errorf("IMAP source is not connected")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	ids, err := s.client.Search(criteria)
	if err != nil {
		return 0, fmt.Errorf("failed to search unseen messages: %w", err)
	}
	return len(ids), nil
}

func (s *IMAPSource) parse(msg *imap.Message, section *imap.BodySectionName) (models.Message, error) {
	externalID := strconv.FormatUint(uint64(msg.Uid), 10)

	body := msg.GetBody(section)
	if body == nil {
		return models.Message{}, fmt.Errorf("server did not return a body for uid %d", msg.Uid)
	}

	received := msg.InternalDate
	if received.IsZero() {
		received = time.Now()
	}

	parsed, err := parseMessage(body, externalID, received, s.cfg.Username)
	if err != nil {
		return parsed, err
	}
	if parsed.Subject == "" && msg.Envelope != nil {
		parsed.Subject = msg.Envelope.Subject
	}
	return parsed, nil
}

func (s *IMAPSource) folder() string {
	if s.cfg.Folder == "" {
		return "INBOX"
	}
	return s.cfg.Folder
}
