package sender

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/sirupsen/logrus"

	"smart-mailer-go/internal/config"
)

// SMTPReplier sends auto-replies through an SMTP relay. Plain connections
// are upgraded with STARTTLS when the server offers it.
type SMTPReplier struct {
	cfg  config.SMTPConfig
	from *mail.Address
	tls  *tls.Config
}

// NewSMTPReplier creates an SMTP replier sending as fromName <fromAddress>
func NewSMTPReplier(cfg config.SMTPConfig, fromAddress, fromName string) *SMTPReplier {
	return &SMTPReplier{
		cfg:  cfg,
		from: &mail.Address{Name: fromName, Address: fromAddress},
		tls:  &tls.Config{ServerName: cfg.Host},
	}
}

// SendReply sends an HTML reply to the given recipient
func (r *SMTPReplier) SendReply(ctx context.Context, to, subject, htmlBody string) error {
	rcpt, err := parseRecipient(to)
	if err != nil {
		return err
	}

	raw, err := composeReply(r.from, rcpt, subject, htmlBody)
	if err != nil {
		return err
	}

	c, err := r.connect(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.SendMail(r.from.Address, []string{rcpt.Address}, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}
	if err := c.Quit(); err != nil {
		logrus.Warnf("Failed to close SMTP session cleanly: %v", err)
	}

	logrus.Infof("Auto-reply sent to %s", rcpt.Address)
	return nil
}

// TestConnection connects and authenticates without sending anything
func (r *SMTPReplier) TestConnection(ctx context.Context) error {
	c, err := r.connect(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	return c.Quit()
}

func (r *SMTPReplier) connect(ctx context.Context) (*smtp.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(r.cfg.Host, strconv.Itoa(r.cfg.Port))

	var (
		c   *smtp.Client
		err error
	)
	if r.cfg.ImplicitTLS {
		c, err = smtp.DialTLS(addr, r.tls)
	} else {
		c, err = smtp.Dial(addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SMTP server: %w", err)
	}

	if !r.cfg.ImplicitTLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(r.tls); err != nil {
				c.Close()
				return nil, fmt.Errorf("failed to start TLS: %w", err)
			}
		}
	}

	if r.cfg.Username != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(sasl.NewPlainClient("", r.cfg.Username, r.cfg.Password)); err != nil {
				c.Close()
				return nil, fmt.Errorf("failed to authenticate: %w", err)
			}
		}
	}
	return c, nil
}
