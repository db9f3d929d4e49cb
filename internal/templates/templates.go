package templates

import (
	"bytes"
	"fmt"
	"html"
	"html/template"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"smart-mailer-go/internal/models"
)

const (
	previewLength = 150
	dateLayout    = "02/01/2006 à 15:04"
	replyPrefix   = "Re: "
)

const defaultAutoReply = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Réponse automatique</title>
</head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
    <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
        <h2 style="color: #2c3e50;">Merci pour votre message</h2>
        <p>Bonjour,</p>
        <p>J'ai bien reçu votre email concernant <strong>"{{ .OriginalSubject }}"</strong>.</p>
        <p>Je vous remercie de m'avoir contacté. Je traiterai votre demande dans les plus brefs délais.</p>
        <p>Si votre demande est urgente, n'hésitez pas à me contacter par téléphone.</p>
        <hr style="border: none; border-top: 1px solid #eee; margin: 20px 0;">
        <p style="font-size: 12px; color: #666;">
            <em>Ce message a été envoyé automatiquement par SmartMailer.</em><br>
            <em>Date de réception: {{ .ReceivedDate }}</em>
        </p>
        <p>Cordialement,<br>
        {{ .SenderName }}</p>
    </div>
</body>
</html>`

// ReplyData is the data available to auto-reply templates
type ReplyData struct {
	OriginalSubject string
	ReceivedDate    string
	SenderName      string
}

// Renderer renders auto-reply bodies
type Renderer struct {
	tmpl       *template.Template
	senderName string
}

// NewRenderer parses the template at path, or the built-in template when path is empty
func NewRenderer(path, senderName string) (*Renderer, error) {
	source := defaultAutoReply
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read auto-reply template: %w", err)
		}
		source = string(content)
	}

	tmpl, err := template.New("auto_reply").Option("missingkey=error").Parse(source)
	if err != nil {
		return nil, fmt.Errorf("failed to parse auto-reply template: %w", err)
	}

	if senderName == "" {
		senderName = "SmartMailer"
	}
	return &Renderer{tmpl: tmpl, senderName: senderName}, nil
}

// RenderAutoReply renders the reply for msg. A template execution error
// falls back to a minimal built-in body.
func (r *Renderer) RenderAutoReply(msg models.Message) string {
	data := ReplyData{
		OriginalSubject: msg.Subject,
		ReceivedDate:    FormatDate(msg.ReceivedAt, ""),
		SenderName:      r.senderName,
	}

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, data); err != nil {
		logrus.Errorf("Failed to render auto-reply template: %v", err)
		return fallbackAutoReply(msg.Subject, r.senderName)
	}
	return buf.String()
}

func fallbackAutoReply(subject, senderName string) string {
	return fmt.Sprintf(`<html>
<body>
    <h2>Merci pour votre message</h2>
    <p>J'ai bien reçu votre email concernant "%s".</p>
    <p>Je vous remercie de m'avoir contacté. Je traiterai votre demande dans les plus brefs délais.</p>
    <p>Cordialement,<br>%s</p>
</body>
</html>`, html.EscapeString(subject), html.EscapeString(senderName))
}

// ReplySubject prefixes the subject with "Re: " unless it already carries it
func ReplySubject(subject string) string {
	if strings.HasPrefix(subject, replyPrefix) {
		return subject
	}
	return replyPrefix + subject
}

// BuildNotification builds the notification payload for an important message
func BuildNotification(msg models.Message) models.Notification {
	return models.Notification{
		Sender:     msg.Sender,
		Subject:    msg.Subject,
		ReceivedAt: msg.ReceivedAt,
		Preview:    Preview(msg.Body, previewLength),
	}
}

// Preview returns the first n characters of body, followed by "..." when truncated
func Preview(body string, n int) string {
	count := 0
	for i := range body {
		if count == n {
			return body[:i] + "..."
		}
		count++
	}
	return body
}

// FormatDate formats t the way notifications and replies display it
func FormatDate(t time.Time, fallback string) string {
	if t.IsZero() {
		return fallback
	}
	return t.Format(dateLayout)
}

// FormatTelegram renders a notification as a Telegram HTML message
func FormatTelegram(n models.Notification) string {
	sender := n.Sender
	if sender == "" {
		sender = "Unknown"
	}
	subject := n.Subject
	if subject == "" {
		subject = "No Subject"
	}

	return fmt.Sprintf(`🚨 <b>Email Important Reçu</b>

📧 <b>Expéditeur:</b> %s
📝 <b>Sujet:</b> %s
📅 <b>Date:</b> %s

📄 <b>Aperçu:</b>
%s

<i>Notification SmartMailer</i>`,
		html.EscapeString(sender),
		html.EscapeString(subject),
		FormatDate(n.ReceivedAt, "Date inconnue"),
		html.EscapeString(n.Preview),
	)
}

// TelegramTestMessage is sent by the notification test endpoint
const TelegramTestMessage = `🧪 <b>Test SmartMailer</b>

Ce message confirme que votre configuration Telegram fonctionne correctement.

<i>SmartMailer est prêt à vous notifier des emails importants !</i>`
