// Package email provides email sending capabilities via SMTP.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
	texttemplate "text/template"
)

// Config holds SMTP configuration
type Config struct {
	Host      string
	Port      string
	Username  string
	Password  string
	From      string
	FromName  string
	EnableTLS bool
}

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
}

// NewService creates a new email service
func NewService(config Config) *Service {
	auth := smtp.PlainAuth("", config.Username, config.Password, config.Host)

	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendHTMLEmail sends a multipart email with plain text and HTML
// alternatives. textBody may be empty, in which case a generic plain
// fallback is used.
func (s *Service) SendHTMLEmail(to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	if textBody == "" {
		textBody = "Please view this email in an HTML-capable email client."
	}

	// Simple multipart message
	boundary := "boundary-quorum"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	// Plain text alternative
	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", textBody)
	fmt.Fprintf(&msg, "\r\n")

	// HTML part
	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return smtp.SendMail(s.server, s.auth, s.config.From, to, msg.Bytes())
}

// NewReplyData holds data for the subscription notification template
type NewReplyData struct {
	AppName        string
	UserName       string
	PosterName     string
	TopicTitle     string
	TopicURL       string
	UnsubscribeURL string
}

// SendNewReplyEmail notifies a topic subscriber about a new reply.
func (s *Service) SendNewReplyEmail(to string, data NewReplyData) error {
	if data.AppName == "" {
		data.AppName = "Quorum"
	}

	subject := fmt.Sprintf("New reply in \"%s\"", data.TopicTitle)
	html, err := renderTemplate(newReplyEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render new reply template: %w", err)
	}
	text, err := renderTextTemplate(newReplyEmailTextTemplate, data)
	if err != nil {
		return fmt.Errorf("render new reply text template: %w", err)
	}

	return s.SendHTMLEmail([]string{to}, subject, text, html)
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func renderTextTemplate(tmpl string, data interface{}) (string, error) {
	t := texttemplate.Must(texttemplate.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const newReplyEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>New reply in {{.TopicTitle}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #0066cc; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
        .link { word-break: break-all; color: #0066cc; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>Hi {{.UserName}},</h2>

    <p>{{.PosterName}} replied to a topic you subscribe to: <strong>{{.TopicTitle}}</strong>.</p>

    <p>
        <a href="{{.TopicURL}}" class="button">Read the reply</a>
    </p>

    <p>Or copy and paste this link into your browser:</p>
    <p class="link">{{.TopicURL}}</p>

    <div class="footer">
        <p>You are receiving this because you subscribed to this topic.
        <a href="{{.UnsubscribeURL}}">Unsubscribe</a> to stop these notifications.</p>
    </div>
</body>
</html>`

const newReplyEmailTextTemplate = `Hi {{.UserName}},

{{.PosterName}} replied to a topic you subscribe to: {{.TopicTitle}}.

Read the reply: {{.TopicURL}}

You are receiving this because you subscribed to this topic.
Unsubscribe to stop these notifications: {{.UnsubscribeURL}}
`
