// Package notify delivers holder-facing emails for the issuance flows.
// Delivery failures never roll back a completed status transition; they are
// reported under the email delivery error code and left to the caller to log.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/smtp"

	"vcissuer/internal/platform/config"
	"vcissuer/internal/platform/metrics"
	dErrors "vcissuer/pkg/domain-errors"
)

// Notifier is the email contract consumed by the workflow layer.
type Notifier interface {
	SendCredentialActivationEmail(ctx context.Context, to, name, activationLink, transactionCode string) error
	SendPendingCredentialNotification(ctx context.Context, to, name string) error
	SendCredentialSignedNotification(ctx context.Context, to, name, subjectLine, sentence string) error
	SendPin(ctx context.Context, to, pin string) error
}

// EmailService sends notifications over SMTP.
type EmailService struct {
	cfg       config.SMTPConfig
	templates *template.Template
	logger    *slog.Logger
	metrics   *metrics.Metrics
	// send is swapped in tests; production uses smtp.SendMail.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

type Option func(*EmailService)

func WithLogger(l *slog.Logger) Option {
	return func(s *EmailService) { s.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *EmailService) { s.metrics = m }
}

func NewEmailService(cfg config.SMTPConfig, opts ...Option) (*EmailService, error) {
	tmpl, err := template.New("activation").Parse(activationTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse activation template: %w", err)
	}
	for name, body := range map[string]string{
		"pending": pendingTemplate,
		"signed":  signedTemplate,
		"pin":     pinTemplate,
	} {
		if _, err := tmpl.New(name).Parse(body); err != nil {
			return nil, fmt.Errorf("parse %s template: %w", name, err)
		}
	}

	s := &EmailService{
		cfg:       cfg,
		templates: tmpl,
		logger:    slog.Default(),
		send:      smtp.SendMail,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type templateData struct {
	Name            string
	ActivationLink  string
	TransactionCode string
	Sentence        string
	Pin             string
}

func (s *EmailService) SendCredentialActivationEmail(ctx context.Context, to, name, activationLink, transactionCode string) error {
	return s.sendTemplate(ctx, "activation", "activation", to, "Activate your new credential",
		templateData{Name: name, ActivationLink: activationLink, TransactionCode: transactionCode})
}

func (s *EmailService) SendPendingCredentialNotification(ctx context.Context, to, name string) error {
	return s.sendTemplate(ctx, "pending", "pending", to, "A credential is waiting for your signature",
		templateData{Name: name})
}

func (s *EmailService) SendCredentialSignedNotification(ctx context.Context, to, name, subjectLine, sentence string) error {
	return s.sendTemplate(ctx, "signed", "signed", to, subjectLine,
		templateData{Name: name, Sentence: sentence})
}

func (s *EmailService) SendPin(ctx context.Context, to, pin string) error {
	return s.sendTemplate(ctx, "pin", "pin", to, "Your credential PIN",
		templateData{Pin: pin})
}

func (s *EmailService) sendTemplate(ctx context.Context, kind, tmplName, to, subject string, data templateData) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var body bytes.Buffer
	if err := s.templates.ExecuteTemplate(&body, tmplName, data); err != nil {
		return dErrors.Wrap(err, dErrors.CodeEmailDelivery, "failed to render notification email")
	}

	// Without credentials there is nowhere to deliver to; log instead so local
	// development works against a bare environment.
	if s.cfg.Username == "" || s.cfg.Password == "" {
		s.logger.Info("email suppressed, SMTP not configured",
			"kind", kind, "to", to, "subject", subject)
		return nil
	}

	message := fmt.Sprintf("From: %s <%s>\r\n", s.cfg.FromName, s.cfg.FromEmail)
	message += fmt.Sprintf("To: %s\r\n", to)
	message += fmt.Sprintf("Subject: %s\r\n", subject)
	message += "MIME-Version: 1.0\r\n"
	message += "Content-Type: text/html; charset=UTF-8\r\n"
	message += "\r\n"
	message += body.String()

	auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	addr := s.cfg.Host + ":" + s.cfg.Port
	if err := s.send(addr, auth, s.cfg.FromEmail, []string{to}, []byte(message)); err != nil {
		if s.metrics != nil {
			s.metrics.EmailFailures.Inc()
		}
		return dErrors.Wrap(err, dErrors.CodeEmailDelivery, "failed to send notification email")
	}

	if s.metrics != nil {
		s.metrics.EmailsSent.WithLabelValues(kind).Inc()
	}
	s.logger.Info("notification email sent", "kind", kind, "to", to)
	return nil
}

const activationTemplate = `<!DOCTYPE html>
<html>
<body style="font-family: sans-serif;">
  <h2>Hello {{.Name}},</h2>
  <p>A new credential has been prepared for you. Open the activation link in
  your wallet and enter the code below when prompted.</p>
  <p><a href="{{.ActivationLink}}">Activate credential</a></p>
  <p style="font-size: 1.4em; letter-spacing: 2px;"><strong>{{.TransactionCode}}</strong></p>
  <p>If you did not expect this email, you can safely ignore it.</p>
</body>
</html>`

const pendingTemplate = `<!DOCTYPE html>
<html>
<body style="font-family: sans-serif;">
  <h2>Hello {{.Name}},</h2>
  <p>A credential request is waiting for your signature. Please sign it from
  the issuer backoffice at your earliest convenience.</p>
</body>
</html>`

const signedTemplate = `<!DOCTYPE html>
<html>
<body style="font-family: sans-serif;">
  <h2>Hello {{.Name}},</h2>
  <p>{{.Sentence}}</p>
</body>
</html>`

const pinTemplate = `<!DOCTYPE html>
<html>
<body style="font-family: sans-serif;">
  <p>Your credential PIN is:</p>
  <p style="font-size: 1.4em; letter-spacing: 2px;"><strong>{{.Pin}}</strong></p>
</body>
</html>`
