package notification

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/maliciouslog"
	"Go2NetSentinel/internal/model"

	"github.com/gomarkdown/markdown"
)

// EmailNotifier implements the Notifier interface for sending emails.
type EmailNotifier struct {
	cfg  config.SMTPConfig
	auth smtp.Auth
}

// NewEmailNotifier creates a new EmailNotifier.
func NewEmailNotifier(cfg config.SMTPConfig) *EmailNotifier {
	// PlainAuth will not send credentials until the server identifies itself as a trusted one.
	auth := smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	return &EmailNotifier{cfg: cfg, auth: auth}
}

// Send sends an HTML email to the configured recipients.
func (n *EmailNotifier) Send(subject, body string) error {
	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	recipients := strings.Split(n.cfg.To, ",")
	for i := range recipients {
		recipients[i] = strings.TrimSpace(recipients[i])
	}

	msg := []byte("To: " + n.cfg.To + "\r\n" +
		"From: " + n.cfg.From + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/html; charset=UTF-8\r\n" +
		"\r\n" +
		body)

	if err := smtp.SendMail(addr, n.auth, n.cfg.From, recipients, msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// EmailSink delivers each batch of attack events as one summary message.
type EmailSink struct {
	notifier model.Notifier
}

// NewEmailSink wraps a notifier as an alert sink.
func NewEmailSink(n model.Notifier) *EmailSink {
	return &EmailSink{notifier: n}
}

// Name implements model.AlertSink.
func (s *EmailSink) Name() string { return "email" }

// Publish implements model.AlertSink.
func (s *EmailSink) Publish(_ context.Context, events []model.AttackEvent) error {
	if len(events) == 0 {
		return nil
	}
	subject := fmt.Sprintf("Go2NetSentinel Alert Summary (%d Triggered)", len(events))
	html := markdown.ToHTML([]byte(SummaryMarkdown(events)), nil, nil)
	return s.notifier.Send(subject, string(html))
}

// SummaryMarkdown renders events as a markdown report.
func SummaryMarkdown(events []model.AttackEvent) string {
	var b strings.Builder
	b.WriteString("# Go2NetSentinel Alert Summary\n\n")
	b.WriteString("The following sources exceeded the malicious packet threshold:\n\n")
	b.WriteString("| Source | Packets | Detected at | Alert ID |\n")
	b.WriteString("|---|---|---|---|\n")
	for _, e := range events {
		fmt.Fprintf(&b, "| %s | %d | %s | %s |\n",
			e.SourceIP, e.Count, e.DetectedAt.Format(maliciouslog.TimeLayout), e.ID)
	}
	return b.String()
}
