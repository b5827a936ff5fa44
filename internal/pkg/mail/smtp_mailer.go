package mail

import (
	"context"
	"fmt"
	"html"
	"net/smtp"
	"strings"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/EnrollSync/app/models"
	"github.com/ManuelReschke/EnrollSync/internal/pkg/env"
)

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer sends operator alerts via SMTP
type SMTPMailer struct {
	Host     string
	Port     string
	Username string
	Password string
	Sender   string
	// AlertTo receives exhausted-retries alerts.
	AlertTo string

	send sendFunc
}

// NewAlertMailerFromEnv returns nil when OPS_ALERT_EMAIL or SMTP_HOST is not
// set, which disables alert mails.
func NewAlertMailerFromEnv() *SMTPMailer {
	to := strings.TrimSpace(env.GetEnv("OPS_ALERT_EMAIL", ""))
	host := strings.TrimSpace(env.GetEnv("SMTP_HOST", ""))
	if to == "" || host == "" {
		return nil
	}
	sender := env.GetEnv("SMTP_SENDER", "")
	if sender == "" {
		sender = "no-reply@localhost"
		log.Infof("[Mail] SMTP_SENDER not set, using default sender: %s", sender)
	}
	return &SMTPMailer{
		Host:     host,
		Port:     env.GetEnv("SMTP_PORT", "587"),
		Username: env.GetEnv("SMTP_USERNAME", ""),
		Password: env.GetEnv("SMTP_PASSWORD", ""),
		Sender:   sender,
		AlertTo:  to,
		send:     smtp.SendMail,
	}
}

// SendMail sends an HTML mail to one recipient.
func (m *SMTPMailer) SendMail(to string, subject string, body string) error {
	var auth smtp.Auth
	if m.Username != "" && m.Password != "" {
		auth = smtp.PlainAuth("", m.Username, m.Password, m.Host)
	}

	addr := fmt.Sprintf("%s:%s", m.Host, m.Port)
	msg := []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", m.Sender, to, subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
			body,
	)

	send := m.send
	if send == nil {
		send = smtp.SendMail
	}
	if err := send(addr, auth, m.Sender, []string{to}, msg); err != nil {
		log.Errorf("[Mail] SMTP send error: %v", err)
		return err
	}
	log.Infof("[Mail] Email sent to %s via %s", to, addr)
	return nil
}

// NotifyRetriesExhausted mails the operator about a ledger entry that failed
// permanently.
func (m *SMTPMailer) NotifyRetriesExhausted(ctx context.Context, entry *models.WebhookEvent, subscriptionID, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	subject := fmt.Sprintf("[EnrollSync] Webhook %s failed permanently", entry.ProviderEventID)
	if subscriptionID == "" {
		subscriptionID = "-"
	}
	body := fmt.Sprintf(
		"<p>Ledger entry <b>%d</b> (%s, %s) failed after %d attempts.</p>"+
			"<p>Subscription: %s</p><p>Last error: %s</p>"+
			"<p>Replay with <code>POST /ops/webhooks/%d/replay</code> once the cause is fixed.</p>",
		entry.ID,
		html.EscapeString(entry.ProviderEventID),
		html.EscapeString(entry.EventType),
		entry.AttemptCount,
		html.EscapeString(subscriptionID),
		html.EscapeString(reason),
		entry.ID,
	)
	return m.SendMail(m.AlertTo, subject, body)
}
