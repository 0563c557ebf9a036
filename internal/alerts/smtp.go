package alerts

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"
)

// SMTPSender sends alerts via email
type SMTPSender struct {
	host     string
	port     int
	user     string
	password string
	from     string
	to       []string
}

// NewSMTPSender creates a new SMTP sender
func NewSMTPSender(host string, port int, user, password, from string, to []string) *SMTPSender {
	return &SMTPSender{
		host:     host,
		port:     port,
		user:     user,
		password: password,
		from:     from,
		to:       to,
	}
}

// Send sends the alert via email
func (s *SMTPSender) Send(ctx context.Context, payload *AlertPayload) error {
	if len(s.to) == 0 {
		return fmt.Errorf("no recipients configured")
	}

	subject := fmt.Sprintf("[%s] %s score %.0f for %s", payload.Severity, payload.Kind, payload.Score, payload.WalletShort)

	var message strings.Builder
	fmt.Fprintf(&message, "From: %s\r\n", s.from)
	fmt.Fprintf(&message, "To: %s\r\n", strings.Join(s.to, ", "))
	fmt.Fprintf(&message, "Subject: %s\r\n", subject)
	message.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	message.WriteString("\r\n")
	message.WriteString(s.buildEmailBody(payload))

	var auth smtp.Auth
	if s.user != "" {
		auth = smtp.PlainAuth("", s.user, s.password, s.host)
	}
	addr := fmt.Sprintf("%s:%d", s.host, s.port)

	if err := smtp.SendMail(addr, auth, s.from, s.to, []byte(message.String())); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	return nil
}

func (s *SMTPSender) buildEmailBody(payload *AlertPayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "WALLET SIGNAL ALERT - %s\n", payload.Severity)
	b.WriteString("═══════════════════════════════════════\n\n")
	fmt.Fprintf(&b, "A %s analysis crossed its alert threshold:\n\n", payload.Kind)
	b.WriteString("WALLET\n")
	b.WriteString("─────────────────────────────────────\n")
	fmt.Fprintf(&b, "Address:        %s\n", payload.WalletAddress)
	if payload.ContractAddress != "" {
		fmt.Fprintf(&b, "Contract:       %s\n", payload.ContractAddress)
	}
	fmt.Fprintf(&b, "Score:          %.1f (threshold %.0f)\n\n", payload.Score, payload.Threshold)

	if len(payload.Breakdown) > 0 {
		b.WriteString("METRICS\n")
		b.WriteString("─────────────────────────────────────\n")
		for _, l := range payload.Breakdown {
			fmt.Fprintf(&b, "%-22s %-14s score %d\n", l.Name+":", l.Value, l.Score)
		}
		b.WriteString("\n")
	}

	b.WriteString("═══════════════════════════════════════\n")
	fmt.Fprintf(&b, "Analyzed:    %s\n", payload.Timestamp.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Environment: %s\n", payload.Environment)
	b.WriteString("\nNote: scores are behavioral signals;\n")
	b.WriteString("they do NOT prove Sybil activity.\n")

	return b.String()
}
