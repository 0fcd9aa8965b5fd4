package mailer

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/contactbook/apiserver/config"
)

// SMTPClient delivers mail through a plain SMTP relay with STARTTLS.
type SMTPClient struct {
	addr string
	auth smtp.Auth
	from string
}

// NewSMTPClient constructs an SMTP client from config.
func NewSMTPClient(cfg config.SMTPConfig, from string) (*SMTPClient, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("smtp host is required")
	}
	if strings.TrimSpace(from) == "" {
		return nil, errors.New("smtp from address is required")
	}

	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}

	return &SMTPClient{
		addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		auth: auth,
		from: from,
	}, nil
}

// Send delivers a plain-text message to a single recipient.
func (c *SMTPClient) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", c.from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	return smtp.SendMail(c.addr, c.auth, c.from, []string{to}, []byte(msg.String()))
}
