package mailer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/contactbook/apiserver/config"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// SendGridClient delivers mail through the SendGrid API.
type SendGridClient struct {
	client     *sendgrid.Client
	from       string
	senderName string
}

// NewSendGridClient constructs a SendGrid client from config.
func NewSendGridClient(cfg config.SendGridConfig, from string) (*SendGridClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("sendgrid api key is required")
	}
	if strings.TrimSpace(from) == "" {
		return nil, errors.New("sendgrid from address is required")
	}

	return &SendGridClient{
		client:     sendgrid.NewSendClient(cfg.APIKey),
		from:       from,
		senderName: cfg.SenderName,
	}, nil
}

// Send delivers a plain-text message to a single recipient.
func (c *SendGridClient) Send(ctx context.Context, to, subject, body string) error {
	from := mail.NewEmail(c.senderName, c.from)
	recipient := mail.NewEmail("", to)
	message := mail.NewSingleEmail(from, subject, recipient, body, body)

	response, err := c.client.SendWithContext(ctx, message)
	if err != nil {
		return err
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid send failed with status %d", response.StatusCode)
	}
	return nil
}
