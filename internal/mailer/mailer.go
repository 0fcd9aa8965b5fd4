package mailer

import "context"

// Sender defines common mail-delivery operations across backends.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Mailer wraps a Sender backend with a stable API.
type Mailer struct {
	backend Sender
}

// NewMailer constructs a Mailer wrapper for the provided backend.
func NewMailer(backend Sender) *Mailer {
	return &Mailer{backend: backend}
}

// Send delivers a plain-text message to a single recipient.
func (m *Mailer) Send(ctx context.Context, to, subject, body string) error {
	return m.backend.Send(ctx, to, subject, body)
}
