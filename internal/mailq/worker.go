package mailq

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"

	"github.com/contactbook/apiserver/internal/mailer"
)

const verificationSubject = "Verify your email"

// Worker drains the verification-mail queue and delivers each message
// through the configured mailer. A failed send is nacked so the broker
// redelivers it.
type Worker struct {
	queue   *Queue
	mailer  *mailer.Mailer
	baseURL string
}

// NewWorker constructs a Worker sending links rooted at baseURL.
func NewWorker(queue *Queue, m *mailer.Mailer, baseURL string) *Worker {
	return &Worker{
		queue:   queue,
		mailer:  m,
		baseURL: baseURL,
	}
}

// Run consumes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	err := w.queue.Consume(ctx, w.handle)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mail worker: %w", err)
	}
	return nil
}

func (w *Worker) handle(ctx context.Context, job Job) error {
	link := w.verificationLink(job.Token)
	body := fmt.Sprintf("Click the link to verify your email: %s", link)

	if err := w.mailer.Send(ctx, job.To, verificationSubject, body); err != nil {
		log.Printf("mail worker: send to %s failed: %v", job.To, err)
		return err
	}
	return nil
}

func (w *Worker) verificationLink(token string) string {
	return fmt.Sprintf("%s/verify-email?token=%s", w.baseURL, url.QueryEscape(token))
}
