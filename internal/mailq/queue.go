package mailq

import (
	"context"
	"encoding/json"
	"fmt"
)

// Job is a queued request to send one verification email.
type Job struct {
	// To is the recipient address, which is also the token subject.
	To string `json:"to"`

	// Token is the signed verification token to embed in the link.
	Token string `json:"token"`
}

// Handler processes a job. Return an error to signal a retry/nack.
type Handler func(ctx context.Context, job Job) error

// Backend defines the broker-agnostic operations used by the mail queue.
type Backend interface {
	Publish(ctx context.Context, queue string, data []byte) (string, error)
	Subscribe(ctx context.Context, queue string, handler func(ctx context.Context, data []byte) error) error
	Close() error
}

// Queue carries verification-email jobs from the registration path to the
// background worker so that mail-transport latency and failures never block
// or roll back an account creation.
type Queue struct {
	backend Backend
	name    string
}

// NewQueue constructs a Queue on the provided backend and queue name.
func NewQueue(backend Backend, name string) *Queue {
	return &Queue{backend: backend, name: name}
}

// Enqueue publishes a verification-email job.
func (q *Queue) Enqueue(ctx context.Context, job Job) (string, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("encode mail job: %w", err)
	}
	return q.backend.Publish(ctx, q.name, data)
}

// Consume blocks delivering jobs to the handler until ctx is cancelled.
func (q *Queue) Consume(ctx context.Context, handler Handler) error {
	return q.backend.Subscribe(ctx, q.name, func(ctx context.Context, data []byte) error {
		var job Job
		if err := json.Unmarshal(data, &job); err != nil {
			return fmt.Errorf("decode mail job: %w", err)
		}
		return handler(ctx, job)
	})
}

// Close closes the underlying backend.
func (q *Queue) Close() error {
	return q.backend.Close()
}
