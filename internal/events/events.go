// Package events announces job status changes on NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// JobEvent is published whenever a job changes status.
type JobEvent struct {
	JobID  uuid.UUID `json:"job_id"`
	Status string    `json:"status"`
	Error  string    `json:"error,omitempty"`
	At     time.Time `json:"at"`
}

// Publisher delivers job events. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, ev JobEvent) error
}

// NatsPublisher publishes events as JSON on "{subject}.{status}".
type NatsPublisher struct {
	conn    *nats.Conn
	subject string
}

func NewNatsPublisher(conn *nats.Conn, subject string) *NatsPublisher {
	return &NatsPublisher{conn: conn, subject: subject}
}

// Subject returns the subject an event with the given status is published on.
func (p *NatsPublisher) Subject(status string) string {
	return p.subject + "." + status
}

func (p *NatsPublisher) Publish(_ context.Context, ev JobEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding job event: %w", err)
	}
	if err := p.conn.Publish(p.Subject(ev.Status), data); err != nil {
		return fmt.Errorf("publishing job event: %w", err)
	}
	return nil
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, JobEvent) error { return nil }

var (
	_ Publisher = (*NatsPublisher)(nil)
	_ Publisher = Nop{}
)
