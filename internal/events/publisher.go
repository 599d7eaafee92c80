// Package events publishes dispatched PTZ commands for audit and analytics consumers.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const DefaultSubject = "ptz.commands"

// Source says what triggered a command.
const (
	SourceRequest  = "request"
	SourceAutoStop = "autostop"
)

type CommandEvent struct {
	ID         uuid.UUID `json:"id"`
	OccurredAt time.Time `json:"occurred_at"`
	Source     string    `json:"source"`
	CameraKey  string    `json:"camera_key"`
	CameraID   string    `json:"camera_id"`
	VMSName    string    `json:"vms_name,omitempty"`
	Code       string    `json:"code"`
	Direction  string    `json:"direction"`
	IsPress    bool      `json:"is_press"`
	Path       string    `json:"path,omitempty"`
	Success    bool      `json:"success"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
}

// Publisher is implemented by NATSPublisher and NopPublisher.
type Publisher interface {
	Publish(event *CommandEvent) error
}

// Conn is the part of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

var _ Conn = (*nats.Conn)(nil)

type NATSPublisher struct {
	conn       Conn
	subject    string
	maxRetries int
	backoff    time.Duration
}

func NewNATSPublisher(conn Conn, subject string, maxRetries int) *NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSPublisher{
		conn:       conn,
		subject:    subject,
		maxRetries: maxRetries,
		backoff:    100 * time.Millisecond,
	}
}

// Connect dials NATS with reconnects enabled.
func Connect(url, name string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}

func (p *NATSPublisher) Publish(event *CommandEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	for i := 0; i <= p.maxRetries; i++ {
		err = p.conn.Publish(p.subject, data)
		if err == nil {
			return nil
		}
		time.Sleep(time.Duration(i) * p.backoff)
	}

	return fmt.Errorf("publish failed after %d retries: %w", p.maxRetries, err)
}

// NopPublisher drops events. Used when NATS is not configured.
type NopPublisher struct{}

func (NopPublisher) Publish(*CommandEvent) error { return nil }
