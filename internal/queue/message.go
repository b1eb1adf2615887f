package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/content-pipeline/internal/domain"
)

// ErrMalformedMessage is returned when a delivery body cannot be decoded into a Message
var ErrMalformedMessage = errors.New("malformed queue message")

// Message is the payload carried by the work queue. Its broker message id is always JobID.
type Message struct {
	JobID      string      `json:"job_id"`
	OwnerID    string      `json:"owner_id"`
	Prompt     string      `json:"prompt"`
	Kind       domain.Kind `json:"content_type"`
	DelayMs    int64       `json:"delay_ms"`
	EnqueuedAt time.Time   `json:"enqueued_at"`
}

// NewMessage builds the queue payload for a freshly created job
func NewMessage(job *domain.Job, delay time.Duration) Message {
	return Message{
		JobID:      job.JobID,
		OwnerID:    job.OwnerID,
		Prompt:     job.Prompt,
		Kind:       job.Kind,
		DelayMs:    delay.Milliseconds(),
		EnqueuedAt: time.Now().UTC(),
	}
}

// Encode serializes the message
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMessage parses and validates a delivery body
func DecodeMessage(body []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	if m.JobID == "" {
		return Message{}, fmt.Errorf("%w: missing job_id", ErrMalformedMessage)
	}

	if m.Prompt == "" {
		return Message{}, fmt.Errorf("%w: missing prompt", ErrMalformedMessage)
	}

	if _, err := domain.ParseKind(string(m.Kind)); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	return m, nil
}

// Job reconstructs the job fields carried by the message, used when the row is missing
func (m Message) Job() domain.Job {
	return domain.Job{
		JobID:   m.JobID,
		OwnerID: m.OwnerID,
		Prompt:  m.Prompt,
		Kind:    m.Kind,
		Status:  domain.JobStatusPending,
	}
}
