package domain

import (
	"fmt"
	"time"
)

// Job is the durable record tracking one generation request
type Job struct {
	JobID       string
	OwnerID     string
	Prompt      string
	Kind        Kind
	Status      Status
	Error       string
	ResultID    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Content is the artifact produced by a successful job
type Content struct {
	ContentID string
	OwnerID   string
	JobID     string
	Kind      Kind
	Prompt    string
	Title     string
	Body      string
	Sentiment Sentiment
	CreatedAt time.Time
}

// TransitionUpdate carries the optional fields written alongside a status change.
// Error must be set only for failed, ResultID only for completed.
type TransitionUpdate struct {
	Error    string
	ResultID string
}

// CheckTransition compares the stored status with the requested one before any write.
// It returns noop=true when the job already holds the requested status, and
// ErrInvalidTransition when the move would go backwards or between terminal states.
func CheckTransition(from, to Status) (noop bool, err error) {
	if !from.Valid() || !to.Valid() {
		return false, fmt.Errorf("%w: unknown status %q -> %q", ErrInvalidTransition, from, to)
	}

	if from == to {
		return true, nil
	}

	if to.rank() <= from.rank() {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	return false, nil
}

// ValidateUpdate enforces "error iff failed" and "result iff completed"
func ValidateUpdate(to Status, update TransitionUpdate) error {
	switch to {
	case JobStatusFailed:
		if update.Error == "" {
			return fmt.Errorf("%w: failed status requires an error message", ErrInvalidTransition)
		}
		if update.ResultID != "" {
			return fmt.Errorf("%w: failed status cannot carry a result", ErrInvalidTransition)
		}
	case JobStatusCompleted:
		if update.ResultID == "" {
			return fmt.Errorf("%w: completed status requires a result reference", ErrInvalidTransition)
		}
		if update.Error != "" {
			return fmt.Errorf("%w: completed status cannot carry an error", ErrInvalidTransition)
		}
	default:
		if update.Error != "" || update.ResultID != "" {
			return fmt.Errorf("%w: %s status cannot carry an error or result", ErrInvalidTransition, to)
		}
	}
	return nil
}

// LifecycleEvent announces that a job reached a terminal status.
// It is never persisted.
type LifecycleEvent struct {
	JobID      string    `json:"job_id"`
	OwnerID    string    `json:"owner_id"`
	Status     Status    `json:"status"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewLifecycleEvent builds the event for a terminal transition
func NewLifecycleEvent(jobID, ownerID string, status Status, errMsg string) LifecycleEvent {
	return LifecycleEvent{
		JobID:      jobID,
		OwnerID:    ownerID,
		Status:     status,
		Error:      errMsg,
		OccurredAt: time.Now().UTC(),
	}
}
