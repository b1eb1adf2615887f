// Package generation defines the contract of the remote content generator and the
// prompt and response conventions shared by its implementations.
package generation

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuongbtq/content-pipeline/internal/domain"
)

// ErrConfiguration is returned when the generator cannot run because credentials or
// settings are missing. It is fatal and never retried.
var ErrConfiguration = errors.New("generation client is not configured")

// UpstreamError wraps any failure of the remote call. Its message is surfaced on the failed job.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// NewUpstreamError wraps err as an UpstreamError for op
func NewUpstreamError(op string, err error) error {
	return &UpstreamError{Op: op, Err: err}
}

// Generated is the title and body produced for one prompt
type Generated struct {
	Title string
	Body  string
}

// Generator turns prompts into content and classifies sentiment.
// Implementations make a single remote attempt per call.
type Generator interface {
	Generate(ctx context.Context, prompt string, kind domain.Kind) (Generated, error)
	ClassifySentiment(ctx context.Context, text string) (domain.Sentiment, error)
}
