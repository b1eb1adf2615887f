package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/cuongbtq/content-pipeline/internal/domain"
)

// ErrSourceClosed is returned by Run when the event source ends on its own
var ErrSourceClosed = errors.New("lifecycle event source closed")

// EventSource is a lifecycle subscription. Close must release it and close Events.
type EventSource interface {
	Events() <-chan domain.LifecycleEvent
	Close() error
}

// Dispatcher moves events from a subscription into the hub
type Dispatcher struct {
	hub    *Hub
	logger *slog.Logger
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(hub *Hub, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{hub: hub, logger: logger}
}

// Run consumes src until ctx is cancelled or src ends. src is always closed on return.
func (d *Dispatcher) Run(ctx context.Context, src EventSource) error {
	defer func() {
		if err := src.Close(); err != nil {
			d.logger.Warn("Failed to close lifecycle subscription", slog.Any("error", err))
		}
	}()

	events := src.Events()
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Lifecycle dispatcher stopped")
			return nil

		case event, ok := <-events:
			if !ok {
				return ErrSourceClosed
			}

			delivered := d.hub.Broadcast(event)
			d.logger.Debug("Lifecycle event dispatched",
				slog.String("job_id", event.JobID),
				slog.String("status", string(event.Status)),
				slog.Int("delivered", delivered),
			)
		}
	}
}
