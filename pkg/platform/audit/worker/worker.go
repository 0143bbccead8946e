package worker

import (
	"context"
	"errors"
	"log/slog"

	audit "aegis/pkg/platform/audit"
)

// ChannelStore is an audit.Store that hands events to a Worker. Append never
// blocks: when the inbox is full the event is reported as dropped.
type ChannelStore struct {
	inbox chan audit.Event
}

func NewChannelStore(capacity int) *ChannelStore {
	return &ChannelStore{inbox: make(chan audit.Event, capacity)}
}

func (s *ChannelStore) Append(ctx context.Context, event audit.Event) error {
	select {
	case s.inbox <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return errInboxFull
	}
}

// Inbox exposes the receive side for the worker.
func (s *ChannelStore) Inbox() <-chan audit.Event { return s.inbox }

var errInboxFull = errors.New("audit inbox full")

// Worker consumes audit events from a channel and persists them, moving
// store latency off the request path.
type Worker struct {
	store  audit.Store
	inbox  <-chan audit.Event
	logger *slog.Logger
}

func NewWorker(store audit.Store, inbox <-chan audit.Event, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{store: store, inbox: inbox, logger: logger}
}

// Run persists events until ctx is cancelled, then drains what is already queued.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return ctx.Err()
		case event := <-w.inbox:
			w.persist(ctx, event)
		}
	}
}

func (w *Worker) drain() {
	for {
		select {
		case event := <-w.inbox:
			w.persist(context.Background(), event)
		default:
			return
		}
	}
}

func (w *Worker) persist(ctx context.Context, event audit.Event) {
	if err := w.store.Append(ctx, event); err != nil {
		w.logger.WarnContext(ctx, "audit worker append failed", "action", event.Action, "error", err)
	}
}
