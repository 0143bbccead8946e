package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"aegis/internal/platform/kafka"
	audit "aegis/pkg/platform/audit"
)

// Materializer appends relayed audit events to the chained log. Undecodable
// records are logged and skipped; they stay in the outbox table for forensics.
type Materializer struct {
	store  audit.Store
	logger *slog.Logger
}

func NewMaterializer(store audit.Store, logger *slog.Logger) *Materializer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Materializer{store: store, logger: logger}
}

func (m *Materializer) Handle(ctx context.Context, msg *kafka.Message) error {
	var event audit.Event
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		m.logger.ErrorContext(ctx, "skipping undecodable audit record",
			"topic", msg.Topic,
			"offset", msg.Offset,
			"error", err,
		)
		return nil
	}
	if err := m.store.Append(ctx, event); err != nil {
		return fmt.Errorf("materialize audit event %s: %w", event.ID, err)
	}
	return nil
}
