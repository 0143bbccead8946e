package worker

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "aegis/pkg/domain"
	audit "aegis/pkg/platform/audit"
	"aegis/pkg/platform/audit/store/memory"
)

func TestWorker_DrainsOnCancel(t *testing.T) {
	ch := NewChannelStore(16)
	store := memory.NewInMemoryStore()
	subject := id.SubjectID(uuid.New())

	for range 5 {
		require.NoError(t, ch.Append(context.Background(), audit.Event{SubjectID: subject, Action: "step_completed"}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewWorker(store, ch.Inbox(), nil).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	events, err := store.ListBySubject(context.Background(), subject)
	require.NoError(t, err)
	assert.Len(t, events, 5)
}

func TestChannelStore_FullInboxRejects(t *testing.T) {
	ch := NewChannelStore(1)
	require.NoError(t, ch.Append(context.Background(), audit.Event{}))
	assert.Error(t, ch.Append(context.Background(), audit.Event{}))
}
