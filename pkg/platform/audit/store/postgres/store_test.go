package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "aegis/pkg/domain"
	audit "aegis/pkg/platform/audit"
	txcontext "aegis/pkg/platform/tx"
)

func TestAppend_WritesOutboxRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	vid := id.VerificationID(uuid.New())
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outbox")).
		WithArgs(sqlmock.AnyArg(), "verification", vid.String(), string(audit.EventDecisionMade),
			string(audit.CategoryCompliance), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	store := New(db)
	err = store.Append(context.Background(), audit.Event{
		SubjectID:      id.SubjectID(uuid.New()),
		VerificationID: vid,
		Action:         string(audit.EventDecisionMade),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppend_JoinsContextTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outbox")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	store := New(db)
	err = txcontext.Run(context.Background(), db, func(ctx context.Context) error {
		return store.Append(ctx, audit.Event{SubjectID: id.SubjectID(uuid.New()), Action: string(audit.EventVaultFieldUpdated)})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimBatch_RequiresTransaction(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = New(db).ClaimBatch(context.Background(), 10)
	require.Error(t, err)
}

func TestClaimAndMark(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE SKIP LOCKED")).
		WithArgs(2).
		WillReturnRows(sqlmock.NewRows([]string{"id", "aggregate_id", "event_type", "category", "payload"}).
			AddRow("e1", "agg", "decision_made", "compliance", []byte(`{}`)).
			AddRow("e2", "agg", "step_completed", "operations", []byte(`{}`)))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE outbox SET published_at")).WithArgs("e1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE outbox SET published_at")).WithArgs("e2", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	store := New(db)
	var claimed []OutboxEntry
	err = txcontext.Run(context.Background(), db, func(ctx context.Context) error {
		entries, err := store.ClaimBatch(ctx, 2)
		if err != nil {
			return err
		}
		claimed = entries
		return store.MarkPublished(ctx, []string{"e1", "e2"}, time.Now())
	})
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, audit.CategoryOperations, claimed[1].Category)
	assert.NoError(t, mock.ExpectationsWereMet())
}

