package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/internal/vault/cipher"
	"aegis/internal/vault/models"
	id "aegis/pkg/domain"
	"aegis/pkg/platform/sentinel"
)

func TestInMemoryStore_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	subject := id.SubjectID(uuid.New())
	rec := models.NewRecord(subject, 1, time.Now())

	require.NoError(t, s.Save(ctx, rec, 0))
	assert.Equal(t, int64(1), rec.Version)
	assert.ErrorIs(t, s.Save(ctx, models.NewRecord(subject, 1, time.Now()), 0), sentinel.ErrConflict)

	stale, err := s.Get(ctx, subject)
	require.NoError(t, err)
	fresh, err := s.Get(ctx, subject)
	require.NoError(t, err)

	fresh.Fields[models.FieldFullName] = cipher.EncryptedField{Ciphertext: []byte{1}, Nonce: []byte{2}, Algorithm: cipher.AlgorithmAES256GCM}
	require.NoError(t, s.Save(ctx, fresh, 1))
	assert.ErrorIs(t, s.Save(ctx, stale, 1), sentinel.ErrConflict)

	got, err := s.Get(ctx, subject)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Contains(t, got.Fields, models.FieldFullName)

	_, err = s.Get(ctx, id.SubjectID(uuid.New()))
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestInMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	subject := id.SubjectID(uuid.New())
	rec := models.NewRecord(subject, 1, time.Now())
	rec.Fields[models.FieldFullName] = cipher.EncryptedField{Ciphertext: []byte{1, 2, 3}, Nonce: make([]byte, 12), Algorithm: cipher.AlgorithmAES256GCM}
	require.NoError(t, s.Save(ctx, rec, 0))

	rec.Fields[models.FieldFullName].Ciphertext[0] = 9
	got, err := s.Get(ctx, subject)
	require.NoError(t, err)
	assert.Equal(t, byte(1), got.Fields[models.FieldFullName].Ciphertext[0])
}

func TestInMemoryStore_EmailIndex(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	a := models.NewRecord(id.SubjectID(uuid.New()), 1, time.Now())
	a.Email = "ada@example.com"
	require.NoError(t, s.Save(ctx, a, 0))

	b := models.NewRecord(id.SubjectID(uuid.New()), 1, time.Now())
	b.Email = "ADA@example.com"
	assert.ErrorIs(t, s.Save(ctx, b, 0), sentinel.ErrAlreadyUsed)

	found, err := s.FindByEmail(ctx, "Ada@Example.com")
	require.NoError(t, err)
	assert.Equal(t, a.SubjectID, found.SubjectID)

	a.Email = "lovelace@example.com"
	require.NoError(t, s.Save(ctx, a, a.Version))
	_, err = s.FindByEmail(ctx, "ada@example.com")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	require.NoError(t, s.Save(ctx, b, 0))
}

func TestInMemoryStore_ListPage(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	for range 5 {
		require.NoError(t, s.Save(ctx, models.NewRecord(id.SubjectID(uuid.New()), 1, time.Now()), 0))
	}

	first, err := s.ListPage(ctx, id.SubjectID{}, 3)
	require.NoError(t, err)
	require.Len(t, first, 3)
	rest, err := s.ListPage(ctx, first[2].SubjectID, 3)
	require.NoError(t, err)
	require.Len(t, rest, 2)

	seen := map[id.SubjectID]bool{}
	prev := ""
	for _, rec := range append(first, rest...) {
		assert.Greater(t, rec.SubjectID.String(), prev)
		prev = rec.SubjectID.String()
		seen[rec.SubjectID] = true
	}
	assert.Len(t, seen, 5)
}
