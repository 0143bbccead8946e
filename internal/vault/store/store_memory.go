package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"aegis/internal/vault/models"
	id "aegis/pkg/domain"
	"aegis/pkg/platform/sentinel"
)

// InMemoryStore keeps vault records in process memory with the same
// compare-and-swap semantics as the PostgreSQL store.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[id.SubjectID]*models.Record
	emails  map[string]id.SubjectID
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[id.SubjectID]*models.Record),
		emails:  make(map[string]id.SubjectID),
	}
}

func (s *InMemoryStore) Get(_ context.Context, subjectID id.SubjectID) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[subjectID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return rec.Clone(), nil
}

// Save writes rec if the stored version equals expectedVersion (0 creates).
// On success rec.Version is advanced.
func (s *InMemoryStore) Save(_ context.Context, rec *models.Record, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.records[rec.SubjectID]
	switch {
	case expectedVersion == 0 && exists:
		return sentinel.ErrConflict
	case expectedVersion != 0 && (!exists || current.Version != expectedVersion):
		return sentinel.ErrConflict
	}

	emailKey := strings.ToLower(rec.Email)
	if emailKey != "" {
		if owner, taken := s.emails[emailKey]; taken && owner != rec.SubjectID {
			return sentinel.ErrAlreadyUsed
		}
	}
	if exists && current.Email != "" && !strings.EqualFold(current.Email, rec.Email) {
		delete(s.emails, strings.ToLower(current.Email))
	}
	if emailKey != "" {
		s.emails[emailKey] = rec.SubjectID
	}

	rec.Version = expectedVersion + 1
	s.records[rec.SubjectID] = rec.Clone()
	return nil
}

func (s *InMemoryStore) FindByEmail(_ context.Context, email string) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subjectID, ok := s.emails[strings.ToLower(email)]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.records[subjectID].Clone(), nil
}

// ListPage returns up to limit records with subject IDs after `after`,
// ordered by subject ID.
func (s *InMemoryStore) ListPage(_ context.Context, after id.SubjectID, limit int) ([]*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]id.SubjectID, 0, len(s.records))
	for k := range s.records {
		if after.IsNil() || k.String() > after.String() {
			ids = append(ids, k)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]*models.Record, 0, len(ids))
	for _, k := range ids {
		out = append(out, s.records[k].Clone())
	}
	return out, nil
}
