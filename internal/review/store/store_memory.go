package store

import (
	"context"
	"sort"
	"sync"

	"aegis/internal/review/models"
	id "aegis/pkg/domain"
	"aegis/pkg/platform/sentinel"
)

// InMemoryStore is the review queue for single-process deployments and tests.
type InMemoryStore struct {
	mu             sync.RWMutex
	tasks          map[id.ReviewID]*models.Task
	byVerification map[id.VerificationID]id.ReviewID
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		tasks:          make(map[id.ReviewID]*models.Task),
		byVerification: make(map[id.VerificationID]id.ReviewID),
	}
}

func (s *InMemoryStore) Get(_ context.Context, reviewID id.ReviewID) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[reviewID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return t.Clone(), nil
}

func (s *InMemoryStore) GetByVerification(ctx context.Context, verificationID id.VerificationID) (*models.Task, error) {
	s.mu.RLock()
	reviewID, ok := s.byVerification[verificationID]
	s.mu.RUnlock()
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.Get(ctx, reviewID)
}

// Save writes t if the stored version equals expectedVersion. Version 0
// creates the task and fails with ErrAlreadyUsed if its verification
// already has one.
func (s *InMemoryStore) Save(_ context.Context, t *models.Task, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.tasks[t.ID]
	if expectedVersion == 0 {
		if _, taken := s.byVerification[t.VerificationID]; taken {
			return sentinel.ErrAlreadyUsed
		}
		if exists {
			return sentinel.ErrConflict
		}
	} else if !exists || current.Version != expectedVersion {
		return sentinel.ErrConflict
	}

	t.Version = expectedVersion + 1
	s.tasks[t.ID] = t.Clone()
	s.byVerification[t.VerificationID] = t.ID
	return nil
}

// ListPending returns up to limit pending tasks, most urgent and oldest
// first.
func (s *InMemoryStore) ListPending(_ context.Context, limit int) ([]*models.Task, error) {
	s.mu.RLock()
	var out []*models.Task
	for _, t := range s.tasks {
		if t.Status == models.StatusPending {
			out = append(out, t.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) All(_ context.Context) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.Clone())
	}
	return out, nil
}
