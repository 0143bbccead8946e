package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"aegis/internal/verification/models"
	id "aegis/pkg/domain"
	"aegis/pkg/platform/sentinel"
)

type entry struct {
	doc     []byte
	subject id.SubjectID
	version int64
}

// InMemoryStore keeps requests as serialized documents so callers never
// share aggregate state with the store.
type InMemoryStore struct {
	mu       sync.RWMutex
	requests map[id.VerificationID]entry
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{requests: make(map[id.VerificationID]entry)}
}

func (s *InMemoryStore) Get(_ context.Context, requestID id.VerificationID) (*models.Request, error) {
	s.mu.RLock()
	e, ok := s.requests[requestID]
	s.mu.RUnlock()
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return decode(e.doc)
}

// Save writes req if the stored version equals expectedVersion (0 creates).
// On success req.Version is advanced.
func (s *InMemoryStore) Save(_ context.Context, req *models.Request, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.requests[req.ID]
	switch {
	case expectedVersion == 0 && exists:
		return sentinel.ErrConflict
	case expectedVersion != 0 && (!exists || current.version != expectedVersion):
		return sentinel.ErrConflict
	}

	next := expectedVersion + 1
	saved := *req
	saved.Version = next
	doc, err := json.Marshal(&saved)
	if err != nil {
		return fmt.Errorf("marshal verification request: %w", err)
	}
	s.requests[req.ID] = entry{doc: doc, subject: req.SubjectID, version: next}
	req.Version = next
	return nil
}

// ListBySubject returns a subject's requests, newest first.
func (s *InMemoryStore) ListBySubject(_ context.Context, subjectID id.SubjectID) ([]*models.Request, error) {
	s.mu.RLock()
	var docs [][]byte
	for _, e := range s.requests {
		if e.subject == subjectID {
			docs = append(docs, e.doc)
		}
	}
	s.mu.RUnlock()

	out := make([]*models.Request, 0, len(docs))
	for _, doc := range docs {
		req, err := decode(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() > out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func decode(doc []byte) (*models.Request, error) {
	var req models.Request
	if err := json.Unmarshal(doc, &req); err != nil {
		return nil, fmt.Errorf("unmarshal verification request: %w", err)
	}
	return &req, nil
}
