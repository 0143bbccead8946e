package memory

import (
	"context"
	"sync"

	id "aegis/pkg/domain"
	audit "aegis/pkg/platform/audit"
)

// InMemoryStore keeps a single hash-chained log. Used by tests and single
// process deployments.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []audit.Event
	head   string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{head: audit.GenesisHash}
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sealed, err := audit.Seal(s.head, event)
	if err != nil {
		return err
	}
	s.events = append(s.events, sealed)
	s.head = sealed.Hash
	return nil
}

func (s *InMemoryStore) ListBySubject(_ context.Context, subjectID id.SubjectID) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Event
	for _, e := range s.events {
		if e.SubjectID == subjectID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ListAll returns the full chain in append order.
func (s *InMemoryStore) ListAll(_ context.Context) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Event{}, s.events...), nil
}

// ListByAction is a test convenience.
func (s *InMemoryStore) ListByAction(_ context.Context, action audit.AuditEvent) []audit.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Event
	for _, e := range s.events {
		if e.Action == string(action) {
			out = append(out, e)
		}
	}
	return out
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
	s.head = audit.GenesisHash
}
