package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"aegis/internal/credential/models"
	id "aegis/pkg/domain"
	"aegis/pkg/platform/sentinel"
)

// InMemoryStore keeps credentials for tests and single-process runs.
type InMemoryStore struct {
	mu             sync.RWMutex
	credentials    map[id.CredentialID]*models.Credential
	byVerification map[id.VerificationID]id.CredentialID
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		credentials:    make(map[id.CredentialID]*models.Credential),
		byVerification: make(map[id.VerificationID]id.CredentialID),
	}
}

func (s *InMemoryStore) Get(_ context.Context, credentialID id.CredentialID) (*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.credentials[credentialID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return c.Clone(), nil
}

func (s *InMemoryStore) GetByVerification(ctx context.Context, verificationID id.VerificationID) (*models.Credential, error) {
	s.mu.RLock()
	credentialID, ok := s.byVerification[verificationID]
	s.mu.RUnlock()
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.Get(ctx, credentialID)
}

// Create fails with ErrAlreadyUsed when the verification already has a
// credential.
func (s *InMemoryStore) Create(_ context.Context, c *models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byVerification[c.VerificationRequestID]; taken {
		return sentinel.ErrAlreadyUsed
	}
	if _, exists := s.credentials[c.ID]; exists {
		return sentinel.ErrConflict
	}
	s.credentials[c.ID] = c.Clone()
	s.byVerification[c.VerificationRequestID] = c.ID
	return nil
}

// UpdateStatus writes c's status if the stored status is still from.
func (s *InMemoryStore) UpdateStatus(_ context.Context, c *models.Credential, from models.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.credentials[c.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Status != from {
		return sentinel.ErrConflict
	}
	next := current.Clone()
	next.Status = c.Status
	next.StatusReason = c.StatusReason
	next.StatusChangedAt = c.StatusChangedAt
	s.credentials[c.ID] = next
	return nil
}

// ListDue returns active credentials whose expiry is at or before now,
// earliest first.
func (s *InMemoryStore) ListDue(_ context.Context, now time.Time, limit int) ([]*models.Credential, error) {
	s.mu.RLock()
	var out []*models.Credential
	for _, c := range s.credentials {
		if c.Status == models.StatusActive && !now.Before(c.ExpiryAt) {
			out = append(out, c.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ExpiryAt.Before(out[j].ExpiryAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkExpired expires the listed credentials that are still active and
// returns the ones it changed.
func (s *InMemoryStore) MarkExpired(_ context.Context, ids []id.CredentialID, at time.Time) ([]id.CredentialID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var changed []id.CredentialID
	for _, credentialID := range ids {
		c, ok := s.credentials[credentialID]
		if !ok || c.Status != models.StatusActive {
			continue
		}
		next := c.Clone()
		next.Status = models.StatusExpired
		next.StatusReason = "expired"
		next.StatusChangedAt = &at
		s.credentials[credentialID] = next
		changed = append(changed, credentialID)
	}
	return changed, nil
}
