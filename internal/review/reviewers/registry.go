// Package reviewers authenticates human reviewers from configured token
// hashes. A token is "<reviewer-uuid>.<secret>".
package reviewers

import (
	"context"
	"fmt"
	"strings"

	"aegis/internal/secrets"
	id "aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
)

type Registry struct {
	hashes map[id.ReviewerID]string
	// decoy is checked for unknown reviewers so lookups take the same time.
	decoy string
}

// NewRegistry parses reviewer ID to bcrypt hash pairs.
func NewRegistry(tokens map[string]string) (*Registry, error) {
	hashes := make(map[id.ReviewerID]string, len(tokens))
	for raw, hash := range tokens {
		reviewerID, err := id.ParseReviewerID(raw)
		if err != nil {
			return nil, fmt.Errorf("reviewer %q: %w", raw, err)
		}
		if !strings.HasPrefix(hash, "$2") {
			return nil, fmt.Errorf("reviewer %s: token hash is not bcrypt", reviewerID)
		}
		hashes[reviewerID] = hash
	}
	secret, err := secrets.Generate()
	if err != nil {
		return nil, err
	}
	decoy, err := secrets.Hash(secret)
	if err != nil {
		return nil, err
	}
	return &Registry{hashes: hashes, decoy: decoy}, nil
}

func (r *Registry) Len() int { return len(r.hashes) }

// Authenticate implements the reviewer bearer check.
func (r *Registry) Authenticate(_ context.Context, token string) (id.ReviewerID, error) {
	invalid := dErrors.New(dErrors.CodeUnauthorized, "invalid reviewer token")
	rawID, secret, ok := strings.Cut(token, ".")
	if !ok || secret == "" {
		return id.ReviewerID{}, invalid
	}
	reviewerID, err := id.ParseReviewerID(rawID)
	if err != nil {
		return id.ReviewerID{}, invalid
	}
	hash, known := r.hashes[reviewerID]
	if !known {
		_ = secrets.Verify(secret, r.decoy)
		return id.ReviewerID{}, invalid
	}
	if err := secrets.Verify(secret, hash); err != nil {
		if dErrors.HasCode(err, dErrors.CodeUnauthorized) {
			return id.ReviewerID{}, invalid
		}
		return id.ReviewerID{}, err
	}
	return reviewerID, nil
}

// TokenVerifier checks operator and check provider tokens against a bcrypt
// hash. An empty hash yields nil, which keeps the guarded routes closed.
func TokenVerifier(hash string) func(token string) error {
	if hash == "" {
		return nil
	}
	return func(token string) error {
		return secrets.Verify(token, hash)
	}
}
