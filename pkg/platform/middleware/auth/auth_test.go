package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	id "aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
	"aegis/pkg/requestcontext"
)

type authenticatorFunc func(ctx context.Context, token string) (id.ReviewerID, error)

func (f authenticatorFunc) Authenticate(ctx context.Context, token string) (id.ReviewerID, error) {
	return f(ctx, token)
}

func TestRequireReviewer(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reviewer := id.ReviewerID(uuid.New())
	authn := authenticatorFunc(func(_ context.Context, token string) (id.ReviewerID, error) {
		switch token {
		case "good":
			return reviewer, nil
		case "broken":
			return id.ReviewerID{}, errors.New("hash store offline")
		default:
			return id.ReviewerID{}, dErrors.New(dErrors.CodeUnauthorized, "invalid secret")
		}
	})

	var seen id.ReviewerID
	h := RequireReviewer(authn, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestcontext.ReviewerID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid token", "Bearer good", http.StatusNoContent},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic good", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"authenticator failure", "Bearer broken", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = id.ReviewerID{}
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusNoContent {
				assert.Equal(t, reviewer, seen)
			} else {
				assert.True(t, seen.IsNil())
			}
		})
	}
}

type subjectAuthenticatorFunc func(ctx context.Context, token string) (requestcontext.SubjectGrant, error)

func (f subjectAuthenticatorFunc) AuthenticateSubject(ctx context.Context, token string) (requestcontext.SubjectGrant, error) {
	return f(ctx, token)
}

func TestRequireSubject(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	grant := requestcontext.SubjectGrant{
		SubjectID:      id.SubjectID(uuid.New()),
		VerificationID: id.VerificationID(uuid.New()),
	}
	authn := subjectAuthenticatorFunc(func(_ context.Context, token string) (requestcontext.SubjectGrant, error) {
		if token == "good" {
			return grant, nil
		}
		return requestcontext.SubjectGrant{}, dErrors.New(dErrors.CodeUnauthorized, "subject token expired")
	})

	var seen requestcontext.SubjectGrant
	h := RequireSubject(authn, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = requestcontext.Subject(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	call := func(header string) int {
		seen = requestcontext.SubjectGrant{}
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w.Code
	}

	assert.Equal(t, http.StatusNoContent, call("Bearer good"))
	assert.Equal(t, grant, seen)
	assert.Equal(t, http.StatusUnauthorized, call("Bearer stale"))
	assert.True(t, seen.SubjectID.IsNil())
	assert.Equal(t, http.StatusUnauthorized, call(""))
}
