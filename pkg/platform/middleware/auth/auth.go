// Package auth guards reviewer and subject routes.
package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	id "aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
	"aegis/pkg/platform/httputil"
	"aegis/pkg/requestcontext"
)

// Authenticator resolves a presented bearer token to a reviewer.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (id.ReviewerID, error)
}

// SubjectAuthenticator resolves a subject's bearer token to the request it
// may follow.
type SubjectAuthenticator interface {
	AuthenticateSubject(ctx context.Context, token string) (requestcontext.SubjectGrant, error)
}

// RequireReviewer rejects requests without a valid reviewer bearer token and
// stores the reviewer ID on the context for the handlers.
func RequireReviewer(authn Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := bearer(w, r, logger)
			if !ok {
				return
			}
			reviewerID, err := authn.Authenticate(ctx, token)
			if err != nil {
				reject(w, r, logger, "reviewer", err)
				return
			}
			next.ServeHTTP(w, r.WithContext(requestcontext.WithReviewerID(ctx, reviewerID)))
		})
	}
}

// RequireSubject rejects requests without a valid subject bearer token and
// stores the grant on the context. Handlers still match the grant against
// the request in the path.
func RequireSubject(authn SubjectAuthenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := bearer(w, r, logger)
			if !ok {
				return
			}
			grant, err := authn.AuthenticateSubject(ctx, token)
			if err != nil {
				reject(w, r, logger, "subject", err)
				return
			}
			next.ServeHTTP(w, r.WithContext(requestcontext.WithSubject(ctx, grant)))
		})
	}
}

func bearer(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (string, bool) {
	ctx := r.Context()
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		logger.WarnContext(ctx, "unauthorized access - missing token",
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing or invalid Authorization header"))
		return "", false
	}
	return token, true
}

func reject(w http.ResponseWriter, r *http.Request, logger *slog.Logger, principal string, err error) {
	ctx := r.Context()
	if dErrors.HasCode(err, dErrors.CodeUnauthorized) {
		logger.WarnContext(ctx, "unauthorized access - invalid token",
			"principal", principal,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid token"))
		return
	}
	logger.ErrorContext(ctx, "failed to authenticate "+principal,
		"error", err,
		"request_id", requestcontext.RequestID(ctx),
	)
	httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to validate token"))
}
