// Package provider guards the routes external check providers report
// step results on.
package provider

import (
	"log/slog"
	"net/http"

	dErrors "aegis/pkg/domain-errors"
	"aegis/pkg/platform/httputil"
	"aegis/pkg/requestcontext"
)

const HeaderProviderToken = "X-Provider-Token"

// RequireProviderToken admits only callers presenting a configured check
// provider token. A nil verify closes the routes.
func RequireProviderToken(verify func(token string) error, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token := r.Header.Get(HeaderProviderToken)
			if verify == nil || token == "" || verify(token) != nil {
				logger.WarnContext(ctx, "check provider token rejected",
					"request_id", requestcontext.RequestID(ctx),
					"client_ip", requestcontext.ClientIP(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "check provider token required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
