package metadata

import (
	"net"
	"net/http"
	"strings"

	"aegis/pkg/requestcontext"
)

// ClientMetadata records the client IP and User-Agent on the request
// context. Forwarding headers are honoured only when trustProxy is set,
// since security events key on the IP.
func ClientMetadata(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := requestcontext.WithClientMetadata(r.Context(),
				ClientIPFromRequest(r, trustProxy),
				r.Header.Get("User-Agent"),
			)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIPFromRequest extracts the client IP, preferring the first
// X-Forwarded-For hop, then X-Real-IP, when behind a trusted proxy.
func ClientIPFromRequest(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
