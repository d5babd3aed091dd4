package middleware

import (
	"context"
	"net/http"
)

type contextKey string

const sourceIdentityKey contextKey = "source_identity"

// SourceIdentity extracts a caller identity for rate limiting: the
// X-Source-Id header if the caller supplies one, else RemoteAddr. The
// planner treats this purely as a rate-limit bucket key — it is not an
// authentication mechanism, per the control plane's non-goal that admin
// endpoints (and callers in general) are not authenticated here.
func SourceIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Source-Id")
		if id == "" {
			id = r.RemoteAddr
		}
		ctx := context.WithValue(r.Context(), sourceIdentityKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetSourceIdentity retrieves the identity set by SourceIdentity, or ""
// if unset.
func GetSourceIdentity(ctx context.Context) string {
	if v, ok := ctx.Value(sourceIdentityKey).(string); ok {
		return v
	}
	return ""
}
