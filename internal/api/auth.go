package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

// BearerAuth guards cache management routes. An empty token disables the
// check.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || presented == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="pokedex"`)
				httpError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token for %s %s", r.Method, r.URL.Path)
				return
			}
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				slog.Warn("rejected cache management request", "method", r.Method, "path", r.URL.Path, "request_id", w.Header().Get("X-Request-ID"))
				w.Header().Set("WWW-Authenticate", `Bearer realm="pokedex", error="invalid_token"`)
				httpError(w, http.StatusUnauthorized, "unauthorized", "invalid bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
