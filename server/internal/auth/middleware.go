package auth

import (
	"net/http"
)

// APIKeyMiddleware returns HTTP middleware with the same semantics as
// APIKeyInterceptor. Paths listed in open skip the check, e.g. /metrics
// for a scraper that cannot send headers.
func APIKeyMiddleware(mode, header, key string, open ...string) func(http.Handler) http.Handler {
	skip := make(map[string]bool, len(open))
	for _, p := range open {
		skip[p] = true
	}
	return func(next http.Handler) http.Handler {
		if !enabled(mode, key) {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			got := r.Header.Get(header)
			if got == "" {
				// Browsers cannot set headers on WebSocket upgrades.
				got = r.URL.Query().Get("api_key")
			}
			if got == "" || !match(got, key) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"invalid api key"}` + "\n"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
