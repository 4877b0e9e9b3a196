package middleware

import (
	"net/http"
	"strings"
)

var (
	corsAllowHeaders = strings.Join([]string{
		"Accept", "Authorization", "Content-Type",
		"X-Api-Key", "X-Openai-Api-Key", "X-Elevenlabs-Api-Key",
		"X-Request-Id", "X-User-Id",
	}, ", ")
	corsExposeHeaders = strings.Join([]string{
		"X-Request-Id", "X-Ratelimit-Limit", "X-Ratelimit-Remaining", "X-Ratelimit-Reset-Ms", "Retry-After",
	}, ", ")
)

// CORS answers preflight requests and tags responses for the allowed origins.
// "*" allows any origin; the request origin is echoed rather than "*".
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	originsSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originsSet[o] = true
	}
	allowAll := originsSet["*"]

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowAll || originsSet[origin]) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}

			w.Header().Set("Access-Control-Expose-Headers", corsExposeHeaders)

			// Preflight never reaches auth or rate limiting.
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", corsAllowHeaders)
				w.Header().Set("Access-Control-Max-Age", "3600")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
