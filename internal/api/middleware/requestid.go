package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/dictation/internal/api/respond"
)

// RequestID adopts a non-empty inbound x-request-id or generates one, and
// echoes it on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(respond.HeaderRequestID))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(respond.HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(respond.WithRequestID(r.Context(), id)))
	})
}
