package auth

import "net/http"

// ErrorWriter renders a resolution failure. The HTTP layer supplies its envelope writer.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Authenticate resolves credentials and stores them on the request context.
func (r *Resolver) Authenticate(writeErr ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			creds, err := r.Resolve(req.Context(), req.Header)
			if err != nil {
				writeErr(w, req, err)
				return
			}

			ctx := WithUser(req.Context(), creds.User)
			ctx = WithProviderKeys(ctx, creds.Keys)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	}
}
