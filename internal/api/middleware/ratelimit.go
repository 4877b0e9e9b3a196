package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/nikhilbhutani/dictation/internal/api/respond"
	"github.com/nikhilbhutani/dictation/internal/apperror"
	"github.com/nikhilbhutani/dictation/internal/metrics"
	"github.com/nikhilbhutani/dictation/internal/ratelimit"
)

const (
	HeaderRateLimitLimit     = "X-Ratelimit-Limit"
	HeaderRateLimitRemaining = "X-Ratelimit-Remaining"
	HeaderRateLimitReset     = "X-Ratelimit-Reset-Ms"
)

// RateLimit counts requests per client address. Requests for which exempt
// returns true are not counted and carry no rate-limit headers. A failing
// store lets the request through.
func RateLimit(l ratelimit.Limiter, scope string, exempt func(*http.Request) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if exempt != nil && exempt(r) {
				next.ServeHTTP(w, r)
				return
			}
			if charge(w, r, l, scope) {
				next.ServeHTTP(w, r)
			}
		})
	}
}

// ChargeOnError wraps an error writer so that each rejected request also
// spends one unit of the scope's budget. Once the budget is gone the caller
// sees 429 instead of the original error.
func ChargeOnError(l ratelimit.Limiter, scope string, writeErr func(http.ResponseWriter, *http.Request, error)) func(http.ResponseWriter, *http.Request, error) {
	return func(w http.ResponseWriter, r *http.Request, err error) {
		if charge(w, r, l, scope) {
			writeErr(w, r, err)
		}
	}
}

// charge spends one unit for the request's client address and sets the
// rate-limit headers. It reports false after writing a 429.
func charge(w http.ResponseWriter, r *http.Request, l ratelimit.Limiter, scope string) bool {
	d, err := l.Check(r.Context(), scope+":"+ClientIP(r))
	if err != nil {
		slog.WarnContext(r.Context(), "rate limiter unavailable, allowing request",
			"scope", scope,
			"request_id", respond.RequestID(r.Context()),
			"error", err,
		)
		return true
	}

	h := w.Header()
	h.Set(HeaderRateLimitLimit, strconv.Itoa(d.Limit))
	h.Set(HeaderRateLimitRemaining, strconv.Itoa(d.Remaining))
	h.Set(HeaderRateLimitReset, strconv.FormatInt(d.ResetAfter.Milliseconds(), 10))

	if !d.Allowed {
		metrics.RecordRateLimitRejection(scope)
		h.Set("Retry-After", strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds()))))
		respond.Error(w, r, apperror.RateLimited("rate limit exceeded, retry later").
			WithDetail("retry_after_ms", d.RetryAfter.Milliseconds()))
		return false
	}
	return true
}

// ClientIP is the request's remote address without the port. Run after
// chi's RealIP to honor proxy headers.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
