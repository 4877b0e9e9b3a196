package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/dictation/internal/api/handlers"
	"github.com/nikhilbhutani/dictation/internal/api/middleware"
	"github.com/nikhilbhutani/dictation/internal/api/respond"
	"github.com/nikhilbhutani/dictation/internal/apperror"
	"github.com/nikhilbhutani/dictation/internal/auth"
	"github.com/nikhilbhutani/dictation/internal/identity"
	"github.com/nikhilbhutani/dictation/internal/ratelimit"
	"github.com/nikhilbhutani/dictation/internal/usage"
)

// Deps are the already-built collaborators the HTTP surface needs.
type Deps struct {
	Resolver     *auth.Resolver
	Accounts     identity.Accounts // nil disables the auth routes
	Pipeline     handlers.Runner
	Usage        usage.Recorder
	VoiceLimiter ratelimit.Limiter
	AuthLimiter  ratelimit.Limiter
	Redis        *redis.Client // nil when not configured
	// MaxUploadBytes caps the voice upload body.
	MaxUploadBytes int64
	CORSOrigins    []string
}

type Router struct {
	mux  *chi.Mux
	deps Deps
}

func NewRouter(deps Deps) *Router {
	if len(deps.CORSOrigins) == 0 {
		deps.CORSOrigins = []string{"*"}
	}
	return &Router{mux: chi.NewRouter(), deps: deps}
}

func (rt *Router) Setup() http.Handler {
	r := rt.mux

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging)
	r.Use(middleware.Recoverer)
	r.Use(middleware.CORS(rt.deps.CORSOrigins))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respond.Error(w, r, apperror.NotFound("route not found"))
	})

	// Health endpoints (no auth)
	var pinger handlers.Pinger
	if rt.deps.Redis != nil {
		pinger = redisPinger{rt.deps.Redis}
	}
	health := handlers.NewHealthHandler(pinger)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		// Auth routes are limited for everyone.
		authH := handlers.NewAuthHandler(rt.deps.Accounts)
		r.Route("/auth", func(r chi.Router) {
			r.Use(middleware.RateLimit(rt.deps.AuthLimiter, "auth", nil))
			r.Post("/signup", authH.SignUp)
			r.Post("/login", authH.SignIn)
			r.Post("/refresh", authH.Refresh)
			r.Post("/logout", authH.SignOut)
		})

		// Voice traffic is limited only when the caller has no verified identity.
		// Failed credential resolution spends from the same per-address budget.
		voiceH := handlers.NewVoiceHandler(rt.deps.Pipeline, rt.deps.Usage, rt.deps.MaxUploadBytes)
		r.Group(func(r chi.Router) {
			r.Use(rt.deps.Resolver.Authenticate(middleware.ChargeOnError(rt.deps.VoiceLimiter, "voice", respond.Error)))
			r.Use(middleware.RateLimit(rt.deps.VoiceLimiter, "voice", isAuthenticated))
			r.Post("/voice-to-text", voiceH.Transcribe)
		})
	})

	return r
}

func isAuthenticated(r *http.Request) bool {
	return auth.UserFromContext(r.Context()).IsAuthenticated
}

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
