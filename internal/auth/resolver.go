package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/nikhilbhutani/dictation/internal/apperror"
	"github.com/nikhilbhutani/dictation/internal/config"
	"github.com/nikhilbhutani/dictation/internal/identity"
)

// Credentials is everything the resolver learned from a request's headers.
type Credentials struct {
	User UserContext
	Keys ProviderKeys
}

type ResolverConfig struct {
	Mode          string
	IngressAPIKey string
	AllowOpenBYOK bool
}

// Resolver turns request headers into exactly one UserContext. It is the only
// place that inspects credential headers.
type Resolver struct {
	cfg      ResolverConfig
	verifier identity.Verifier
}

// NewResolver builds a resolver. verifier may be nil only when mode is off.
func NewResolver(cfg ResolverConfig, verifier identity.Verifier) *Resolver {
	if cfg.Mode == "" {
		cfg.Mode = config.AuthModeOptional
	}
	return &Resolver{cfg: cfg, verifier: verifier}
}

func (r *Resolver) Mode() string { return r.cfg.Mode }

func (r *Resolver) Resolve(ctx context.Context, h http.Header) (*Credentials, error) {
	keys := providerKeys(h)
	legacy := strings.TrimSpace(h.Get(HeaderLegacyUserID))

	secretPresented := false
	if r.cfg.IngressAPIKey != "" {
		presented := strings.TrimSpace(h.Get(HeaderAPIKey))
		if presented == "" {
			presented, _ = bearerToken(h)
		}
		if !secretMatches(presented, r.cfg.IngressAPIKey) {
			return nil, apperror.Unauthorized("invalid or missing api key")
		}
		secretPresented = true
	}

	fallback := func() (*Credentials, error) {
		user := UserContext{UserID: AnonymousUserID, AuthSource: SourceAnonymous}
		if secretPresented {
			user.AuthSource = SourceSharedSecret
		}
		user.ClientLabel = legacy
		return r.finish(user, keys)
	}

	if r.cfg.Mode == config.AuthModeOff {
		return fallback()
	}

	token, err := bearerToken(h)
	if err != nil {
		return nil, err
	}

	if token == "" || (r.cfg.IngressAPIKey != "" && secretMatches(token, r.cfg.IngressAPIKey)) {
		if r.cfg.Mode != config.AuthModeRequired {
			return fallback()
		}
		if keys.Complete() && r.cfg.AllowOpenBYOK {
			user := UserContext{UserID: "byok", AuthSource: SourceOpenProviderKeys, ClientLabel: legacy}
			return r.finish(user, keys)
		}
		return nil, apperror.Unauthorized("missing bearer token")
	}

	if r.verifier == nil {
		return nil, apperror.Config("bearer token verification is not configured")
	}
	claims, err := r.verifier.Verify(ctx, token)
	if err != nil {
		return nil, err
	}

	return r.finish(UserContext{
		UserID:          claims.UserID,
		IsAuthenticated: true,
		AuthSource:      SourcePlatformIdentity,
		Email:           claims.Email,
		Role:            claims.Role,
	}, keys)
}

func (r *Resolver) finish(user UserContext, keys ProviderKeys) (*Credentials, error) {
	if keys.partial() {
		return nil, apperror.BadRequest("x-openai-api-key and x-elevenlabs-api-key must be supplied together")
	}
	return &Credentials{User: user, Keys: keys}, nil
}
