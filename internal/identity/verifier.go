package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nikhilbhutani/dictation/internal/apperror"
)

// Claims is the verified identity extracted from a bearer token.
type Claims struct {
	UserID string
	Email  string
	Role   string
}

// Verifier checks bearer tokens issued by the identity provider.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

type tokenClaims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

var (
	hmacMethods       = []string{"HS256", "HS384", "HS512"}
	asymmetricMethods = []string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}
)

// JWTVerifier verifies tokens with either a shared HMAC secret or a remote key set.
type JWTVerifier struct {
	keyFunc  func(ctx context.Context) jwt.Keyfunc
	methods  []string
	issuer   string
	audience string
}

// NewHMACVerifier verifies tokens signed with a shared secret.
func NewHMACVerifier(secret, issuer, audience string) *JWTVerifier {
	key := []byte(secret)
	return &JWTVerifier{
		keyFunc: func(context.Context) jwt.Keyfunc {
			return func(*jwt.Token) (interface{}, error) { return key, nil }
		},
		methods:  hmacMethods,
		issuer:   issuer,
		audience: audience,
	}
}

// NewJWKSVerifier verifies tokens against the public key set published at jwksURL.
func NewJWKSVerifier(jwksURL, issuer, audience string, client *http.Client) *JWTVerifier {
	ks := newKeySet(jwksURL, client, time.Hour, 30*time.Second)
	return newKeySetVerifier(ks, issuer, audience)
}

func newKeySetVerifier(ks *keySet, issuer, audience string) *JWTVerifier {
	return &JWTVerifier{
		keyFunc: func(ctx context.Context) jwt.Keyfunc {
			return func(t *jwt.Token) (interface{}, error) {
				kid, _ := t.Header["kid"].(string)
				if kid == "" {
					return nil, errors.New("token header has no kid")
				}
				return ks.Key(ctx, kid)
			}
		},
		methods:  asymmetricMethods,
		issuer:   issuer,
		audience: audience,
	}
}

func (v *JWTVerifier) Verify(ctx context.Context, raw string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(v.methods),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &tokenClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, v.keyFunc(ctx), opts...)
	if err != nil {
		return nil, classifyTokenError(err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, apperror.Unauthorized("invalid access token")
	}

	return &Claims{
		UserID: claims.Subject,
		Email:  claims.Email,
		Role:   claims.Role,
	}, nil
}

// classifyTokenError maps jwt validation failures onto client-facing errors.
// Key-set outages are the only retryable outcome.
func classifyTokenError(err error) error {
	switch {
	case errors.Is(err, ErrKeySetUnavailable):
		return apperror.Unavailable("token verification is temporarily unavailable").WithCause(err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return apperror.Unauthorized("access token expired").WithDetail("reason", "expired")
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return apperror.Unauthorized("access token not yet valid").WithDetail("reason", "not_yet_valid")
	case errors.Is(err, jwt.ErrTokenMalformed):
		return apperror.Unauthorized("malformed access token").WithDetail("reason", "malformed")
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return apperror.Unauthorized("untrusted access token signature").WithDetail("reason", "signature").WithCause(err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer), errors.Is(err, jwt.ErrTokenInvalidAudience):
		return apperror.Unauthorized("access token was not issued for this service").WithDetail("reason", "claims")
	default:
		return apperror.Unauthorized("invalid access token").WithCause(fmt.Errorf("verify token: %w", err))
	}
}
