package identity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/nikhilbhutani/dictation/internal/apperror"
)

// ConfirmationMarker is the email local-part prefix that makes the local
// backend create accounts pending activation.
const ConfirmationMarker = "confirm"

const (
	localAudience    = "authenticated"
	minPasswordLen   = 6
	defaultLocalIss  = "dictation-local"
	defaultAccessTTL = time.Hour
)

type localUser struct {
	id           string
	email        string
	passwordHash []byte
	confirmed    bool
	appMetadata  map[string]any
	userMetadata map[string]any
	createdAt    time.Time
}

// LocalAccounts is an in-memory identity provider for development and tests.
// It answers with the same payload shapes as the hosted provider and signs
// HS256 tokens that NewHMACVerifier accepts.
type LocalAccounts struct {
	secret    []byte
	issuer    string
	accessTTL time.Duration
	now       func() time.Time

	mu         sync.Mutex
	users      map[string]*localUser // by lower-cased email
	byID       map[string]*localUser
	refresh    map[string]string // refresh token -> user id
	bcryptCost int
}

func NewLocalAccounts(secret, issuer string) (*LocalAccounts, error) {
	if secret == "" {
		return nil, apperror.Config("local identity backend needs a signing secret")
	}
	if issuer == "" {
		issuer = defaultLocalIss
	}
	return &LocalAccounts{
		secret:     []byte(secret),
		issuer:     issuer,
		accessTTL:  defaultAccessTTL,
		now:        time.Now,
		users:      make(map[string]*localUser),
		byID:       make(map[string]*localUser),
		refresh:    make(map[string]string),
		bcryptCost: bcrypt.DefaultCost,
	}, nil
}

// Issuer is the iss claim on tokens minted by this backend.
func (l *LocalAccounts) Issuer() string { return l.issuer }

// Audience is the aud claim on tokens minted by this backend.
func (l *LocalAccounts) Audience() string { return localAudience }

func (l *LocalAccounts) SignUp(_ context.Context, in SignUpInput) (*AuthResult, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if _, err := mail.ParseAddress(email); err != nil || !strings.Contains(email, "@") {
		return nil, apperror.BadRequest("a valid email address is required")
	}
	if len(in.Password) < minPasswordLen {
		return nil, apperror.BadRequest(fmt.Sprintf("password must be at least %d characters", minPasswordLen))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), l.bcryptCost)
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("hash password: %w", err))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.users[email]; exists {
		return nil, apperror.Conflict("an account with this email already exists")
	}

	local, _, _ := strings.Cut(email, "@")
	u := &localUser{
		id:           uuid.NewString(),
		email:        email,
		passwordHash: hash,
		confirmed:    !strings.HasPrefix(local, ConfirmationMarker),
		appMetadata:  map[string]any{"provider": "email", "tier": string(TierFree)},
		userMetadata: map[string]any{},
		createdAt:    l.now(),
	}
	if name := strings.TrimSpace(in.ProfileName); name != "" {
		u.appMetadata["profile_name"] = name
	}
	l.users[email] = u
	l.byID[u.id] = u

	if !u.confirmed {
		return Normalize(u.payload(), l.now())
	}
	return l.issueLocked(u)
}

func (l *LocalAccounts) SignIn(_ context.Context, email, password string) (*AuthResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	u, ok := l.users[strings.ToLower(strings.TrimSpace(email))]
	if !ok || bcrypt.CompareHashAndPassword(u.passwordHash, []byte(password)) != nil {
		return nil, apperror.Unauthorized("invalid email or password")
	}
	if !u.confirmed {
		return nil, apperror.Unauthorized("email address has not been confirmed")
	}
	return l.issueLocked(u)
}

func (l *LocalAccounts) Refresh(_ context.Context, refreshToken string) (*AuthResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	userID, ok := l.refresh[refreshToken]
	if !ok {
		return nil, apperror.Unauthorized("invalid or expired refresh token")
	}
	delete(l.refresh, refreshToken)

	u, ok := l.byID[userID]
	if !ok {
		return nil, apperror.Unauthorized("invalid or expired refresh token")
	}
	return l.issueLocked(u)
}

// SignOut revokes every refresh token of the token's subject. Access tokens
// stay valid until they expire, as with the hosted provider.
func (l *LocalAccounts) SignOut(_ context.Context, accessToken string) error {
	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(accessToken, claims, func(*jwt.Token) (interface{}, error) {
		return l.secret, nil
	}, jwt.WithValidMethods(hmacMethods), jwt.WithIssuer(l.issuer), jwt.WithExpirationRequired())
	if err != nil || claims.Subject == "" {
		return apperror.Unauthorized("invalid or expired access token")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for token, uid := range l.refresh {
		if uid == claims.Subject {
			delete(l.refresh, token)
		}
	}
	return nil
}

// UpdateUserMetadata merges fields into the user-editable metadata, the way a
// signed-in user can edit their own profile with the hosted provider.
func (l *LocalAccounts) UpdateUserMetadata(userID string, fields map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	u, ok := l.byID[userID]
	if !ok {
		return errors.New("identity: unknown user")
	}
	for k, v := range fields {
		u.userMetadata[k] = v
	}
	return nil
}

// SetTier changes the server-controlled tier of an account.
func (l *LocalAccounts) SetTier(userID string, tier Tier) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	u, ok := l.byID[userID]
	if !ok {
		return errors.New("identity: unknown user")
	}
	u.appMetadata["tier"] = string(tier)
	return nil
}

func (l *LocalAccounts) issueLocked(u *localUser) (*AuthResult, error) {
	now := l.now()
	exp := now.Add(l.accessTTL)
	claims := tokenClaims{
		Email: u.email,
		Role:  localAudience,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.id,
			Issuer:    l.issuer,
			Audience:  jwt.ClaimStrings{localAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(l.secret)
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("sign access token: %w", err))
	}

	refresh := uuid.NewString()
	l.refresh[refresh] = u.id

	return Normalize(map[string]any{
		"access_token":  access,
		"refresh_token": refresh,
		"token_type":    "bearer",
		"expires_in":    float64(l.accessTTL / time.Second),
		"expires_at":    float64(exp.Unix()),
		"user":          u.payload(),
	}, now)
}

func (u *localUser) payload() map[string]any {
	app := make(map[string]any, len(u.appMetadata))
	for k, v := range u.appMetadata {
		app[k] = v
	}
	meta := make(map[string]any, len(u.userMetadata))
	for k, v := range u.userMetadata {
		meta[k] = v
	}
	return map[string]any{
		"id":            u.id,
		"aud":           localAudience,
		"role":          localAudience,
		"email":         u.email,
		"app_metadata":  app,
		"user_metadata": meta,
		"created_at":    u.createdAt.Format(time.RFC3339),
	}
}
