package identity

import (
	"context"
	"encoding/json"
	"time"
)

type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

// DefaultProfileName is used when nothing better can be derived.
const DefaultProfileName = "Voice User"

type Account struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	ProfileName string `json:"profile_name"`
	Tier        Tier   `json:"tier"`
}

type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	// ExpiresAt is the access token expiry in epoch seconds, zero when unknown.
	ExpiresAt int64 `json:"expires_at"`
}

// MarshalJSON always emits expires_at, as null when the expiry is unknown.
func (s Session) MarshalJSON() ([]byte, error) {
	var exp *int64
	if s.ExpiresAt != 0 {
		exp = &s.ExpiresAt
	}
	return json.Marshal(struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresAt    *int64 `json:"expires_at"`
	}{s.AccessToken, s.RefreshToken, exp})
}

// NeedsRefresh reports whether the access token expires within leeway of now.
// Sessions without a known expiry are never refreshed proactively.
func (s *Session) NeedsRefresh(now time.Time, leeway time.Duration) bool {
	if s == nil || s.ExpiresAt == 0 {
		return false
	}
	return now.Add(leeway).Unix() >= s.ExpiresAt
}

// AuthResult is the canonical outcome of every account operation.
// A nil Session means the account exists but is awaiting activation.
type AuthResult struct {
	Account Account
	Session *Session
}

func (r *AuthResult) RequiresEmailConfirmation() bool {
	return r.Session == nil
}

type SignUpInput struct {
	Email       string
	Password    string
	ProfileName string
}

// Accounts performs account lifecycle operations against the identity provider.
type Accounts interface {
	SignUp(ctx context.Context, in SignUpInput) (*AuthResult, error)
	SignIn(ctx context.Context, email, password string) (*AuthResult, error)
	Refresh(ctx context.Context, refreshToken string) (*AuthResult, error)
	SignOut(ctx context.Context, accessToken string) error
}
