package identity

import (
	"strings"
	"time"

	"github.com/nikhilbhutani/dictation/internal/apperror"
)

// Normalize turns an identity provider payload into an AuthResult.
//
// Providers answer in several shapes: a bare user object (pending confirmation),
// a session object with a nested user, or either of those wrapped in "data".
// Nothing outside this file looks at raw payloads.
func Normalize(payload map[string]any, now time.Time) (*AuthResult, error) {
	if payload == nil {
		return nil, apperror.UpstreamContract("identity provider returned an empty response")
	}
	if inner, ok := payload["data"].(map[string]any); ok {
		payload = inner
	}

	sessionObj := payload
	if s, ok := payload["session"].(map[string]any); ok {
		sessionObj = s
	}

	user, ok := payload["user"].(map[string]any)
	if !ok {
		user, ok = sessionObj["user"].(map[string]any)
	}
	if !ok {
		user = payload
	}

	userID := stringField(user, "id")
	if userID == "" {
		userID = stringField(user, "sub")
	}
	if userID == "" {
		return nil, apperror.UpstreamContract("identity provider returned an account without an id")
	}

	email := stringField(user, "email")
	appMeta, _ := user["app_metadata"].(map[string]any)
	userMeta, _ := user["user_metadata"].(map[string]any)

	result := &AuthResult{
		Account: Account{
			UserID:      userID,
			Email:       email,
			ProfileName: profileName(appMeta, userMeta, email, userID),
			Tier:        tierOf(appMeta),
		},
		Session: sessionOf(sessionObj, now),
	}
	return result, nil
}

// tierOf only trusts app_metadata, which end users cannot edit.
func tierOf(appMeta map[string]any) Tier {
	if strings.EqualFold(stringField(appMeta, "tier"), string(TierPro)) {
		return TierPro
	}
	return TierFree
}

func profileName(appMeta, userMeta map[string]any, email, userID string) string {
	if name := stringField(appMeta, "profile_name"); name != "" {
		return name
	}
	if name := stringField(userMeta, "profile_name"); name != "" {
		return name
	}
	if local, _, ok := strings.Cut(email, "@"); ok && strings.TrimSpace(local) != "" {
		return strings.TrimSpace(local)
	}
	if id := strings.ReplaceAll(userID, "-", ""); id != "" {
		if len(id) > 8 {
			id = id[:8]
		}
		return "User " + id
	}
	return DefaultProfileName
}

func sessionOf(obj map[string]any, now time.Time) *Session {
	access := stringField(obj, "access_token")
	refresh := stringField(obj, "refresh_token")
	if access == "" && refresh == "" {
		return nil
	}

	s := &Session{AccessToken: access, RefreshToken: refresh}
	if exp, ok := numberField(obj, "expires_at"); ok && exp > 0 {
		s.ExpiresAt = int64(exp)
	} else if in, ok := numberField(obj, "expires_in"); ok && in > 0 {
		s.ExpiresAt = now.Add(time.Duration(in) * time.Second).Unix()
	}
	return s
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}

func numberField(m map[string]any, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}
