package auth

import "context"

// AuthSource says which credential admitted a request.
type AuthSource string

const (
	SourcePlatformIdentity AuthSource = "platform-identity"
	SourceSharedSecret     AuthSource = "shared-secret"
	SourceOpenProviderKeys AuthSource = "open-provider-keys"
	SourceAnonymous        AuthSource = "anonymous"
)

// AnonymousUserID is the user id of requests that carry no identity at all.
const AnonymousUserID = "anonymous"

// UserContext is resolved once per request and never persisted.
type UserContext struct {
	UserID          string
	IsAuthenticated bool
	AuthSource      AuthSource
	Email           string
	Role            string
	// ClientLabel is the unverified x-user-id header, kept for metering only.
	// It never replaces UserID.
	ClientLabel     string
}

// ProviderKeys are caller-supplied upstream credentials (bring your own keys).
type ProviderKeys struct {
	OpenAI     string
	ElevenLabs string
}

// Complete reports whether both keys were supplied.
func (k ProviderKeys) Complete() bool {
	return k.OpenAI != "" && k.ElevenLabs != ""
}

// Empty reports whether neither key was supplied.
func (k ProviderKeys) Empty() bool {
	return k.OpenAI == "" && k.ElevenLabs == ""
}

func (k ProviderKeys) partial() bool {
	return !k.Empty() && !k.Complete()
}

// Headers carrying provider keys.
const (
	HeaderOpenAIKey     = "X-Openai-Api-Key"
	HeaderElevenLabsKey = "X-Elevenlabs-Api-Key"
	HeaderAPIKey        = "X-Api-Key"
	HeaderLegacyUserID  = "X-User-Id"
)

type contextKey string

const (
	userKey contextKey = "user"
	keysKey contextKey = "provider_keys"
)

func WithUser(ctx context.Context, u UserContext) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// UserFromContext returns the resolved user, or an anonymous context when none was stored.
func UserFromContext(ctx context.Context) UserContext {
	if u, ok := ctx.Value(userKey).(UserContext); ok {
		return u
	}
	return UserContext{UserID: AnonymousUserID, AuthSource: SourceAnonymous}
}

func WithProviderKeys(ctx context.Context, k ProviderKeys) context.Context {
	return context.WithValue(ctx, keysKey, k)
}

func ProviderKeysFromContext(ctx context.Context) ProviderKeys {
	k, _ := ctx.Value(keysKey).(ProviderKeys)
	return k
}
