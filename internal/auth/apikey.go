package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/nikhilbhutani/dictation/internal/apperror"
)

// secretMatches compares in constant time. Both sides are hashed first so the
// comparison does not leak the configured secret's length.
func secretMatches(presented, configured string) bool {
	if presented == "" || configured == "" {
		return false
	}
	p := sha256.Sum256([]byte(presented))
	c := sha256.Sum256([]byte(configured))
	return subtle.ConstantTimeCompare(p[:], c[:]) == 1
}

// bearerToken extracts the token from an Authorization header. An absent header
// yields "", a header that is present but not "Bearer <token>" is an error.
func bearerToken(h http.Header) (string, error) {
	raw := strings.TrimSpace(h.Get("Authorization"))
	if raw == "" {
		return "", nil
	}
	scheme, token, ok := strings.Cut(raw, " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" || strings.ContainsAny(token, " \t") {
		return "", apperror.Unauthorized("malformed authorization header, expected Bearer token")
	}
	return token, nil
}

func providerKeys(h http.Header) ProviderKeys {
	return ProviderKeys{
		OpenAI:     strings.TrimSpace(h.Get(HeaderOpenAIKey)),
		ElevenLabs: strings.TrimSpace(h.Get(HeaderElevenLabsKey)),
	}
}
