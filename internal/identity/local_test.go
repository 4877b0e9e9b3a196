package identity

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/nikhilbhutani/dictation/internal/apperror"
)

func newTestLocal(t *testing.T) *LocalAccounts {
	t.Helper()
	l, err := NewLocalAccounts(testSecret, "")
	require.NoError(t, err)
	l.bcryptCost = bcrypt.MinCost
	return l
}

func TestLocalAccounts_SignUpIssuesVerifiableSession(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	res, err := l.SignUp(ctx, SignUpInput{Email: "Ada@Example.com", Password: "hunter22", ProfileName: "Ada"})
	require.NoError(t, err)
	require.NotNil(t, res.Session)
	assert.Equal(t, "ada@example.com", res.Account.Email)
	assert.Equal(t, "Ada", res.Account.ProfileName)
	assert.Equal(t, TierFree, res.Account.Tier)
	assert.NotZero(t, res.Session.ExpiresAt)

	v := NewHMACVerifier(testSecret, l.Issuer(), l.Audience())
	claims, err := v.Verify(ctx, res.Session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, res.Account.UserID, claims.UserID)
}

func TestLocalAccounts_ConfirmationMarkerDefersSession(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	res, err := l.SignUp(ctx, SignUpInput{Email: "confirm-later@example.com", Password: "hunter22"})
	require.NoError(t, err)
	assert.Nil(t, res.Session)
	assert.True(t, res.RequiresEmailConfirmation())
	assert.NotEmpty(t, res.Account.UserID)

	_, err = l.SignIn(ctx, "confirm-later@example.com", "hunter22")
	assert.Equal(t, http.StatusUnauthorized, apperror.StatusOf(err))
}

func TestLocalAccounts_SignUpValidation(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	_, err := l.SignUp(ctx, SignUpInput{Email: "not-an-email", Password: "hunter22"})
	assert.Equal(t, http.StatusBadRequest, apperror.StatusOf(err))

	_, err = l.SignUp(ctx, SignUpInput{Email: "short@example.com", Password: "123"})
	assert.Equal(t, http.StatusBadRequest, apperror.StatusOf(err))

	_, err = l.SignUp(ctx, SignUpInput{Email: "dup@example.com", Password: "hunter22"})
	require.NoError(t, err)
	_, err = l.SignUp(ctx, SignUpInput{Email: "DUP@example.com", Password: "hunter22"})
	assert.Equal(t, http.StatusConflict, apperror.StatusOf(err))
}

func TestLocalAccounts_SignInDoesNotLeakWhichFieldFailed(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()
	_, err := l.SignUp(ctx, SignUpInput{Email: "ada@example.com", Password: "hunter22"})
	require.NoError(t, err)

	_, wrongPassword := l.SignIn(ctx, "ada@example.com", "wrong-password")
	_, unknownEmail := l.SignIn(ctx, "nobody@example.com", "hunter22")

	require.Error(t, wrongPassword)
	require.Error(t, unknownEmail)
	assert.Equal(t, apperror.From(wrongPassword).Message, apperror.From(unknownEmail).Message)
	assert.Equal(t, "invalid email or password", apperror.From(wrongPassword).Message)
}

func TestLocalAccounts_RefreshRotatesTokens(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	res, err := l.SignUp(ctx, SignUpInput{Email: "ada@example.com", Password: "hunter22"})
	require.NoError(t, err)
	first := res.Session.RefreshToken

	refreshed, err := l.Refresh(ctx, first)
	require.NoError(t, err)
	assert.NotEqual(t, first, refreshed.Session.RefreshToken)

	_, err = l.Refresh(ctx, first)
	require.Error(t, err)
	assert.Equal(t, "invalid or expired refresh token", apperror.From(err).Message)
}

func TestLocalAccounts_SignOutRevokesRefreshTokens(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	res, err := l.SignUp(ctx, SignUpInput{Email: "ada@example.com", Password: "hunter22"})
	require.NoError(t, err)

	require.NoError(t, l.SignOut(ctx, res.Session.AccessToken))

	_, err = l.Refresh(ctx, res.Session.RefreshToken)
	assert.Equal(t, http.StatusUnauthorized, apperror.StatusOf(err))

	err = l.SignOut(ctx, "garbage")
	require.Error(t, err)
	assert.Equal(t, "invalid or expired access token", apperror.From(err).Message)
}

func TestLocalAccounts_TierNonEscalation(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	res, err := l.SignUp(ctx, SignUpInput{Email: "ada@example.com", Password: "hunter22"})
	require.NoError(t, err)

	require.NoError(t, l.UpdateUserMetadata(res.Account.UserID, map[string]any{"tier": "pro"}))
	again, err := l.SignIn(ctx, "ada@example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, TierFree, again.Account.Tier)

	require.NoError(t, l.SetTier(res.Account.UserID, TierPro))
	again, err = l.SignIn(ctx, "ada@example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, TierPro, again.Account.Tier)
}
