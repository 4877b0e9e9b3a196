package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/dictation/pkg/client"
)

func TestSessionFileRoundTrip(t *testing.T) {
	sessionFile = filepath.Join(t.TempDir(), "nested", "session.json")

	_, err := loadSession()
	require.Error(t, err)

	saveSession(&client.Session{AccessToken: "at", RefreshToken: "rt", ExpiresAt: 42})
	s, err := loadSession()
	require.NoError(t, err)
	assert.Equal(t, "rt", s.RefreshToken)
	assert.Equal(t, int64(42), s.ExpiresAt)

	saveSession(nil)
	_, err = loadSession()
	assert.Error(t, err)
}

func TestRootCommandTree(t *testing.T) {
	root := NewRootCmd()
	for _, name := range []string{"signup", "login", "logout", "transcribe"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("service-url"))
}
