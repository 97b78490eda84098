package auth

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

func TestLoadPythonToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), TokenFile)
	require.NoError(t, os.WriteFile(path, []byte(`{
  "token": "ya29.abc",
  "refresh_token": "1//refresh",
  "token_uri": "https://oauth2.googleapis.com/token",
  "scopes": ["https://www.googleapis.com/auth/gmail.readonly"],
  "expiry": "2025-03-01T12:30:00.123456Z"
}`), 0o600))

	tok, err := LoadToken(path)
	require.NoError(t, err)
	assert.Equal(t, "ya29.abc", tok.AccessToken)
	assert.Equal(t, "1//refresh", tok.RefreshToken)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.Equal(t, time.Date(2025, 3, 1, 12, 30, 0, 123456000, time.UTC), tok.Expiry)
}

func TestSaveLoadToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), TokenFile)
	want := &oauth2.Token{
		AccessToken:  "access",
		RefreshToken: "refresh",
		TokenType:    "Bearer",
		Expiry:       time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, SaveToken(path, want))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := LoadToken(path)
	require.NoError(t, err)
	assert.Equal(t, want.AccessToken, got.AccessToken)
	assert.Equal(t, want.RefreshToken, got.RefreshToken)
	assert.True(t, want.Expiry.Equal(got.Expiry))
}

func TestLoadTokenErrors(t *testing.T) {
	_, err := LoadToken(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(t.TempDir(), TokenFile)
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
	_, err = LoadToken(path)
	assert.Error(t, err)
}

type seqSource struct {
	tokens []string
	i      int
}

func (s *seqSource) Token() (*oauth2.Token, error) {
	tok := &oauth2.Token{AccessToken: s.tokens[s.i], TokenType: "Bearer"}
	if s.i < len(s.tokens)-1 {
		s.i++
	}
	return tok, nil
}

func TestPersistingSourceSavesRefresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), TokenFile)
	ts := &persistingSource{
		src:    &seqSource{tokens: []string{"old", "new"}},
		path:   path,
		last:   "old",
		logger: zap.NewNop(),
	}

	_, err := ts.Token()
	require.NoError(t, err)
	_, err = os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist, "unchanged token is not written")

	_, err = ts.Token()
	require.NoError(t, err)
	tok, err := LoadToken(path)
	require.NoError(t, err)
	assert.Equal(t, "new", tok.AccessToken)
}

func TestNewGmailServiceMissingCredentials(t *testing.T) {
	_, err := NewGmailService(t.Context(), filepath.Join(t.TempDir(), CredentialsFile), zap.NewNop())
	assert.Error(t, err)
}
