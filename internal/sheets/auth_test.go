package sheets

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func writeClientSecret(t *testing.T, dir, tokenURL string) string {
	t.Helper()
	p := filepath.Join(dir, "credentials.json")
	body := fmt.Sprintf(`{"installed":{"client_id":"cid","client_secret":"csecret",`+
		`"auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":%q,`+
		`"redirect_uris":["http://localhost"]}}`, tokenURL)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func writeTestToken(t *testing.T, dir string, tok *oauth2.Token) string {
	t.Helper()
	p := filepath.Join(dir, "token.json")
	require.NoError(t, WriteToken(p, tok))
	return p
}

func TestAuthenticateWithValidToken(t *testing.T) {
	dir := t.TempDir()
	creds := FileCredentials{
		CredentialsFile: writeClientSecret(t, dir, "http://127.0.0.1:1/token"),
		TokenFile: writeTestToken(t, dir, &oauth2.Token{
			AccessToken: "still-good",
			TokenType:   "Bearer",
			Expiry:      time.Now().Add(time.Hour),
		}),
	}

	ts, err := creds.Authenticate(context.Background())
	require.NoError(t, err)
	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "still-good", tok.AccessToken)
}

func TestAuthenticateRefreshesAndSaves(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "fresh",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	defer srv.Close()

	dir := t.TempDir()
	tokenPath := writeTestToken(t, dir, &oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "refresh-me",
		Expiry:       time.Now().Add(-time.Hour),
	})
	creds := FileCredentials{
		CredentialsFile: writeClientSecret(t, dir, srv.URL+"/token"),
		TokenFile:       tokenPath,
	}

	ts, err := creds.Authenticate(context.Background())
	require.NoError(t, err)
	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok.AccessToken)
	assert.Equal(t, 1, calls)

	saved, err := ReadToken(tokenPath)
	require.NoError(t, err)
	assert.Equal(t, "fresh", saved.AccessToken)
	assert.Equal(t, "refresh-me", saved.RefreshToken)
}

func TestAuthenticateFailures(t *testing.T) {
	dir := t.TempDir()
	secret := writeClientSecret(t, dir, "http://127.0.0.1:1/token")

	t.Run("missing client secret", func(t *testing.T) {
		_, err := FileCredentials{CredentialsFile: filepath.Join(dir, "none.json"), TokenFile: "token.json"}.Authenticate(context.Background())
		assert.ErrorIs(t, err, ErrNoCredentials)
	})

	t.Run("missing token", func(t *testing.T) {
		_, err := FileCredentials{CredentialsFile: secret, TokenFile: filepath.Join(dir, "absent.json")}.Authenticate(context.Background())
		assert.ErrorIs(t, err, ErrNoCredentials)
		assert.Contains(t, err.Error(), "sheetauth")
	})

	t.Run("expired without refresh token", func(t *testing.T) {
		tokenPath := writeTestToken(t, t.TempDir(), &oauth2.Token{AccessToken: "old", Expiry: time.Now().Add(-time.Minute)})
		_, err := FileCredentials{CredentialsFile: secret, TokenFile: tokenPath}.Authenticate(context.Background())
		assert.ErrorIs(t, err, ErrNoCredentials)
		assert.Contains(t, err.Error(), "no refresh token")
	})

	t.Run("unreadable service account key", func(t *testing.T) {
		p := filepath.Join(t.TempDir(), "sa.json")
		require.NoError(t, os.WriteFile(p, []byte("{not json"), 0o600))
		_, err := FileCredentials{CredentialsFile: p}.Authenticate(context.Background())
		assert.ErrorIs(t, err, ErrNoCredentials)
	})
}
