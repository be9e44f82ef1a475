package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/sheets/v4"
)

var ErrNoCredentials = errors.New("no valid spreadsheet credentials")

// CredentialProvider hands the writer a token source for the Sheets API.
type CredentialProvider interface {
	Authenticate(ctx context.Context) (oauth2.TokenSource, error)
}

// FileCredentials reads credentials supplied out of band. With TokenFile set
// it uses an OAuth client secret plus a stored user token, refreshing and
// re-saving the token when it expires. Without TokenFile the credentials file
// must be a service account key.
type FileCredentials struct {
	CredentialsFile string
	TokenFile       string
}

func (f FileCredentials) Authenticate(ctx context.Context) (oauth2.TokenSource, error) {
	secret, err := os.ReadFile(f.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrNoCredentials, f.CredentialsFile, err)
	}

	if f.TokenFile == "" {
		creds, err := google.CredentialsFromJSON(ctx, secret, sheets.SpreadsheetsScope)
		if err != nil {
			return nil, fmt.Errorf("%w: service account: %v", ErrNoCredentials, err)
		}
		return creds.TokenSource, nil
	}

	conf, err := ClientConfig(secret)
	if err != nil {
		return nil, fmt.Errorf("%w: client secret %s: %v", ErrNoCredentials, f.CredentialsFile, err)
	}
	tok, err := ReadToken(f.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %v; run sheetauth to create it", ErrNoCredentials, err)
	}
	if !tok.Valid() && tok.RefreshToken == "" {
		return nil, fmt.Errorf("%w: token in %s expired and has no refresh token", ErrNoCredentials, f.TokenFile)
	}

	ts := &savingTokenSource{
		base: conf.TokenSource(ctx, tok),
		path: f.TokenFile,
		last: tok.AccessToken,
	}
	// fail now rather than on the first answer
	if _, err := ts.Token(); err != nil {
		return nil, fmt.Errorf("%w: refresh: %v", ErrNoCredentials, err)
	}
	return oauth2.ReuseTokenSource(nil, ts), nil
}

// ClientConfig parses an OAuth client secret for spreadsheet access.
func ClientConfig(secret []byte) (*oauth2.Config, error) {
	return google.ConfigFromJSON(secret, sheets.SpreadsheetsScope)
}

// savingTokenSource writes refreshed tokens back to path.
type savingTokenSource struct {
	mu   sync.Mutex
	base oauth2.TokenSource
	path string
	last string
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		if err := WriteToken(s.path, tok); err != nil {
			return nil, err
		}
		s.last = tok.AccessToken
	}
	return tok, nil
}

func ReadToken(path string) (*oauth2.Token, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}
	tok := &oauth2.Token{}
	if err := json.Unmarshal(b, tok); err != nil {
		return nil, fmt.Errorf("parse token %s: %w", path, err)
	}
	return tok, nil
}

func WriteToken(path string, tok *oauth2.Token) error {
	b, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}
