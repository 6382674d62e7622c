// Package google implements the account collaborator for Google
// Contacts on top of the People API, including OAuth token management
// and person/record conversion.
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"

	"github.com/dyadsync/dyad/pkg/errors"
)

// Scopes requested during authorization. Contacts is read-write; the
// engine creates, updates, and deletes records on both sides.
var Scopes = []string{
	"https://www.googleapis.com/auth/contacts",
}

const (
	clientIDEnvVar     = "GOOGLE_CLIENT_ID"
	clientSecretEnvVar = "GOOGLE_CLIENT_SECRET"

	// Out-of-band flow is gone; a loopback redirect is the supported
	// installed-app pattern.
	redirectURL = "http://localhost:8807/oauth/callback"
)

// OAuthConfig builds the OAuth2 config for the People API from the
// environment. Users bring their own OAuth client from the Google
// Cloud Console.
func OAuthConfig() (*oauth2.Config, error) {
	clientID := os.Getenv(clientIDEnvVar)
	clientSecret := os.Getenv(clientSecretEnvVar)
	if clientID == "" || clientSecret == "" {
		return nil, &errors.ConfigError{
			Component: "google-oauth",
			Message:   fmt.Sprintf("OAuth client not configured - set %s and %s", clientIDEnvVar, clientSecretEnvVar),
		}
	}

	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       Scopes,
		Endpoint:     googleoauth.Endpoint,
	}, nil
}

// TokenPath returns the storage path for an account's OAuth token.
// Each account side keeps its own token file.
func TokenPath(accountID string) string {
	return filepath.Join(xdg.DataHome, "dyad", fmt.Sprintf("token_%s.json", accountID))
}

// SaveToken persists an OAuth token for an account with restricted
// permissions.
func SaveToken(accountID string, token *oauth2.Token) error {
	path := TokenPath(accountID)

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return errors.WrapIO("create", filepath.Dir(path), err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return errors.WrapIO("create", path, err)
	}
	defer func() { _ = f.Close() }()

	if err := json.NewEncoder(f).Encode(token); err != nil {
		return errors.WrapIO("write", path, err)
	}
	return nil
}

// LoadToken reads a previously saved OAuth token for an account. A
// missing token file satisfies errors.Is(err, errors.ErrAuthorization)
// so callers can prompt for authorization.
func LoadToken(accountID string) (*oauth2.Token, error) {
	path := TokenPath(accountID)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errors.AuthenticationError{
				Account: accountID,
				Method:  "oauth",
				Message: fmt.Sprintf("no stored token - run the auth command for %s first", accountID),
				Err:     err,
			}
		}
		return nil, errors.WrapIO("open", path, err)
	}
	defer func() { _ = f.Close() }()

	var token oauth2.Token
	if err := json.NewDecoder(f).Decode(&token); err != nil {
		return nil, errors.WrapIO("read", path, err)
	}
	return &token, nil
}

// Client returns an HTTP client that authenticates with the account's
// stored token and refreshes it transparently. Refreshed tokens are
// written back so the next run does not repeat the refresh.
func Client(ctx context.Context, accountID string) (*http.Client, error) {
	config, err := OAuthConfig()
	if err != nil {
		return nil, err
	}

	token, err := LoadToken(accountID)
	if err != nil {
		return nil, err
	}

	source := &savingTokenSource{
		accountID: accountID,
		inner:     config.TokenSource(ctx, token),
		last:      token,
	}
	return oauth2.NewClient(ctx, source), nil
}

// savingTokenSource persists refreshed tokens back to disk.
type savingTokenSource struct {
	accountID string
	inner     oauth2.TokenSource
	last      *oauth2.Token
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	token, err := s.inner.Token()
	if err != nil {
		return nil, &errors.AuthenticationError{
			Account: s.accountID,
			Method:  "oauth",
			Message: "token refresh failed - reauthorize the account",
			Err:     err,
		}
	}
	if s.last == nil || token.AccessToken != s.last.AccessToken {
		// Best effort; a failed save only costs a refresh next run.
		_ = SaveToken(s.accountID, token)
		s.last = token
	}
	return token, nil
}
