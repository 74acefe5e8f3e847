// Package googleauth builds OAuth-authorized HTTP clients for the calendars
// registered in the store.
package googleauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	appLog "calsync/internal/log"
	"calsync/internal/store"
)

// Scopes requested for every calendar.
var Scopes = []string{
	calendar.CalendarScope,
	oauth2api.UserinfoEmailScope,
}

// TokenStore persists one token per calendar id.
type TokenStore interface {
	Token(id string) (*oauth2.Token, error)
	PutToken(id string, tok *oauth2.Token) error
}

// AuthRequiredError means a calendar has no usable credentials and its
// owner must authorize again.
type AuthRequiredError struct {
	Calendar string
	Cause    error
}

func (e *AuthRequiredError) Error() string {
	return fmt.Sprintf("Google Calendar: %s could not synced. No valid OAuth Token. Have user reauthenticate.", e.Calendar)
}

func (e *AuthRequiredError) Unwrap() error { return e.Cause }

// IsAuthRequired reports whether err is or wraps an AuthRequiredError.
func IsAuthRequired(err error) bool {
	var target *AuthRequiredError
	return errors.As(err, &target)
}

// LoadConfig reads a client secret JSON file downloaded from the Google
// Cloud console. redirectURL, when set, overrides the one in the file.
func LoadConfig(clientSecretFile, redirectURL string) (*oauth2.Config, error) {
	data, err := os.ReadFile(clientSecretFile)
	if err != nil {
		return nil, fmt.Errorf("read client secret: %w", err)
	}
	cfg, err := google.ConfigFromJSON(data, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse client secret: %w", err)
	}
	if redirectURL != "" {
		cfg.RedirectURL = redirectURL
	}
	return cfg, nil
}

// AuthURL returns the consent URL. Offline access and forced consent make
// Google hand out a refresh token on every authorization.
func AuthURL(cfg *oauth2.Config, state string) string {
	return cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Manager hands out authorized clients and keeps refreshed tokens stored.
type Manager struct {
	cfg    *oauth2.Config
	tokens TokenStore

	// apiOpts are appended when calling Google APIs directly (tests).
	apiOpts []option.ClientOption
}

// NewManager returns a Manager for cfg backed by tokens.
func NewManager(cfg *oauth2.Config, tokens TokenStore, apiOpts ...option.ClientOption) *Manager {
	return &Manager{cfg: cfg, tokens: tokens, apiOpts: apiOpts}
}

// Config returns the OAuth client configuration.
func (m *Manager) Config() *oauth2.Config { return m.cfg }

// Client returns an HTTP client authorized as calendar id. The token is
// refreshed eagerly so that revoked or missing credentials surface here as
// an AuthRequiredError rather than on the first API call.
func (m *Manager) Client(ctx context.Context, id string) (*http.Client, error) {
	tok, err := m.tokens.Token(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &AuthRequiredError{Calendar: id, Cause: err}
		}
		return nil, err
	}

	ts := oauth2.ReuseTokenSource(nil, &persistingSource{
		base:   m.cfg.TokenSource(ctx, tok),
		id:     id,
		tokens: m.tokens,
		last:   tok.AccessToken,
	})
	if _, err := ts.Token(); err != nil {
		return nil, &AuthRequiredError{Calendar: id, Cause: WrapOAuthError(err)}
	}
	return oauth2.NewClient(ctx, ts), nil
}

// Exchange trades an authorization code for a token.
func (m *Manager) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := m.cfg.Exchange(ctx, code)
	if err != nil {
		return nil, WrapOAuthError(err)
	}
	if tok.RefreshToken == "" {
		return nil, errors.New("no refresh token received; revoke access and authorize again")
	}
	return tok, nil
}

// AccountEmail looks up the Google account address tok belongs to.
func (m *Manager) AccountEmail(ctx context.Context, tok *oauth2.Token) (string, error) {
	opts := append([]option.ClientOption{option.WithTokenSource(m.cfg.TokenSource(ctx, tok))}, m.apiOpts...)
	svc, err := oauth2api.NewService(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("userinfo service: %w", err)
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("userinfo: %w", err)
	}
	if info.Email == "" {
		return "", errors.New("userinfo returned no email")
	}
	return strings.ToLower(info.Email), nil
}

// persistingSource writes every newly minted token back to the store.
type persistingSource struct {
	base   oauth2.TokenSource
	id     string
	tokens TokenStore

	mu   sync.Mutex
	last string
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.AccessToken != p.last {
		p.last = tok.AccessToken
		if err := p.tokens.PutToken(p.id, tok); err != nil {
			appLog.Warn("refreshed token not persisted", "calendar", p.id, "err", err)
		} else {
			appLog.Debug("refreshed token persisted", "calendar", p.id)
		}
	}
	return tok, nil
}

// WrapOAuthError appends a human-readable hint to known Google OAuth error
// codes. The underlying error is preserved via %w.
func WrapOAuthError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "invalid_grant"):
		return fmt.Errorf("%w (hint: token revoked or expired; the calendar owner must authorize again)", err)
	case strings.Contains(msg, "invalid_client"):
		return fmt.Errorf("%w (hint: client id/secret invalid; check google.client_secret_file)", err)
	}
	return err
}
