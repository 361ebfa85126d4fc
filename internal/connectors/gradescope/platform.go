package gradescope

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/custodia-labs/subanon/internal/core/domain"
	"github.com/custodia-labs/subanon/internal/core/ports/driven"
	"github.com/custodia-labs/subanon/internal/logger"
)

// PlatformType is the platform identifier.
const PlatformType = "gradescope"

// Ensure Platform implements the interface.
var _ driven.Platform = (*Platform)(nil)

// Platform opens Gradescope sessions.
type Platform struct {
	cfg  Config
	base *url.URL
}

// New creates a platform for the configured base URL.
func New(cfg Config) (*Platform, error) {
	base, cfg, err := cfg.parse()
	if err != nil {
		return nil, err
	}
	return &Platform{cfg: cfg, base: base}, nil
}

// Type returns the platform type identifier.
func (p *Platform) Type() string {
	return PlatformType
}

// Authenticate signs in and returns a session. Email and password sign in
// through the login form; an access token is sent as a bearer token.
func (p *Platform) Authenticate(ctx context.Context, creds domain.Credentials) (driven.Session, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	var client *http.Client
	if creds.UsesToken() {
		client = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: creds.Token}))
	} else {
		client = &http.Client{}
	}
	client.Jar = jar
	client.Timeout = p.cfg.Timeout

	s := newSession(client, p.base, p.cfg)
	if creds.UsesToken() {
		err = s.checkSignedIn(ctx)
	} else {
		err = s.login(ctx, creds.Email, creds.Password)
	}
	if err != nil {
		return nil, err
	}

	logger.Debug("Signed in to %s", p.base.Host)
	return s, nil
}

// login submits the login form.
func (s *Session) login(ctx context.Context, email, password string) error {
	page, err := s.get(ctx, "open login page", "/login", nil)
	if err != nil {
		return err
	}
	doc, err := parseHTML(page.body)
	if err != nil {
		return err
	}
	token := formToken(doc)
	if token == "" {
		return ErrMissingToken
	}

	form := url.Values{
		"utf8":               {"✓"},
		"authenticity_token": {token},
		"session[email]":     {email},
		"session[password]":  {password},
		"commit":             {"Log In"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.resolve("/login", nil).String(), strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("log in: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.do("log in", req)
	if err != nil {
		return err
	}
	doc, err = parseHTML(resp.body)
	if err != nil {
		return err
	}
	if !signedIn(doc) {
		return ErrLoginRejected
	}
	return nil
}

// checkSignedIn verifies a token session by loading the account home page.
func (s *Session) checkSignedIn(ctx context.Context) error {
	resp, err := s.get(ctx, "open home page", "/", nil)
	if err != nil {
		return err
	}
	doc, err := parseHTML(resp.body)
	if err != nil {
		return err
	}
	if !signedIn(doc) {
		return ErrLoginRejected
	}
	return nil
}
