// Package federated wraps the social identity provider behind the shared
// adapter contract. Discovery and token verification run through OIDC; the
// interactive consent step is delegated to a ConsentFlow so hosting
// applications decide how the user's browser gets involved.
package federated

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"github.com/perchauth/perch/pkg/outcome"
	"github.com/perchauth/perch/pkg/provider"
	"github.com/perchauth/perch/pkg/store"
	"golang.org/x/oauth2"
)

// ErrConsentDismissed reports that the user or their agent cancelled the
// interactive consent step: closed the window, blocked the popup, or never
// completed the redirect. It is classified as Rejected, not Failure, so the
// UI does not treat it as bad credentials.
var ErrConsentDismissed = errors.New("federated: consent flow dismissed")

// ConsentFlow runs the interactive part of federated sign-in: it sends the
// user to authURL and returns the authorization code delivered to the
// redirect target. Implementations must only accept a redirect whose state
// parameter equals state.
type ConsentFlow interface {
	Obtain(ctx context.Context, authURL, state string) (code string, err error)
}

// Config describes the federated provider.
type Config struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	Scopes       []string
	RedirectURL  string

	// InitTimeout bounds the one-time discovery of the provider. A
	// discovery that exceeds it is classified Timeout; any other
	// discovery failure is classified Error. Default 5s.
	InitTimeout time.Duration
}

const defaultInitTimeout = 5 * time.Second

// Adapter implements the shared provider contract on top of an OIDC
// authorization-code flow.
type Adapter struct {
	cfg    Config
	flow   ConsentFlow
	logger *slog.Logger

	mu       sync.Mutex
	oidc     *oidc.Provider
	oauth    oauth2.Config
	verifier *oidc.IDTokenVerifier

	// lastRefreshToken backs best-effort revocation on sign-out.
	lastRefreshToken string
}

// NewAdapter creates the federated adapter. Discovery is deferred to the
// first call that needs it.
func NewAdapter(cfg Config, flow ConsentFlow, logger *slog.Logger) *Adapter {
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = defaultInitTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{cfg: cfg, flow: flow, logger: logger}
}

func (a *Adapter) Name() provider.Provider { return provider.Federated }

// Init performs the one-time provider discovery. Idempotent; later calls
// reuse the cached handle.
func (a *Adapter) Init(ctx context.Context) *outcome.Response {
	if err := a.ensureInit(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			a.logger.Error("federated provider discovery timed out", "issuer", a.cfg.IssuerURL)
			return &outcome.Response{Kind: outcome.Timeout, Err: err}
		}
		a.logger.Error("federated provider discovery failed", "issuer", a.cfg.IssuerURL, "error", err)
		return outcome.Errorf("federated: provider discovery failed: %w", err)
	}
	return outcome.OK(nil)
}

func (a *Adapter) ensureInit(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.oidc != nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.InitTimeout)
	defer cancel()

	discovered, err := oidc.NewProvider(ctx, a.cfg.IssuerURL)
	if err != nil {
		return err
	}

	a.oidc = discovered
	a.verifier = discovered.Verifier(&oidc.Config{ClientID: a.cfg.ClientID})
	a.oauth = oauth2.Config{
		ClientID:     a.cfg.ClientID,
		ClientSecret: a.cfg.ClientSecret,
		Endpoint:     discovered.Endpoint(),
		RedirectURL:  a.cfg.RedirectURL,
		Scopes:       append([]string{oidc.ScopeOpenID}, a.cfg.Scopes...),
	}
	return nil
}

// Authenticate runs the interactive consent flow and exchanges the code for
// tokens. A dismissed consent yields Rejected; discovery problems surface
// as Timeout or Error; protocol failures as Failure.
func (a *Adapter) Authenticate(ctx context.Context, _ provider.Credentials) *outcome.Response {
	if resp := a.Init(ctx); !resp.Successful() {
		return resp
	}

	state := uuid.NewString()
	nonce := uuid.NewString()
	authURL := a.oauth.AuthCodeURL(state, oidc.Nonce(nonce), oauth2.AccessTypeOffline)

	code, err := a.flow.Obtain(ctx, authURL, state)
	if err != nil {
		if errors.Is(err, ErrConsentDismissed) || errors.Is(err, context.Canceled) {
			a.logger.Info("federated sign-in dismissed by user")
			return &outcome.Response{Kind: outcome.Rejected, Err: ErrConsentDismissed}
		}
		a.logger.Error("federated consent flow failed", "error", err)
		return outcome.Fail(err)
	}

	token, err := a.oauth.Exchange(ctx, code)
	if err != nil {
		a.logger.Error("federated code exchange failed", "error", err)
		return outcome.Fail(err)
	}

	session, err := a.buildSession(ctx, token, nonce)
	if err != nil {
		a.logger.Error("federated token verification failed", "error", err)
		return outcome.Fail(err)
	}

	a.mu.Lock()
	a.lastRefreshToken = token.RefreshToken
	a.mu.Unlock()
	return outcome.OK(session)
}

// Refresh reloads the auth response from the stored refresh token.
func (a *Adapter) Refresh(ctx context.Context, refreshToken string) *outcome.Response {
	if resp := a.Init(ctx); !resp.Successful() {
		return resp
	}

	source := a.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		a.logger.Warn("federated session refresh failed", "error", err)
		return outcome.Fail(err)
	}
	if token.RefreshToken == "" {
		token.RefreshToken = refreshToken
	}

	// No nonce on refresh: the nonce binds only the interactive exchange.
	session, err := a.buildSession(ctx, token, "")
	if err != nil {
		a.logger.Warn("federated refresh verification failed", "error", err)
		return outcome.Fail(err)
	}

	a.mu.Lock()
	a.lastRefreshToken = token.RefreshToken
	a.mu.Unlock()
	return outcome.OK(session)
}

// Detach drops the cached refresh material. Token revocation endpoints are
// provider-specific and not part of discovery, so there is nothing to run
// against the backend: the returned call is always nil.
func (a *Adapter) Detach() func(ctx context.Context) error {
	a.mu.Lock()
	a.lastRefreshToken = ""
	a.mu.Unlock()
	return nil
}

// SignOut disconnects the cached federated session. Sign-out is local: the
// cached refresh material is dropped and the stored record is cleared by
// the session manager.
func (a *Adapter) SignOut(ctx context.Context) error {
	a.Detach()
	return nil
}

func (a *Adapter) buildSession(ctx context.Context, token *oauth2.Token, nonce string) (provider.Session, error) {
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return provider.Session{}, errors.New("federated: no ID token in response")
	}

	idToken, err := a.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return provider.Session{}, err
	}
	if nonce != "" && idToken.Nonce != nonce {
		return provider.Session{}, errors.New("federated: nonce mismatch")
	}

	var claims struct {
		Sub   string `json:"sub"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return provider.Session{}, err
	}

	username := claims.Name
	if username == "" {
		username = claims.Email
	}
	if username == "" {
		username = claims.Sub
	}

	return provider.Session{
		Username: username,
		Provider: provider.Federated,
		IDToken:  rawIDToken,
		Tokens: store.TokenBundle{
			AccessToken:          token.AccessToken,
			AccessTokenExpiresAt: token.Expiry.UnixMilli(),
			IDToken:              rawIDToken,
			IDTokenExpiresAt:     idToken.Expiry.UnixMilli(),
			RefreshToken:         token.RefreshToken,
		},
		ExpiresAt: idToken.Expiry,
	}, nil
}
