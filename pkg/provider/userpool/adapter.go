package userpool

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/perchauth/perch/pkg/outcome"
	"github.com/perchauth/perch/pkg/provider"
	"github.com/perchauth/perch/pkg/store"
)

// Adapter drives the user-pool authenticate protocol and classifies every
// result through the outcome vocabulary. It never persists anything; the
// session manager owns storage.
type Adapter struct {
	client *Client
	logger *slog.Logger

	// current is the in-memory user handle: the username and access token
	// of the session most recently authenticated or restored. It backs the
	// access-token-scoped operations (profile, MFA preferences, sign-out)
	// and must always describe the same user the store does.
	mu      sync.RWMutex
	current handle
}

type handle struct {
	username    string
	accessToken string
}

// ErrNoCurrentUser reports an access-token-scoped call without an
// authenticated or restored user handle.
var ErrNoCurrentUser = errors.New("userpool: no current user, authenticate or restore first")

// NewAdapter creates the primary-pool adapter on top of client.
func NewAdapter(client *Client, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{client: client, logger: logger}
}

func (a *Adapter) Name() provider.Provider { return provider.UserPool }

// Restore seeds the in-memory user handle from a persisted session, e.g.
// after process restart. The session manager calls it so that the handle
// and the stored record always describe the same user.
func (a *Adapter) Restore(username, accessToken string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = handle{username: username, accessToken: accessToken}
}

// dropCurrent forgets the in-memory handle.
func (a *Adapter) dropCurrent() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = handle{}
}

func (a *Adapter) currentHandle() (handle, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.current.accessToken == "" {
		return handle{}, ErrNoCurrentUser
	}
	return a.current, nil
}

// Authenticate runs the credential sign-in protocol. Possible outcomes:
// Success (session), NewPasswordRequired, MFARequired, MFASetupSecret or
// MFASetupFailure (enrollment sub-call chained internally), or Failure
// carrying the raw backend error.
func (a *Adapter) Authenticate(ctx context.Context, creds provider.Credentials) *outcome.Response {
	var resp authResponse
	err := a.client.post(ctx, "/v1/auth/initiate", authRequest{
		ClientID: a.client.ClientID,
		Username: creds.Username,
		Password: creds.Password,
	}, &resp)
	if err != nil {
		a.logger.Error("authenticate failed", "username", creds.Username, "error", err)
		return outcome.Fail(err)
	}

	return a.classify(ctx, creds.Username, resp)
}

// CompleteNewPassword answers a NewPasswordRequired challenge. The backend
// may still demand MFA afterwards, so the result is classified again: the
// outcome is Success, MFARequired, or Failure.
func (a *Adapter) CompleteNewPassword(
	ctx context.Context,
	state ChallengeState,
	newPassword string,
	requiredAttributes map[string]string,
) *outcome.Response {
	responses := map[string]string{"NEW_PASSWORD": newPassword}
	for name, value := range requiredAttributes {
		responses[name] = value
	}

	return a.respondChallenge(ctx, state, responses)
}

// RespondMFA answers an MFARequired challenge with the user's code.
func (a *Adapter) RespondMFA(ctx context.Context, state ChallengeState, code string) *outcome.Response {
	return a.respondChallenge(ctx, state, map[string]string{"MFA_CODE": code})
}

// CompleteMFASetup verifies the code generated from an enrollment secret
// and finishes the authenticate flow that triggered setup.
func (a *Adapter) CompleteMFASetup(ctx context.Context, setup MFASetupSecret, code string) *outcome.Response {
	return a.respondChallenge(ctx, setup.State, map[string]string{"MFA_CODE": code})
}

func (a *Adapter) respondChallenge(
	ctx context.Context,
	state ChallengeState,
	responses map[string]string,
) *outcome.Response {
	var resp authResponse
	err := a.client.post(ctx, "/v1/auth/challenge", challengeRequest{
		ClientID:      a.client.ClientID,
		ChallengeName: state.ChallengeName,
		Session:       state.Session,
		Responses:     responses,
	}, &resp)
	if err != nil {
		a.logger.Error("challenge response failed",
			"challenge", state.ChallengeName,
			"username", state.Username,
			"error", err,
		)
		return outcome.Fail(err)
	}

	return a.classify(ctx, state.Username, resp)
}

// classify maps the union auth response onto the outcome vocabulary,
// chaining the MFA enrollment sub-call when the backend asks for setup.
func (a *Adapter) classify(ctx context.Context, username string, resp authResponse) *outcome.Response {
	if resp.Result != nil {
		session := a.buildSession(username, *resp.Result)
		a.mu.Lock()
		a.current = handle{username: session.Username, accessToken: session.Tokens.AccessToken}
		a.mu.Unlock()
		return outcome.OK(session)
	}

	state := ChallengeState{
		Username:      username,
		ChallengeName: resp.ChallengeName,
		Session:       resp.Session,
		Parameters:    resp.ChallengeParameters,
	}

	switch resp.ChallengeName {
	case ChallengeNewPassword:
		return outcome.Challenge(outcome.NewPasswordRequired, state)
	case ChallengeSoftwareMFA, ChallengeSMSMFA:
		return outcome.Challenge(outcome.MFARequired, state)
	case ChallengeMFASetup:
		// One logical operation, two wire calls: enrollment starts here
		// and its result becomes this call's outcome.
		var assoc associateTokenResponse
		err := a.client.post(ctx, "/v1/mfa/associate", challengeRequest{
			ClientID:      a.client.ClientID,
			ChallengeName: ChallengeMFASetup,
			Session:       resp.Session,
		}, &assoc)
		if err != nil {
			a.logger.Error("mfa setup association failed", "username", username, "error", err)
			return &outcome.Response{Kind: outcome.MFASetupFailure, Err: err}
		}
		return outcome.Challenge(outcome.MFASetupSecret, MFASetupSecret{
			Secret: assoc.SecretCode,
			State:  state,
		})
	default:
		return outcome.Failf("userpool: unrecognized challenge %q", resp.ChallengeName)
	}
}

// Refresh exchanges the stored refresh token for a new token bundle. A
// Failure outcome means the refresh token itself is invalid or expired and
// the session is unrecoverable; an ExpiredToken outcome makes that case
// explicit when the backend says so.
func (a *Adapter) Refresh(ctx context.Context, refreshToken string) *outcome.Response {
	var resp authResponse
	err := a.client.post(ctx, "/v1/auth/refresh", refreshRequest{
		ClientID:     a.client.ClientID,
		RefreshToken: refreshToken,
	}, &resp)
	if err != nil {
		a.logger.Warn("session refresh failed", "error", err)
		if apiErr, ok := AsAPIError(err); ok && apiErr.Expired() {
			return &outcome.Response{Kind: outcome.ExpiredToken, Err: err}
		}
		return outcome.Fail(err)
	}
	if resp.Result == nil {
		return outcome.Failf("userpool: refresh returned no token material")
	}

	result := *resp.Result
	if result.RefreshToken == "" {
		// The pool does not rotate refresh tokens on every exchange.
		result.RefreshToken = refreshToken
	}

	a.mu.RLock()
	username := a.current.username
	a.mu.RUnlock()

	session := a.buildSession(username, result)
	a.mu.Lock()
	a.current = handle{username: session.Username, accessToken: session.Tokens.AccessToken}
	a.mu.Unlock()
	return outcome.OK(session)
}

// Detach forgets the in-memory user handle immediately and returns the
// pool-side token revocation for the handle it dropped, or nil when no
// user is signed in. The session manager runs the returned call in the
// background so the local sign-out never waits on the network; the
// handle is snapshotted here, so a sign-in landing afterwards can never
// have its tokens revoked by a stale call.
func (a *Adapter) Detach() func(ctx context.Context) error {
	a.mu.Lock()
	h := a.current
	a.current = handle{}
	a.mu.Unlock()

	if h.accessToken == "" {
		return nil
	}
	return func(ctx context.Context) error {
		err := a.client.do(ctx, "POST", "/v1/auth/signout", nil, nil, 204, authHeader(h.accessToken))
		if err != nil {
			a.logger.Warn("pool sign-out failed", "username", h.username, "error", err)
			return err
		}
		return nil
	}
}

// SignOut revokes the current user's tokens pool-side. Best effort: with no
// current handle there is nothing to revoke and no error to report.
func (a *Adapter) SignOut(ctx context.Context) error {
	revoke := a.Detach()
	if revoke == nil {
		return nil
	}
	return revoke(ctx)
}

// buildSession converts wire token material into a Session. Token expiries
// come from the JWT exp claims when present, falling back to the advertised
// lifetime; either way the result is absolute Unix milliseconds.
func (a *Adapter) buildSession(username string, result authResult) provider.Session {
	now := time.Now()
	fallback := now.Add(time.Duration(result.ExpiresIn) * time.Second)

	accessExpiry := tokenExpiry(result.AccessToken, fallback)
	idExpiry := tokenExpiry(result.IDToken, fallback)

	if claimed := tokenUsername(result.IDToken); claimed != "" {
		username = claimed
	}

	return provider.Session{
		Username: username,
		Provider: provider.UserPool,
		IDToken:  result.IDToken,
		Tokens: store.TokenBundle{
			AccessToken:          result.AccessToken,
			AccessTokenExpiresAt: accessExpiry.UnixMilli(),
			IDToken:              result.IDToken,
			IDTokenExpiresAt:     idExpiry.UnixMilli(),
			RefreshToken:         result.RefreshToken,
		},
		ExpiresAt: idExpiry,
	}
}

var unverifiedParser = jwt.NewParser()

// tokenExpiry reads the exp claim without verifying the signature. The pool
// signed the token moments ago over TLS; verification is the resource
// server's concern, the client only needs the schedule.
func tokenExpiry(token string, fallback time.Time) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := unverifiedParser.ParseUnverified(token, claims); err != nil {
		return fallback
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return fallback
	}
	return exp.Time
}

// tokenUsername reads the username claim from an ID token, if present.
func tokenUsername(token string) string {
	claims := jwt.MapClaims{}
	if _, _, err := unverifiedParser.ParseUnverified(token, claims); err != nil {
		return ""
	}
	if username, ok := claims["username"].(string); ok {
		return username
	}
	if sub, ok := claims["sub"].(string); ok {
		return sub
	}
	return ""
}
