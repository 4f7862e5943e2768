// Package session is the orchestrator facade over the identity backends.
// It owns the persisted session record, routes every operation to the
// adapter named by the stored provider tag, and keeps the token lifecycle
// alive through refresh, auto-refresh, and keepalive ticks. Adapters never
// touch storage; all persistence happens here.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/perchauth/perch/pkg/outcome"
	"github.com/perchauth/perch/pkg/provider"
	"github.com/perchauth/perch/pkg/provider/userpool"
	"github.com/perchauth/perch/pkg/store"

	"golang.org/x/time/rate"
)

// poolContinuations is the challenge-continuation surface of the user-pool
// adapter. Held as an interface so tests can stand in for the real one.
type poolContinuations interface {
	CompleteNewPassword(ctx context.Context, state userpool.ChallengeState, newPassword string, requiredAttributes map[string]string) *outcome.Response
	RespondMFA(ctx context.Context, state userpool.ChallengeState, code string) *outcome.Response
	CompleteMFASetup(ctx context.Context, setup userpool.MFASetupSecret, code string) *outcome.Response
}

// restorer seeds or drops an adapter's in-memory user handle. The handle
// must always describe the same user the store does, so the manager calls
// this on load, persist, and sign-out.
type restorer interface {
	Restore(username, accessToken string)
}

// detacher splits an adapter's sign-out in two: Detach drops the adapter's
// in-memory session state immediately and hands back the backend revocation
// for the state it dropped, or nil when there is nothing to revoke. The
// manager runs the returned call in the background so local sign-out never
// waits on the network.
type detacher interface {
	Detach() func(ctx context.Context) error
}

// revokeTimeout bounds the background backend sign-out call.
const revokeTimeout = 5 * time.Second

// refreshCall is one in-flight refresh shared by every concurrent caller.
type refreshCall struct {
	done chan struct{}
	resp *outcome.Response
}

// Manager is the session orchestrator. All methods are safe for concurrent
// use. Getters never touch the network.
type Manager struct {
	cfg      Config
	store    store.Store
	logger   *slog.Logger
	adapters map[provider.Provider]provider.Adapter

	// now is the clock, swappable in tests.
	now func() time.Time

	mu sync.Mutex
	// gen counts sign-ins and sign-outs. A refresh only persists its
	// result while the generation it started under is still current.
	gen      uint64
	inflight *refreshCall
	timer    *time.Timer
	limiter  *rate.Limiter

	evmu      sync.Mutex
	onSignIn  []func()
	onSignOut []func()

	// bg tracks background backend revocations so Wait can drain them.
	bg sync.WaitGroup
}

// NewManager builds the orchestrator over st and the given adapters. If a
// user-pool session is already on record, the adapter's user handle is
// restored from it.
func NewManager(cfg Config, st store.Store, logger *slog.Logger, adapters ...provider.Adapter) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.normalized()

	m := &Manager{
		cfg:      cfg,
		store:    st,
		logger:   logger,
		adapters: make(map[provider.Provider]provider.Adapter, len(adapters)),
		now:      time.Now,
		limiter:  rate.NewLimiter(rate.Every(cfg.RefreshThrottle), 1),
	}
	for _, a := range adapters {
		m.adapters[a.Name()] = a
	}

	m.restoreHandle()
	return m
}

// restoreHandle reseeds the user-pool adapter's in-memory handle from the
// persisted record after a process restart.
func (m *Manager) restoreHandle() {
	r, ok := m.adapters[provider.UserPool].(restorer)
	if !ok {
		return
	}
	if provider.Provider(m.store.Get(store.Provider)) != provider.UserPool {
		return
	}
	tokens, ok := store.DecodeTokenBundle(m.store.Get(store.SessionTokens))
	if !ok {
		return
	}
	r.Restore(m.store.Get(store.Username), tokens.AccessToken)
}

// Username returns the signed-in username, or "" when unauthenticated.
func (m *Manager) Username() string { return m.store.Get(store.Username) }

// Provider returns the backend tag of the current session. Invalid or
// absent tags read as "".
func (m *Manager) Provider() provider.Provider {
	p := provider.Provider(m.store.Get(store.Provider))
	if !p.Valid() {
		return ""
	}
	return p
}

// IDToken returns the raw ID token of the current session, or "".
func (m *Manager) IDToken() string { return m.store.Get(store.IDToken) }

// Tokens returns the persisted token bundle, if any.
func (m *Manager) Tokens() (store.TokenBundle, bool) {
	return store.DecodeTokenBundle(m.store.Get(store.SessionTokens))
}

// ExpiresAt returns the session expiry, if one is on record.
func (m *Manager) ExpiresAt() (time.Time, bool) {
	return store.DecodeTime(m.store.Get(store.ExpiresAt))
}

// Remaining returns the time left before the session expires. Once expired
// or when no session is on record, ok is false and the duration is zero;
// it never goes negative.
func (m *Manager) Remaining() (time.Duration, bool) {
	exp, ok := m.ExpiresAt()
	if !ok {
		return 0, false
	}
	left := exp.Sub(m.now())
	if left <= 0 {
		return 0, false
	}
	return left, true
}

// IsAuthenticated reports whether an unexpired session is on record. It
// reads storage only; an expired record reads as unauthenticated even
// before anything clears it.
func (m *Manager) IsAuthenticated() bool {
	if m.store.Get(store.Username) == "" || !m.Provider().Valid() {
		return false
	}
	_, ok := m.Remaining()
	return ok
}

// SignIn authenticates against the backend named by p. On success the
// session is persisted and the sign-in event fires. Challenge outcomes
// (new password, MFA, MFA setup) pass through unpersisted; the caller holds
// the challenge payload and finishes the flow with the continuation verbs.
func (m *Manager) SignIn(ctx context.Context, p provider.Provider, username, password string) *outcome.Response {
	if !p.Valid() {
		return outcome.Failf("session: unknown provider %q", p)
	}
	adapter, ok := m.adapters[p]
	if !ok {
		return outcome.Failf("session: no adapter registered for %q", p)
	}

	resp := adapter.Authenticate(ctx, provider.Credentials{Username: username, Password: password})
	return m.finishSignIn(resp)
}

// CompleteNewPassword answers a NewPasswordRequired challenge from SignIn.
// requiredAttributes carries any profile values the challenge demanded
// alongside the password; nil when there are none.
func (m *Manager) CompleteNewPassword(ctx context.Context, state userpool.ChallengeState, newPassword string, requiredAttributes map[string]string) *outcome.Response {
	pool, resp := m.poolContinuations()
	if resp != nil {
		return resp
	}
	return m.finishSignIn(pool.CompleteNewPassword(ctx, state, newPassword, requiredAttributes))
}

// RespondMFA answers an MFARequired challenge from SignIn.
func (m *Manager) RespondMFA(ctx context.Context, state userpool.ChallengeState, code string) *outcome.Response {
	pool, resp := m.poolContinuations()
	if resp != nil {
		return resp
	}
	return m.finishSignIn(pool.RespondMFA(ctx, state, code))
}

// CompleteMFASetup verifies the enrollment code for an MFASetupSecret
// challenge and finishes the sign-in.
func (m *Manager) CompleteMFASetup(ctx context.Context, setup userpool.MFASetupSecret, code string) *outcome.Response {
	pool, resp := m.poolContinuations()
	if resp != nil {
		return resp
	}
	return m.finishSignIn(pool.CompleteMFASetup(ctx, setup, code))
}

func (m *Manager) poolContinuations() (poolContinuations, *outcome.Response) {
	pool, ok := m.adapters[provider.UserPool].(poolContinuations)
	if !ok {
		return nil, outcome.Failf("session: no user-pool adapter registered")
	}
	return pool, nil
}

// finishSignIn persists a successful authenticate outcome and fires the
// sign-in event. Everything else passes through untouched.
func (m *Manager) finishSignIn(resp *outcome.Response) *outcome.Response {
	if !resp.Successful() {
		return resp
	}
	sess, ok := resp.Payload.(provider.Session)
	if !ok {
		return outcome.Errorf("session: authenticate succeeded without a session payload")
	}
	m.mu.Lock()
	m.gen++
	m.persist(sess)
	m.mu.Unlock()
	m.fire(&m.onSignIn)
	m.logger.Info("signed in", "username", sess.Username, "provider", sess.Provider)
	return resp
}

// persist writes the session record. The expiry written here is the idle
// window, capped by the token's own lifetime. Callers hold m.mu so the
// write cannot interleave with a sign-out.
func (m *Manager) persist(sess provider.Session) {
	prevProvider := provider.Provider(m.store.Get(store.Provider))

	m.store.Set(store.Username, sess.Username)
	m.store.Set(store.Provider, string(sess.Provider))
	m.store.Set(store.IDToken, sess.IDToken)
	m.store.Set(store.ExpiresAt, store.EncodeTime(m.clampExpiry(sess)))
	m.store.Set(store.SessionTokens, sess.Tokens.Encode())

	if r, ok := m.adapters[provider.UserPool].(restorer); ok {
		switch {
		case sess.Provider == provider.UserPool:
			r.Restore(sess.Username, sess.Tokens.AccessToken)
		case prevProvider == provider.UserPool:
			// The record no longer names a pool user; the stale handle
			// must not survive it.
			r.Restore("", "")
		}
	}
}

// clampExpiry bounds the sliding idle window by the token's hard expiry.
func (m *Manager) clampExpiry(sess provider.Session) time.Time {
	window := m.now().Add(m.cfg.SessionTime)
	if !sess.ExpiresAt.IsZero() && sess.ExpiresAt.Before(window) {
		return sess.ExpiresAt
	}
	return window
}

// RefreshSession exchanges the stored refresh token for fresh session
// material, routed by the stored provider tag. Concurrent callers share a
// single in-flight refresh and its outcome. A Failure or ExpiredToken
// outcome means the refresh material is dead: the session is signed out
// before the response returns. Error and Timeout outcomes are transient
// and leave the record in place.
func (m *Manager) RefreshSession(ctx context.Context) *outcome.Response {
	m.mu.Lock()
	if call := m.inflight; call != nil {
		m.mu.Unlock()
		select {
		case <-call.done:
			return call.resp
		case <-ctx.Done():
			return outcome.Errorf("session: refresh wait cancelled: %w", ctx.Err())
		}
	}
	call := &refreshCall{done: make(chan struct{})}
	m.inflight = call
	m.mu.Unlock()

	call.resp = m.doRefresh(ctx)

	m.mu.Lock()
	m.inflight = nil
	m.mu.Unlock()
	close(call.done)

	return call.resp
}

func (m *Manager) doRefresh(ctx context.Context) *outcome.Response {
	m.mu.Lock()
	gen := m.gen
	m.mu.Unlock()

	p := provider.Provider(m.store.Get(store.Provider))
	if !p.Valid() {
		return outcome.Failf("session: no session on record")
	}
	adapter, ok := m.adapters[p]
	if !ok {
		return outcome.Failf("session: no adapter registered for %q", p)
	}
	tokens, ok := store.DecodeTokenBundle(m.store.Get(store.SessionTokens))
	if !ok || tokens.RefreshToken == "" {
		m.SignOut(ctx)
		return outcome.Failf("session: no refresh token on record")
	}

	resp := adapter.Refresh(ctx, tokens.RefreshToken)
	switch {
	case resp.Successful():
		sess, ok := resp.Payload.(provider.Session)
		if !ok {
			return outcome.Errorf("session: refresh succeeded without a session payload")
		}
		if !m.persistIfCurrent(sess, gen) {
			return outcome.Failf("session: signed out during refresh")
		}
		m.logger.Debug("session refreshed", "username", sess.Username, "provider", sess.Provider)
	case resp.Kind == outcome.Failure || resp.Kind == outcome.ExpiredToken:
		m.logger.Warn("refresh material rejected, signing out", "provider", p, "outcome", resp.Kind)
		m.SignOut(ctx)
	}
	return resp
}

// persistIfCurrent writes the refreshed session unless a sign-out or a new
// sign-in landed while the refresh was in flight, in which case the stale
// result is discarded rather than resurrecting the old record.
func (m *Manager) persistIfCurrent(sess provider.Session, gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		m.logger.Debug("discarding refresh result from a superseded session", "username", sess.Username)
		return false
	}
	m.persist(sess)
	return true
}

// SignOut ends the session locally first: the auto-refresh timer is
// cancelled, any in-flight refresh is invalidated, and the record is
// cleared before the backend is ever contacted. The backend sign-out is
// best-effort and runs in the background, so a slow or unreachable
// backend never delays the local teardown. The sign-out event fires
// exactly once per session; calling SignOut again is a no-op.
func (m *Manager) SignOut(ctx context.Context) {
	m.mu.Lock()
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.mu.Unlock()

	hadSession := m.store.Get(store.Username) != ""
	p := provider.Provider(m.store.Get(store.Provider))
	adapter := m.adapters[p]

	// Detach backend state synchronously so the revocation call captures
	// the session being ended, not whatever is current when it runs.
	var revoke func(context.Context) error
	if adapter != nil {
		if d, ok := adapter.(detacher); ok {
			revoke = d.Detach()
		} else {
			revoke = adapter.SignOut
		}
	}

	m.store.Clear()
	if r, ok := m.adapters[provider.UserPool].(restorer); ok {
		r.Restore("", "")
	}

	if hadSession {
		m.fire(&m.onSignOut)
		m.logger.Info("signed out", "provider", p)
	}

	if revoke == nil {
		return
	}
	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		// Detached from the caller's context so a cancelled UI action
		// still revokes, but bounded so the goroutine cannot linger.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), revokeTimeout)
		defer cancel()
		if err := revoke(rctx); err != nil {
			m.logger.Warn("backend sign-out failed, session already cleared locally", "provider", p, "error", err)
		}
	}()
}

// Wait blocks until any background backend sign-out has finished.
// Long-lived callers never need it; short-lived processes call it before
// exiting so a just-issued revocation is not cut off. The wait is bounded
// by the revocation timeout.
func (m *Manager) Wait() {
	m.bg.Wait()
}

// AutoRefreshSession arms a one-shot timer that refreshes the session a
// safety margin before it expires, rescheduling itself after every
// successful refresh. An absent or already-expired record signs out
// immediately and arms nothing. Rearming replaces any previous timer.
func (m *Manager) AutoRefreshSession() {
	m.cancelAutoRefresh()

	exp, ok := store.DecodeTime(m.store.Get(store.ExpiresAt))
	if !ok || !exp.After(m.now()) {
		m.SignOut(context.Background())
		return
	}

	delay := exp.Sub(m.now()) - m.cfg.SafetyMargin
	if delay < 0 {
		// Inside the margin already: refresh on the next tick.
		delay = 0
	}

	m.mu.Lock()
	m.timer = time.AfterFunc(delay, m.autoRefreshTick)
	m.mu.Unlock()
}

func (m *Manager) autoRefreshTick() {
	resp := m.RefreshSession(context.Background())
	switch {
	case resp.Successful():
		m.AutoRefreshSession()
	case resp.Kind == outcome.Error || resp.Kind == outcome.Timeout:
		// Transient: the record is still live, try again after the margin.
		m.logger.Warn("auto-refresh hit a transient error, retrying", "outcome", resp.Kind, "error", resp.Error())
		m.mu.Lock()
		m.timer = time.AfterFunc(m.cfg.SafetyMargin, m.autoRefreshTick)
		m.mu.Unlock()
	}
}

func (m *Manager) cancelAutoRefresh() {
	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.mu.Unlock()
}

// UpdateSessionTime records user activity by sliding the idle window
// forward. While the extended window still ends before the token's hard
// expiry this is a pure storage write; once the window would outlive the
// token, the expiry is pinned to the token lifetime and a real refresh is
// forced, throttled so a burst of activity produces at most one network
// call per throttle interval.
func (m *Manager) UpdateSessionTime(ctx context.Context) {
	if !m.IsAuthenticated() {
		return
	}

	candidate := m.now().Add(m.cfg.SessionTime)

	tokens, ok := m.Tokens()
	if ok && tokens.AccessTokenExpiresAt > 0 {
		hard := time.UnixMilli(tokens.AccessTokenExpiresAt)
		if !candidate.Before(hard) {
			m.store.Set(store.ExpiresAt, store.EncodeTime(hard))
			if m.limiter.Allow() {
				m.RefreshSession(ctx)
			}
			return
		}
	}

	m.store.Set(store.ExpiresAt, store.EncodeTime(candidate))
}

// OnSignIn registers fn to run after every successful sign-in.
func (m *Manager) OnSignIn(fn func()) {
	m.evmu.Lock()
	m.onSignIn = append(m.onSignIn, fn)
	m.evmu.Unlock()
}

// OnSignOut registers fn to run after every sign-out.
func (m *Manager) OnSignOut(fn func()) {
	m.evmu.Lock()
	m.onSignOut = append(m.onSignOut, fn)
	m.evmu.Unlock()
}

func (m *Manager) fire(list *[]func()) {
	m.evmu.Lock()
	fns := make([]func(), len(*list))
	copy(fns, *list)
	m.evmu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
