// Package provider defines the contract both identity backends implement.
// The session manager dispatches on a stored Provider tag and treats every
// adapter through the same verb set; adapter-specific operations live on the
// concrete types.
package provider

import (
	"context"
	"time"

	"github.com/perchauth/perch/pkg/outcome"
	"github.com/perchauth/perch/pkg/store"
)

// Provider tags which backend issued the current session. An empty tag in
// storage means "unauthenticated".
type Provider string

const (
	UserPool  Provider = "userpool"
	Federated Provider = "federated"
)

// Valid reports whether p names a known backend.
func (p Provider) Valid() bool {
	return p == UserPool || p == Federated
}

// Credentials carries the inputs to Authenticate. The federated backend
// ignores both fields and runs its interactive consent flow instead.
type Credentials struct {
	Username string
	Password string
}

// Session is the material a successful authenticate or refresh yields. The
// adapter builds it, the session manager persists it; adapters never write
// to storage themselves.
type Session struct {
	Username  string
	Provider  Provider
	IDToken   string
	Tokens    store.TokenBundle
	ExpiresAt time.Time
}

// Adapter is the capability set shared by both backends. Authenticate and
// Refresh classify every result through the outcome vocabulary; expected
// challenges resolve rather than error. Refresh failure means the refresh
// material itself is dead and the caller must treat the session as
// unrecoverable.
type Adapter interface {
	Name() Provider
	Authenticate(ctx context.Context, creds Credentials) *outcome.Response
	Refresh(ctx context.Context, refreshToken string) *outcome.Response
	SignOut(ctx context.Context) error
}
