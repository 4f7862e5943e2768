// Package store persists the single active session record: username,
// provider tag, ID token, expiry, and the token bundle used for refresh.
// Keys are namespaced by a configured prefix so multiple tenants sharing one
// storage backend never collide.
package store

import (
	"encoding/json"
	"strconv"
	"time"
)

// Field names one slot of the session record.
type Field string

const (
	Username      Field = "Username"
	Provider      Field = "Provider"
	IDToken       Field = "IdToken"
	ExpiresAt     Field = "ExpiresAt"
	SessionTokens Field = "SessionTokens"
)

// Fields lists every slot of the record, in storage order. Clear removes
// all of them as a unit.
var Fields = []Field{Username, Provider, IDToken, ExpiresAt, SessionTokens}

// Store is a key-prefixed local storage abstraction. Implementations never
// return errors from Get: an absent or unparsable value reads as "".
// Callers own the encode/decode round-trip of structured values.
type Store interface {
	Get(field Field) string
	Set(field Field, value string)
	Clear()
	Close() error
}

// TokenBundle is the refresh material returned by a successful authenticate
// or refresh call. All expiries are Unix milliseconds; the wire formats of
// both backends are converted at the adapter boundary so every comparison
// against the clock uses one unit.
type TokenBundle struct {
	AccessToken          string `json:"accessToken"`
	AccessTokenExpiresAt int64  `json:"accessTokenExpiresAt"`
	IDToken              string `json:"idToken"`
	IDTokenExpiresAt     int64  `json:"idTokenExpiresAt"`
	RefreshToken         string `json:"refreshToken"`
}

// Encode serializes the bundle for the SessionTokens slot.
func (b TokenBundle) Encode() string {
	raw, err := json.Marshal(b)
	if err != nil {
		return ""
	}
	return string(raw)
}

// DecodeTokenBundle parses a SessionTokens value. Absent or malformed input
// yields (zero, false) rather than an error, matching Get semantics.
func DecodeTokenBundle(value string) (TokenBundle, bool) {
	if value == "" {
		return TokenBundle{}, false
	}
	var b TokenBundle
	if err := json.Unmarshal([]byte(value), &b); err != nil {
		return TokenBundle{}, false
	}
	return b, true
}

// EncodeTime renders a timestamp for the ExpiresAt slot as Unix milliseconds.
func EncodeTime(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// DecodeTime parses an ExpiresAt value. Returns (zero, false) when absent
// or malformed.
func DecodeTime(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}
