package sqlite

import (
	"strings"
	"testing"

	"github.com/perchauth/perch/pkg/cryptox"
	"github.com/perchauth/perch/pkg/store"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()

	s, err := NewStore(":memory:", "perch", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.ApplyMigrations())
	return s
}

func TestStore_RoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	s.Set(store.Username, "alice")
	s.Set(store.Provider, "userpool")

	require.Equal(t, "alice", s.Get(store.Username))
	require.Equal(t, "userpool", s.Get(store.Provider))
	require.Empty(t, s.Get(store.IDToken))
}

func TestStore_SetOverwrites(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	s.Set(store.Username, "alice")
	s.Set(store.Username, "bob")

	require.Equal(t, "bob", s.Get(store.Username))
}

func TestStore_Clear(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	s.Set(store.Username, "alice")
	s.Set(store.Provider, "userpool")
	s.Set(store.IDToken, "header.payload.sig")
	s.Set(store.ExpiresAt, "1772366400000")
	s.Set(store.SessionTokens, "access;refresh")

	s.Clear()

	for _, field := range []store.Field{
		store.Username, store.Provider, store.IDToken, store.ExpiresAt, store.SessionTokens,
	} {
		require.Empty(t, s.Get(field), "field %s should be cleared", field)
	}

	// Clearing an already-empty record is a no-op.
	s.Clear()
	require.Empty(t, s.Get(store.Username))
}

func TestStore_SurvivesReopen(t *testing.T) {
	t.Parallel()

	dsn := "file:" + t.TempDir() + "/session.db"

	first, err := NewStore(dsn, "perch")
	require.NoError(t, err)
	require.NoError(t, first.ApplyMigrations())
	first.Set(store.Username, "alice")
	require.NoError(t, first.Close())

	second, err := NewStore(dsn, "perch")
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })
	require.NoError(t, second.ApplyMigrations())

	require.Equal(t, "alice", second.Get(store.Username))
}

func TestStore_PrefixIsolation(t *testing.T) {
	t.Parallel()

	dsn := "file:" + t.TempDir() + "/session.db"

	app, err := NewStore(dsn, "app")
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	require.NoError(t, app.ApplyMigrations())

	other, err := NewStore(dsn, "other")
	require.NoError(t, err)
	t.Cleanup(func() { _ = other.Close() })

	app.Set(store.Username, "alice")
	other.Set(store.Username, "bob")

	app.Clear()

	require.Empty(t, app.Get(store.Username))
	require.Equal(t, "bob", other.Get(store.Username))
}

func TestStore_SealedTokensAtRest(t *testing.T) {
	t.Parallel()

	sealer := cryptox.NewSealer("correct horse battery staple")
	s := newTestStore(t, WithSealer(sealer))

	bundle := store.TokenBundle{
		AccessToken:          "access-token-value",
		AccessTokenExpiresAt: 1772366400000,
		IDToken:              "id-token-value",
		IDTokenExpiresAt:     1772366400000,
		RefreshToken:         "refresh-token-value",
	}
	encoded := bundle.Encode()

	s.Set(store.SessionTokens, encoded)

	// Reads come back as plaintext.
	require.Equal(t, encoded, s.Get(store.SessionTokens))

	// But the raw row must not contain the refresh token.
	var raw string
	err := s.db.QueryRow(
		`SELECT value FROM session_record WHERE key = ?`, s.key(store.SessionTokens),
	).Scan(&raw)
	require.NoError(t, err)
	require.NotContains(t, raw, "refresh-token-value")

	// Other fields stay in the clear.
	s.Set(store.Username, "alice")
	err = s.db.QueryRow(
		`SELECT value FROM session_record WHERE key = ?`, s.key(store.Username),
	).Scan(&raw)
	require.NoError(t, err)
	require.Equal(t, "alice", raw)
}

func TestStore_SealedTokensWrongPassphrase(t *testing.T) {
	t.Parallel()

	dsn := "file:" + t.TempDir() + "/session.db"

	writer, err := NewStore(dsn, "perch", WithSealer(cryptox.NewSealer("first")))
	require.NoError(t, err)
	require.NoError(t, writer.ApplyMigrations())
	writer.Set(store.SessionTokens, "access;refresh")
	require.NoError(t, writer.Close())

	reader, err := NewStore(dsn, "perch", WithSealer(cryptox.NewSealer("second")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = reader.Close() })

	// An unreadable sealed value reads as no session, not an error.
	require.Empty(t, reader.Get(store.SessionTokens))
}

func TestStore_KeyNamespacing(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.Equal(t, "perch_Username", s.key(store.Username))
	require.True(t, strings.HasPrefix(s.key(store.SessionTokens), "perch_"))
}
