package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryRoundTrip(t *testing.T) {
	t.Parallel()

	s := NewMemory("perch")

	require.Empty(t, s.Get(Username), "absent key reads empty")

	s.Set(Username, "alice")
	s.Set(Provider, "userpool")
	s.Set(IDToken, "tok123")
	require.Equal(t, "alice", s.Get(Username))
	require.Equal(t, "tok123", s.Get(IDToken))
}

func TestMemoryPrefixIsolation(t *testing.T) {
	t.Parallel()

	a := NewMemory("tenant_a")
	b := NewMemory("tenant_b")

	a.Set(Username, "alice")
	require.Empty(t, b.Get(Username))
}

func TestMemoryClearIsAtomicAndIdempotent(t *testing.T) {
	t.Parallel()

	s := NewMemory("perch")
	for _, field := range Fields {
		s.Set(field, "value")
	}

	s.Clear()
	for _, field := range Fields {
		require.Empty(t, s.Get(field))
	}

	// Second clear leaves the same empty state.
	s.Clear()
	for _, field := range Fields {
		require.Empty(t, s.Get(field))
	}
}

func TestTokenBundleCodec(t *testing.T) {
	t.Parallel()

	bundle := TokenBundle{
		AccessToken:          "access",
		AccessTokenExpiresAt: 1700000000000,
		IDToken:              "id",
		IDTokenExpiresAt:     1700000360000,
		RefreshToken:         "refresh",
	}

	decoded, ok := DecodeTokenBundle(bundle.Encode())
	require.True(t, ok)
	require.Equal(t, bundle, decoded)

	_, ok = DecodeTokenBundle("")
	require.False(t, ok)

	_, ok = DecodeTokenBundle("{not json")
	require.False(t, ok)
}

func TestTimeCodecUsesMilliseconds(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	encoded := EncodeTime(at)
	require.Equal(t, "1772366400000", encoded)

	decoded, ok := DecodeTime(encoded)
	require.True(t, ok)
	require.True(t, decoded.Equal(at))

	_, ok = DecodeTime("")
	require.False(t, ok)
	_, ok = DecodeTime("not-a-number")
	require.False(t, ok)
}
