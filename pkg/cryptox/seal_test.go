package cryptox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	t.Parallel()

	sealer := NewSealer("correct horse battery staple")

	sealed, err := sealer.Seal(`{"refreshToken":"abc"}`)
	require.NoError(t, err)
	require.NotContains(t, sealed, "refreshToken")

	opened, err := sealer.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, `{"refreshToken":"abc"}`, opened)
}

func TestSealProducesUniqueBlobs(t *testing.T) {
	t.Parallel()

	sealer := NewSealer("pass")

	first, err := sealer.Seal("same plaintext")
	require.NoError(t, err)
	second, err := sealer.Seal("same plaintext")
	require.NoError(t, err)
	require.NotEqual(t, first, second, "fresh salt and nonce per call")
}

func TestOpenRejectsWrongPassphrase(t *testing.T) {
	t.Parallel()

	sealed, err := NewSealer("right").Seal("secret")
	require.NoError(t, err)

	_, err = NewSealer("wrong").Open(sealed)
	require.ErrorIs(t, err, ErrSealedValue)
}

func TestOpenRejectsGarbage(t *testing.T) {
	t.Parallel()

	sealer := NewSealer("pass")

	for _, input := range []string{"", "not base64 !!!", "c2hvcnQ="} {
		_, err := sealer.Open(input)
		require.ErrorIs(t, err, ErrSealedValue, "input %q", input)
	}
}
