package outcome

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResponsePredicates(t *testing.T) {
	t.Parallel()

	t.Run("success is successful and not a challenge", func(t *testing.T) {
		r := OK("session")
		require.True(t, r.Successful())
		require.False(t, r.Challenge())
		require.NoError(t, r.Error())
		require.Equal(t, "session", r.Payload)
	})

	t.Run("failure carries the backend error", func(t *testing.T) {
		cause := errors.New("wrong password")
		r := Fail(cause)
		require.False(t, r.Successful())
		require.ErrorIs(t, r.Error(), cause)
	})

	t.Run("challenge kinds resolve without error", func(t *testing.T) {
		for _, kind := range []Kind{NewPasswordRequired, InputVerificationCode, MFARequired, MFASetupSecret} {
			r := Challenge(kind, nil)
			require.True(t, r.Challenge(), "kind %s", kind)
			require.False(t, r.Successful())
			require.NoError(t, r.Error())
		}
	})

	t.Run("terminal non-success kinds are not challenges", func(t *testing.T) {
		for _, kind := range []Kind{Failure, Error, Timeout, Rejected, MFASetupFailure, ExpiredToken} {
			r := &Response{Kind: kind}
			require.False(t, r.Challenge(), "kind %s", kind)
		}
	})

	t.Run("nil response is inert", func(t *testing.T) {
		var r *Response
		require.False(t, r.Successful())
		require.False(t, r.Challenge())
		require.NoError(t, r.Error())
	})
}
