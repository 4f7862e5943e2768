package totpx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testSecret = "JBSWY3DPEHPK3PXP"

func TestGeneratedCodeValidates(t *testing.T) {
	t.Parallel()

	code, err := GenerateCode(testSecret, time.Now())
	require.NoError(t, err)
	require.Len(t, code, 6)
	require.True(t, Validate(code, testSecret))
}

func TestStaleCodeDoesNotValidate(t *testing.T) {
	t.Parallel()

	code, err := GenerateCode(testSecret, time.Now().Add(-10*time.Minute))
	require.NoError(t, err)
	require.False(t, Validate(code, testSecret))
}

func TestGenerateCodeRejectsBadSecret(t *testing.T) {
	t.Parallel()

	_, err := GenerateCode("not base32 !!!", time.Now())
	require.Error(t, err)
}

func TestProvisioningURI(t *testing.T) {
	t.Parallel()

	uri := ProvisioningURI("perch", "alice", testSecret)
	require.Equal(t, "otpauth://totp/perch:alice?secret=JBSWY3DPEHPK3PXP&issuer=perch", uri)
}
