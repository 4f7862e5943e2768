// Package totpx helps a client finish MFA enrollment: given the shared
// secret surfaced by an MFA-setup challenge, it produces and checks the
// time-based codes the pool expects.
package totpx

import (
	"fmt"
	"time"

	"github.com/pquerna/otp/totp"
)

// GenerateCode computes the 6-digit TOTP code for secret at time t.
func GenerateCode(secret string, t time.Time) (string, error) {
	code, err := totp.GenerateCode(secret, t)
	if err != nil {
		return "", fmt.Errorf("failed to generate totp code: %w", err)
	}
	return code, nil
}

// Validate reports whether code is currently valid for secret.
func Validate(code, secret string) bool {
	return totp.Validate(code, secret)
}

// ProvisioningURI builds the otpauth:// URI a user scans into their
// authenticator app during enrollment.
func ProvisioningURI(issuer, account, secret string) string {
	return fmt.Sprintf("otpauth://totp/%s:%s?secret=%s&issuer=%s", issuer, account, secret, issuer)
}
