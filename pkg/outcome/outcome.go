// Package outcome classifies the result of every asynchronous identity
// operation into a single closed vocabulary, regardless of which backend
// produced it or how many wire calls it took. Callers branch on Kind instead
// of inspecting provider-specific error shapes.
package outcome

import "fmt"

// Kind tags a Response with the class of result an operation produced.
type Kind string

const (
	// Success means the operation completed and Payload carries its result.
	Success Kind = "success"

	// Failure means the backend rejected the operation (wrong credentials,
	// invalid code, revoked token). Err carries the backend error.
	Failure Kind = "failure"

	// Error means a dependency misbehaved outside the protocol itself,
	// e.g. the federated SDK failed to load.
	Error Kind = "error"

	// Timeout means an external dependency did not respond within its
	// configured deadline.
	Timeout Kind = "timeout"

	// Rejected means the user or their agent cancelled an interactive step
	// (dismissed consent, blocked popup). Not an authentication error.
	Rejected Kind = "rejected"

	// NewPasswordRequired is an expected mid-protocol challenge: the caller
	// must complete the new-password operation before a session is issued.
	NewPasswordRequired Kind = "new_password_required"

	// InputVerificationCode means the backend sent a verification code the
	// caller must collect and submit to continue the flow.
	InputVerificationCode Kind = "input_verification_code"

	// MFARequired is an expected challenge: the caller must submit an MFA
	// code to finish authenticating.
	MFARequired Kind = "mfa_required"

	// MFASetupSecret means MFA enrollment was initiated and Payload carries
	// the shared secret for TOTP setup.
	MFASetupSecret Kind = "mfa_setup_secret"

	// MFASetupFailure means the MFA enrollment sub-call failed.
	MFASetupFailure Kind = "mfa_setup_failure"

	// ExpiredToken means the presented token is past its lifetime and the
	// session cannot continue without re-authentication.
	ExpiredToken Kind = "expired_token"
)

// Response is the uniform result shape for all orchestrator-facing
// operations. Exactly one of Payload or Err is meaningful; challenge kinds
// carry their context in Payload because they are normal protocol steps,
// not errors.
type Response struct {
	Kind    Kind
	Payload any
	Err     error
}

// OK builds a Success response carrying payload.
func OK(payload any) *Response {
	return &Response{Kind: Success, Payload: payload}
}

// Fail builds a Failure response carrying the backend error.
func Fail(err error) *Response {
	return &Response{Kind: Failure, Err: err}
}

// Failf builds a Failure response from a formatted message. Used for
// configuration and usage errors that never reach a backend.
func Failf(format string, args ...any) *Response {
	return &Response{Kind: Failure, Err: fmt.Errorf(format, args...)}
}

// Errorf builds an Error response for external-dependency problems.
func Errorf(format string, args ...any) *Response {
	return &Response{Kind: Error, Err: fmt.Errorf(format, args...)}
}

// Challenge builds a response for an expected mid-protocol step.
func Challenge(kind Kind, payload any) *Response {
	return &Response{Kind: kind, Payload: payload}
}

// Successful reports whether the operation completed with a session or
// result, as opposed to failing or pausing on a challenge.
func (r *Response) Successful() bool {
	return r != nil && r.Kind == Success
}

// Challenge reports whether the response is an expected mid-protocol step
// the caller must act on before the flow can finish.
func (r *Response) Challenge() bool {
	if r == nil {
		return false
	}
	switch r.Kind {
	case NewPasswordRequired, InputVerificationCode, MFARequired, MFASetupSecret:
		return true
	}
	return false
}

// Error returns the carried error, or nil for successes and challenges.
func (r *Response) Error() error {
	if r == nil {
		return nil
	}
	return r.Err
}

func (r *Response) String() string {
	if r == nil {
		return "<nil>"
	}
	if r.Err != nil {
		return fmt.Sprintf("%s: %v", r.Kind, r.Err)
	}
	return string(r.Kind)
}
