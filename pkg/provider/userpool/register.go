package userpool

import (
	"context"

	"github.com/perchauth/perch/pkg/outcome"
)

// SignUp registers a new user. Success payload is a SignUpResult telling
// the caller whether confirmation is still pending and where the code went.
func (a *Adapter) SignUp(ctx context.Context, username, password string, attributes map[string]string) *outcome.Response {
	var result SignUpResult
	err := a.client.post(ctx, "/v1/users", signUpRequest{
		ClientID:   a.client.ClientID,
		Username:   username,
		Password:   password,
		Attributes: attributes,
	}, &result)
	if err != nil {
		a.logger.Error("sign-up failed", "username", username, "error", err)
		return outcome.Fail(err)
	}
	return outcome.OK(result)
}

// ConfirmRegistration submits the verification code from sign-up.
func (a *Adapter) ConfirmRegistration(ctx context.Context, username, code string) *outcome.Response {
	err := a.client.post(ctx, "/v1/users/confirm", confirmSignUpRequest{
		ClientID: a.client.ClientID,
		Username: username,
		Code:     code,
	}, nil)
	if err != nil {
		a.logger.Error("registration confirmation failed", "username", username, "error", err)
		return outcome.Fail(err)
	}
	return outcome.OK(nil)
}

// ResendConfirmationCode asks the pool to send the sign-up code again.
func (a *Adapter) ResendConfirmationCode(ctx context.Context, username string) *outcome.Response {
	var delivery CodeDelivery
	err := a.client.post(ctx, "/v1/users/resend-code", resendCodeRequest{
		ClientID: a.client.ClientID,
		Username: username,
	}, &delivery)
	if err != nil {
		a.logger.Error("resend confirmation code failed", "username", username, "error", err)
		return outcome.Fail(err)
	}
	return outcome.OK(delivery)
}
