package userpool

import (
	"context"
	"net/http"

	"github.com/perchauth/perch/pkg/outcome"
)

// ChangePassword updates the current user's password. Requires an
// authenticated or restored user handle.
func (a *Adapter) ChangePassword(ctx context.Context, oldPassword, newPassword string) *outcome.Response {
	h, err := a.currentHandle()
	if err != nil {
		return outcome.Fail(err)
	}

	err = a.client.do(ctx, http.MethodPost, "/v1/password/change", changePasswordRequest{
		PreviousPassword: oldPassword,
		ProposedPassword: newPassword,
	}, nil, http.StatusOK, authHeader(h.accessToken))
	if err != nil {
		a.logger.Error("password change failed", "username", h.username, "error", err)
		return outcome.Fail(err)
	}
	return outcome.OK(nil)
}

// ForgotPassword starts the reset flow for username. The expected result is
// an InputVerificationCode challenge carrying where the code was delivered;
// the caller finishes with ConfirmPassword.
func (a *Adapter) ForgotPassword(ctx context.Context, username string) *outcome.Response {
	var delivery CodeDelivery
	err := a.client.post(ctx, "/v1/password/forgot", forgotPasswordRequest{
		ClientID: a.client.ClientID,
		Username: username,
	}, &delivery)
	if err != nil {
		a.logger.Error("forgot-password failed", "username", username, "error", err)
		return outcome.Fail(err)
	}
	return outcome.Challenge(outcome.InputVerificationCode, delivery)
}

// ConfirmPassword finishes the reset flow with the delivered code and the
// new password.
func (a *Adapter) ConfirmPassword(ctx context.Context, username, code, newPassword string) *outcome.Response {
	err := a.client.post(ctx, "/v1/password/confirm", confirmForgotPasswordRequest{
		ClientID:    a.client.ClientID,
		Username:    username,
		Code:        code,
		NewPassword: newPassword,
	}, nil)
	if err != nil {
		a.logger.Error("password confirmation failed", "username", username, "error", err)
		return outcome.Fail(err)
	}
	return outcome.OK(nil)
}
