package userpool

import (
	"context"
	"net/http"

	"github.com/perchauth/perch/pkg/outcome"
)

// GetUserAttributes reads the current user's profile attributes.
func (a *Adapter) GetUserAttributes(ctx context.Context) *outcome.Response {
	h, err := a.currentHandle()
	if err != nil {
		return outcome.Fail(err)
	}

	var resp attributesResponse
	err = a.client.do(ctx, http.MethodGet, "/v1/users/me", nil, &resp, http.StatusOK, authHeader(h.accessToken))
	if err != nil {
		a.logger.Error("attribute lookup failed", "username", h.username, "error", err)
		return outcome.Fail(err)
	}
	return outcome.OK(resp.Attributes)
}

// DeleteUserAttributes removes the named attributes from the current user's
// profile.
func (a *Adapter) DeleteUserAttributes(ctx context.Context, names []string) *outcome.Response {
	h, err := a.currentHandle()
	if err != nil {
		return outcome.Fail(err)
	}

	err = a.client.do(ctx, http.MethodDelete, "/v1/users/me/attributes", deleteAttributesRequest{
		AttributeNames: names,
	}, nil, http.StatusNoContent, authHeader(h.accessToken))
	if err != nil {
		a.logger.Error("attribute deletion failed", "username", h.username, "error", err)
		return outcome.Fail(err)
	}
	return outcome.OK(nil)
}

// GetAttributeVerificationCode asks the pool to send a verification code
// for one of the current user's attributes, typically a changed email or
// phone number. Resolves with an InputVerificationCode challenge carrying
// the delivery details; the caller finishes with VerifyAttribute.
func (a *Adapter) GetAttributeVerificationCode(ctx context.Context, attributeName string) *outcome.Response {
	h, err := a.currentHandle()
	if err != nil {
		return outcome.Fail(err)
	}

	var delivery CodeDelivery
	err = a.client.do(ctx, http.MethodPost, "/v1/users/me/attributes/verify", attributeVerificationRequest{
		AttributeName: attributeName,
	}, &delivery, http.StatusOK, authHeader(h.accessToken))
	if err != nil {
		a.logger.Error("attribute verification code request failed", "username", h.username, "attribute", attributeName, "error", err)
		return outcome.Fail(err)
	}
	return outcome.Challenge(outcome.InputVerificationCode, delivery)
}

// VerifyAttribute submits the delivered code to mark the attribute
// verified.
func (a *Adapter) VerifyAttribute(ctx context.Context, attributeName, code string) *outcome.Response {
	h, err := a.currentHandle()
	if err != nil {
		return outcome.Fail(err)
	}

	err = a.client.do(ctx, http.MethodPost, "/v1/users/me/attributes/confirm", verifyAttributeRequest{
		AttributeName: attributeName,
		Code:          code,
	}, nil, http.StatusNoContent, authHeader(h.accessToken))
	if err != nil {
		a.logger.Error("attribute verification failed", "username", h.username, "attribute", attributeName, "error", err)
		return outcome.Fail(err)
	}
	return outcome.OK(nil)
}

// DeleteUser permanently deletes the current user's account. The caller is
// expected to sign out locally afterwards.
func (a *Adapter) DeleteUser(ctx context.Context) *outcome.Response {
	h, err := a.currentHandle()
	if err != nil {
		return outcome.Fail(err)
	}

	err = a.client.do(ctx, http.MethodDelete, "/v1/users/me", nil, nil, http.StatusNoContent, authHeader(h.accessToken))
	if err != nil {
		a.logger.Error("account deletion failed", "username", h.username, "error", err)
		return outcome.Fail(err)
	}

	a.dropCurrent()
	return outcome.OK(nil)
}
