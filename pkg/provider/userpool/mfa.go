package userpool

import (
	"context"
	"net/http"

	"github.com/perchauth/perch/pkg/outcome"
)

// SetMFA enables or disables MFA for the current user.
func (a *Adapter) SetMFA(ctx context.Context, enabled bool) *outcome.Response {
	h, err := a.currentHandle()
	if err != nil {
		return outcome.Fail(err)
	}

	err = a.client.do(ctx, http.MethodPost, "/v1/mfa/preference", setMFARequest{
		Enabled: enabled,
	}, nil, http.StatusOK, authHeader(h.accessToken))
	if err != nil {
		a.logger.Error("mfa preference update failed",
			"username", h.username,
			"enabled", enabled,
			"error", err,
		)
		return outcome.Fail(err)
	}
	return outcome.OK(nil)
}

// GetMFAOptions returns the current user's configured MFA delivery methods.
func (a *Adapter) GetMFAOptions(ctx context.Context) *outcome.Response {
	h, err := a.currentHandle()
	if err != nil {
		return outcome.Fail(err)
	}

	var resp mfaOptionsResponse
	err = a.client.do(ctx, http.MethodGet, "/v1/mfa/options", nil, &resp, http.StatusOK, authHeader(h.accessToken))
	if err != nil {
		a.logger.Error("mfa options lookup failed", "username", h.username, "error", err)
		return outcome.Fail(err)
	}
	return outcome.OK(resp.Options)
}
