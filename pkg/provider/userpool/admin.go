package userpool

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// AdminCredentials is the static key pair for the privileged surface. It is
// passed explicitly to NewAdminClient and used per request; nothing in this
// package mutates process-wide identity.
type AdminCredentials struct {
	AccessKeyID string
	SecretKey   string
}

// AdminClient issues privileged user-management calls against arbitrary
// usernames in a pool. It runs on a different trust level than the end-user
// session: it never reads or writes the session store, and a live end-user
// session is unaffected by its use.
type AdminClient struct {
	BaseURL    string
	PoolID     string
	HTTPClient *http.Client

	creds  AdminCredentials
	logger *slog.Logger

	// now is the clock for request signing, overridable in tests.
	now func() time.Time
}

// NewAdminClient creates a privileged client for the given pool.
func NewAdminClient(baseURL, poolID string, creds AdminCredentials, logger *slog.Logger) *AdminClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminClient{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		PoolID:  poolID,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		creds:  creds,
		logger: logger,
		now:    time.Now,
	}
}

type adminCreateUserRequest struct {
	PoolID            string `json:"poolId"`
	Username          string `json:"username"`
	TemporaryPassword string `json:"temporaryPassword"`
}

type adminUserRequest struct {
	PoolID   string `json:"poolId"`
	Username string `json:"username"`
}

type adminUpdateAttributesRequest struct {
	PoolID     string      `json:"poolId"`
	Username   string      `json:"username"`
	Attributes []Attribute `json:"attributes"`
}

// AdminCreateUser provisions a user with a temporary password. The user
// lands in a force-change-password state and hits the NewPasswordRequired
// challenge on first sign-in.
func (c *AdminClient) AdminCreateUser(ctx context.Context, username, temporaryPassword string) error {
	return c.call(ctx, http.MethodPost, "/v1/admin/users", adminCreateUserRequest{
		PoolID:            c.PoolID,
		Username:          username,
		TemporaryPassword: temporaryPassword,
	}, http.StatusCreated)
}

// AdminDeleteUser removes a user from the pool.
func (c *AdminClient) AdminDeleteUser(ctx context.Context, username string) error {
	return c.call(ctx, http.MethodPost, "/v1/admin/users/delete", adminUserRequest{
		PoolID:   c.PoolID,
		Username: username,
	}, http.StatusNoContent)
}

// AdminResetUserPassword invalidates the user's password and triggers the
// reset flow on their next sign-in.
func (c *AdminClient) AdminResetUserPassword(ctx context.Context, username string) error {
	return c.call(ctx, http.MethodPost, "/v1/admin/users/reset-password", adminUserRequest{
		PoolID:   c.PoolID,
		Username: username,
	}, http.StatusOK)
}

// AdminUpdateUserAttributes overwrites profile attributes for a user.
func (c *AdminClient) AdminUpdateUserAttributes(ctx context.Context, username string, attributes []Attribute) error {
	return c.call(ctx, http.MethodPost, "/v1/admin/users/attributes", adminUpdateAttributesRequest{
		PoolID:     c.PoolID,
		Username:   username,
		Attributes: attributes,
	}, http.StatusOK)
}

// ResetExpiredAccount re-stamps the username attribute of an account whose
// temporary credentials lapsed, which restarts its expiry window.
func (c *AdminClient) ResetExpiredAccount(ctx context.Context, usernameKey, username string) error {
	return c.AdminUpdateUserAttributes(ctx, username, []Attribute{
		{Name: usernameKey, Value: username},
	})
}

// call signs and sends one admin request. Every request carries its own
// signature derived from the static credentials, so concurrent end-user
// traffic through the unprivileged client shares no ambient state with it.
func (c *AdminClient) call(ctx context.Context, method, path string, payload any, expectedStatus int) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	date := c.now().UTC().Format(time.RFC3339)
	req.Header.Set("X-Admin-Key-Id", c.creds.AccessKeyID)
	req.Header.Set("X-Admin-Date", date)
	req.Header.Set("X-Admin-Signature", c.sign(method, path, date, raw))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != expectedStatus {
		bodyBytes, _ := io.ReadAll(resp.Body)
		apiErr := parseAPIError(resp.StatusCode, bodyBytes)
		c.logger.Error("admin call failed", "path", path, "status", resp.StatusCode, "code", apiErr.Code)
		return apiErr
	}
	return nil
}

// sign computes HMAC-SHA256 over the request identity: method, path, date
// and body digest, keyed by the admin secret.
func (c *AdminClient) sign(method, path, date string, body []byte) string {
	digest := sha256.Sum256(body)
	mac := hmac.New(sha256.New, []byte(c.creds.SecretKey))
	fmt.Fprintf(mac, "%s\n%s\n%s\n%s", method, path, date, hex.EncodeToString(digest[:]))
	return hex.EncodeToString(mac.Sum(nil))
}
