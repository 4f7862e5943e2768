// Package userpool wraps the hosted user-pool identity service: credential
// authentication with its challenge-response protocol, registration,
// password and MFA management, profile operations, and the separately
// credentialed administrative surface.
package userpool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/perchauth/perch/pkg/idx"
)

// Client is the HTTP client for the user-pool API. It performs single wire
// calls and surfaces typed errors; flow logic (challenge chaining, outcome
// classification) lives in the Adapter.
type Client struct {
	BaseURL    string
	PoolID     string
	ClientID   string
	HTTPClient *http.Client

	logger *slog.Logger
}

// NewClient creates a user-pool API client.
func NewClient(baseURL, poolID, clientID string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		BaseURL:  strings.TrimSuffix(baseURL, "/"),
		PoolID:   poolID,
		ClientID: clientID,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

func (c *Client) url(path string) string {
	return c.BaseURL + path
}

// do sends a JSON request and decodes the response into target when the
// status matches expectedStatus. Non-matching statuses are parsed into a
// typed *APIError.
func (c *Client) do(
	ctx context.Context,
	method, path string,
	payload, target any,
	expectedStatus int,
	headers map[string]string,
) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// Correlates client logs with pool-side request logs.
	requestID := idx.New()
	req.Header.Set("X-Request-Id", requestID.String())

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != expectedStatus {
		apiErr := parseAPIError(resp.StatusCode, bodyBytes)
		c.logger.Debug("user-pool request failed",
			"path", path,
			"status", resp.StatusCode,
			"code", apiErr.Code,
			"request_id", requestID,
		)
		return apiErr
	}

	if target != nil {
		if err := json.Unmarshal(bodyBytes, target); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// post is the common case: JSON in, JSON out, 200 expected.
func (c *Client) post(ctx context.Context, path string, payload, target any) error {
	return c.do(ctx, http.MethodPost, path, payload, target, http.StatusOK, nil)
}

// authHeader builds the bearer header map for access-token-scoped calls.
func authHeader(accessToken string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + accessToken}
}
