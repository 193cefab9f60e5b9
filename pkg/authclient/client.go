/**
 * @description
 * This package provides a client for the hosted auth platform that owns user
 * identity and remote sessions. The session lifecycle manager consumes it
 * through the session.AuthProvider interface; this client is the production
 * implementation.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// Client is a client for the auth platform's REST API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new auth API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SessionResponse is the remote session record.
type SessionResponse struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email,omitempty"`
	AccessToken string `json:"access_token,omitempty"`
	ExpiresIn   int64  `json:"expires_in,omitempty"`
}

// ErrorResponse represents an error from the auth API.
type ErrorResponse struct {
	StatusCode int    `json:"-"`
	Code       string `json:"error,omitempty"`
	Message    string `json:"error_description,omitempty"`
}

func (e *ErrorResponse) Error() string {
	if e.Code != "" || e.Message != "" {
		return fmt.Sprintf("auth api error: %s - %s", e.Code, e.Message)
	}
	return fmt.Sprintf("auth api error (status %d)", e.StatusCode)
}

// IsUnauthorized reports whether the remote considers the session gone.
func (e *ErrorResponse) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// GetSession queries the remote session for the given access token. A nil
// session with nil error means the remote does not recognize the token.
func (c *Client) GetSession(ctx context.Context, accessToken string) (*SessionResponse, error) {
	var out SessionResponse
	err := c.doJSON(ctx, http.MethodGet, "/auth/v1/user", nil, accessToken, &out, "get_session")
	if err != nil {
		var authErr *ErrorResponse
		if asAuthError(err, &authErr) && authErr.IsUnauthorized() {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}

type passwordGrantRequest struct {
	Identifier string `json:"email"`
	Secret     string `json:"password"`
}

// SignInWithPassword exchanges credentials for a remote session.
func (c *Client) SignInWithPassword(ctx context.Context, identifier, secret string) (*SessionResponse, error) {
	var out SessionResponse
	req := passwordGrantRequest{Identifier: identifier, Secret: secret}
	if err := c.doJSON(ctx, http.MethodPost, "/auth/v1/token?grant_type=password", req, "", &out, "sign_in"); err != nil {
		return nil, err
	}
	return &out, nil
}

// SignOut invalidates the remote session for the given access token.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	return c.doJSON(ctx, http.MethodPost, "/auth/v1/logout", nil, accessToken, nil, "sign_out")
}

func asAuthError(err error, target **ErrorResponse) bool {
	e, ok := err.(*ErrorResponse)
	if ok {
		*target = e
	}
	return ok
}

// doJSON is a generic helper to execute authenticated JSON requests.
func (c *Client) doJSON(ctx context.Context, method, path string, payload interface{}, accessToken string, out interface{}, op string) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", op, err)
		}
		body = bytes.NewBuffer(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("apikey", c.APIKey)
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute %s request: %w", op, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errResp := &ErrorResponse{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(bodyBytes, errResp); err != nil {
			log.Printf("level=warn component=auth_client op=%s status=%d msg=\"non-2xx response (unparsable error body)\"", op, resp.StatusCode)
			return &ErrorResponse{StatusCode: resp.StatusCode}
		}
		return errResp
	}

	if out != nil {
		if err := json.Unmarshal(bodyBytes, out); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", op, err)
		}
	}
	return nil
}
