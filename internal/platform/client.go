// Package platform talks to the school platform's REST API: login and
// result submission. It is the reconciler's transport; routed UI
// traffic does not pass through here.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/darasa-app/darasa/internal/common"
	"github.com/darasa-app/darasa/internal/grading"
)

// Client is the platform API surface the agent needs.
type Client interface {
	// Login exchanges credentials for an access token.
	Login(ctx context.Context, identity, secret string) (string, error)
	// SubmitResult uploads a locally graded result and returns the
	// server-assigned report id on explicit acknowledgment.
	SubmitResult(ctx context.Context, token string, res *grading.Result) (string, error)
}

// HTTPClient is the JSON-over-HTTP Client. Result uploads get an
// extended timeout ceiling distinct from ordinary API calls.
type HTTPClient struct {
	baseURL       string
	http          *http.Client
	uploadTimeout time.Duration
}

// NewHTTPClient builds a client for the given base URL. transport may
// be nil for http.DefaultTransport.
func NewHTTPClient(baseURL string, transport http.RoundTripper, requestTimeout, uploadTimeout time.Duration) *HTTPClient {
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	if uploadTimeout <= 0 {
		uploadTimeout = 5 * time.Minute
	}
	return &HTTPClient{
		baseURL:       baseURL,
		http:          &http.Client{Transport: transport, Timeout: requestTimeout},
		uploadTimeout: uploadTimeout,
	}
}

type loginResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		Token string `json:"token"`
	} `json:"data"`
}

func (c *HTTPClient) Login(ctx context.Context, identity, secret string) (string, error) {
	body, err := json.Marshal(map[string]string{"email": identity, "password": secret})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/users/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to parse login response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || !out.Success || out.Data.Token == "" {
		return "", fmt.Errorf("%w: %s", common.ErrUnauthorized, out.Message)
	}
	return out.Data.Token, nil
}

type submitResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		ID string `json:"_id"`
	} `json:"data"`
}

func (c *HTTPClient) SubmitResult(ctx context.Context, token string, res *grading.Result) (string, error) {
	body, err := json.Marshal(res)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.uploadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/reports/add-report", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return "", common.ErrUnauthorized
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	var out submitResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("failed to parse submit response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || !out.Success {
		return "", fmt.Errorf("%w: status %d: %s", common.ErrFetchFailed, resp.StatusCode, out.Message)
	}
	return out.Data.ID, nil
}
