// Package quota fetches per-model quota for stored Antigravity accounts and
// issues the preheat call that starts a fresh usage cycle.
package quota

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/j-veylop/antigravity-reset-agent/internal/logger"
	"github.com/j-veylop/antigravity-reset-agent/internal/metrics"
)

const (
	// Google OAuth token endpoint
	googleOAuthURL = "https://oauth2.googleapis.com/token"

	// Cloud Code endpoint used by the Antigravity IDE
	defaultBaseURL = "https://daily-cloudcode-pa.sandbox.googleapis.com"

	loadCodeAssistPath  = "/v1internal:loadCodeAssist"
	fetchModelsPath     = "/v1internal:fetchAvailableModels"
	generateContentPath = "/v1internal:generateContent"
)

// Antigravity headers sent on every Cloud Code request.
var antigravityHeaders = map[string]string{
	"User-Agent":   "antigravity/windows/amd64",
	"Content-Type": "application/json",
}

// ErrUnauthorized is returned when the access token is rejected.
var ErrUnauthorized = errors.New("unauthorized: access token may be expired")

// StatusError is a non-200 response from a provider endpoint.
type StatusError struct {
	Endpoint string
	Body     string
	Code     int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed (status %d): %s", e.Endpoint, e.Code, e.Body)
}

// TokenResponse represents the OAuth token response from Google.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope,omitempty"`
	TokenType   string `json:"token_type"`
	IDToken     string `json:"id_token,omitempty"`
}

// projectIDFields are checked in order on the loadCodeAssist response.
var projectIDFields = []string{"cloudaicompanionProject", "project", "projectId"}

// fetchModelsResponse represents the response from fetchAvailableModels API.
type fetchModelsResponse struct {
	Models map[string]struct {
		DisplayName string `json:"displayName"`
		QuotaInfo   *struct {
			RemainingFraction *float64 `json:"remainingFraction"`
			ResetTime         string   `json:"resetTime"`
		} `json:"quotaInfo"`
	} `json:"models"`
}

// refreshAccessToken exchanges a refresh credential for a new access token.
func (c *Client) refreshAccessToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("refresh token is empty")
	}

	data := url.Values{}
	data.Set("client_id", c.config.ClientID)
	data.Set("client_secret", c.config.ClientSecret)
	data.Set("refresh_token", refreshToken)
	data.Set("grant_type", "refresh_token")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := c.do(req, "token refresh")
	if err != nil {
		metrics.TokenRefreshTotal.WithLabelValues("failure").Inc()
		return nil, err
	}

	var tokenResp TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		metrics.TokenRefreshTotal.WithLabelValues("failure").Inc()
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		metrics.TokenRefreshTotal.WithLabelValues("failure").Inc()
		return nil, fmt.Errorf("token response has no access_token")
	}

	metrics.TokenRefreshTotal.WithLabelValues("success").Inc()
	return &tokenResp, nil
}

// loadProjectID calls loadCodeAssist and extracts the project id. It doubles
// as the check that tells whether the access token is still accepted.
func (c *Client) loadProjectID(ctx context.Context, accessToken string) (string, error) {
	if accessToken == "" {
		return "", ErrUnauthorized
	}

	payload := map[string]any{"metadata": map[string]string{"ideType": "ANTIGRAVITY"}}
	body, err := c.postJSON(ctx, loadCodeAssistPath, accessToken, payload, "loadCodeAssist")
	if err != nil {
		return "", err
	}

	var resp map[string]json.RawMessage
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse loadCodeAssist response: %w", err)
	}

	for _, field := range projectIDFields {
		if id := projectIDFrom(resp[field]); id != "" {
			return id, nil
		}
	}
	return "", fmt.Errorf("loadCodeAssist response has no project id")
}

// projectIDFrom accepts either a plain string or an object carrying "id".
func projectIDFrom(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}

// fetchAvailableModels retrieves the model catalog with quota info.
func (c *Client) fetchAvailableModels(ctx context.Context, accessToken, projectID string) (*fetchModelsResponse, error) {
	body, err := c.postJSON(ctx, fetchModelsPath, accessToken, map[string]string{"project": projectID}, "fetchAvailableModels")
	if err != nil {
		return nil, err
	}

	var modelsResp fetchModelsResponse
	if err := json.Unmarshal(body, &modelsResp); err != nil {
		return nil, fmt.Errorf("failed to parse quota response: %w", err)
	}
	if modelsResp.Models == nil {
		return nil, fmt.Errorf("quota response has no models")
	}
	return &modelsResp, nil
}

type preheatRequest struct {
	Project string         `json:"project"`
	Model   string         `json:"model"`
	Request preheatContent `json:"request"`
}

type preheatContent struct {
	Contents         []preheatMessage `json:"contents"`
	GenerationConfig map[string]int   `json:"generationConfig"`
}

type preheatMessage struct {
	Role  string              `json:"role"`
	Parts []map[string]string `json:"parts"`
}

// generateContent sends the minimal "Hi" prompt for modelID.
func (c *Client) generateContent(ctx context.Context, accessToken, projectID, modelID string) error {
	payload := preheatRequest{
		Project: projectID,
		Model:   modelID,
		Request: preheatContent{
			Contents: []preheatMessage{{
				Role:  "user",
				Parts: []map[string]string{{"text": "Hi"}},
			}},
			GenerationConfig: map[string]int{"maxOutputTokens": 1},
		},
	}
	_, err := c.postJSON(ctx, generateContentPath, accessToken, payload, "generateContent")
	return err
}

// postJSON POSTs payload to a Cloud Code path with bearer auth.
func (c *Client) postJSON(ctx context.Context, path, accessToken string, payload any, endpoint string) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", endpoint, err)
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)
	for k, v := range antigravityHeaders {
		req.Header.Set(k, v)
	}

	return c.do(req, endpoint)
}

// do executes req and returns the body of a 200 response.
func (c *Client) do(req *http.Request, endpoint string) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", endpoint, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Error("failed to close response body", "error", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", endpoint, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("%s: %w", endpoint, ErrUnauthorized)
	case resp.StatusCode != http.StatusOK:
		return nil, &StatusError{Endpoint: endpoint, Code: resp.StatusCode, Body: truncate(string(body), 200)}
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
