// Package store implements the edge-side HTTP client for the session store
// (§6.3): opening and closing sessions. It satisfies the
// orchestrator.SessionStore interface.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/clearlane/visionpipe/internal/httputil"
	"github.com/clearlane/visionpipe/internal/logging"
)

var log = logging.L("store")

// Client is the HTTP session store client used by the orchestrator to open
// and close sessions.
type Client struct {
	baseURL  string
	deviceID string
	http     *http.Client
	retry    httputil.RetryConfig
}

// New constructs a Client against baseURL for the given device identity.
func New(baseURL, deviceID string) *Client {
	return &Client{
		baseURL:  baseURL,
		deviceID: deviceID,
		http:     &http.Client{Timeout: 10 * time.Second},
		retry:    httputil.DefaultSessionRetryConfig(),
	}
}

type openSessionRequest struct {
	DeviceID          string   `json:"deviceId"`
	StartTs           string   `json:"startTs"`
	ConfiguredClasses []string `json:"configuredClasses,omitempty"`
}

type openSessionResponse struct {
	SessionID string `json:"sessionId"`
}

// OpenSession calls POST /sessions and returns the assigned session_id.
// Retries per DefaultSessionRetryConfig (5 attempts, exponential).
func (c *Client) OpenSession() (string, error) {
	return c.OpenSessionWithClasses(context.Background(), nil)
}

// OpenSessionWithClasses is OpenSession with an explicit context and an
// optional configured-classes hint sent to the store.
func (c *Client) OpenSessionWithClasses(ctx context.Context, classes []string) (string, error) {
	reqBody, err := json.Marshal(openSessionRequest{
		DeviceID:          c.deviceID,
		StartTs:           time.Now().UTC().Format(time.RFC3339Nano),
		ConfiguredClasses: classes,
	})
	if err != nil {
		return "", fmt.Errorf("store: marshal open-session request: %w", err)
	}

	resp, err := httputil.Do(ctx, c.http, http.MethodPost, c.baseURL+"/sessions",
		httputil.BytesBody("application/json", reqBody), nil, c.retry)
	if err != nil {
		return "", fmt.Errorf("store: open session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("store: open session: status %s", resp.Status)
	}

	var out openSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("store: decode open-session response: %w", err)
	}
	if out.SessionID == "" {
		return "", fmt.Errorf("store: open session: empty sessionId in response")
	}
	log.Info("session opened", "session_id", out.SessionID)
	return out.SessionID, nil
}

type closeSessionRequest struct {
	EndTs           string   `json:"endTs"`
	DetectedClasses []string `json:"detectedClasses,omitempty"`
}

// CloseSession calls POST /sessions/{id}/close. Retries per
// DefaultSessionRetryConfig.
func (c *Client) CloseSession(sessionID string) error {
	return c.CloseSessionWithClasses(context.Background(), sessionID, nil)
}

// CloseSessionWithClasses is CloseSession with an explicit context and an
// optional detected-classes summary sent to the store.
func (c *Client) CloseSessionWithClasses(ctx context.Context, sessionID string, classes []string) error {
	reqBody, err := json.Marshal(closeSessionRequest{
		EndTs:           time.Now().UTC().Format(time.RFC3339Nano),
		DetectedClasses: classes,
	})
	if err != nil {
		return fmt.Errorf("store: marshal close-session request: %w", err)
	}

	url := fmt.Sprintf("%s/sessions/%s/close", c.baseURL, sessionID)
	resp, err := httputil.Do(ctx, c.http, http.MethodPost, url,
		httputil.BytesBody("application/json", reqBody), nil, c.retry)
	if err != nil {
		return fmt.Errorf("store: close session %s: %w", sessionID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("store: close session %s: status %s: %s", sessionID, resp.Status, bytes.TrimSpace(body))
	}
	log.Info("session closed", "session_id", sessionID)
	return nil
}
