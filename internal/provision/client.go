// Package provision creates users and sessions on the backend before
// recording starts.
package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/internal/logger"
)

var log = logger.Module("Provision")

// SessionInfo is the metadata sent when a session is created.
type SessionInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type sessionRequest struct {
	Session SessionInfo `json:"session"`
	UIDs    []string    `json:"uids,omitempty"`
}

type userRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Client talks to the provisioning endpoints of the backend.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a client for the backend at baseURL.
func New(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// CreateSession registers a session and returns the server issued id.
// uids optionally lists the users taking part.
func (c *Client) CreateSession(ctx context.Context, name, description string, uids ...string) (string, error) {
	var out struct {
		SID string `json:"sid"`
	}
	req := sessionRequest{Session: SessionInfo{Name: name, Description: description}, UIDs: uids}
	if err := c.post(ctx, "/data/session/init", req, &out); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	if out.SID == "" {
		return "", fmt.Errorf("create session: response has no sid")
	}
	log.Info("Session %q created: %s", name, out.SID)
	return out.SID, nil
}

// CreateUser registers a user and returns its id.
func (c *Client) CreateUser(ctx context.Context, firstName, lastName string) (string, error) {
	var out struct {
		UID string `json:"uid"`
	}
	if err := c.post(ctx, "/data/user/init", userRequest{FirstName: firstName, LastName: lastName}, &out); err != nil {
		return "", fmt.Errorf("create user: %w", err)
	}
	if out.UID == "" {
		return "", fmt.Errorf("create user: response has no uid")
	}
	return out.UID, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
