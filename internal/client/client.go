// Package client delivers mutation intents to the authoritative server's
// manager endpoints.
//
// Every delivery is a POST of a flat JSON object: the intent's payload
// fields plus session_token and idempotency_key. The server answers a
// {success, error} envelope; its verdict is final. Failures are classified
// so the sync engine can tell a retryable transport problem from a
// rejection it must surface as a conflict.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rackline/scoresync/internal/action"
)

// Config holds configuration for the API client.
type Config struct {
	// BaseURL is the origin of the authoritative server.
	BaseURL string

	// SessionToken is the opaque identity token forwarded on every
	// mutation. Validation is entirely the server's business.
	SessionToken string

	// Timeout bounds one request. Default 15s.
	Timeout time.Duration

	// Logger for request activity.
	Logger *log.Logger
}

// Client sends mutations over HTTP.
type Client struct {
	config *Config
	http   *http.Client
}

// New creates an API client. If config.Logger is nil, a default logger
// writing to stderr is used.
func New(config *Config) *Client {
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[client] ", log.LstdFlags)
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	return &Client{
		config: config,
		http:   &http.Client{Timeout: config.Timeout},
	}
}

// envelope is the server's standard mutation response.
type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// TransientError marks a failure worth retrying: the request never produced
// a server verdict, so the mutation may or may not have been applied. The
// idempotency key makes the resend safe.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient delivery failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// RejectionError is the server explicitly refusing the mutation. No retry
// will change the verdict.
type RejectionError struct {
	Status int
	Reason string
}

func (e *RejectionError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("server rejected mutation (HTTP %d)", e.Status)
	}
	return fmt.Sprintf("server rejected mutation: %s", e.Reason)
}

// conflictPhrases are the state-mismatch wordings the original server uses
// when the client's assumed state has drifted from server truth.
var conflictPhrases = []string{
	"conflict",
	"mismatch",
	"not found",
	"already",
	"completed",
	"stale",
}

// Conflict reports whether the rejection looks like a state mismatch
// rather than a plain validation failure.
func (e *RejectionError) Conflict() bool {
	if e.Status == http.StatusConflict {
		return true
	}
	reason := strings.ToLower(e.Reason)
	for _, phrase := range conflictPhrases {
		if strings.Contains(reason, phrase) {
			return true
		}
	}
	return false
}

// Send delivers one intent. A nil return means the server confirmed the
// mutation. Otherwise the error is a *TransientError or *RejectionError.
func (c *Client) Send(ctx context.Context, in action.Intent) error {
	path, err := action.Endpoint(in.Type)
	if err != nil {
		// Programming error, not a delivery failure; bubble up unwrapped
		// so the engine can drop the item without retry.
		return err
	}

	body, err := c.buildBody(in)
	if err != nil {
		return fmt.Errorf("failed to build request body for %s: %w", in.Type, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", in.Type, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransientError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &TransientError{Err: err}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		// A 2xx we cannot parse is ambiguous; treat as transient so the
		// retry (deduplicated server-side) settles it.
		return &TransientError{Err: fmt.Errorf("unparseable response: %w", err)}
	}

	if resp.StatusCode >= 500 {
		return &TransientError{Err: fmt.Errorf("server error (HTTP %d)", resp.StatusCode)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &RejectionError{Status: resp.StatusCode, Reason: env.Error}
	}
	if !env.Success {
		return &RejectionError{Status: resp.StatusCode, Reason: env.Error}
	}
	return nil
}

// buildBody flattens the intent payload and adds the transport fields.
func (c *Client) buildBody(in action.Intent) ([]byte, error) {
	fields := make(map[string]any)
	if err := json.Unmarshal(in.Payload, &fields); err != nil {
		return nil, fmt.Errorf("payload is not a JSON object: %w", err)
	}
	fields["session_token"] = c.config.SessionToken
	fields["idempotency_key"] = in.IdempotencyKey
	return json.Marshal(fields)
}
