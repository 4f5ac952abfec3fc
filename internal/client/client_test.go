package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rackline/scoresync/internal/action"
	"github.com/rackline/scoresync/internal/logging"
)

func newTestClient(baseURL string) *Client {
	return New(&Config{
		BaseURL:      baseURL,
		SessionToken: "tok-123",
		Logger:       logging.Discard(),
	})
}

// TestSend_Success verifies the happy path and the wire body shape.
func TestSend_Success(t *testing.T) {
	var gotPath string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	in := action.NewIntent(action.TypeWinGame, json.RawMessage(`{"match_id":7,"winning_team":1}`))

	if err := c.Send(context.Background(), in); err != nil {
		t.Fatalf("Send() failed: %v", err)
	}

	if gotPath != "/api/manager/win-game" {
		t.Errorf("posted to %s", gotPath)
	}
	if gotBody["match_id"] != float64(7) || gotBody["winning_team"] != float64(1) {
		t.Errorf("payload fields lost: %v", gotBody)
	}
	if gotBody["session_token"] != "tok-123" {
		t.Errorf("session token missing: %v", gotBody)
	}
	if gotBody["idempotency_key"] != in.IdempotencyKey {
		t.Errorf("idempotency key missing or wrong: %v", gotBody)
	}
}

// TestSend_ApplicationRejection verifies {success:false} classifies as a
// rejection carrying the server's reason.
func TestSend_ApplicationRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "Game not found or completed"})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	err := c.Send(context.Background(), action.NewIntent(action.TypePocketBall, json.RawMessage(`{"ball_number":8}`)))

	var rej *RejectionError
	if !errors.As(err, &rej) {
		t.Fatalf("expected RejectionError, got %v", err)
	}
	if rej.Reason != "Game not found or completed" {
		t.Errorf("reason = %q", rej.Reason)
	}
	if !rej.Conflict() {
		t.Error("a not-found rejection should classify as a conflict")
	}
}

// TestSend_PlainRejectionIsNotConflict verifies validation-style rejections
// do not classify as conflicts.
func TestSend_PlainRejectionIsNotConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "Unauthorized"})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	err := c.Send(context.Background(), action.NewIntent(action.TypeResetTable, json.RawMessage(`{"table":1}`)))

	var rej *RejectionError
	if !errors.As(err, &rej) {
		t.Fatalf("expected RejectionError, got %v", err)
	}
	if rej.Conflict() {
		t.Error("an auth rejection should not classify as a conflict")
	}
}

// TestSend_Conflict409 verifies HTTP 409 always classifies as conflict.
func TestSend_Conflict409(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	err := c.Send(context.Background(), action.NewIntent(action.TypeSetGroup, json.RawMessage(`{"group":"solids"}`)))

	var rej *RejectionError
	if !errors.As(err, &rej) || !rej.Conflict() {
		t.Fatalf("expected conflict rejection, got %v", err)
	}
}

// TestSend_TransportFailureIsTransient verifies a dead server classifies
// as transient (retryable).
func TestSend_TransportFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // dead on arrival

	c := newTestClient(srv.URL)
	err := c.Send(context.Background(), action.NewIntent(action.TypeStartMatch, json.RawMessage(`{"match_id":3}`)))

	var transient *TransientError
	if !errors.As(err, &transient) {
		t.Fatalf("expected TransientError, got %v", err)
	}
}

// TestSend_ServerErrorIsTransient verifies 5xx classifies as transient.
func TestSend_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	err := c.Send(context.Background(), action.NewIntent(action.TypeCompleteMatch, json.RawMessage(`{"match_id":3}`)))

	var transient *TransientError
	if !errors.As(err, &transient) {
		t.Fatalf("expected TransientError, got %v", err)
	}
}

// TestSend_UnknownActionBubblesProgrammingError verifies the unmapped-type
// error is neither transient nor a rejection.
func TestSend_UnknownActionBubblesProgrammingError(t *testing.T) {
	c := newTestClient("http://127.0.0.1:0")
	err := c.Send(context.Background(), action.Intent{
		Type:           "made_up",
		Payload:        json.RawMessage(`{}`),
		IdempotencyKey: "k",
	})

	if !errors.Is(err, action.ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction, got %v", err)
	}
	var transient *TransientError
	var rej *RejectionError
	if errors.As(err, &transient) || errors.As(err, &rej) {
		t.Error("programming error should not classify as transient or rejection")
	}
}

// TestSend_RetrySameIdempotencyKey verifies the key is stable across
// resends of the same intent.
func TestSend_RetrySameIdempotencyKey(t *testing.T) {
	var keys []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		keys = append(keys, body["idempotency_key"].(string))
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	in := action.NewIntent(action.TypeSetBreaking, json.RawMessage(`{"team":2}`))

	for i := 0; i < 3; i++ {
		if err := c.Send(context.Background(), in); err != nil {
			t.Fatalf("Send() attempt %d failed: %v", i, err)
		}
	}

	if len(keys) != 3 {
		t.Fatalf("server saw %d requests, want 3", len(keys))
	}
	if keys[0] != keys[1] || keys[1] != keys[2] {
		t.Errorf("idempotency key drifted across resends: %v", keys)
	}
}
