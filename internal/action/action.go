// Package action defines the mutation intents a score client can produce
// and their mapping to the authoritative server's manager endpoints.
//
// Every intent carries an opaque JSON payload (forwarded verbatim to the
// server) plus a client-generated idempotency key. The server deduplicates
// retried deliveries by that key, which is what makes replay after an
// ambiguous transport failure safe.
package action

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type identifies one kind of mutation intent.
type Type string

const (
	TypePocketBall     Type = "pocket_ball"
	TypeWinGame        Type = "win_game"
	TypeSetGroup       Type = "set_group"
	TypeSetBreaking    Type = "set_breaking_team"
	TypeSetGoldenBreak Type = "set_golden_break"
	TypeSetEarly8Ball  Type = "set_early_8ball"
	TypeResetTable     Type = "reset_table"
	TypeStartMatch     Type = "start_match"
	TypeCompleteMatch  Type = "complete_match"
)

// ErrUnknownAction is returned when a type has no endpoint mapping.
// Encountering this during a drain is a programming error: the item is
// dropped without retry because no retry can ever succeed.
var ErrUnknownAction = fmt.Errorf("unknown action type")

// endpoints maps each action type to its manager API path.
// All mutation endpoints are POST with a JSON body.
var endpoints = map[Type]string{
	TypePocketBall:     "/api/manager/pocket-ball",
	TypeWinGame:        "/api/manager/win-game",
	TypeSetGroup:       "/api/manager/set-group",
	TypeSetBreaking:    "/api/manager/set-breaking-team",
	TypeSetGoldenBreak: "/api/manager/set-golden-break",
	TypeSetEarly8Ball:  "/api/manager/set-early-8ball",
	TypeResetTable:     "/api/manager/reset-table",
	TypeStartMatch:     "/api/manager/start-match",
	TypeCompleteMatch:  "/api/manager/complete-match",
}

// Endpoint returns the manager API path for the given action type.
func Endpoint(t Type) (string, error) {
	path, ok := endpoints[t]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, t)
	}
	return path, nil
}

// Known reports whether t has an endpoint mapping.
func Known(t Type) bool {
	_, ok := endpoints[t]
	return ok
}

// Types returns all mapped action types. Order is unspecified.
func Types() []Type {
	out := make([]Type, 0, len(endpoints))
	for t := range endpoints {
		out = append(out, t)
	}
	return out
}

// Intent is a mutation the user performed locally, bound for the server.
//
// Payload is opaque to the sync layer: it is produced by the rules engine
// and forwarded to the endpoint unmodified (the client adds session_token
// and idempotency_key on the wire).
type Intent struct {
	Type           Type            `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotency_key"`
	CreatedAt      time.Time       `json:"created_at"`
}

// NewIntent builds an Intent with a fresh idempotency key.
func NewIntent(t Type, payload json.RawMessage) Intent {
	return Intent{
		Type:           t,
		Payload:        payload,
		IdempotencyKey: uuid.NewString(),
		CreatedAt:      time.Now().UTC(),
	}
}

// Validate checks that the intent can be delivered.
func (in Intent) Validate() error {
	if !Known(in.Type) {
		return fmt.Errorf("%w: %q", ErrUnknownAction, in.Type)
	}
	if len(in.Payload) == 0 {
		return fmt.Errorf("payload is required")
	}
	if !json.Valid(in.Payload) {
		return fmt.Errorf("payload is not valid JSON")
	}
	if in.IdempotencyKey == "" {
		return fmt.Errorf("idempotency key is required")
	}
	return nil
}
