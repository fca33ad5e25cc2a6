// Package transport owns the websocket subscription to the control
// plane's job-dispatch stream.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/coder/websocket"
)

// Envelope is one dispatch message: either a job assignment or a
// keepalive/control frame. Payload carries the raw job JSON for the
// caller (internal/dispatch) to decode against its own job-spec shape.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Transient wraps a recoverable transport error (closed, refused,
// protocol error) that the Reconnect Supervisor should retry.
type Transient struct{ Cause error }

func (e *Transient) Error() string { return fmt.Sprintf("transport: %v", e.Cause) }
func (e *Transient) Unwrap() error { return e.Cause }

// Fatal wraps an unrecoverable transport error (invalid URL) that should
// terminate the supervisor.
type Fatal struct{ Cause error }

func (e *Fatal) Error() string { return fmt.Sprintf("transport: %v", e.Cause) }
func (e *Fatal) Unwrap() error { return e.Cause }

// Transport is one live websocket session to the dispatch endpoint.
type Transport struct {
	conn *websocket.Conn
}

// Dial opens a new session against apiURL's job-dispatch endpoint,
// authenticating with the agent's token header.
func Dial(ctx context.Context, apiURL, agentToken string) (*Transport, error) {
	wsURL, err := dispatchURL(apiURL)
	if err != nil {
		return nil, &Fatal{Cause: err}
	}

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: map[string][]string{
			"datatorch-agent-token": {agentToken},
		},
	})
	if err != nil {
		return nil, &Transient{Cause: err}
	}
	return &Transport{conn: conn}, nil
}

// dispatchURL rewrites an http(s) API URL to its ws(s) dispatch endpoint,
// the way the source rewrites its GraphQL subscription URL.
func dispatchURL(apiURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(apiURL, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid API URL %q: %w", apiURL, err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("invalid API URL scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/agent/dispatch"
	return u.String(), nil
}

// Recv blocks for the next dispatch envelope.
func (t *Transport) Recv(ctx context.Context) (Envelope, error) {
	_, data, err := t.conn.Read(ctx)
	if err != nil {
		return Envelope{}, &Transient{Cause: err}
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, &Transient{Cause: fmt.Errorf("invalid dispatch message: %w", err)}
	}
	return env, nil
}

// Close closes the session idempotently; repeated calls after the first
// are no-ops, matching the supervisor's "close is idempotent" contract.
func (t *Transport) Close() error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close(websocket.StatusNormalClosure, "agent shutting down")
	t.conn = nil
	if err != nil && !isAlreadyClosed(err) {
		return err
	}
	return nil
}

func isAlreadyClosed(err error) bool {
	return strings.Contains(err.Error(), "already wrote close")
}
