// Package session is the remote-client connection layer: the subscriber set,
// the websocket server, and the client the CLI uses to talk to it.
package session

import (
	"encoding/json"
	"time"

	"github.com/drewfead/deckhand/internal/discord"
	"github.com/drewfead/deckhand/internal/helper"
	"github.com/drewfead/deckhand/internal/scheduler"
)

// Message types on the wire.
const (
	TypeLiveData     = scheduler.MessageTypeLiveData
	TypeActionResult = "action_result"
	TypeError        = "error"
	TypeHello        = "hello"
)

// Command is an inbound action request. ID is optional and echoed on the
// result.
type Command struct {
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params,omitempty"`
	ID     string          `json:"id,omitempty"`
}

// ActionResult is sent only to the session that issued the command.
type ActionResult struct {
	Type       string `json:"type"`
	ID         string `json:"id,omitempty"`
	Success    bool   `json:"success"`
	ActionType string `json:"actionType"`
	Error      string `json:"error,omitempty"`
}

// ErrorMessage reports an inbound message that could not be read.
type ErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// Hello is the first message on every session.
type Hello struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Profile   string `json:"profile,omitempty"`
}

// Envelope is the loosely typed form of any outbound message, used by clients.
type Envelope struct {
	Type       string          `json:"type"`
	ID         string          `json:"id,omitempty"`
	Source     string          `json:"source,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Success    bool            `json:"success,omitempty"`
	ActionType string          `json:"actionType,omitempty"`
	Error      string          `json:"error,omitempty"`
	SessionID  string          `json:"sessionId,omitempty"`
}

// Info describes one connected session.
type Info struct {
	ID          string    `json:"id"`
	Remote      string    `json:"remote"`
	ConnectedAt time.Time `json:"connected_at"`
	Dropped     int64     `json:"dropped"`
}

// StatusReport is served at /api/status.
type StatusReport struct {
	Version     string                   `json:"version,omitempty"`
	StartedAt   time.Time                `json:"started_at"`
	Platform    string                   `json:"platform"`
	Profile     string                   `json:"profile"`
	Sources     []string                 `json:"sources"`
	Subscribers int                      `json:"subscribers"`
	Sessions    []Info                   `json:"sessions"`
	Pollers     []scheduler.PollerStatus `json:"pollers"`
	Helpers     []helper.Status          `json:"helpers,omitempty"`
	Discord     *discord.Status          `json:"discord,omitempty"`
	Actions     []string                 `json:"actions"`
}
