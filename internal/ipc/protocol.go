// Package ipc lets `soro stop`, `soro cancel`, and `soro status` reach the
// recording that owns the session socket.
package ipc

import "fmt"

// Command names one intent sent to the running session.
type Command string

// Commands understood by a running capture session.
const (
	CommandStatus Command = "status"
	CommandStop   Command = "stop"
	CommandCancel Command = "cancel"
)

// Valid reports whether c is a known command.
func (c Command) Valid() bool {
	switch c {
	case CommandStatus, CommandStop, CommandCancel:
		return true
	default:
		return false
	}
}

// Request is one newline-delimited JSON command sent to the session socket.
type Request struct {
	Command Command `json:"command"`
}

// Status is the owning session as seen over the socket.
type Status struct {
	State          string  `json:"state"`
	SessionID      string  `json:"session_id,omitempty"`
	ElapsedSeconds float64 `json:"elapsed_seconds,omitempty"`
}

// Clock renders the elapsed time as mm:ss.
func (s Status) Clock() string {
	sec := int(s.ElapsedSeconds)
	if sec < 0 {
		sec = 0
	}
	return fmt.Sprintf("%02d:%02d", sec/60, sec%60)
}

// String is the one-line form printed by `soro status`.
func (s Status) String() string {
	if s.State == "" {
		return "idle"
	}
	if s.SessionID == "" {
		return s.State
	}
	if s.State == "listening" {
		return fmt.Sprintf("%s %s (session %s)", s.State, s.Clock(), s.SessionID)
	}
	return fmt.Sprintf("%s (session %s)", s.State, s.SessionID)
}

// Response reports the session status after handling a Request. Refused
// intents carry OK=false and the reason in Error.
type Response struct {
	OK bool `json:"ok"`
	Status
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}
