package types

import "time"

// Event types published on the broker. Hosts subscribe to these over the
// websocket endpoint; the diagnostics store indexes the transcript ones.
const (
	EventActivated         = "env.activated"
	EventDeactivated       = "env.deactivated"
	EventRestored          = "env.restored"
	EventResolveStarted    = "env.resolve_started"
	EventResolveFailed     = "env.resolve_failed"
	EventTranscriptLine    = "env.transcript_line"
	EventDescriptorChanged = "env.descriptor_changed"
	EventSessionCreated    = "session.created"
	EventSessionInjected   = "session.injected"
	EventArtifactWritten   = "artifact.written"
	EventArtifactSkipped   = "artifact.skipped"
)

// Transcript stream names.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

type Event struct {
	ID        string    `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`

	// AttemptID ties transcript lines to one resolution attempt.
	AttemptID string `json:"attempt_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	Path   string `json:"path,omitempty"`
	Stream string `json:"stream,omitempty"`
	Line   string `json:"line,omitempty"`

	Fields map[string]any `json:"fields,omitempty"`
}
