package types

import "time"

// StatusResponse describes the manager's current state for hosts polling
// the control API or the status command.
type StatusResponse struct {
	Active        bool      `json:"active"`
	FlakePath     string    `json:"flake_path,omitempty"`
	VariableCount int       `json:"variable_count"`
	ActivatedAt   time.Time `json:"activated_at,omitempty"`
	Restored      bool      `json:"restored,omitempty"`
}

type ActivateRequest struct {
	// FlakePath overrides the configured descriptor for this activation.
	FlakePath string `json:"flake_path,omitempty"`
}

type ActivateResponse struct {
	FlakePath     string `json:"flake_path"`
	VariableCount int    `json:"variable_count"`
	DurationMs    int64  `json:"duration_ms"`
}

type SelectRequest struct {
	FlakePath string `json:"flake_path"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// AttemptSummary is one row of resolution history from the diagnostics
// store. The full transcript is fetched separately by attempt ID.
type AttemptSummary struct {
	AttemptID     string    `json:"attempt_id"`
	FlakePath     string    `json:"flake_path"`
	StartedAt     time.Time `json:"started_at"`
	DurationMs    int64     `json:"duration_ms"`
	ExitCode      int       `json:"exit_code"`
	VariableCount int       `json:"variable_count"`
	Outcome       string    `json:"outcome"`
}

// Attempt outcomes recorded in the diagnostics store.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	OutcomeTimeout = "timeout"
	OutcomeSpawn   = "spawn_error"
)

type TranscriptLine struct {
	Seq    int64  `json:"seq"`
	Stream string `json:"stream"`
	Line   string `json:"line"`
}
