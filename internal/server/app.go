// Package server exposes the manager over a local HTTP control API for
// hosts that prefer RPC over shelling out: status, activate, deactivate,
// select, diagnostics, and an event stream.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/flakenv/flakenv/internal/config"
	"github.com/flakenv/flakenv/internal/diag"
	"github.com/flakenv/flakenv/internal/discover"
	"github.com/flakenv/flakenv/internal/envstate"
	"github.com/flakenv/flakenv/internal/nix"
	"github.com/flakenv/flakenv/pkg/types"
)

type App struct {
	cfg     *config.Config
	manager *envstate.Manager
	diag    *diag.Store // optional
	logger  *slog.Logger
}

func NewApp(cfg *config.Config, manager *envstate.Manager, diagStore *diag.Store, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{cfg: cfg, manager: manager, diag: diagStore, logger: logger}
}

func (a *App) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { writeText(w, http.StatusOK, "ok\n") })

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", a.getStatus)
		r.Post("/activate", a.postActivate)
		r.Post("/deactivate", a.postDeactivate)
		r.Post("/select", a.postSelect)
		r.Get("/candidates", a.getCandidates)
		r.Get("/diagnostics", a.getDiagnostics)
		r.Get("/diagnostics/{id}", a.getTranscript)
		r.Get("/events", a.streamEvents)
	})

	return r
}

func (a *App) getStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.manager.Status())
}

func (a *App) postActivate(w http.ResponseWriter, r *http.Request) {
	var req types.ActivateRequest
	if r.ContentLength != 0 {
		if !decodeJSON(w, r, &req) {
			return
		}
	}
	flakePath := req.FlakePath
	if flakePath == "" {
		flakePath = a.cfg.FlakePath()
	}
	if flakePath == "" {
		writeError(w, http.StatusBadRequest, "no flake path configured or provided", "no_descriptor")
		return
	}

	started := time.Now()
	vars, err := a.manager.Activate(r.Context(), flakePath)
	if err != nil {
		status, code := classify(err)
		writeError(w, status, err.Error(), code)
		return
	}
	writeJSON(w, http.StatusOK, types.ActivateResponse{
		FlakePath:     flakePath,
		VariableCount: len(vars),
		DurationMs:    time.Since(started).Milliseconds(),
	})
}

func (a *App) postDeactivate(w http.ResponseWriter, r *http.Request) {
	if err := a.manager.Deactivate(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "deactivate_failed")
		return
	}
	writeJSON(w, http.StatusOK, a.manager.Status())
}

// postSelect validates and records a new descriptor without resolving
// it. The next activate picks it up.
func (a *App) postSelect(w http.ResponseWriter, r *http.Request) {
	var req types.SelectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.FlakePath == "" {
		writeError(w, http.StatusBadRequest, "flake_path is required", "no_descriptor")
		return
	}
	if err := a.cfg.SelectFlake(req.FlakePath); err != nil {
		status, code := classify(err)
		writeError(w, status, err.Error(), code)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"flake_path": a.cfg.FlakePath()})
}

func (a *App) getCandidates(w http.ResponseWriter, r *http.Request) {
	candidates, err := discover.Candidates(a.cfg.Workspace)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "discovery_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"candidates": candidates})
}

func (a *App) getDiagnostics(w http.ResponseWriter, r *http.Request) {
	if a.diag == nil {
		writeError(w, http.StatusServiceUnavailable, "diagnostics store not configured", "no_diagnostics")
		return
	}
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	attempts, err := a.diag.RecentAttempts(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "diagnostics_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": attempts})
}

func (a *App) getTranscript(w http.ResponseWriter, r *http.Request) {
	if a.diag == nil {
		writeError(w, http.StatusServiceUnavailable, "diagnostics store not configured", "no_diagnostics")
		return
	}
	id := chi.URLParam(r, "id")
	lines, err := a.diag.Transcript(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "diagnostics_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempt_id": id, "lines": lines})
}

func classify(err error) (status int, code string) {
	var (
		vErr   *envstate.ValidationError
		resErr *nix.ResolutionError
		toErr  *nix.TimeoutError
	)
	switch {
	case errors.As(err, &vErr):
		return http.StatusBadRequest, "validation_failed"
	case errors.Is(err, envstate.ErrToolUnavailable):
		return http.StatusServiceUnavailable, "tool_unavailable"
	case errors.Is(err, envstate.ErrActivationInFlight):
		return http.StatusConflict, "activation_in_flight"
	case errors.Is(err, envstate.ErrAlreadyActive):
		return http.StatusConflict, "already_active"
	case errors.As(err, &toErr):
		return http.StatusGatewayTimeout, "timeout"
	case errors.As(err, &resErr):
		return http.StatusUnprocessableEntity, "resolution_failed"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, status int, s string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(s))
}

func writeError(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, types.ErrorResponse{Error: msg, Code: code})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json", "bad_request")
		return false
	}
	return true
}
