package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Trueflutter/moltworker/pkg/sandbox"
)

// Handlers contains the introspection HTTP handlers: process listing, log
// retrieval, and ad-hoc command execution inside the sandbox.
type Handlers struct {
	supervisor *sandbox.Supervisor
	logger     *slog.Logger

	// Poll policy for ad-hoc exec waits.
	pollInterval time.Duration
	maxAttempts  int
}

// NewHandlers creates a new handlers instance.
func NewHandlers(supervisor *sandbox.Supervisor, pollInterval time.Duration, maxAttempts int, logger *slog.Logger) *Handlers {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if maxAttempts <= 0 {
		maxAttempts = 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		supervisor:   supervisor,
		logger:       logger,
		pollInterval: pollInterval,
		maxAttempts:  maxAttempts,
	}
}

// HandleHealth handles health check requests.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.json(w, map[string]string{"status": "healthy"})
}

// HandleProcesses handles GET /processes.
func (h *Handlers) HandleProcesses(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w)
		return
	}

	procs, err := h.supervisor.List(r.Context())
	if err != nil {
		h.error(w, err, http.StatusInternalServerError)
		return
	}

	// The supervisor makes no ordering promise; sort here for stable
	// presentation.
	sort.Slice(procs, func(i, j int) bool {
		return procs[i].StartedAt.Before(procs[j].StartedAt)
	})
	if procs == nil {
		procs = []*sandbox.Process{}
	}

	h.json(w, ListProcessesResponse{Processes: procs})
}

// HandleProcess handles /processes/{id} and /processes/{id}/logs.
func (h *Handlers) HandleProcess(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/processes/")
	parts := strings.Split(path, "/")

	if len(parts) < 1 || parts[0] == "" {
		h.notFound(w)
		return
	}
	id := parts[0]

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			h.methodNotAllowed(w)
			return
		}
		h.getProcess(w, r, id)
	case len(parts) == 2 && parts[1] == "logs":
		if r.Method != http.MethodGet {
			h.methodNotAllowed(w)
			return
		}
		h.getLogs(w, r, id)
	default:
		h.notFound(w)
	}
}

// HandleExec handles POST /exec: start a command, wait for it to settle
// within the configured bound, and return its state plus captured output.
func (h *Handlers) HandleExec(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.methodNotAllowed(w)
		return
	}

	var req ExecRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.error(w, err, http.StatusBadRequest)
		return
	}
	if len(req.Command) == 0 {
		h.errorMessage(w, "command is required", http.StatusBadRequest)
		return
	}

	p, err := h.supervisor.Start(r.Context(), req.Command, sandbox.StartOptions{})
	if err != nil {
		h.error(w, err, http.StatusInternalServerError)
		return
	}

	settled, err := h.supervisor.AwaitSettled(r.Context(), p.ID, h.pollInterval, h.maxAttempts)
	if err != nil {
		h.error(w, err, http.StatusInternalServerError)
		return
	}

	logs, err := h.supervisor.Logs(r.Context(), settled.ID)
	if err != nil {
		// Unretrievable logs read as empty.
		logs = sandbox.Logs{}
	}

	h.json(w, ExecResponse{Process: settled, Stdout: logs.Stdout, Stderr: logs.Stderr})
}

func (h *Handlers) getProcess(w http.ResponseWriter, r *http.Request, id string) {
	p, err := h.supervisor.Status(r.Context(), id)
	if err != nil {
		if sandbox.IsNotFound(err) {
			h.error(w, err, http.StatusNotFound)
			return
		}
		h.error(w, err, http.StatusInternalServerError)
		return
	}
	h.json(w, p)
}

func (h *Handlers) getLogs(w http.ResponseWriter, r *http.Request, id string) {
	logs, err := h.supervisor.Logs(r.Context(), id)
	if err != nil {
		if sandbox.IsNotFound(err) {
			h.error(w, err, http.StatusNotFound)
			return
		}
		if sandbox.IsLogsUnavailable(err) {
			// Empty logs, not an error.
			h.json(w, LogsResponse{})
			return
		}
		h.error(w, err, http.StatusInternalServerError)
		return
	}
	h.json(w, LogsResponse{Stdout: logs.Stdout, Stderr: logs.Stderr})
}

func (h *Handlers) json(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) error(w http.ResponseWriter, err error, status int) {
	h.errorMessage(w, err.Error(), status)
}

func (h *Handlers) errorMessage(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(ErrorResponse{Error: message}); err != nil {
		h.logger.Error("failed to encode error response", "error", err)
	}
}

func (h *Handlers) notFound(w http.ResponseWriter) {
	h.errorMessage(w, "not found", http.StatusNotFound)
}

func (h *Handlers) methodNotAllowed(w http.ResponseWriter) {
	h.errorMessage(w, "method not allowed", http.StatusMethodNotAllowed)
}
