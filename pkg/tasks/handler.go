package tasks

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/aidenforge/controlplane/internal/httpserver"
)

// Handler exposes task status lookups for polling clients.
type Handler struct {
	store  *Store
	logger *slog.Logger
}

// NewHandler creates a task Handler.
func NewHandler(store *Store, logger *slog.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

// Routes returns a chi.Router with all task routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/start-agent", h.handleStartAgentStatus)
	r.Get("/{id}", h.handleGet)
	return r
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	taskID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid task ID")
		return
	}

	status, err := h.store.GetStatus(r.Context(), taskID)
	if err != nil {
		h.logger.Error("getting task status", "error", err, "task_id", taskID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to get task status")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{"task_id": taskID, "status": status})
}

// handleStartAgentStatus looks up the most recent AgentStart task matching
// the given agent_id and/or runtime_id query parameters, rather than a task
// id — useful for a client that submitted a start and only has one or both
// of the pair.
func (h *Handler) handleStartAgentStatus(w http.ResponseWriter, r *http.Request) {
	agentParam := r.URL.Query().Get("agent_id")
	runtimeParam := r.URL.Query().Get("runtime_id")

	var agentID, runtimeID uuid.UUID
	var haveAgent, haveRuntime bool
	var err error

	if agentParam != "" {
		if agentID, err = uuid.Parse(agentParam); err != nil {
			httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid agent_id")
			return
		}
		haveAgent = true
	}
	if runtimeParam != "" {
		if runtimeID, err = uuid.Parse(runtimeParam); err != nil {
			httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid runtime_id")
			return
		}
		haveRuntime = true
	}
	if !haveAgent && !haveRuntime {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "at least one of agent_id or runtime_id is required")
		return
	}

	var status Status
	var found bool
	switch {
	case haveAgent && haveRuntime:
		status, found, err = h.store.LatestStatusByKindAgentAndRuntime(r.Context(), KindAgentStart, agentID, runtimeID)
	case haveAgent:
		status, found, err = h.store.LatestStatusByKindAndAgent(r.Context(), KindAgentStart, agentID)
	default:
		status, found, err = h.store.LatestStatusByKindAndRuntime(r.Context(), KindAgentStart, runtimeID)
	}
	if err != nil {
		h.logger.Error("getting agent start status", "error", err, "agent_id", agentParam, "runtime_id", runtimeParam)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to get task status")
		return
	}
	if !found {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "no matching start-agent task found")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{"status": status})
}
