package agent

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aidenforge/controlplane/internal/audit"
	"github.com/aidenforge/controlplane/internal/auth"
	"github.com/aidenforge/controlplane/internal/httpserver"
	"github.com/aidenforge/controlplane/pkg/ctlerrors"
	"github.com/aidenforge/controlplane/pkg/lifecycle"
)

// Handler provides HTTP handlers for the agents API. Agent routes are
// owner-or-admin scoped: a plain user only ever sees their own agents.
type Handler struct {
	agents    *Store
	lifecycle *lifecycle.Service
	logger    *slog.Logger
	audit     *audit.Writer
}

// NewHandler creates an agent Handler.
func NewHandler(agents *Store, lifecycle *lifecycle.Service, logger *slog.Logger, audit *audit.Writer) *Handler {
	return &Handler{agents: agents, lifecycle: lifecycle, logger: logger, audit: audit}
}

// Routes returns a chi.Router with all agent routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Patch("/", h.handleUpdate)
		r.Delete("/", h.handleDelete)
		r.Post("/start", h.handleStart)
		r.Post("/start/{runtime_id}", h.handleStartOnRuntime)
		r.Post("/stop", h.handleStop)
	})
	return r
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	if id == nil || id.UserID == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing authentication")
		return
	}

	var req CreateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	a, err := h.lifecycle.CreateAgent(r.Context(), *id.UserID, id.IsAdmin(), req.CharacterJSON, req.EnvBundle)
	if err != nil {
		status, code := ctlerrors.HTTPStatus(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("creating agent", "error", err)
		}
		httpserver.RespondError(w, status, code, err.Error())
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "create", "agent", a.ID, nil)
	}

	httpserver.Respond(w, http.StatusCreated, a.ToResponse())
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	if id == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing authentication")
		return
	}

	var ownerFilter *uuid.UUID
	if !id.IsAdmin() {
		ownerFilter = id.UserID
	}

	items, err := h.agents.List(r.Context(), ownerFilter)
	if err != nil {
		h.logger.Error("listing agents", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list agents")
		return
	}

	out := make([]Response, 0, len(items))
	for _, a := range items {
		out = append(out, a.ToResponse())
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"agents": out, "count": len(out)})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	a, ok := h.loadOwned(w, r)
	if !ok {
		return
	}
	httpserver.Respond(w, http.StatusOK, a.ToResponse())
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	a, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	var req UpdateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	updated, err := h.agents.Update(r.Context(), a.ID, req.CharacterJSON, req.EnvBundle)
	if err != nil {
		h.logger.Error("updating agent", "error", err, "id", a.ID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to update agent")
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "update", "agent", updated.ID, nil)
	}

	httpserver.Respond(w, http.StatusOK, updated.ToResponse())
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	a, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	if a.Bound() {
		if err := h.lifecycle.StopAgent(r.Context(), a.ID); err != nil {
			h.logger.Error("stopping agent before delete", "error", err, "id", a.ID)
			httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to stop agent")
			return
		}
	}

	if err := h.agents.Delete(r.Context(), a.ID); err != nil {
		h.logger.Error("deleting agent", "error", err, "id", a.ID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to delete agent")
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "delete", "agent", a.ID, nil)
	}

	httpserver.Respond(w, http.StatusNoContent, nil)
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	a, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	if inFlight, err := h.lifecycle.AgentStartInFlight(r.Context(), a.ID); err != nil {
		h.logger.Error("checking agent start in flight", "error", err, "id", a.ID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to check agent state")
		return
	} else if inFlight {
		httpserver.RespondError(w, http.StatusConflict, "conflict", "an agent start task is already in flight")
		return
	}

	taskID, err := h.lifecycle.StartAgentFromPool(r.Context(), a.ID)
	if err != nil {
		status, code := ctlerrors.HTTPStatus(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("starting agent from pool", "error", err, "id", a.ID)
		}
		httpserver.RespondError(w, status, code, err.Error())
		return
	}

	if h.audit != nil {
		detail, _ := json.Marshal(map[string]string{"task_id": taskID.String()})
		h.audit.LogFromRequest(r, "start", "agent", a.ID, detail)
	}

	httpserver.Respond(w, http.StatusAccepted, map[string]any{"task_id": taskID})
}

func (h *Handler) handleStartOnRuntime(w http.ResponseWriter, r *http.Request) {
	a, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	runtimeID, err := uuid.Parse(chi.URLParam(r, "runtime_id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid runtime ID")
		return
	}

	if inFlight, err := h.lifecycle.AgentStartInFlight(r.Context(), a.ID); err != nil {
		h.logger.Error("checking agent start in flight", "error", err, "id", a.ID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to check agent state")
		return
	} else if inFlight {
		httpserver.RespondError(w, http.StatusConflict, "conflict", "an agent start task is already in flight")
		return
	}

	if inFlight, err := h.lifecycle.RuntimeLifecycleInFlight(r.Context(), runtimeID); err != nil {
		h.logger.Error("checking runtime lifecycle in flight", "error", err, "id", runtimeID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to check runtime state")
		return
	} else if inFlight {
		httpserver.RespondError(w, http.StatusConflict, "conflict", "the target runtime has a lifecycle task in flight")
		return
	}

	taskID, err := h.lifecycle.StartAgent(r.Context(), a.ID, runtimeID)
	if err != nil {
		h.logger.Error("starting agent", "error", err, "id", a.ID, "runtime_id", runtimeID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to start agent")
		return
	}

	if h.audit != nil {
		detail, _ := json.Marshal(map[string]string{"task_id": taskID.String(), "runtime_id": runtimeID.String()})
		h.audit.LogFromRequest(r, "start", "agent", a.ID, detail)
	}

	httpserver.Respond(w, http.StatusAccepted, map[string]any{"task_id": taskID})
}

func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	a, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	if err := h.lifecycle.StopAgent(r.Context(), a.ID); err != nil {
		status, code := ctlerrors.HTTPStatus(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("stopping agent", "error", err, "id", a.ID)
		}
		httpserver.RespondError(w, status, code, err.Error())
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "stop", "agent", a.ID, nil)
	}

	updated, err := h.agents.Get(r.Context(), a.ID)
	if err != nil {
		h.logger.Error("reloading agent after stop", "error", err, "id", a.ID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to load agent after stop")
		return
	}

	httpserver.Respond(w, http.StatusOK, updated.ToResponse())
}

// loadOwned loads the agent named by the {id} URL param and enforces that
// the caller owns it or is an admin. On failure it writes the response
// itself and returns ok=false.
func (h *Handler) loadOwned(w http.ResponseWriter, r *http.Request) (*Agent, bool) {
	id := auth.FromContext(r.Context())
	if id == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing authentication")
		return nil, false
	}

	agentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid agent ID")
		return nil, false
	}

	a, err := h.agents.Get(r.Context(), agentID)
	if err != nil {
		var notFound *ctlerrors.NotFoundError
		if errors.As(err, &notFound) || errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "agent not found")
			return nil, false
		}
		h.logger.Error("loading agent", "error", err, "id", agentID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to load agent")
		return nil, false
	}

	if !id.Owns(a.OwnerID) {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "you do not own this agent")
		return nil, false
	}

	return a, true
}
