package runtime

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aidenforge/controlplane/internal/audit"
	"github.com/aidenforge/controlplane/internal/httpserver"
	"github.com/aidenforge/controlplane/pkg/ctlerrors"
	"github.com/aidenforge/controlplane/pkg/lifecycle"
)

// Handler provides HTTP handlers for the runtimes API. Every route here is
// mounted behind RequireRole(RoleAdmin) by the caller — runtime provisioning
// is a fleet-operator surface, never exposed to plain users directly.
type Handler struct {
	runtimes  *Store
	lifecycle *lifecycle.Service
	logger    *slog.Logger
	audit     *audit.Writer
}

// NewHandler creates a runtime Handler.
func NewHandler(runtimes *Store, lifecycle *lifecycle.Service, logger *slog.Logger, audit *audit.Writer) *Handler {
	return &Handler{runtimes: runtimes, lifecycle: lifecycle, logger: logger, audit: audit}
}

// Routes returns a chi.Router with all runtime routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Patch("/", h.handleUpdate)
		r.Delete("/", h.handleDelete)
	})
	return r
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	taskID, runtimeID, err := h.lifecycle.CreateRuntime(r.Context())
	if err != nil {
		h.logger.Error("creating runtime", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to create runtime")
		return
	}

	if h.audit != nil {
		detail, _ := json.Marshal(map[string]string{"task_id": taskID.String()})
		h.audit.LogFromRequest(r, "create", "runtime", runtimeID, detail)
	}

	httpserver.Respond(w, http.StatusAccepted, map[string]any{"task_id": taskID, "runtime_id": runtimeID})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	unusedOnly := r.URL.Query().Get("unused") == "true"

	items, err := h.runtimes.List(r.Context(), unusedOnly)
	if err != nil {
		h.logger.Error("listing runtimes", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list runtimes")
		return
	}

	out := make([]Response, 0, len(items))
	for _, rt := range items {
		out = append(out, rt.ToResponse())
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"runtimes": out, "count": len(out)})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	rt, ok := h.load(w, r)
	if !ok {
		return
	}
	httpserver.Respond(w, http.StatusOK, rt.ToResponse())
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	rt, ok := h.load(w, r)
	if !ok {
		return
	}

	if inFlight, err := h.lifecycle.RuntimeLifecycleInFlight(r.Context(), rt.ID); err != nil {
		h.logger.Error("checking runtime lifecycle in flight", "error", err, "id", rt.ID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to check runtime state")
		return
	} else if inFlight {
		httpserver.RespondError(w, http.StatusConflict, "conflict", "a lifecycle task is already in flight for this runtime")
		return
	}

	taskID, err := h.lifecycle.UpdateRuntime(r.Context(), rt.ID)
	if err != nil {
		h.logger.Error("updating runtime", "error", err, "id", rt.ID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to update runtime")
		return
	}

	if h.audit != nil {
		detail, _ := json.Marshal(map[string]string{"task_id": taskID.String()})
		h.audit.LogFromRequest(r, "update", "runtime", rt.ID, detail)
	}

	httpserver.Respond(w, http.StatusAccepted, map[string]any{"task_id": taskID})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	rt, ok := h.load(w, r)
	if !ok {
		return
	}

	if inFlight, err := h.lifecycle.RuntimeLifecycleInFlight(r.Context(), rt.ID); err != nil {
		h.logger.Error("checking runtime lifecycle in flight", "error", err, "id", rt.ID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to check runtime state")
		return
	} else if inFlight {
		httpserver.RespondError(w, http.StatusConflict, "conflict", "a lifecycle task is already in flight for this runtime")
		return
	}

	taskID, err := h.lifecycle.DeleteRuntime(r.Context(), rt.ID)
	if err != nil {
		h.logger.Error("deleting runtime", "error", err, "id", rt.ID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to delete runtime")
		return
	}

	if h.audit != nil {
		detail, _ := json.Marshal(map[string]string{"task_id": taskID.String()})
		h.audit.LogFromRequest(r, "delete", "runtime", rt.ID, detail)
	}

	httpserver.Respond(w, http.StatusAccepted, map[string]any{"task_id": taskID})
}

func (h *Handler) load(w http.ResponseWriter, r *http.Request) (*Runtime, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid runtime ID")
		return nil, false
	}

	rt, err := h.runtimes.Get(r.Context(), id)
	if err != nil {
		var notFound *ctlerrors.NotFoundError
		if errors.As(err, &notFound) || errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "runtime not found")
			return nil, false
		}
		h.logger.Error("loading runtime", "error", err, "id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to load runtime")
		return nil, false
	}
	return rt, true
}
