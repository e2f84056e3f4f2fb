package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/aidenforge/controlplane/internal/db"
	"github.com/aidenforge/controlplane/internal/httpserver"
)

// LogEntry is the JSON shape of a persisted audit log record.
type LogEntry struct {
	ID         uuid.UUID       `json:"id"`
	UserID     *uuid.UUID      `json:"user_id,omitempty"`
	APIKeyID   *uuid.UUID      `json:"api_key_id,omitempty"`
	Action     string          `json:"action"`
	Resource   string          `json:"resource"`
	ResourceID *uuid.UUID      `json:"resource_id,omitempty"`
	Detail     json.RawMessage `json:"detail,omitempty"`
	IPAddress  *string         `json:"ip_address,omitempty"`
	UserAgent  *string         `json:"user_agent,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Handler provides HTTP handlers for the audit log API.
type Handler struct {
	db     db.DBTX
	logger *slog.Logger
}

// NewHandler creates an audit log Handler.
func NewHandler(dbtx db.DBTX, logger *slog.Logger) *Handler {
	return &Handler{db: dbtx, logger: logger}
}

// Routes returns a chi.Router with audit log routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	return r
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	entries, total, err := h.list(r.Context(), params)
	if err != nil {
		h.logger.Error("listing audit log", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list audit log")
		return
	}

	httpserver.Respond(w, http.StatusOK, httpserver.NewOffsetPage(entries, params, total))
}

func (h *Handler) list(ctx context.Context, params httpserver.OffsetParams) ([]LogEntry, int, error) {
	var total int
	if err := h.db.QueryRow(ctx, `SELECT count(*) FROM audit_log`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := h.db.Query(ctx, `
		SELECT id, user_id, api_key_id, action, resource, resource_id, detail, ip_address, user_agent, created_at
		FROM audit_log
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`, params.PageSize, params.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	entries := make([]LogEntry, 0, params.PageSize)
	for rows.Next() {
		var (
			e          LogEntry
			userID     pgtype.UUID
			apiKeyID   pgtype.UUID
			resourceID pgtype.UUID
			ipAddress  *string
		)
		if err := rows.Scan(&e.ID, &userID, &apiKeyID, &e.Action, &e.Resource, &resourceID, &e.Detail, &ipAddress, &e.UserAgent, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		if userID.Valid {
			u := uuid.UUID(userID.Bytes)
			e.UserID = &u
		}
		if apiKeyID.Valid {
			k := uuid.UUID(apiKeyID.Bytes)
			e.APIKeyID = &k
		}
		if resourceID.Valid {
			rid := uuid.UUID(resourceID.Bytes)
			e.ResourceID = &rid
		}
		e.IPAddress = ipAddress
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return entries, total, nil
}
