package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aidenforge/controlplane/internal/db"
	"github.com/aidenforge/controlplane/pkg/ctlerrors"
)

// Store is the durable Runtime store.
type Store struct {
	db db.DBTX
}

// NewStore creates a Store over any db.DBTX (pool, tx, or conn).
func NewStore(dbtx db.DBTX) *Store {
	return &Store{db: dbtx}
}

// NextFreeServiceNo returns the smallest positive integer not currently used
// by any live runtime. Concurrent allocators race on insert; the unique
// constraint on service_no makes the loser retry from here.
func (s *Store) NextFreeServiceNo(ctx context.Context) (int, error) {
	rows, err := s.db.Query(ctx, `SELECT service_no FROM runtimes ORDER BY service_no`)
	if err != nil {
		return 0, fmt.Errorf("listing service numbers: %w", err)
	}
	defer rows.Close()

	used := make(map[int]struct{})
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return 0, fmt.Errorf("scanning service number: %w", err)
		}
		used[n] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("listing service numbers: %w", err)
	}

	for n := 1; ; n++ {
		if _, ok := used[n]; !ok {
			return n, nil
		}
	}
}

// Create inserts a new Runtime row with the given id and service number.
// URL is derived by the caller (it depends on env-specific fabric config).
func (s *Store) Create(ctx context.Context, id uuid.UUID, serviceNo int, url string) (*Runtime, error) {
	r := &Runtime{ID: id, ServiceNo: serviceNo, URL: url}
	err := s.db.QueryRow(ctx, `
		INSERT INTO runtimes (id, service_no, url, started, failed_healthchecks)
		VALUES ($1, $2, $3, false, 0)
		RETURNING created_at, updated_at`,
		id, serviceNo, url,
	).Scan(&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting runtime: %w", err)
	}
	return r, nil
}

// Get loads a Runtime by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Runtime, error) {
	r, err := scanRuntime(s.db.QueryRow(ctx, selectRuntimeColumns+` WHERE id = $1`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, &ctlerrors.NotFoundError{Entity: "runtime", ID: id.String()}
		}
		return nil, fmt.Errorf("loading runtime %s: %w", id, err)
	}
	return r, nil
}

// List returns all runtimes. When unusedOnly is true, only runtimes with no
// bound agent are returned.
func (s *Store) List(ctx context.Context, unusedOnly bool) ([]*Runtime, error) {
	query := selectRuntimeColumns
	if unusedOnly {
		query += ` WHERE NOT EXISTS (SELECT 1 FROM agents a WHERE a.runtime_id = runtimes.id)`
	}
	query += ` ORDER BY service_no`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing runtimes: %w", err)
	}
	defer rows.Close()

	var out []*Runtime
	for rows.Next() {
		r, err := scanRuntimeRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning runtime: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListIDs returns every runtime id, used by the reconciler's per-tick fan-out.
func (s *Store) ListIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM runtimes`)
	if err != nil {
		return nil, fmt.Errorf("listing runtime ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning runtime id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SetHandle persists one of the four cloud handles. field must be one of
// "service_handle", "target_group_handle", "http_rule_handle", "https_rule_handle".
func (s *Store) SetHandle(ctx context.Context, id uuid.UUID, field, value string) error {
	stmt := fmt.Sprintf(`UPDATE runtimes SET %s = $2, updated_at = now() WHERE id = $1`, field)
	if _, err := s.db.Exec(ctx, stmt, id, value); err != nil {
		return fmt.Errorf("setting %s on runtime %s: %w", field, id, err)
	}
	return nil
}

// SetStarted updates the started flag.
func (s *Store) SetStarted(ctx context.Context, id uuid.UUID, started bool) error {
	if _, err := s.db.Exec(ctx, `UPDATE runtimes SET started = $2, updated_at = now() WHERE id = $1`, id, started); err != nil {
		return fmt.Errorf("setting started on runtime %s: %w", id, err)
	}
	return nil
}

// RecordHealthcheckSuccess resets the failure counter and stamps the healthcheck time.
func (s *Store) RecordHealthcheckSuccess(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.Exec(ctx, `
		UPDATE runtimes SET failed_healthchecks = 0, last_healthcheck = $2, updated_at = now() WHERE id = $1`,
		id, time.Now().UTC()); err != nil {
		return fmt.Errorf("recording healthcheck success for runtime %s: %w", id, err)
	}
	return nil
}

// IncrementFailedHealthchecks increments the counter and returns the new value.
func (s *Store) IncrementFailedHealthchecks(ctx context.Context, id uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		UPDATE runtimes SET failed_healthchecks = failed_healthchecks + 1, updated_at = now()
		WHERE id = $1
		RETURNING failed_healthchecks`, id).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("incrementing failed healthchecks for runtime %s: %w", id, err)
	}
	return n, nil
}

// Delete removes the Runtime row. Safe to call even if some handles are nil.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM runtimes WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting runtime %s: %w", id, err)
	}
	return nil
}

const selectRuntimeColumns = `
	SELECT id, service_no, url, started, last_healthcheck, failed_healthchecks,
	       service_handle, target_group_handle, http_rule_handle, https_rule_handle,
	       created_at, updated_at
	FROM runtimes`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRuntime(row pgx.Row) (*Runtime, error) {
	return scanRuntimeRow(row)
}

func scanRuntimeRow(row rowScanner) (*Runtime, error) {
	var r Runtime
	if err := row.Scan(
		&r.ID, &r.ServiceNo, &r.URL, &r.Started, &r.LastHealthcheck, &r.FailedHealthchecks,
		&r.ServiceHandle, &r.TargetGroupHandle, &r.HTTPRuleHandle, &r.HTTPSRuleHandle,
		&r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &r, nil
}
