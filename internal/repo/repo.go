package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"phaseline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict signals a lost optimistic-concurrency race; the caller
	// must re-fetch and retry.
	ErrConflict = errors.New("concurrent modification")
)

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (r Repo) EnsureActor(ctx context.Context, tx *sql.Tx, actorID, now string) error {
	if actorID == "" {
		return errors.New("actor_id required")
	}
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO actors(id, created_at) VALUES (?,?)`, actorID, now)
	return err
}

// EnsurePortfolio is a single idempotent upsert keyed by name; concurrent
// submitters converge on one row.
func (r Repo) EnsurePortfolio(ctx context.Context, tx *sql.Tx, id, name, now string) (string, error) {
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO portfolios(id, name, created_at) VALUES (?,?,?)`, id, name, now); err != nil {
		return "", err
	}
	var existing string
	if err := tx.QueryRowContext(ctx, `SELECT id FROM portfolios WHERE name=?`, name).Scan(&existing); err != nil {
		return "", err
	}
	return existing, nil
}

func (r Repo) GetPortfolio(ctx context.Context, id string) (domain.Portfolio, error) {
	var p domain.Portfolio
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,created_at FROM portfolios WHERE id=?`, id).
		Scan(&p.ID, &p.Name, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) ListPortfolios(ctx context.Context) ([]domain.Portfolio, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,created_at FROM portfolios ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Portfolio
	for rows.Next() {
		var p domain.Portfolio
		if err := rows.Scan(&p.ID, &p.Name, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) AppendPhaseHistory(ctx context.Context, tx *sql.Tx, h domain.PhaseHistory) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO phase_history(project_id,phase,status,actor_id,comment,ts) VALUES (?,?,?,?,?,?)`,
		h.ProjectID, h.Phase, h.Status, h.ActorID, nullable(h.Comment), h.TS)
	return err
}

func (r Repo) ListPhaseHistory(ctx context.Context, projectID string) ([]domain.PhaseHistory, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,phase,status,actor_id,COALESCE(comment,''),ts FROM phase_history WHERE project_id=? ORDER BY id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PhaseHistory
	for rows.Next() {
		var h domain.PhaseHistory
		if err := rows.Scan(&h.ID, &h.ProjectID, &h.Phase, &h.Status, &h.ActorID, &h.Comment, &h.TS); err != nil {
			return nil, err
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

// LatestEventsFrom pages the audit log newest-first.
func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.scanEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending
// order. The webhook dispatcher uses this after commit.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`
	return r.scanEvents(ctx, query, cursor, limit)
}

// LatestEventID returns the highest event id, or 0 when the log is empty.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

func (r Repo) scanEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
