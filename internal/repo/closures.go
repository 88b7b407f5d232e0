package repo

import (
	"context"
	"database/sql"

	"phaseline/internal/domain"
)

const closureColumns = `id,project_id,requested_by,requested_at,desired_date,requester_slot,business_slot,it_slot,completed,final_closure_at`

func scanClosure(scan func(dest ...any) error) (domain.ClosureRequest, error) {
	var c domain.ClosureRequest
	var desiredDate, finalAt sql.NullString
	err := scan(&c.ID, &c.ProjectID, &c.RequestedBy, &c.RequestedAt, &desiredDate,
		&c.RequesterSlot, &c.BusinessSlot, &c.ITSlot, &c.Completed, &finalAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if desiredDate.Valid {
		c.DesiredDate = &desiredDate.String
	}
	if finalAt.Valid {
		c.FinalClosureAt = &finalAt.String
	}
	return c, nil
}

func (r Repo) InsertClosureRequest(ctx context.Context, tx *sql.Tx, c domain.ClosureRequest) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO closure_requests(`+closureColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.ProjectID, c.RequestedBy, c.RequestedAt, nullableStringPtr(c.DesiredDate),
		c.RequesterSlot, c.BusinessSlot, c.ITSlot, boolInt(c.Completed), nullableStringPtr(c.FinalClosureAt))
	return err
}

// UpdateClosureRequest rewrites the slot columns in place; a reopened
// closure keeps its row, slots reset rather than replaced.
func (r Repo) UpdateClosureRequest(ctx context.Context, tx *sql.Tx, c domain.ClosureRequest) error {
	res, err := tx.ExecContext(ctx, `UPDATE closure_requests SET requester_slot=?, business_slot=?, it_slot=?, completed=?, final_closure_at=? WHERE id=?`,
		c.RequesterSlot, c.BusinessSlot, c.ITSlot, boolInt(c.Completed), nullableStringPtr(c.FinalClosureAt), c.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetClosureRequest(ctx context.Context, id string) (domain.ClosureRequest, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+closureColumns+` FROM closure_requests WHERE id=?`, id)
	return scanClosure(row.Scan)
}

// OpenClosureRequest returns the project's unfinished closure attempt, if any.
func (r Repo) OpenClosureRequest(ctx context.Context, projectID string) (domain.ClosureRequest, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+closureColumns+` FROM closure_requests WHERE project_id=? AND completed=0 ORDER BY requested_at DESC LIMIT 1`, projectID)
	return scanClosure(row.Scan)
}

func (r Repo) ListClosureRequests(ctx context.Context, projectID string) ([]domain.ClosureRequest, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+closureColumns+` FROM closure_requests WHERE project_id=? ORDER BY requested_at DESC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ClosureRequest
	for rows.Next() {
		c, err := scanClosure(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
