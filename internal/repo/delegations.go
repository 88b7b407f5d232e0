package repo

import (
	"context"
	"database/sql"

	"phaseline/internal/domain"
)

func (r Repo) InsertValidationDelegation(ctx context.Context, tx *sql.Tx, d domain.ValidationDelegation) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO validation_delegations(id,holder_id,delegate_id,starts_at,ends_at,active) VALUES (?,?,?,?,?,?)`,
		d.ID, d.HolderID, d.DelegateID, d.StartsAt, d.EndsAt, boolInt(d.Active))
	return err
}

func (r Repo) InsertManagerDelegation(ctx context.Context, tx *sql.Tx, d domain.ManagerDelegation) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO manager_delegations(id,project_id,delegator_id,delegate_id,starts_at,ends_at,active) VALUES (?,?,?,?,?,?,?)`,
		d.ID, d.ProjectID, d.DelegatorID, d.DelegateID, d.StartsAt, nullableStringPtr(d.EndsAt), boolInt(d.Active))
	return err
}

// ActiveValidationDelegations returns active grants for a delegate; window
// evaluation happens in the authority resolver against the current clock.
func (r Repo) ActiveValidationDelegations(ctx context.Context, delegateID string) ([]domain.ValidationDelegation, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,holder_id,delegate_id,starts_at,ends_at,active FROM validation_delegations WHERE delegate_id=? AND active=1`, delegateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ValidationDelegation
	for rows.Next() {
		var d domain.ValidationDelegation
		if err := rows.Scan(&d.ID, &d.HolderID, &d.DelegateID, &d.StartsAt, &d.EndsAt, &d.Active); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) ActiveManagerDelegations(ctx context.Context, projectID, delegateID string) ([]domain.ManagerDelegation, error) {
	query := `SELECT id,project_id,delegator_id,delegate_id,starts_at,ends_at,active FROM manager_delegations WHERE project_id=? AND active=1`
	args := []any{projectID}
	if delegateID != "" {
		query += ` AND delegate_id=?`
		args = append(args, delegateID)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ManagerDelegation
	for rows.Next() {
		var d domain.ManagerDelegation
		var endsAt sql.NullString
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.DelegatorID, &d.DelegateID, &d.StartsAt, &endsAt, &d.Active); err != nil {
			return nil, err
		}
		if endsAt.Valid {
			d.EndsAt = &endsAt.String
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// ListValidationDelegations returns every grant, active or not, newest
// window first.
func (r Repo) ListValidationDelegations(ctx context.Context) ([]domain.ValidationDelegation, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,holder_id,delegate_id,starts_at,ends_at,active FROM validation_delegations ORDER BY starts_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ValidationDelegation
	for rows.Next() {
		var d domain.ValidationDelegation
		if err := rows.Scan(&d.ID, &d.HolderID, &d.DelegateID, &d.StartsAt, &d.EndsAt, &d.Active); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// ListManagerDelegations returns grants, optionally scoped to one project.
func (r Repo) ListManagerDelegations(ctx context.Context, projectID string) ([]domain.ManagerDelegation, error) {
	query := `SELECT id,project_id,delegator_id,delegate_id,starts_at,ends_at,active FROM manager_delegations`
	var args []any
	if projectID != "" {
		query += ` WHERE project_id=?`
		args = append(args, projectID)
	}
	query += ` ORDER BY starts_at DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ManagerDelegation
	for rows.Next() {
		var d domain.ManagerDelegation
		var endsAt sql.NullString
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.DelegatorID, &d.DelegateID, &d.StartsAt, &endsAt, &d.Active); err != nil {
			return nil, err
		}
		if endsAt.Valid {
			d.EndsAt = &endsAt.String
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) GetValidationDelegation(ctx context.Context, id string) (domain.ValidationDelegation, error) {
	var d domain.ValidationDelegation
	err := r.DB.QueryRowContext(ctx, `SELECT id,holder_id,delegate_id,starts_at,ends_at,active FROM validation_delegations WHERE id=?`, id).
		Scan(&d.ID, &d.HolderID, &d.DelegateID, &d.StartsAt, &d.EndsAt, &d.Active)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	return d, err
}

func (r Repo) GetManagerDelegation(ctx context.Context, id string) (domain.ManagerDelegation, error) {
	var d domain.ManagerDelegation
	var endsAt sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,project_id,delegator_id,delegate_id,starts_at,ends_at,active FROM manager_delegations WHERE id=?`, id).
		Scan(&d.ID, &d.ProjectID, &d.DelegatorID, &d.DelegateID, &d.StartsAt, &endsAt, &d.Active)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if endsAt.Valid {
		d.EndsAt = &endsAt.String
	}
	return d, err
}

func (r Repo) DeactivateValidationDelegation(ctx context.Context, tx *sql.Tx, id, endsAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE validation_delegations SET active=0, ends_at=? WHERE id=? AND active=1`, endsAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeactivateManagerDelegation(ctx context.Context, tx *sql.Tx, id, endsAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE manager_delegations SET active=0, ends_at=? WHERE id=? AND active=1`, endsAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateProjectManagerDelegations closes every open grant for a project,
// stamping the end date. Used on closure and forced termination.
func (r Repo) DeactivateProjectManagerDelegations(ctx context.Context, tx *sql.Tx, projectID, endsAt string) error {
	_, err := tx.ExecContext(ctx, `UPDATE manager_delegations SET active=0, ends_at=? WHERE project_id=? AND active=1`, endsAt, projectID)
	return err
}
