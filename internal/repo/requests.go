package repo

import (
	"context"
	"database/sql"
	"strings"

	"phaseline/internal/domain"
)

const requestColumns = `id,title,description,context,objectives,benefits,scope,urgency,criticality,desired_date,requester_id,direction_id,sponsor_id,status,submitted_at,business_validated_at,it_validated_at,business_comment,it_comment,project_id,created_at,updated_at,version`

func scanRequest(scan func(dest ...any) error) (domain.Request, error) {
	var q domain.Request
	var description, contextText, objectives, benefits, scope sql.NullString
	var desiredDate, directionID, submittedAt, businessAt, itAt sql.NullString
	var businessComment, itComment, projectID sql.NullString
	err := scan(&q.ID, &q.Title, &description, &contextText, &objectives, &benefits, &scope,
		&q.Urgency, &q.Criticality, &desiredDate, &q.RequesterID, &directionID, &q.SponsorID,
		&q.Status, &submittedAt, &businessAt, &itAt, &businessComment, &itComment, &projectID,
		&q.CreatedAt, &q.UpdatedAt, &q.Version)
	if err == sql.ErrNoRows {
		return q, ErrNotFound
	}
	if err != nil {
		return q, err
	}
	q.Description = description.String
	q.Context = contextText.String
	q.Objectives = objectives.String
	q.Benefits = benefits.String
	q.Scope = scope.String
	q.BusinessComment = businessComment.String
	q.ITComment = itComment.String
	if desiredDate.Valid {
		q.DesiredDate = &desiredDate.String
	}
	if directionID.Valid {
		q.DirectionID = &directionID.String
	}
	if submittedAt.Valid {
		q.SubmittedAt = &submittedAt.String
	}
	if businessAt.Valid {
		q.BusinessValidatedAt = &businessAt.String
	}
	if itAt.Valid {
		q.ITValidatedAt = &itAt.String
	}
	if projectID.Valid {
		q.ProjectID = &projectID.String
	}
	return q, nil
}

func (r Repo) InsertRequest(ctx context.Context, tx *sql.Tx, q domain.Request) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO requests(`+requestColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		q.ID, q.Title, nullable(q.Description), nullable(q.Context), nullable(q.Objectives), nullable(q.Benefits), nullable(q.Scope),
		q.Urgency, q.Criticality, nullableStringPtr(q.DesiredDate), q.RequesterID, nullableStringPtr(q.DirectionID), q.SponsorID,
		q.Status, nullableStringPtr(q.SubmittedAt), nullableStringPtr(q.BusinessValidatedAt), nullableStringPtr(q.ITValidatedAt),
		nullable(q.BusinessComment), nullable(q.ITComment), nullableStringPtr(q.ProjectID), q.CreatedAt, q.UpdatedAt, q.Version)
	return err
}

func (r Repo) GetRequest(ctx context.Context, id string) (domain.Request, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id=?`, id)
	return scanRequest(row.Scan)
}

func (r Repo) GetRequestTx(ctx context.Context, tx *sql.Tx, id string) (domain.Request, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id=?`, id)
	return scanRequest(row.Scan)
}

// UpdateRequest writes the full row guarded by the version the caller
// loaded; a zero-row update is a lost race or a vanished row.
func (r Repo) UpdateRequest(ctx context.Context, tx *sql.Tx, q domain.Request) error {
	res, err := tx.ExecContext(ctx, `UPDATE requests SET title=?, description=?, context=?, objectives=?, benefits=?, scope=?,
urgency=?, criticality=?, desired_date=?, direction_id=?, sponsor_id=?, status=?, submitted_at=?, business_validated_at=?,
it_validated_at=?, business_comment=?, it_comment=?, project_id=?, updated_at=?, version=version+1
WHERE id=? AND version=?`,
		q.Title, nullable(q.Description), nullable(q.Context), nullable(q.Objectives), nullable(q.Benefits), nullable(q.Scope),
		q.Urgency, q.Criticality, nullableStringPtr(q.DesiredDate), nullableStringPtr(q.DirectionID), q.SponsorID,
		q.Status, nullableStringPtr(q.SubmittedAt), nullableStringPtr(q.BusinessValidatedAt), nullableStringPtr(q.ITValidatedAt),
		nullable(q.BusinessComment), nullable(q.ITComment), nullableStringPtr(q.ProjectID), q.UpdatedAt,
		q.ID, q.Version)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, getErr := r.GetRequestTx(ctx, tx, q.ID); getErr != nil {
			return getErr
		}
		return ErrConflict
	}
	return nil
}

type RequestFilters struct {
	Status      string
	RequesterID string
	SponsorID   string
	Limit       int
}

func (r Repo) ListRequests(ctx context.Context, f RequestFilters) ([]domain.Request, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.RequesterID != "" {
		clauses = append(clauses, "requester_id=?")
		args = append(args, f.RequesterID)
	}
	if f.SponsorID != "" {
		clauses = append(clauses, "sponsor_id=?")
		args = append(args, f.SponsorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + requestColumns + ` FROM requests ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Request
	for rows.Next() {
		q, err := scanRequest(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, q)
	}
	return res, rows.Err()
}

// ListActiveTitles returns id/title pairs for requests that are not in a
// terminal rejection, for the duplicate-candidate check on submission.
func (r Repo) ListActiveTitles(ctx context.Context, excludeID string) (map[string]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,title FROM requests WHERE id != ? AND status NOT IN (?,?)`,
		excludeID, domain.RequestRejectedByBusiness, domain.RequestRejectedByIT)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	titles := map[string]string{}
	for rows.Next() {
		var id, title string
		if err := rows.Scan(&id, &title); err != nil {
			return nil, err
		}
		titles[id] = title
	}
	return titles, rows.Err()
}
