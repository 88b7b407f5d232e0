package repo

import (
	"context"
	"database/sql"
	"strings"

	"phaseline/internal/domain"
)

const projectColumns = `id,code,title,objective,portfolio_id,request_id,direction_id,sponsor_id,manager_id,status,phase,progress_percent,rag,charter_business,charter_it,charter_approved,charter_comment,charter_approved_at,plan_business,plan_it,plan_comment,acceptance_approved,start_date,planned_end_date,actual_end_date,closure_summary,lessons_learned,created_at,updated_at,version`

func scanProject(scan func(dest ...any) error) (domain.Project, error) {
	var p domain.Project
	var objective, directionID, managerID, charterComment, charterAt sql.NullString
	var planComment, startDate, plannedEnd, actualEnd, closureSummary, lessons sql.NullString
	err := scan(&p.ID, &p.Code, &p.Title, &objective, &p.PortfolioID, &p.RequestID, &directionID,
		&p.SponsorID, &managerID, &p.Status, &p.Phase, &p.ProgressPercent, &p.RAG,
		&p.CharterBusiness, &p.CharterIT, &p.CharterApproved, &charterComment, &charterAt,
		&p.PlanBusiness, &p.PlanIT, &planComment, &p.AcceptanceOK,
		&startDate, &plannedEnd, &actualEnd, &closureSummary, &lessons,
		&p.CreatedAt, &p.UpdatedAt, &p.Version)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.Objective = objective.String
	p.CharterComment = charterComment.String
	p.PlanComment = planComment.String
	p.ClosureSummary = closureSummary.String
	p.LessonsLearned = lessons.String
	if directionID.Valid {
		p.DirectionID = &directionID.String
	}
	if managerID.Valid {
		p.ManagerID = &managerID.String
	}
	if charterAt.Valid {
		p.CharterApprovedAt = &charterAt.String
	}
	if startDate.Valid {
		p.StartDate = &startDate.String
	}
	if plannedEnd.Valid {
		p.PlannedEndDate = &plannedEnd.String
	}
	if actualEnd.Valid {
		p.ActualEndDate = &actualEnd.String
	}
	return p, nil
}

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(`+projectColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Code, p.Title, nullable(p.Objective), p.PortfolioID, p.RequestID, nullableStringPtr(p.DirectionID),
		p.SponsorID, nullableStringPtr(p.ManagerID), p.Status, p.Phase, p.ProgressPercent, p.RAG,
		boolInt(p.CharterBusiness), boolInt(p.CharterIT), boolInt(p.CharterApproved), nullable(p.CharterComment), nullableStringPtr(p.CharterApprovedAt),
		boolInt(p.PlanBusiness), boolInt(p.PlanIT), nullable(p.PlanComment), boolInt(p.AcceptanceOK),
		nullableStringPtr(p.StartDate), nullableStringPtr(p.PlannedEndDate), nullableStringPtr(p.ActualEndDate),
		nullable(p.ClosureSummary), nullable(p.LessonsLearned), p.CreatedAt, p.UpdatedAt, p.Version)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id)
	return scanProject(row.Scan)
}

func (r Repo) GetProjectTx(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id)
	return scanProject(row.Scan)
}

func (r Repo) GetProjectByRequest(ctx context.Context, requestID string) (domain.Project, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE request_id=?`, requestID)
	return scanProject(row.Scan)
}

func (r Repo) UpdateProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET title=?, objective=?, direction_id=?, sponsor_id=?, manager_id=?,
status=?, phase=?, progress_percent=?, rag=?, charter_business=?, charter_it=?, charter_approved=?, charter_comment=?,
charter_approved_at=?, plan_business=?, plan_it=?, plan_comment=?, acceptance_approved=?, start_date=?, planned_end_date=?,
actual_end_date=?, closure_summary=?, lessons_learned=?, updated_at=?, version=version+1
WHERE id=? AND version=?`,
		p.Title, nullable(p.Objective), nullableStringPtr(p.DirectionID), p.SponsorID, nullableStringPtr(p.ManagerID),
		p.Status, p.Phase, p.ProgressPercent, p.RAG, boolInt(p.CharterBusiness), boolInt(p.CharterIT), boolInt(p.CharterApproved), nullable(p.CharterComment),
		nullableStringPtr(p.CharterApprovedAt), boolInt(p.PlanBusiness), boolInt(p.PlanIT), nullable(p.PlanComment), boolInt(p.AcceptanceOK),
		nullableStringPtr(p.StartDate), nullableStringPtr(p.PlannedEndDate),
		nullableStringPtr(p.ActualEndDate), nullable(p.ClosureSummary), nullable(p.LessonsLearned), p.UpdatedAt,
		p.ID, p.Version)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, getErr := r.GetProjectTx(ctx, tx, p.ID); getErr != nil {
			return getErr
		}
		return ErrConflict
	}
	return nil
}

type ProjectFilters struct {
	PortfolioID string
	Status      string
	Phase       string
	Limit       int
}

func (r Repo) ListProjects(ctx context.Context, f ProjectFilters) ([]domain.Project, error) {
	var clauses []string
	var args []any
	if f.PortfolioID != "" {
		clauses = append(clauses, "portfolio_id=?")
		args = append(args, f.PortfolioID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Phase != "" {
		clauses = append(clauses, "phase=?")
		args = append(args, f.Phase)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + projectColumns + ` FROM projects ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) CountProjectsInPortfolio(ctx context.Context, tx *sql.Tx, portfolioID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT count(*) FROM projects WHERE portfolio_id=?`, portfolioID).Scan(&n)
	return n, err
}
