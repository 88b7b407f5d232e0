package repo

import (
	"context"
	"database/sql"

	"phaseline/internal/domain"
)

func (r Repo) InsertDocument(ctx context.Context, tx *sql.Tx, d domain.Document) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO documents(id,request_id,project_id,name,category,uri,uploaded_by,uploaded_at) VALUES (?,?,?,?,?,?,?,?)`,
		d.ID, nullableStringPtr(d.RequestID), nullableStringPtr(d.ProjectID), d.Name, nullable(d.Category), nullable(d.URI), d.UploadedBy, d.UploadedAt)
	return err
}

func scanDocuments(rows *sql.Rows) ([]domain.Document, error) {
	defer rows.Close()
	var res []domain.Document
	for rows.Next() {
		var d domain.Document
		var requestID, projectID, category, uri sql.NullString
		if err := rows.Scan(&d.ID, &requestID, &projectID, &d.Name, &category, &uri, &d.UploadedBy, &d.UploadedAt); err != nil {
			return nil, err
		}
		if requestID.Valid {
			d.RequestID = &requestID.String
		}
		if projectID.Valid {
			d.ProjectID = &projectID.String
		}
		d.Category = category.String
		d.URI = uri.String
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) ListRequestDocuments(ctx context.Context, requestID string) ([]domain.Document, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,request_id,project_id,name,category,uri,uploaded_by,uploaded_at FROM documents WHERE request_id=? ORDER BY uploaded_at`, requestID)
	if err != nil {
		return nil, err
	}
	return scanDocuments(rows)
}

func (r Repo) ListProjectDocuments(ctx context.Context, projectID string) ([]domain.Document, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,request_id,project_id,name,category,uri,uploaded_by,uploaded_at FROM documents WHERE project_id=? ORDER BY uploaded_at`, projectID)
	if err != nil {
		return nil, err
	}
	return scanDocuments(rows)
}

// ProjectDocumentCategories returns the distinct categories attached to a
// project, for the mandatory-deliverable check.
func (r Repo) ProjectDocumentCategories(ctx context.Context, projectID string) (map[string]bool, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT DISTINCT category FROM documents WHERE project_id=? AND category IS NOT NULL`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cats := map[string]bool{}
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		cats[c] = true
	}
	return cats, rows.Err()
}

func (r Repo) CountRequestDocuments(ctx context.Context, requestID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM documents WHERE request_id=?`, requestID).Scan(&n)
	return n, err
}
