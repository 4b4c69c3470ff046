package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type Project struct {
	ID             uuid.UUID `json:"id"`
	WorkspaceID    uuid.UUID `json:"workspace_id"`
	Name           string    `json:"name"`
	CompletedCount int       `json:"completed_count"`
	TotalCount     int       `json:"total_count"`
	CreatedAt      string    `json:"created_at"`
	UpdatedAt      string    `json:"updated_at"`
}

func (db *DB) GetProject(ctx context.Context, projectID uuid.UUID) (*Project, error) {
	var p Project
	err := db.Pool.QueryRow(ctx,
		`SELECT id, workspace_id, COALESCE(name,'Untitled'), completed_count, total_count, created_at::text, updated_at::text
		 FROM projects WHERE id = $1`, projectID).
		Scan(&p.ID, &p.WorkspaceID, &p.Name, &p.CompletedCount, &p.TotalCount, &p.CreatedAt, &p.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return &p, err
}

func (db *DB) ListProjects(ctx context.Context, workspaceID uuid.UUID, limit int) ([]Project, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Pool.Query(ctx,
		`SELECT id, workspace_id, COALESCE(name,'Untitled'), completed_count, total_count, created_at::text, updated_at::text
		 FROM projects WHERE workspace_id = $1 ORDER BY updated_at DESC LIMIT $2`,
		workspaceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.WorkspaceID, &p.Name, &p.CompletedCount, &p.TotalCount, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

// RefreshProjectCounts recomputes the denormalized completed/total counters
// from the generations table. Run after each successful completion.
func (db *DB) RefreshProjectCounts(ctx context.Context, projectID uuid.UUID) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE projects SET
		   completed_count = (SELECT COUNT(*) FROM image_generations WHERE project_id = $1 AND status = 'completed'),
		   total_count     = (SELECT COUNT(*) FROM image_generations WHERE project_id = $1),
		   updated_at = NOW()
		 WHERE id = $1`, projectID)
	return err
}
