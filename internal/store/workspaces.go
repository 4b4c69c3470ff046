package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type Workspace struct {
	ID        uuid.UUID  `json:"id"`
	Name      string     `json:"name"`
	Slug      string     `json:"slug"`
	Plan      string     `json:"plan"`
	Status    string     `json:"status"`
	OwnerID   *uuid.UUID `json:"owner_id,omitempty"`
	CreatedAt string     `json:"created_at"`
}

const workspaceCols = `w.id, w.name, w.slug, w.plan, w.status, w.owner_id, w.created_at::text`

func scanWorkspace(row pgx.Row) (*Workspace, error) {
	var w Workspace
	err := row.Scan(&w.ID, &w.Name, &w.Slug, &w.Plan, &w.Status, &w.OwnerID, &w.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (db *DB) GetWorkspace(ctx context.Context, id uuid.UUID) (*Workspace, error) {
	return scanWorkspace(db.Pool.QueryRow(ctx,
		`SELECT `+workspaceCols+` FROM workspaces w WHERE w.id = $1`, id))
}

// AdminStats are the dashboard headline numbers.
type AdminStats struct {
	Workspaces           int   `json:"workspaces"`
	Users                int   `json:"users"`
	Generations          int   `json:"generations"`
	CompletedGenerations int   `json:"completed_generations"`
	FailedGenerations    int   `json:"failed_generations"`
	ImageSpendCents      int64 `json:"image_spend_cents"`
	VideoSpendCents      int64 `json:"video_spend_cents"`
}

func (db *DB) AdminGetStats(ctx context.Context) (*AdminStats, error) {
	var s AdminStats
	err := db.Pool.QueryRow(ctx, `SELECT
		(SELECT COUNT(*) FROM workspaces),
		(SELECT COUNT(*) FROM users),
		(SELECT COUNT(*) FROM image_generations),
		(SELECT COUNT(*) FROM image_generations WHERE status = 'completed'),
		(SELECT COUNT(*) FROM image_generations WHERE status = 'failed'),
		(SELECT COALESCE(SUM(cost_cents),0) FROM image_generations WHERE mode != 'video'),
		(SELECT COALESCE(SUM(cost_cents),0) FROM image_generations WHERE mode = 'video')`).
		Scan(&s.Workspaces, &s.Users, &s.Generations, &s.CompletedGenerations, &s.FailedGenerations,
			&s.ImageSpendCents, &s.VideoSpendCents)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// AdminWorkspace is a workspace row with aggregates for the admin listing.
type AdminWorkspace struct {
	Workspace
	OwnerEmail  string `json:"owner_email,omitempty"`
	MemberCount int    `json:"member_count"`
	Generations int    `json:"generations"`
}

// AdminListWorkspaces returns workspaces with member/generation counts,
// optionally filtered by plan or status, paginated.
func (db *DB) AdminListWorkspaces(ctx context.Context, limit, offset int, plan, status string) ([]AdminWorkspace, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	base := `FROM workspaces w LEFT JOIN users u ON w.owner_id = u.id WHERE 1=1`
	args := []interface{}{}
	if plan != "" {
		args = append(args, plan)
		base += fmt.Sprintf(" AND w.plan = $%d", len(args))
	}
	if status != "" {
		args = append(args, status)
		base += fmt.Sprintf(" AND w.status = $%d", len(args))
	}
	var total int
	if err := db.Pool.QueryRow(ctx, "SELECT COUNT(*) "+base, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	sel := `SELECT ` + workspaceCols + `, COALESCE(u.email,''),
		(SELECT COUNT(*) FROM workspace_members m WHERE m.workspace_id = w.id)::int,
		(SELECT COUNT(*) FROM image_generations g WHERE g.workspace_id = w.id)::int `
	args = append(args, limit, offset)
	n := len(args)
	rows, err := db.Pool.Query(ctx,
		sel+base+` ORDER BY w.created_at DESC LIMIT $`+strconv.Itoa(n-1)+` OFFSET $`+strconv.Itoa(n), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var list []AdminWorkspace
	for rows.Next() {
		var aw AdminWorkspace
		if err := rows.Scan(&aw.ID, &aw.Name, &aw.Slug, &aw.Plan, &aw.Status, &aw.OwnerID, &aw.CreatedAt,
			&aw.OwnerEmail, &aw.MemberCount, &aw.Generations); err != nil {
			return nil, 0, err
		}
		list = append(list, aw)
	}
	return list, total, rows.Err()
}

// AdminWorkspaceDetail is the read-only drill-down view: workspace, owner,
// usage counters and spend, plus the most recent generations.
type AdminWorkspaceDetail struct {
	Workspace         Workspace    `json:"workspace"`
	Owner             *User        `json:"owner,omitempty"`
	MemberCount       int          `json:"member_count"`
	ImagesGenerated   int          `json:"images_generated"`
	VideosGenerated   int          `json:"videos_generated"`
	ImageSpendCents   int64        `json:"image_spend_cents"`
	VideoSpendCents   int64        `json:"video_spend_cents"`
	RecentGenerations []Generation `json:"recent_generations"`
}

func (db *DB) AdminGetWorkspace(ctx context.Context, id uuid.UUID) (*AdminWorkspaceDetail, error) {
	w, err := db.GetWorkspace(ctx, id)
	if err != nil || w == nil {
		return nil, err
	}
	d := &AdminWorkspaceDetail{Workspace: *w}
	if w.OwnerID != nil {
		d.Owner, err = db.UserByID(ctx, *w.OwnerID)
		if err != nil {
			return nil, err
		}
	}
	err = db.Pool.QueryRow(ctx, `SELECT
		(SELECT COUNT(*) FROM workspace_members WHERE workspace_id = $1),
		(SELECT COUNT(*) FROM image_generations WHERE workspace_id = $1 AND mode != 'video' AND status = 'completed'),
		(SELECT COUNT(*) FROM image_generations WHERE workspace_id = $1 AND mode = 'video' AND status = 'completed'),
		(SELECT COALESCE(SUM(cost_cents),0) FROM image_generations WHERE workspace_id = $1 AND mode != 'video'),
		(SELECT COALESCE(SUM(cost_cents),0) FROM image_generations WHERE workspace_id = $1 AND mode = 'video')`, id).
		Scan(&d.MemberCount, &d.ImagesGenerated, &d.VideosGenerated, &d.ImageSpendCents, &d.VideoSpendCents)
	if err != nil {
		return nil, err
	}
	d.RecentGenerations, err = db.ListGenerations(ctx, id, nil, 10, true)
	if err != nil {
		return nil, err
	}
	return d, nil
}
