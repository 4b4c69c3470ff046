package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Generation lifecycle. Transitions are forward-only; the single allowed
// reversal is a retry resetting failed back to pending.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// ErrInvalidTransition is returned when a status update would move a
// generation backwards (e.g. a late worker completing an already-failed row).
var ErrInvalidTransition = errors.New("invalid status transition")

// Generation is one user-initiated edit/creation job over a listing image.
type Generation struct {
	ID                 uuid.UUID  `json:"id"`
	WorkspaceID        uuid.UUID  `json:"workspace_id"`
	ProjectID          uuid.UUID  `json:"project_id"`
	SourceGenerationID *uuid.UUID `json:"source_generation_id,omitempty"`
	SourceURL          string     `json:"source_url"`
	Prompt             string     `json:"prompt"`
	Mode               string     `json:"mode"`
	Provider           string     `json:"provider"`
	Status             string     `json:"status"`
	ResultURL          *string    `json:"result_url,omitempty"`
	ErrorMessage       *string    `json:"error_message,omitempty"`
	CostCents          int        `json:"cost_cents"`
	Superseded         bool       `json:"superseded"`
	CreatedAt          string     `json:"created_at"`
	UpdatedAt          string     `json:"updated_at"`
}

const generationCols = `id, workspace_id, project_id, source_generation_id, source_url, prompt, mode, provider,
	status, result_url, error_message, cost_cents, superseded, created_at::text, updated_at::text`

func scanGeneration(row pgx.Row) (*Generation, error) {
	var g Generation
	err := row.Scan(&g.ID, &g.WorkspaceID, &g.ProjectID, &g.SourceGenerationID, &g.SourceURL, &g.Prompt,
		&g.Mode, &g.Provider, &g.Status, &g.ResultURL, &g.ErrorMessage, &g.CostCents, &g.Superseded,
		&g.CreatedAt, &g.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// CreateGeneration inserts a new request in pending state.
func (db *DB) CreateGeneration(ctx context.Context, g *Generation) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO image_generations (id, workspace_id, project_id, source_generation_id, source_url, prompt, mode, provider, status)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,'pending')`,
		g.ID, g.WorkspaceID, g.ProjectID, g.SourceGenerationID, g.SourceURL, g.Prompt, g.Mode, g.Provider)
	return err
}

func (db *DB) GetGeneration(ctx context.Context, id uuid.UUID) (*Generation, error) {
	return scanGeneration(db.Pool.QueryRow(ctx,
		`SELECT `+generationCols+` FROM image_generations WHERE id = $1`, id))
}

// MarkProcessing moves pending → processing.
func (db *DB) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	res, err := db.Pool.Exec(ctx,
		`UPDATE image_generations SET status = 'processing', updated_at = NOW()
		 WHERE id = $1 AND status IN ('pending','processing')`, id)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// MarkCompleted records the materialized asset URL and clears any prior
// error message. A generation has a result URL if and only if it completed.
func (db *DB) MarkCompleted(ctx context.Context, id uuid.UUID, resultURL string, costCents int) error {
	res, err := db.Pool.Exec(ctx,
		`UPDATE image_generations SET status = 'completed', result_url = $2, error_message = NULL,
		 cost_cents = cost_cents + $3, updated_at = NOW()
		 WHERE id = $1 AND status = 'processing'`, id, resultURL, costCents)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// MarkFailed records the human-readable failure. result_url is deliberately
// untouched: a failed attempt never clobbers a prior successful asset.
func (db *DB) MarkFailed(ctx context.Context, id uuid.UUID, message string) error {
	res, err := db.Pool.Exec(ctx,
		`UPDATE image_generations SET status = 'failed', error_message = $2, updated_at = NOW()
		 WHERE id = $1 AND status IN ('pending','processing')`, id, message)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// ResetForRetry moves a failed generation back to pending and clears its
// error so the request can be re-enqueued.
func (db *DB) ResetForRetry(ctx context.Context, id uuid.UUID) error {
	res, err := db.Pool.Exec(ctx,
		`UPDATE image_generations SET status = 'pending', error_message = NULL, updated_at = NOW()
		 WHERE id = $1 AND status = 'failed'`, id)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// ListGenerations returns the newest generations for a workspace, optionally
// scoped to one project. Superseded versions are hidden unless asked for.
func (db *DB) ListGenerations(ctx context.Context, workspaceID uuid.UUID, projectID *uuid.UUID, limit int, includeSuperseded bool) ([]Generation, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	q := `SELECT ` + generationCols + ` FROM image_generations WHERE workspace_id = $1`
	args := []interface{}{workspaceID}
	if projectID != nil {
		args = append(args, *projectID)
		q += fmt.Sprintf(" AND project_id = $%d", len(args))
	}
	if !includeSuperseded {
		q += " AND superseded = FALSE"
	}
	args = append(args, limit)
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	rows, err := db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Generation
	for rows.Next() {
		g, err := scanGeneration(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *g)
	}
	return list, rows.Err()
}

// SupersedeNewerSiblings hides completed edits of the same source that are
// newer than keep. Caller-level "replace newer versions" policy: the rows
// and their assets remain, they just drop out of default listings.
func (db *DB) SupersedeNewerSiblings(ctx context.Context, sourceID, keepID uuid.UUID) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE image_generations SET superseded = TRUE, updated_at = NOW()
		 WHERE source_generation_id = $1 AND id != $2
		   AND created_at > (SELECT created_at FROM image_generations WHERE id = $2)`,
		sourceID, keepID)
	return err
}

// ListStaleActive returns generations stuck in pending/processing longer
// than maxAgeMinutes. Used by the sweeper.
func (db *DB) ListStaleActive(ctx context.Context, maxAgeMinutes int) ([]Generation, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT `+generationCols+` FROM image_generations
		 WHERE status IN ('pending','processing') AND updated_at < NOW() - ($1 || ' minutes')::interval
		 ORDER BY updated_at ASC LIMIT 100`,
		fmt.Sprint(maxAgeMinutes))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Generation
	for rows.Next() {
		g, err := scanGeneration(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *g)
	}
	return list, rows.Err()
}
