package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type User struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name,omitempty"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt string    `json:"created_at"`
	UpdatedAt string    `json:"updated_at,omitempty"`
}

func (db *DB) UserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	var u User
	err := db.Pool.QueryRow(ctx,
		`SELECT id, email, COALESCE(full_name,''), is_admin, created_at::text, COALESCE(updated_at::text, created_at::text)
		 FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Email, &u.FullName, &u.IsAdmin, &u.CreatedAt, &u.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return &u, err
}

// UpsertUser syncs the identity provider's user into our table on first
// authenticated request.
func (db *DB) UpsertUser(ctx context.Context, id uuid.UUID, email string) error {
	if email == "" {
		email = id.String() + "@auth.local" // placeholder when the token has no email
	}
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO users (id, email) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET email = COALESCE(NULLIF(EXCLUDED.email,''), users.email), updated_at = NOW()`,
		id, email)
	return err
}

// WorkspaceForUser resolves the workspace the user belongs to. Owners and
// members both qualify; the first (oldest) membership wins.
func (db *DB) WorkspaceForUser(ctx context.Context, userID uuid.UUID) (*Workspace, error) {
	w, err := scanWorkspace(db.Pool.QueryRow(ctx,
		`SELECT `+workspaceCols+` FROM workspaces w WHERE w.owner_id = $1 ORDER BY w.created_at LIMIT 1`, userID))
	if err != nil || w != nil {
		return w, err
	}
	return scanWorkspace(db.Pool.QueryRow(ctx,
		`SELECT `+workspaceCols+` FROM workspaces w
		 JOIN workspace_members m ON m.workspace_id = w.id
		 WHERE m.user_id = $1 ORDER BY m.created_at LIMIT 1`, userID))
}
