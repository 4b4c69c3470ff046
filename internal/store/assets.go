package store

import (
	"context"

	"github.com/google/uuid"
)

// MediaAsset is one durably persisted generation result. Rows are immutable:
// a re-edit always materializes a new asset, never rewrites an existing one.
type MediaAsset struct {
	ID           uuid.UUID `json:"id"`
	GenerationID uuid.UUID `json:"generation_id"`
	StorageKey   string    `json:"storage_key"`
	URL          string    `json:"url"`
	ContentType  string    `json:"content_type"`
	SizeBytes    int64     `json:"size_bytes"`
	CreatedAt    string    `json:"created_at"`
}

func (db *DB) CreateAsset(ctx context.Context, a *MediaAsset) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO media_assets (id, generation_id, storage_key, url, content_type, size_bytes)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		a.ID, a.GenerationID, a.StorageKey, a.URL, a.ContentType, a.SizeBytes)
	return err
}

func (db *DB) ListAssetsByGeneration(ctx context.Context, generationID uuid.UUID) ([]MediaAsset, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT id, generation_id, storage_key, url, content_type, size_bytes, created_at::text
		 FROM media_assets WHERE generation_id = $1 ORDER BY created_at`, generationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []MediaAsset
	for rows.Next() {
		var a MediaAsset
		if err := rows.Scan(&a.ID, &a.GenerationID, &a.StorageKey, &a.URL, &a.ContentType, &a.SizeBytes, &a.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}
