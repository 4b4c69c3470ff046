package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/vincent-petithory/dataurl"

	"listinglab/backend/internal/domain"
	"listinglab/backend/internal/storage"
	"listinglab/backend/internal/store"
)

// BlobStore is the subset of the object store the materializer needs.
type BlobStore interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
	URL(key string) string
}

// AssetWriter persists the media_assets row for a materialized result.
type AssetWriter interface {
	CreateAsset(ctx context.Context, a *store.MediaAsset) error
}

// Materializer copies provider-hosted results into our own object storage.
// Provider URLs expire; the asset row plus stored object is the durable copy.
type Materializer struct {
	Store  BlobStore
	Assets AssetWriter
	Client *http.Client
}

func NewMaterializer(s *storage.Store, db AssetWriter) *Materializer {
	return &Materializer{
		Store:  s,
		Assets: db,
		Client: &http.Client{Timeout: 2 * time.Minute},
	}
}

// MaterializeInput identifies where the result lives and where it belongs.
type MaterializeInput struct {
	WorkspaceID  uuid.UUID
	ProjectID    uuid.UUID
	GenerationID uuid.UUID
	RemoteURL    string
	ContentType  string // provider hint, may be empty
	Kind         string // "image" or "video", drives the fallback extension
	Suffix       string // e.g. "edited", "video"
}

// Materialize downloads the remote result, uploads it under a collision-free
// key, and records the asset. Returns the stored asset row.
func (m *Materializer) Materialize(ctx context.Context, in MaterializeInput) (*store.MediaAsset, error) {
	body, contentType, err := m.fetch(ctx, in.RemoteURL)
	if err != nil {
		return nil, err
	}
	if contentType == "" {
		contentType = in.ContentType
	}
	ext := resolveExt(contentType, body, in.Kind)
	if contentType == "" {
		contentType = mimetype.Detect(body).String()
	}

	key := fmt.Sprintf("%s/%s/%s_%s_%d%s",
		in.WorkspaceID, in.ProjectID, in.GenerationID, in.Suffix, time.Now().UnixMilli(), ext)
	if _, err := m.Store.Put(ctx, key, bytes.NewReader(body), contentType); err != nil {
		return nil, domain.Wrap(domain.KindFetch, err)
	}

	asset := &store.MediaAsset{
		GenerationID: in.GenerationID,
		StorageKey:   key,
		URL:          m.Store.URL(key),
		ContentType:  contentType,
		SizeBytes:    int64(len(body)),
	}
	if err := m.Assets.CreateAsset(ctx, asset); err != nil {
		return nil, err
	}
	return asset, nil
}

// fetch reads the result bytes. Providers return either an https URL or, for
// base64 responses, a data URL we already normalized upstream.
func (m *Materializer) fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	if strings.HasPrefix(rawURL, "data:") {
		du, err := dataurl.DecodeString(rawURL)
		if err != nil {
			return nil, "", domain.Wrap(domain.KindFetch, err)
		}
		return du.Data, du.MediaType.ContentType(), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", domain.Wrap(domain.KindFetch, err)
	}
	resp, err := m.Client.Do(req)
	if err != nil {
		return nil, "", domain.Wrap(domain.KindFetch, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", domain.E(domain.KindFetch, "fetching result: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", domain.Wrap(domain.KindFetch, err)
	}
	contentType := resp.Header.Get("Content-Type")
	if i := strings.Index(contentType, ";"); i > 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	return body, contentType, nil
}

// resolveExt picks a file extension: the declared content type first, then
// sniffing the bytes, then a default keyed on the media kind.
func resolveExt(contentType string, body []byte, kind string) string {
	switch {
	case strings.HasPrefix(contentType, "image/png"):
		return ".png"
	case strings.HasPrefix(contentType, "image/jpeg"), strings.HasPrefix(contentType, "image/jpg"):
		return ".jpg"
	case strings.HasPrefix(contentType, "image/webp"):
		return ".webp"
	case strings.HasPrefix(contentType, "image/gif"):
		return ".gif"
	case strings.HasPrefix(contentType, "video/mp4"):
		return ".mp4"
	case strings.HasPrefix(contentType, "video/webm"):
		return ".webm"
	}
	if mt := mimetype.Detect(body); mt.Extension() != "" && !mt.Is("application/octet-stream") && !mt.Is("text/plain") {
		return mt.Extension()
	}
	if kind == "video" {
		return ".mp4"
	}
	return ".png"
}
