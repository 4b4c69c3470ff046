package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listinglab/backend/internal/domain"
	"listinglab/backend/internal/store"
)

type fakeBlob struct {
	puts map[string][]byte
	cts  map[string]string
}

func newFakeBlob() *fakeBlob {
	return &fakeBlob{puts: map[string][]byte{}, cts: map[string]string{}}
}

func (f *fakeBlob) Put(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	b, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	f.puts[key] = b
	f.cts[key] = contentType
	return key, nil
}

func (f *fakeBlob) URL(key string) string { return "https://media.test/" + key }

type fakeAssets struct {
	created []*store.MediaAsset
}

func (f *fakeAssets) CreateAsset(ctx context.Context, a *store.MediaAsset) error {
	f.created = append(f.created, a)
	return nil
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 3, 3))))
	return buf.Bytes()
}

func testInput(remoteURL string) MaterializeInput {
	return MaterializeInput{
		WorkspaceID:  uuid.New(),
		ProjectID:    uuid.New(),
		GenerationID: uuid.New(),
		RemoteURL:    remoteURL,
		Kind:         "image",
		Suffix:       "edited",
	}
}

func TestMaterializeStoresAndRecordsAsset(t *testing.T) {
	body := []byte("jpeg-payload")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(body)
	}))
	defer srv.Close()

	blob := newFakeBlob()
	assets := &fakeAssets{}
	m := &Materializer{Store: blob, Assets: assets, Client: srv.Client()}

	in := testInput(srv.URL + "/result")
	asset, err := m.Materialize(context.Background(), in)
	require.NoError(t, err)

	keyPattern := fmt.Sprintf(`^%s/%s/%s_edited_\d+\.jpg$`, in.WorkspaceID, in.ProjectID, in.GenerationID)
	assert.Regexp(t, regexp.MustCompile(keyPattern), asset.StorageKey)
	assert.Equal(t, "https://media.test/"+asset.StorageKey, asset.URL)
	assert.Equal(t, "image/jpeg", asset.ContentType)
	assert.Equal(t, int64(len(body)), asset.SizeBytes)

	require.Len(t, assets.created, 1)
	assert.Equal(t, body, blob.puts[asset.StorageKey])
}

func TestMaterializeSniffsExtensionWhenTypeIsOpaque(t *testing.T) {
	body := pngBytes(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(body)
	}))
	defer srv.Close()

	m := &Materializer{Store: newFakeBlob(), Assets: &fakeAssets{}, Client: srv.Client()}
	asset, err := m.Materialize(context.Background(), testInput(srv.URL+"/blob"))
	require.NoError(t, err)
	assert.Regexp(t, `\.png$`, asset.StorageKey)
}

func TestMaterializeDecodesDataURLs(t *testing.T) {
	raw := []byte("inline-bytes")
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw)

	blob := newFakeBlob()
	m := &Materializer{Store: blob, Assets: &fakeAssets{}, Client: http.DefaultClient}
	asset, err := m.Materialize(context.Background(), testInput(dataURL))
	require.NoError(t, err)
	assert.Equal(t, raw, blob.puts[asset.StorageKey])
	assert.Regexp(t, `\.png$`, asset.StorageKey)
}

func TestMaterializeVideoDefaultsToMP4(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write([]byte("not-sniffable-video"))
	}))
	defer srv.Close()

	m := &Materializer{Store: newFakeBlob(), Assets: &fakeAssets{}, Client: srv.Client()}
	in := testInput(srv.URL + "/v")
	in.Kind = "video"
	in.Suffix = "video"
	asset, err := m.Materialize(context.Background(), in)
	require.NoError(t, err)
	assert.Regexp(t, `_video_\d+\.mp4$`, asset.StorageKey)
}

func TestMaterializeFetchFailureIsFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	assets := &fakeAssets{}
	m := &Materializer{Store: newFakeBlob(), Assets: assets, Client: srv.Client()}
	_, err := m.Materialize(context.Background(), testInput(srv.URL+"/gone"))
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindFetch))
	assert.Empty(t, assets.created)
}
