package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listinglab/backend/internal/poll"
	"listinglab/backend/internal/provider"
	"listinglab/backend/internal/store"
	"listinglab/backend/internal/stream"
)

type fakeStore struct {
	gen *store.Generation

	completedURL    string
	completedCost   int
	failedMsg       string
	refreshes       int
	processingCalls int
	supersededFrom  uuid.UUID
	supersededKeep  uuid.UUID
}

func (f *fakeStore) GetGeneration(ctx context.Context, id uuid.UUID) (*store.Generation, error) {
	if f.gen != nil && f.gen.ID == id {
		return f.gen, nil
	}
	return nil, nil
}

func (f *fakeStore) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	f.processingCalls++
	if f.gen.Status != store.StatusPending && f.gen.Status != store.StatusProcessing {
		return store.ErrInvalidTransition
	}
	f.gen.Status = store.StatusProcessing
	return nil
}

func (f *fakeStore) MarkCompleted(ctx context.Context, id uuid.UUID, resultURL string, costCents int) error {
	f.gen.Status = store.StatusCompleted
	f.completedURL = resultURL
	f.completedCost = costCents
	return nil
}

func (f *fakeStore) MarkFailed(ctx context.Context, id uuid.UUID, message string) error {
	f.gen.Status = store.StatusFailed
	f.failedMsg = message
	return nil
}

func (f *fakeStore) RefreshProjectCounts(ctx context.Context, projectID uuid.UUID) error {
	f.refreshes++
	return nil
}

func (f *fakeStore) SupersedeNewerSiblings(ctx context.Context, sourceID, keepID uuid.UUID) error {
	f.supersededFrom = sourceID
	f.supersededKeep = keepID
	return nil
}

type fakeProvider struct {
	cap      provider.Capability
	lastGen  provider.GenerateParams
	generate func(provider.GenerateParams) (*provider.Outcome, error)
	statuses []provider.JobStatus
	queries  int
}

func (f *fakeProvider) Capability() provider.Capability { return f.cap }

func (f *fakeProvider) Generate(ctx context.Context, p provider.GenerateParams) (*provider.Outcome, error) {
	f.lastGen = p
	return f.generate(p)
}

func (f *fakeProvider) JobStatus(ctx context.Context, jobID string) (*provider.JobStatus, error) {
	st := f.statuses[f.queries]
	if f.queries < len(f.statuses)-1 {
		f.queries++
	}
	return &st, nil
}

type fakeProgress struct {
	events []stream.Event
}

func (f *fakeProgress) Publish(ctx context.Context, id uuid.UUID, ev stream.Event) error {
	f.events = append(f.events, ev)
	return nil
}

func encodedPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func newTestRunner(fs *fakeStore, p provider.Provider, progress *fakeProgress) (*Runner, *fakeAssets) {
	assets := &fakeAssets{}
	r := &Runner{
		DB:             fs,
		Providers:      provider.NewRegistry(p),
		Media:          &Materializer{Store: newFakeBlob(), Assets: assets, Client: http.DefaultClient},
		Progress:       progress,
		Client:         http.DefaultClient,
		Poll:           poll.Config{Sleep: func(ctx context.Context, d time.Duration) error { return nil }},
		Log:            zerolog.Nop(),
		ImageCostCents: 5,
		VideoCostCents: 25,
	}
	return r, assets
}

func pendingGeneration(mode, providerID, sourceURL string) *store.Generation {
	return &store.Generation{
		ID:          uuid.New(),
		WorkspaceID: uuid.New(),
		ProjectID:   uuid.New(),
		SourceURL:   sourceURL,
		Prompt:      "stage the living room",
		Mode:        mode,
		Provider:    providerID,
		Status:      store.StatusPending,
	}
}

func TestRunMaskedEditEndToEnd(t *testing.T) {
	source := encodedPNG(t, 30, 40)
	result := []byte("result-jpeg")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/source.png":
			w.Header().Set("Content-Type", "image/png")
			w.Write(source)
		case "/result.jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			w.Write(result)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	fp := &fakeProvider{
		cap: provider.Capability{ID: "fal", SupportsMaskInpainting: true},
		generate: func(p provider.GenerateParams) (*provider.Outcome, error) {
			return &provider.Outcome{Result: &provider.Result{URL: srv.URL + "/result.jpg", ContentType: "image/jpeg"}}, nil
		},
	}
	fs := &fakeStore{gen: pendingGeneration("remove", "fal", srv.URL+"/source.png")}
	progress := &fakeProgress{}
	r, assets := newTestRunner(fs, fp, progress)

	maskDataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(encodedPNG(t, 5, 5))
	res := r.Run(context.Background(), Job{GenerationID: fs.gen.ID, MaskDataURL: maskDataURL})

	require.True(t, res.Success, "run failed: %s", res.Error)
	assert.Equal(t, store.StatusCompleted, fs.gen.Status)
	assert.Equal(t, res.ResultURL, fs.completedURL)
	assert.Equal(t, 5, fs.completedCost)
	assert.Equal(t, 1, fs.refreshes)
	require.Len(t, assets.created, 1)

	// The provider saw the raw source and a mask realigned to its pixel grid.
	assert.Equal(t, source, fp.lastGen.SourceBytes)
	cfg, _, err := image.DecodeConfig(bytes.NewReader(fp.lastGen.Mask))
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Width)
	assert.Equal(t, 40, cfg.Height)

	last := progress.events[len(progress.events)-1]
	assert.True(t, last.Done)
	assert.Equal(t, store.StatusCompleted, last.Status)
	assert.Equal(t, res.ResultURL, last.ResultURL)
}

func TestRunVideoPollsUntilCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.Write([]byte("mp4-bytes"))
	}))
	defer srv.Close()

	fp := &fakeProvider{
		cap: provider.Capability{ID: "xai", SupportsVideo: true},
		generate: func(p provider.GenerateParams) (*provider.Outcome, error) {
			return &provider.Outcome{Job: &provider.JobHandle{ID: "req-1"}}, nil
		},
		statuses: []provider.JobStatus{
			{State: provider.JobPending},
			{State: provider.JobProcessing},
			{State: provider.JobCompleted, VideoURL: srv.URL + "/v.mp4"},
		},
	}
	fs := &fakeStore{gen: pendingGeneration("video", "xai", "https://media.example.com/room.jpg")}
	progress := &fakeProgress{}
	r, assets := newTestRunner(fs, fp, progress)

	res := r.Run(context.Background(), Job{GenerationID: fs.gen.ID, Duration: "5"})

	require.True(t, res.Success, "run failed: %s", res.Error)
	assert.Equal(t, 25, fs.completedCost)
	require.Len(t, assets.created, 1)
	assert.Regexp(t, `_video_\d+\.mp4$`, assets.created[0].StorageKey)
	assert.True(t, fp.lastGen.Video)
	assert.Equal(t, "5", fp.lastGen.Duration)
}

func TestRunVideoFailureSurfacesRemoteError(t *testing.T) {
	fp := &fakeProvider{
		cap: provider.Capability{ID: "xai", SupportsVideo: true},
		generate: func(p provider.GenerateParams) (*provider.Outcome, error) {
			return &provider.Outcome{Job: &provider.JobHandle{ID: "req-2"}}, nil
		},
		statuses: []provider.JobStatus{
			{State: provider.JobProcessing},
			{State: provider.JobFailed, Error: "NSFW content detected"},
		},
	}
	fs := &fakeStore{gen: pendingGeneration("video", "xai", "https://media.example.com/room.jpg")}
	progress := &fakeProgress{}
	r, assets := newTestRunner(fs, fp, progress)

	res := r.Run(context.Background(), Job{GenerationID: fs.gen.ID})

	assert.False(t, res.Success)
	assert.Equal(t, store.StatusFailed, fs.gen.Status)
	assert.Equal(t, "NSFW content detected", fs.failedMsg)
	assert.Empty(t, assets.created)
	assert.Empty(t, fs.completedURL)

	last := progress.events[len(progress.events)-1]
	assert.True(t, last.Done)
	assert.Equal(t, store.StatusFailed, last.Status)
	assert.Equal(t, "NSFW content detected", last.Error)
}

func TestRunReplaceNewerSupersedesSiblings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("jpg"))
	}))
	defer srv.Close()

	fp := &fakeProvider{
		cap: provider.Capability{ID: "xai", SupportsVideo: true},
		generate: func(p provider.GenerateParams) (*provider.Outcome, error) {
			return &provider.Outcome{Result: &provider.Result{URL: srv.URL + "/r.jpg"}}, nil
		},
	}
	sourceID := uuid.New()
	fs := &fakeStore{gen: pendingGeneration("add", "xai", "https://media.example.com/room.jpg")}
	fs.gen.SourceGenerationID = &sourceID
	r, _ := newTestRunner(fs, fp, &fakeProgress{})

	res := r.Run(context.Background(), Job{GenerationID: fs.gen.ID, ReplaceNewer: true})

	require.True(t, res.Success, "run failed: %s", res.Error)
	assert.Equal(t, sourceID, fs.supersededFrom)
	assert.Equal(t, fs.gen.ID, fs.supersededKeep)
}

func TestRunSkipsSettledGeneration(t *testing.T) {
	fp := &fakeProvider{
		cap: provider.Capability{ID: "xai"},
		generate: func(p provider.GenerateParams) (*provider.Outcome, error) {
			t.Fatal("provider must not be called for a settled generation")
			return nil, nil
		},
	}
	fs := &fakeStore{gen: pendingGeneration("add", "xai", "https://a/b.jpg")}
	fs.gen.Status = store.StatusCompleted
	r, _ := newTestRunner(fs, fp, &fakeProgress{})

	res := r.Run(context.Background(), Job{GenerationID: fs.gen.ID})
	assert.True(t, res.Skipped)
	assert.False(t, res.Success)
}

func TestRunVideoOnNonVideoProviderFails(t *testing.T) {
	fp := &fakeProvider{
		cap: provider.Capability{ID: "fal", SupportsMaskInpainting: true},
		generate: func(p provider.GenerateParams) (*provider.Outcome, error) {
			t.Fatal("provider must not be called")
			return nil, nil
		},
	}
	fs := &fakeStore{gen: pendingGeneration("video", "fal", "https://a/b.jpg")}
	r, _ := newTestRunner(fs, fp, &fakeProgress{})

	res := r.Run(context.Background(), Job{GenerationID: fs.gen.ID})
	assert.False(t, res.Success)
	assert.Equal(t, store.StatusFailed, fs.gen.Status)
	assert.Contains(t, fs.failedMsg, "does not support video")
	assert.Equal(t, 1, fs.refreshes)
	assert.Zero(t, fs.processingCalls, "validation must settle the row from pending")
}

func TestRunEmptyOutcomeFails(t *testing.T) {
	fp := &fakeProvider{
		cap: provider.Capability{ID: "xai"},
		generate: func(p provider.GenerateParams) (*provider.Outcome, error) {
			return &provider.Outcome{}, nil
		},
	}
	fs := &fakeStore{gen: pendingGeneration("add", "xai", "https://a/b.jpg")}
	r, assets := newTestRunner(fs, fp, &fakeProgress{})

	res := r.Run(context.Background(), Job{GenerationID: fs.gen.ID})
	assert.False(t, res.Success)
	assert.Equal(t, store.StatusFailed, fs.gen.Status)
	assert.Contains(t, fs.failedMsg, "neither a result nor a job")
	assert.Empty(t, assets.created)
}

func TestRunMissingMaskFailsBeforeAnyFetch(t *testing.T) {
	fp := &fakeProvider{
		cap: provider.Capability{ID: "fal", SupportsMaskInpainting: true},
		generate: func(p provider.GenerateParams) (*provider.Outcome, error) {
			t.Fatal("provider must not be called without a mask")
			return nil, nil
		},
	}
	// The source URL is unreachable on purpose: the run must fail on
	// validation before ever touching it.
	fs := &fakeStore{gen: pendingGeneration("remove", "fal", "http://127.0.0.1:1/source.png")}
	progress := &fakeProgress{}
	r, _ := newTestRunner(fs, fp, progress)

	res := r.Run(context.Background(), Job{GenerationID: fs.gen.ID})
	assert.False(t, res.Success)
	assert.Equal(t, store.StatusFailed, fs.gen.Status)
	assert.Contains(t, fs.failedMsg, "mask is required")
	assert.Zero(t, fs.processingCalls, "validation must settle the row from pending")
	for _, ev := range progress.events {
		assert.NotEqual(t, store.StatusProcessing, ev.Status)
	}
}

func TestRunUnknownProviderFails(t *testing.T) {
	fp := &fakeProvider{cap: provider.Capability{ID: "xai"}}
	fs := &fakeStore{gen: pendingGeneration("add", "other", "https://a/b.jpg")}
	r, _ := newTestRunner(fs, fp, &fakeProgress{})

	res := r.Run(context.Background(), Job{GenerationID: fs.gen.ID})
	assert.False(t, res.Success)
	assert.Equal(t, store.StatusFailed, fs.gen.Status)
	assert.Contains(t, fs.failedMsg, "unknown provider")
	assert.Zero(t, fs.processingCalls)
}
