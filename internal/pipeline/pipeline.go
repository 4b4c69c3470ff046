package pipeline

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vincent-petithory/dataurl"

	"listinglab/backend/internal/domain"
	"listinglab/backend/internal/mask"
	"listinglab/backend/internal/poll"
	"listinglab/backend/internal/provider"
	"listinglab/backend/internal/store"
	"listinglab/backend/internal/stream"
)

// GenerationStore is the persistence surface the runner drives.
type GenerationStore interface {
	GetGeneration(ctx context.Context, id uuid.UUID) (*store.Generation, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	MarkCompleted(ctx context.Context, id uuid.UUID, resultURL string, costCents int) error
	MarkFailed(ctx context.Context, id uuid.UUID, message string) error
	RefreshProjectCounts(ctx context.Context, projectID uuid.UUID) error
	SupersedeNewerSiblings(ctx context.Context, sourceID, keepID uuid.UUID) error
}

// ProgressPublisher pushes live status updates toward subscribed clients.
type ProgressPublisher interface {
	Publish(ctx context.Context, generationID uuid.UUID, ev stream.Event) error
}

// Job is the unit of work handed to the runner by the queue. The mask and
// version-replacement flag travel in the task payload rather than the row.
type Job struct {
	GenerationID uuid.UUID
	MaskDataURL  string
	ReplaceNewer bool
	Duration     string
	AspectRatio  string
}

// RunResult reports the outcome of one pipeline run.
type RunResult struct {
	GenerationID uuid.UUID
	Success      bool
	Skipped      bool
	ResultURL    string
	Error        string
}

// Runner executes the full generation pipeline: validate, call the provider,
// wait out async jobs, materialize the result, and settle the row.
type Runner struct {
	DB        GenerationStore
	Providers *provider.Registry
	Media     *Materializer
	Progress  ProgressPublisher
	Client    *http.Client
	Poll      poll.Config
	Log       zerolog.Logger

	ImageCostCents int
	VideoCostCents int
}

func NewRunner(db GenerationStore, reg *provider.Registry, media *Materializer, progress ProgressPublisher, log zerolog.Logger) *Runner {
	return &Runner{
		DB:             db,
		Providers:      reg,
		Media:          media,
		Progress:       progress,
		Client:         &http.Client{Timeout: 2 * time.Minute},
		Log:            log,
		ImageCostCents: 5,
		VideoCostCents: 25,
	}
}

func (r *Runner) Run(ctx context.Context, job Job) RunResult {
	log := r.Log.With().Str("generation_id", job.GenerationID.String()).Logger()

	g, err := r.DB.GetGeneration(ctx, job.GenerationID)
	if err != nil {
		log.Error().Err(err).Msg("loading generation")
		return RunResult{GenerationID: job.GenerationID, Error: err.Error()}
	}
	if g == nil {
		log.Warn().Msg("generation not found, dropping task")
		return RunResult{GenerationID: job.GenerationID, Skipped: true}
	}

	// Validation failures settle the row straight from pending; only a
	// runnable request ever transitions to processing.
	p, err := r.Providers.Get(g.Provider)
	if err != nil {
		return r.fail(ctx, g, err, log)
	}
	cap := p.Capability()

	isVideo := g.Mode == "video"
	if isVideo && !cap.SupportsVideo {
		return r.fail(ctx, g, domain.E(domain.KindInvalidRequest, "provider %q does not support video", cap.ID), log)
	}
	needsMask := cap.SupportsMaskInpainting && !isVideo
	if needsMask && job.MaskDataURL == "" {
		return r.fail(ctx, g, domain.E(domain.KindInvalidRequest, "mask is required for provider %q", cap.ID), log)
	}

	if err := r.DB.MarkProcessing(ctx, g.ID); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			// Already settled; a redelivered task must not rerun the pipeline.
			log.Warn().Str("status", g.Status).Msg("generation not runnable, skipping")
			return RunResult{GenerationID: g.ID, Skipped: true}
		}
		return r.fail(ctx, g, err, log)
	}
	r.publish(ctx, g.ID, stream.Event{Status: store.StatusProcessing})

	params := provider.GenerateParams{
		SourceURL:   g.SourceURL,
		Prompt:      g.Prompt,
		Video:       isVideo,
		Duration:    job.Duration,
		AspectRatio: job.AspectRatio,
	}

	if needsMask {
		src, srcType, err := r.fetchSource(ctx, g.SourceURL)
		if err != nil {
			return r.fail(ctx, g, err, log)
		}
		params.SourceBytes = src
		params.SourceContentType = srcType
		rawMask, err := mask.FromDataURL(job.MaskDataURL)
		if err != nil {
			return r.fail(ctx, g, err, log)
		}
		w, h, err := mask.Dimensions(src)
		if err != nil {
			return r.fail(ctx, g, domain.Wrap(domain.KindInvalidMask, err), log)
		}
		aligned, err := mask.Align(rawMask, w, h)
		if err != nil {
			return r.fail(ctx, g, err, log)
		}
		params.Mask = aligned
	} else if job.MaskDataURL != "" {
		// Prompt-only providers describe the edit in text; the mask is advisory.
		log.Debug().Str("provider", cap.ID).Msg("provider takes no mask, ignoring")
	}

	outcome, err := p.Generate(ctx, params)
	if err != nil {
		return r.fail(ctx, g, err, log)
	}

	var result provider.Result
	if outcome.Job != nil {
		cfg := r.Poll
		attempt := 0
		cfg.OnProgress = func(st provider.JobStatus) {
			attempt++
			r.publish(ctx, g.ID, stream.Event{Status: store.StatusProcessing, Attempt: attempt})
		}
		url, err := poll.Wait(ctx, cfg, func(ctx context.Context) (*provider.JobStatus, error) {
			return p.JobStatus(ctx, outcome.Job.ID)
		})
		if err != nil {
			return r.fail(ctx, g, err, log)
		}
		result = provider.Result{URL: url}
	} else {
		if outcome.Result == nil {
			return r.fail(ctx, g, domain.E(domain.KindEmptyResult, "provider %q returned neither a result nor a job", cap.ID), log)
		}
		result = *outcome.Result
	}

	suffix, kind := "edited", "image"
	if isVideo {
		suffix, kind = "video", "video"
	}
	asset, err := r.Media.Materialize(ctx, MaterializeInput{
		WorkspaceID:  g.WorkspaceID,
		ProjectID:    g.ProjectID,
		GenerationID: g.ID,
		RemoteURL:    result.URL,
		ContentType:  result.ContentType,
		Kind:         kind,
		Suffix:       suffix,
	})
	if err != nil {
		return r.fail(ctx, g, err, log)
	}

	cost := r.ImageCostCents
	if isVideo {
		cost = r.VideoCostCents
	}
	if err := r.DB.MarkCompleted(ctx, g.ID, asset.URL, cost); err != nil {
		return r.fail(ctx, g, err, log)
	}
	if err := r.DB.RefreshProjectCounts(ctx, g.ProjectID); err != nil {
		log.Error().Err(err).Msg("refreshing project counts")
	}
	if job.ReplaceNewer && g.SourceGenerationID != nil {
		if err := r.DB.SupersedeNewerSiblings(ctx, *g.SourceGenerationID, g.ID); err != nil {
			log.Error().Err(err).Msg("superseding newer versions")
		}
	}

	r.publish(ctx, g.ID, stream.Event{Status: store.StatusCompleted, ResultURL: asset.URL, Done: true})
	log.Info().Str("result_url", asset.URL).Msg("generation completed")
	return RunResult{GenerationID: g.ID, Success: true, ResultURL: asset.URL}
}

func (r *Runner) fail(ctx context.Context, g *store.Generation, err error, log zerolog.Logger) RunResult {
	msg := domain.Message(err)
	log.Error().Err(err).Str("kind", string(domain.KindOf(err))).Msg("generation failed")
	if ferr := r.DB.MarkFailed(ctx, g.ID, msg); ferr != nil && !errors.Is(ferr, store.ErrInvalidTransition) {
		log.Error().Err(ferr).Msg("marking generation failed")
	}
	if rerr := r.DB.RefreshProjectCounts(ctx, g.ProjectID); rerr != nil {
		log.Error().Err(rerr).Msg("refreshing project counts")
	}
	r.publish(ctx, g.ID, stream.Event{Status: store.StatusFailed, Error: msg, Done: true})
	return RunResult{GenerationID: g.ID, Error: msg}
}

func (r *Runner) publish(ctx context.Context, id uuid.UUID, ev stream.Event) {
	if r.Progress == nil {
		return
	}
	if err := r.Progress.Publish(ctx, id, ev); err != nil {
		r.Log.Debug().Err(err).Msg("publishing progress")
	}
}

// fetchSource downloads the image under edit. Data URLs are decoded inline so
// freshly uploaded sources work without a public URL.
func (r *Runner) fetchSource(ctx context.Context, rawURL string) ([]byte, string, error) {
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
	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, "", domain.Wrap(domain.KindFetch, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", domain.E(domain.KindFetch, "fetching source image: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", domain.Wrap(domain.KindFetch, err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}
