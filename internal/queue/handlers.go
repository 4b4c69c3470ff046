package queue

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"listinglab/backend/internal/cache"
	"listinglab/backend/internal/pipeline"
	"listinglab/backend/internal/store"
)

type Handlers struct {
	DB     *store.DB
	Runner *pipeline.Runner
	Cache  *cache.Redis
	Log    zerolog.Logger
}

// GenerationHandler runs the pipeline for one queued generation. Edit and
// video tasks share it; the row's mode decides the provider path.
func (h *Handlers) GenerationHandler(ctx context.Context, t *asynq.Task) error {
	var p GenerationPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return err
	}
	res := h.Runner.Run(ctx, pipeline.Job{
		GenerationID: p.GenerationID,
		MaskDataURL:  p.MaskDataURL,
		ReplaceNewer: p.ReplaceNewer,
		Duration:     p.Duration,
		AspectRatio:  p.AspectRatio,
	})
	if res.Success || res.Skipped {
		h.invalidateCaches(ctx)
	}
	// The row already records the failure; retrying through asynq would
	// double-charge the provider, so the task always completes.
	return nil
}

// SweepHandler fails generations stuck in pending/processing past the
// timeout, so crashed workers cannot leave rows spinning forever.
func (h *Handlers) SweepHandler(ctx context.Context, t *asynq.Task) error {
	stale, err := h.DB.ListStaleActive(ctx, StaleAfterMinutes)
	if err != nil || len(stale) == 0 {
		return err
	}
	for _, g := range stale {
		if err := h.DB.MarkFailed(ctx, g.ID, "Generation timed out. Please try again."); err != nil {
			continue
		}
		h.Log.Warn().Str("generation_id", g.ID.String()).Msg("swept stale generation")
		if err := h.DB.RefreshProjectCounts(ctx, g.ProjectID); err != nil {
			h.Log.Error().Err(err).Msg("refreshing project counts")
		}
	}
	h.invalidateCaches(ctx)
	return nil
}

func (h *Handlers) invalidateCaches(ctx context.Context) {
	if h.Cache == nil {
		return
	}
	_ = h.Cache.DeleteByPrefix(ctx, "admin:")
}

func (h *Handlers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeEdit, h.GenerationHandler)
	mux.HandleFunc(TypeVideo, h.GenerationHandler)
	mux.HandleFunc(TypeSweep, h.SweepHandler)
}
