package poll

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listinglab/backend/internal/domain"
	"listinglab/backend/internal/provider"
)

func noSleep(ctx context.Context, d time.Duration) error { return nil }

// scripted returns each status in order, then repeats the last one.
func scripted(queries *int, statuses ...provider.JobStatus) StatusFunc {
	i := 0
	return func(ctx context.Context) (*provider.JobStatus, error) {
		*queries++
		st := statuses[i]
		if i < len(statuses)-1 {
			i++
		}
		return &st, nil
	}
}

func TestWaitReturnsURLOnCompletion(t *testing.T) {
	var queries, progress int
	query := scripted(&queries,
		provider.JobStatus{State: provider.JobPending},
		provider.JobStatus{State: provider.JobProcessing},
		provider.JobStatus{State: provider.JobCompleted, VideoURL: "https://cdn.example.com/out.mp4"},
	)
	cfg := Config{
		Sleep:      noSleep,
		OnProgress: func(provider.JobStatus) { progress++ },
	}

	url, err := Wait(context.Background(), cfg, query)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/out.mp4", url)
	assert.Equal(t, 3, queries)
	assert.Equal(t, 3, progress)
}

func TestWaitSurfacesRemoteFailureVerbatim(t *testing.T) {
	var queries int
	query := scripted(&queries,
		provider.JobStatus{State: provider.JobProcessing},
		provider.JobStatus{State: provider.JobFailed, Error: "NSFW content detected"},
	)

	_, err := Wait(context.Background(), Config{Sleep: noSleep}, query)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindProvider))
	assert.Equal(t, "NSFW content detected", domain.Message(err))
	assert.Equal(t, 2, queries)
}

func TestWaitCompletedWithoutURLIsInconsistent(t *testing.T) {
	var queries int
	query := scripted(&queries, provider.JobStatus{State: provider.JobCompleted})

	_, err := Wait(context.Background(), Config{Sleep: noSleep}, query)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindInconsistentState))
}

func TestWaitTimesOutAfterExactlyMaxAttempts(t *testing.T) {
	var queries, sleeps int
	query := scripted(&queries, provider.JobStatus{State: provider.JobProcessing})
	cfg := Config{
		MaxAttempts: 120,
		Sleep: func(ctx context.Context, d time.Duration) error {
			sleeps++
			return nil
		},
	}

	_, err := Wait(context.Background(), cfg, query)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindTimeout))
	assert.Equal(t, 120, queries)
	// No sleep after the final attempt.
	assert.Equal(t, 119, sleeps)
}

func TestWaitCancelledIsNotTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var queries int
	query := scripted(&queries, provider.JobStatus{State: provider.JobProcessing})
	cfg := Config{
		Sleep: func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		},
	}

	_, err := Wait(ctx, cfg, query)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindCancelled))
	assert.Equal(t, 1, queries)
}

func TestWaitPropagatesQueryError(t *testing.T) {
	boom := domain.E(domain.KindProvider, "status endpoint down")
	query := func(ctx context.Context) (*provider.JobStatus, error) { return nil, boom }

	_, err := Wait(context.Background(), Config{Sleep: noSleep}, query)
	assert.Equal(t, boom, err)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultInterval, cfg.Interval)
	assert.Equal(t, DefaultMaxAttempts, cfg.MaxAttempts)
	assert.NotNil(t, cfg.Sleep)
}
