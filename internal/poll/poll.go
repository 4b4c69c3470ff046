// Package poll drives an asynchronous provider job to a terminal state by
// querying its status at a fixed interval up to a bounded attempt count.
package poll

import (
	"context"
	"time"

	"listinglab/backend/internal/domain"
	"listinglab/backend/internal/provider"
)

const (
	DefaultInterval    = 5 * time.Second
	DefaultMaxAttempts = 120 // 10 minutes at the default interval
)

// StatusFunc queries the remote job once.
type StatusFunc func(ctx context.Context) (*provider.JobStatus, error)

// Config tunes one wait. Sleep is injectable so tests run without real
// delays; when nil a context-aware time.Sleep is used.
type Config struct {
	Interval    time.Duration
	MaxAttempts int
	OnProgress  func(provider.JobStatus)
	Sleep       func(ctx context.Context, d time.Duration) error
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Sleep == nil {
		c.Sleep = sleep
	}
	return c
}

// Wait polls query until the job reaches a terminal state and returns the
// result URL. Each attempt observes the status exactly once and reports it
// to OnProgress before terminal evaluation. Outcomes:
//   - completed with a URL: the URL is returned;
//   - completed without a URL: inconsistent_state;
//   - failed: provider error carrying the remote message verbatim;
//   - MaxAttempts non-terminal observations: timeout, no partial result;
//   - context cancelled before a sleep: cancelled (distinct from timeout).
func Wait(ctx context.Context, cfg Config, query StatusFunc) (string, error) {
	cfg = cfg.withDefaults()
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		st, err := query(ctx)
		if err != nil {
			return "", err
		}
		if cfg.OnProgress != nil {
			cfg.OnProgress(*st)
		}
		switch st.State {
		case provider.JobCompleted:
			if st.VideoURL == "" {
				return "", domain.E(domain.KindInconsistentState, "job completed without a result url")
			}
			return st.VideoURL, nil
		case provider.JobFailed:
			msg := st.Error
			if msg == "" {
				msg = "generation failed"
			}
			return "", domain.E(domain.KindProvider, "%s", msg)
		}
		if attempt == cfg.MaxAttempts {
			break
		}
		if err := cfg.Sleep(ctx, cfg.Interval); err != nil {
			return "", domain.E(domain.KindCancelled, "wait cancelled: %v", err)
		}
	}
	return "", domain.E(domain.KindTimeout, "job did not reach a terminal state after %d attempts", cfg.MaxAttempts)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
