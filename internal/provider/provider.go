package provider

import (
	"context"

	"listinglab/backend/internal/domain"
)

// Capability is the static, read-only description of one backend. The
// dispatch between variants is driven by these flags, never by inspecting
// response shapes upstream.
type Capability struct {
	ID                     string `json:"id"`
	Name                   string `json:"name"`
	Description            string `json:"description"`
	SupportsMaskInpainting bool   `json:"supports_mask_inpainting"`
	SupportsVideo          bool   `json:"supports_video"`
}

// GenerateParams is the normalized input to any provider.
type GenerateParams struct {
	SourceURL         string
	SourceBytes       []byte
	SourceContentType string
	Mask              []byte // aligned PNG bytes; nil when the caller supplied none
	Prompt            string
	Video             bool
	Duration          string // video only, seconds as string, e.g. "5"
	AspectRatio       string // video only, e.g. "16:9"
}

// Result is an immediately available generation output.
type Result struct {
	URL         string
	ContentType string
}

// JobHandle identifies an asynchronous generation that must be polled.
type JobHandle struct {
	ID string
}

// Outcome is the single normalized shape every adapter returns: exactly one
// of Result or Job is set.
type Outcome struct {
	Result *Result
	Job    *JobHandle
}

type JobState string

const (
	JobPending    JobState = "pending"
	JobProcessing JobState = "processing"
	JobCompleted  JobState = "completed"
	JobFailed     JobState = "failed"
)

// Terminal reports whether no further transitions occur for this state.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// JobStatus is one observation of an asynchronous job.
type JobStatus struct {
	State    JobState
	VideoURL string
	Error    string
}

// Provider is the uniform contract over the generation backends.
type Provider interface {
	Capability() Capability
	// Generate performs the remote call. Synchronous backends respond with
	// Outcome.Result; asynchronous ones with Outcome.Job.
	Generate(ctx context.Context, p GenerateParams) (*Outcome, error)
	// JobStatus queries one asynchronous job. Backends without async jobs
	// return an invalid_request error.
	JobStatus(ctx context.Context, jobID string) (*JobStatus, error)
}

// Registry resolves a provider by its identifier passed at the call boundary.
type Registry struct {
	byID  map[string]Provider
	order []string
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{byID: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		id := p.Capability().ID
		if _, dup := r.byID[id]; !dup {
			r.order = append(r.order, id)
		}
		r.byID[id] = p
	}
	return r
}

func (r *Registry) Get(id string) (Provider, error) {
	p, ok := r.byID[id]
	if !ok {
		return nil, domain.E(domain.KindInvalidRequest, "unknown provider %q", id)
	}
	return p, nil
}

// Capabilities lists registered providers in registration order.
func (r *Registry) Capabilities() []Capability {
	caps := make([]Capability, 0, len(r.order))
	for _, id := range r.order {
		caps = append(caps, r.byID[id].Capability())
	}
	return caps
}
