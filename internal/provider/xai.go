package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"listinglab/backend/internal/domain"
)

// XAIConfig configures the prompt-only backend.
type XAIConfig struct {
	APIKey     string
	BaseURL    string // e.g. https://api.x.ai/v1
	ImageModel string
	VideoModel string
	HTTPClient *http.Client
}

// XAI is the prompt-only variant. It has no mask support (a supplied mask
// is ignored) and its video path is asynchronous: generation returns a
// request id that must be polled via JobStatus.
type XAI struct {
	cfg    XAIConfig
	client *http.Client
}

func NewXAI(cfg XAIConfig) (*XAI, error) {
	if cfg.APIKey == "" {
		return nil, domain.E(domain.KindConfiguration, "XAI_API_KEY is not set")
	}
	if cfg.ImageModel == "" {
		cfg.ImageModel = "grok-2-image"
	}
	if cfg.VideoModel == "" {
		cfg.VideoModel = "grok-2-video"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	return &XAI{cfg: cfg, client: client}, nil
}

func (x *XAI) Capability() Capability {
	return Capability{
		ID:                     "xai",
		Name:                   "xAI Grok",
		Description:            "Prompt-based editing and image-to-video. The whole image is re-interpreted from the prompt; no mask support.",
		SupportsMaskInpainting: false,
		SupportsVideo:          true,
	}
}

func (x *XAI) Generate(ctx context.Context, p GenerateParams) (*Outcome, error) {
	if p.Video {
		return x.submitVideo(ctx, p)
	}
	return x.editImage(ctx, p)
}

type xaiImageEditResponse struct {
	Data []struct {
		URL     string `json:"url"`
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

func (x *XAI) editImage(ctx context.Context, p GenerateParams) (*Outcome, error) {
	image := p.SourceURL
	if image == "" {
		if len(p.SourceBytes) == 0 {
			return nil, domain.E(domain.KindInvalidRequest, "source image is required")
		}
		srcType := p.SourceContentType
		if srcType == "" {
			srcType = "image/jpeg"
		}
		image = "data:" + srcType + ";base64," + base64.StdEncoding.EncodeToString(p.SourceBytes)
	}
	var out xaiImageEditResponse
	err := x.doJSON(ctx, http.MethodPost, "/images/edits", map[string]interface{}{
		"image":  image,
		"prompt": p.Prompt,
		"model":  x.cfg.ImageModel,
		"n":      1,
	}, &out)
	if err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return nil, domain.E(domain.KindEmptyResult, "no image returned from image edit")
	}
	d := out.Data[0]
	switch {
	case d.URL != "":
		return &Outcome{Result: &Result{URL: d.URL, ContentType: "image/jpeg"}}, nil
	case d.B64JSON != "":
		return &Outcome{Result: &Result{URL: "data:image/png;base64," + d.B64JSON, ContentType: "image/png"}}, nil
	default:
		return nil, domain.E(domain.KindEmptyResult, "image edit response had neither url nor b64_json")
	}
}

func (x *XAI) submitVideo(ctx context.Context, p GenerateParams) (*Outcome, error) {
	duration := p.Duration
	if duration == "" {
		duration = "5"
	}
	aspect := p.AspectRatio
	if aspect == "" {
		aspect = "16:9"
	}
	var out struct {
		RequestID string `json:"request_id"`
	}
	err := x.doJSON(ctx, http.MethodPost, "/video/generations", map[string]interface{}{
		"prompt":       p.Prompt,
		"model":        x.cfg.VideoModel,
		"image_url":    p.SourceURL,
		"duration":     duration,
		"aspect_ratio": aspect,
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.RequestID == "" {
		return nil, domain.E(domain.KindEmptyResult, "video submission returned no request_id")
	}
	return &Outcome{Job: &JobHandle{ID: out.RequestID}}, nil
}

func (x *XAI) JobStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	var out struct {
		Status   string `json:"status"`
		VideoURL string `json:"video_url"`
		Error    string `json:"error"`
	}
	if err := x.doJSON(ctx, http.MethodGet, "/video/generations/"+jobID, nil, &out); err != nil {
		return nil, err
	}
	state := JobState(out.Status)
	switch state {
	case JobPending, JobProcessing, JobCompleted, JobFailed:
	default:
		// Unknown statuses are treated as still in flight.
		state = JobProcessing
	}
	return &JobStatus{State: state, VideoURL: out.VideoURL, Error: out.Error}, nil
}

func (x *XAI) doJSON(ctx context.Context, method, path string, in interface{}, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return domain.Wrap(domain.KindProvider, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, x.cfg.BaseURL+path, body)
	if err != nil {
		return domain.Wrap(domain.KindProvider, err)
	}
	req.Header.Set("Authorization", "Bearer "+x.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := x.client.Do(req)
	if err != nil {
		return domain.Wrap(domain.KindProvider, err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.ProviderHTTP(resp.StatusCode, string(respBody))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return domain.E(domain.KindProvider, "decode response: %v", err)
	}
	return nil
}

var _ Provider = (*XAI)(nil)
