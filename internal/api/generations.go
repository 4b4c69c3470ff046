package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"listinglab/backend/internal/queue"
	"listinglab/backend/internal/store"
	"listinglab/backend/internal/stream"
)

const defaultRemovePrompt = "Remove the selected objects and reconstruct the background naturally."

type createGenerationRequest struct {
	ProjectID          uuid.UUID  `json:"project_id"`
	SourceURL          string     `json:"source_url"`
	SourceGenerationID *uuid.UUID `json:"source_generation_id,omitempty"`
	Prompt             string     `json:"prompt"`
	Mode               string     `json:"mode"`
	Provider           string     `json:"provider"`
	MaskDataURL        string     `json:"mask_data_url,omitempty"`
	ReplaceNewer       bool       `json:"replace_newer,omitempty"`
	Duration           string     `json:"duration,omitempty"`
	AspectRatio        string     `json:"aspect_ratio,omitempty"`
}

func (s *Server) createGeneration(w http.ResponseWriter, r *http.Request) {
	ws := s.workspaceFor(w, r)
	if ws == nil {
		return
	}
	var req createGenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.SourceURL == "" {
		writeError(w, http.StatusBadRequest, "source_url required")
		return
	}
	switch req.Mode {
	case "remove":
		if strings.TrimSpace(req.Prompt) == "" {
			req.Prompt = defaultRemovePrompt
		}
	case "add", "video":
		if strings.TrimSpace(req.Prompt) == "" {
			writeError(w, http.StatusBadRequest, "prompt required")
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "mode must be remove, add or video")
		return
	}

	p, err := s.Providers.Get(req.Provider)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown provider: "+req.Provider)
		return
	}
	cap := p.Capability()
	if req.Mode == "video" && !cap.SupportsVideo {
		writeError(w, http.StatusBadRequest, "provider "+cap.ID+" does not support video")
		return
	}
	if req.Mode != "video" && cap.SupportsMaskInpainting && req.MaskDataURL == "" {
		writeError(w, http.StatusBadRequest, "mask required for provider "+cap.ID)
		return
	}

	project, err := s.DB.GetProject(r.Context(), req.ProjectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db error")
		return
	}
	if project == nil || project.WorkspaceID != ws.ID {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}

	g := &store.Generation{
		WorkspaceID:        ws.ID,
		ProjectID:          project.ID,
		SourceGenerationID: req.SourceGenerationID,
		SourceURL:          req.SourceURL,
		Prompt:             req.Prompt,
		Mode:               req.Mode,
		Provider:           req.Provider,
	}
	if err := s.DB.CreateGeneration(r.Context(), g); err != nil {
		writeError(w, http.StatusInternalServerError, "db error")
		return
	}
	if err := s.DB.RefreshProjectCounts(r.Context(), project.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "db error")
		return
	}

	payload := queue.GenerationPayload{
		GenerationID: g.ID,
		MaskDataURL:  req.MaskDataURL,
		ReplaceNewer: req.ReplaceNewer,
		Duration:     req.Duration,
		AspectRatio:  req.AspectRatio,
	}
	var task, taskErr = queue.NewEditTask(payload)
	if req.Mode == "video" {
		task, taskErr = queue.NewVideoTask(payload)
	}
	if taskErr != nil {
		writeError(w, http.StatusInternalServerError, "enqueue error")
		return
	}
	if _, err := s.Asynq.Enqueue(task); err != nil {
		_ = s.DB.MarkFailed(r.Context(), g.ID, "Could not queue generation. Please try again.")
		writeError(w, http.StatusInternalServerError, "enqueue error")
		return
	}

	created, _ := s.DB.GetGeneration(r.Context(), g.ID)
	if created == nil {
		created = g
		created.Status = store.StatusPending
	}
	writeJSON(w, http.StatusAccepted, created)
}

func (s *Server) getGeneration(w http.ResponseWriter, r *http.Request) {
	ws := s.workspaceFor(w, r)
	if ws == nil {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	g, err := s.DB.GetGeneration(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db error")
		return
	}
	if g == nil || g.WorkspaceID != ws.ID {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	assets, err := s.DB.ListAssetsByGeneration(r.Context(), g.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"generation": g, "assets": assets})
}

func (s *Server) listGenerations(w http.ResponseWriter, r *http.Request) {
	ws := s.workspaceFor(w, r)
	if ws == nil {
		return
	}
	var projectID *uuid.UUID
	if raw := r.URL.Query().Get("project_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid project_id")
			return
		}
		projectID = &id
	}
	includeSuperseded := r.URL.Query().Get("include_superseded") == "true"
	list, err := s.DB.ListGenerations(r.Context(), ws.ID, projectID, 50, includeSuperseded)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db error")
		return
	}
	if list == nil {
		list = []store.Generation{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"generations": list})
}

// retryGeneration re-queues a failed generation. The mask is not persisted,
// so retried edits on mask providers need a fresh request instead.
func (s *Server) retryGeneration(w http.ResponseWriter, r *http.Request) {
	ws := s.workspaceFor(w, r)
	if ws == nil {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	g, err := s.DB.GetGeneration(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db error")
		return
	}
	if g == nil || g.WorkspaceID != ws.ID {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if p, err := s.Providers.Get(g.Provider); err == nil &&
		p.Capability().SupportsMaskInpainting && g.Mode != "video" {
		writeError(w, http.StatusConflict, "mask edits cannot be retried, submit a new request")
		return
	}
	if err := s.DB.ResetForRetry(r.Context(), g.ID); err != nil {
		writeError(w, http.StatusConflict, "only failed generations can be retried")
		return
	}
	payload := queue.GenerationPayload{GenerationID: g.ID}
	task, taskErr := queue.NewEditTask(payload)
	if g.Mode == "video" {
		task, taskErr = queue.NewVideoTask(payload)
	}
	if taskErr != nil {
		writeError(w, http.StatusInternalServerError, "enqueue error")
		return
	}
	if _, err := s.Asynq.Enqueue(task); err != nil {
		writeError(w, http.StatusInternalServerError, "enqueue error")
		return
	}
	updated, _ := s.DB.GetGeneration(r.Context(), g.ID)
	writeJSON(w, http.StatusAccepted, updated)
}

// generationStreamSSE pushes progress events over SSE until the generation
// settles or the client disconnects.
func (s *Server) generationStreamSSE(w http.ResponseWriter, r *http.Request) {
	ws := s.workspaceFor(w, r)
	if ws == nil {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	g, err := s.DB.GetGeneration(r.Context(), id)
	if err != nil || g == nil || g.WorkspaceID != ws.ID {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	send := func(ev stream.Event) {
		b, _ := json.Marshal(ev)
		w.Write([]byte("data: " + string(b) + "\n\n"))
		flusher.Flush()
	}

	first := stream.Event{Status: g.Status, Timestamp: time.Now().UnixMilli()}
	if g.ResultURL != nil {
		first.ResultURL = *g.ResultURL
	}
	if g.ErrorMessage != nil {
		first.Error = *g.ErrorMessage
	}
	first.Done = g.Status == store.StatusCompleted || g.Status == store.StatusFailed
	send(first)
	if first.Done {
		return
	}

	ctx := r.Context()
	ch := make(chan stream.Event, 64)
	go func() {
		_ = s.Stream.Subscribe(ctx, g.ID, func(ev stream.Event) {
			select {
			case ch <- ev:
			default:
			}
		})
		close(ch)
	}()
	// Poll the row as fallback in case a terminal event was missed.
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			send(ev)
			if ev.Done {
				return
			}
		case <-ticker.C:
			g, err := s.DB.GetGeneration(ctx, id)
			if err != nil || g == nil {
				return
			}
			if g.Status == store.StatusCompleted || g.Status == store.StatusFailed {
				ev := stream.Event{Status: g.Status, Done: true, Timestamp: time.Now().UnixMilli()}
				if g.ResultURL != nil {
					ev.ResultURL = *g.ResultURL
				}
				if g.ErrorMessage != nil {
					ev.Error = *g.ErrorMessage
				}
				send(ev)
				return
			}
		}
	}
}

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	ws := s.workspaceFor(w, r)
	if ws == nil {
		return
	}
	list, err := s.DB.ListProjects(r.Context(), ws.ID, 50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db error")
		return
	}
	if list == nil {
		list = []store.Project{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"projects": list})
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	ws := s.workspaceFor(w, r)
	if ws == nil {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	p, err := s.DB.GetProject(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db error")
		return
	}
	if p == nil || p.WorkspaceID != ws.ID {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}
