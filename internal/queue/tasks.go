package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	TypeEdit  = "generation:edit"
	TypeVideo = "generation:video"
	TypeSweep = "generation:sweep"

	// StaleAfterMinutes bounds how long a generation may sit in
	// pending/processing before the sweeper fails it.
	StaleAfterMinutes = 15
)

var taskTimeout = asynq.Timeout(StaleAfterMinutes * time.Minute)

// GenerationPayload carries the per-request inputs that live in the task
// rather than the row: the mask and the version-replacement flag.
type GenerationPayload struct {
	GenerationID uuid.UUID `json:"generation_id"`
	MaskDataURL  string    `json:"mask_data_url,omitempty"`
	ReplaceNewer bool      `json:"replace_newer,omitempty"`
	Duration     string    `json:"duration,omitempty"`
	AspectRatio  string    `json:"aspect_ratio,omitempty"`
}

func NewEditTask(p GenerationPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeEdit, payload, asynq.Queue("default"), asynq.MaxRetry(2), taskTimeout), nil
}

func NewVideoTask(p GenerationPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeVideo, payload, asynq.Queue("default"), asynq.MaxRetry(1), taskTimeout), nil
}

func NewSweepTask() *asynq.Task {
	return asynq.NewTask(TypeSweep, nil, asynq.Queue("default"), asynq.MaxRetry(0))
}
