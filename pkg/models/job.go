package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// JobProgress tracks one index rebuild.
type JobProgress struct {
	JobID        uuid.UUID    `json:"job_id"`
	Kind         IndexKind    `json:"kind"`
	Status       string       `json:"status"`
	Trigger      string       `json:"trigger"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
	Result       *BuildResult `json:"result,omitempty"`
	ErrorMessage *string      `json:"error_message,omitempty"`
}

func (j *JobProgress) Finished() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// GenerationBuiltEvent is published after a generation becomes active.
type GenerationBuiltEvent struct {
	EventID      uuid.UUID    `json:"event_id"`
	JobID        uuid.UUID    `json:"job_id"`
	Kind         IndexKind    `json:"kind"`
	GenerationID uint64       `json:"generation_id"`
	Rows         int          `json:"rows"`
	Items        int          `json:"items"`
	DurationMs   int64        `json:"duration_ms"`
	BuiltAt      time.Time    `json:"built_at"`
	Result       *BuildResult `json:"result,omitempty"`
}

// RebuildCommand asks the service to rebuild one index.
type RebuildCommand struct {
	Kind        IndexKind `json:"kind" validate:"required,oneof=cf content popularity"`
	RequestedBy string    `json:"requested_by,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}
