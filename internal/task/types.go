package task

import (
	"time"

	"signclips/internal/domain"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

type Task struct {
	ID          string               `json:"id"`
	URL         string               `json:"url"`
	MaxVideos   int                  `json:"max_videos"`
	Status      Status               `json:"status"`
	Progress    int                  `json:"progress"`
	Message     string               `json:"message"`
	Videos      []domain.VideoRecord `json:"videos"`
	Skipped     []domain.Skip        `json:"skipped,omitempty"`
	ClipCount   int                  `json:"clip_count"`
	FailedClips int                  `json:"failed_clips"`
	SignerCount int                  `json:"signer_count"`
	ArchivePath string               `json:"archive_path,omitempty"`
	Error       string               `json:"error,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	StartedAt   *time.Time           `json:"started_at,omitempty"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
}

// clone returns a copy that shares nothing mutable with t.
func (t *Task) clone() *Task {
	c := *t
	c.Videos = append([]domain.VideoRecord(nil), t.Videos...)
	c.Skipped = append([]domain.Skip(nil), t.Skipped...)
	if t.StartedAt != nil {
		started := *t.StartedAt
		c.StartedAt = &started
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		c.CompletedAt = &completed
	}
	return &c
}

type Options struct {
	DataDir            string
	MaxConcurrentTasks int
	MaxVideosCap       int
	// Store persists task records; nil selects the file store under DataDir.
	Store TaskStore
	// Pipeline runs submitted tasks.
	Pipeline Runner
}

const (
	defaultMaxConcurrent = 1
	defaultMaxVideosCap  = 50
)
