package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrNoVideos means every candidate was lost to download or presence filtering.
	ErrNoVideos = errors.New("no videos survived acquisition and presence filtering")
	// ErrNoClips means every retained video failed before producing a clip.
	ErrNoClips = errors.New("no clips were produced")
)

// Stage names used in errors, logs and metrics.
const (
	StageEnumerate  = "enumerate"
	StageDownload   = "download"
	StagePresence   = "presence"
	StageCrop       = "crop"
	StageTranscribe = "transcribe"
	StageCut        = "cut"
	StageMetadata   = "metadata"
	StageCluster    = "cluster"
	StagePackage    = "package"
)

// Class is how far a stage failure reaches.
type Class int

const (
	// Skippable drops one entity and carries on.
	Skippable Class = iota
	// VideoFatal aborts the owning video only.
	VideoFatal
	// TaskFatal fails the whole task.
	TaskFatal
)

func (c Class) String() string {
	switch c {
	case Skippable:
		return "skippable"
	case VideoFatal:
		return "video-fatal"
	default:
		return "task-fatal"
	}
}

// StageError ties a failure to the stage and, when known, the video it hit.
type StageError struct {
	Stage string
	Video string
	Err   error
}

func (e *StageError) Error() string {
	if e.Video == "" {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Video, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Class classifies the failure by stage.
func (e *StageError) Class() Class {
	switch e.Stage {
	case StageDownload, StagePresence, StageCut:
		return Skippable
	case StageCrop, StageTranscribe:
		return VideoFatal
	default:
		return TaskFatal
	}
}

func stageErr(stage, video string, err error) *StageError {
	return &StageError{Stage: stage, Video: video, Err: err}
}
