package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"signclips/internal/domain"
	fileutil "signclips/internal/file"
	"signclips/internal/pipeline"
	"signclips/internal/telemetry"
)

const updateBuffer = 32

// startProcessing claims the task, runs the pipeline and records the outcome.
// The caller holds a processing slot for the duration.
func (m *Manager) startProcessing(ctx context.Context, taskID string) {
	defer m.releaseCancel(taskID)

	m.mu.Lock()
	taskToProcess, taskFound := m.tasks[taskID]
	if !taskFound || taskToProcess.Status != StatusPending {
		m.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	taskToProcess.Status = StatusProcessing
	taskToProcess.StartedAt = &now
	taskToProcess.Message = "starting"
	runner := m.pipeline
	req := pipeline.Request{TaskID: taskID, URL: taskToProcess.URL, MaxVideos: taskToProcess.MaxVideos}
	snapshot := taskToProcess.clone()
	m.mu.Unlock()
	if err := m.persistTask(snapshot); err != nil {
		log.Warn().Str("task_id", taskID).Err(err).Msg("persist processing failed")
	}

	telemetry.TasksInFlight.Inc()
	defer telemetry.TasksInFlight.Dec()

	if runner == nil {
		m.finish(ctx, taskID, pipeline.Result{}, errors.New("no pipeline configured"))
		return
	}
	workDir, err := m.store.EnsureTaskDir(ctx, taskID)
	if err != nil {
		m.finish(ctx, taskID, pipeline.Result{}, err)
		return
	}
	req.WorkDir = workDir

	updates := make(chan pipeline.Update, updateBuffer)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for u := range updates {
			m.applyUpdate(taskID, u)
		}
	}()
	result, err := runSafely(ctx, runner, req, updates)
	close(updates)
	<-drained

	m.finish(ctx, taskID, result, err)
}

// runSafely turns a pipeline panic into an error so one task cannot take
// the process down with it.
func runSafely(ctx context.Context, runner Runner, req pipeline.Request, updates chan<- pipeline.Update) (result pipeline.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("task_id", req.TaskID).Interface("panic", r).Msg("pipeline panicked")
			result, err = pipeline.Result{}, fmt.Errorf("pipeline panic: %v", r)
		}
	}()
	return runner.Run(ctx, req, updates)
}

// applyUpdate moves progress forward only, and never after a terminal state.
func (m *Manager) applyUpdate(taskID string, u pipeline.Update) {
	m.mu.Lock()
	t, ok := m.tasks[taskID]
	if !ok || t.Status != StatusProcessing {
		m.mu.Unlock()
		return
	}
	advanced := u.Progress > t.Progress && u.Progress < 100
	if advanced {
		t.Progress = u.Progress
	}
	if u.Message != "" && t.Message != "cancelling" {
		t.Message = u.Message
	}
	var snapshot *Task
	if advanced {
		snapshot = t.clone()
	}
	m.mu.Unlock()

	if snapshot != nil {
		if err := m.persistTask(snapshot); err != nil {
			log.Debug().Str("task_id", taskID).Err(err).Msg("persist progress failed")
		}
	}
}

// finish applies the pipeline outcome as exactly one terminal transition.
func (m *Manager) finish(ctx context.Context, taskID string, result pipeline.Result, runErr error) {
	m.mu.Lock()
	t, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	t.CompletedAt = &now
	t.Videos = result.Videos
	t.Skipped = result.Skipped
	t.ClipCount, t.FailedClips = 0, 0
	for _, s := range result.Segments {
		if s.Status == domain.SegmentSuccess {
			t.ClipCount++
		} else {
			t.FailedClips++
		}
	}
	t.SignerCount = result.Clusters.NSigners

	userCancelled := m.cancelled[taskID]
	removeDir := false
	switch {
	case runErr == nil:
		t.Status = StatusCompleted
		t.Progress = 100
		t.Message = "completed"
		t.ArchivePath = result.ArchivePath
	case userCancelled:
		t.Status = StatusCancelled
		t.Message = "cancelled by user"
		removeDir = true
	case ctx.Err() != nil:
		t.Status = StatusFailed
		t.Message = "interrupted"
		t.Error = "interrupted by shutdown"
	default:
		t.Status = StatusFailed
		t.Message = "failed"
		t.Error = runErr.Error()
	}
	snapshot := t.clone()
	m.mu.Unlock()

	if removeDir {
		if err := fileutil.RemoveQuiet(m.store.TaskDir(taskID)); err != nil {
			log.Warn().Str("task_id", taskID).Err(err).Msg("cleanup after cancel failed")
		}
	}
	if err := m.persistTask(snapshot); err != nil {
		log.Warn().Str("task_id", taskID).Err(err).Msg("persist final state failed")
	}
	telemetry.TasksFinished.WithLabelValues(string(snapshot.Status)).Inc()

	event := log.Info()
	if snapshot.Status == StatusFailed {
		event = log.Error().Str("error", snapshot.Error)
	}
	event.Str("task_id", taskID).Str("status", string(snapshot.Status)).
		Int("clips", snapshot.ClipCount).Int("signers", snapshot.SignerCount).Msg("task finished")
}

func (m *Manager) releaseCancel(taskID string) {
	m.mu.Lock()
	cancel := m.cancels[taskID]
	delete(m.cancels, taskID)
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
