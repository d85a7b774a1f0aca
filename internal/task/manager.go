package task

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	fileutil "signclips/internal/file"
	"signclips/internal/pipeline"
	"signclips/internal/telemetry"
)

// Runner executes one task's pipeline.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request, updates chan<- pipeline.Update) (pipeline.Result, error)
}

// Manager owns the task registry and runs each task in its own goroutine.
type Manager struct {
	mu           sync.RWMutex
	tasks        map[string]*Task
	cancels      map[string]context.CancelFunc
	cancelled    map[string]bool
	maxVideosCap int
	semaphore    chan struct{}
	pipeline     Runner
	workersWG    sync.WaitGroup
	baseCtx      context.Context
	store        TaskStore
}

// NewManagerWithOptions creates a manager with provided configuration
func NewManagerWithOptions(opts Options) *Manager {
	if opts.MaxConcurrentTasks <= 0 {
		opts.MaxConcurrentTasks = defaultMaxConcurrent
	}
	if opts.MaxVideosCap <= 0 {
		opts.MaxVideosCap = defaultMaxVideosCap
	}
	store := opts.Store
	if store == nil {
		store = NewFileStore(opts.DataDir)
	}
	return &Manager{
		tasks:        make(map[string]*Task),
		cancels:      make(map[string]context.CancelFunc),
		cancelled:    make(map[string]bool),
		maxVideosCap: opts.MaxVideosCap,
		semaphore:    make(chan struct{}, opts.MaxConcurrentTasks),
		pipeline:     opts.Pipeline,
		baseCtx:      context.Background(),
		store:        store,
	}
}

// IsBusy reports whether the system is currently at max concurrent processing
func (m *Manager) IsBusy() bool {
	return len(m.semaphore) >= cap(m.semaphore)
}

// Submit validates the request, registers a pending task and starts it in the
// background. The returned snapshot is a copy.
func (m *Manager) Submit(rawURL string, maxVideos int) (*Task, error) {
	normalized, err := validateURL(rawURL)
	if err != nil {
		return nil, err
	}
	maxVideos = min(max(maxVideos, 1), m.maxVideosCap)

	select {
	case m.semaphore <- struct{}{}:
	default:
		return nil, ErrBusy
	}

	m.mu.Lock()
	ctx, cancel := context.WithCancel(m.baseCtx)
	newTask := &Task{
		ID:        uuid.NewString(),
		URL:       normalized,
		MaxVideos: maxVideos,
		Status:    StatusPending,
		Message:   "queued",
		CreatedAt: time.Now().UTC(),
	}
	m.tasks[newTask.ID] = newTask
	m.cancels[newTask.ID] = cancel
	snapshot := newTask.clone()
	m.mu.Unlock()

	if err := m.persistTask(snapshot); err != nil { // best-effort
		log.Warn().Str("task_id", snapshot.ID).Err(err).Msg("persist task failed")
	}
	telemetry.TasksSubmitted.Inc()
	log.Info().Str("task_id", snapshot.ID).Str("url", normalized).Int("max_videos", maxVideos).Msg("task submitted")

	m.workersWG.Add(1)
	go func() {
		defer m.workersWG.Done()
		defer func() { <-m.semaphore }()
		m.startProcessing(ctx, snapshot.ID)
	}()
	return snapshot, nil
}

func validateURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", ErrInvalidURL
	}
	return u.String(), nil
}

// Status returns a snapshot of the task.
func (m *Manager) Status(taskID string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return t.clone(), nil
}

// List returns snapshots of all tasks, newest first.
func (m *Manager) List() []*Task {
	m.mu.RLock()
	out := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t.clone())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Cancel asks a pending or processing task to stop. Cancelling a terminal
// task does nothing.
func (m *Manager) Cancel(taskID string) error {
	m.mu.Lock()
	t, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return ErrTaskNotFound
	}
	if t.Status.Terminal() {
		m.mu.Unlock()
		return nil
	}
	m.cancelled[taskID] = true
	cancel := m.cancels[taskID]
	if t.Status == StatusProcessing {
		t.Message = "cancelling"
	}
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	log.Info().Str("task_id", taskID).Msg("cancel requested")
	return nil
}

// Delete removes a terminal task's record and working directory.
func (m *Manager) Delete(taskID string) error {
	m.mu.Lock()
	t, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return ErrTaskNotFound
	}
	if !t.Status.Terminal() {
		m.mu.Unlock()
		return ErrTaskNotTerminal
	}
	delete(m.tasks, taskID)
	delete(m.cancelled, taskID)
	m.mu.Unlock()

	if err := fileutil.RemoveQuiet(m.store.TaskDir(taskID)); err != nil {
		return fmt.Errorf("remove task dir: %w", err)
	}
	if err := m.store.DeleteTask(context.Background(), taskID); err != nil {
		return fmt.Errorf("delete task record: %w", err)
	}
	log.Info().Str("task_id", taskID).Msg("task deleted")
	return nil
}

// ArchivePath returns the result archive of a completed task.
func (m *Manager) ArchivePath(taskID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return "", ErrTaskNotFound
	}
	if t.Status != StatusCompleted || t.ArchivePath == "" {
		return "", ErrArchiveNotReady
	}
	return t.ArchivePath, nil
}

// SetBaseContext sets the parent context of every task submitted afterwards.
// Intended to be set at process startup and cancelled during shutdown.
func (m *Manager) SetBaseContext(ctx context.Context) {
	m.mu.Lock()
	m.baseCtx = ctx
	m.mu.Unlock()
}

// WaitAll blocks until all in-flight task workers finish or the context is done.
// Returns true if all workers finished, false if timed out.
func (m *Manager) WaitAll(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		m.workersWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// persistTask pushes a snapshot to the store.
func (m *Manager) persistTask(snapshot *Task) error {
	return m.store.SaveTask(context.Background(), snapshot) //nolint:wrapcheck
}
