package task

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	fileutil "signclips/internal/file"
)

// TaskStore abstracts persistence of task records. Working directories always
// live on the local filesystem; the store only decides where records go.
type TaskStore interface {
	SaveTask(ctx context.Context, t *Task) error
	LoadTasks(ctx context.Context) ([]*Task, error)
	DeleteTask(ctx context.Context, taskID string) error
	EnsureTaskDir(ctx context.Context, taskID string) (string, error)
	TaskDir(taskID string) string
}

// Dirs resolves per-task working directories under DataDir/tasks. Store
// implementations embed it.
type Dirs struct {
	DataDir string
}

func (d Dirs) TaskDir(taskID string) string {
	return filepath.Join(d.DataDir, "tasks", taskID)
}

func (d Dirs) EnsureTaskDir(_ context.Context, taskID string) (string, error) {
	dir := d.TaskDir(taskID)
	if err := fileutil.EnsureDir(dir); err != nil {
		return "", fmt.Errorf("ensure task dir: %w", err)
	}
	return dir, nil
}

// fileStore keeps one JSON record per task under dataDir/records.
type fileStore struct {
	Dirs
}

func NewFileStore(dataDir string) TaskStore { //nolint:ireturn
	if dataDir == "" {
		dataDir = "data"
	}
	return &fileStore{Dirs: Dirs{DataDir: dataDir}}
}

func (s *fileStore) recordsDir() string {
	return filepath.Join(s.DataDir, "records")
}

func (s *fileStore) recordPath(taskID string) string {
	return filepath.Join(s.recordsDir(), taskID+".json")
}

func (s *fileStore) SaveTask(_ context.Context, t *Task) error {
	return fileutil.WriteJSONAtomic(s.recordPath(t.ID), t) //nolint:wrapcheck
}

func (s *fileStore) DeleteTask(_ context.Context, taskID string) error {
	return fileutil.RemoveQuiet(s.recordPath(taskID)) //nolint:wrapcheck
}

func (s *fileStore) LoadTasks(_ context.Context) ([]*Task, error) {
	entries, err := os.ReadDir(s.recordsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir: %w", err)
	}
	tasks := make([]*Task, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		b, err := os.ReadFile(filepath.Join(s.recordsDir(), e.Name())) //nolint:gosec // path is controlled by application
		if err != nil {
			continue
		}
		var t Task
		if err := json.Unmarshal(b, &t); err != nil {
			continue
		}
		tasks = append(tasks, &t)
	}
	return tasks, nil
}
