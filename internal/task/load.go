package task

import (
	"context"
	"fmt"
	"time"
)

// LoadFromDisk loads persisted task records into memory. Tasks left pending or
// processing by a previous run cannot resume and are marked failed.
func (m *Manager) LoadFromDisk(ctx context.Context) error {
	loadedTasks, err := m.store.LoadTasks(ctx)
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}
	for _, taskEntity := range loadedTasks {
		if !taskEntity.Status.Terminal() {
			now := time.Now().UTC()
			taskEntity.Status = StatusFailed
			taskEntity.Error = "interrupted by restart"
			taskEntity.Message = "interrupted"
			taskEntity.CompletedAt = &now
			_ = m.persistTask(taskEntity)
		}
		m.mu.Lock()
		m.tasks[taskEntity.ID] = taskEntity
		m.mu.Unlock()
	}
	return nil
}
