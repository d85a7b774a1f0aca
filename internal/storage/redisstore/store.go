// Package redisstore keeps task records in Redis.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"signclips/internal/task"
)

const indexKey = "signclips:tasks"

func recordKey(taskID string) string { return "signclips:task:" + taskID }

// Store writes one JSON record per task plus a set of known ids. Working
// directories stay on local disk under dataDir.
type Store struct {
	task.Dirs
	client *redis.Client
}

// NewClient creates a Redis client with short timeouts.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		PoolSize:     4,
	})
}

// New returns a store and verifies the server is reachable.
func New(ctx context.Context, client *redis.Client, dataDir string) (*Store, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Store{Dirs: task.Dirs{DataDir: dataDir}, client: client}, nil
}

func (s *Store) SaveTask(ctx context.Context, t *task.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", t.ID, err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, recordKey(t.ID), data, 0)
		pipe.SAdd(ctx, indexKey, t.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save task %s: %w", t.ID, err)
	}
	return nil
}

func (s *Store) DeleteTask(ctx context.Context, taskID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, recordKey(taskID))
		pipe.SRem(ctx, indexKey, taskID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete task %s: %w", taskID, err)
	}
	return nil
}

func (s *Store) LoadTasks(ctx context.Context) ([]*task.Task, error) {
	ids, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list tasks: %w", err)
	}
	tasks := make([]*task.Task, 0, len(ids))
	for _, id := range ids {
		data, err := s.client.Get(ctx, recordKey(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis get task %s: %w", id, err)
		}
		var t task.Task
		if err := json.Unmarshal(data, &t); err != nil {
			continue
		}
		tasks = append(tasks, &t)
	}
	return tasks, nil
}

// Close releases the client.
func (s *Store) Close() error { return s.client.Close() }
