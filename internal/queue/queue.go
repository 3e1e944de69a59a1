// Package queue provides a thin FIFO facade over the Store. Dequeue-and-claim
// has to survive process restarts and stay atomic across concurrent
// writers, so this is a Store-backed, durable, arrival-order queue rather
// than an in-memory heap.
package queue

import (
	"context"

	"github.com/mx-claw/agent-fleet/internal/store"
)

// Queue is a FIFO facade over the Store's task table.
type Queue struct {
	store *store.Store
}

// New builds a Queue backed by the given Store.
func New(s *store.Store) *Queue {
	return &Queue{store: s}
}

// Enqueue delegates to the Store, creating a new queued task.
func (q *Queue) Enqueue(ctx context.Context, kind, payload string) (store.Task, error) {
	return q.store.EnqueueTask(ctx, kind, payload)
}

// Dequeue atomically claims the oldest queued task (arrival order, ties
// broken by id) and transitions it to running. Returns (Task{}, false, nil)
// when no task is queued.
func (q *Queue) Dequeue(ctx context.Context) (store.Task, bool, error) {
	return q.store.DequeueNextTask(ctx)
}
