// Package tasks dispatches billing units of work. Sweeps hand each
// subscription renewal or overdue cancellation to a Dispatcher so one
// failing unit never aborts its siblings, and transient lock failures are
// retried without involving the core.
package tasks

import (
	"context"
	"errors"
)

type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Dispatcher accepts a unit of work and guarantees it eventually runs
// at least once. Retrying transient failures is the dispatcher's job.
type Dispatcher interface {
	Dispatch(ctx context.Context, task Task) error
}

var ErrQueueFull = errors.New("task_queue_full")
