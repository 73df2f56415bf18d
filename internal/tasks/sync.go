package tasks

import "context"

// Synchronous runs every dispatched task inline. Used by tests and by
// single-process deployments that want sweep units to finish before the
// sweep returns.
type Synchronous struct{}

func (Synchronous) Dispatch(ctx context.Context, task Task) error {
	return task.Run(ctx)
}
