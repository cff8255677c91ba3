package taskqueue

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/asset-runtime/errors"
)

// Task is a fire-and-forget unit of work. A returned error or a panic is
// handed to the queue's unhandled-task policy.
type Task func(ctx context.Context) error

// Queue accepts tasks for asynchronous execution.
type Queue interface {
	// Schedule submits a task. It fails only when the queue no longer
	// accepts work.
	Schedule(Task) error
}

// ErrorHandler is the unhandled-task policy: it receives every error a task
// returns and every panic it raises (wrapped as errors.KindPanic).
type ErrorHandler func(error)

// LogErrors is the default unhandled-task policy.
func LogErrors(err error) {
	Logger().Error("unhandled task failure", zap.Error(err))
}

// Inline runs every task synchronously on the scheduling goroutine.
// Useful for tools and deterministic tests.
type Inline struct {
	// OnError receives task failures. Panics are not recovered.
	OnError ErrorHandler
}

// Schedule runs the task immediately.
func (q Inline) Schedule(task Task) error {
	if task == nil {
		return errors.InvalidInput(errors.PhaseQueue, "nil task")
	}
	if err := task(context.Background()); err != nil {
		if q.OnError != nil {
			q.OnError(err)
		} else {
			LogErrors(err)
		}
	}
	return nil
}

// Stats reports task counters for a queue.
type Stats struct {
	Scheduled uint64
	Completed uint64
	Failed    uint64
	Panicked  uint64
}
