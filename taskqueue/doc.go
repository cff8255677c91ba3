// Package taskqueue provides the task queue the resource manager schedules
// its routines onto.
//
// A Queue accepts fire-and-forget tasks. WorkerPool runs them on a fixed set
// of goroutines; Inline runs them on the caller's goroutine.
//
//	pool := taskqueue.NewWorkerPool(&taskqueue.Config{Workers: 4})
//	defer pool.Close(ctx)
//
//	pool.Schedule(func(ctx context.Context) error {
//	    return doWork(ctx)
//	})
//
// # Unhandled Tasks
//
// Errors returned from a task and panics raised by it are not propagated to
// whoever scheduled the task. They go to the queue's ErrorHandler, which by
// default logs them. WorkerPool recovers panics so the worker survives.
package taskqueue
