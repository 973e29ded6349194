// Package process supervises long-running blocking goroutines ("tasks")
// the same way an init system supervises daemons: start on demand, swap
// the worker on request, stop gracefully with a timeout before abandoning
// them. A worker that exits on its own is not restarted; its task ends.
//
// Task wraps a single blocking worker function:
//   - Graceful shutdown via context cancellation with a configurable timeout
//     before the task is declared stuck
//   - Restart support when a task's work needs to be torn down and rebuilt
//     (e.g. swapping a decoder after a hardware fallback)
//
// Pool manages multiple named tasks:
//   - Start/Stop/Restart individual tasks by ID
//   - State tracking (idle, starting, running, stopping, error)
//   - Callback hooks for worker construction and state changes
//   - StopAll for coordinated shutdown of every supervised task
//
// Example usage with Pool:
//
//	pool := process.NewPool(&process.PoolOptions{
//	    WorkerProvider: func(id string) (process.Worker, error) {
//	        return newDecodeLoop(id), nil
//	    },
//	    OnStateChange: func(id string, old, new process.State, err error) {
//	        log.Printf("task %s: %s -> %s", id, old, new)
//	    },
//	})
//	pool.Start("decoder-0")
//	defer pool.StopAll()
package process
