package process

import "github.com/smazurov/mediabus/internal/logging"

// WorkerProvider constructs the Worker for a task ID. This allows
// domain-specific worker construction (e.g. a decode loop bound to a
// particular elementary stream).
type WorkerProvider func(id string) (Worker, error)

// StateChangeCallback is called when a task state changes.
// Used for domain-specific reactions (e.g. event publication, metrics).
type StateChangeCallback func(id string, oldState, newState State, err error)

// Configurer configures a Task before it starts.
type Configurer func(id string, task *Task)

// PoolOptions configures a new Pool.
type PoolOptions struct {
	// WorkerProvider constructs the worker for a given task ID (required).
	WorkerProvider WorkerProvider

	// OnStateChange is called when a task state transitions (optional).
	OnStateChange StateChangeCallback

	// ConfigureTask allows customization of the Task before start (optional).
	ConfigureTask Configurer

	// Logger for pool operations. If nil, uses slog.Default() wrapped to
	// satisfy logging.Logger.
	Logger logging.Logger
}
