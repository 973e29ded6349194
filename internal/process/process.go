package process

import (
	"context"
	"sync"
	"time"

	"github.com/smazurov/mediabus/internal/logging"
)

// Worker is a blocking unit of work supervised by a Task. It must return
// promptly once ctx is cancelled; a Worker that ignores cancellation will
// make its Task appear stuck on shutdown.
type Worker func(ctx context.Context) error

type exitReason int

const (
	exitReasonWorkerExit exitReason = iota
	exitReasonShutdown
	exitReasonRestart
)

// Task supervises a single Worker's lifecycle.
type Task struct {
	id              string
	worker          Worker
	workerMu        sync.RWMutex
	logger          logging.Logger
	ctx             context.Context
	cancel          context.CancelFunc
	restartChan     chan Worker
	gracefulTimeout time.Duration // time to let the worker notice cancellation
}

// NewTask creates a new supervised task.
func NewTask(id string, worker Worker, logger logging.Logger) *Task {
	ctx, cancel := context.WithCancel(context.Background())
	return &Task{
		id:              id,
		worker:          worker,
		logger:          logger,
		ctx:             ctx,
		cancel:          cancel,
		restartChan:     make(chan Worker, 1),
		gracefulTimeout: 5 * time.Second,
	}
}

// RequestRestart requests that the current worker be cancelled and replaced.
// Non-blocking: if a restart is already pending, this is a no-op.
func (t *Task) RequestRestart(newWorker Worker) {
	select {
	case t.restartChan <- newWorker:
		t.logger.Info("restart requested")
	default:
		t.logger.Warn("restart already pending, ignoring")
	}
}

// Shutdown triggers a graceful shutdown of the task.
func (t *Task) Shutdown() {
	t.cancel()
}

// RunWithRestart runs the worker and handles restart requests until
// shutdown or until the worker returns on its own.
// Returns the error the final worker invocation produced, if any.
func (t *Task) RunWithRestart() error {
	for {
		err, reason := t.runOnce()

		switch reason {
		case exitReasonShutdown:
			t.logger.Info("task stopped", "error", err)
			return err
		case exitReasonRestart:
			t.logger.Info("restarting task worker")
			continue
		case exitReasonWorkerExit:
			t.logger.Info("worker returned", "error", err)
			return err
		}
	}
}

// runOnce runs the current worker once and reports why it stopped.
func (t *Task) runOnce() (error, exitReason) {
	t.workerMu.RLock()
	worker := t.worker
	t.workerMu.RUnlock()

	workCtx, workCancel := context.WithCancel(t.ctx)
	defer workCancel()

	done := make(chan error, 1)
	go func() {
		done <- worker(workCtx)
	}()

	select {
	case <-t.ctx.Done():
		t.logger.Info("context cancelled, shutting down task")
		return t.waitForExit(done), exitReasonShutdown

	case newWorker := <-t.restartChan:
		t.logger.Info("received restart request")
		workCancel()
		t.workerMu.Lock()
		t.worker = newWorker
		t.workerMu.Unlock()
		_ = t.waitForExit(done)
		return nil, exitReasonRestart

	case err := <-done:
		if err != nil {
			t.logger.Error("worker exited with error", "error", err)
		}
		return err, exitReasonWorkerExit
	}
}

// waitForExit waits for the worker to return, up to gracefulTimeout before
// giving up and declaring the task stuck.
func (t *Task) waitForExit(done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-time.After(t.gracefulTimeout):
		t.logger.Warn("worker did not exit within graceful timeout", "timeout", t.gracefulTimeout)
		return context.DeadlineExceeded
	}
}
