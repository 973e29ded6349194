package process

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// runWithRestartAsync runs RunWithRestart in a goroutine and returns its error channel.
func runWithRestartAsync(task *Task) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- task.RunWithRestart()
	}()
	return done
}

// waitForExit waits for the task's exit error with timeout, fails test on timeout.
func waitForExit(t *testing.T, done <-chan error, timeout time.Duration) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		t.Fatal("timeout waiting for task to exit")
		return nil
	}
}

func TestTaskRunWithRestart_WorkerExitsCleanly(t *testing.T) {
	worker := func(ctx context.Context) error {
		return nil
	}

	task := NewTask("t1", worker, testLogger())
	if err := task.RunWithRestart(); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
}

func TestTaskRunWithRestart_WorkerError(t *testing.T) {
	boom := errors.New("boom")
	worker := func(ctx context.Context) error {
		return boom
	}

	task := NewTask("t1", worker, testLogger())
	if err := task.RunWithRestart(); !errors.Is(err, boom) {
		t.Errorf("expected worker error to propagate, got %v", err)
	}
}

func TestTaskShutdown_CancelsWorkerContext(t *testing.T) {
	started := make(chan struct{})
	worker := func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}

	task := NewTask("t1", worker, testLogger())
	done := runWithRestartAsync(task)

	<-started
	task.Shutdown()

	if err := waitForExit(t, done, 2*time.Second); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestTaskRequestRestart_SwapsWorker(t *testing.T) {
	var calls int
	firstStarted := make(chan struct{})

	first := func(ctx context.Context) error {
		calls++
		close(firstStarted)
		<-ctx.Done()
		return ctx.Err()
	}
	second := func(ctx context.Context) error {
		calls++
		return nil
	}

	task := NewTask("t1", first, testLogger())
	done := runWithRestartAsync(task)

	<-firstStarted
	task.RequestRestart(second)

	if err := waitForExit(t, done, 2*time.Second); err != nil {
		t.Errorf("expected nil error after restart, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected both workers to run, got %d calls", calls)
	}
}
