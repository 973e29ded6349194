package process

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func blockingWorker() Worker {
	return func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
}

// waitForRunning polls until the task reports running, fails test on timeout.
func waitForRunning(t *testing.T, pool Pool, id string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if pool.IsRunning(id) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach running state", id)
}

func TestPoolStartStop(t *testing.T) {
	pool := NewPool(&PoolOptions{
		WorkerProvider: func(id string) (Worker, error) {
			return blockingWorker(), nil
		},
		Logger: testLogger(),
	})

	if err := pool.Start("a"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForRunning(t, pool, "a")

	if err := pool.Stop("a"); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if pool.IsRunning("a") {
		t.Error("task still running after Stop")
	}
}

func TestPoolStart_AlreadyRunning(t *testing.T) {
	pool := NewPool(&PoolOptions{
		WorkerProvider: func(id string) (Worker, error) {
			return blockingWorker(), nil
		},
		Logger: testLogger(),
	})

	if err := pool.Start("a"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForRunning(t, pool, "a")

	if err := pool.Start("a"); err == nil {
		t.Error("expected error starting an already-running task")
	}

	pool.StopAll()
}

func TestPoolWorkerProviderError(t *testing.T) {
	pool := NewPool(&PoolOptions{
		WorkerProvider: func(id string) (Worker, error) {
			return nil, fmt.Errorf("no such worker: %s", id)
		},
		Logger: testLogger(),
	})

	if err := pool.Start("missing"); err == nil {
		t.Error("expected error from failing worker provider")
	}
}

func TestPoolOnStateChange(t *testing.T) {
	transitions := make(chan State, 8)

	pool := NewPool(&PoolOptions{
		WorkerProvider: func(id string) (Worker, error) {
			return blockingWorker(), nil
		},
		OnStateChange: func(id string, oldState, newState State, err error) {
			transitions <- newState
		},
		Logger: testLogger(),
	})

	if err := pool.Start("a"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForRunning(t, pool, "a")
	if err := pool.Stop("a"); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	seen := map[State]bool{}
	for i := 0; i < 3; i++ {
		select {
		case s := <-transitions:
			seen[s] = true
		case <-time.After(time.Second):
			t.Fatal("missing expected state transition")
		}
	}
	if !seen[StateStarting] {
		t.Error("never observed starting state")
	}
	if !seen[StateRunning] {
		t.Error("never observed running state")
	}
}

func TestPoolStopAll(t *testing.T) {
	pool := NewPool(&PoolOptions{
		WorkerProvider: func(id string) (Worker, error) {
			return blockingWorker(), nil
		},
		Logger: testLogger(),
	})

	if err := pool.Start("a"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := pool.Start("b"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForRunning(t, pool, "a")
	waitForRunning(t, pool, "b")

	pool.StopAll()
	if pool.IsRunning("a") || pool.IsRunning("b") {
		t.Error("tasks still running after StopAll")
	}
}
