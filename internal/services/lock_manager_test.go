// internal/services/lock_manager_test.go
package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestProjectLockSerializesSameProject(t *testing.T) {
	lm := NewLockManager()
	defer lm.Stop()

	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = lm.ExecuteWithProjectLock(context.Background(), "p", func() error {
				n := atomic.AddInt32(&active, 1)
				for {
					m := atomic.LoadInt32(&maxActive)
					if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Fatalf("expected at most one holder, saw %d", maxActive)
	}
}

func TestProjectLockIndependentProjects(t *testing.T) {
	lm := NewLockManager()
	defer lm.Stop()

	inside := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = lm.ExecuteWithProjectLock(context.Background(), "a", func() error {
			close(inside)
			<-release
			return nil
		})
	}()
	<-inside
	if !lm.IsLocked("a") {
		t.Fatal("project a should be locked")
	}

	done := make(chan error, 1)
	go func() {
		done <- lm.ExecuteWithProjectLock(context.Background(), "b", func() error { return nil })
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("project b must not wait for project a")
	}
	close(release)
}

func TestProjectLockHonoursContext(t *testing.T) {
	lm := NewLockManager()
	defer lm.Stop()

	inside := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = lm.ExecuteWithProjectLock(context.Background(), "p", func() error {
			close(inside)
			<-release
			return nil
		})
	}()
	<-inside
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	called := false
	err := lm.ExecuteWithProjectLock(ctx, "p", func() error {
		called = true
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) || called {
		t.Fatalf("expected deadline exceeded without running fn, got %v (called=%v)", err, called)
	}
}

func TestProgressTrackerLifecycle(t *testing.T) {
	svc := NewProgressService()
	tracker := svc.CreateTask("generate-shots", "amazon")

	got, ok := svc.GetTracker(tracker.TaskID)
	if !ok || got != tracker {
		t.Fatal("tracker should be registered")
	}

	sub := tracker.Subscribe()
	initial := <-sub
	if initial.Status != TaskStatusRunning {
		t.Fatalf("unexpected initial status %q", initial.Status)
	}

	tracker.UpdateProgress(40, "shot 2/5")
	tracker.UpdateProgress(20, "")
	if snap := tracker.Snapshot(); snap.Progress != 40 || snap.Message != "shot 2/5" {
		t.Fatalf("progress must not go backwards: %+v", snap)
	}

	tracker.Complete("done", map[string]int{"shots": 5})
	tracker.Fail("ignored", nil)

	select {
	case <-tracker.Done:
	case <-time.After(time.Second):
		t.Fatal("Done should be closed")
	}
	snap := tracker.Snapshot()
	if snap.Status != TaskStatusCompleted || snap.Progress != 100 || snap.Kind != "generate-shots" || snap.Project != "amazon" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	time.Sleep(time.Millisecond)
	svc.CleanupCompletedTasks(0)
	if _, ok := svc.GetTracker(tracker.TaskID); ok {
		t.Fatal("completed tracker should be cleaned up")
	}
}

func TestNilTrackerIsNoop(t *testing.T) {
	var tracker *ProgressTracker
	tracker.UpdateProgress(10, "x")
	tracker.Complete("x", nil)
	tracker.Fail("x", nil)
}
