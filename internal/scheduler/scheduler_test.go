package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestAddAndFire(t *testing.T) {
	var mu sync.Mutex
	var calls int

	sched := New(nil)
	err := sched.Add("reconcile", "@every 1s", func(context.Context) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if sched.JobCount() != 1 {
		t.Errorf("JobCount = %d", sched.JobCount())
	}

	sched.cron.Start()
	time.Sleep(1500 * time.Millisecond)
	sched.cron.Stop()

	mu.Lock()
	defer mu.Unlock()
	if calls == 0 {
		t.Error("expected at least one run")
	}
}

func TestInvalidSchedule(t *testing.T) {
	sched := New(nil)
	if err := sched.Add("bad", "not-a-schedule", func(context.Context) error { return nil }); err == nil {
		t.Error("expected error for invalid schedule")
	}
	if sched.JobCount() != 0 {
		t.Errorf("JobCount = %d", sched.JobCount())
	}
}

func TestFailingJobKeepsSchedule(t *testing.T) {
	var mu sync.Mutex
	var calls int

	sched := New(nil)
	sched.Add("flaky", "@every 1s", func(context.Context) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return errors.New("boom")
	})

	sched.cron.Start()
	time.Sleep(2500 * time.Millisecond)
	sched.cron.Stop()

	mu.Lock()
	defer mu.Unlock()
	if calls < 2 {
		t.Errorf("calls = %d, failing job must keep firing", calls)
	}
}

func TestRemove(t *testing.T) {
	sched := New(nil)
	sched.Add("a", "@every 1h", func(context.Context) error { return nil })
	sched.Add("b", "@every 2h", func(context.Context) error { return nil })

	sched.Remove("a")
	if sched.JobCount() != 1 {
		t.Errorf("JobCount = %d after remove", sched.JobCount())
	}
	// Removing an unknown name is a no-op.
	sched.Remove("missing")
	if sched.JobCount() != 1 {
		t.Errorf("JobCount = %d", sched.JobCount())
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	sched := New(nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- sched.Start(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Start returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
