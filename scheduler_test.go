package coro

import (
	"testing"
	"time"
)

func runLoopUntilDone(t *testing.T, sched *Scheduler) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- sched.Loop() }()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Loop did not return within 5s")
		return nil
	}
}

func TestScheduler_TaskRunsAndFinishes(t *testing.T) {
	sched, err := NewScheduler()
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}
	defer sched.Close()

	var ran bool
	if _, err := TaskStart(sched, func(task *Task) {
		ran = true
		sched.Stop()
	}); err != nil {
		t.Fatalf("TaskStart failed: %v", err)
	}

	if err := runLoopUntilDone(t, sched); err != nil {
		t.Fatalf("Loop returned error: %v", err)
	}
	if !ran {
		t.Fatal("task entry never ran")
	}
}

func TestScheduler_TaskWaitYield(t *testing.T) {
	sched, err := NewScheduler()
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}
	defer sched.Close()

	var order []int
	done := make(chan struct{})
	TaskStart(sched, func(task *Task) {
		order = append(order, 1)
		task.Wait(0, nil)
		order = append(order, 3)
		close(done)
	})
	TaskStart(sched, func(task *Task) {
		order = append(order, 2)
	})

	go sched.Loop()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("tasks never completed")
	}
	sched.Stop()

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("interleave order = %v, want [1 2 3]", order)
	}
}

func TestScheduler_TaskWaitTimer(t *testing.T) {
	sched, err := NewScheduler()
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}
	defer sched.Close()

	start := time.Now()
	done := make(chan error, 1)
	TaskStart(sched, func(task *Task) {
		err := task.Wait(50, nil)
		done <- err
		sched.Stop()
	})

	go sched.Loop()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Wait returned error: %v", err)
		}
		if time.Since(start) < 50*time.Millisecond {
			t.Fatal("Wait returned before its deadline")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("task never woke from timer")
	}
}

func TestScheduler_StopCancelsParkedTask(t *testing.T) {
	sched, err := NewScheduler()
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}
	defer sched.Close()

	done := make(chan error, 1)
	TaskStart(sched, func(task *Task) {
		done <- task.Wait(60_000, nil)
	})

	loopDone := make(chan error, 1)
	go func() { loopDone <- sched.Loop() }()

	time.Sleep(20 * time.Millisecond)
	sched.Stop()

	select {
	case err := <-done:
		if err != ErrCancelled {
			t.Fatalf("Wait returned %v, want ErrCancelled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("parked task was never cancelled")
	}

	select {
	case err := <-loopDone:
		if err != nil {
			t.Fatalf("Loop returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Loop never returned after Stop")
	}
}

func TestScheduler_StopForceClosesUnattachedSockets(t *testing.T) {
	sched, err := NewScheduler()
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}
	defer sched.Close()

	ln, err := Listen(sched, ClassTCP, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	loopDone := make(chan error, 1)
	go func() { loopDone <- sched.Loop() }()

	time.Sleep(20 * time.Millisecond)
	sched.Stop()

	select {
	case err := <-loopDone:
		if err != nil {
			t.Fatalf("Loop returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Loop never returned after Stop")
	}

	if !ln.closed {
		t.Fatal("Listen socket not closed after Stop tore the scheduler down")
	}
}

func TestScheduler_ReentrantLoop(t *testing.T) {
	sched, err := NewScheduler()
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}
	defer sched.Close()

	result := make(chan error, 1)
	TaskStart(sched, func(task *Task) {
		result <- sched.Loop()
		sched.Stop()
	})

	go sched.Loop()
	select {
	case err := <-result:
		if err != ErrReentrantLoop {
			t.Fatalf("nested Loop() = %v, want ErrReentrantLoop", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("nested Loop call never returned")
	}
}

func TestScheduler_MetricsDisabledByDefault(t *testing.T) {
	sched, err := NewScheduler()
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}
	defer sched.Close()
	if sched.Metrics() != nil {
		t.Fatal("Metrics() non-nil without WithMetrics(true)")
	}
}

func TestScheduler_MetricsEnabled(t *testing.T) {
	sched, err := NewScheduler(WithMetrics(true))
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}
	defer sched.Close()
	if sched.Metrics() == nil {
		t.Fatal("Metrics() nil with WithMetrics(true)")
	}
}
