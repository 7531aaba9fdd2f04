package coro

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSpawn_RejectsNonPositiveCount(t *testing.T) {
	if _, err := Spawn(0); err == nil {
		t.Fatal("Spawn(0) succeeded, want error")
	}
	if _, err := Spawn(-1); err == nil {
		t.Fatal("Spawn(-1) succeeded, want error")
	}
}

func TestSpawn_GetAndLen(t *testing.T) {
	pool, err := Spawn(4)
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	defer pool.Stop()

	if pool.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", pool.Len())
	}
	for i := 0; i < 4; i++ {
		if pool.Get(i) == nil {
			t.Fatalf("Get(%d) = nil", i)
		}
	}
}

// TestSpawn_PeerPoolCountsConcurrently starts one Task per peer, each
// incrementing a shared counter 250 times via repeated task_wait(0) yields,
// for a pool-wide total of 1000 — exercising Start/Join across independent
// Schedulers with no shared mutable scheduling state.
func TestSpawn_PeerPoolCountsConcurrently(t *testing.T) {
	const peers = 4
	const perPeer = 250

	pool, err := Spawn(peers)
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	var total atomic.Int64
	var wg sync.WaitGroup
	wg.Add(peers)
	for i := 0; i < peers; i++ {
		sched := pool.Get(i)
		if _, err := TaskStart(sched, func(task *Task) {
			defer wg.Done()
			for j := 0; j < perPeer; j++ {
				total.Add(1)
				task.Wait(0, nil)
			}
			sched.Stop()
		}); err != nil {
			t.Fatalf("TaskStart on peer %d failed: %v", i, err)
		}
	}

	if err := pool.Start(nil); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("peer tasks never finished")
	}

	if err := pool.Join(); err != nil {
		t.Fatalf("Join returned error: %v", err)
	}
	if got := total.Load(); got != peers*perPeer {
		t.Fatalf("total = %d, want %d", got, peers*perPeer)
	}
}

func TestSpawn_StartTwiceFails(t *testing.T) {
	pool, err := Spawn(1)
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	TaskStart(pool.Get(0), func(task *Task) { pool.Get(0).Stop() })

	if err := pool.Start(nil); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	if err := pool.Start(nil); err != ErrSchedulerRunning {
		t.Fatalf("second Start = %v, want ErrSchedulerRunning", err)
	}
	if err := pool.Join(); err != nil {
		t.Fatalf("Join returned error: %v", err)
	}
}

func TestSpawn_ContextCancelStopsPool(t *testing.T) {
	pool, err := Spawn(2)
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	for i := 0; i < pool.Len(); i++ {
		sched := pool.Get(i)
		TaskStart(sched, func(task *Task) {
			task.Wait(60_000, nil)
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	cancel()

	done := make(chan error, 1)
	go func() { done <- pool.Join() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Join returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("pool never stopped after context cancellation")
	}
}
