package coro

import (
	"sync/atomic"
)

// SchedulerState represents the lifecycle of a Scheduler's driver loop.
//
// State Machine:
//
//	StateAwake (0) → StateRunning (1)        [Loop()]
//	StateRunning (1) → StateSleeping (2)     [blocked in poller.Wait]
//	StateSleeping (2) → StateRunning (1)     [woken by readiness/deadline/wake]
//	StateRunning (1) → StateStopping (3)     [Stop()]
//	StateSleeping (2) → StateStopping (3)    [Stop()]
//	StateStopping (3) → StateStopped (4)     [loop drained, all tasks unwound]
//	StateStopped (4) → (terminal)
//
// Use TryTransition (CAS) for the temporary Running/Sleeping states; use
// Store for the irreversible Stopped state.
type SchedulerState uint32

const (
	// StateAwake indicates the scheduler has been created but Loop() has
	// not yet been called.
	StateAwake SchedulerState = iota
	// StateRunning indicates the driver is actively running tasks.
	StateRunning
	// StateSleeping indicates the driver is blocked in the poller.
	StateSleeping
	// StateStopping indicates Stop() has been called; the driver is
	// cancelling parked tasks and draining the run queue.
	StateStopping
	// StateStopped indicates the driver has fully exited Loop().
	StateStopped
)

// String returns a human-readable representation of the state.
func (s SchedulerState) String() string {
	switch s {
	case StateAwake:
		return "awake"
	case StateRunning:
		return "running"
	case StateSleeping:
		return "sleeping"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// fastState is a lock-free state cell with cache-line padding, preventing
// false sharing between cores when many Schedulers (peers) live adjacently.
type fastState struct { //nolint:govet
	_ [64]byte
	v atomic.Uint32
	_ [60]byte
}

func newFastState() *fastState {
	s := &fastState{}
	s.v.Store(uint32(StateAwake))
	return s
}

func (s *fastState) Load() SchedulerState {
	return SchedulerState(s.v.Load())
}

func (s *fastState) Store(state SchedulerState) {
	s.v.Store(uint32(state))
}

func (s *fastState) TryTransition(from, to SchedulerState) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}

// IsTerminal reports whether the scheduler has fully stopped.
func (s *fastState) IsTerminal() bool {
	return s.Load() == StateStopped
}

// TaskState represents where a Task sits in its lifecycle state machine:
//
//	Runnable → Running → (ParkedIO | ParkedTimer | ParkedBoth) → Runnable → … → Finished
//
// Finished is terminal: a finished Task is never re-enqueued.
type TaskState uint32

const (
	// TaskRunnable means the task is sitting in the Scheduler's run queue.
	TaskRunnable TaskState = iota
	// TaskRunning means the task is the Scheduler's current task.
	TaskRunning
	// TaskParkedIO means the task is registered with the poller, awaiting
	// readiness, with no deadline armed.
	TaskParkedIO
	// TaskParkedTimer means the task is in the timer wheel, awaiting a
	// deadline, with no I/O registration.
	TaskParkedTimer
	// TaskParkedBoth means the task is both registered with the poller and
	// in the timer wheel.
	TaskParkedBoth
	// TaskFinished is terminal: the task's entry function has returned, or
	// the scheduler tore it down.
	TaskFinished
)

// String returns a human-readable representation of the state.
func (s TaskState) String() string {
	switch s {
	case TaskRunnable:
		return "runnable"
	case TaskRunning:
		return "running"
	case TaskParkedIO:
		return "parked-io"
	case TaskParkedTimer:
		return "parked-timer"
	case TaskParkedBoth:
		return "parked-both"
	case TaskFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// IsParked reports whether the state is one of the three parked states.
func (s TaskState) IsParked() bool {
	return s == TaskParkedIO || s == TaskParkedTimer || s == TaskParkedBoth
}

// atomicTaskState is a lock-free Task state cell, mirroring fastState's CAS
// convention but sized for the 6-state Task lifecycle.
type atomicTaskState struct { //nolint:govet
	_ [64]byte
	v atomic.Uint32
	_ [60]byte
}

func newAtomicTaskState(initial TaskState) *atomicTaskState {
	s := &atomicTaskState{}
	s.v.Store(uint32(initial))
	return s
}

func (s *atomicTaskState) Load() TaskState {
	return TaskState(s.v.Load())
}

func (s *atomicTaskState) Store(state TaskState) {
	s.v.Store(uint32(state))
}

func (s *atomicTaskState) TryTransition(from, to TaskState) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}
