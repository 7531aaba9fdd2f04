// Package coro is a single-threaded, cooperative I/O runtime: a readiness-
// based event loop (epoll on Linux, kqueue on Darwin) that multiplexes many
// concurrent Tasks onto one OS thread, plus the socket abstraction whose
// blocking-looking read/write/accept/connect operations actually park the
// calling Task on the loop instead of blocking the thread.
//
// # Architecture
//
// A [Scheduler] owns a FIFO run queue, a [TimerWheel] keyed by absolute
// monotonic milliseconds, and a platform poller. It drives a loop that (1)
// drains due timers, (2) resumes, one at a time, each Task that was runnable
// at the start of the iteration until it parks, yields or finishes, (3)
// blocks in the poller for the next readiness event or deadline, and
// repeats until [Scheduler.Stop] has been called and every Task has
// unwound. The loop does not end on its own when no Task remains runnable
// or parked.
//
// A [Task] is a goroutine synchronized with the Scheduler by a single-slot
// baton channel: the Scheduler only ever has one Task (or the driver itself)
// actually executing runtime-owned state at a time, reproducing
// single-threaded cooperative semantics without a hand-rolled stack
// switcher.
//
// A [Socket] wraps a file descriptor plus a class dispatch table
// ([SocketClass]); its operations perform a non-blocking syscall first and
// park the current Task on the poller only when that would otherwise block.
//
// # Platform support
//
// I/O polling uses platform-native readiness mechanisms, both in their
// default level-triggered mode:
//   - Linux: epoll
//   - Darwin: kqueue
//
// Windows is not supported: IOCP is completion-based, not readiness-based,
// and does not fit the suspend-on-would-block contract this package relies
// on.
//
// # Concurrency
//
// Within one Scheduler, all Task code and Scheduler-owned data structures
// are touched only between Task steps — no locks are required. Multiple
// Schedulers may run as peers (see [Spawn]), each on its own OS thread,
// sharing no mutable state and never migrating a live Task.
// [Scheduler.Stop] and [AbortController.Abort] are the only operations
// meant to be called from outside the owning Scheduler's own goroutines.
//
// # Usage
//
//	sched, err := coro.NewScheduler()
//	if err != nil {
//	    panic(err)
//	}
//	coro.TaskStart(sched, func(t *coro.Task) {
//	    ln, err := coro.Listen(sched, coro.ClassTCP, "127.0.0.1:0")
//	    if err != nil {
//	        panic(err)
//	    }
//	    conn, err := ln.Accept(t, nil)
//	    if err != nil {
//	        panic(err)
//	    }
//	    buf := make([]byte, 5)
//	    conn.Read(t, buf)
//	    conn.Write(t, buf)
//	    conn.Close()
//	    sched.Stop()
//	})
//	sched.Loop()
//
// # Error Types
//
// Socket operations and [Task.Wait] return one of the sentinel error kinds
// declared in errors.go: [ErrTimeout], [ErrCancelled], [ErrOverflow],
// [ErrMismatch], [ErrClosed], [ErrEPipe], or a [*SyscallError] wrapping a
// kernel errno. All satisfy [errors.Is] against their sentinel.
package coro
