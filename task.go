package coro

import (
	"fmt"
	"sync/atomic"
)

// WakeCause is the reason a parked Task was re-enqueued.
type WakeCause int

const (
	// WakeNone is the zero value; never observed by user code, it only
	// appears momentarily before a Task's first resume.
	WakeNone WakeCause = iota
	// WakeIOReady means the node's file descriptor became ready for one of
	// its requested event kinds.
	WakeIOReady
	// WakeTimeout means the Task's deadline fired before any readiness.
	WakeTimeout
	// WakeCancelled means the owning Scheduler stopped, or an AbortSignal
	// fired, while the Task was parked.
	WakeCancelled
)

func (c WakeCause) String() string {
	switch c {
	case WakeNone:
		return "none"
	case WakeIOReady:
		return "io-ready"
	case WakeTimeout:
		return "timeout"
	case WakeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// reportKind is what a Task's goroutine tells the driver when it hands the
// baton back.
type reportKind int

const (
	// reportParked means the Task has already registered itself with the
	// poller and/or timer wheel (it did so itself, while still holding the
	// baton) and is now waiting on its resume channel.
	reportParked reportKind = iota
	// reportYield means the Task wants to be re-enqueued at the tail of the
	// run queue immediately (task_wait(0), or the io_calls starvation cap).
	reportYield
	// reportFinished means the Task's entry function returned; the driver
	// must tear it down.
	reportFinished
)

type taskReport struct {
	kind reportKind
}

// Task is a cooperative routine represented as a goroutine synchronized
// with its owning Scheduler by a single-slot baton channel pair
// (resumeCh/reportCh): exactly one of {the Scheduler's driver, this Task's
// goroutine} ever runs at a time.
type Task struct {
	id    uint64
	sched *Scheduler
	state *atomicTaskState

	wakeCause WakeCause

	pendingDeadlineMs  int64 // set by SetTimeout; consumed by the next blocking op
	hasPendingDeadline bool

	attachedSocket *Socket // socket this Task created inline; closed on exit if still owned

	resumeCh chan WakeCause
	reportCh chan taskReport

	next        *Task      // intrusive FIFO link used by the Scheduler's run queue
	pendingWake WakeCause  // cause to deliver on the next resumeTask, set by enqueueRunnable
	parkedNode  *SchedNode // node this task is parked on, visible to the driver during a cancellation sweep

	goroutineID uint64 // this Task's own goroutine id, so Loop can detect being called back into from inside a Task

	entry func(t *Task)

	panicVal any // captured panic from entry, surfaced via the scheduler logger

	cancelRequested atomic.Bool // set by AbortSignal.attach's handler via requestCancel
	abortRemove     func()      // detaches the current AbortSignal handler, if any
}

// attach designates s as t's attached socket, replacing whatever was
// attached before without closing it: only one attachment is tracked at a
// time, matching the single-socket-per-handler idiom of Dial/Accept. If t's
// entry function returns without an explicit Close, run tears down
// whatever is still attached when it exits.
func (t *Task) attach(s *Socket) {
	t.attachedSocket = s
	s.ownerTask = t
}

// requestCancel marks t to be woken with [WakeCancelled] on the driver's
// next iteration and nudges the owning Scheduler's wakeup fd. Safe to call
// from any goroutine.
func (t *Task) requestCancel() {
	t.cancelRequested.Store(true)
	t.sched.wake.signal()
}

func newTask(sched *Scheduler, id uint64, entry func(t *Task)) *Task {
	return &Task{
		id:       id,
		sched:    sched,
		state:    newAtomicTaskState(TaskRunnable),
		entry:    entry,
		resumeCh: make(chan WakeCause, 1),
		reportCh: make(chan taskReport, 1),
	}
}

// TaskStart allocates a Task, primes its entry function, and enqueues it as
// runnable. It returns before entry runs. Like the rest of the Scheduler's
// API, it must only be called from the Scheduler's own driver or Task
// goroutines, or before Loop has started.
func TaskStart(sched *Scheduler, entry func(t *Task)) (*Task, error) {
	if entry == nil {
		return nil, fmt.Errorf("coro: TaskStart: nil entry")
	}
	if sched.state.Load() == StateStopping || sched.state.Load() == StateStopped {
		return nil, ErrSchedulerStopped
	}
	t := newTask(sched, sched.nextObjectID(), entry)
	sched.registry.addTask(t)
	go t.run()
	sched.enqueueRunnable(t, WakeNone)
	return t, nil
}

// run is the Task's goroutine body. It waits for the first baton handoff,
// runs entry to completion (recovering and logging a panic rather than
// crashing the process), then reports finished.
func (t *Task) run() {
	<-t.resumeCh
	t.goroutineID = getGoroutineID()
	t.state.Store(TaskRunning)

	func() {
		defer func() {
			if r := recover(); r != nil {
				t.panicVal = r
				t.sched.logf(LevelError, "task", "task %d panicked: %v", t.id, r)
			}
		}()
		t.entry(t)
	}()

	if t.attachedSocket != nil {
		t.attachedSocket.Close()
		t.attachedSocket = nil
	}
	t.state.Store(TaskFinished)
	t.reportCh <- taskReport{kind: reportFinished}
}

// suspend hands the baton back to the driver with the given report, then
// blocks until the driver hands it back with a wake cause. Called only from
// the Task's own goroutine, only while it holds the baton.
func (t *Task) suspend(kind reportKind) WakeCause {
	t.reportCh <- taskReport{kind: kind}
	cause := <-t.resumeCh
	t.wakeCause = cause
	t.state.Store(TaskRunning)
	return cause
}

// parkOn registers node for events (if non-zero) and arms a timer-wheel
// deadline (if hasDeadline), then suspends until the driver wakes it. On
// return, node is no longer registered with the poller for the events it
// waited on and any armed timer entry has been cancelled or consumed.
func (t *Task) parkOn(node *SchedNode, events IOEvents, deadlineMs int64, hasDeadline bool) WakeCause {
	switch {
	case events != 0 && hasDeadline:
		t.state.Store(TaskParkedBoth)
	case events != 0:
		t.state.Store(TaskParkedIO)
	case hasDeadline:
		t.state.Store(TaskParkedTimer)
	default:
		// Neither I/O nor deadline: equivalent to an immediate yield.
		return t.suspend(reportYield)
	}

	node.owner = t
	if events != 0 {
		node.want = events
		_ = t.sched.registerNode(node, events)
	}
	if hasDeadline {
		node.timer = t.sched.timerWheel.Insert(t, deadlineMs)
	}
	t.parkedNode = node

	// The driver tears node down (poller/timer wheel) before ever waking
	// this task — see Scheduler.wakeParkedNode — so by the time suspend
	// returns, node.owner/node.timer/node.want/t.parkedNode are already
	// cleared. Nothing left to do here.
	return t.suspend(reportParked)
}

// Wait suspends the current Task. ms == 0 yields to the tail of the run
// queue. ms > 0 resumes the Task after at least ms monotonic milliseconds,
// unless the Scheduler stops or an AbortSignal aborts first, in which case
// Wait returns [ErrCancelled] early.
func (t *Task) Wait(ms int64, signal *AbortSignal) error {
	if ms <= 0 {
		t.suspend(reportYield)
		return nil
	}
	deadline := t.sched.nowMs() + ms
	node := &SchedNode{sched: t.sched, owner: t}
	if signal != nil {
		signal.attach(t)
		defer signal.detach(t)
	}
	cause := t.parkOn(node, 0, deadline, true)
	switch cause {
	case WakeTimeout:
		return nil
	case WakeCancelled:
		return ErrCancelled
	default:
		return nil
	}
}

// ID returns the Task's scheduler-local identifier, used for logging.
func (t *Task) ID() uint64 { return t.id }

// Scheduler returns the Task's owning Scheduler.
func (t *Task) Scheduler() *Scheduler { return t.sched }

// SetTimeout arms a deadline (absolute milliseconds from now) consumed by
// the Task's next blocking Socket operation; 0 disables it. Scoped to the
// Task rather than the Socket since a single pending deadline is set
// immediately before the blocking call it guards.
func (t *Task) SetTimeout(ms int64) {
	if ms <= 0 {
		t.hasPendingDeadline = false
		t.pendingDeadlineMs = 0
		return
	}
	t.hasPendingDeadline = true
	t.pendingDeadlineMs = t.sched.nowMs() + ms
}

func (t *Task) takePendingDeadline() (int64, bool) {
	if !t.hasPendingDeadline {
		return 0, false
	}
	d := t.pendingDeadlineMs
	t.hasPendingDeadline = false
	return d, true
}
