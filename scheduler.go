package coro

import (
	"runtime"
	"sync/atomic"
	"time"
)

var schedulerIDCounter atomic.Uint64

// Scheduler is the single-threaded cooperative driver: it owns one Task run
// queue, one TimerWheel, and one platform poller, and only ever executes on
// the goroutine that called [Scheduler.Loop] or on a Task goroutine it has
// handed the baton to.
type Scheduler struct {
	id uint64

	state    *fastState
	registry *objectRegistry

	timerWheel *TimerWheel
	poller     platformPoller

	wake     *wakeup
	wakeNode *SchedNode

	runHead, runTail *Task

	current *Task

	logger               Logger
	metrics              *Metrics
	maxIOCalls           int
	strictWakeupOrdering bool

	startMono   time.Time
	cachedNowMs int64

	nextID atomic.Uint64

	driverGoroutineID atomic.Uint64
}

// NewScheduler creates a Scheduler with its own poller and wakeup fd
// registered, ready for [TaskStart] and [Scheduler.Loop].
func NewScheduler(opts ...SchedulerOption) (*Scheduler, error) {
	cfg, err := resolveSchedulerOptions(opts)
	if err != nil {
		return nil, err
	}

	wake, err := newWakeup()
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		id:                   schedulerIDCounter.Add(1),
		state:                newFastState(),
		registry:             newObjectRegistry(),
		timerWheel:           NewTimerWheel(),
		wake:                 wake,
		logger:               cfg.logger,
		maxIOCalls:           cfg.maxIOCalls,
		strictWakeupOrdering: cfg.strictWakeupOrdering,
		startMono:            time.Now(),
	}
	if cfg.metricsEnabled {
		s.metrics = newMetrics()
	}

	if err := s.poller.init(); err != nil {
		wake.close()
		return nil, err
	}
	s.wakeNode = &SchedNode{fd: wake.readFd, sched: s}
	wake.node = s.wakeNode
	if err := s.poller.add(wake.readFd, s.wakeNode, EventRead); err != nil {
		_ = s.poller.close()
		wake.close()
		return nil, err
	}
	s.wakeNode.registered = EventRead
	s.refreshNow()
	return s, nil
}

// nextObjectID hands out a process-local identifier shared by Tasks and
// Sockets; the two live in separate registry maps, so reusing one counter
// across both kinds is harmless.
func (s *Scheduler) nextObjectID() uint64 { return s.nextID.Add(1) }

// ID returns the Scheduler's process-local identifier, used for logging.
func (s *Scheduler) ID() uint64 { return s.id }

// State returns the Scheduler's current lifecycle state.
func (s *Scheduler) State() SchedulerState { return s.state.Load() }

// Metrics returns the Scheduler's metrics collector, or nil if it was not
// constructed with [WithMetrics].
func (s *Scheduler) Metrics() *Metrics { return s.metrics }

func (s *Scheduler) refreshNow() {
	s.cachedNowMs = time.Since(s.startMono).Milliseconds()
}

// nowMs returns the monotonic clock cached at the start of the current
// driver iteration; it is read once per iteration, not once per call, so
// every Task and timer comparison within an iteration sees the same value.
func (s *Scheduler) nowMs() int64 { return s.cachedNowMs }

// enqueueRunnable appends t to the tail of the FIFO run queue with the wake
// cause it should observe when resumed.
func (s *Scheduler) enqueueRunnable(t *Task, cause WakeCause) {
	t.state.Store(TaskRunnable)
	t.pendingWake = cause
	t.next = nil
	if s.runTail == nil {
		s.runHead = t
		s.runTail = t
		return
	}
	s.runTail.next = t
	s.runTail = t
}

func (s *Scheduler) dequeueRunnable() *Task {
	t := s.runHead
	if t == nil {
		return nil
	}
	s.runHead = t.next
	if s.runHead == nil {
		s.runTail = nil
	}
	t.next = nil
	return t
}

func (s *Scheduler) runQueueLen() int {
	n := 0
	for t := s.runHead; t != nil; t = t.next {
		n++
	}
	return n
}

// registerNode adds or updates node's poller registration to match events.
// Only called with events != 0; a transition to "no interest" goes through
// unregisterNode instead.
func (s *Scheduler) registerNode(node *SchedNode, events IOEvents) error {
	if node.registered == 0 {
		if err := s.poller.add(node.fd, node, events); err != nil {
			return err
		}
		node.registered = events
		return nil
	}
	if events == node.registered {
		return nil
	}
	if err := s.poller.modify(node.fd, events); err != nil {
		return err
	}
	node.registered = events
	return nil
}

// unregisterNode removes node's poller registration, if any. Idempotent.
func (s *Scheduler) unregisterNode(node *SchedNode) error {
	if node.registered == 0 {
		return nil
	}
	if err := s.poller.remove(node.fd); err != nil {
		return err
	}
	node.registered = 0
	return nil
}

// wakeParkedNode tears down whatever node was waiting on (poller
// registration, timer wheel entry) and re-enqueues its owning Task with
// cause. Called only from the driver, only while the owner is parked (i.e.
// blocked on its own resumeCh), which is what makes it safe to mutate node
// and the task's bookkeeping fields here instead of from the task's own
// goroutine.
func (s *Scheduler) wakeParkedNode(node *SchedNode, cause WakeCause) {
	t := node.owner
	if t == nil {
		return
	}
	if node.timer != nil {
		s.timerWheel.Cancel(node.timer)
		node.timer = nil
	}
	if node.want != 0 {
		_ = s.unregisterNode(node)
		node.want = 0
	}
	node.owner = nil
	t.parkedNode = nil
	s.enqueueRunnable(t, cause)
}

// resumeTask hands the baton to t, carrying cause, and blocks until t either
// parks again, yields, or finishes.
func (s *Scheduler) resumeTask(t *Task, cause WakeCause) {
	s.current = t
	t.resumeCh <- cause
	report := <-t.reportCh
	s.current = nil

	if s.metrics != nil {
		s.metrics.recordResume()
	}

	switch report.kind {
	case reportFinished:
		s.registry.removeTask(t)
	case reportYield:
		s.enqueueRunnable(t, WakeNone)
	case reportParked:
		// t registered itself with the poller/timer wheel before suspending,
		// while it still held the baton; nothing left for the driver to do.
	}
}

// sweepCancellations wakes every parked Task that either has a pending
// [Task.requestCancel] or, if the Scheduler is stopping, every parked Task
// unconditionally.
func (s *Scheduler) sweepCancellations() {
	stopping := s.state.Load() == StateStopping
	for _, t := range s.registry.liveTasks() {
		if !t.state.Load().IsParked() {
			continue
		}
		if !stopping && !t.cancelRequested.Load() {
			continue
		}
		t.cancelRequested.Store(false)
		s.wakeParkedNode(t.parkedNode, WakeCancelled)
	}
}

// calculateTimeoutMs picks the next poller.wait timeout: zero if the run
// queue is non-empty (don't block), otherwise capped by the next timer
// deadline, otherwise a bounded idle ceiling so Stop()/Abort() are never
// more than maxIdleWaitMs late even with no timers pending.
const maxIdleWaitMs = 10_000

func (s *Scheduler) calculateTimeoutMs() int {
	if s.runHead != nil {
		return 0
	}
	if next, ok := s.timerWheel.NextDeadline(); ok {
		delta := next - s.cachedNowMs
		if delta < 0 {
			delta = 0
		}
		if delta > maxIdleWaitMs {
			delta = maxIdleWaitMs
		}
		return int(delta)
	}
	return maxIdleWaitMs
}

// Loop runs the Scheduler's driver to completion: it returns nil once Stop
// has been called and every Task has unwound, or an error if Loop cannot be
// entered at all. It must be called from a dedicated goroutine, never from
// one of the Scheduler's own Task goroutines.
func (s *Scheduler) Loop() error {
	if s.isDriverGoroutine() || s.isCurrentTaskGoroutine() {
		return ErrReentrantLoop
	}
	if !s.state.TryTransition(StateAwake, StateRunning) {
		if s.state.Load() == StateStopped {
			return ErrSchedulerStopped
		}
		return ErrSchedulerRunning
	}

	s.driverGoroutineID.Store(getGoroutineID())
	defer s.driverGoroutineID.Store(0)

	// epoll/kevent fds are only valid from the thread that created them in
	// spirit (in practice Linux/Darwin don't require this as strictly as
	// some platforms, but pinning avoids surprises if the Go runtime ever
	// migrates a blocked syscall's goroutine mid-wait).
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		s.refreshNow()

		for _, t := range s.timerWheel.PopDue(s.cachedNowMs) {
			s.wakeParkedNode(t.parkedNode, WakeTimeout)
		}

		s.sweepCancellations()

		if s.metrics != nil {
			s.metrics.Queue.Update(s.runQueueLen())
		}

		// Drain exactly the tasks queued as of this instant; anything a
		// task re-queues while running (task_wait(0)) waits for the next
		// iteration, so a busy task can never starve the poll step.
		for n := s.runQueueLen(); n > 0; n-- {
			t := s.dequeueRunnable()
			if t == nil {
				break
			}
			t.state.Store(TaskRunning)
			s.resumeTask(t, t.pendingWake)
		}

		if s.state.Load() == StateStopping && s.runHead == nil && len(s.registry.tasks) == 0 {
			// Every Task has unwound, so any still-attached socket was
			// already closed by its owner's implicit teardown; what's left
			// in the registry is unattached (a Listener, or a socket whose
			// Task explicitly detached it). Force-close it here rather than
			// leaking the fd and poller registration past Loop's return.
			for _, sock := range s.registry.liveSockets() {
				sock.Close()
			}
			s.state.Store(StateStopped)
			return nil
		}

		timeoutMs := s.calculateTimeoutMs()
		pollStart := time.Now()
		s.state.TryTransition(StateRunning, StateSleeping)
		ready, err := s.poller.wait(timeoutMs)
		s.state.TryTransition(StateSleeping, StateRunning)
		if s.strictWakeupOrdering {
			s.wake.drain()
		}
		if s.metrics != nil {
			s.metrics.Latency.Record(time.Since(pollStart))
		}
		if err != nil {
			s.logf(LevelError, "poller", "wait failed: %v", err)
			continue
		}
		for _, r := range ready {
			if r.Node == s.wakeNode {
				s.wake.drain()
				continue
			}
			s.wakeParkedNode(r.Node, WakeIOReady)
		}
	}
}

// Stop requests the Scheduler stop: every currently-parked Task is woken
// with [WakeCancelled] on the driver's next iteration, and Loop returns once
// all Tasks have unwound. Safe to call from any goroutine, any number of
// times.
func (s *Scheduler) Stop() {
	for {
		cur := s.state.Load()
		if cur == StateStopping || cur == StateStopped {
			return
		}
		if s.state.TryTransition(cur, StateStopping) {
			s.wake.signal()
			return
		}
	}
}

// Close releases the Scheduler's poller and wakeup fds. Only safe to call
// after Loop has returned.
func (s *Scheduler) Close() error {
	err := s.poller.close()
	s.wake.close()
	return err
}

func (s *Scheduler) isDriverGoroutine() bool {
	id := s.driverGoroutineID.Load()
	if id == 0 {
		return false
	}
	return getGoroutineID() == id
}

// isCurrentTaskGoroutine reports whether the calling goroutine is the one
// currently holding the baton as s.current. Tasks run on their own dedicated
// goroutines (see Task.run), so a Task calling back into Loop never matches
// isDriverGoroutine; this catches that case instead. Reading s.current here
// is race-free: the driver only reassigns it while blocked on the baton
// handoff, never while a Task's goroutine is actively running.
func (s *Scheduler) isCurrentTaskGoroutine() bool {
	cur := s.current
	if cur == nil {
		return false
	}
	return getGoroutineID() == cur.goroutineID
}

// getGoroutineID extracts the calling goroutine's runtime ID by parsing the
// "goroutine N [...]" header off its own stack trace.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
