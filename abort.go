//go:build linux || darwin

package coro

import (
	"sync"
)

// AbortSignal communicates cancellation of an in-flight blocking Task
// operation, shaped after the W3C DOM AbortController/AbortSignal
// interfaces: https://dom.spec.whatwg.org/#interface-abortsignal
//
// Unlike [Scheduler.Stop], aborting a signal cancels only the operations it
// was passed to, not the whole Scheduler.
type AbortSignal struct {
	mu       sync.RWMutex
	aborted  bool
	reason   any
	handlers []abortHandler
	nextID   uint64
}

type abortHandler struct {
	id uint64
	fn func(reason any)
}

func newAbortSignal() *AbortSignal {
	return &AbortSignal{}
}

// Aborted reports whether the signal has fired.
func (s *AbortSignal) Aborted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.aborted
}

// Reason returns the abort reason, or nil if not yet aborted.
func (s *AbortSignal) Reason() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reason
}

// OnAbort registers a callback invoked when the signal aborts, or
// immediately if it already has.
func (s *AbortSignal) OnAbort(handler func(reason any)) {
	if handler == nil {
		return
	}
	s.addHandler(handler)
}

func (s *AbortSignal) addHandler(fn func(reason any)) (remove func()) {
	s.mu.Lock()
	if s.aborted {
		reason := s.reason
		s.mu.Unlock()
		fn(reason)
		return func() {}
	}
	id := s.nextID
	s.nextID++
	s.handlers = append(s.handlers, abortHandler{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		for i, h := range s.handlers {
			if h.id == id {
				s.handlers = append(s.handlers[:i], s.handlers[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
	}
}

// ThrowIfAborted returns an [*AbortError] if the signal has fired.
func (s *AbortSignal) ThrowIfAborted() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.aborted {
		return &AbortError{Reason: s.reason}
	}
	return nil
}

func (s *AbortSignal) abort(reason any) {
	s.mu.Lock()
	if s.aborted {
		s.mu.Unlock()
		return
	}
	s.aborted = true
	s.reason = reason
	handlers := make([]abortHandler, len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.Unlock()

	for _, h := range handlers {
		h.fn(reason)
	}
}

// attach arms t to be woken with [WakeCancelled] if the signal aborts while
// t is parked. It is safe to call from any goroutine, matching
// [Scheduler.Stop]'s cross-goroutine contract: it sets an atomic flag on
// the Task and signals the owning Scheduler's wakeup fd, rather than
// touching Scheduler-owned state directly.
func (s *AbortSignal) attach(t *Task) {
	t.abortRemove = s.addHandler(func(reason any) {
		t.requestCancel()
	})
}

func (s *AbortSignal) detach(t *Task) {
	if t.abortRemove != nil {
		t.abortRemove()
		t.abortRemove = nil
	}
}

// AbortController lets a caller cancel the operations it has handed its
// [AbortSignal] to.
type AbortController struct {
	signal *AbortSignal
}

// NewAbortController returns a controller with a fresh, unarmed signal.
func NewAbortController() *AbortController {
	return &AbortController{signal: newAbortSignal()}
}

// Signal returns the controller's AbortSignal.
func (c *AbortController) Signal() *AbortSignal {
	return c.signal
}

// Abort fires the controller's signal with reason (or a default
// [*AbortError] if reason is nil). Safe to call from any goroutine.
func (c *AbortController) Abort(reason any) {
	if reason == nil {
		reason = &AbortError{Reason: "aborted"}
	}
	c.signal.abort(reason)
}

// AbortError reports that an operation was cancelled via an AbortSignal.
type AbortError struct {
	Reason any
}

func (e *AbortError) Error() string {
	switch r := e.Reason.(type) {
	case nil:
		return "coro: operation aborted"
	case string:
		return "coro: aborted: " + r
	case error:
		return "coro: aborted: " + r.Error()
	default:
		return "coro: operation aborted"
	}
}

// Is reports true for any *AbortError, regardless of Reason.
func (e *AbortError) Is(target error) bool {
	_, ok := target.(*AbortError)
	return ok
}

// Unwrap returns the underlying error if Reason is one.
func (e *AbortError) Unwrap() error {
	if err, ok := e.Reason.(error); ok {
		return err
	}
	return nil
}

// AbortAny returns a signal that aborts as soon as any of signals does,
// carrying that signal's reason (DOM AbortSignal.any()).
func AbortAny(signals []*AbortSignal) *AbortSignal {
	composite := newAbortSignal()
	if len(signals) == 0 {
		return composite
	}
	for _, sig := range signals {
		if sig != nil && sig.Aborted() {
			composite.abort(sig.Reason())
			return composite
		}
	}
	var once sync.Once
	for _, sig := range signals {
		if sig == nil {
			continue
		}
		s := sig
		s.OnAbort(func(reason any) {
			once.Do(func() { composite.abort(reason) })
		})
	}
	return composite
}
