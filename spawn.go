package coro

import (
	"context"
	"fmt"
	"sync"
)

// Pool is a set of independent peer Schedulers, each driven by its own
// dedicated goroutine and OS thread. Peers share no mutable state with each
// other or with the Pool's creator; any coordination between them is left
// to the embedder.
type Pool struct {
	peers []*Scheduler

	mu      sync.Mutex
	started bool
	stopped bool
	done    chan struct{}
	errs    []error
}

// Spawn creates a Pool of n peer Schedulers, each constructed with opts.
// The Schedulers are ready for TaskStart immediately; call [Pool.Start] to
// begin running them.
func Spawn(n int, opts ...SchedulerOption) (*Pool, error) {
	if n < 1 {
		return nil, fmt.Errorf("coro: Spawn: n must be >= 1, got %d", n)
	}
	p := &Pool{
		peers: make([]*Scheduler, n),
		done:  make(chan struct{}),
	}
	for i := range p.peers {
		sched, err := NewScheduler(opts...)
		if err != nil {
			for _, s := range p.peers[:i] {
				if s != nil {
					_ = s.Close()
				}
			}
			return nil, err
		}
		p.peers[i] = sched
	}
	return p, nil
}

// Get returns the peer Scheduler at id, which must be in [0, n). Panics on
// an out-of-range id.
func (p *Pool) Get(id int) *Scheduler {
	return p.peers[id]
}

// Len returns the number of peer Schedulers in the Pool.
func (p *Pool) Len() int { return len(p.peers) }

// Start launches every peer Scheduler's Loop on its own goroutine. It
// returns immediately; use [Pool.Join] to wait for every peer to finish, or
// [Pool.Stop] to request all of them stop. Start may only be called once.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return ErrSchedulerRunning
	}
	p.started = true
	p.errs = make([]error, len(p.peers))
	p.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(len(p.peers))
	for i, sched := range p.peers {
		i, sched := i, sched
		go func() {
			defer wg.Done()
			if err := sched.Loop(); err != nil {
				p.mu.Lock()
				p.errs[i] = err
				p.mu.Unlock()
			}
		}()
	}

	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				p.Stop()
			case <-p.done:
			}
		}()
	}

	go func() {
		wg.Wait()
		close(p.done)
	}()

	return nil
}

// Stop requests every peer Scheduler stop. Safe to call from any goroutine,
// any number of times, before or after Start.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()
	for _, sched := range p.peers {
		sched.Stop()
	}
}

// Join blocks until every peer Scheduler's Loop has returned, then closes
// every peer's poller and wakeup fds and returns the first non-nil error
// observed, if any, checking each peer's Close error before its Loop error.
func (p *Pool) Join() error {
	<-p.done
	var firstErr error
	for i, sched := range p.peers {
		if err := sched.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if p.errs[i] != nil && firstErr == nil {
			firstErr = p.errs[i]
		}
	}
	return firstErr
}
