// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package coro

// schedulerOptions holds configuration resolved at Scheduler construction.
type schedulerOptions struct {
	maxIOCalls           int
	metricsEnabled       bool
	logger               Logger
	strictWakeupOrdering bool
}

// SchedulerOption configures a [Scheduler] at construction time.
type SchedulerOption interface {
	applyScheduler(*schedulerOptions) error
}

type schedulerOptionImpl struct {
	fn func(*schedulerOptions) error
}

func (o *schedulerOptionImpl) applyScheduler(opts *schedulerOptions) error {
	return o.fn(opts)
}

// WithMaxIOCalls overrides the default of 10 non-blocking retries a single
// logical Socket operation may make before yielding once to the tail of
// the run queue.
func WithMaxIOCalls(n int) SchedulerOption {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		if n < 1 {
			n = 1
		}
		opts.maxIOCalls = n
		return nil
	}}
}

// WithMetrics enables poll-latency percentile and queue-depth sampling on
// the Scheduler, retrievable via [Scheduler.Metrics]. Zero-cost when
// disabled (the default).
func WithMetrics(enabled bool) SchedulerOption {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		opts.metricsEnabled = enabled
		return nil
	}}
}

// WithLogger installs a Logger scoped to one Scheduler, overriding the
// process-wide logger set via [SetStructuredLogger].
func WithLogger(l Logger) SchedulerOption {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		opts.logger = l
		return nil
	}}
}

// WithStrictWakeupOrdering forces the driver to re-check the wakeup fd
// after every poller.wait even when it was not itself the event that woke
// the loop, trading a small amount of throughput for deterministic
// cross-goroutine Stop/Abort latency in tests.
func WithStrictWakeupOrdering(enabled bool) SchedulerOption {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		opts.strictWakeupOrdering = enabled
		return nil
	}}
}

func resolveSchedulerOptions(opts []SchedulerOption) (*schedulerOptions, error) {
	cfg := &schedulerOptions{maxIOCalls: defaultMaxIOCalls}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyScheduler(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// socketOptions holds configuration resolved at Socket construction.
type socketOptions struct {
	acceptLimiter *acceptLimiter
}

// SocketOption configures a [Socket] at construction time.
type SocketOption interface {
	applySocket(*socketOptions) error
}

type socketOptionImpl struct {
	fn func(*socketOptions) error
}

func (o *socketOptionImpl) applySocket(opts *socketOptions) error {
	return o.fn(opts)
}

func resolveSocketOptions(opts []SocketOption) (*socketOptions, error) {
	cfg := &socketOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applySocket(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
