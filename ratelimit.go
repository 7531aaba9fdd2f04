package coro

import (
	"time"

	"github.com/joeycumines/go-catrate"
)

// acceptLimiter gates a listening Socket's accept operation by a sliding-
// window rate, backed by catrate.Limiter. Nil is a valid, always-allow
// limiter.
type acceptLimiter struct {
	limiter *catrate.Limiter
}

// WithAcceptRateLimiter configures a listening Socket to check rates before
// returning an accepted connection: when the category (typically the
// listener's bound address) is over rate, accept parks the calling Task on
// a timer for the reported remaining duration and retries, rather than
// returning an error.
func WithAcceptRateLimiter(rates map[time.Duration]int) SocketOption {
	return &socketOptionImpl{func(opts *socketOptions) error {
		opts.acceptLimiter = &acceptLimiter{limiter: catrate.NewLimiter(rates)}
		return nil
	}}
}

// allow checks whether category may accept now. ok is false if the caller
// should wait; retryAfter is how long.
func (a *acceptLimiter) allow(category any) (retryAfter time.Duration, ok bool) {
	if a == nil || a.limiter == nil {
		return 0, true
	}
	next, allowed := a.limiter.Allow(category)
	if allowed {
		return 0, true
	}
	wait := time.Until(next)
	if wait < 0 {
		wait = 0
	}
	return wait, false
}
