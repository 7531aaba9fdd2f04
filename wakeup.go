package coro

// wakeup is a self-pipe/eventfd registered with the poller so that
// Scheduler.Stop and AbortController.Abort can interrupt a driver blocked in
// epoll_wait/kevent from another goroutine.
type wakeup struct {
	readFd  int
	writeFd int
	node    *SchedNode
}

func newWakeup() (*wakeup, error) {
	r, w, err := createWakeFd()
	if err != nil {
		return nil, wrapSyscallErr("wakeup", err)
	}
	return &wakeup{readFd: r, writeFd: w}, nil
}

// signal is safe to call from any goroutine, any number of times; the
// driver coalesces redundant wakeups when it drains the fd.
func (w *wakeup) signal() {
	_ = writeWake(w.writeFd)
}

func (w *wakeup) drain() {
	drainWake(w.readFd)
}

func (w *wakeup) close() {
	_ = closeFD(w.readFd)
	if w.writeFd != w.readFd {
		_ = closeFD(w.writeFd)
	}
}
