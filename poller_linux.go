//go:build linux

package coro

import (
	"golang.org/x/sys/unix"
)

// maxFDs bounds direct-indexed fd storage: fds above this fall outside the
// fixed-size registration array and are rejected with ErrFDOutOfRange.
const maxFDs = 65536

// platformPoller wraps epoll. No mutex guards the fds array: a Scheduler's
// poller is only ever touched by whichever goroutine currently holds the
// baton (the driver or the current Task), never concurrently, so the
// registration array needs no locking.
type platformPoller struct {
	epfd     int
	eventBuf [256]unix.EpollEvent
	fds      [maxFDs]*SchedNode
}

func (p *platformPoller) init() error {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return wrapSyscallErr("epoll_create1", err)
	}
	p.epfd = epfd
	return nil
}

func (p *platformPoller) close() error {
	if p.epfd == 0 {
		return nil
	}
	return unix.Close(p.epfd)
}

func (p *platformPoller) add(fd int, node *SchedNode, events IOEvents) error {
	if fd < 0 || fd >= maxFDs {
		return ErrFDOutOfRange
	}
	if p.fds[fd] != nil {
		return ErrFDAlreadyRegistered
	}
	ev := &unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		return wrapSyscallErr("epoll_ctl(add)", err)
	}
	p.fds[fd] = node
	return nil
}

func (p *platformPoller) modify(fd int, events IOEvents) error {
	if fd < 0 || fd >= maxFDs {
		return ErrFDOutOfRange
	}
	if p.fds[fd] == nil {
		return ErrFDNotRegistered
	}
	ev := &unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, ev); err != nil {
		return wrapSyscallErr("epoll_ctl(mod)", err)
	}
	return nil
}

// remove stops watching fd. Safe to call whether or not fd is currently
// registered, and tolerant of a fd already closed out from under it (EBADF).
func (p *platformPoller) remove(fd int) error {
	if fd < 0 || fd >= maxFDs {
		return ErrFDOutOfRange
	}
	if p.fds[fd] == nil {
		return nil
	}
	p.fds[fd] = nil
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil && err != unix.EBADF {
		return wrapSyscallErr("epoll_ctl(del)", err)
	}
	return nil
}

func (p *platformPoller) wait(timeoutMs int) ([]ReadyNode, error) {
	n, err := unix.EpollWait(p.epfd, p.eventBuf[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, wrapSyscallErr("epoll_wait", err)
	}
	if n == 0 {
		return nil, nil
	}
	ready := make([]ReadyNode, 0, n)
	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Fd)
		if fd < 0 || fd >= maxFDs {
			continue
		}
		node := p.fds[fd]
		if node == nil {
			continue
		}
		ready = append(ready, ReadyNode{Node: node, Events: epollToEvents(p.eventBuf[i].Events)})
	}
	return ready, nil
}

func eventsToEpoll(events IOEvents) uint32 {
	var e uint32
	if events&EventRead != 0 {
		e |= unix.EPOLLIN
	}
	if events&EventWrite != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func epollToEvents(e uint32) IOEvents {
	var events IOEvents
	if e&unix.EPOLLIN != 0 {
		events |= EventRead
	}
	if e&unix.EPOLLOUT != 0 {
		events |= EventWrite
	}
	if e&unix.EPOLLERR != 0 {
		events |= EventError
	}
	if e&unix.EPOLLHUP != 0 {
		events |= EventHangup
	}
	return events
}
