//go:build darwin

package coro

import (
	"golang.org/x/sys/unix"
)

// maxFDs is the initial capacity of the dynamic fd slice; it grows on
// demand past this.
const maxFDs = 65536

// maxFDLimit bounds dynamic growth.
const maxFDLimit = 100000000

// platformPoller wraps kqueue. As with the Linux variant, no mutex guards
// the fds slice: only the goroutine currently holding the baton ever
// touches it.
type platformPoller struct {
	kq       int
	eventBuf [256]unix.Kevent_t
	fds      []*SchedNode
}

func (p *platformPoller) init() error {
	kq, err := unix.Kqueue()
	if err != nil {
		return wrapSyscallErr("kqueue", err)
	}
	unix.CloseOnExec(kq)
	p.kq = kq
	p.fds = make([]*SchedNode, maxFDs)
	return nil
}

func (p *platformPoller) close() error {
	if p.kq == 0 {
		return nil
	}
	return unix.Close(p.kq)
}

func (p *platformPoller) grow(fd int) error {
	if fd >= maxFDLimit {
		return ErrFDOutOfRange
	}
	if fd < len(p.fds) {
		return nil
	}
	newSize := fd*2 + 1
	if newSize > maxFDLimit {
		newSize = maxFDLimit + 1
	}
	grown := make([]*SchedNode, newSize)
	copy(grown, p.fds)
	p.fds = grown
	return nil
}

func (p *platformPoller) add(fd int, node *SchedNode, events IOEvents) error {
	if fd < 0 {
		return ErrFDOutOfRange
	}
	if err := p.grow(fd); err != nil {
		return err
	}
	if p.fds[fd] != nil {
		return ErrFDAlreadyRegistered
	}
	kevents := eventsToKevents(fd, events, unix.EV_ADD|unix.EV_ENABLE)
	if len(kevents) > 0 {
		if _, err := unix.Kevent(p.kq, kevents, nil, nil); err != nil {
			return wrapSyscallErr("kevent(add)", err)
		}
	}
	p.fds[fd] = node
	return nil
}

func (p *platformPoller) modify(fd int, events IOEvents) error {
	if fd < 0 || fd >= len(p.fds) || p.fds[fd] == nil {
		return ErrFDNotRegistered
	}
	node := p.fds[fd]
	old := node.registered
	if del := old &^ events; del != 0 {
		if kevents := eventsToKevents(fd, del, unix.EV_DELETE); len(kevents) > 0 {
			_, _ = unix.Kevent(p.kq, kevents, nil, nil)
		}
	}
	if add := events &^ old; add != 0 {
		if kevents := eventsToKevents(fd, add, unix.EV_ADD|unix.EV_ENABLE); len(kevents) > 0 {
			if _, err := unix.Kevent(p.kq, kevents, nil, nil); err != nil {
				return wrapSyscallErr("kevent(mod)", err)
			}
		}
	}
	return nil
}

func (p *platformPoller) remove(fd int) error {
	if fd < 0 || fd >= len(p.fds) || p.fds[fd] == nil {
		return nil
	}
	node := p.fds[fd]
	p.fds[fd] = nil
	if kevents := eventsToKevents(fd, node.registered, unix.EV_DELETE); len(kevents) > 0 {
		_, _ = unix.Kevent(p.kq, kevents, nil, nil)
	}
	return nil
}

func (p *platformPoller) wait(timeoutMs int) ([]ReadyNode, error) {
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		ts = &unix.Timespec{Sec: int64(timeoutMs / 1000), Nsec: int64((timeoutMs % 1000) * 1000000)}
	}
	n, err := unix.Kevent(p.kq, nil, p.eventBuf[:], ts)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, wrapSyscallErr("kevent(wait)", err)
	}
	if n == 0 {
		return nil, nil
	}
	ready := make([]ReadyNode, 0, n)
	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Ident)
		if fd < 0 || fd >= len(p.fds) {
			continue
		}
		node := p.fds[fd]
		if node == nil {
			continue
		}
		ready = append(ready, ReadyNode{Node: node, Events: keventToEvents(&p.eventBuf[i])})
	}
	return ready, nil
}

func eventsToKevents(fd int, events IOEvents, flags uint16) []unix.Kevent_t {
	var kevents []unix.Kevent_t
	if events&EventRead != 0 {
		kevents = append(kevents, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flags})
	}
	if events&EventWrite != 0 {
		kevents = append(kevents, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags})
	}
	return kevents
}

func keventToEvents(kev *unix.Kevent_t) IOEvents {
	var events IOEvents
	switch kev.Filter {
	case unix.EVFILT_READ:
		events |= EventRead
	case unix.EVFILT_WRITE:
		events |= EventWrite
	}
	if kev.Flags&unix.EV_ERROR != 0 {
		events |= EventError
	}
	if kev.Flags&unix.EV_EOF != 0 {
		events |= EventHangup
	}
	return events
}
