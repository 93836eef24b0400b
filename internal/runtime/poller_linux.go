//go:build linux

package runtime

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/calvinalkan/kvcore/internal/errs"
)

// maxPollFDs bounds direct-indexed fd storage; registering a higher fd
// fails with InvalidArgument rather than growing unbounded.
const maxPollFDs = 65536

type fdEntry struct {
	cb     ioCallback
	events IOEvents
	active bool
}

// epollPoller is the Linux poller, grounded on
// joeycumines-go-utilpkg/eventloop's FastPoller: direct array indexing
// for O(1) lookup, a version counter to discard stale post-syscall
// dispatch after a racing unregister, inline callback execution with no
// lock held during the callback itself.
type epollPoller struct {
	epfd     int32
	version  atomic.Uint64
	eventBuf [256]unix.EpollEvent
	fds      [maxPollFDs]fdEntry
	fdMu     sync.RWMutex
	closed   atomic.Bool
}

func newPoller() poller { return &epollPoller{} }

func (p *epollPoller) Init() error {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return errs.New(errs.IoFailed, "runtime.poller.init", err)
	}

	p.epfd = int32(fd)

	return nil
}

func (p *epollPoller) Close() error {
	p.closed.Store(true)

	if p.epfd == 0 {
		return nil
	}

	if err := unix.Close(int(p.epfd)); err != nil {
		return errs.New(errs.IoFailed, "runtime.poller.close", err)
	}

	return nil
}

func (p *epollPoller) RegisterFD(fd int, events IOEvents, cb ioCallback) error {
	if p.closed.Load() {
		return errs.New(errs.InvalidArgument, "runtime.poller.register", nil)
	}

	if fd < 0 || fd >= maxPollFDs {
		return errs.New(errs.InvalidArgument, "runtime.poller.register", nil)
	}

	p.fdMu.Lock()
	if p.fds[fd].active {
		p.fdMu.Unlock()
		return errs.New(errs.AlreadyExists, "runtime.poller.register", nil)
	}

	p.fds[fd] = fdEntry{cb: cb, events: events, active: true}
	p.version.Add(1)
	p.fdMu.Unlock()

	ev := &unix.EpollEvent{Events: toEpollEvents(events), Fd: int32(fd)}
	if err := unix.EpollCtl(int(p.epfd), unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		p.fdMu.Lock()
		p.fds[fd] = fdEntry{}
		p.fdMu.Unlock()

		return errs.New(errs.IoFailed, "runtime.poller.register", err)
	}

	return nil
}

func (p *epollPoller) UnregisterFD(fd int) error {
	if fd < 0 || fd >= maxPollFDs {
		return errs.New(errs.InvalidArgument, "runtime.poller.unregister", nil)
	}

	p.fdMu.Lock()
	if !p.fds[fd].active {
		p.fdMu.Unlock()
		return errs.New(errs.NotFound, "runtime.poller.unregister", nil)
	}

	p.fds[fd] = fdEntry{}
	p.version.Add(1)
	p.fdMu.Unlock()

	if err := unix.EpollCtl(int(p.epfd), unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return errs.New(errs.IoFailed, "runtime.poller.unregister", err)
	}

	return nil
}

func (p *epollPoller) ModifyFD(fd int, events IOEvents) error {
	if fd < 0 || fd >= maxPollFDs {
		return errs.New(errs.InvalidArgument, "runtime.poller.modify", nil)
	}

	p.fdMu.Lock()
	if !p.fds[fd].active {
		p.fdMu.Unlock()
		return errs.New(errs.NotFound, "runtime.poller.modify", nil)
	}

	p.fds[fd].events = events
	p.version.Add(1)
	p.fdMu.Unlock()

	ev := &unix.EpollEvent{Events: toEpollEvents(events), Fd: int32(fd)}
	if err := unix.EpollCtl(int(p.epfd), unix.EPOLL_CTL_MOD, fd, ev); err != nil {
		return errs.New(errs.IoFailed, "runtime.poller.modify", err)
	}

	return nil
}

func (p *epollPoller) Poll(timeoutMs int) (int, error) {
	if p.closed.Load() {
		return 0, errs.New(errs.InvalidArgument, "runtime.poller.poll", nil)
	}

	v := p.version.Load()

	n, err := unix.EpollWait(int(p.epfd), p.eventBuf[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}

		return 0, errs.New(errs.IoFailed, "runtime.poller.poll", err)
	}

	if p.version.Load() != v {
		// A registration changed mid-syscall; the results may reference
		// an fd that was just unregistered, so discard this round.
		return 0, nil
	}

	for i := range n {
		fd := int(p.eventBuf[i].Fd)
		if fd < 0 || fd >= maxPollFDs {
			continue
		}

		p.fdMu.RLock()
		entry := p.fds[fd]
		p.fdMu.RUnlock()

		if entry.active && entry.cb != nil {
			entry.cb(fromEpollEvents(p.eventBuf[i].Events))
		}
	}

	return n, nil
}

func toEpollEvents(events IOEvents) uint32 {
	var e uint32

	if events&EventRead != 0 {
		e |= unix.EPOLLIN
	}

	if events&EventWrite != 0 {
		e |= unix.EPOLLOUT
	}

	return e
}

func fromEpollEvents(e uint32) IOEvents {
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
