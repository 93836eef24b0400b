//go:build darwin

package runtime

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/calvinalkan/kvcore/internal/errs"
)

const maxPollFDs = 65536

// kqueuePoller is the Darwin poller, grounded on
// joeycumines-go-utilpkg/eventloop's kqueue FastPoller variant: one
// kqueue descriptor, EV_ADD/EV_DELETE/EV_ENABLE changelist entries per
// registration, a preallocated event buffer for Kevent.
type kqueuePoller struct {
	kq       int32
	version  atomic.Uint64
	eventBuf [256]unix.Kevent_t
	fds      [maxPollFDs]fdEntry
	fdMu     sync.RWMutex
	closed   atomic.Bool
}

type fdEntry struct {
	cb     ioCallback
	events IOEvents
	active bool
}

func newPoller() poller { return &kqueuePoller{} }

func (p *kqueuePoller) Init() error {
	kq, err := unix.Kqueue()
	if err != nil {
		return errs.New(errs.IoFailed, "runtime.poller.init", err)
	}

	unix.CloseOnExec(kq)
	p.kq = int32(kq)

	return nil
}

func (p *kqueuePoller) Close() error {
	p.closed.Store(true)

	if p.kq == 0 {
		return nil
	}

	if err := unix.Close(int(p.kq)); err != nil {
		return errs.New(errs.IoFailed, "runtime.poller.close", err)
	}

	return nil
}

func (p *kqueuePoller) RegisterFD(fd int, events IOEvents, cb ioCallback) error {
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

	changes := kqueueChangelist(fd, events, unix.EV_ADD|unix.EV_ENABLE)
	if _, err := unix.Kevent(int(p.kq), changes, nil, nil); err != nil {
		p.fdMu.Lock()
		p.fds[fd] = fdEntry{}
		p.fdMu.Unlock()

		return errs.New(errs.IoFailed, "runtime.poller.register", err)
	}

	return nil
}

func (p *kqueuePoller) UnregisterFD(fd int) error {
	if fd < 0 || fd >= maxPollFDs {
		return errs.New(errs.InvalidArgument, "runtime.poller.unregister", nil)
	}

	p.fdMu.Lock()
	entry := p.fds[fd]
	if !entry.active {
		p.fdMu.Unlock()
		return errs.New(errs.NotFound, "runtime.poller.unregister", nil)
	}

	p.fds[fd] = fdEntry{}
	p.version.Add(1)
	p.fdMu.Unlock()

	changes := kqueueChangelist(fd, entry.events, unix.EV_DELETE)
	_, _ = unix.Kevent(int(p.kq), changes, nil, nil)

	return nil
}

func (p *kqueuePoller) ModifyFD(fd int, events IOEvents) error {
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

	changes := kqueueChangelist(fd, events, unix.EV_ADD|unix.EV_ENABLE)
	if _, err := unix.Kevent(int(p.kq), changes, nil, nil); err != nil {
		return errs.New(errs.IoFailed, "runtime.poller.modify", err)
	}

	return nil
}

func (p *kqueuePoller) Poll(timeoutMs int) (int, error) {
	if p.closed.Load() {
		return 0, errs.New(errs.InvalidArgument, "runtime.poller.poll", nil)
	}

	v := p.version.Load()

	var ts *unix.Timespec
	if timeoutMs >= 0 {
		t := unix.NsecToTimespec(int64(timeoutMs) * 1_000_000)
		ts = &t
	}

	n, err := unix.Kevent(int(p.kq), nil, p.eventBuf[:], ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}

		return 0, errs.New(errs.IoFailed, "runtime.poller.poll", err)
	}

	if p.version.Load() != v {
		return 0, nil
	}

	for i := range n {
		fd := int(p.eventBuf[i].Ident)
		if fd < 0 || fd >= maxPollFDs {
			continue
		}

		p.fdMu.RLock()
		entry := p.fds[fd]
		p.fdMu.RUnlock()

		if entry.active && entry.cb != nil {
			entry.cb(fromKqueueFilter(p.eventBuf[i].Filter))
		}
	}

	return n, nil
}

func kqueueChangelist(fd int, events IOEvents, flags uint16) []unix.Kevent_t {
	var changes []unix.Kevent_t

	if events&EventRead != 0 {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flags})
	}

	if events&EventWrite != 0 {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags})
	}

	return changes
}

func fromKqueueFilter(filter int16) IOEvents {
	switch filter {
	case unix.EVFILT_READ:
		return EventRead
	case unix.EVFILT_WRITE:
		return EventWrite
	default:
		return 0
	}
}
