//go:build !linux && !darwin

package runtime

import "github.com/calvinalkan/kvcore/internal/errs"

// noopPoller is the fallback for platforms without an epoll/kqueue
// binding in golang.org/x/sys/unix. Timer- and yield-driven tasks still
// work; registering fd readiness fails explicitly rather than silently
// never firing.
type noopPoller struct{}

func newPoller() poller { return noopPoller{} }

func (noopPoller) Init() error  { return nil }
func (noopPoller) Close() error { return nil }

func (noopPoller) RegisterFD(int, IOEvents, ioCallback) error {
	return errs.New(errs.InvalidArgument, "runtime.poller.register", nil)
}

func (noopPoller) UnregisterFD(int) error {
	return errs.New(errs.NotFound, "runtime.poller.unregister", nil)
}

func (noopPoller) ModifyFD(int, IOEvents) error {
	return errs.New(errs.NotFound, "runtime.poller.modify", nil)
}

func (noopPoller) Poll(int) (int, error) { return 0, nil }
