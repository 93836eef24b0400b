// Package service implements the peer/service lifecycle state machine of
// spec.md §4.8: {Init → Ready → Running → Stopped}, with Error reachable
// from any state, and idempotent lifecycle operations.
package service

import (
	"sync"

	"github.com/calvinalkan/kvcore/internal/errs"
)

// State is a node in the service lifecycle state machine.
type State int

const (
	StateInit State = iota
	StateReady
	StateRunning
	StateStopped
	StateError
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateReady:
		return "Ready"
	case StateRunning:
		return "Running"
	case StateStopped:
		return "Stopped"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Service is the lifecycle contract every collaborator (the dispatcher's
// acceptor, the async runtime, the SQL index) implements. Every method is
// idempotent with respect to its own target state: calling Start on an
// already-Running service returns success with no side effects.
type Service interface {
	Init() error
	Start() error
	Stop() error
	Reload() error
	Status() State
}

// Hooks are the side-effecting callbacks a Lifecycle drives through its
// state transitions. Any of them may be nil, treated as a no-op.
type Hooks struct {
	Init   func() error
	Start  func() error
	Stop   func() error
	Reload func() error
}

// Lifecycle is a reusable Service implementation: collaborators embed it
// and supply Hooks rather than reimplementing the state machine.
type Lifecycle struct {
	mu    sync.Mutex
	state State
	err   error
	hooks Hooks
}

// NewLifecycle constructs a Lifecycle in StateInit.
func NewLifecycle(hooks Hooks) *Lifecycle {
	return &Lifecycle{state: StateInit, hooks: hooks}
}

// Status reports the current state.
func (l *Lifecycle) Status() State {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.state
}

// Init runs the Init hook once and transitions Init -> Ready. Calling it
// again once Ready or Running is a no-op success.
func (l *Lifecycle) Init() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateReady, StateRunning:
		return nil
	case StateError:
		return l.err
	case StateInit:
		if err := runHook(l.hooks.Init); err != nil {
			l.state, l.err = StateError, err
			return err
		}

		l.state = StateReady

		return nil
	default:
		return errs.New(errs.InvalidArgument, "service.init", nil)
	}
}

// Start runs the Start hook once and transitions Ready -> Running.
// Calling it again while Running is a no-op success. Start before Init
// is a usage error.
func (l *Lifecycle) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateRunning:
		return nil
	case StateError:
		return l.err
	case StateReady:
		if err := runHook(l.hooks.Start); err != nil {
			l.state, l.err = StateError, err
			return err
		}

		l.state = StateRunning

		return nil
	default:
		return errs.New(errs.InvalidArgument, "service.start", nil)
	}
}

// Stop runs the Stop hook (if the service was Running) and transitions
// to Stopped. Calling it again while Stopped is a no-op success; calling
// it before Start simply transitions straight to Stopped with no hook
// invocation, since there is nothing running to tear down.
func (l *Lifecycle) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateStopped:
		return nil
	case StateError:
		return l.err
	case StateRunning:
		if err := runHook(l.hooks.Stop); err != nil {
			l.state, l.err = StateError, err
			return err
		}

		l.state = StateStopped

		return nil
	default: // Init, Ready
		l.state = StateStopped
		return nil
	}
}

// Reload runs the Reload hook in place; it only makes sense while
// Running and does not change the reported state.
func (l *Lifecycle) Reload() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateError:
		return l.err
	case StateRunning:
		if err := runHook(l.hooks.Reload); err != nil {
			l.state, l.err = StateError, err
			return err
		}

		return nil
	default:
		return errs.New(errs.InvalidArgument, "service.reload", nil)
	}
}

func runHook(fn func() error) error {
	if fn == nil {
		return nil
	}

	return fn()
}
