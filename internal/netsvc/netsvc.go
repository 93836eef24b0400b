// Package netsvc is the TCP acceptor external collaborator of
// SPEC_FULL.md §4.11: it accepts connections and feeds each one's
// length-framed bytes to internal/dispatcher, handing the per-connection
// work off to the async runtime as a spawned Task so that every
// connection's lifetime is still visible to the runtime's ready queue
// (start and completion), per spec.md §4.7's single-threaded-cooperative
// model. Framing/translation only — no business logic lives here.
package netsvc

import (
	"net"
	"sync/atomic"

	"github.com/calvinalkan/kvcore/internal/dispatcher"
	"github.com/calvinalkan/kvcore/internal/engine"
	"github.com/calvinalkan/kvcore/internal/errs"
	"github.com/calvinalkan/kvcore/internal/logging"
	"github.com/calvinalkan/kvcore/internal/runtime"
)

// Acceptor listens on one TCP address and serves every accepted
// connection against one engine.
type Acceptor struct {
	eng *engine.Engine
	rt  *runtime.Runtime
	log *logging.Logger

	ln     net.Listener
	conns  chan net.Conn
	closed atomic.Bool
}

// NewAcceptor constructs an Acceptor bound to eng and rt. log may be
// logging.Noop() if the caller doesn't want connection-level logging.
func NewAcceptor(eng *engine.Engine, rt *runtime.Runtime, log *logging.Logger) *Acceptor {
	return &Acceptor{
		eng:   eng,
		rt:    rt,
		log:   log,
		conns: make(chan net.Conn, 64),
	}
}

// Listen binds addr and starts the background accept loop. Serve must be
// called afterward to actually dispatch accepted connections.
func (a *Acceptor) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errs.New(errs.IoFailed, "netsvc.listen", err)
	}

	a.ln = ln

	go a.acceptLoop()

	return nil
}

func (a *Acceptor) acceptLoop() {
	for {
		conn, err := a.ln.Accept()
		if err != nil {
			if a.closed.Load() {
				return
			}

			continue
		}

		a.conns <- conn
	}
}

// Serve bridges accepted connections into runtime-spawned tasks, one per
// connection, until stop is closed.
func (a *Acceptor) Serve(stop <-chan struct{}) error {
	for {
		select {
		case <-stop:
			return nil
		case conn := <-a.conns:
			a.spawnConnection(conn)
		}
	}
}

func (a *Acceptor) spawnConnection(conn net.Conn) {
	a.rt.Spawn(func(*runtime.Task) error {
		defer conn.Close()

		c := dispatcher.NewConnection(a.eng, a.log, conn, conn)
		err := c.Serve()

		if err != nil {
			a.log.Warning().Str("conn", c.ID.String()).Err(err).Log("connection serve failed")
		} else {
			a.log.Debug().Str("conn", c.ID.String()).Log("connection closed")
		}

		return err
	})
}

// Close stops the accept loop and releases the listener. In-flight
// connections already spawned as tasks are left to finish on their own.
func (a *Acceptor) Close() error {
	a.closed.Store(true)

	if a.ln == nil {
		return nil
	}

	if err := a.ln.Close(); err != nil {
		return errs.New(errs.IoFailed, "netsvc.close", err)
	}

	return nil
}

// Addr returns the bound listener address, or nil before Listen.
func (a *Acceptor) Addr() net.Addr {
	if a.ln == nil {
		return nil
	}

	return a.ln.Addr()
}
