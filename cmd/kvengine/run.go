package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/spf13/pflag"

	"github.com/calvinalkan/kvcore/internal/config"
	"github.com/calvinalkan/kvcore/internal/engine"
	"github.com/calvinalkan/kvcore/internal/errs"
	"github.com/calvinalkan/kvcore/internal/logging"
	"github.com/calvinalkan/kvcore/internal/netsvc"
	"github.com/calvinalkan/kvcore/internal/runtime"
	"github.com/calvinalkan/kvcore/internal/service"
	"github.com/calvinalkan/kvcore/internal/sqlindex"
	"github.com/calvinalkan/kvcore/internal/textproto"
	"github.com/calvinalkan/kvcore/pkg/fs"
)

// Exit codes per spec.md §6.4.
const (
	exitOK              = 0
	exitConfigError     = 1
	exitIOErrorOnOpen   = 2
	exitCorruptedWAL    = 3
	exitInvariantViolat = 4
)

// Run parses args, brings up every collaborator named in
// SPEC_FULL.md §4.9-§4.11 behind a service.Registry, blocks until
// sigCh fires, and tears everything down in
// reverse start order. It never calls os.Exit itself, so tests can drive
// it directly. There is no scripting surface to wire in (internal/collaborators, §4.12).
func Run(_ io.Reader, out, errOut io.Writer, args []string, _ map[string]string, sigCh <-chan os.Signal) (code int) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(errOut, "invariant violation: %v\n", r)
			code = exitInvariantViolat
		}
	}()

	peek := pflag.NewFlagSet("kvengine", pflag.ContinueOnError)
	peek.ParseErrorsWhitelist.UnknownFlags = true
	peek.SetOutput(io.Discard)
	flagConfigPath := peek.String("config", "", "path to a JSONC config file")

	if err := peek.Parse(args[1:]); err != nil {
		fmt.Fprintf(errOut, "error: %v\n", err)
		return exitConfigError
	}

	cfg, err := config.Load(*flagConfigPath)
	if err != nil {
		fmt.Fprintf(errOut, "error: %v\n", err)
		return exitConfigError
	}

	fs2 := pflag.NewFlagSet("kvengine", pflag.ContinueOnError)
	fs2.SetOutput(errOut)
	fs2.String("config", *flagConfigPath, "path to a JSONC config file")
	config.BindFlags(fs2, &cfg)
	flagListen := fs2.String("listen", "127.0.0.1:11300", "address the length-framed wire protocol listens on")
	flagTextListen := fs2.String("text-listen", "", "address the memcached-style text protocol listens on (disabled if empty)")
	flagSQLIndex := fs2.String("sql-index", "", "path to the advisory SQLite mirror (disabled if empty)")
	flagLogLevel := fs2.Int("log-level", int(logiface.LevelInformational), "logiface verbosity threshold, lower is more severe")

	if err := fs2.Parse(args[1:]); err != nil {
		fmt.Fprintf(errOut, "error: %v\n", err)
		return exitConfigError
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(errOut, "error: %v\n", err)
		return exitConfigError
	}

	logger := logging.New(errOut, logging.Level(*flagLogLevel))

	eng, err := engine.Open(fs.NewReal(), cfg.ToEngine())
	if err != nil {
		fmt.Fprintf(errOut, "error opening engine: %v\n", err)

		if errs.Is(err, errs.Corrupted) {
			return exitCorruptedWAL
		}

		return exitIOErrorOnOpen
	}
	defer eng.Close()

	// Best-effort: an operator inspecting dataDir should be able to see
	// exactly what this process was launched with, but a failure here
	// must never keep the server from serving.
	if err := cfg.WriteEffective(fs.NewReal()); err != nil {
		logger.Warning().Err(err).Log("failed to write effective config snapshot")
	}

	rt, err := runtime.New()
	if err != nil {
		fmt.Fprintf(errOut, "error starting runtime: %v\n", err)
		return exitIOErrorOnOpen
	}
	defer rt.Close()

	acceptor := netsvc.NewAcceptor(eng, rt, logger)
	if err := acceptor.Listen(*flagListen); err != nil {
		fmt.Fprintf(errOut, "error listening on %s: %v\n", *flagListen, err)
		return exitIOErrorOnOpen
	}

	registry := service.NewRegistry()
	var wg sync.WaitGroup
	runtimeStop := make(chan struct{})

	_ = registry.Register("runtime", service.NewLifecycle(service.Hooks{
		Start: func() error {
			wg.Add(1)
			go func() {
				defer wg.Done()
				runForever(rt, runtimeStop)
			}()
			return nil
		},
		Stop: func() error {
			close(runtimeStop)
			wg.Wait()
			return nil
		},
	}))

	acceptorStop := make(chan struct{})

	_ = registry.Register("acceptor", service.NewLifecycle(service.Hooks{
		Start: func() error {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = acceptor.Serve(acceptorStop)
			}()
			return nil
		},
		Stop: func() error {
			close(acceptorStop)
			return acceptor.Close()
		},
	}))

	var textListener net.Listener

	if *flagTextListen != "" {
		textStop := make(chan struct{})

		_ = registry.Register("textproto", service.NewLifecycle(service.Hooks{
			Start: func() error {
				ln, err := net.Listen("tcp", *flagTextListen)
				if err != nil {
					return errs.New(errs.IoFailed, "kvengine.text_listen", err)
				}

				textListener = ln
				srv := textproto.NewServer(eng)

				wg.Add(1)
				go func() {
					defer wg.Done()
					serveTextProto(srv, ln, textStop)
				}()

				return nil
			},
			Stop: func() error {
				close(textStop)
				if textListener != nil {
					return textListener.Close()
				}
				return nil
			},
		}))
	}

	var idx *sqlindex.Index

	if *flagSQLIndex != "" {
		rebuildStop := make(chan struct{})

		_ = registry.Register("sqlindex", service.NewLifecycle(service.Hooks{
			Init: func() error {
				var err error
				idx, err = sqlindex.Open(context.Background(), *flagSQLIndex)
				return err
			},
			Start: func() error {
				wg.Add(1)
				go func() {
					defer wg.Done()
					periodicRebuild(idx, eng, rebuildStop)
				}()
				return nil
			},
			Stop: func() error {
				close(rebuildStop)
				if idx != nil {
					return idx.Close()
				}
				return nil
			},
		}))
	}

	for _, name := range registry.Names() {
		svc, _ := registry.Get(name)
		if err := svc.Init(); err != nil {
			fmt.Fprintf(errOut, "error initializing %s: %v\n", name, err)
			return exitIOErrorOnOpen
		}
	}

	if err := registry.StartAll(); err != nil {
		fmt.Fprintf(errOut, "error starting services: %v\n", err)
		return exitIOErrorOnOpen
	}

	fmt.Fprintf(out, "kvengine listening on %s\n", acceptor.Addr())

	<-sigCh

	if err := registry.StopAll(); err != nil {
		fmt.Fprintf(errOut, "error stopping services: %v\n", err)
	}

	return exitOK
}

// runForever keeps rt.Run alive across its idle-return points (Run
// returns nil whenever no task or timer is pending, which happens
// routinely between connections) until stop is closed.
func runForever(rt *runtime.Runtime, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		if err := rt.Run(stop); err != nil {
			return
		}

		select {
		case <-stop:
			return
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func serveTextProto(srv *textproto.Server, ln net.Listener, stop <-chan struct{}) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-stop:
				return
			default:
				continue
			}
		}

		go func() {
			defer conn.Close()
			_ = srv.Serve(conn, conn)
		}()
	}
}

func periodicRebuild(idx *sqlindex.Index, eng *engine.Engine, stop <-chan struct{}) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			_ = sqlindex.RebuildFromEngine(context.Background(), idx, eng)
		}
	}
}
