package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/pflag"

	"github.com/calvinalkan/kvcore/internal/config"
	"github.com/calvinalkan/kvcore/internal/engine"
	"github.com/calvinalkan/kvcore/internal/logging"
	"github.com/calvinalkan/kvcore/internal/netsvc"
	"github.com/calvinalkan/kvcore/internal/runtime"
	"github.com/calvinalkan/kvcore/internal/service"
	"github.com/calvinalkan/kvcore/pkg/fs"
)

// Run dispatches kvctl's subcommands. Unlike kvengine's Run, most paths
// here are quick one-shot client calls; only "repl" blocks, reading input
// lines until quit, exit, EOF or Ctrl-C. "service" performs one lifecycle
// call against a local registry and returns.
func Run(in io.Reader, out, errOut io.Writer, args []string, _ map[string]string, sigCh <-chan os.Signal) int {
	fs := pflag.NewFlagSet("kvctl", pflag.ContinueOnError)
	fs.SetOutput(errOut)
	flagAddr := fs.String("addr", "127.0.0.1:11300", "kvengine wire-protocol address")
	flagDataDir := fs.String("data-dir", "", "data directory for the local \"service\" subcommand")

	if err := fs.Parse(args[1:]); err != nil {
		return 1
	}

	rest := fs.Args()
	if len(rest) == 0 {
		return runREPL(in, out, errOut, *flagAddr)
	}

	switch rest[0] {
	case "get":
		return runGet(out, errOut, *flagAddr, rest[1:])
	case "put":
		return runPut(out, errOut, *flagAddr, rest[1:])
	case "delete":
		return runDelete(out, errOut, *flagAddr, rest[1:])
	case "stats":
		return runStats(out, errOut, *flagAddr)
	case "repl":
		return runREPL(in, out, errOut, *flagAddr)
	case "service":
		return runService(out, errOut, *flagDataDir, sigCh, rest[1:])
	default:
		fmt.Fprintf(errOut, "unknown command: %s\n", rest[0])
		return 1
	}
}

func runGet(out, errOut io.Writer, addr string, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(errOut, "usage: kvctl get <key>")
		return 1
	}

	c, err := dialWire(addr)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}
	defer c.Close()

	value, ok, err := c.Get([]byte(args[0]))
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	if !ok {
		fmt.Fprintln(out, "(nil)")
		return 0
	}

	fmt.Fprintln(out, string(value))

	return 0
}

func runPut(out, errOut io.Writer, addr string, args []string) int {
	if len(args) != 2 {
		fmt.Fprintln(errOut, "usage: kvctl put <key> <value>")
		return 1
	}

	c, err := dialWire(addr)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}
	defer c.Close()

	if err := c.Put([]byte(args[0]), []byte(args[1])); err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	fmt.Fprintln(out, "OK")

	return 0
}

func runDelete(out, errOut io.Writer, addr string, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(errOut, "usage: kvctl delete <key>")
		return 1
	}

	c, err := dialWire(addr)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}
	defer c.Close()

	if err := c.Delete([]byte(args[0])); err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	fmt.Fprintln(out, "OK")

	return 0
}

func runStats(out, errOut io.Writer, addr string) int {
	c, err := dialWire(addr)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}
	defer c.Close()

	stats, err := c.Stats()
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	fmt.Fprint(out, stats)

	return 0
}

// runREPL is the interactive line-editing client, using liner the same
// way the teacher's cmd/tk playground tools use it for history-backed
// input.
func runREPL(in io.Reader, out, errOut io.Writer, addr string) int {
	c, err := dialWire(addr)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}
	defer c.Close()

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	for {
		input, err := line.Prompt("kvctl> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				return 0
			}

			fmt.Fprintln(errOut, "error:", err)
			return 1
		}

		line.AppendHistory(input)

		fields := strings.Fields(input)
		if len(fields) == 0 {
			continue
		}

		if fields[0] == "quit" || fields[0] == "exit" {
			return 0
		}

		replDispatch(out, errOut, c, fields)
	}
}

func replDispatch(out, errOut io.Writer, c *wireClient, fields []string) {
	switch fields[0] {
	case "get":
		if len(fields) != 2 {
			fmt.Fprintln(errOut, "usage: get <key>")
			return
		}

		value, ok, err := c.Get([]byte(fields[1]))
		if err != nil {
			fmt.Fprintln(errOut, "error:", err)
			return
		}

		if !ok {
			fmt.Fprintln(out, "(nil)")
			return
		}

		fmt.Fprintln(out, string(value))
	case "put":
		if len(fields) != 3 {
			fmt.Fprintln(errOut, "usage: put <key> <value>")
			return
		}

		if err := c.Put([]byte(fields[1]), []byte(fields[2])); err != nil {
			fmt.Fprintln(errOut, "error:", err)
			return
		}

		fmt.Fprintln(out, "OK")
	case "delete":
		if len(fields) != 2 {
			fmt.Fprintln(errOut, "usage: delete <key>")
			return
		}

		if err := c.Delete([]byte(fields[1])); err != nil {
			fmt.Fprintln(errOut, "error:", err)
			return
		}

		fmt.Fprintln(out, "OK")
	case "stats":
		stats, err := c.Stats()
		if err != nil {
			fmt.Fprintln(errOut, "error:", err)
			return
		}

		fmt.Fprint(out, stats)
	default:
		fmt.Fprintf(errOut, "unknown command: %s\n", fields[0])
	}
}

// runService implements the SPEC_FULL.md §6.6 "kvctl service
// list|start|stop|status" surface. There is no wire RPC for service
// control (spec.md's wire protocol, unchanged, only names Get/Put/Delete/
// Stats), so this subcommand builds its own local registry against a
// freshly opened engine in flagDataDir rather than reaching into a
// remote kvengine process — an administrative/inspection tool over the
// same service.Registry lifecycle surface the daemon uses, not a remote
// control plane for one already running.
func runService(out, errOut io.Writer, dataDir string, sigCh <-chan os.Signal, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(errOut, "usage: kvctl service list|start <name>|stop <name>|status <name>")
		return 1
	}

	if dataDir == "" {
		fmt.Fprintln(errOut, "error: --data-dir is required for the service subcommand")
		return 1
	}

	cfg := config.Default()
	cfg.DataDir = dataDir

	eng, err := engine.Open(fs.NewReal(), cfg.ToEngine())
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}
	defer eng.Close()

	rt, err := runtime.New()
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}
	defer rt.Close()

	acceptor := netsvc.NewAcceptor(eng, rt, logging.Noop())

	registry := service.NewRegistry()
	_ = registry.Register("runtime", service.NewLifecycle(service.Hooks{}))
	_ = registry.Register("acceptor", service.NewLifecycle(service.Hooks{
		Start: func() error { return acceptor.Listen("127.0.0.1:0") },
		Stop:  func() error { return acceptor.Close() },
	}))

	switch args[0] {
	case "list":
		for _, name := range registry.Names() {
			svc, _ := registry.Get(name)
			fmt.Fprintf(out, "%s\t%s\n", name, svc.Status())
		}

		return 0
	case "status":
		if len(args) != 2 {
			fmt.Fprintln(errOut, "usage: kvctl service status <name>")
			return 1
		}

		svc, err := registry.Get(args[1])
		if err != nil {
			fmt.Fprintln(errOut, "error:", err)
			return 1
		}

		fmt.Fprintln(out, svc.Status())

		return 0
	case "start":
		return serviceTransition(out, errOut, registry, args, func(svc service.Service) error {
			if err := svc.Init(); err != nil {
				return err
			}

			return svc.Start()
		})
	case "stop":
		return serviceTransition(out, errOut, registry, args, func(svc service.Service) error {
			return svc.Stop()
		})
	default:
		fmt.Fprintf(errOut, "unknown service command: %s\n", args[0])
		return 1
	}
}

func serviceTransition(out, errOut io.Writer, registry *service.Registry, args []string, apply func(service.Service) error) int {
	if len(args) != 2 {
		fmt.Fprintf(errOut, "usage: kvctl service %s <name>\n", args[0])
		return 1
	}

	svc, err := registry.Get(args[1])
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	if err := apply(svc); err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	fmt.Fprintln(out, svc.Status())

	return 0
}
