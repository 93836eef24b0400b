// Command kvctl is the interactive/scriptable client for kvengine: a
// liner-backed REPL and a handful of one-shot subcommands talking to a
// running kvengine over the length-framed wire protocol (spec.md
// §4.6/§6.2), plus a local "service" subcommand exercising the
// service.Registry lifecycle surface (SPEC_FULL.md §6.6) directly
// against a freshly opened engine.
package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
)

func main() {
	environ := os.Environ()
	env := make(map[string]string, len(environ))

	for _, e := range environ {
		if k, v, ok := strings.Cut(e, "="); ok {
			env[k] = v
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	os.Exit(Run(os.Stdin, os.Stdout, os.Stderr, os.Args, env, sigCh))
}
