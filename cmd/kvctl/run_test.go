package main

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/kvcore/internal/engine"
	"github.com/calvinalkan/kvcore/internal/logging"
	"github.com/calvinalkan/kvcore/internal/netsvc"
	"github.com/calvinalkan/kvcore/internal/runtime"
	"github.com/calvinalkan/kvcore/pkg/fs"
)

// startServer brings up a real engine+runtime+acceptor for kvctl's
// one-shot subcommands to talk to, returning its bound address.
func startServer(t *testing.T) string {
	t.Helper()

	eng, err := engine.Open(fs.NewReal(), engine.Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	rt, err := runtime.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	a := netsvc.NewAcceptor(eng, rt, logging.Noop())
	require.NoError(t, a.Listen("127.0.0.1:0"))
	t.Cleanup(func() { _ = a.Close() })

	stop := make(chan struct{})
	t.Cleanup(func() { close(stop) })

	go func() { _ = a.Serve(stop) }()
	go func() {
		// Run returns whenever nothing is scheduled, so keep re-entering
		// it until stop closes, as cmd/kvengine's runForever does.
		for {
			select {
			case <-stop:
				return
			default:
			}

			_ = rt.Run(stop)
			time.Sleep(time.Millisecond)
		}
	}()

	return a.Addr().String()
}

func TestRun_PutGetDeleteOneShot(t *testing.T) {
	t.Parallel()

	addr := startServer(t)

	var out, errOut bytes.Buffer
	sigCh := make(chan os.Signal, 1)

	code := Run(nil, &out, &errOut, []string{"kvctl", "--addr", addr, "put", "k", "v"}, nil, sigCh)
	require.Equal(t, 0, code)
	require.Equal(t, "OK\n", out.String())

	out.Reset()
	code = Run(nil, &out, &errOut, []string{"kvctl", "--addr", addr, "get", "k"}, nil, sigCh)
	require.Equal(t, 0, code)
	require.Equal(t, "v\n", out.String())

	out.Reset()
	code = Run(nil, &out, &errOut, []string{"kvctl", "--addr", addr, "delete", "k"}, nil, sigCh)
	require.Equal(t, 0, code)
	require.Equal(t, "OK\n", out.String())

	out.Reset()
	code = Run(nil, &out, &errOut, []string{"kvctl", "--addr", addr, "get", "k"}, nil, sigCh)
	require.Equal(t, 0, code)
	require.Equal(t, "(nil)\n", out.String())
}

func TestRun_Stats(t *testing.T) {
	t.Parallel()

	addr := startServer(t)

	var out, errOut bytes.Buffer
	sigCh := make(chan os.Signal, 1)

	code := Run(nil, &out, &errOut, []string{"kvctl", "--addr", addr, "put", "a", "1"}, nil, sigCh)
	require.Equal(t, 0, code)

	out.Reset()
	code = Run(nil, &out, &errOut, []string{"kvctl", "--addr", addr, "stats"}, nil, sigCh)
	require.Equal(t, 0, code)
	require.Contains(t, out.String(), "key_count=1")
}

func TestRun_ServiceListAndLifecycle(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	sigCh := make(chan os.Signal, 1)

	var out, errOut bytes.Buffer
	code := Run(nil, &out, &errOut, []string{"kvctl", "--data-dir", dataDir, "service", "list"}, nil, sigCh)
	require.Equal(t, 0, code)
	require.Contains(t, out.String(), "runtime\tInit")
	require.Contains(t, out.String(), "acceptor\tInit")

	out.Reset()
	code = Run(nil, &out, &errOut, []string{"kvctl", "--data-dir", dataDir, "service", "start", "acceptor"}, nil, sigCh)
	require.Equal(t, 0, code)
	require.Equal(t, "Running\n", out.String())

	out.Reset()
	code = Run(nil, &out, &errOut, []string{"kvctl", "--data-dir", dataDir, "service", "status", "acceptor"}, nil, sigCh)
	require.Equal(t, 0, code)
}

func TestRun_ServiceRequiresDataDir(t *testing.T) {
	t.Parallel()

	var out, errOut bytes.Buffer
	sigCh := make(chan os.Signal, 1)

	code := Run(nil, &out, &errOut, []string{"kvctl", "service", "list"}, nil, sigCh)
	require.Equal(t, 1, code)
	require.Contains(t, errOut.String(), "data-dir")
}

func TestRun_UnknownCommandReturnsError(t *testing.T) {
	t.Parallel()

	var out, errOut bytes.Buffer
	sigCh := make(chan os.Signal, 1)

	code := Run(nil, &out, &errOut, []string{"kvctl", "bogus"}, nil, sigCh)
	require.Equal(t, 1, code)
}
