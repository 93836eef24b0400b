package main

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/kvcore/internal/dispatcher"
)

func frame(op dispatcher.Op, payload []byte) []byte {
	body := append([]byte{byte(op)}, payload...)
	out := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(out[:4], uint32(len(body)))
	copy(out[4:], body)

	return out
}

func lp(field []byte) []byte {
	out := make([]byte, 4+len(field))
	binary.LittleEndian.PutUint32(out[:4], uint32(len(field)))
	copy(out[4:], field)

	return out
}

func TestRun_ServesWireProtocolUntilSignalled(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	sigCh := make(chan os.Signal, 1)

	var out, errOut bytes.Buffer

	args := []string{"kvengine", "--data-dir", dataDir, "--listen", "127.0.0.1:0"}

	done := make(chan int, 1)

	go func() {
		done <- Run(nil, &out, &errOut, args, nil, sigCh)
	}()

	var addr string
	require.Eventually(t, func() bool {
		line := out.String()
		if line == "" {
			return false
		}

		addr = extractAddr(line)

		return addr != ""
	}, 2*time.Second, 10*time.Millisecond)

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)

	_, err = conn.Write(frame(dispatcher.OpPut, append(lp([]byte("k")), lp([]byte("v"))...)))
	require.NoError(t, err)

	var lenBuf [4]byte
	_, err = io.ReadFull(conn, lenBuf[:])
	require.NoError(t, err)
	body := make([]byte, binary.LittleEndian.Uint32(lenBuf[:]))
	_, err = io.ReadFull(conn, body)
	require.NoError(t, err)
	require.Equal(t, byte(dispatcher.StatusOk), body[0])

	require.NoError(t, conn.Close())

	sigCh <- os.Interrupt

	select {
	case code := <-done:
		require.Equal(t, exitOK, code)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after signal")
	}
}

func TestRun_RejectsUnknownAllocatorMode(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	sigCh := make(chan os.Signal, 1)

	var out, errOut bytes.Buffer

	args := []string{"kvengine", "--data-dir", dataDir, "--allocator-mode", "Bogus"}

	code := Run(nil, &out, &errOut, args, nil, sigCh)
	require.Equal(t, exitConfigError, code)
	require.Contains(t, errOut.String(), "allocator_mode")
}

func TestRun_ConfigFileIsLoadedAndOverridable(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	cfgPath := filepath.Join(t.TempDir(), "kvengine.jsonc")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{
		// segment size
		"segment_bytes": 1048576,
	}`), 0o644))

	sigCh := make(chan os.Signal, 1)
	var out, errOut bytes.Buffer

	args := []string{"kvengine", "--config", cfgPath, "--data-dir", dataDir, "--listen", "127.0.0.1:0"}

	done := make(chan int, 1)
	go func() { done <- Run(nil, &out, &errOut, args, nil, sigCh) }()

	require.Eventually(t, func() bool { return out.String() != "" }, 2*time.Second, 10*time.Millisecond)

	sigCh <- os.Interrupt

	select {
	case code := <-done:
		require.Equal(t, exitOK, code)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after signal")
	}
}

func extractAddr(line string) string {
	const prefix = "kvengine listening on "
	i := len(prefix)
	if len(line) <= i || line[:i] != prefix {
		return ""
	}

	end := i
	for end < len(line) && line[end] != '\n' {
		end++
	}

	return line[i:end]
}
