package netsvc_test

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/kvcore/internal/dispatcher"
	"github.com/calvinalkan/kvcore/internal/engine"
	"github.com/calvinalkan/kvcore/internal/logging"
	"github.com/calvinalkan/kvcore/internal/netsvc"
	"github.com/calvinalkan/kvcore/internal/runtime"
	"github.com/calvinalkan/kvcore/pkg/fs"
)

func lp(field []byte) []byte {
	out := make([]byte, 4+len(field))
	binary.LittleEndian.PutUint32(out[:4], uint32(len(field)))
	copy(out[4:], field)

	return out
}

func frame(op dispatcher.Op, payload []byte) []byte {
	body := append([]byte{byte(op)}, payload...)
	out := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(out[:4], uint32(len(body)))
	copy(out[4:], body)

	return out
}

func TestAcceptor_ServesPutAndGetOverTCP(t *testing.T) {
	t.Parallel()

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

	conn, err := net.DialTimeout("tcp", a.Addr().String(), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	_, err = conn.Write(frame(dispatcher.OpPut, append(lp([]byte("k")), lp([]byte("v"))...)))
	require.NoError(t, err)

	r := bufio.NewReader(conn)

	var lenBuf [4]byte
	_, err = io.ReadFull(r, lenBuf[:])
	require.NoError(t, err)
	body := make([]byte, binary.LittleEndian.Uint32(lenBuf[:]))
	_, err = io.ReadFull(r, body)
	require.NoError(t, err)
	require.Equal(t, byte(dispatcher.StatusOk), body[0])

	_, err = conn.Write(frame(dispatcher.OpGet, lp([]byte("k"))))
	require.NoError(t, err)

	_, err = io.ReadFull(r, lenBuf[:])
	require.NoError(t, err)
	body = make([]byte, binary.LittleEndian.Uint32(lenBuf[:]))
	_, err = io.ReadFull(r, body)
	require.NoError(t, err)
	require.Equal(t, byte(dispatcher.StatusOk), body[0])
	require.Equal(t, []byte("v"), body[1+4:])
}
