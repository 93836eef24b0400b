// Package dispatcher implements the length-framed request/response
// protocol of spec.md §4.6/§6.2: one goroutine-or-task per connection,
// strictly in-order request processing, responses emitted in request
// order. Framing and the binary.LittleEndian field layout follow the
// same little-endian, length-prefixed discipline as internal/wal's
// record format.
package dispatcher

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/google/uuid"

	"github.com/calvinalkan/kvcore/internal/engine"
	"github.com/calvinalkan/kvcore/internal/errs"
	"github.com/calvinalkan/kvcore/internal/logging"
)

// Op identifies a request's operation, per spec.md §4.6.
type Op uint8

const (
	OpGet    Op = 1
	OpPut    Op = 2
	OpDelete Op = 3
	OpStats  Op = 4
)

// Status identifies a response's outcome, per spec.md §4.6.
type Status uint8

const (
	StatusOk          Status = 0
	StatusNotFound    Status = 1
	StatusClientError Status = 2
	StatusServerError Status = 3
)

// Request is one decoded, length-framed request record.
type Request struct {
	Op      Op
	Payload []byte
}

// Response is one length-framed response record.
type Response struct {
	Status  Status
	Payload []byte
}

const maxPayloadBytes = 256 << 20

// ReadRequest decodes one `[u32 length][u8 op][payload]` record from r.
// io.EOF at a record boundary is returned unwrapped so callers can treat
// it as a clean connection close.
func ReadRequest(r *bufio.Reader) (Request, error) {
	var lenBuf [4]byte

	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return Request{}, io.EOF
		}

		return Request{}, errs.New(errs.IoFailed, "dispatcher.read_request", err)
	}

	length := binary.LittleEndian.Uint32(lenBuf[:])
	if length == 0 {
		return Request{}, errs.New(errs.Corrupted, "dispatcher.read_request", nil)
	}

	if int64(length) > maxPayloadBytes {
		return Request{}, errs.New(errs.InvalidArgument, "dispatcher.read_request", nil)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Request{}, errs.New(errs.IoFailed, "dispatcher.read_request", err)
	}

	return Request{Op: Op(body[0]), Payload: body[1:]}, nil
}

// WriteResponse encodes one `[u32 length][u8 status][payload]` record to w.
func WriteResponse(w *bufio.Writer, resp Response) error {
	length := uint32(1 + len(resp.Payload))

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], length)

	if _, err := w.Write(lenBuf[:]); err != nil {
		return errs.New(errs.IoFailed, "dispatcher.write_response", err)
	}

	if err := w.WriteByte(byte(resp.Status)); err != nil {
		return errs.New(errs.IoFailed, "dispatcher.write_response", err)
	}

	if len(resp.Payload) > 0 {
		if _, err := w.Write(resp.Payload); err != nil {
			return errs.New(errs.IoFailed, "dispatcher.write_response", err)
		}
	}

	return w.Flush()
}

// Connection binds one stream to one engine, processing requests
// strictly in receive order and replying in the same order — the
// dispatcher is single-threaded per connection, per spec.md §4.6.
type Connection struct {
	ID     uuid.UUID
	engine *engine.Engine
	log    *logging.Logger
	r      *bufio.Reader
	w      *bufio.Writer
}

// NewConnection wraps rw for request/response framing against eng. log may
// be logging.Noop() if the caller doesn't want per-request logging; it is
// tagged with the connection's ID so every line it emits can be correlated
// back to one Connection, the same way netsvc.Acceptor tags its own
// connection-lifecycle lines.
func NewConnection(eng *engine.Engine, log *logging.Logger, r io.Reader, w io.Writer) *Connection {
	id := uuid.New()

	return &Connection{
		ID:     id,
		engine: eng,
		log:    log,
		r:      bufio.NewReader(r),
		w:      bufio.NewWriter(w),
	}
}

// ServeOne reads one request, dispatches it to the engine, and writes
// the corresponding response. Returns io.EOF when the peer has closed
// the connection cleanly at a record boundary.
func (c *Connection) ServeOne() error {
	req, err := ReadRequest(c.r)
	if err != nil {
		return err
	}

	resp := c.handle(req)

	return WriteResponse(c.w, resp)
}

// Serve loops ServeOne until the connection closes or ctx-independent
// I/O fails; callers run this on its own goroutine or hand it to the
// async runtime as a suspension-driven task.
func (c *Connection) Serve() error {
	for {
		if err := c.ServeOne(); err != nil {
			if err == io.EOF {
				return nil
			}

			return err
		}
	}
}

func (c *Connection) handle(req Request) Response {
	var resp Response

	switch req.Op {
	case OpGet:
		resp = c.handleGet(req.Payload)
	case OpPut:
		resp = c.handlePut(req.Payload)
	case OpDelete:
		resp = c.handleDelete(req.Payload)
	case OpStats:
		resp = c.handleStats()
	default:
		resp = Response{Status: StatusClientError}
	}

	if resp.Status == StatusServerError {
		c.log.Warning().Str("conn", c.ID.String()).Int("op", int(req.Op)).Log("request failed")
	}

	return resp
}

func (c *Connection) handleGet(payload []byte) Response {
	key, _, err := decodeLengthPrefixed(payload, 0)
	if err != nil {
		return Response{Status: StatusClientError}
	}

	value, ok, err := c.engine.Get(key)
	if err != nil {
		return Response{Status: StatusServerError}
	}

	if !ok {
		return Response{Status: StatusNotFound}
	}

	return Response{Status: StatusOk, Payload: encodeLengthPrefixed(value)}
}

func (c *Connection) handlePut(payload []byte) Response {
	key, offset, err := decodeLengthPrefixed(payload, 0)
	if err != nil {
		return Response{Status: StatusClientError}
	}

	value, _, err := decodeLengthPrefixed(payload, offset)
	if err != nil {
		return Response{Status: StatusClientError}
	}

	if err := c.engine.Put(key, value); err != nil {
		return Response{Status: StatusServerError}
	}

	return Response{Status: StatusOk}
}

func (c *Connection) handleDelete(payload []byte) Response {
	key, _, err := decodeLengthPrefixed(payload, 0)
	if err != nil {
		return Response{Status: StatusClientError}
	}

	if err := c.engine.Delete(key); err != nil {
		if errs.Is(err, errs.NotFound) {
			return Response{Status: StatusNotFound}
		}

		return Response{Status: StatusServerError}
	}

	return Response{Status: StatusOk}
}

func (c *Connection) handleStats() Response {
	stats := c.engine.Stats()

	return Response{Status: StatusOk, Payload: encodeStats(stats)}
}

func decodeLengthPrefixed(buf []byte, offset int) (field []byte, next int, err error) {
	if offset+4 > len(buf) {
		return nil, 0, errs.New(errs.Corrupted, "dispatcher.decode", nil)
	}

	n := binary.LittleEndian.Uint32(buf[offset : offset+4])
	start := offset + 4

	if int64(start)+int64(n) > int64(len(buf)) {
		return nil, 0, errs.New(errs.Corrupted, "dispatcher.decode", nil)
	}

	return buf[start : start+int(n)], start + int(n), nil
}

func encodeLengthPrefixed(field []byte) []byte {
	out := make([]byte, 4+len(field))
	binary.LittleEndian.PutUint32(out[:4], uint32(len(field)))
	copy(out[4:], field)

	return out
}
