// Package textproto implements the memcached-style text protocol of
// SPEC_FULL.md §6.5 — get/set/delete/stats over a line-oriented
// connection — as a second, independent front door onto the same
// engine the length-framed internal/dispatcher serves. Like netsvc, it
// performs framing/translation only.
package textproto

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/calvinalkan/kvcore/internal/engine"
	"github.com/calvinalkan/kvcore/internal/errs"
)

// Server translates the four memcached verbs into engine operations.
type Server struct {
	eng *engine.Engine
}

// NewServer binds a Server to eng.
func NewServer(eng *engine.Engine) *Server {
	return &Server{eng: eng}
}

// Serve reads commands from r and writes responses to w until the
// connection closes or a protocol-level I/O error occurs. A clean EOF at
// a command boundary returns nil.
func (s *Server) Serve(r io.Reader, w io.Writer) error {
	reader := bufio.NewReader(r)
	writer := bufio.NewWriter(w)

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF && line == "" {
				return nil
			}

			if err != io.EOF {
				return errs.New(errs.IoFailed, "textproto.serve", err)
			}
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if err == io.EOF {
				return nil
			}

			continue
		}

		if err := s.dispatch(reader, writer, line); err != nil {
			return err
		}

		if err := writer.Flush(); err != nil {
			return errs.New(errs.IoFailed, "textproto.serve", err)
		}
	}
}

func (s *Server) dispatch(r *bufio.Reader, w *bufio.Writer, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return writeLine(w, "SERVER_ERROR empty command")
	}

	switch fields[0] {
	case "get":
		return s.handleGet(w, fields)
	case "set":
		return s.handleSet(r, w, fields)
	case "delete":
		return s.handleDelete(w, fields)
	case "stats":
		return s.handleStats(w)
	default:
		return writeLine(w, fmt.Sprintf("SERVER_ERROR unknown command %q", fields[0]))
	}
}

func (s *Server) handleGet(w *bufio.Writer, fields []string) error {
	if len(fields) != 2 {
		return writeLine(w, "SERVER_ERROR get requires exactly one key")
	}

	key := []byte(fields[1])

	value, ok, err := s.eng.Get(key)
	if err != nil {
		return writeLine(w, fmt.Sprintf("SERVER_ERROR %v", err))
	}

	if !ok {
		return writeLine(w, "END")
	}

	if err := writeLine(w, fmt.Sprintf("VALUE %s %d", fields[1], len(value))); err != nil {
		return err
	}

	if _, err := w.Write(value); err != nil {
		return errs.New(errs.IoFailed, "textproto.get", err)
	}

	if err := writeLine(w, ""); err != nil {
		return err
	}

	return writeLine(w, "END")
}

func (s *Server) handleSet(r *bufio.Reader, w *bufio.Writer, fields []string) error {
	if len(fields) != 3 {
		return writeLine(w, "SERVER_ERROR set requires a key and length")
	}

	n, err := strconv.Atoi(fields[2])
	if err != nil || n < 0 {
		return writeLine(w, "SERVER_ERROR invalid length")
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return errs.New(errs.IoFailed, "textproto.set", err)
	}

	// Consume the trailing \r\n after the data block.
	if _, err := r.Discard(2); err != nil {
		return errs.New(errs.IoFailed, "textproto.set", err)
	}

	if err := s.eng.Put([]byte(fields[1]), data); err != nil {
		return writeLine(w, fmt.Sprintf("SERVER_ERROR %v", err))
	}

	return writeLine(w, "STORED")
}

func (s *Server) handleDelete(w *bufio.Writer, fields []string) error {
	if len(fields) != 2 {
		return writeLine(w, "SERVER_ERROR delete requires exactly one key")
	}

	key := []byte(fields[1])

	// engine.Delete is idempotent (spec.md §4.5) and would report
	// success either way; check existence first so the protocol's
	// DELETED/NOT_FOUND distinction still means something to the client.
	_, existed, err := s.eng.Get(key)
	if err != nil {
		return writeLine(w, fmt.Sprintf("SERVER_ERROR %v", err))
	}

	if err := s.eng.Delete(key); err != nil {
		return writeLine(w, fmt.Sprintf("SERVER_ERROR %v", err))
	}

	if !existed {
		return writeLine(w, "NOT_FOUND")
	}

	return writeLine(w, "DELETED")
}

func (s *Server) handleStats(w *bufio.Writer) error {
	stats := s.eng.Stats()

	if err := writeLine(w, fmt.Sprintf("STAT key_count %d", stats.KeyCount)); err != nil {
		return err
	}

	if err := writeLine(w, fmt.Sprintf("STAT wal_bytes %d", stats.WALBytes)); err != nil {
		return err
	}

	if err := writeLine(w, fmt.Sprintf("STAT next_sequence %d", stats.NextSequence)); err != nil {
		return err
	}

	return writeLine(w, "END")
}

func writeLine(w *bufio.Writer, s string) error {
	if _, err := w.WriteString(s); err != nil {
		return errs.New(errs.IoFailed, "textproto.write", err)
	}

	if _, err := w.WriteString("\r\n"); err != nil {
		return errs.New(errs.IoFailed, "textproto.write", err)
	}

	return nil
}
