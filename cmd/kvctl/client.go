package main

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/calvinalkan/kvcore/internal/dispatcher"
)

// wireClient is a minimal client for the length-framed wire protocol
// (spec.md §4.6/§6.2), mirroring the encoding internal/dispatcher's
// server side decodes.
type wireClient struct {
	conn net.Conn
	r    *bufio.Reader
}

func dialWire(addr string) (*wireClient, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}

	return &wireClient{conn: conn, r: bufio.NewReader(conn)}, nil
}

func (c *wireClient) Close() error { return c.conn.Close() }

func (c *wireClient) call(op dispatcher.Op, payload []byte) (dispatcher.Status, []byte, error) {
	body := append([]byte{byte(op)}, payload...)

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(body)))

	if _, err := c.conn.Write(lenBuf[:]); err != nil {
		return 0, nil, err
	}

	if _, err := c.conn.Write(body); err != nil {
		return 0, nil, err
	}

	if _, err := io.ReadFull(c.r, lenBuf[:]); err != nil {
		return 0, nil, err
	}

	respBody := make([]byte, binary.LittleEndian.Uint32(lenBuf[:]))
	if _, err := io.ReadFull(c.r, respBody); err != nil {
		return 0, nil, err
	}

	if len(respBody) == 0 {
		return 0, nil, fmt.Errorf("kvctl: empty response")
	}

	return dispatcher.Status(respBody[0]), respBody[1:], nil
}

func lenPrefixed(field []byte) []byte {
	out := make([]byte, 4+len(field))
	binary.LittleEndian.PutUint32(out[:4], uint32(len(field)))
	copy(out[4:], field)

	return out
}

func decodeLenPrefixed(buf []byte, offset int) ([]byte, int, error) {
	if offset+4 > len(buf) {
		return nil, 0, fmt.Errorf("kvctl: truncated length prefix")
	}

	n := int(binary.LittleEndian.Uint32(buf[offset : offset+4]))
	offset += 4

	if offset+n > len(buf) {
		return nil, 0, fmt.Errorf("kvctl: truncated field")
	}

	return buf[offset : offset+n], offset + n, nil
}

func (c *wireClient) Get(key []byte) (value []byte, ok bool, err error) {
	status, payload, err := c.call(dispatcher.OpGet, lenPrefixed(key))
	if err != nil {
		return nil, false, err
	}

	switch status {
	case dispatcher.StatusOk:
		value, _, err = decodeLenPrefixed(payload, 0)
		return value, true, err
	case dispatcher.StatusNotFound:
		return nil, false, nil
	default:
		return nil, false, fmt.Errorf("kvctl: get failed, status=%d", status)
	}
}

func (c *wireClient) Put(key, value []byte) error {
	payload := append(lenPrefixed(key), lenPrefixed(value)...)

	status, _, err := c.call(dispatcher.OpPut, payload)
	if err != nil {
		return err
	}

	if status != dispatcher.StatusOk {
		return fmt.Errorf("kvctl: put failed, status=%d", status)
	}

	return nil
}

func (c *wireClient) Delete(key []byte) error {
	status, _, err := c.call(dispatcher.OpDelete, lenPrefixed(key))
	if err != nil {
		return err
	}

	if status != dispatcher.StatusOk {
		return fmt.Errorf("kvctl: delete failed, status=%d", status)
	}

	return nil
}

func (c *wireClient) Stats() (string, error) {
	status, payload, err := c.call(dispatcher.OpStats, nil)
	if err != nil {
		return "", err
	}

	if status != dispatcher.StatusOk {
		return "", fmt.Errorf("kvctl: stats failed, status=%d", status)
	}

	return string(payload), nil
}
