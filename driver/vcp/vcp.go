// Copyright (c) 2020–2024 The telepath developers. All rights reserved.
// Project site: https://github.com/gotmc/telepath
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Package vcp provides a transport over a serial Virtual COM Port (VCP),
// as presented by the Prologix GPIB-USB controller.
package vcp

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gotmc/telepath"
	"github.com/gotmc/telepath/lib/find"
	"github.com/rs/zerolog"
	"go.bug.st/serial"
)

// pollWindow is how long a "more data ready" check waits.
const pollWindow = 2 * time.Millisecond

// Port is the subset of serial.Port used here.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// VCP is a serial stream with the same framing contract as a TCP
// connection: terminator appended on write, coalescing reads.
type VCP struct {
	port    Port
	name    string
	timeout time.Duration
	eom     string
	trim    bool
	bufSize int
	pending []byte // bytes read by HasReply and not yet consumed
	log     zerolog.Logger
	closed  bool
}

// Option applies an option to a VCP.
type Option func(*VCP)

// WithTimeout sets the per-read timeout. Default 1s.
func WithTimeout(d time.Duration) Option { return func(v *VCP) { v.timeout = d } }

// WithTerminator sets the string appended to outgoing messages. Default "\n".
func WithTerminator(eom string) Option { return func(v *VCP) { v.eom = eom } }

// WithTrim controls whether trailing whitespace is removed from replies.
func WithTrim(trim bool) Option { return func(v *VCP) { v.trim = trim } }

// WithLogger logs traffic at debug level.
func WithLogger(l zerolog.Logger) Option { return func(v *VCP) { v.log = l } }

// Open opens the named serial port at 115200 8N1.
func Open(name string, opts ...Option) (*VCP, error) {
	mode := &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, telepath.Errorf(telepath.ErrConnection, name, err, "cannot open serial port")
	}
	return New(port, name, opts...), nil
}

// New wraps an already open port.
func New(port Port, name string, opts ...Option) *VCP {
	v := VCP{
		port:    port,
		name:    name,
		timeout: time.Second,
		eom:     "\n",
		trim:    true,
		bufSize: 1024,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&v)
	}
	return &v
}

// Find locates the serial device of a Prologix GPIB-USB controller.
func Find() (string, error) {
	tty, err := find.Find(find.PrologixFilter)
	if err != nil {
		return "", err
	}
	return "/dev/" + tty, nil
}

// String returns the port name.
func (v *VCP) String() string { return v.name }

// Timeout returns the per-read timeout.
func (v *VCP) Timeout() time.Duration { return v.timeout }

// Segmented reports true.
func (v *VCP) Segmented() bool { return true }

// Write sends msg with the terminator appended if missing.
func (v *VCP) Write(msg string) (int, error) {
	if v.eom != "" && !strings.HasSuffix(msg, v.eom) {
		msg += v.eom
	}
	v.log.Debug().Str("port", v.name).Str("msg", msg).Msg("write")
	return v.port.Write([]byte(msg))
}

// recv reads one chunk, waiting at most wait. A zero-length result means
// the wait expired.
func (v *VCP) recv(wait time.Duration) ([]byte, error) {
	if len(v.pending) > 0 {
		b := v.pending
		v.pending = nil
		return b, nil
	}
	if err := v.port.SetReadTimeout(wait); err != nil {
		return nil, err
	}
	buf := make([]byte, v.bufSize)
	n, err := v.port.Read(buf)
	if err != nil {
		return nil, telepath.Errorf(telepath.ErrConnection, v.name, err, "read failed")
	}
	return buf[:n], nil
}

// HasReply reports whether input arrives within timeout. Any input seen is
// kept for the next read.
func (v *VCP) HasReply(timeout time.Duration) bool {
	if len(v.pending) > 0 {
		return true
	}
	if timeout < pollWindow {
		timeout = pollWindow
	}
	b, err := v.recv(timeout)
	if err != nil || len(b) == 0 {
		return false
	}
	v.pending = b
	return true
}

// Read receives one chunk and then appends chunks while more data is
// immediately available.
func (v *VCP) Read() ([]byte, error) {
	data, err := v.recv(v.timeout)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, telepath.Errorf(telepath.ErrConnection, v.name, nil, "read timed out after %s", v.timeout)
	}
	for v.HasReply(0) {
		chunk, err := v.recv(v.timeout)
		if err != nil {
			return nil, err
		}
		data = append(data, chunk...)
	}
	v.log.Debug().Str("port", v.name).Bytes("data", data).Msg("read")
	if v.trim {
		data = []byte(strings.TrimRight(string(data), " \t\r\n\v\f"))
	}
	return data, nil
}

// ReadRaw reads exactly size bytes.
func (v *VCP) ReadRaw(size int) ([]byte, error) {
	if size < 0 {
		return nil, telepath.Errorf(telepath.ErrQuery, v.name, nil, "negative read size %d", size)
	}
	out := make([]byte, 0, size)
	for len(out) < size {
		if len(v.pending) > 0 {
			n := min(size-len(out), len(v.pending))
			out = append(out, v.pending[:n]...)
			v.pending = v.pending[n:]
			continue
		}
		chunk, err := v.recv(v.timeout)
		if err != nil {
			return out, err
		}
		if len(chunk) == 0 {
			return out, telepath.Errorf(telepath.ErrConnection, v.name, nil, "read timed out after %s with %d of %d bytes", v.timeout, len(out), size)
		}
		v.pending = chunk
	}
	return out, nil
}

// Flush discards input arriving within timeout and returns the count.
func (v *VCP) Flush(timeout time.Duration) (int, error) {
	n := 0
	for v.HasReply(timeout) {
		n += len(v.pending)
		v.pending = nil
	}
	return n, nil
}

// Close discards unread input and closes the port. It is safe to call
// more than once.
func (v *VCP) Close() error {
	if v.closed {
		return nil
	}
	v.closed = true
	if err := v.port.ResetInputBuffer(); err != nil {
		v.log.Debug().Err(err).Msg("reset input buffer")
	}
	if err := v.port.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", v.name, err)
	}
	return nil
}
