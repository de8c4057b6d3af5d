// Copyright (c) 2024 The telepath developers. All rights reserved.
// Project site: https://github.com/gotmc/telepath
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Package tcp provides raw socket and Telnet-style prompted transports for
// SCPI instruments.
package tcp

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gotmc/telepath"
	"github.com/rs/zerolog"
)

// pollWindow is how long an "is more data ready" check waits. A reply
// whose chunks are separated by more than this is returned in pieces.
const pollWindow = time.Millisecond

// Conn is a TCP connection to an instrument. Configuration is fixed at
// Dial time.
type Conn struct {
	conn    net.Conn
	r       *bufio.Reader
	addr    string
	timeout time.Duration
	eom     string
	trim    bool
	bufSize int
	log     zerolog.Logger
	closed  bool
}

type config struct {
	timeout time.Duration
	eom     string
	trim    bool
	bufSize int
	log     zerolog.Logger
}

func defaultConfig() config {
	return config{
		timeout: time.Second,
		eom:     "\r\n",
		trim:    true,
		bufSize: 1024,
		log:     zerolog.Nop(),
	}
}

// Option applies an option to a Conn.
type Option func(*config)

// WithTimeout sets the connect and per-operation timeout.
func WithTimeout(d time.Duration) Option { return func(c *config) { c.timeout = d } }

// WithTerminator sets the end-of-message string appended to outgoing
// messages. An empty string disables it.
func WithTerminator(eom string) Option { return func(c *config) { c.eom = eom } }

// WithTrim controls whether trailing whitespace is removed from replies.
func WithTrim(trim bool) Option { return func(c *config) { c.trim = trim } }

// WithBufferSize sets the receive chunk size.
func WithBufferSize(n int) Option { return func(c *config) { c.bufSize = n } }

// WithLogger causes writes and reads to be logged at debug level.
func WithLogger(l zerolog.Logger) Option { return func(c *config) { c.log = l } }

// Dial connects to host:port. The host may be a bare integer from 0 to 255,
// meaning the local IPv4 address with its last octet replaced.
func Dial(host string, port int, opts ...Option) (*Conn, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return dial(host, port, cfg)
}

func dial(host string, port int, cfg config) (*Conn, error) {
	if cfg.bufSize <= 0 {
		return nil, telepath.Errorf(telepath.ErrConnection, host, nil, "invalid buffer size %d", cfg.bufSize)
	}
	resolved, err := ResolveHost(host)
	if err != nil {
		return nil, telepath.Errorf(telepath.ErrConnection, host, err, "cannot resolve host")
	}
	addr := net.JoinHostPort(resolved, strconv.Itoa(port))
	cfg.log.Debug().Str("addr", addr).Dur("timeout", cfg.timeout).Msg("dialing")
	nc, err := net.DialTimeout("tcp", addr, cfg.timeout)
	if err != nil {
		return nil, telepath.Errorf(telepath.ErrConnection, addr, err, "failed to connect")
	}
	return &Conn{
		conn:    nc,
		r:       bufio.NewReaderSize(nc, cfg.bufSize),
		addr:    addr,
		timeout: cfg.timeout,
		eom:     cfg.eom,
		trim:    cfg.trim,
		bufSize: cfg.bufSize,
		log:     cfg.log,
	}, nil
}

// ResolveHost expands the integer host shorthand. Other hosts are returned
// unchanged.
func ResolveHost(host string) (string, error) {
	octet, err := strconv.Atoi(host)
	if err != nil {
		return host, nil
	}
	if octet < 0 || octet > 255 {
		return "", fmt.Errorf("host octet %d out of range 0-255", octet)
	}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return net.IPv4(ip4[0], ip4[1], ip4[2], byte(octet)).String(), nil
		}
	}
	return "", errors.New("no local IPv4 address to derive host from")
}

// String returns host:port.
func (c *Conn) String() string { return c.addr }

// Terminator returns the end-of-message string.
func (c *Conn) Terminator() string { return c.eom }

// Timeout returns the per-operation timeout.
func (c *Conn) Timeout() time.Duration { return c.timeout }

// Segmented reports true: a stream can be consumed in pieces.
func (c *Conn) Segmented() bool { return true }

// Close closes the socket. It is safe to call more than once.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.log.Debug().Str("addr", c.addr).Msg("closing")
	return c.conn.Close()
}

// Write sends msg, appending the terminator if msg does not already end
// with it. No acknowledgement is awaited.
func (c *Conn) Write(msg string) (int, error) {
	if c.eom != "" && !strings.HasSuffix(msg, c.eom) {
		msg += c.eom
	}
	c.log.Debug().Str("addr", c.addr).Str("msg", msg).Msg("write")
	if c.timeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	}
	return c.conn.Write([]byte(msg))
}

// HasReply reports whether input is waiting, waiting at most timeout.
func (c *Conn) HasReply(timeout time.Duration) bool {
	if c.r.Buffered() > 0 {
		return true
	}
	if timeout < pollWindow {
		timeout = pollWindow
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	_, err := c.r.Peek(1)
	return err == nil
}

// recv performs one receive of up to the chunk size.
func (c *Conn) recv() ([]byte, error) {
	buf := make([]byte, c.bufSize)
	c.setReadDeadline()
	n, err := c.r.Read(buf)
	if err != nil {
		return nil, c.readError(err)
	}
	return buf[:n], nil
}

// Read receives one chunk, then keeps appending chunks while more data is
// immediately available. This coalesces a reply that arrives in one burst;
// it is not a framed read and may return part of a reply whose pieces are
// separated by a gap longer than the poll window.
func (c *Conn) Read() ([]byte, error) {
	data, err := c.recv()
	if err != nil {
		return nil, err
	}
	for c.HasReply(0) {
		chunk, err := c.recv()
		if err != nil {
			return nil, err
		}
		data = append(data, chunk...)
	}
	c.log.Debug().Str("addr", c.addr).Bytes("data", data).Msg("read")
	if c.trim {
		data = trimRight(data)
	}
	return data, nil
}

// ReadRaw reads exactly size bytes, subject to the timeout.
func (c *Conn) ReadRaw(size int) ([]byte, error) {
	if size < 0 {
		return nil, telepath.Errorf(telepath.ErrQuery, c.addr, nil, "negative read size %d", size)
	}
	buf := make([]byte, size)
	got := 0
	for got < size {
		c.setReadDeadline()
		n, err := c.r.Read(buf[got:])
		got += n
		if err != nil {
			return buf[:got], c.readError(err)
		}
	}
	return buf, nil
}

// Flush discards any input arriving within timeout and returns the number
// of bytes discarded.
func (c *Conn) Flush(timeout time.Duration) (int, error) {
	n := 0
	for c.HasReply(timeout) {
		chunk, err := c.recv()
		n += len(chunk)
		if err != nil {
			return n, err
		}
	}
	if n > 0 {
		c.log.Debug().Str("addr", c.addr).Int("bytes", n).Msg("flushed")
	}
	return n, nil
}

func (c *Conn) setReadDeadline() {
	if c.timeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	} else {
		_ = c.conn.SetReadDeadline(time.Time{})
	}
}

// readError turns a deadline expiry into a connection error naming the
// peer.
func (c *Conn) readError(err error) error {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return telepath.Errorf(telepath.ErrConnection, c.addr, err, "read timed out after %s", c.timeout)
	}
	return telepath.Errorf(telepath.ErrConnection, c.addr, err, "read failed")
}

func trimRight(b []byte) []byte {
	return []byte(strings.TrimRight(string(b), " \t\r\n\v\f"))
}
