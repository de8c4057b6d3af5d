// Copyright (c) 2020–2024 The telepath developers. All rights reserved.
// Project site: https://github.com/gotmc/telepath
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Package prologix turns a connection to a Prologix GPIB controller into a
// transport for one addressed GPIB instrument.
package prologix

import (
	"fmt"
	"strings"
	"time"

	"github.com/gotmc/query"
	"github.com/gotmc/telepath"
	"github.com/gotmc/telepath/driver/tcp"
	"github.com/rs/zerolog"
)

// DefaultPort is the TCP port of the Prologix GPIB-ETHERNET controller.
const DefaultPort = 1234

// versionPrefix starts every Prologix ++ver reply.
const versionPrefix = "Prologix GPIB"

// Stream is the byte pipe to the controller. Its terminator must be "\n",
// which the controller consumes and replaces with the EOS sequence.
type Stream interface {
	telepath.Interface
	String() string
}

// Bridge models a Prologix controller-in-charge talking to the instrument
// at one GPIB address. The address and bus settings are fixed when the
// Bridge is created.
type Bridge struct {
	stream           Stream
	primaryAddr      int
	hasSecondaryAddr bool
	secondaryAddr    int
	auto             bool
	eoi              bool
	eos              string
	readTimeout      time.Duration
	poll             bool
	port             int
	awaiting         bool // a device command was written and not yet read
	log              zerolog.Logger
}

// Option applies an option to the bridge.
type Option func(*Bridge)

// WithAuto selects read-after-write mode. When disabled, every read is
// preceded by "++read eoi". Default true.
func WithAuto(auto bool) Option { return func(b *Bridge) { b.auto = auto } }

// WithEOI controls assertion of EOI with the last byte sent. Default true.
func WithEOI(eoi bool) Option { return func(b *Bridge) { b.eoi = eoi } }

// WithEOS sets the sequence the controller appends to messages forwarded
// to the instrument: "\r\n", "\r", "\n" or "" for nothing (the default).
func WithEOS(eos string) Option { return func(b *Bridge) { b.eos = eos } }

// WithReadTimeout sets the controller's GPIB read timeout.
func WithReadTimeout(d time.Duration) Option { return func(b *Bridge) { b.readTimeout = d } }

// WithSecondaryAddress sets a secondary address, which must be in the range
// of 96 and 126, inclusive.
func WithSecondaryAddress(addr int) Option {
	return func(b *Bridge) {
		b.hasSecondaryAddr = true
		b.secondaryAddr = addr
	}
}

// WithPort sets the TCP port used by Dial. Default DefaultPort.
func WithPort(port int) Option { return func(b *Bridge) { b.port = port } }

// WithoutPoll skips the serial poll that confirms the instrument responds.
func WithoutPoll() Option { return func(b *Bridge) { b.poll = false } }

// WithLogger causes controller commands to be logged at debug level.
func WithLogger(l zerolog.Logger) Option { return func(b *Bridge) { b.log = l } }

// Dial connects to a Prologix GPIB-ETHERNET controller and configures it
// for the instrument at addr. Bridge options follow the TCP options.
func Dial(host string, addr int, timeout time.Duration, opts ...Option) (*Bridge, error) {
	cfg := Bridge{port: DefaultPort}
	for _, opt := range opts {
		opt(&cfg)
	}
	conn, err := tcp.Dial(host, cfg.port, tcp.WithTimeout(timeout), tcp.WithTerminator("\n"))
	if err != nil {
		return nil, err
	}
	opts = append([]Option{WithReadTimeout(timeout)}, opts...)
	b, err := New(conn, addr, opts...)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return b, nil
}

// New configures the controller behind stream for the instrument at the
// given primary address. The configuration is sent once, in a fixed order,
// and then the instrument is serial polled unless WithoutPoll is given.
func New(stream Stream, addr int, opts ...Option) (*Bridge, error) {
	b := Bridge{
		stream:      stream,
		primaryAddr: addr,
		auto:        true,
		eoi:         true,
		readTimeout: time.Second,
		poll:        true,
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&b)
	}

	if !isPrimaryAddressValid(b.primaryAddr) {
		return nil, telepath.Errorf(telepath.ErrConnection, stream.String(), nil, "invalid primary address %d (must be 0-30)", b.primaryAddr)
	}
	addrCmd := fmt.Sprintf("addr %d", b.primaryAddr)
	if b.hasSecondaryAddr {
		if !isSecondaryAddressValid(b.secondaryAddr) {
			return nil, telepath.Errorf(telepath.ErrConnection, stream.String(), nil, "invalid secondary address %d (must be 96-126)", b.secondaryAddr)
		}
		addrCmd = fmt.Sprintf("addr %d %d", b.primaryAddr, b.secondaryAddr)
	}
	term, err := TermFromEOS(b.eos)
	if err != nil {
		return nil, telepath.Errorf(telepath.ErrConnection, stream.String(), err, "configuring controller")
	}

	ver, err := b.Version()
	if err != nil {
		return nil, telepath.Errorf(telepath.ErrConnection, stream.String(), err, "no reply to ++ver")
	}
	if !strings.HasPrefix(ver, versionPrefix) {
		return nil, telepath.Errorf(telepath.ErrConnection, stream.String(), nil, "not a Prologix controller: %q", ver)
	}
	b.log.Debug().Str("ver", ver).Msg("prologix controller")

	cmds := []string{
		"mode 1", // Switch to controller mode.
		fmt.Sprintf("read_tmo_ms %d", b.readTimeout.Milliseconds()),
		addrCmd,
		fmt.Sprintf("eoi %d", btoi(b.eoi)), // EOI assertion with last character.
		fmt.Sprintf("eos %d", term),        // GPIB termination.
		fmt.Sprintf("auto %d", btoi(b.auto)),
	}
	for _, cmd := range cmds {
		if err := b.CommandController(cmd); err != nil {
			return nil, telepath.Errorf(telepath.ErrConnection, stream.String(), err, "configuring controller")
		}
	}

	if b.poll {
		// A failed poll means nothing answers at this address.
		if _, err := b.Poll(); err != nil {
			return nil, telepath.Errorf(telepath.ErrConnection, b.String(), err, "device did not respond to poll")
		}
	}
	return &b, nil
}

// String describes the bridge and GPIB address, e.g. "10.0.0.5:1234/gpib17".
func (b *Bridge) String() string {
	if b.hasSecondaryAddr {
		return fmt.Sprintf("%s/gpib%d.%d", b.stream.String(), b.primaryAddr, b.secondaryAddr)
	}
	return fmt.Sprintf("%s/gpib%d", b.stream.String(), b.primaryAddr)
}

// Address returns the primary and, if set, secondary GPIB address.
func (b *Bridge) Address() (primary int, secondary int, ok bool) {
	return b.primaryAddr, b.secondaryAddr, b.hasSecondaryAddr
}

// Write writes msg to the instrument at the configured address.
func (b *Bridge) Write(msg string) (int, error) {
	b.awaiting = true
	return b.stream.Write(msg)
}

// Read reads the instrument's reply. Outside read-after-write mode, the
// first read after a write tells the controller to read until EOI; later
// reads collect the rest of that reply.
func (b *Bridge) Read() ([]byte, error) {
	if !b.auto && b.awaiting {
		if err := b.CommandController("read eoi"); err != nil {
			return nil, err
		}
	}
	b.awaiting = false
	return b.stream.Read()
}

// ReadImmediate reads without issuing "++read", for replies produced by
// the controller itself.
func (b *Bridge) ReadImmediate() ([]byte, error) {
	return b.stream.Read()
}

// ReadRaw reads exactly size bytes of the instrument's reply. Outside
// read-after-write mode, the first raw read after a write tells the
// controller to read until EOI.
func (b *Bridge) ReadRaw(size int) ([]byte, error) {
	if !b.auto && b.awaiting {
		if err := b.CommandController("read eoi"); err != nil {
			return nil, err
		}
	}
	b.awaiting = false
	return b.stream.ReadRaw(size)
}

// Segmented reports whether the underlying stream can be read in pieces.
func (b *Bridge) Segmented() bool { return b.stream.Segmented() }

// HasReply reports whether the controller has sent data, if the stream can
// tell.
func (b *Bridge) HasReply(timeout time.Duration) bool {
	if rw, ok := b.stream.(telepath.ReplyWaiter); ok {
		return rw.HasReply(timeout)
	}
	return false
}

// Flush discards pending input from the controller. It returns -1 when the
// stream cannot flush.
func (b *Bridge) Flush(timeout time.Duration) (int, error) {
	if f, ok := b.stream.(telepath.Flusher); ok {
		return f.Flush(timeout)
	}
	return -1, nil
}

// Close closes the connection to the controller.
func (b *Bridge) Close() error {
	return b.stream.Close()
}

// CommandController sends the given command to the Prologix controller. To
// indicate this is a command for the controller, thereby not transmitting
// to the instrument over GPIB, two plus signs `++` are prepended when
// missing.
func (b *Bridge) CommandController(cmd string) error {
	cmd = "++" + strings.TrimPrefix(strings.ToLower(strings.TrimSpace(cmd)), "++")
	b.log.Debug().Str("cmd", cmd).Msg("controller")
	_, err := b.stream.Write(cmd)
	return err
}

// QueryController sends cmd to the controller and returns its reply.
func (b *Bridge) QueryController(cmd string) (string, error) {
	if err := b.CommandController(cmd); err != nil {
		return "", err
	}
	reply, err := b.ReadImmediate()
	if err != nil {
		return "", err
	}
	s := strings.TrimSpace(string(reply))
	b.log.Debug().Str("reply", s).Msg("controller")
	return s, nil
}

// Query implements query.Querier for controller commands.
func (b *Bridge) Query(cmd string) (string, error) { return b.QueryController(cmd) }

// Version returns the controller's version string.
func (b *Bridge) Version() (string, error) { return query.String(b, "ver") }

// Poll serial polls the instrument and returns its status byte.
func (b *Bridge) Poll() (int, error) { return query.Int(b, "spoll") }

// ServiceRequest reports whether the SRQ line is asserted.
func (b *Bridge) ServiceRequest() (bool, error) {
	srq, err := query.Int(b, "srq")
	return srq != 0, err
}

// ReadTimeout queries the controller's GPIB read timeout.
func (b *Bridge) ReadTimeout() (time.Duration, error) {
	ms, err := query.Int(b, "read_tmo_ms")
	return time.Duration(ms) * time.Millisecond, err
}

// ReadAfterWrite queries whether the controller is in auto mode.
func (b *Bridge) ReadAfterWrite() (bool, error) {
	auto, err := query.Int(b, "auto")
	return auto != 0, err
}

// Clear sends the Selected Device Clear (SDC) message.
func (b *Bridge) Clear() error { return b.CommandController("clr") }

// Lock enables (local lockout, ++llo) or releases (go to local, ++loc)
// the instrument's front panel.
func (b *Bridge) Lock(locked bool) error {
	if locked {
		return b.CommandController("llo")
	}
	return b.CommandController("loc")
}

// Local returns the instrument to local control.
func (b *Bridge) Local() error { return b.CommandController("loc") }

// Reset performs a power-on reset of the controller.
func (b *Bridge) Reset() error { return b.CommandController("rst") }

// GpibTerm provides the type for the available GPIB terminators.
type GpibTerm int

// Available GPIB terminators for the Prologix Controller.
const (
	AppendCRLF GpibTerm = iota
	AppendCR
	AppendLF
	AppendNothing
)

var gpibTermDesc = map[GpibTerm]string{
	AppendCRLF:    `Append CR+LF (\r\n) to instrument commands`,
	AppendCR:      `Append CR (\r) to instrument commands`,
	AppendLF:      `Append LF (\n) to instrument commands`,
	AppendNothing: `Do not append anything to instrument commands`,
}

func (term GpibTerm) String() string {
	return gpibTermDesc[term]
}

// TermFromEOS maps an end-of-send string to its ++eos code.
func TermFromEOS(eos string) (GpibTerm, error) {
	switch eos {
	case "\r\n":
		return AppendCRLF, nil
	case "\r":
		return AppendCR, nil
	case "\n":
		return AppendLF, nil
	case "":
		return AppendNothing, nil
	}
	return 0, fmt.Errorf("unknown EOS %q", eos)
}

func btoi(v bool) int {
	if v {
		return 1
	}
	return 0
}

// isPrimaryAddressValid checks that the primary GPIB address is between 0 and
// 30, inclusive.
func isPrimaryAddressValid(addr int) bool {
	return addr >= 0 && addr <= 30
}

// isSecondaryAddressValid checks that the secondary GPIB address is between 96
// and 126, inclusive.
func isSecondaryAddressValid(addr int) bool {
	return addr >= 96 && addr <= 126
}
