// Copyright (c) 2024 The telepath developers. All rights reserved.
// Project site: https://github.com/gotmc/telepath
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package telepath

import (
	"fmt"
	"strings"
	"time"

	"github.com/gotmc/query"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
	"golang.org/x/text/cases"
)

// IdentifyQuery is the IEEE 488.2 identification query.
const IdentifyQuery = "*IDN?"

// Device is a transport-agnostic request/response layer over one
// Interface. It is not safe for concurrent use; one conversation with the
// instrument happens at a time.
type Device struct {
	iface  Interface
	name   string
	locker Locker
	log    zerolog.Logger
}

// DeviceOption applies an option to a Device.
type DeviceOption func(*Device)

// WithLogger sets the logger used to trace commands and replies at debug
// level.
func WithLogger(l zerolog.Logger) DeviceOption { return func(d *Device) { d.log = l } }

// WithName overrides the descriptor used in error messages. By default the
// transport's String method is used.
func WithName(name string) DeviceOption { return func(d *Device) { d.name = name } }

// WithLocker installs a device-level lock capability. Close calls it with
// false in preference to any lock the transport provides.
func WithLocker(l Locker) DeviceOption { return func(d *Device) { d.locker = l } }

// New creates a Device using the given transport.
func New(iface Interface, opts ...DeviceOption) *Device {
	d := Device{
		iface: iface,
		log:   zerolog.Nop(),
	}
	if s, ok := iface.(fmt.Stringer); ok {
		d.name = s.String()
	} else {
		d.name = fmt.Sprintf("%T", iface)
	}
	for _, opt := range opts {
		opt(&d)
	}
	return &d
}

// String returns the device descriptor.
func (d *Device) String() string { return d.name }

// Interface returns the underlying transport.
func (d *Device) Interface() Interface { return d.iface }

// IdentifyOption modifies Identify.
type IdentifyOption func(*identifyConfig)

type identifyConfig struct {
	foldCase bool
}

// CaseInsensitive compares the identity prefix with Unicode case folding.
func CaseInsensitive() IdentifyOption {
	return func(c *identifyConfig) { c.foldCase = true }
}

// Identify queries *IDN? and, when expect is not empty, checks that the
// reply starts with it. The unmodified reply is returned.
func (d *Device) Identify(expect string, opts ...IdentifyOption) (string, error) {
	var cfg identifyConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	id, err := d.Ask(IdentifyQuery)
	if err != nil {
		return "", err
	}
	if expect == "" {
		return id, nil
	}
	got, want := id, expect
	if cfg.foldCase {
		fold := cases.Fold()
		got, want = fold.String(got), fold.String(want)
	}
	if !strings.HasPrefix(got, want) {
		return id, &Error{
			Kind:   ErrIdentity,
			Device: d.name,
			Msg:    fmt.Sprintf("expected ID %q, got %q", expect, id),
		}
	}
	return id, nil
}

// Ask writes query and returns the text reply.
func (d *Device) Ask(query string) (string, error) {
	d.log.Debug().Str("dev", d.name).Str("query", query).Msg("ask")
	if _, err := d.iface.Write(query); err != nil {
		return "", queryError(d.name, query, err)
	}
	b, err := d.iface.Read()
	if err != nil {
		return "", queryError(d.name, query, err)
	}
	d.log.Debug().Str("dev", d.name).Bytes("reply", b).Msg("read")
	return string(b), nil
}

// AskRaw writes query and reads exactly size bytes of reply.
func (d *Device) AskRaw(query string, size int) ([]byte, error) {
	d.log.Debug().Str("dev", d.name).Str("query", query).Int("size", size).Msg("ask raw")
	if size < 0 {
		return nil, &Error{Kind: ErrQuery, Device: d.name, Query: query, Msg: fmt.Sprintf("negative read size %d", size)}
	}
	if _, err := d.iface.Write(query); err != nil {
		return nil, queryError(d.name, query, err)
	}
	b, err := d.iface.ReadRaw(size)
	if err != nil {
		return nil, queryError(d.name, query, err)
	}
	return b, nil
}

// Query appends '?' to cmd if it has none, asks it, and converts the reply
// with ParseReply. Queries with arguments, such as "TRAC:POIN? TRA", are
// sent unchanged.
func (d *Device) Query(cmd string) (any, error) {
	if !strings.Contains(cmd, "?") {
		cmd += "?"
	}
	s, err := d.Ask(cmd)
	if err != nil {
		return nil, err
	}
	return ParseReply(s), nil
}

// QueryAll queries each command in order and returns the converted replies
// keyed by command. The first failure stops the sequence.
func (d *Device) QueryAll(cmds []string) (map[string]any, error) {
	out := make(map[string]any, len(cmds))
	for _, cmd := range cmds {
		v, err := d.Query(cmd)
		if err != nil {
			return out, err
		}
		out[cmd] = v
	}
	return out, nil
}

// ReadBlock reads one definite length binary block and returns its
// payload.
func (d *Device) ReadBlock() ([]byte, error) {
	var (
		payload []byte
		err     error
	)
	if d.iface.Segmented() {
		payload, err = readBlock(d.iface)
	} else {
		// Whole-message backends reject a second partial read of one
		// response, so the block is sliced out of a single read.
		var buf []byte
		buf, err = d.iface.Read()
		if err == nil {
			payload, err = ParseBlock(buf)
		}
	}
	if err != nil {
		if te, ok := err.(*Error); ok {
			if te.Device == "" {
				te.Device = d.name
			}
			return nil, te
		}
		return nil, &Error{Kind: ErrDevice, Device: d.name, Msg: "block read failed", Err: err}
	}
	d.log.Debug().Str("dev", d.name).Int("bytes", len(payload)).Msg("block")
	return payload, nil
}

// ReadBlockAs reads a block and decodes its payload with f. See
// Format.Decode for the returned slice types.
func (d *Device) ReadBlockAs(f Format) (any, error) {
	payload, err := d.ReadBlock()
	if err != nil {
		return nil, err
	}
	v, err := f.Decode(payload)
	if err != nil {
		if te, ok := err.(*Error); ok {
			te.Device = d.name
			return nil, te
		}
		return nil, &Error{Kind: ErrDevice, Device: d.name, Err: err}
	}
	return v, nil
}

// AskBlock writes query and reads the block reply.
func (d *Device) AskBlock(query string) ([]byte, error) {
	if _, err := d.iface.Write(query); err != nil {
		return nil, queryError(d.name, query, err)
	}
	b, err := d.ReadBlock()
	if err != nil {
		return nil, queryError(d.name, query, err)
	}
	return b, nil
}

// AskBlockAs writes query and decodes the block reply with f.
func (d *Device) AskBlockAs(query string, f Format) (any, error) {
	if _, err := d.iface.Write(query); err != nil {
		return nil, queryError(d.name, query, err)
	}
	v, err := d.ReadBlockAs(f)
	if err != nil {
		return nil, queryError(d.name, query, err)
	}
	return v, nil
}

// ReadIndefiniteBlock reads a "#0" block whose end is only signalled by the
// stream going quiet for the given duration. The transport must implement
// ReplyWaiter; whole-message transports return the rest of their message.
// A single trailing newline is removed.
func (d *Device) ReadIndefiniteBlock(quiet time.Duration) ([]byte, error) {
	var data []byte
	if d.iface.Segmented() {
		rw, ok := d.iface.(ReplyWaiter)
		if !ok {
			return nil, &Error{Kind: ErrDevice, Device: d.name, Msg: fmt.Sprintf("%T cannot detect end of an indefinite block", d.iface)}
		}
		head, err := d.iface.ReadRaw(2)
		if err != nil {
			return nil, &Error{Kind: ErrDevice, Device: d.name, Msg: "block read failed", Err: err}
		}
		if string(head) != "#0" {
			return nil, &Error{Kind: ErrFraming, Device: d.name, Msg: fmt.Sprintf("expected indefinite block header \"#0\", got %q", head)}
		}
		for rw.HasReply(quiet) {
			chunk, err := d.iface.Read()
			if err != nil {
				return nil, &Error{Kind: ErrDevice, Device: d.name, Msg: "block read failed", Err: err}
			}
			data = append(data, chunk...)
		}
	} else {
		buf, err := d.iface.Read()
		if err != nil {
			return nil, &Error{Kind: ErrDevice, Device: d.name, Msg: "block read failed", Err: err}
		}
		if len(buf) < 2 || string(buf[:2]) != "#0" {
			return nil, &Error{Kind: ErrFraming, Device: d.name, Msg: "expected indefinite block header \"#0\""}
		}
		data = buf[2:]
	}
	if n := len(data); n > 0 && data[n-1] == '\n' {
		data = data[:n-1]
	}
	return data, nil
}

// Read reads one text reply.
func (d *Device) Read() (string, error) {
	b, err := d.iface.Read()
	if err != nil {
		return "", &Error{Kind: ErrDevice, Device: d.name, Msg: "read failed", Err: err}
	}
	return string(b), nil
}

// ReadRaw reads exactly size bytes.
func (d *Device) ReadRaw(size int) ([]byte, error) {
	if size < 0 {
		return nil, &Error{Kind: ErrQuery, Device: d.name, Msg: fmt.Sprintf("negative read size %d", size)}
	}
	b, err := d.iface.ReadRaw(size)
	if err != nil {
		return nil, &Error{Kind: ErrDevice, Device: d.name, Msg: "raw read failed", Err: err}
	}
	return b, nil
}

// Write sends msg to the device.
func (d *Device) Write(msg string) (int, error) {
	d.log.Debug().Str("dev", d.name).Str("cmd", msg).Msg("write")
	n, err := d.iface.Write(msg)
	if err != nil {
		return n, &Error{Kind: ErrDevice, Device: d.name, Msg: fmt.Sprintf("write %q failed", msg), Err: err}
	}
	return n, nil
}

// Command formats according to a format specifier if arguments are given
// and writes the result.
func (d *Device) Command(format string, a ...any) error {
	cmd := format
	if a != nil {
		cmd = fmt.Sprintf(format, a...)
	}
	_, err := d.Write(cmd)
	return err
}

// Flush discards pending input and returns the number of bytes dropped,
// or -1 if the transport cannot flush.
func (d *Device) Flush() (int, error) {
	f, ok := d.iface.(Flusher)
	if !ok {
		return -1, nil
	}
	n, err := f.Flush(0)
	if err != nil {
		return n, &Error{Kind: ErrDevice, Device: d.name, Msg: "flush failed", Err: err}
	}
	if n > 0 {
		d.log.Debug().Str("dev", d.name).Int("bytes", n).Msg("flushed")
	}
	return n, nil
}

// Close unlocks the instrument if a lock capability exists and releases
// the transport. Using the Device after Close is undefined.
func (d *Device) Close() error {
	var err error
	switch {
	case d.locker != nil:
		err = multierr.Append(err, d.locker.Lock(false))
	default:
		if l, ok := d.iface.(Locker); ok {
			err = multierr.Append(err, l.Lock(false))
		}
	}
	err = multierr.Append(err, d.iface.Close())
	return err
}

// Querier adapts the device's text Ask to the gotmc/query Querier
// interface, so typed helpers such as query.Float64 can be used.
func (d *Device) Querier() query.Querier { return asker{d} }

type asker struct{ d *Device }

func (a asker) Query(s string) (string, error) {
	reply, err := a.d.Ask(s)
	return strings.TrimSpace(reply), err
}
