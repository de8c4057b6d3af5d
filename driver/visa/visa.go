// Copyright (c) 2024 The telepath developers. All rights reserved.
// Project site: https://github.com/gotmc/telepath
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

//go:build visa

// Package visa adapts a VISA resource manager session to a telepath
// transport. VISA returns whole messages, so the transport is not
// segmented. Building it requires cgo, a VISA library and the "visa" build
// tag.
package visa

import (
	"fmt"
	"strings"

	"github.com/gotmc/telepath"
	vi "github.com/jpoirier/visa"
	"go.uber.org/multierr"
)

// maxRead bounds a single whole-message read.
const maxRead = 1 << 24

// Resource is an open VISA instrument session.
type Resource struct {
	rm    vi.Session
	instr vi.Object
	name  string
	eom   string
	trim  bool
}

// Option applies an option to a Resource.
type Option func(*Resource)

// WithTerminator sets the string appended to outgoing messages. Default "\n".
func WithTerminator(eom string) Option { return func(r *Resource) { r.eom = eom } }

// WithTrim controls whether trailing whitespace is removed from Read
// replies. Block reads are never trimmed. Default true.
func WithTrim(trim bool) Option { return func(r *Resource) { r.trim = trim } }

// Open opens the VISA resource, e.g. "TCPIP::192.168.1.70::INSTR".
func Open(resource string, opts ...Option) (*Resource, error) {
	rm, status := vi.OpenDefaultRM()
	if status < vi.SUCCESS {
		return nil, telepath.Errorf(telepath.ErrConnection, resource, nil, "could not open a session to the VISA resource manager (status %d)", status)
	}
	instr, status := rm.Open(resource, vi.NULL, vi.NULL)
	if status < vi.SUCCESS {
		rm.Close()
		return nil, telepath.Errorf(telepath.ErrConnection, resource, nil, "could not open resource (status %d)", status)
	}
	r := Resource{rm: rm, instr: instr, name: resource, eom: "\n", trim: true}
	for _, opt := range opts {
		opt(&r)
	}
	return &r, nil
}

// String returns the resource name.
func (r *Resource) String() string { return r.name }

// Segmented reports false: VISA rejects a second partial read of one
// response.
func (r *Resource) Segmented() bool { return false }

// Write sends msg with the terminator appended if missing.
func (r *Resource) Write(msg string) (int, error) {
	if r.eom != "" && !strings.HasSuffix(msg, r.eom) {
		msg += r.eom
	}
	b := []byte(msg)
	n, status := r.instr.Write(b, uint32(len(b)))
	if status < vi.SUCCESS {
		return int(n), fmt.Errorf("error writing to %s: status %d", r.name, status)
	}
	return int(n), nil
}

// Read returns one whole message. Text replies are trimmed when enabled,
// unless they look like a binary block.
func (r *Resource) Read() ([]byte, error) {
	b, _, status := r.instr.Read(maxRead)
	if status < vi.SUCCESS {
		return nil, fmt.Errorf("read from %s failed with status %x", r.name, status)
	}
	if r.trim && (len(b) == 0 || b[0] != '#') {
		b = []byte(strings.TrimRight(string(b), " \t\r\n"))
	}
	return b, nil
}

// ReadRaw reads up to size bytes in one call.
func (r *Resource) ReadRaw(size int) ([]byte, error) {
	if size < 0 {
		return nil, telepath.Errorf(telepath.ErrQuery, r.name, nil, "negative read size %d", size)
	}
	b, _, status := r.instr.Read(uint32(size))
	if status < vi.SUCCESS {
		return nil, fmt.Errorf("read from %s failed with status %x", r.name, status)
	}
	return b, nil
}

// Close closes the instrument and resource manager sessions.
func (r *Resource) Close() error {
	var err error
	if status := r.instr.Close(); status < vi.SUCCESS {
		err = multierr.Append(err, fmt.Errorf("closing %s: status %d", r.name, status))
	}
	if status := r.rm.Close(); status < vi.SUCCESS {
		err = multierr.Append(err, fmt.Errorf("closing resource manager: status %d", status))
	}
	return err
}
