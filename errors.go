// Copyright (c) 2024 The telepath developers. All rights reserved.
// Project site: https://github.com/gotmc/telepath
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package telepath

import (
	"fmt"
	"strings"
)

// Kind classifies a failure so callers can branch on it with errors.Is
// without losing the underlying cause.
type Kind int

// Failure kinds reported by devices and transports.
const (
	ErrDevice     Kind = iota + 1 // generic device failure
	ErrConnection                 // transport could not be established or validated
	ErrIdentity                   // *IDN? reply did not match
	ErrQuery                      // write/read cycle of one command failed
	ErrFraming                    // malformed or length-inconsistent block
)

var kindDesc = map[Kind]string{
	ErrDevice:     "device error",
	ErrConnection: "connection error",
	ErrIdentity:   "identity mismatch",
	ErrQuery:      "query failed",
	ErrFraming:    "framing error",
}

func (k Kind) Error() string {
	if s, ok := kindDesc[k]; ok {
		return s
	}
	return fmt.Sprintf("error kind %d", int(k))
}

func (k Kind) String() string { return k.Error() }

// Error is the single error type surfaced by telepath. Err holds the
// low-level cause, if any.
type Error struct {
	Kind   Kind
	Device string // connection descriptor, e.g. "192.168.1.15:1234"
	Query  string // offending command for ErrQuery
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("telepath")
	if e.Device != "" {
		b.WriteString(": ")
		b.WriteString(e.Device)
	}
	if e.Query != "" {
		fmt.Fprintf(&b, ": query %q", e.Query)
	}
	b.WriteString(": ")
	if e.Msg != "" {
		b.WriteString(e.Msg)
	} else {
		b.WriteString(e.Kind.Error())
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches a Kind target, so errors.Is(err, ErrQuery) works through any
// amount of wrapping.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && e.Kind == k
}

// Errorf builds an *Error of the given kind for the device descriptor dev.
func Errorf(kind Kind, dev string, cause error, format string, a ...any) *Error {
	return &Error{Kind: kind, Device: dev, Msg: fmt.Sprintf(format, a...), Err: cause}
}

// queryError wraps cause into an ErrQuery naming the command. A wrapped
// framing error still matches ErrFraming through the cause chain.
func queryError(dev, query string, cause error) error {
	return &Error{Kind: ErrQuery, Device: dev, Query: query, Err: cause}
}
