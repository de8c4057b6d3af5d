// Copyright (c) 2024 The telepath developers. All rights reserved.
// Project site: https://github.com/gotmc/telepath
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package telepath

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
)

// Format describes how to reinterpret block payload bytes as a flat array
// of scalars. The block protocol does not describe its own element type, so
// the caller supplies it out of band.
type Format struct {
	Kind  byte // 'i' signed, 'u' unsigned, 'f' float, 'c' complex
	Size  int  // bytes per element
	Order binary.ByteOrder
}

// Common formats.
var (
	Int8      = Format{Kind: 'i', Size: 1, Order: binary.LittleEndian}
	Uint8     = Format{Kind: 'u', Size: 1, Order: binary.LittleEndian}
	Float32BE = Format{Kind: 'f', Size: 4, Order: binary.BigEndian}
	Float64BE = Format{Kind: 'f', Size: 8, Order: binary.BigEndian}
)

// ParseFormat parses a compact type string such as ">f4", "<i2", "u1" or
// "c16". The optional leading character selects byte order: '<' little
// endian, '>' big endian, '=' or '|' native. Without one, native order is
// used.
func ParseFormat(s string) (Format, error) {
	f := Format{Order: binary.NativeEndian}
	rest := s
	if len(rest) > 0 {
		switch rest[0] {
		case '<':
			f.Order = binary.LittleEndian
			rest = rest[1:]
		case '>':
			f.Order = binary.BigEndian
			rest = rest[1:]
		case '=', '|':
			rest = rest[1:]
		}
	}
	if len(rest) < 2 {
		return Format{}, fmt.Errorf("invalid format %q", s)
	}
	f.Kind = rest[0]
	size, err := strconv.Atoi(rest[1:])
	if err != nil {
		return Format{}, fmt.Errorf("invalid format %q: %w", s, err)
	}
	f.Size = size
	if !f.valid() {
		return Format{}, fmt.Errorf("unsupported format %q", s)
	}
	return f, nil
}

// MustParseFormat is like ParseFormat but panics on error.
func MustParseFormat(s string) Format {
	f, err := ParseFormat(s)
	if err != nil {
		panic(err)
	}
	return f
}

func (f Format) valid() bool {
	if f.Order == nil {
		return false
	}
	switch f.Kind {
	case 'i', 'u':
		return f.Size == 1 || f.Size == 2 || f.Size == 4 || f.Size == 8
	case 'f':
		return f.Size == 4 || f.Size == 8
	case 'c':
		return f.Size == 8 || f.Size == 16
	}
	return false
}

func (f Format) String() string {
	o := "="
	switch f.Order {
	case binary.LittleEndian:
		o = "<"
	case binary.BigEndian:
		o = ">"
	}
	return fmt.Sprintf("%s%c%d", o, f.Kind, f.Size)
}

// Decode reinterprets payload as a slice of the format's scalar type:
// []int8, []int16, []int32, []int64, []uint8, []uint16, []uint32,
// []uint64, []float32, []float64, []complex64 or []complex128.
func (f Format) Decode(payload []byte) (any, error) {
	if !f.valid() {
		return nil, fmt.Errorf("unsupported format %s", f)
	}
	if len(payload)%f.Size != 0 {
		return nil, &Error{Kind: ErrFraming, Msg: fmt.Sprintf("payload of %d bytes is not a whole number of %s elements", len(payload), f)}
	}
	n := len(payload) / f.Size
	switch f.Kind {
	case 'i':
		switch f.Size {
		case 1:
			return decodeAs[int8](payload, f.Order, n)
		case 2:
			return decodeAs[int16](payload, f.Order, n)
		case 4:
			return decodeAs[int32](payload, f.Order, n)
		default:
			return decodeAs[int64](payload, f.Order, n)
		}
	case 'u':
		switch f.Size {
		case 1:
			return decodeAs[uint8](payload, f.Order, n)
		case 2:
			return decodeAs[uint16](payload, f.Order, n)
		case 4:
			return decodeAs[uint32](payload, f.Order, n)
		default:
			return decodeAs[uint64](payload, f.Order, n)
		}
	case 'f':
		if f.Size == 4 {
			return decodeAs[float32](payload, f.Order, n)
		}
		return decodeAs[float64](payload, f.Order, n)
	default:
		if f.Size == 8 {
			return decodeAs[complex64](payload, f.Order, n)
		}
		return decodeAs[complex128](payload, f.Order, n)
	}
}

func decodeAs[T any](payload []byte, order binary.ByteOrder, n int) (any, error) {
	out := make([]T, n)
	if err := binary.Read(bytes.NewReader(payload), order, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Float64s converts any slice returned by Format.Decode to []float64.
// Complex values yield their real part.
func Float64s(v any) ([]float64, error) {
	switch s := v.(type) {
	case []float64:
		return s, nil
	case []float32:
		return convert(s, func(x float32) float64 { return float64(x) }), nil
	case []int8:
		return convert(s, func(x int8) float64 { return float64(x) }), nil
	case []int16:
		return convert(s, func(x int16) float64 { return float64(x) }), nil
	case []int32:
		return convert(s, func(x int32) float64 { return float64(x) }), nil
	case []int64:
		return convert(s, func(x int64) float64 { return float64(x) }), nil
	case []uint8:
		return convert(s, func(x uint8) float64 { return float64(x) }), nil
	case []uint16:
		return convert(s, func(x uint16) float64 { return float64(x) }), nil
	case []uint32:
		return convert(s, func(x uint32) float64 { return float64(x) }), nil
	case []uint64:
		return convert(s, func(x uint64) float64 { return float64(x) }), nil
	case []complex64:
		return convert(s, func(x complex64) float64 { return float64(real(x)) }), nil
	case []complex128:
		return convert(s, func(x complex128) float64 { return real(x) }), nil
	}
	return nil, fmt.Errorf("cannot convert %T to []float64", v)
}

func convert[T any](in []T, fn func(T) float64) []float64 {
	out := make([]float64, len(in))
	for i, x := range in {
		out[i] = fn(x)
	}
	return out
}
