// Copyright (c) 2024 The telepath developers. All rights reserved.
// Project site: https://github.com/gotmc/telepath
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package telepath

import (
	"fmt"
	"strconv"
)

// Block data is of the form
//
//	#    the ASCII character '#'
//	N    number of digits in the length field (single ASCII digit)
//	L..L payload length in bytes (N ASCII digits)
//	D..D payload
//
// Whole-message reads may carry up to maxBlockTrailer bytes of terminator
// after the payload.
const maxBlockTrailer = 2

// EncodeBlock frames payload as a definite length block.
func EncodeBlock(payload []byte) []byte {
	n := strconv.Itoa(len(payload))
	buf := make([]byte, 0, 2+len(n)+len(payload))
	buf = append(buf, '#', byte('0'+len(n)))
	buf = append(buf, n...)
	return append(buf, payload...)
}

// parseBlockHead validates the two byte "#N" prefix and returns N.
func parseBlockHead(head []byte) (int, error) {
	if len(head) < 2 {
		return 0, &Error{Kind: ErrFraming, Msg: fmt.Sprintf("short block header %q", head)}
	}
	if head[0] != '#' {
		return 0, &Error{Kind: ErrFraming, Msg: fmt.Sprintf("not a binary block: leading byte %q", head[0])}
	}
	if head[1] < '0' || head[1] > '9' {
		return 0, &Error{Kind: ErrFraming, Msg: fmt.Sprintf("invalid block digit count %q", head[1])}
	}
	return int(head[1] - '0'), nil
}

// parseBlockLength decodes the ASCII length field.
func parseBlockLength(field []byte) (int, error) {
	if len(field) == 0 {
		return 0, &Error{Kind: ErrFraming, Msg: "indefinite length block (#0) not supported here"}
	}
	for _, c := range field {
		if c < '0' || c > '9' {
			return 0, &Error{Kind: ErrFraming, Msg: fmt.Sprintf("invalid block length field %q", field)}
		}
	}
	n, err := strconv.Atoi(string(field))
	if err != nil {
		return 0, &Error{Kind: ErrFraming, Msg: fmt.Sprintf("invalid block length field %q", field), Err: err}
	}
	return n, nil
}

// ParseBlock decodes a complete block held in buf, as returned by a
// whole-message read. At most two trailing bytes (a terminator) may follow
// the payload.
func ParseBlock(buf []byte) ([]byte, error) {
	ndigits, err := parseBlockHead(buf)
	if err != nil {
		return nil, err
	}
	if len(buf) < 2+ndigits {
		return nil, &Error{Kind: ErrFraming, Msg: fmt.Sprintf("block header truncated: want %d length digits, have %d", ndigits, len(buf)-2)}
	}
	size, err := parseBlockLength(buf[2 : 2+ndigits])
	if err != nil {
		return nil, err
	}
	payload := buf[2+ndigits:]
	extra := len(payload) - size
	if extra < 0 || extra > maxBlockTrailer {
		return nil, &Error{Kind: ErrFraming, Msg: fmt.Sprintf("block length mismatch: declared %d bytes, received %d", size, len(payload))}
	}
	return payload[:size], nil
}

// readBlock decodes a block using three exact reads.
func readBlock(iface Interface) ([]byte, error) {
	head, err := iface.ReadRaw(2)
	if err != nil {
		return nil, err
	}
	ndigits, err := parseBlockHead(head)
	if err != nil {
		return nil, err
	}
	if ndigits == 0 {
		return nil, &Error{Kind: ErrFraming, Msg: "indefinite length block (#0) not supported here"}
	}
	field, err := iface.ReadRaw(ndigits)
	if err != nil {
		return nil, &Error{Kind: ErrFraming, Msg: "block truncated in length field", Err: err}
	}
	size, err := parseBlockLength(field)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return []byte{}, nil
	}
	payload, err := iface.ReadRaw(size)
	if err != nil {
		return nil, &Error{Kind: ErrFraming, Msg: fmt.Sprintf("block truncated: declared %d bytes", size), Err: err}
	}
	if len(payload) != size {
		return nil, &Error{Kind: ErrFraming, Msg: fmt.Sprintf("block length mismatch: declared %d bytes, received %d", size, len(payload))}
	}
	return payload, nil
}
