// Copyright (c) 2024 The telepath developers. All rights reserved.
// Project site: https://github.com/gotmc/telepath
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package telepath

import "time"

// Interface is the capability set every transport provides. Drivers in
// driver/tcp, driver/prologix, driver/vcp and driver/visa implement it.
type Interface interface {
	// Write sends msg, appending the transport's terminator if msg does not
	// already end with it, and returns the number of bytes sent.
	Write(msg string) (int, error)
	// Read returns one text reply. Stream transports return whatever
	// arrived in the current burst; whole-message transports return the
	// complete message.
	Read() ([]byte, error)
	// ReadRaw returns exactly size bytes.
	ReadRaw(size int) ([]byte, error)
	// Segmented reports whether one logical response may be consumed with
	// several partial reads. Whole-message backends return false.
	Segmented() bool
	Close() error
}

// Flusher is implemented by transports that can discard pending input.
// A count of -1 means the transport found nothing able to flush.
type Flusher interface {
	Flush(timeout time.Duration) (int, error)
}

// Locker is implemented by transports or devices that can lock out the
// instrument's front panel.
type Locker interface {
	Lock(locked bool) error
}

// ReplyWaiter is implemented by stream transports that can report whether
// input is waiting without consuming it.
type ReplyWaiter interface {
	HasReply(timeout time.Duration) bool
}
