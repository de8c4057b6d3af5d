// Copyright (c) 2020–2024 The telepath developers. All rights reserved.
// Project site: https://github.com/gotmc/telepath
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package prologix

import (
	"time"

	"github.com/gotmc/telepath/driver/vcp"
)

// OpenVCP opens the serial port of a Prologix GPIB-USB controller and
// configures it for the instrument at addr. An empty port name searches
// for the controller.
func OpenVCP(port string, addr int, timeout time.Duration, opts ...Option) (*Bridge, error) {
	if port == "" {
		found, err := vcp.Find()
		if err != nil {
			return nil, err
		}
		port = found
	}
	v, err := vcp.Open(port, vcp.WithTimeout(timeout))
	if err != nil {
		return nil, err
	}
	opts = append([]Option{WithReadTimeout(timeout)}, opts...)
	b, err := New(v, addr, opts...)
	if err != nil {
		v.Close()
		return nil, err
	}
	return b, nil
}
