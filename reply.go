// Copyright (c) 2024 The telepath developers. All rights reserved.
// Project site: https://github.com/gotmc/telepath
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package telepath

import (
	"strconv"
	"strings"
)

// ParseReply converts a textual reply to the most specific type that fits:
// int, then float64, then a quoted string (quotes removed), else the
// string itself. An empty reply yields nil.
func ParseReply(reply string) any {
	s := strings.TrimSpace(reply)
	if s == "" {
		return nil
	}
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if s[0] == '"' {
		// Text up to the last quote; a lone opening quote yields "".
		end := strings.LastIndexByte(s, '"')
		if end <= 0 {
			return ""
		}
		return s[1:end]
	}
	return s
}
