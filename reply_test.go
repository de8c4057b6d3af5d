// Copyright (c) 2024 The telepath developers. All rights reserved.
// Project site: https://github.com/gotmc/telepath
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package telepath

import (
	"fmt"
	"testing"

	c "github.com/smartystreets/goconvey/convey"
)

func TestParseReply(t *testing.T) {
	testCases := []struct {
		given string
		want  any
	}{
		{"5", 5},
		{"-12\n", -12},
		{"5.2", 5.2},
		{"+1.000000E+09", 1e9},
		{`"abc"`, "abc"},
		{`"say "hi""`, `say "hi"`},
		{`"`, ""},
		{"DBM", "DBM"},
		{"", nil},
		{" \r\n", nil},
	}
	c.Convey("Given instrument replies", t, func() {
		for _, tc := range testCases {
			c.Convey(fmt.Sprintf("When %q is parsed", tc.given), func() {
				got := ParseReply(tc.given)
				c.Convey(fmt.Sprintf("Then the value is %#v", tc.want), func() {
					c.So(got, c.ShouldEqual, tc.want)
				})
			})
		}
	})
}
