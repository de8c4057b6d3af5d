// Copyright (c) 2024 The telepath developers. All rights reserved.
// Project site: https://github.com/gotmc/telepath
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gotmc/telepath"
	"github.com/rs/zerolog"
)

var errNoReply = errors.New("no reply")

// scripted answers known commands with whole-message replies.
type scripted struct {
	replies map[string]string
	pending []byte
	writes  []string
}

func (s *scripted) Write(msg string) (int, error) {
	s.writes = append(s.writes, msg)
	s.pending = append(s.pending, s.replies[msg]...)
	return len(msg), nil
}

func (s *scripted) Read() ([]byte, error) {
	if len(s.pending) == 0 {
		return nil, errNoReply
	}
	b := s.pending
	s.pending = nil
	return b, nil
}

func (s *scripted) ReadRaw(size int) ([]byte, error) {
	if len(s.pending) < size {
		return nil, errNoReply
	}
	b := s.pending[:size]
	s.pending = s.pending[size:]
	return b, nil
}

func (s *scripted) Segmented() bool { return false }
func (s *scripted) Close() error    { return nil }

func runScript(t *testing.T, replies map[string]string, args ...string) (string, *scripted, error) {
	t.Helper()
	s := &scripted{replies: replies}
	var out bytes.Buffer
	err := run(telepath.New(s), zerolog.Nop(), args[0], args[1:], &out)
	return out.String(), s, err
}

func TestIdn(t *testing.T) {
	replies := map[string]string{"*IDN?": "HEWLETT-PACKARD,4395A,0,REV1.12"}
	out, _, err := runScript(t, replies, "idn", "hewlett-packard")
	if err != nil {
		t.Fatal(err)
	}
	if out != "HEWLETT-PACKARD,4395A,0,REV1.12\n" {
		t.Errorf("output = %q", out)
	}
	if _, _, err := runScript(t, replies, "idn", "ANDO"); !errors.Is(err, telepath.ErrIdentity) {
		t.Errorf("idn ANDO error = %v", err)
	}
}

func TestAskAndQuery(t *testing.T) {
	replies := map[string]string{"BW?": "3E+03", "POIN?": "801"}
	out, _, err := runScript(t, replies, "ask", "BW?", "POIN?")
	if err != nil {
		t.Fatal(err)
	}
	if out != "3E+03\n801\n" {
		t.Errorf("ask output = %q", out)
	}
	out, s, err := runScript(t, replies, "query", "BW", "POIN")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "BW = 3000") || !strings.Contains(out, "POIN = 801") {
		t.Errorf("query output = %q", out)
	}
	if strings.Join(s.writes, ",") != "BW?,POIN?" {
		t.Errorf("writes = %q", s.writes)
	}
}

func TestBlockDecode(t *testing.T) {
	block := telepath.EncodeBlock([]byte{0x3f, 0x80, 0x00, 0x00, 0x40, 0x00, 0x00, 0x00})
	replies := map[string]string{"TRAC:DATA:Y? TRA": string(block) + "\n"}
	out, _, err := runScript(t, replies, "block", "-format", ">f4", "TRAC:DATA:Y? TRA")
	if err != nil {
		t.Fatal(err)
	}
	if out != "1\n2\n" {
		t.Errorf("output = %q", out)
	}

	file := filepath.Join(t.TempDir(), "payload.bin")
	if _, _, err := runScript(t, replies, "block", "-o", file, "TRAC:DATA:Y? TRA"); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(file)
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != 8 || b[0] != 0x3f {
		t.Errorf("payload = % x", b)
	}
}

func TestRawAndWrite(t *testing.T) {
	out, s, err := runScript(t, map[string]string{"SPEB?0": "\x01\x00\x02\x00"}, "raw", "SPEB?0", "4")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "00000000  01 00 02 00") {
		t.Errorf("raw output = %q", out)
	}
	if _, s, err = runScript(t, nil, "write", "INIT", "ABOR"); err != nil {
		t.Fatal(err)
	}
	if strings.Join(s.writes, ",") != "INIT,ABOR" {
		t.Errorf("writes = %q", s.writes)
	}
}

func TestUnknownCommand(t *testing.T) {
	if _, _, err := runScript(t, nil, "frobnicate"); err == nil {
		t.Error("unknown command accepted")
	}
}
