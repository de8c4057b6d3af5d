// Copyright (c) 2020–2024 The telepath developers. All rights reserved.
// Project site: https://github.com/gotmc/telepath
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package prologix

import (
	"bufio"
	"errors"
	"net"
	"reflect"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gotmc/telepath"
)

var errNoData = errors.New("read timed out")

// fakeStream records writes (without terminator) and queues scripted
// replies for known commands.
type fakeStream struct {
	writes  []string
	replies map[string]string
	queue   []byte
	closed  bool
}

func newFakeStream(replies map[string]string) *fakeStream {
	r := map[string]string{
		"++ver":   "Prologix GPIB-ETHERNET Controller version 01.06.06.00",
		"++spoll": "0",
	}
	for k, v := range replies {
		r[k] = v
	}
	return &fakeStream{replies: r}
}

func (f *fakeStream) Write(msg string) (int, error) {
	f.writes = append(f.writes, msg)
	if r, ok := f.replies[msg]; ok {
		f.queue = append(f.queue, r...)
	}
	return len(msg) + 1, nil
}

func (f *fakeStream) Read() ([]byte, error) {
	if len(f.queue) == 0 {
		return nil, errNoData
	}
	b := f.queue
	f.queue = nil
	return b, nil
}

func (f *fakeStream) ReadRaw(size int) ([]byte, error) {
	if len(f.queue) < size {
		return nil, errNoData
	}
	b := f.queue[:size]
	f.queue = f.queue[size:]
	return b, nil
}

func (f *fakeStream) Segmented() bool { return true }
func (f *fakeStream) Close() error    { f.closed = true; return nil }
func (f *fakeStream) String() string  { return "fake:1234" }

func TestNewConfiguresInOrder(t *testing.T) {
	s := newFakeStream(nil)
	b, err := New(s, 17)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"++ver",
		"++mode 1",
		"++read_tmo_ms 1000",
		"++addr 17",
		"++eoi 1",
		"++eos 3",
		"++auto 1",
		"++spoll",
	}
	if !reflect.DeepEqual(s.writes, want) {
		t.Errorf("handshake = %q\nwant %q", s.writes, want)
	}
	if b.String() != "fake:1234/gpib17" {
		t.Errorf("String() = %q", b.String())
	}
}

func TestNewOptions(t *testing.T) {
	s := newFakeStream(nil)
	_, err := New(s, 5,
		WithAuto(false),
		WithEOI(false),
		WithEOS("\r\n"),
		WithReadTimeout(2500*time.Millisecond),
		WithSecondaryAddress(101),
		WithoutPoll(),
	)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"++ver",
		"++mode 1",
		"++read_tmo_ms 2500",
		"++addr 5 101",
		"++eoi 0",
		"++eos 0",
		"++auto 0",
	}
	if !reflect.DeepEqual(s.writes, want) {
		t.Errorf("handshake = %q\nwant %q", s.writes, want)
	}
}

func TestNewRejectsNonPrologix(t *testing.T) {
	s := newFakeStream(map[string]string{"++ver": "AR488 GPIB controller"})
	_, err := New(s, 1)
	if !errors.Is(err, telepath.ErrConnection) {
		t.Fatalf("New error = %v, want ErrConnection", err)
	}
}

func TestFailedPollIsConnectionError(t *testing.T) {
	s := newFakeStream(nil)
	delete(s.replies, "++spoll")
	_, err := New(s, 9)
	if !errors.Is(err, telepath.ErrConnection) {
		t.Fatalf("New error = %v, want ErrConnection", err)
	}
	if errors.Is(err, telepath.ErrQuery) {
		t.Error("poll failure must not be a query error")
	}
	if !strings.Contains(err.Error(), "did not respond") {
		t.Errorf("error %q does not mention the poll", err)
	}
	// Nothing after the poll.
	if last := s.writes[len(s.writes)-1]; last != "++spoll" {
		t.Errorf("last command = %q", last)
	}
}

func TestInvalidAddresses(t *testing.T) {
	if _, err := New(newFakeStream(nil), 31); !errors.Is(err, telepath.ErrConnection) {
		t.Errorf("address 31: error = %v", err)
	}
	if _, err := New(newFakeStream(nil), 3, WithSecondaryAddress(50)); !errors.Is(err, telepath.ErrConnection) {
		t.Errorf("secondary address 50: error = %v", err)
	}
	if _, err := New(newFakeStream(nil), 3, WithEOS("\t")); !errors.Is(err, telepath.ErrConnection) {
		t.Errorf("EOS tab: error = %v", err)
	}
}

func TestReadModes(t *testing.T) {
	s := newFakeStream(map[string]string{"*IDN?": "HEWLETT-PACKARD,4395A,0,REV1.12"})
	b, err := New(s, 17, WithAuto(false))
	if err != nil {
		t.Fatal(err)
	}
	s.writes = nil
	b.Write("*IDN?")
	reply, err := b.Read()
	if err != nil {
		t.Fatal(err)
	}
	if string(reply) != "HEWLETT-PACKARD,4395A,0,REV1.12" {
		t.Errorf("Read() = %q", reply)
	}
	want := []string{"*IDN?", "++read eoi"}
	if !reflect.DeepEqual(s.writes, want) {
		t.Errorf("writes = %q, want %q", s.writes, want)
	}

	s.writes = nil
	if _, err := b.Poll(); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(s.writes, []string{"++spoll"}) {
		t.Errorf("poll writes = %q", s.writes)
	}
}

func TestReadEOIOncePerWrite(t *testing.T) {
	s := newFakeStream(map[string]string{"HCOP:DATA?": "#0"})
	b, err := New(s, 23, WithAuto(false))
	if err != nil {
		t.Fatal(err)
	}
	s.writes = nil
	b.Write("HCOP:DATA?")
	b.Read()
	s.queue = []byte("rest of reply")
	b.Read()
	want := []string{"HCOP:DATA?", "++read eoi"}
	if !reflect.DeepEqual(s.writes, want) {
		t.Errorf("writes = %q, want %q", s.writes, want)
	}
}

func TestFlushWithoutStreamSupport(t *testing.T) {
	b, err := New(newFakeStream(nil), 4)
	if err != nil {
		t.Fatal(err)
	}
	n, err := b.Flush(0)
	if n != -1 || err != nil {
		t.Errorf("Flush() = %d, %v; want -1, nil", n, err)
	}
	if n, _ := telepath.New(b).Flush(); n != -1 {
		t.Errorf("Device.Flush() = %d, want -1", n)
	}
}

func TestDialPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	got := make(chan []string, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		var lines []string
		sc := bufio.NewScanner(c)
		for sc.Scan() {
			line := sc.Text()
			lines = append(lines, line)
			switch line {
			case "++ver":
				c.Write([]byte("Prologix GPIB-ETHERNET Controller version 01.06.06.00\n"))
			case "++spoll":
				c.Write([]byte("0\n"))
				got <- lines
				return
			}
		}
		got <- lines
	}()
	_, port, _ := net.SplitHostPort(ln.Addr().String())
	p, _ := strconv.Atoi(port)
	b, err := Dial("127.0.0.1", 6, time.Second, WithPort(p))
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	lines := <-got
	if len(lines) == 0 || lines[0] != "++ver" || lines[len(lines)-1] != "++spoll" {
		t.Errorf("handshake = %q", lines)
	}
	if !strings.HasSuffix(b.String(), ":"+port+"/gpib6") {
		t.Errorf("String() = %q", b.String())
	}
}

func TestAutoModeReadsDirectly(t *testing.T) {
	s := newFakeStream(map[string]string{"BW?": "3E+03"})
	b, err := New(s, 17)
	if err != nil {
		t.Fatal(err)
	}
	s.writes = nil
	b.Write("BW?")
	if _, err := b.Read(); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(s.writes, []string{"BW?"}) {
		t.Errorf("writes = %q", s.writes)
	}
}

func TestRawReadOutsideAutoMode(t *testing.T) {
	s := newFakeStream(map[string]string{"OUTPDTRC?": "#14abcd"})
	b, err := New(s, 17, WithAuto(false))
	if err != nil {
		t.Fatal(err)
	}
	s.writes = nil
	b.Write("OUTPDTRC?")
	b.ReadRaw(2)
	b.ReadRaw(1)
	want := []string{"OUTPDTRC?", "++read eoi"}
	if !reflect.DeepEqual(s.writes, want) {
		t.Errorf("writes = %q, want %q", s.writes, want)
	}
}

func TestControllerCommands(t *testing.T) {
	s := newFakeStream(map[string]string{
		"++srq":         "1",
		"++read_tmo_ms": "500",
		"++auto":        "0",
	})
	b, err := New(s, 2)
	if err != nil {
		t.Fatal(err)
	}
	s.writes = nil
	b.Clear()
	b.Lock(true)
	b.Lock(false)
	b.Local()
	b.Reset()
	want := []string{"++clr", "++llo", "++loc", "++loc", "++rst"}
	if !reflect.DeepEqual(s.writes, want) {
		t.Errorf("writes = %q, want %q", s.writes, want)
	}
	srq, err := b.ServiceRequest()
	if err != nil || !srq {
		t.Errorf("ServiceRequest() = %t, %v", srq, err)
	}
	tmo, err := b.ReadTimeout()
	if err != nil || tmo != 500*time.Millisecond {
		t.Errorf("ReadTimeout() = %s, %v", tmo, err)
	}
	auto, err := b.ReadAfterWrite()
	if err != nil || auto {
		t.Errorf("ReadAfterWrite() = %t, %v", auto, err)
	}
}

func TestDeviceCloseUnlocks(t *testing.T) {
	s := newFakeStream(nil)
	b, err := New(s, 2)
	if err != nil {
		t.Fatal(err)
	}
	s.writes = nil
	dev := telepath.New(b)
	if err := dev.Close(); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(s.writes, []string{"++loc"}) {
		t.Errorf("writes = %q", s.writes)
	}
	if !s.closed {
		t.Error("stream not closed")
	}
}

func TestTermFromEOS(t *testing.T) {
	cases := map[string]GpibTerm{
		"\r\n": AppendCRLF,
		"\r":   AppendCR,
		"\n":   AppendLF,
		"":     AppendNothing,
	}
	for eos, want := range cases {
		got, err := TermFromEOS(eos)
		if err != nil || got != want {
			t.Errorf("TermFromEOS(%q) = %d, %v; want %d", eos, got, err, want)
		}
	}
}
