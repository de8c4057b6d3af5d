// Copyright (c) 2024 The telepath developers. All rights reserved.
// Project site: https://github.com/gotmc/telepath
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package telepath

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/gotmc/query"
)

var errNoReply = errors.New("no reply")

// fakeIface answers scripted replies. Read returns everything pending;
// ReadRaw returns exactly the requested size or fails.
type fakeIface struct {
	segmented bool
	data      []byte
	replies   map[string]string
	writes    []string
	closed    bool
}

func (f *fakeIface) Write(msg string) (int, error) {
	f.writes = append(f.writes, msg)
	if r, ok := f.replies[msg]; ok {
		f.data = append(f.data, r...)
	}
	return len(msg), nil
}

func (f *fakeIface) Read() ([]byte, error) {
	if len(f.data) == 0 {
		return nil, errNoReply
	}
	b := f.data
	f.data = nil
	return b, nil
}

func (f *fakeIface) ReadRaw(size int) ([]byte, error) {
	if len(f.data) < size {
		return nil, errNoReply
	}
	b := f.data[:size]
	f.data = f.data[size:]
	return b, nil
}

func (f *fakeIface) Segmented() bool { return f.segmented }
func (f *fakeIface) Close() error    { f.closed = true; return nil }

type flushingIface struct{ *fakeIface }

func (f flushingIface) Flush(time.Duration) (int, error) {
	n := len(f.data)
	f.data = nil
	return n, nil
}

type lockingIface struct {
	*fakeIface
	locks *[]bool
}

func (l lockingIface) Lock(locked bool) error {
	*l.locks = append(*l.locks, locked)
	return nil
}

type recordLocker struct{ locks []bool }

func (r *recordLocker) Lock(locked bool) error {
	r.locks = append(r.locks, locked)
	return nil
}

// chunkedIface delivers pending data in fixed bursts and reports whether
// more is waiting.
type chunkedIface struct {
	fakeIface
	chunks [][]byte
}

func (c *chunkedIface) Read() ([]byte, error) {
	if len(c.chunks) == 0 {
		return nil, errNoReply
	}
	b := c.chunks[0]
	c.chunks = c.chunks[1:]
	return b, nil
}

func (c *chunkedIface) ReadRaw(size int) ([]byte, error) {
	if len(c.chunks) == 0 || len(c.chunks[0]) < size {
		return nil, errNoReply
	}
	b := c.chunks[0][:size]
	c.chunks[0] = c.chunks[0][size:]
	if len(c.chunks[0]) == 0 {
		c.chunks = c.chunks[1:]
	}
	return b, nil
}

func (c *chunkedIface) HasReply(time.Duration) bool { return len(c.chunks) > 0 }

func TestIdentify(t *testing.T) {
	id := "Agilent Technologies,86140B,MY123,B.04.00"
	testCases := []struct {
		name    string
		expect  string
		opts    []IdentifyOption
		wantErr bool
	}{
		{"no expectation", "", nil, false},
		{"prefix", "Agilent Technologies,86140B", nil, false},
		{"case differs", "AGILENT", nil, true},
		{"case folded", "AGILENT", []IdentifyOption{CaseInsensitive()}, false},
		{"other maker", "YOKOGAWA", []IdentifyOption{CaseInsensitive()}, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			iface := &fakeIface{replies: map[string]string{"*IDN?": id}}
			got, err := New(iface).Identify(tc.expect, tc.opts...)
			if got != id {
				t.Errorf("Identify() = %q, want %q", got, id)
			}
			if tc.wantErr != (err != nil) {
				t.Fatalf("Identify() error = %v, wantErr %t", err, tc.wantErr)
			}
			if err != nil && !errors.Is(err, ErrIdentity) {
				t.Errorf("error %v is not an identity error", err)
			}
		})
	}
}

func TestAskWrapsQuery(t *testing.T) {
	dev := New(&fakeIface{}, WithName("osa@10.0.0.2"))
	_, err := dev.Ask("SENS:WAV:STAR?")
	if !errors.Is(err, ErrQuery) {
		t.Fatalf("Ask() error = %v, want ErrQuery", err)
	}
	if !errors.Is(err, errNoReply) {
		t.Error("cause not preserved")
	}
	var te *Error
	if !errors.As(err, &te) || te.Query != "SENS:WAV:STAR?" || te.Device != "osa@10.0.0.2" {
		t.Errorf("error = %#v", te)
	}
	if !strings.Contains(err.Error(), `"SENS:WAV:STAR?"`) {
		t.Errorf("message %q does not name the query", err)
	}
}

func TestNegativeReadSize(t *testing.T) {
	iface := &fakeIface{replies: map[string]string{"SPEB?": "\x01\x00"}}
	dev := New(iface)
	if _, err := dev.AskRaw("SPEB?", -1); !errors.Is(err, ErrQuery) {
		t.Errorf("AskRaw(-1) error = %v, want ErrQuery", err)
	}
	if len(iface.writes) != 0 {
		t.Errorf("writes = %q", iface.writes)
	}
	if _, err := dev.ReadRaw(-2); !errors.Is(err, ErrQuery) {
		t.Errorf("ReadRaw(-2) error = %v, want ErrQuery", err)
	}
}

func TestQuery(t *testing.T) {
	iface := &fakeIface{replies: map[string]string{
		"SWET?":          "+5.00000000E-002\n",
		"POIN?":          "201",
		"TITL?":          `"my trace"`,
		"TRAC:POIN? TRA": "1001",
	}}
	dev := New(iface)
	for cmd, want := range map[string]any{"SWET": 0.05, "POIN?": 201, "TITL": "my trace", "TRAC:POIN? TRA": 1001} {
		got, err := dev.Query(cmd)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("Query(%q) = %#v, want %#v", cmd, got, want)
		}
	}
}

func TestQueryAllStopsOnFailure(t *testing.T) {
	iface := &fakeIface{replies: map[string]string{"IFBW?": "3000", "POWE?": "-10"}}
	got, err := New(iface).QueryAll([]string{"IFBW?", "SPAN?", "POWE?"})
	if !errors.Is(err, ErrQuery) {
		t.Fatalf("QueryAll() error = %v", err)
	}
	if !reflect.DeepEqual(got, map[string]any{"IFBW?": 3000}) {
		t.Errorf("QueryAll() = %v", got)
	}
	if len(iface.writes) != 2 {
		t.Errorf("writes = %q", iface.writes)
	}
}

func TestAskBlockAs(t *testing.T) {
	payload := []byte{0x3f, 0x80, 0x00, 0x00, 0xc0, 0x00, 0x00, 0x00}
	for _, segmented := range []bool{true, false} {
		iface := &fakeIface{
			segmented: segmented,
			replies:   map[string]string{"TRAC:DATA:Y? TRA": string(EncodeBlock(payload)) + "\n"},
		}
		v, err := New(iface).AskBlockAs("TRAC:DATA:Y? TRA", MustParseFormat(">f4"))
		if err != nil {
			t.Fatalf("segmented=%t: %v", segmented, err)
		}
		if !reflect.DeepEqual(v, []float32{1, -2}) {
			t.Errorf("segmented=%t: AskBlockAs() = %v", segmented, v)
		}
	}
}

func TestAskBlockFramingError(t *testing.T) {
	iface := &fakeIface{replies: map[string]string{"CURV?": "1,2,3\n"}}
	_, err := New(iface).AskBlock("CURV?")
	if !errors.Is(err, ErrQuery) || !errors.Is(err, ErrFraming) {
		t.Fatalf("AskBlock() error = %v, want query and framing error", err)
	}
}

func TestReadBlockAsRagged(t *testing.T) {
	iface := &fakeIface{data: EncodeBlock([]byte{1, 2, 3})}
	_, err := New(iface).ReadBlockAs(MustParseFormat("<i2"))
	if !errors.Is(err, ErrFraming) {
		t.Fatalf("ReadBlockAs() error = %v", err)
	}
}

func TestReadIndefiniteBlock(t *testing.T) {
	c := &chunkedIface{chunks: [][]byte{[]byte("#0ab"), []byte("cd"), []byte("ef\n")}}
	c.segmented = true
	got, err := New(c).ReadIndefiniteBlock(10 * time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "abcdef" {
		t.Errorf("ReadIndefiniteBlock() = %q", got)
	}

	whole := &fakeIface{data: []byte("#0xyz\n")}
	got, err = New(whole).ReadIndefiniteBlock(0)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "xyz" {
		t.Errorf("ReadIndefiniteBlock() = %q", got)
	}

	_, err = New(&fakeIface{segmented: true, data: []byte("#0abc")}).ReadIndefiniteBlock(0)
	if !errors.Is(err, ErrDevice) {
		t.Errorf("stream without ReplyWaiter: error = %v", err)
	}
}

func TestCommand(t *testing.T) {
	iface := &fakeIface{}
	dev := New(iface)
	dev.Command("SENS:BWID %g", 0.06)
	dev.Command("INIT:IMM")
	literal := "100%" // passed unformatted; a variable keeps vet from treating it as a format
	dev.Command(literal)
	want := []string{"SENS:BWID 0.06", "INIT:IMM", "100%"}
	if !reflect.DeepEqual(iface.writes, want) {
		t.Errorf("writes = %q, want %q", iface.writes, want)
	}
}

func TestFlush(t *testing.T) {
	n, err := New(&fakeIface{data: []byte("stale")}).Flush()
	if n != -1 || err != nil {
		t.Errorf("Flush() without capability = %d, %v", n, err)
	}
	n, err = New(flushingIface{&fakeIface{data: []byte("stale")}}).Flush()
	if n != 5 || err != nil {
		t.Errorf("Flush() = %d, %v", n, err)
	}
}

func TestCloseUnlocks(t *testing.T) {
	var transportLocks []bool
	iface := lockingIface{&fakeIface{}, &transportLocks}
	if err := New(iface).Close(); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(transportLocks, []bool{false}) || !iface.closed {
		t.Errorf("transport locks = %v, closed = %t", transportLocks, iface.closed)
	}

	transportLocks = nil
	iface = lockingIface{&fakeIface{}, &transportLocks}
	dl := &recordLocker{}
	if err := New(iface, WithLocker(dl)).Close(); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(dl.locks, []bool{false}) || len(transportLocks) != 0 {
		t.Errorf("device locks = %v, transport locks = %v", dl.locks, transportLocks)
	}
	if !iface.closed {
		t.Error("transport not closed")
	}
}

func TestQuerier(t *testing.T) {
	iface := &fakeIface{replies: map[string]string{"SPAN?": " 1.25E+9\r\n"}}
	span, err := query.Float64(New(iface).Querier(), "SPAN?")
	if err != nil {
		t.Fatal(err)
	}
	if span != 1.25e9 {
		t.Errorf("span = %g", span)
	}
}

func TestDeviceName(t *testing.T) {
	if got := New(&fakeIface{}).String(); got != "*telepath.fakeIface" {
		t.Errorf("String() = %q", got)
	}
}
