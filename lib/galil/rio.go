// Package galil talks to Galil RIO programmable I/O controllers over their
// telnet interface. The controller answers ':' after a command that
// succeeded and '?' after one that failed.
package galil

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/gotmc/telepath"
	"github.com/gotmc/telepath/driver/tcp"
)

// recordSize is the size of a RIO-47xxx QR data record, header included.
const recordSize = 56

// uploadEnd terminates a program upload (Ctrl+Z).
const uploadEnd = 0x1a

// RIO is a Galil RIO-47xxx controller.
type RIO struct {
	*telepath.Device
}

// Dial connects on the telnet port with echo turned off.
func Dial(host string, opts ...tcp.TelnetOption) (*RIO, error) {
	opts = append([]tcp.TelnetOption{
		tcp.WithConnOption(tcp.WithTerminator("\r\n")),
		tcp.WithPrompts(":", "?"),
		tcp.WithInitial("EO 0"),
	}, opts...)
	t, err := tcp.DialTelnet(host, 23, opts...)
	if err != nil {
		return nil, err
	}
	return New(t), nil
}

func New(iface telepath.Interface, opts ...telepath.DeviceOption) *RIO {
	return &RIO{telepath.New(iface, opts...)}
}

// QueryError returns the last error code without resetting it.
func (r *RIO) QueryError() (int, error) {
	resp, err := r.Ask("MG_TC")
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(resp), 64)
	if err != nil {
		return 0, telepath.Errorf(telepath.ErrDevice, r.String(), err, "bad error code %q", resp)
	}
	return int(f), nil
}

// LastError returns the last error code and its description, and resets
// the error register. Code 0 means no error.
func (r *RIO) LastError() (code int, desc string, err error) {
	resp, err := r.Ask("TC1")
	if err != nil {
		return 0, "", err
	}
	num, desc, _ := strings.Cut(strings.TrimSpace(resp), " ")
	code, err = strconv.Atoi(num)
	if err != nil {
		return 0, "", telepath.Errorf(telepath.ErrDevice, r.String(), err, "bad error reply %q", resp)
	}
	if code == 0 {
		return 0, "", nil
	}
	return code, strings.TrimSpace(desc), nil
}

// Record is a decoded QR data record. Analog values are raw integers that
// map to voltages according to the AQ/DQ settings.
type Record struct {
	Header  uint16
	Sample  uint16
	Error   uint8
	Status  uint8
	Running bool
	Waiting bool
	Trace   bool
	Echo    bool
	AO      [8]uint16
	AI      [8]uint16
	DO      [16]bool
	DI      [16]bool
	PC      uint32 // pulse counter
	ZC, ZD  int32  // user variables
}

// wireRecord is the little endian layout after the 4 byte header.
type wireRecord struct {
	Sample uint16
	Error  uint8
	Status uint8
	AO     [8]uint16
	AI     [8]uint16
	DO, DI uint16
	PC     uint32
	ZC, ZD int32
}

// Record queries the controller's data record.
func (r *RIO) Record() (*Record, error) {
	hdr, err := r.AskRaw("QR", 4)
	if err != nil {
		return nil, err
	}
	size := binary.LittleEndian.Uint16(hdr[2:])
	if size != recordSize {
		return nil, telepath.Errorf(telepath.ErrFraming, r.String(), nil, "data record of %d bytes, want %d", size, recordSize)
	}
	body, err := r.ReadRaw(int(size) - 4)
	if err != nil {
		return nil, err
	}
	return DecodeRecord(append(hdr, body...))
}

// DecodeRecord decodes a complete QR record.
func DecodeRecord(b []byte) (*Record, error) {
	if len(b) != recordSize {
		return nil, fmt.Errorf("data record of %d bytes, want %d", len(b), recordSize)
	}
	var w wireRecord
	if err := binary.Read(bytes.NewReader(b[4:]), binary.LittleEndian, &w); err != nil {
		return nil, err
	}
	rec := Record{
		Header:  binary.LittleEndian.Uint16(b),
		Sample:  w.Sample,
		Error:   w.Error,
		Status:  w.Status,
		Running: w.Status&0x80 != 0,
		Waiting: w.Status&0x04 != 0,
		Trace:   w.Status&0x02 != 0,
		Echo:    w.Status&0x01 != 0,
		AO:      w.AO,
		AI:      w.AI,
		PC:      w.PC,
		ZC:      w.ZC,
		ZD:      w.ZD,
	}
	for i := 0; i < 16; i++ {
		rec.DO[i] = w.DO>>i&1 != 0
		rec.DI[i] = w.DI>>i&1 != 0
	}
	return &rec, nil
}

// Handle is one connected ethernet handle.
type Handle struct {
	IP         string
	RemotePort int
	Protocol   string // "TCP" or "UDP"
	LocalPort  int
}

// Handles describes the controller's own address and its connected
// handles, keyed by letter.
type Handles struct {
	IP      string
	MAC     string
	Handles map[string]Handle
}

var (
	reController = regexp.MustCompile(`CONTROLLER IP ADDRESS ([\d,]+) ETHERNET ADDRESS (\w{2}-\w{2}-\w{2}-\w{2}-\w{2}-\w{2})`)
	reHandle     = regexp.MustCompile(`IH([A-Z]) ([A-Z]+) PORT (\d+) TO IP ADDRESS ([\d,]+) PORT (\d+)`)
)

// Handles queries the ethernet handles. Unconnected handles are omitted.
func (r *RIO) Handles() (*Handles, error) {
	resp, err := r.Ask("TH")
	if err != nil {
		return nil, err
	}
	return ParseHandles(resp)
}

// ParseHandles decodes a TH reply.
func ParseHandles(resp string) (*Handles, error) {
	lines := strings.Split(resp, "\r\n")
	m := reController.FindStringSubmatch(lines[0])
	if m == nil {
		return nil, fmt.Errorf("unknown response to TH: %q", lines[0])
	}
	h := Handles{
		IP:      strings.ReplaceAll(m[1], ",", "."),
		MAC:     m[2],
		Handles: make(map[string]Handle),
	}
	for _, l := range lines[1:] {
		m := reHandle.FindStringSubmatch(l)
		if m == nil {
			continue
		}
		local, _ := strconv.Atoi(m[3])
		remote, _ := strconv.Atoi(m[5])
		h.Handles[m[1]] = Handle{
			IP:         strings.ReplaceAll(m[4], ",", "."),
			RemotePort: remote,
			Protocol:   m[2],
			LocalPort:  local,
		}
	}
	return &h, nil
}

// Program uploads the controller's program. With split, the ';'
// separators of compacted programs become newlines.
func (r *RIO) Program(split bool) (string, error) {
	if err := r.Command("UL"); err != nil {
		return "", err
	}
	var data string
	for {
		chunk, err := r.Read()
		if err != nil {
			return "", err
		}
		data += chunk
		if i := strings.IndexByte(data, uploadEnd); i >= 0 {
			data = data[:i]
			break
		}
	}
	prog := strings.TrimSpace(data)
	if split {
		prog = strings.ReplaceAll(prog, ";", "\n")
	}
	return prog, nil
}
