package tek

import (
	"fmt"
	"strings"

	"github.com/gotmc/telepath"
	"github.com/gotmc/telepath/lib/trace"
)

// Unpack decodes a Tektronix "%" binary packet as sent by GPIB
// instruments of the 7000 series:
//
//	'%'        header
//	hi, lo     byte count of the data plus checksum
//	hi, lo...  big endian 16-bit values
//	checksum   two's complement of the modulo 256 sum of count and data
//	';'        trailer
func Unpack(pack []byte) ([]uint16, error) {
	if len(pack) < 5 {
		return nil, fmt.Errorf("packet of %d bytes too short", len(pack))
	}
	if pack[0] != '%' {
		return nil, fmt.Errorf("invalid header: want %% got %q", pack[0])
	}
	if end := pack[len(pack)-1]; end != ';' {
		return nil, fmt.Errorf("invalid trailer: want ; got %q", end)
	}
	count := int(pack[1])<<8 | int(pack[2])
	if len(pack) != count+4 {
		return nil, fmt.Errorf("packet length %d does not match count %d", len(pack), count)
	}
	sumEnd := len(pack) - 2
	sum := int(pack[sumEnd])
	for _, c := range pack[1:sumEnd] {
		sum += int(c)
	}
	if sum&0xff != 0 {
		return nil, fmt.Errorf("bad checksum %#02x", sum&0xff)
	}
	data := pack[3:sumEnd]
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("odd data length %d", len(data))
	}
	out := make([]uint16, len(data)/2)
	for i := range out {
		out[i] = uint16(data[2*i])<<8 | uint16(data[2*i+1])
	}
	return out, nil
}

// Pack is the inverse of Unpack.
func Pack(vals []uint16) []byte {
	count := 2*len(vals) + 1
	pack := make([]byte, 0, count+4)
	pack = append(pack, '%', byte(count>>8), byte(count))
	for _, v := range vals {
		pack = append(pack, byte(v>>8), byte(v))
	}
	sum := 0
	for _, c := range pack[1:] {
		sum += int(c)
	}
	return append(pack, byte(-sum), ';')
}

// Digitizer is a 7912AD programmable digitizer.
type Digitizer struct {
	*telepath.Device
}

// NewDigitizer wraps iface, normally a Prologix bridge.
func NewDigitizer(iface telepath.Interface, opts ...telepath.DeviceOption) *Digitizer {
	return &Digitizer{telepath.New(iface, opts...)}
}

// ReadPacked asks q and unpacks the "%" packet reply.
func (d *Digitizer) ReadPacked(q string) ([]uint16, error) {
	resp, err := d.Ask(q)
	if err != nil {
		return nil, err
	}
	vals, err := Unpack([]byte(strings.TrimSpace(resp)))
	if err != nil {
		return nil, telepath.Errorf(telepath.ErrFraming, d.String(), err, "reply to %q", q)
	}
	return vals, nil
}

// Trace digitizes the current signal and reduces each column of the
// pointer/vertical arrays to the centre of its traced points.
func (d *Digitizer) Trace() (*trace.Trace, error) {
	ptr, err := d.ReadPacked("DIG DAT;READ PTR")
	if err != nil {
		return nil, err
	}
	ver, err := d.ReadPacked("READ VER")
	if err != nil {
		return nil, err
	}
	x, y, err := Centers(ptr, ver)
	if err != nil {
		return nil, err
	}
	t, err := trace.New("7912AD", x, y)
	if err != nil {
		return nil, err
	}
	t.XLabel, t.YLabel = "column", "row"
	return t, nil
}

// Centers reduces the pointer and vertical arrays to one point per
// column. ptr[i] is the 1-based index in ver of column i's first point;
// columns without points are skipped.
func Centers(ptr, ver []uint16) (x, y []float64, err error) {
	for i, p := range ptr {
		first := int(p) - 1
		last := len(ver)
		if i+1 < len(ptr) {
			last = int(ptr[i+1]) - 1
		}
		if first < 0 || first > last || last > len(ver) {
			return nil, nil, fmt.Errorf("column %d: pointer %d out of range", i+1, p)
		}
		pts := ver[first:last]
		if len(pts) == 0 {
			continue
		}
		lo, hi := pts[0], pts[0]
		for _, v := range pts[1:] {
			lo, hi = min(lo, v), max(hi, v)
		}
		x = append(x, float64(i+1))
		y = append(y, (float64(lo)+float64(hi))/2)
	}
	return x, y, nil
}
