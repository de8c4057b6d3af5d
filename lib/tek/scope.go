// Package tek talks to Tektronix instruments: TDS/DPO/MSO oscilloscopes
// and the 7912AD transient digitizer.
package tek

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gotmc/telepath"
	"github.com/gotmc/telepath/driver/tcp"
	"github.com/gotmc/telepath/lib/trace"
)

// TelnetPort is the scope's prompted socket server port.
const TelnetPort = 4000

// Scope is a TDS, DPO or MSO oscilloscope. Closing it unlocks the front
// panel.
type Scope struct {
	*telepath.Device
}

// Dial connects to the scope's socket server.
func Dial(host string, opts ...tcp.TelnetOption) (*Scope, error) {
	opts = append([]tcp.TelnetOption{tcp.WithPrompts("> ")}, opts...)
	t, err := tcp.DialTelnet(host, TelnetPort, opts...)
	if err != nil {
		return nil, err
	}
	s, err := New(t)
	if err != nil {
		t.Close()
		return nil, err
	}
	return s, nil
}

// New wraps iface and turns off verbose replies and headers.
func New(iface telepath.Interface, opts ...telepath.DeviceOption) (*Scope, error) {
	s := &Scope{}
	opts = append(opts, telepath.WithLocker(s))
	s.Device = telepath.New(iface, opts...)
	if err := s.Command("VERB 0; HEAD 0"); err != nil {
		return nil, err
	}
	return s, nil
}

// Lock locks or unlocks the front panel controls.
func (s *Scope) Lock(locked bool) error {
	if locked {
		return s.Command("LOCK ALL")
	}
	return s.Command("LOCK NONE")
}

// withHeaders runs fn with response headers on, restoring the previous
// setting afterwards.
func (s *Scope) withHeaders(fn func() error) error {
	prev, err := s.Ask("HEAD?")
	if err != nil {
		return err
	}
	prev = strings.TrimSpace(prev)
	if err := s.Command("HEAD 1"); err != nil {
		return err
	}
	ferr := fn()
	if err := s.Command("HEAD " + prev); err != nil && ferr == nil {
		ferr = err
	}
	return ferr
}

// Channels reports which sources the scope has and whether each is
// displayed, e.g. {"CH1": true, "CH2": false, "MATH": false}.
func (s *Scope) Channels() (map[string]bool, error) {
	var resp string
	err := s.withHeaders(func() (err error) {
		resp, err = s.Ask("SEL?")
		return err
	})
	if err != nil {
		return nil, err
	}
	chans := make(map[string]bool)
	for _, field := range strings.Split(stripHeader(resp), ";") {
		i := strings.LastIndexByte(field, ' ')
		if i < 0 {
			continue
		}
		name, val := field[:i], field[i+1:]
		if j := strings.LastIndexByte(name, ':'); j >= 0 {
			name = name[j+1:]
		}
		on, err := strconv.Atoi(val)
		if err != nil {
			continue
		}
		chans[name] = on != 0
	}
	return chans, nil
}

// Waveform is one downloaded channel: its preamble settings and the
// scaled time/voltage trace.
type Waveform struct {
	Preamble map[string]any
	*trace.Trace
}

// Waveform downloads the given channel ("1", "CH2", "MATH"...) or, if
// channel is empty, the current data source.
func (s *Scope) Waveform(channel string) (*Waveform, error) {
	if channel != "" {
		if len(channel) == 1 && channel[0] >= '1' && channel[0] <= '4' {
			channel = "CH" + channel
		}
		if err := s.Command("DAT:SOU " + channel); err != nil {
			return nil, err
		}
	}
	if err := s.Command("DAT:ENC RIB; WID 2"); err != nil {
		return nil, err
	}
	var (
		pre map[string]any
		w   *Waveform
	)
	err := s.withHeaders(func() error {
		resp, err := s.Ask("WFMP?")
		if err != nil {
			return err
		}
		if !strings.HasPrefix(resp, ":WFMP") {
			return telepath.Errorf(telepath.ErrDevice, s.String(), nil, "unknown preamble header in %.20q", resp)
		}
		pre = ParsePreamble(resp)
		if err := s.Command("HEAD 0"); err != nil {
			return err
		}
		w, err = s.curve(pre)
		return err
	})
	if err != nil {
		return nil, err
	}
	w.Name = channel
	return w, nil
}

func (s *Scope) curve(pre map[string]any) (*Waveform, error) {
	order := "<"
	if pre["BYT_O"] == "MSB" {
		order = ">"
	}
	f, err := telepath.ParseFormat(fmt.Sprintf("%si%d", order, int(num(pre, "BYT_N"))))
	if err != nil {
		return nil, err
	}
	npts := int(num(pre, "NR_P"))
	if npts <= 0 {
		return nil, telepath.Errorf(telepath.ErrDevice, s.String(), nil, "preamble reports %d points", npts)
	}
	s.Flush()
	v, err := s.AskBlockAs("CURV?", f)
	if err != nil {
		return nil, err
	}
	raw, err := telepath.Float64s(v)
	if err != nil {
		return nil, err
	}
	if len(raw) != npts {
		return nil, telepath.Errorf(telepath.ErrFraming, s.String(), nil, "curve has %d points, preamble %d", len(raw), npts)
	}
	ymu, yof, yze := num(pre, "YMU"), num(pre, "YOF"), num(pre, "YZE")
	for i, y := range raw {
		raw[i] = ymu*(y-yof) + yze
	}
	t := &trace.Trace{
		X:      trace.Arange(num(pre, "XZE"), num(pre, "XIN"), npts),
		Y:      raw,
		XLabel: "t (s)",
		Meta:   pre,
	}
	if u, ok := pre["YUN"].(string); ok {
		t.YLabel = u
	}
	return &Waveform{Preamble: pre, Trace: t}, nil
}

// ParsePreamble converts a headed WFMP? reply such as
// ":WFMP:BYT_N 2;BYT_O MSB;NR_P 2500;..." into settings keyed by
// their names.
func ParsePreamble(resp string) map[string]any {
	pre := make(map[string]any)
	for _, field := range splitUnquoted(stripHeader(resp), ';') {
		name, val, _ := strings.Cut(field, " ")
		pre[name] = telepath.ParseReply(val)
	}
	return pre
}

// stripHeader removes a leading ":GROUP:" header.
func stripHeader(resp string) string {
	resp = strings.TrimSpace(resp)
	if !strings.HasPrefix(resp, ":") {
		return resp
	}
	if i := strings.IndexByte(resp[1:], ':'); i >= 0 {
		return resp[i+2:]
	}
	return resp
}

// splitUnquoted splits s at sep outside double quotes.
func splitUnquoted(s string, sep byte) []string {
	var (
		out    []string
		quoted bool
		start  int
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			quoted = !quoted
		case sep:
			if !quoted {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	return append(out, s[start:])
}

// num returns a numeric preamble entry, or 0.
func num(pre map[string]any, key string) float64 {
	switch v := pre[key].(type) {
	case int:
		return float64(v)
	case float64:
		return v
	}
	return 0
}
