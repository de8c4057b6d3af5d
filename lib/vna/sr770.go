package vna

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/gotmc/query"
	"github.com/gotmc/telepath"
	"github.com/gotmc/telepath/lib/trace"
)

// SR770Bins is the fixed number of frequency bins.
const SR770Bins = 400

// SR770Spans lists the spans in Hz by SPAN? index.
var SR770Spans = []float64{
	191e-3, 382e-3, 763e-3, 1.5, 3.1, 6.1, 12.2, 24.4, 48.75, 97.5,
	195, 390, 780, 1.56e3, 3.125e3, 6.25e3, 12.5e3, 25e3, 50e3, 100e3,
}

// SR770Units lists the display units by UNIT? index.
var SR770Units = []string{"Volts Pk", "Volts RMS", "dBV", "dBVrms"}

// SR770 is a Stanford Research Systems SR770 FFT analyzer.
type SR770 struct {
	*telepath.Device
}

func NewSR770(iface telepath.Interface, opts ...telepath.DeviceOption) (*SR770, error) {
	dev := telepath.New(iface, opts...)
	if _, err := dev.Identify("Stanford_Research_Systems,SR770"); err != nil {
		return nil, err
	}
	return &SR770{dev}, nil
}

// index queries q and checks the reply against a table of n entries.
func (s *SR770) index(q string, n int) (int, error) {
	v, err := s.Query(q)
	if err != nil {
		return 0, err
	}
	i, ok := v.(int)
	if !ok || i < 0 || i >= n {
		return 0, telepath.Errorf(telepath.ErrDevice, s.String(), nil, "%s: index %v out of range", q, v)
	}
	return i, nil
}

func (s *SR770) number(q string) (float64, error) {
	f, err := query.Float64(s.Querier(), q)
	if err != nil {
		var te *telepath.Error
		if errors.As(err, &te) {
			return 0, err
		}
		return 0, telepath.Errorf(telepath.ErrDevice, s.String(), err, "%s: expected a number", q)
	}
	return f, nil
}

// Span returns the frequency span in Hz.
func (s *SR770) Span() (float64, error) {
	i, err := s.index("SPAN?", len(SR770Spans))
	if err != nil {
		return 0, err
	}
	return SR770Spans[i], nil
}

// Unit returns the display unit.
func (s *SR770) Unit() (string, error) {
	i, err := s.index("UNIT?", len(SR770Units))
	if err != nil {
		return "", err
	}
	return SR770Units[i], nil
}

// Averages returns the number of averages, or 0 when averaging is off.
func (s *SR770) Averages() (int, error) {
	on, err := s.Query("AVGO?")
	if err != nil || on != 1 {
		return 0, err
	}
	n, err := s.number("NAVG?")
	return int(n), err
}

// Frequencies returns the bin frequencies. A logarithmic X axis is
// spaced geometrically when the start frequency is above zero.
func (s *SR770) Frequencies() ([]float64, error) {
	start, err := s.number("STRF?")
	if err != nil {
		return nil, err
	}
	span, err := s.Span()
	if err != nil {
		return nil, err
	}
	logx, err := s.Query("XAXS?")
	if err != nil {
		return nil, err
	}
	if logx == 1 && start > 0 {
		return trace.Logspace(math.Log10(start), math.Log10(start+span), SR770Bins), nil
	}
	return trace.Linspace(start, start+span, SR770Bins), nil
}

// Spectrum downloads the spectrum in binary form and scales it to the
// input range: dBV for a logarithmic display, volts otherwise.
func (s *SR770) Spectrum() ([]float64, error) {
	disp, err := s.Query("DISP?")
	if err != nil {
		return nil, err
	}
	raw, err := s.AskRaw("SPEB?", 2*SR770Bins)
	if err != nil {
		return nil, err
	}
	v, err := telepath.MustParseFormat("<i2").Decode(raw)
	if err != nil {
		return nil, err
	}
	spec, err := telepath.Float64s(v)
	if err != nil {
		return nil, err
	}
	fullscale, err := s.number("IRNG?")
	if err != nil {
		return nil, err
	}
	ScaleSR770(spec, disp == 0, fullscale)
	return spec, nil
}

// ScaleSR770 converts raw binary spectrum values in place.
func ScaleSR770(spec []float64, logDisplay bool, fullscale float64) {
	for i, v := range spec {
		if logDisplay {
			spec[i] = 3.0103*v/512 - 114.3914 + fullscale
		} else {
			spec[i] = v / 32768 * fullscale
		}
	}
}

// SpectrumASCII downloads the spectrum as text, a comma terminated list
// of SR770Bins values.
func (s *SR770) SpectrumASCII() ([]float64, error) {
	resp, err := s.Ask("SPEC?")
	if err != nil {
		return nil, err
	}
	fields := strings.Split(strings.TrimSuffix(strings.TrimSpace(resp), ","), ",")
	if len(fields) != SR770Bins {
		return nil, telepath.Errorf(telepath.ErrFraming, s.String(), nil, "spectrum has %d bins, want %d", len(fields), SR770Bins)
	}
	spec := make([]float64, len(fields))
	for i, f := range fields {
		if spec[i], err = strconv.ParseFloat(strings.TrimSpace(f), 64); err != nil {
			return nil, telepath.Errorf(telepath.ErrFraming, s.String(), err, "bin %d", i)
		}
	}
	return spec, nil
}

// Trace downloads frequencies and the binary spectrum, recording span,
// unit and averaging in the trace metadata.
func (s *SR770) Trace() (*trace.Trace, error) {
	unit, err := s.Unit()
	if err != nil {
		return nil, err
	}
	navg, err := s.Averages()
	if err != nil {
		return nil, err
	}
	span, err := s.Span()
	if err != nil {
		return nil, err
	}
	x, err := s.Frequencies()
	if err != nil {
		return nil, err
	}
	y, err := s.Spectrum()
	if err != nil {
		return nil, err
	}
	t, err := trace.New("SR770", x, y)
	if err != nil {
		return nil, err
	}
	t.XLabel = "Freq (Hz)"
	t.YLabel = fmt.Sprintf("Power (%s)", unit)
	t.Meta = map[string]any{"Unit": unit, "Navg": navg, "Span": span}
	return t, nil
}
