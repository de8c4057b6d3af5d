// Package vna downloads spectra from network and FFT analyzers.
package vna

import (
	"fmt"
	"strings"

	"github.com/gotmc/telepath"
	"github.com/gotmc/telepath/lib/trace"
)

// HP4395A block formats: FORM2 is 32-bit and FORM3 64-bit IEEE floating
// point, most significant byte first.
var (
	form2 = telepath.Float32BE
	form3 = telepath.Float64BE
	// Network analyzer traces are complex; the imaginary part is auxiliary.
	form3Complex = telepath.MustParseFormat(">c16")
)

// HP4395ASettings are queried before each download.
var HP4395ASettings = []string{"MEAS", "BW", "REFV", "FMT", "SWPT", "SAUNIT", "AVER", "AVERFACT"}

// HP4395A is an HP 4395A network/spectrum/impedance analyzer.
type HP4395A struct {
	*telepath.Device
}

func NewHP4395A(iface telepath.Interface, opts ...telepath.DeviceOption) (*HP4395A, error) {
	dev := telepath.New(iface, opts...)
	if _, err := dev.Identify("HEWLETT-PACKARD,4395A"); err != nil {
		return nil, err
	}
	return &HP4395A{dev}, nil
}

// Settings queries HP4395ASettings. Only linear and logarithmic frequency
// sweeps are supported.
func (h *HP4395A) Settings() (map[string]any, error) {
	s, err := h.QueryAll(HP4395ASettings)
	if err != nil {
		return nil, err
	}
	if sw := s["SWPT"]; sw != "LINF" && sw != "LOGF" {
		return s, telepath.Errorf(telepath.ErrDevice, h.String(), nil, "unknown sweep mode %v", sw)
	}
	return s, nil
}

// Spectrum downloads the data trace. In spectrum analyzer mode (FMT
// "SPEC...") values are real; otherwise the real part of the complex
// trace is returned.
func (h *HP4395A) Spectrum(format string) ([]float64, error) {
	f := form3Complex
	if strings.HasPrefix(format, "SPEC") {
		f = form3
	}
	v, err := h.AskBlockAs("FORM3; OUTPDTRC?", f)
	if err != nil {
		return nil, err
	}
	return telepath.Float64s(v)
}

// Frequencies downloads the sweep points in Hz.
func (h *HP4395A) Frequencies() ([]float64, error) {
	v, err := h.AskBlockAs("FORM2; OUTPSWPRM?", form2)
	if err != nil {
		return nil, err
	}
	return telepath.Float64s(v)
}

// Trace downloads settings, spectrum and frequencies together.
func (h *HP4395A) Trace() (*trace.Trace, error) {
	s, err := h.Settings()
	if err != nil {
		return nil, err
	}
	format, _ := s["FMT"].(string)
	y, err := h.Spectrum(format)
	if err != nil {
		return nil, err
	}
	x, err := h.Frequencies()
	if err != nil {
		return nil, err
	}
	t, err := trace.New(fmt.Sprint(s["MEAS"]), x, y)
	if err != nil {
		return nil, telepath.Errorf(telepath.ErrFraming, h.String(), err, "spectrum and sweep differ")
	}
	t.XLabel, t.YLabel = "Freq (Hz)", fmt.Sprint(s["MEAS"])
	t.Meta = s
	return t, nil
}
