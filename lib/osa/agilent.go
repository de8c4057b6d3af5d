// Package osa downloads traces from optical spectrum analyzers.
package osa

import (
	"errors"
	"strings"
	"time"

	"github.com/gotmc/query"
	"github.com/gotmc/telepath"
	"github.com/gotmc/telepath/lib/trace"
)

// Agilent86140B is an Agilent 86140B series optical spectrum analyzer.
type Agilent86140B struct {
	*telepath.Device
}

// NewAgilent86140B wraps iface and confirms the instrument's identity.
func NewAgilent86140B(iface telepath.Interface, opts ...telepath.DeviceOption) (*Agilent86140B, error) {
	dev := telepath.New(iface, opts...)
	if _, err := dev.Identify("AGILENT,86140B", telepath.CaseInsensitive()); err != nil {
		return nil, err
	}
	return &Agilent86140B{dev}, nil
}

// traceName expands "A" to "TRA"; other names pass through.
func traceName(name string) string {
	if len(name) == 1 {
		return "TR" + strings.ToUpper(name)
	}
	return name
}

// Traces lists the traces currently displayed, e.g. ["TRA", "TRC"].
func (a *Agilent86140B) Traces() ([]string, error) {
	var on []string
	for _, c := range "ABCDEF" {
		name := "TR" + string(c)
		v, err := a.Query("DISP:TRAC:STAT? " + name)
		if err != nil {
			return nil, err
		}
		if v == 1 {
			on = append(on, name)
		}
	}
	return on, nil
}

// Settings returns the resolution bandwidth, reference level,
// sensitivity, power unit and number of averages (0 when averaging is
// off).
func (a *Agilent86140B) Settings() (map[string]any, error) {
	s, err := a.QueryAll([]string{
		"SENS:BAND:RES?",
		"DISP:TRAC:Y:RLEV?",
		"POW:DC:RANG:LOW?",
		"UNIT:POW?",
		"CALC:AVER:STAT?",
	})
	if err != nil {
		return nil, err
	}
	s["CALC:AVER:COUN?"] = 0
	if s["CALC:AVER:STAT?"] == 1 {
		n, err := a.Query("CALC:AVER:COUN?")
		if err != nil {
			return nil, err
		}
		s["CALC:AVER:COUN?"] = n
	}
	return s, nil
}

// Trace downloads one trace ("A".."F", "TRA".."TRF", or "" for the
// active trace) with wavelengths in nm.
func (a *Agilent86140B) Trace(name string) (*trace.Trace, error) {
	tr := traceName(name)
	arg := ""
	if tr != "" {
		arg = " " + tr
	}
	npts, err := a.Query("TRAC:POIN?" + arg)
	if err != nil {
		return nil, err
	}
	n, ok := npts.(int)
	if !ok || n <= 0 {
		return nil, telepath.Errorf(telepath.ErrDevice, a.String(), nil, "trace %s has %v points", tr, npts)
	}
	start, err := a.float("TRAC:X:STAR?" + arg)
	if err != nil {
		return nil, err
	}
	stop, err := a.float("TRAC:X:STOP?" + arg)
	if err != nil {
		return nil, err
	}
	if err := a.Command("FORM REAL,32"); err != nil {
		return nil, err
	}
	v, err := a.AskBlockAs("TRAC:DATA:Y?"+arg, telepath.Float32BE)
	if err != nil {
		return nil, err
	}
	y, err := telepath.Float64s(v)
	if err != nil {
		return nil, err
	}
	t, err := trace.New(tr, trace.Linspace(start*1e9, stop*1e9, n), y)
	if err != nil {
		return nil, telepath.Errorf(telepath.ErrFraming, a.String(), err, "trace %s", tr)
	}
	return t, nil
}

// Screenshot returns the display as a PCL file. The analyzer needs time
// to render before it answers, and the reply is an indefinite length
// block that ends when the analyzer stops sending for quiet.
func (a *Agilent86140B) Screenshot(render, quiet time.Duration) ([]byte, error) {
	if err := a.Command("HCOPY:DEV:LANG PCL"); err != nil {
		return nil, err
	}
	lang, err := a.Ask("HCOPY:DEV:LANG?")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(lang) != "PCL" {
		return nil, telepath.Errorf(telepath.ErrDevice, a.String(), nil, "could not select PCL output, language is %q", lang)
	}
	if err := a.Command("HCOPY:DATA?"); err != nil {
		return nil, err
	}
	time.Sleep(render)
	return a.ReadIndefiniteBlock(quiet)
}

func (a *Agilent86140B) float(q string) (float64, error) {
	f, err := query.Float64(a.Querier(), q)
	if err != nil {
		var te *telepath.Error
		if errors.As(err, &te) {
			return 0, err
		}
		return 0, telepath.Errorf(telepath.ErrDevice, a.String(), err, "%s: expected a number", q)
	}
	return f, nil
}
