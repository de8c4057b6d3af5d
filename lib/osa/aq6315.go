package osa

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gotmc/telepath"
	"github.com/gotmc/telepath/lib/trace"
)

// AQ6315 is an Ando (Yokogawa) AQ6315 optical spectrum analyzer. It has
// three traces, A to C.
type AQ6315 struct {
	*telepath.Device
}

func NewAQ6315(iface telepath.Interface, opts ...telepath.DeviceOption) (*AQ6315, error) {
	dev := telepath.New(iface, opts...)
	if _, err := dev.Identify("ANDO,AQ6315"); err != nil {
		return nil, err
	}
	return &AQ6315{dev}, nil
}

// Settings returns the resolution, reference level and points per sweep.
func (a *AQ6315) Settings() (map[string]any, error) {
	return a.QueryAll([]string{"RESLN?", "REFL?", "SEGP?"})
}

// Traces lists the visible traces.
func (a *AQ6315) Traces() ([]string, error) {
	var on []string
	for _, t := range []string{"A", "B", "C"} {
		v, err := a.Query("DSP" + t + "?")
		if err != nil {
			return nil, err
		}
		if v == 1 {
			on = append(on, t)
		}
	}
	return on, nil
}

// Trace downloads the wavelength (WDAT) and level (LDAT) lists of trace
// "A", "B" or "C".
func (a *AQ6315) Trace(name string) (*trace.Trace, error) {
	x, err := a.list("WDAT" + name)
	if err != nil {
		return nil, err
	}
	y, err := a.list("LDAT" + name)
	if err != nil {
		return nil, err
	}
	t, err := trace.New(name, x, y)
	if err != nil {
		return nil, telepath.Errorf(telepath.ErrFraming, a.String(), err, "trace %s", name)
	}
	t.XLabel, t.YLabel = name+" (nm)", name+" (dBm)"
	return t, nil
}

// list asks cmd and decodes the reply "n,v1,...,vn".
func (a *AQ6315) list(cmd string) ([]float64, error) {
	resp, err := a.Ask(cmd)
	if err != nil {
		return nil, err
	}
	vals, err := ParseCountedList(resp)
	if err != nil {
		return nil, telepath.Errorf(telepath.ErrFraming, a.String(), err, "reply to %q", cmd)
	}
	return vals, nil
}

// ParseCountedList decodes a comma separated list whose first element is
// the number of values that follow.
func ParseCountedList(resp string) ([]float64, error) {
	fields := strings.Split(strings.TrimSpace(resp), ",")
	n, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil {
		return nil, err
	}
	fields = fields[1:]
	if len(fields) != n {
		return nil, fmt.Errorf("got %d elements, expected %d", len(fields), n)
	}
	vals := make([]float64, n)
	for i, f := range fields {
		if vals[i], err = strconv.ParseFloat(strings.TrimSpace(f), 64); err != nil {
			return nil, err
		}
	}
	return vals, nil
}
