// Package trace holds downloaded XY data and writes it out as CSV.
package trace

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
)

// Trace is one named series of X and Y values of equal length.
type Trace struct {
	Name   string
	XLabel string
	YLabel string
	X      []float64
	Y      []float64
	// Meta carries instrument settings recorded with the trace.
	Meta map[string]any
}

// New pairs x and y, which must have the same length.
func New(name string, x, y []float64) (*Trace, error) {
	if len(x) != len(y) {
		return nil, fmt.Errorf("trace %s: %d x values for %d y values", name, len(x), len(y))
	}
	return &Trace{Name: name, X: x, Y: y}, nil
}

func (t *Trace) Len() int { return len(t.Y) }

// Linspace returns n evenly spaced values from start to stop inclusive.
func Linspace(start, stop float64, n int) []float64 {
	out := make([]float64, n)
	switch n {
	case 0:
		return out
	case 1:
		out[0] = start
		return out
	}
	step := (stop - start) / float64(n-1)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	out[n-1] = stop
	return out
}

// Logspace returns n values from 10^start to 10^stop inclusive, evenly
// spaced on a log scale.
func Logspace(start, stop float64, n int) []float64 {
	out := Linspace(start, stop, n)
	for i, v := range out {
		out[i] = math.Pow(10, v)
	}
	return out
}

// Arange returns n values start, start+step, ...
func Arange(start, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

// WriteCSV writes traces side by side as "<name>_X,<name>_Y" column pairs.
// Shorter traces leave their cells empty. Meta values are written first as
// "key,value" rows, followed by a blank row.
func WriteCSV(w io.Writer, traces ...*Trace) error {
	cw := csv.NewWriter(w)
	for _, t := range traces {
		keys := make([]string, 0, len(t.Meta))
		for k := range t.Meta {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := cw.Write([]string{k, fmt.Sprint(t.Meta[k])}); err != nil {
				return err
			}
		}
		if len(keys) > 0 {
			if err := cw.Write([]string{""}); err != nil {
				return err
			}
		}
	}

	header := make([]string, 0, 2*len(traces))
	rows := 0
	for _, t := range traces {
		x, y := t.XLabel, t.YLabel
		if x == "" {
			x = t.Name + "_X"
		}
		if y == "" {
			y = t.Name + "_Y"
		}
		header = append(header, x, y)
		rows = max(rows, t.Len())
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	rec := make([]string, len(header))
	for i := 0; i < rows; i++ {
		for j, t := range traces {
			rec[2*j], rec[2*j+1] = "", ""
			if i < t.Len() {
				rec[2*j] = formatFloat(t.X[i])
				rec[2*j+1] = formatFloat(t.Y[i])
			}
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
