package sampler

import (
	"fmt"
	"image/color"
	"math"
	"strings"
)

// Scaling selects the intensity stretch a Normalize sampler applies
// before mapping values to display range.
type Scaling uint8

const (
	Linear Scaling = iota
	Log
	Power
	Sqrt
	Asinh
)

func (s Scaling) String() string {
	switch s {
	case Linear:
		return "linear"
	case Log:
		return "log"
	case Power:
		return "power"
	case Sqrt:
		return "sqrt"
	case Asinh:
		return "asinh"
	}
	return fmt.Sprintf("scaling(%d)", uint8(s))
}

// ParseScaling reads a scaling name as it appears in run configuration.
func ParseScaling(s string) (Scaling, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "linear", "":
		return Linear, nil
	case "log":
		return Log, nil
	case "power":
		return Power, nil
	case "sqrt":
		return Sqrt, nil
	case "asinh", "arcsinh":
		return Asinh, nil
	}
	return Linear, fmt.Errorf("unknown scaling %q", s)
}

// NormOptions configures a normalization: VMin maps to black and VMax
// to white after the chosen stretch, then Bias shifts the midpoint and
// Contrast steepens the ramp.  Use DefaultNorm for the conventional
// Bias 0.5, Contrast 1 starting point; Normalize applies the fields
// exactly as given.
type NormOptions struct {
	VMin     float64
	VMax     float64
	Scaling  Scaling
	Exponent float64 // Power stretch only
	Bias     float64
	Contrast float64
}

// DefaultNorm returns options for a plain linear stretch between the
// given bounds.
func DefaultNorm(vmin, vmax float64) NormOptions {
	return NormOptions{VMin: vmin, VMax: vmax, Bias: 0.5, Contrast: 1, Exponent: 2}
}

// stretch applies the scaling function, turning values outside the
// stretch's domain into no-data.
func (o NormOptions) stretch(v float64) float64 {
	switch o.Scaling {
	case Log:
		if v <= 0 {
			return math.NaN()
		}
		return math.Log(v)
	case Power:
		return math.Pow(v, o.Exponent)
	case Sqrt:
		if v < 0 {
			return math.NaN()
		}
		return math.Sqrt(v)
	case Asinh:
		return math.Asinh(v)
	}
	return v
}

// Normalize wraps a sampler with an intensity mapping onto [0, 255]:
// the stretch is applied to the value and both bounds, the result is
// rescaled so VMin..VMax covers [0, 1], bias and contrast reshape the
// ramp as clip((v-0.5)*Contrast + Bias, 0, 1), and the clipped value
// is scaled to 255.  NaN input stays NaN, as do values a stretch
// cannot represent (log of a non-positive value, for instance), so
// no-data never turns into a silent zero.
func Normalize(s Sampler, o NormOptions) Sampler {
	lo := o.stretch(o.VMin)
	span := o.stretch(o.VMax) - lo
	return func(ra, dec []float64) []float64 {
		out := s(ra, dec)
		for i, v := range out {
			if math.IsNaN(v) {
				continue
			}
			u := (o.stretch(v) - lo) / span
			u = (u-0.5)*o.Contrast + o.Bias
			if u < 0 {
				u = 0
			} else if u > 1 {
				u = 1
			}
			out[i] = u * 255
		}
		return out
	}
}

// NormalizeToColor renders normalized values as opaque gray pixels,
// with alpha zero carrying no-data through to image output.
func NormalizeToColor(s Sampler, o NormOptions) ColorSampler {
	norm := Normalize(s, o)
	return func(ra, dec []float64) []color.NRGBA {
		vals := norm(ra, dec)
		out := make([]color.NRGBA, len(vals))
		for i, v := range vals {
			if math.IsNaN(v) {
				continue
			}
			g := uint8(math.Round(v))
			out[i] = color.NRGBA{R: g, G: g, B: g, A: 0xff}
		}
		return out
	}
}
