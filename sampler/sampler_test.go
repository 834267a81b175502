package sampler

import (
	"math"
	"testing"
)

func sampleOne(s Sampler, ra, dec float64) float64 {
	return s([]float64{ra}, []float64{dec})[0]
}

func TestConstant(t *testing.T) {
	s := Constant(42)
	out := s(make([]float64, 100), make([]float64, 100))
	if len(out) != 100 {
		t.Fatalf("constant sampler returned %d values for 100 coordinates\n", len(out))
	}
	for i, v := range out {
		if v != 42 {
			t.Fatalf("constant sampler returned %g at index %d\n", v, i)
		}
	}
}

func TestCheckerboard(t *testing.T) {
	s := Checkerboard(math.Pi/2, 10, 200)
	a := sampleOne(s, 0.1, 0.1)
	b := sampleOne(s, 0.1+math.Pi/2, 0.1)
	c := sampleOne(s, 0.1+math.Pi, 0.1)
	if a == b {
		t.Errorf("adjacent cells should differ, both %g\n", a)
	}
	if a != c {
		t.Errorf("cells two steps apart should match: %g vs %g\n", a, c)
	}
	if d := sampleOne(s, 0.1, 0.1+math.Pi/2); d == a {
		t.Errorf("vertically adjacent cells should differ, both %g\n", a)
	}
}

func TestNormalizeLinear(t *testing.T) {
	cases := []struct {
		in, want float64
	}{
		{0, 0},
		{100, 127.5},
		{200, 255},
		{300, 255},
		{-50, 0},
	}
	for _, c := range cases {
		got := sampleOne(Normalize(Constant(c.in), DefaultNorm(0, 200)), 0, 0)
		if math.Abs(got-c.want) > 1e-9 {
			t.Errorf("linear norm of %g = %g, want %g\n", c.in, got, c.want)
		}
	}

	if got := sampleOne(Normalize(Constant(math.NaN()), DefaultNorm(0, 200)), 0, 0); !math.IsNaN(got) {
		t.Errorf("no-data input should stay no-data, got %g\n", got)
	}
}

func TestNormalizeBiasContrast(t *testing.T) {
	o := DefaultNorm(0, 200)
	o.Bias = 0.75
	o.Contrast = 2
	if got := sampleOne(Normalize(Constant(100), o), 0, 0); math.Abs(got-191.25) > 1e-9 {
		t.Errorf("bias/contrast norm of 100 = %g, want 191.25\n", got)
	}
	if got := sampleOne(Normalize(Constant(25), o), 0, 0); got != 0 {
		t.Errorf("bias/contrast norm of 25 = %g, want 0\n", got)
	}
}

func TestNormalizeScalings(t *testing.T) {
	sqrtOpts := DefaultNorm(0, 100)
	sqrtOpts.Scaling = Sqrt
	if got := sampleOne(Normalize(Constant(25), sqrtOpts), 0, 0); math.Abs(got-127.5) > 1e-9 {
		t.Errorf("sqrt norm of 25 over [0,100] = %g, want 127.5\n", got)
	}
	if got := sampleOne(Normalize(Constant(-1), sqrtOpts), 0, 0); !math.IsNaN(got) {
		t.Errorf("sqrt of a negative value should be no-data, got %g\n", got)
	}

	logOpts := DefaultNorm(1, math.Exp(2))
	logOpts.Scaling = Log
	if got := sampleOne(Normalize(Constant(math.E), logOpts), 0, 0); math.Abs(got-127.5) > 1e-9 {
		t.Errorf("log norm of e over [1,e^2] = %g, want 127.5\n", got)
	}
	for _, bad := range []float64{0, -3} {
		if got := sampleOne(Normalize(Constant(bad), logOpts), 0, 0); !math.IsNaN(got) {
			t.Errorf("log of %g should be no-data, got %g\n", bad, got)
		}
	}

	powOpts := DefaultNorm(0, 10)
	powOpts.Scaling = Power
	powOpts.Exponent = 2
	if got := sampleOne(Normalize(Constant(5), powOpts), 0, 0); math.Abs(got-63.75) > 1e-9 {
		t.Errorf("power-2 norm of 5 over [0,10] = %g, want 63.75\n", got)
	}

	asinhOpts := DefaultNorm(0, 10)
	asinhOpts.Scaling = Asinh
	got := sampleOne(Normalize(Constant(3), asinhOpts), 0, 0)
	if math.Abs(got-154.66) > 0.01 {
		t.Errorf("asinh norm of 3 over [0,10] = %g, want about 154.66\n", got)
	}
}

func TestParseScaling(t *testing.T) {
	for _, s := range []Scaling{Linear, Log, Power, Sqrt, Asinh} {
		got, err := ParseScaling(s.String())
		if err != nil {
			t.Fatalf("couldn't parse %q: %v\n", s, err)
		}
		if got != s {
			t.Errorf("%q parsed to %q\n", s, got)
		}
	}
	if got, err := ParseScaling("arcsinh"); err != nil || got != Asinh {
		t.Errorf("arcsinh should parse as asinh, got %v, %v\n", got, err)
	}
	if got, err := ParseScaling(""); err != nil || got != Linear {
		t.Errorf("empty scaling should default to linear, got %v, %v\n", got, err)
	}
	if _, err := ParseScaling("sinh"); err == nil {
		t.Errorf("expected error for unknown scaling\n")
	}
}

func TestNormalizeToColor(t *testing.T) {
	s := NormalizeToColor(Constant(100), DefaultNorm(0, 200))
	px := s([]float64{0}, []float64{0})[0]
	if px.A != 0xff {
		t.Fatalf("live pixel should be opaque, alpha %d\n", px.A)
	}
	if px.R != 128 || px.G != 128 || px.B != 128 {
		t.Errorf("norm of 100 over [0,200] should be gray 128, got %v\n", px)
	}

	s = NormalizeToColor(Constant(math.NaN()), DefaultNorm(0, 200))
	if px := s([]float64{0}, []float64{0})[0]; px.A != 0 {
		t.Errorf("no-data pixel should be transparent, got %v\n", px)
	}
}

func TestPlateCarree(t *testing.T) {
	const w, h = 8, 4
	data := make([]float64, w*h)
	for i := range data {
		data[i] = float64(i)
	}
	s := PlateCarree(data, w, h)

	// (ra=0, dec=0) is the center of the map.
	if got := sampleOne(s, 0, 0); got != 20 {
		t.Errorf("center sample = %g, want 20\n", got)
	}
	// RA increases leftward in the astronomical convention.
	if got := sampleOne(s, 0.1, 0); got != 19 {
		t.Errorf("sample east of center = %g, want 19\n", got)
	}
	// Row 0 is the north edge.
	if got := sampleOne(s, 0, math.Pi/2-0.01); got != 4 {
		t.Errorf("north edge sample = %g, want 4\n", got)
	}
	// The seam at ra=pi clamps onto the boundary column.
	if got := sampleOne(s, math.Pi, 0); got != 23 {
		t.Errorf("seam sample = %g, want 23\n", got)
	}

	// Planetary maps run longitude the other way.
	planet := PlateCarreePlanet(data, w, h)
	if got := sampleOne(planet, 0.1, 0); got != 20 {
		t.Errorf("planet sample east of center = %g, want 20\n", got)
	}

	if got := sampleOne(s, math.NaN(), 0); !math.IsNaN(got) {
		t.Errorf("non-finite coordinate should sample as no-data, got %g\n", got)
	}
}
