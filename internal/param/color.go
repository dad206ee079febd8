package param

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"github.com/lumenrig/lumenrig/internal/metrics"
)

// ColorMode selects the channel basis and combination rule for a Color.
type ColorMode string

const (
	BasicRGB    ColorMode = "basic_rgb"
	BasicCMY    ColorMode = "basic_cmy"
	Additive    ColorMode = "additive"
	Subtractive ColorMode = "subtractive"
)

// XYZ is a CIE 1931 tristimulus triple.
type XYZ struct{ X, Y, Z float64 }

// d65 is the default reference white point used by Lab/LCHab conversions.
var d65 = XYZ{X: 0.95047, Y: 1.0, Z: 1.08883}

// Color is a device-dependent spectral color parameter: a set of named
// channels in [0,1], an optional XYZ basis vector per channel (used by
// ADDITIVE mode to emit tristimulus), and an overall weight in [0,1].
// The channel and basis maps are mutex-guarded so a concurrent Clone or
// serialize never races a mutation.
type Color struct {
	mu sync.Mutex

	mode     ColorMode
	channels map[string]float64
	basis    map[string][3]float64
	weight   float64
	refWhite XYZ

	lastOutOfGamut bool
}

// NewColor constructs a Color in the given mode with a full-weight default.
func NewColor(mode ColorMode) *Color {
	c := &Color{
		mode:     mode,
		channels: make(map[string]float64),
		basis:    make(map[string][3]float64),
		weight:   1,
		refWhite: d65,
	}
	switch mode {
	case BasicRGB, Additive:
		c.channels["r"], c.channels["g"], c.channels["b"] = 0, 0, 0
	case BasicCMY, Subtractive:
		c.channels["c"], c.channels["m"], c.channels["y"] = 0, 0, 0
	}
	return c
}

// SetBasis registers the XYZ tristimulus of channel name at full (1.0)
// output, used by ADDITIVE mode's gamut solver and by GetXYZ.
func (c *Color) SetBasis(name string, xyz XYZ) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.basis[name] = [3]float64{xyz.X, xyz.Y, xyz.Z}
}

// SetRefWhite overrides the reference white point used by Lab/LCHab
// conversions (default D65).
func (c *Color) SetRefWhite(w XYZ) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refWhite = w
}

// Weight returns the overall output weight in [0,1].
func (c *Color) Weight() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.weight
}

// SetWeight sets the overall output weight, clamped to [0,1].
func (c *Color) SetWeight(w float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.weight = clampf(w, 0, 1)
}

// Mode returns the color's combination mode.
func (c *Color) Mode() ColorMode { return c.mode }

// Channel returns a channel's raw [0,1] value and whether it exists.
func (c *Color) Channel(name string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.channels[name]
	return v, ok
}

// SetChannel writes a single channel's raw value, clamped to [0,1]. In
// BASIC_RGB/BASIC_CMY mode the channel set is fixed to the mode's
// primaries; writing any other name fails.
func (c *Color) SetChannel(name string, value float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode == BasicRGB || c.mode == BasicCMY {
		if _, ok := c.channels[name]; !ok {
			return fmt.Errorf("param: color channel %q not valid in mode %s", name, c.mode)
		}
	}
	c.channels[name] = clampf(value, 0, 1)
	return nil
}

// OutOfGamut reports whether the most recent SetRGB/SetChromaticity call in
// ADDITIVE mode had to clamp to the closest feasible LP solution.
func (c *Color) OutOfGamut() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastOutOfGamut
}

// srgbToLinear applies the sRGB companding function to a single channel.
func srgbToLinear(v float64) float64 {
	if v <= 0.04045 {
		return v / 12.92
	}
	return math.Pow((v+0.055)/1.055, 2.4)
}

func linearToSrgb(v float64) float64 {
	if v <= 0.0031308 {
		return v * 12.92
	}
	return 1.055*math.Pow(v, 1/2.4) - 0.055
}

// srgbToXYZ converts an sRGB-companded triple to CIE XYZ (D65 primaries).
func srgbToXYZ(r, g, b float64) XYZ {
	lr, lg, lb := srgbToLinear(r), srgbToLinear(g), srgbToLinear(b)
	return XYZ{
		X: 0.4124564*lr + 0.3575761*lg + 0.1804375*lb,
		Y: 0.2126729*lr + 0.7151522*lg + 0.0721750*lb,
		Z: 0.0193339*lr + 0.1191920*lg + 0.9503041*lb,
	}
}

func xyzToSrgb(v XYZ) (r, g, b float64) {
	lr := 3.2404542*v.X - 1.5371385*v.Y - 0.4985314*v.Z
	lg := -0.9692660*v.X + 1.8760108*v.Y + 0.0415560*v.Z
	lb := 0.0556434*v.X - 0.2040259*v.Y + 1.0572252*v.Z
	return clampf(linearToSrgb(lr), 0, 1), clampf(linearToSrgb(lg), 0, 1), clampf(linearToSrgb(lb), 0, 1)
}

// RGBSpace names the RGB working space a raw triple is expressed in.
// sRGB is the only space implemented; others are accepted but treated as
// sRGB (documented limitation, not a silent correctness bug — callers pass
// a real working-space identifier for forward compatibility).
type RGBSpace string

const SRGB RGBSpace = "sRGB"

// SetRGB writes an RGB triple. In BASIC_RGB mode the channels are written
// directly (clamped). In ADDITIVE mode the triple is converted to XYZ via
// the given RGB space (sRGB companding), and the gamut solver finds
// non-negative [0,1] basis coefficients matching the resulting
// chromaticity, maximizing total coefficient weight.
func (c *Color) SetRGB(r, g, b float64, cs RGBSpace) {
	if c.mode == BasicRGB {
		c.mu.Lock()
		c.channels["r"] = clampf(r, 0, 1)
		c.channels["g"] = clampf(g, 0, 1)
		c.channels["b"] = clampf(b, 0, 1)
		c.mu.Unlock()
		return
	}
	xyz := srgbToXYZ(clampf(r, 0, 1), clampf(g, 0, 1), clampf(b, 0, 1))
	x, y := xyToChromaticity(xyz)
	c.applyGamutSolve(x, y)
}

// SetChromaticity drives the ADDITIVE gamut solver directly from a CIE
// (x, y) chromaticity coordinate, bypassing the RGB conversion step.
func (c *Color) SetChromaticity(x, y float64) {
	c.applyGamutSolve(x, y)
}

func (c *Color) applyGamutSolve(x, y float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := c.basisNames()
	basis := make([]channelBasis, len(names))
	for i, n := range names {
		v := c.basis[n]
		basis[i] = channelBasis{name: n, x: v[0], y: v[1], z: v[2]}
	}
	coeffs, exact := gamutSolve(basis, x, y)
	c.lastOutOfGamut = !exact
	if !exact {
		metrics.OutOfGamutEvents.Inc()
	}
	for i, n := range names {
		c.channels[n] = clampf(coeffs[i], 0, 1)
	}
}

func (c *Color) basisNames() []string {
	names := make([]string, 0, len(c.basis))
	for n := range c.basis {
		names = append(names, n)
	}
	return names
}

func xyToChromaticity(v XYZ) (x, y float64) {
	sum := v.X + v.Y + v.Z
	if sum == 0 {
		return 0, 0
	}
	return v.X / sum, v.Y / sum
}

// rgbFromChannels extracts an sRGB-ish triple from whatever channels this
// Color mode carries, for use by GetXYZ when no explicit basis is set.
func (c *Color) rgbFromChannels() (r, g, b float64) {
	if rv, ok := c.channels["r"]; ok {
		return rv, c.channels["g"], c.channels["b"]
	}
	if cv, ok := c.channels["c"]; ok {
		return 1 - cv, 1 - c.channels["m"], 1 - c.channels["y"]
	}
	return 0, 0, 0
}

// GetXYZ returns the emitted tristimulus. In ADDITIVE mode with a basis
// registered, this is weight·Σchannel·basis(channel). Otherwise it is
// derived from the basic RGB/CMY channels via the standard sRGB matrix.
func (c *Color) GetXYZ() XYZ {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode == Additive && len(c.basis) > 0 {
		var sum XYZ
		for name, v := range c.channels {
			b, ok := c.basis[name]
			if !ok {
				continue
			}
			sum.X += v * b[0]
			sum.Y += v * b[1]
			sum.Z += v * b[2]
		}
		sum.X *= c.weight
		sum.Y *= c.weight
		sum.Z *= c.weight
		return sum
	}
	r, g, b := c.rgbFromChannels()
	v := srgbToXYZ(clampf(r, 0, 1), clampf(g, 0, 1), clampf(b, 0, 1))
	v.X *= c.weight
	v.Y *= c.weight
	v.Z *= c.weight
	return v
}

// GetRGB returns the emitted color as an sRGB-companded triple derived
// from GetXYZ, each channel clamped to [0,1].
func (c *Color) GetRGB() (r, g, b float64) {
	return xyzToSrgb(c.GetXYZ())
}

// GetXY returns the CIE chromaticity coordinate of GetXYZ.
func (c *Color) GetXY() (x, y float64) {
	return xyToChromaticity(c.GetXYZ())
}

func labF(t float64) float64 {
	const delta = 6.0 / 29.0
	if t > delta*delta*delta {
		return math.Cbrt(t)
	}
	return t/(3*delta*delta) + 4.0/29.0
}

// GetLab returns CIE L*a*b* using the Color's reference white (default D65).
func (c *Color) GetLab() (l, a, bb float64) {
	v := c.GetXYZ()
	c.mu.Lock()
	white := c.refWhite
	c.mu.Unlock()
	fx := labF(v.X / white.X)
	fy := labF(v.Y / white.Y)
	fz := labF(v.Z / white.Z)
	l = 116*fy - 16
	a = 500 * (fx - fy)
	bb = 200 * (fy - fz)
	return l, a, bb
}

// GetLCHab returns cylindrical L*C*h(ab): lightness, chroma, hue in degrees
// [0, 360).
func (c *Color) GetLCHab() (lStar, chroma, hue float64) {
	l, a, b := c.GetLab()
	chroma = math.Hypot(a, b)
	hue = math.Atan2(b, a) * 180 / math.Pi
	if hue < 0 {
		hue += 360
	}
	return l, chroma, hue
}

const hueEpsilon = 1e-6

func (c *Color) Clone() Value {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := &Color{
		mode:     c.mode,
		channels: make(map[string]float64, len(c.channels)),
		basis:    make(map[string][3]float64, len(c.basis)),
		weight:   c.weight,
		refWhite: c.refWhite,
	}
	for k, v := range c.channels {
		cp.channels[k] = v
	}
	for k, v := range c.basis {
		cp.basis[k] = v
	}
	return cp
}

// Equals compares snapshots of both colors so the two mutexes are never
// held at once.
func (c *Color) Equals(other Value) bool {
	oc, ok := other.(*Color)
	if !ok {
		return false
	}
	a := c.Clone().(*Color)
	b := oc.Clone().(*Color)
	if a.mode != b.mode || a.weight != b.weight || len(a.channels) != len(b.channels) {
		return false
	}
	for k, v := range a.channels {
		if ov, ok := b.channels[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

func (c *Color) Compare(other Value) (int, error) {
	o, ok := other.(*Color)
	if !ok {
		return 0, fmt.Errorf("param: cannot compare Color to %s", other.Kind())
	}
	_, _, h1 := c.GetLCHab()
	_, _, h2 := o.GetLCHab()
	if math.Abs(h1-h2) < hueEpsilon {
		return 0, nil
	}
	if h1 < h2 {
		return -1, nil
	}
	return 1, nil
}

func (c *Color) ScaleBy(factor float64) Value {
	cp := c.Clone().(*Color)
	cp.weight = clampf(cp.weight*factor, 0, 1)
	return cp
}

func (c *Color) Lerp(other Value, t float64) (Value, error) {
	oc, ok := other.(*Color)
	if !ok {
		return nil, fmt.Errorf("param: cannot lerp Color with %s", other.Kind())
	}
	cp := c.Clone().(*Color)
	o := oc.Clone().(*Color)
	for k, v := range cp.channels {
		ov, ok := o.channels[k]
		if !ok {
			ov = v
		}
		cp.channels[k] = lerpf(v, ov, t)
	}
	cp.weight = lerpf(cp.weight, o.weight, t)
	return cp, nil
}

func (c *Color) IsDefault() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.weight != 1 {
		return false
	}
	for _, v := range c.channels {
		if v != 0 {
			return false
		}
	}
	return true
}

func (c *Color) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.channels {
		c.channels[k] = 0
	}
	c.weight = 1
}

func (c *Color) Kind() Kind { return KindColor }

type colorNode struct {
	Type     Kind                  `json:"type"`
	Channels map[string]float64    `json:"channels"`
	Basis    map[string][3]float64 `json:"basis,omitempty"`
	Weight   float64               `json:"weight"`
	Mode     ColorMode             `json:"mode"`
}

func (c *Color) MarshalJSON() ([]byte, error) {
	cp := c.Clone().(*Color)
	return json.Marshal(colorNode{
		Type:     KindColor,
		Channels: cp.channels,
		Basis:    cp.basis,
		Weight:   cp.weight,
		Mode:     cp.mode,
	})
}

func (c *Color) UnmarshalJSON(data []byte) error {
	var n colorNode
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if n.Type != KindColor {
		return fmt.Errorf("%w: %q", ErrUnsupportedType, n.Type)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = n.Mode
	c.channels = n.Channels
	if c.channels == nil {
		c.channels = make(map[string]float64)
	}
	c.basis = n.Basis
	if c.basis == nil {
		c.basis = make(map[string][3]float64)
	}
	c.weight = n.Weight
	c.refWhite = d65
	return nil
}
