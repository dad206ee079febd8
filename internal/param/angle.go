package param

import (
	"encoding/json"
	"fmt"
	"math"
)

// AngleUnit is the unit an Angle's range and value are expressed in.
type AngleUnit string

const (
	Degree AngleUnit = "degree"
	Radian AngleUnit = "radian"
)

// Angle is a ranged, unit-aware float parameter. Cross-unit arithmetic
// converts the right-hand operand into the receiver's unit before operating.
type Angle struct {
	value float64
	def   float64
	min   float64
	max   float64
	unit  AngleUnit
}

// NewAngle constructs an Angle, clamping value and def into [min, max].
func NewAngle(value, def, min, max float64, unit AngleUnit) *Angle {
	a := &Angle{unit: unit, min: min, max: max}
	a.def = clampf(def, min, max)
	a.Set(value)
	return a
}

func (a *Angle) Set(value float64) {
	a.value = clampf(value, a.min, a.max)
}

func (a *Angle) Value() float64   { return a.value }
func (a *Angle) Min() float64     { return a.min }
func (a *Angle) Max() float64     { return a.max }
func (a *Angle) Default() float64 { return a.def }
func (a *Angle) Unit() AngleUnit  { return a.unit }

func (a *Angle) SetMin(min float64) { a.min = min }
func (a *Angle) SetMax(max float64) { a.max = max }

func (a *Angle) AsPercent() float64 {
	if a.max == a.min {
		return 0
	}
	return (a.value - a.min) / (a.max - a.min)
}

func (a *Angle) SetAsPercent(pct float64) {
	a.Set(a.min + pct*(a.max-a.min))
}

// convert converts x from unit `from` into the receiver's unit.
func (a *Angle) convert(x float64, from AngleUnit) float64 {
	if from == a.unit {
		return x
	}
	if from == Degree && a.unit == Radian {
		return x * math.Pi / 180
	}
	if from == Radian && a.unit == Degree {
		return x * 180 / math.Pi
	}
	return x
}

func (a *Angle) Clone() Value {
	cp := *a
	return &cp
}

func (a *Angle) Equals(other Value) bool {
	o, ok := other.(*Angle)
	if !ok {
		return false
	}
	return a.value == a.convert(o.value, o.unit)
}

func (a *Angle) Compare(other Value) (int, error) {
	o, ok := other.(*Angle)
	if !ok {
		return 0, fmt.Errorf("param: cannot compare Angle to %s", other.Kind())
	}
	rhs := a.convert(o.value, o.unit)
	switch {
	case a.value < rhs:
		return -1, nil
	case a.value > rhs:
		return 1, nil
	default:
		return 0, nil
	}
}

func (a *Angle) ScaleBy(factor float64) Value {
	cp := *a
	cp.Set(a.value * factor)
	return &cp
}

func (a *Angle) Lerp(other Value, t float64) (Value, error) {
	o, ok := other.(*Angle)
	if !ok {
		return nil, fmt.Errorf("param: cannot lerp Angle with %s", other.Kind())
	}
	rhs := a.convert(o.value, o.unit)
	cp := *a
	cp.Set(lerpf(a.value, rhs, t))
	return &cp, nil
}

func (a *Angle) IsDefault() bool { return a.value == a.def }

func (a *Angle) Reset() { a.value = a.def }

func (a *Angle) Kind() Kind { return KindOrientation }

type angleNode struct {
	Type    Kind      `json:"type"`
	Unit    AngleUnit `json:"unit"`
	Val     float64   `json:"val"`
	Default float64   `json:"default"`
	Max     float64   `json:"max"`
	Min     float64   `json:"min"`
}

func (a *Angle) MarshalJSON() ([]byte, error) {
	return json.Marshal(angleNode{
		Type:    KindOrientation,
		Unit:    a.unit,
		Val:     a.value,
		Default: a.def,
		Max:     a.max,
		Min:     a.min,
	})
}

func (a *Angle) UnmarshalJSON(data []byte) error {
	var n angleNode
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if n.Type != KindOrientation {
		return fmt.Errorf("%w: %q", ErrUnsupportedType, n.Type)
	}
	a.unit = n.Unit
	a.min, a.max, a.def = n.Min, n.Max, n.Default
	a.Set(n.Val)
	return nil
}
