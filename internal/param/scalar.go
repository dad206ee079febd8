package param

import (
	"encoding/json"
	"fmt"
)

// Scalar is a ranged float parameter: a value clamped to [Min, Max] on every
// write, with a type-defined default.
type Scalar struct {
	value float64
	def   float64
	min   float64
	max   float64
}

// NewScalar constructs a Scalar, clamping value and def into [min, max].
func NewScalar(value, def, min, max float64) *Scalar {
	s := &Scalar{def: def, min: min, max: max}
	s.def = clampf(s.def, min, max)
	s.Set(value)
	return s
}

// Set writes value, clamping into [Min, Max]. Clamping is not a failure —
// the write is always considered to have succeeded.
func (s *Scalar) Set(value float64) {
	s.value = clampf(value, s.min, s.max)
}

// Value returns the current clamped value.
func (s *Scalar) Value() float64 { return s.value }

// Min, Max, Default expose the range and default. SetMin/SetMax do not
// re-clamp the current value or each other against the opposite bound;
// setting min above the current max (or vice versa) is undefined per the
// type contract and callers must order their setters correctly.
func (s *Scalar) Min() float64     { return s.min }
func (s *Scalar) Max() float64     { return s.max }
func (s *Scalar) Default() float64 { return s.def }

func (s *Scalar) SetMin(min float64) { s.min = min }
func (s *Scalar) SetMax(max float64) { s.max = max }

// AsPercent returns the value normalized to [0,1] over [Min, Max].
func (s *Scalar) AsPercent() float64 {
	if s.max == s.min {
		return 0
	}
	return (s.value - s.min) / (s.max - s.min)
}

// SetAsPercent writes value from a normalized [0,1] percent of the range.
func (s *Scalar) SetAsPercent(pct float64) {
	s.Set(s.min + pct*(s.max-s.min))
}

func (s *Scalar) Clone() Value {
	cp := *s
	return &cp
}

func (s *Scalar) Equals(other Value) bool {
	o, ok := other.(*Scalar)
	if !ok {
		return false
	}
	return s.value == o.value
}

func (s *Scalar) Compare(other Value) (int, error) {
	o, ok := other.(*Scalar)
	if !ok {
		return 0, fmt.Errorf("param: cannot compare Scalar to %s", other.Kind())
	}
	switch {
	case s.value < o.value:
		return -1, nil
	case s.value > o.value:
		return 1, nil
	default:
		return 0, nil
	}
}

func (s *Scalar) ScaleBy(factor float64) Value {
	cp := *s
	cp.Set(s.value * factor)
	return &cp
}

func (s *Scalar) Lerp(other Value, t float64) (Value, error) {
	o, ok := other.(*Scalar)
	if !ok {
		return nil, fmt.Errorf("param: cannot lerp Scalar with %s", other.Kind())
	}
	cp := *s
	cp.Set(lerpf(s.value, o.value, t))
	return &cp, nil
}

func (s *Scalar) IsDefault() bool { return s.value == s.def }

func (s *Scalar) Reset() { s.value = s.def }

func (s *Scalar) Kind() Kind { return KindFloat }

type scalarNode struct {
	Type    Kind    `json:"type"`
	Val     float64 `json:"val"`
	Default float64 `json:"default"`
	Max     float64 `json:"max"`
	Min     float64 `json:"min"`
}

func (s *Scalar) MarshalJSON() ([]byte, error) {
	return json.Marshal(scalarNode{
		Type:    KindFloat,
		Val:     s.value,
		Default: s.def,
		Max:     s.max,
		Min:     s.min,
	})
}

func (s *Scalar) UnmarshalJSON(data []byte) error {
	var n scalarNode
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if n.Type != KindFloat {
		return fmt.Errorf("%w: %q", ErrUnsupportedType, n.Type)
	}
	s.min, s.max, s.def = n.Min, n.Max, n.Default
	s.Set(n.Val)
	return nil
}
