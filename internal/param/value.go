// Package param implements the typed parameter value algebra: a closed set
// of interpolatable variants (Scalar, Angle, Enum, Color) sharing a single
// Value interface. New variants are a deliberate, centralized change — the
// package never exposes open polymorphism.
package param

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind discriminates the closed set of Value variants, matching the `type`
// field of the show-document parameter-node JSON shape.
type Kind string

const (
	KindFloat       Kind = "float"
	KindOrientation Kind = "orientation"
	KindEnum        Kind = "enum"
	KindColor       Kind = "color"
)

// ErrUnsupportedType is returned when asked to decode a type-name the
// package does not recognize.
var ErrUnsupportedType = errors.New("param: unsupported type")

// Value is the capability set every parameter variant implements: copy,
// equality, a total order, scale-by-scalar, linear interpolation, default
// detection, and round-trip JSON serialization.
type Value interface {
	// Clone returns a deep, independent copy.
	Clone() Value

	// Equals reports whether other is the same variant with identical state.
	Equals(other Value) bool

	// Compare defines a total order against another value of the same
	// variant: -1 if the receiver sorts before other, 0 if equal (per the
	// variant's ordering key), 1 if after. Comparing across variants is an
	// error.
	Compare(other Value) (int, error)

	// ScaleBy returns a copy scaled by s (clamped per the variant's rules).
	ScaleBy(s float64) Value

	// Lerp returns a copy interpolated toward other at parameter t.
	// Lerp(a, b, 0) == a, Lerp(a, b, 1) == b, for all variants.
	Lerp(other Value, t float64) (Value, error)

	// IsDefault reports whether the value currently equals its type-defined
	// default.
	IsDefault() bool

	// Reset restores the value to its type-defined default.
	Reset()

	// Kind returns the variant discriminator.
	Kind() Kind

	// MarshalJSON and UnmarshalJSON implement the show-document node shape
	// for this variant.
	json.Marshaler
}

// Decode parses a parameter-node JSON object into the concrete Value it
// describes, dispatching on the `type` discriminator. It returns
// ErrUnsupportedType for any type name outside {float, orientation, enum,
// color}.
func Decode(data []byte) (Value, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("param: decode discriminator: %w", err)
	}

	var v Value
	switch Kind(probe.Type) {
	case KindFloat:
		v = &Scalar{}
	case KindOrientation:
		v = &Angle{}
	case KindEnum:
		v = &Enum{}
	case KindColor:
		v = &Color{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, probe.Type)
	}

	if u, ok := v.(json.Unmarshaler); ok {
		if err := u.UnmarshalJSON(data); err != nil {
			return nil, err
		}
		return v, nil
	}
	return nil, fmt.Errorf("%w: %q has no unmarshaler", ErrUnsupportedType, probe.Type)
}

// clampf clamps x into [lo, hi]. Caller is responsible for lo <= hi.
func clampf(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func lerpf(a, b, t float64) float64 {
	return a + (b-a)*t
}
