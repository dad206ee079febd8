package param

import (
	"encoding/json"
	"fmt"
	"sort"
)

// EnumMode determines the tweak a name-only set_val assigns.
type EnumMode string

const (
	ModeFirst  EnumMode = "first"
	ModeCenter EnumMode = "center"
	ModeLast   EnumMode = "last"
)

// EnumInterp controls how Lerp behaves across and within options.
type EnumInterp string

const (
	InterpSnap               EnumInterp = "snap"
	InterpSmoothWithinOption EnumInterp = "smooth_within_option"
	InterpSmooth             EnumInterp = "smooth"
)

// Enum is a named option with a sub-range tweak: its numeric value is
// start(active) + tweak*(end(active)-start(active)), where end(opt) is the
// next option's start minus one, or RangeMax for the last option in start
// order.
type Enum struct {
	options       map[string]float64
	rangeMax      float64
	active        string
	tweak         float64
	defaultOption string
	mode          EnumMode
	interp        EnumInterp
}

// NewEnum constructs an Enum. options maps option name to its range start;
// rangeMax is the end of the last option's range.
func NewEnum(options map[string]float64, rangeMax float64, active, defaultOption string, mode EnumMode, interp EnumInterp) *Enum {
	e := &Enum{
		options:       make(map[string]float64, len(options)),
		rangeMax:      rangeMax,
		defaultOption: defaultOption,
		mode:          mode,
		interp:        interp,
	}
	for k, v := range options {
		e.options[k] = v
	}
	_ = e.SetValName(active)
	return e
}

// AddOption adds or replaces an option's start value.
func (e *Enum) AddOption(name string, start float64) {
	e.options[name] = start
}

// sortedNames returns option names ordered ascending by start value.
func (e *Enum) sortedNames() []string {
	names := make([]string, 0, len(e.options))
	for n := range e.options {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		if e.options[names[i]] == e.options[names[j]] {
			return names[i] < names[j]
		}
		return e.options[names[i]] < e.options[names[j]]
	})
	return names
}

func (e *Enum) start(name string) float64 { return e.options[name] }

func (e *Enum) end(name string, sorted []string) float64 {
	for i, n := range sorted {
		if n == name {
			if i == len(sorted)-1 {
				return e.rangeMax
			}
			return e.options[sorted[i+1]] - 1
		}
	}
	return e.rangeMax
}

func modeTweak(mode EnumMode) float64 {
	switch mode {
	case ModeFirst:
		return 0
	case ModeLast:
		return 1
	default:
		return 0.5
	}
}

// Active returns the active option name.
func (e *Enum) Active() string { return e.active }

// Tweak returns the current sub-range tweak in [0,1].
func (e *Enum) Tweak() float64 { return e.tweak }

// SetValName activates name with the tweak implied by mode. Fails (leaving
// state unchanged) if name is not a known option.
func (e *Enum) SetValName(name string) error {
	if _, ok := e.options[name]; !ok {
		return fmt.Errorf("param: unknown enum option %q", name)
	}
	e.active = name
	e.tweak = modeTweak(e.mode)
	return nil
}

// SetValNameTweak activates name with an explicit tweak in [0,1].
func (e *Enum) SetValNameTweak(name string, tweak float64) error {
	if _, ok := e.options[name]; !ok {
		return fmt.Errorf("param: unknown enum option %q", name)
	}
	e.active = name
	e.tweak = clampf(tweak, 0, 1)
	return nil
}

// SetValNumber inverts AsNumber: below the first option's start clamps to
// that option with tweak 0; above RangeMax clamps to the last option with
// tweak 1; otherwise it finds the option with the greatest start <= number
// and sets tweak proportionally. A number equal to an option's start
// belongs to that option, not the one before it.
func (e *Enum) SetValNumber(number float64) {
	names := e.sortedNames()
	if len(names) == 0 {
		return
	}

	first := names[0]
	if number < e.start(first) {
		e.active = first
		e.tweak = 0
		return
	}
	if number > e.rangeMax {
		last := names[len(names)-1]
		e.active = last
		e.tweak = 1
		return
	}

	candidate := first
	for _, n := range names {
		if e.start(n) <= number {
			candidate = n
		} else {
			break
		}
	}

	st := e.start(candidate)
	en := e.end(candidate, names)
	e.active = candidate
	if en == st {
		e.tweak = 0
	} else {
		e.tweak = (number - st) / (en - st)
	}
}

// AsNumber computes the enum's current numeric value.
func (e *Enum) AsNumber() float64 {
	names := e.sortedNames()
	st := e.start(e.active)
	en := e.end(e.active, names)
	return st + e.tweak*(en-st)
}

func (e *Enum) Clone() Value {
	cp := &Enum{
		options:       make(map[string]float64, len(e.options)),
		rangeMax:      e.rangeMax,
		active:        e.active,
		tweak:         e.tweak,
		defaultOption: e.defaultOption,
		mode:          e.mode,
		interp:        e.interp,
	}
	for k, v := range e.options {
		cp.options[k] = v
	}
	return cp
}

func (e *Enum) Equals(other Value) bool {
	o, ok := other.(*Enum)
	if !ok {
		return false
	}
	return e.active == o.active && e.tweak == o.tweak
}

func (e *Enum) Compare(other Value) (int, error) {
	o, ok := other.(*Enum)
	if !ok {
		return 0, fmt.Errorf("param: cannot compare Enum to %s", other.Kind())
	}
	a, b := e.AsNumber(), o.AsNumber()
	switch {
	case a < b:
		return -1, nil
	case a > b:
		return 1, nil
	default:
		return 0, nil
	}
}

func (e *Enum) ScaleBy(factor float64) Value {
	cp := e.Clone().(*Enum)
	cp.SetValNumber(e.AsNumber() * factor)
	return cp
}

func (e *Enum) Lerp(other Value, t float64) (Value, error) {
	o, ok := other.(*Enum)
	if !ok {
		return nil, fmt.Errorf("param: cannot lerp Enum with %s", other.Kind())
	}

	snap := func() Value {
		if t <= 0 {
			return e.Clone()
		}
		return o.Clone()
	}

	switch e.interp {
	case InterpSnap:
		return snap(), nil
	case InterpSmoothWithinOption:
		if e.active != o.active {
			return snap(), nil
		}
		cp := e.Clone().(*Enum)
		cp.tweak = lerpf(e.tweak, o.tweak, t)
		return cp, nil
	case InterpSmooth:
		cp := e.Clone().(*Enum)
		cp.SetValNumber(lerpf(e.AsNumber(), o.AsNumber(), t))
		return cp, nil
	default:
		return snap(), nil
	}
}

func (e *Enum) IsDefault() bool {
	return e.active == e.defaultOption && e.tweak == modeTweak(e.mode)
}

func (e *Enum) Reset() {
	e.active = e.defaultOption
	e.tweak = modeTweak(e.mode)
}

func (e *Enum) Kind() Kind { return KindEnum }

type enumNode struct {
	Type       Kind               `json:"type"`
	Active     string             `json:"active"`
	Tweak      float64            `json:"tweak"`
	Mode       EnumMode           `json:"mode"`
	Default    string             `json:"default"`
	RangeMax   float64            `json:"rangeMax"`
	InterpMode EnumInterp         `json:"interpMode"`
	Keys       map[string]float64 `json:"keys"`
}

func (e *Enum) MarshalJSON() ([]byte, error) {
	return json.Marshal(enumNode{
		Type:       KindEnum,
		Active:     e.active,
		Tweak:      e.tweak,
		Mode:       e.mode,
		Default:    e.defaultOption,
		RangeMax:   e.rangeMax,
		InterpMode: e.interp,
		Keys:       e.options,
	})
}

func (e *Enum) UnmarshalJSON(data []byte) error {
	var n enumNode
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if n.Type != KindEnum {
		return fmt.Errorf("%w: %q", ErrUnsupportedType, n.Type)
	}
	e.options = make(map[string]float64, len(n.Keys))
	for k, v := range n.Keys {
		e.options[k] = v
	}
	e.rangeMax = n.RangeMax
	e.defaultOption = n.Default
	e.mode = n.Mode
	e.interp = n.InterpMode
	e.active = n.Active
	e.tweak = n.Tweak
	return nil
}
