package param

import "testing"

func redBlueGreen(mode EnumMode, interp EnumInterp) *Enum {
	return NewEnum(map[string]float64{"Red": 0, "Blue": 101, "Green": 201}, 255, "Red", "Red", mode, interp)
}

// ── Numeric round-trip ───────────────────────────────────────────────────

func TestEnum_SetValNumberRoundTrip(t *testing.T) {
	e := redBlueGreen(ModeCenter, InterpSmooth)
	if err := e.SetValNameTweak("Blue", 0.25); err != nil {
		t.Fatalf("SetValNameTweak: %v", err)
	}
	n := e.AsNumber()
	e.SetValNumber(n)
	if e.Active() != "Blue" {
		t.Fatalf("Active() = %q, want Blue", e.Active())
	}
	if diff := e.Tweak() - 0.25; diff > 1e-6 || diff < -1e-6 {
		t.Fatalf("Tweak() = %v, want ~0.25", e.Tweak())
	}
}

func TestEnum_SetValNumberClampsBelowFirst(t *testing.T) {
	e := redBlueGreen(ModeCenter, InterpSmooth)
	e.SetValNumber(-50)
	if e.Active() != "Red" || e.Tweak() != 0 {
		t.Fatalf("got (%q, %v), want (Red, 0)", e.Active(), e.Tweak())
	}
}

func TestEnum_SetValNumberClampsAboveRangeMax(t *testing.T) {
	e := redBlueGreen(ModeCenter, InterpSmooth)
	e.SetValNumber(999)
	if e.Active() != "Green" || e.Tweak() != 1 {
		t.Fatalf("got (%q, %v), want (Green, 1)", e.Active(), e.Tweak())
	}
}

func TestEnum_SetValNumberTieBreaksToStartingOption(t *testing.T) {
	e := redBlueGreen(ModeCenter, InterpSmooth)
	e.SetValNumber(101) // exactly Blue's start
	if e.Active() != "Blue" {
		t.Fatalf("Active() = %q, want Blue", e.Active())
	}
}

// ── set_val(name) failure ────────────────────────────────────────────────

func TestEnum_SetValNameUnknownFails(t *testing.T) {
	e := redBlueGreen(ModeCenter, InterpSmooth)
	before := e.Active()
	if err := e.SetValName("Purple"); err == nil {
		t.Fatal("expected error for unknown option")
	}
	if e.Active() != before {
		t.Fatalf("state mutated after failed SetValName: %q", e.Active())
	}
}

// ── S6: snap vs smooth (spec end-to-end scenario) ───────────────────────

func TestEnum_SnapAtKeyframeBoundaries(t *testing.T) {
	red := redBlueGreen(ModeCenter, InterpSnap)
	blue := redBlueGreen(ModeCenter, InterpSnap)
	_ = blue.SetValName("Blue")

	at999, _ := red.Lerp(blue, 0.999)
	if got := at999.(*Enum).AsNumber(); got != red.AsNumber() {
		t.Fatalf("SNAP before boundary = %v, want Red's number %v", got, red.AsNumber())
	}

	atBoundary, _ := red.Lerp(blue, 1)
	if got := atBoundary.(*Enum).AsNumber(); got != blue.AsNumber() {
		t.Fatalf("SNAP at boundary = %v, want Blue's number %v", got, blue.AsNumber())
	}
}

func TestEnum_SmoothHalfway(t *testing.T) {
	red := redBlueGreen(ModeCenter, InterpSmooth)
	blue := redBlueGreen(ModeCenter, InterpSmooth)
	_ = blue.SetValName("Blue")

	half, _ := red.Lerp(blue, 0.5)
	got := half.(*Enum).AsNumber()
	want := (red.AsNumber() + blue.AsNumber()) / 2
	if diff := got - want; diff > 1e-6 || diff < -1e-6 {
		t.Fatalf("SMOOTH halfway = %v, want %v", got, want)
	}
}

func TestEnum_SmoothWithinOptionSnapsAcrossOptions(t *testing.T) {
	red := redBlueGreen(ModeCenter, InterpSmoothWithinOption)
	blue := redBlueGreen(ModeCenter, InterpSmoothWithinOption)
	_ = blue.SetValName("Blue")

	mid, _ := red.Lerp(blue, 0.5)
	if mid.(*Enum).Active() != "Blue" {
		t.Fatalf("SMOOTH_WITHIN_OPTION across options should snap, got active=%q", mid.(*Enum).Active())
	}
}

func TestEnum_IsDefault(t *testing.T) {
	e := redBlueGreen(ModeCenter, InterpSmooth)
	if !e.IsDefault() {
		t.Fatal("expected IsDefault() true at construction (active=default, tweak=mode tweak)")
	}
	_ = e.SetValName("Blue")
	if e.IsDefault() {
		t.Fatal("expected IsDefault() false after switching option")
	}
	e.Reset()
	if !e.IsDefault() {
		t.Fatal("expected IsDefault() true after Reset")
	}
}

func TestEnum_JSONRoundTrip(t *testing.T) {
	e := redBlueGreen(ModeCenter, InterpSmooth)
	_ = e.SetValNameTweak("Blue", 0.3)
	data, err := e.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	v, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !v.Equals(e) {
		t.Fatalf("round-tripped value %v != original %v", v, e)
	}
}
