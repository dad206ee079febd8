package device

import (
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/lumenrig/lumenrig/internal/param"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

// ── Device ─────────────────────────────────────────────────────────────────

func TestDeviceSetFloatRejectsWrongVariant(t *testing.T) {
	d := New("d1", 1, "par")
	d.Set("mode", param.NewEnum(map[string]float64{"a": 0}, 100, "a", "a", param.ModeFirst, param.InterpSnap))
	if d.SetFloat("mode", 0.5) {
		t.Fatal("expected SetFloat to fail against an Enum parameter")
	}
}

func TestDeviceCloneIsIndependent(t *testing.T) {
	d := New("d1", 1, "par")
	d.Set("intensity", param.NewScalar(0.2, 0, 0, 1))

	cp := d.Clone()
	cp.SetFloat("intensity", 0.9)

	orig, _ := d.Param("intensity")
	if orig.(*param.Scalar).Value() != 0.2 {
		t.Fatalf("expected original untouched by clone mutation, got %v", orig.(*param.Scalar).Value())
	}
}

func TestDeviceCopyValuesFromByName(t *testing.T) {
	src := New("d1", 1, "par")
	src.Set("intensity", param.NewScalar(0.7, 0, 0, 1))

	dst := New("d1", 1, "par")
	dst.Set("intensity", param.NewScalar(0, 0, 0, 1))
	dst.Set("extra", param.NewScalar(0.3, 0, 0, 1))

	dst.CopyValuesFrom(src)

	iv, _ := dst.Param("intensity")
	if iv.(*param.Scalar).Value() != 0.7 {
		t.Fatalf("expected intensity copied from src, got %v", iv.(*param.Scalar).Value())
	}
	ev, _ := dst.Param("extra")
	if ev.(*param.Scalar).Value() != 0.3 {
		t.Fatalf("expected extra left untouched, got %v", ev.(*param.Scalar).Value())
	}
}

func TestDeviceJSONRoundTrip(t *testing.T) {
	d := New("d1", 7, "par")
	d.Set("intensity", param.NewScalar(0.4, 0, 0, 1))
	d.SetMetadata("gel", "R80")

	raw, err := d.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	d2, err := UnmarshalDevice("d1", raw)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d2.Channel() != 7 || d2.Type() != "par" {
		t.Fatalf("expected channel/type to round trip, got %d/%s", d2.Channel(), d2.Type())
	}
	v, ok := d2.Param("intensity")
	if !ok || v.(*param.Scalar).Value() != 0.4 {
		t.Fatalf("expected intensity 0.4 after round trip, got %v %v", v, ok)
	}
	if g, ok := d2.Metadata("gel"); !ok || g != "R80" {
		t.Fatalf("expected metadata gel=R80 after round trip, got %q %v", g, ok)
	}
}

func TestDeviceOnParamChangeFiresOnSet(t *testing.T) {
	d := New("d1", 1, "par")
	d.Set("intensity", param.NewScalar(0, 0, 0, 1))

	var fired int
	d.OnParamChange(func(_ *Device, name string, v param.Value) {
		fired++
		if name != "intensity" {
			t.Fatalf("expected hook for intensity, got %s", name)
		}
	})
	d.SetFloat("intensity", 0.5)
	if fired != 1 {
		t.Fatalf("expected hook fired once, got %d", fired)
	}
}

// ── DeviceSet ──────────────────────────────────────────────────────────────

func newDevices() []*Device {
	d1 := New("d1", 1, "par")
	d1.Set("intensity", param.NewScalar(0.5, 0, 0, 1))
	d1.SetMetadata("zone", "stage-left")

	d2 := New("d2", 2, "par")
	d2.Set("intensity", param.NewScalar(0.1, 0, 0, 1))
	d2.SetMetadata("zone", "stage-right")

	d3 := New("d3", 3, "moving_head")
	d3.Set("intensity", param.NewScalar(1, 0, 0, 1))
	d3.Set("pan", param.NewAngle(270, 0, 0, 540, param.Degree))
	d3.SetMetadata("zone", "stage-left")

	return []*Device{d1, d2, d3}
}

func TestDeviceSetCombinators(t *testing.T) {
	all := FromSlice(newDevices())
	if all.Len() != 3 {
		t.Fatalf("expected 3 devices, got %d", all.Len())
	}

	left := all.Select(func(d *Device) bool {
		z, _ := d.Metadata("zone")
		return z == "stage-left"
	})
	if left.Len() != 2 {
		t.Fatalf("expected 2 stage-left devices, got %d", left.Len())
	}

	right := all.Difference(left)
	if right.Len() != 1 || !right.Contains("d2") {
		t.Fatalf("expected difference to be exactly d2, got %v", right.Devices())
	}

	union := left.Union(right)
	if union.Len() != 3 {
		t.Fatalf("expected union to recombine to 3, got %d", union.Len())
	}

	intersect := left.Intersect(right)
	if intersect.Len() != 0 {
		t.Fatalf("expected disjoint sets to intersect to empty, got %d", intersect.Len())
	}

	removed := all.Remove("d1")
	if removed.Len() != 2 || removed.Contains("d1") {
		t.Fatalf("expected d1 removed, got %v", removed.Devices())
	}
	if !all.Contains("d1") {
		t.Fatal("expected original set unaffected by Remove (immutable view)")
	}
}

func TestDeviceSetBroadcastSetFloat(t *testing.T) {
	set := FromSlice(newDevices())
	set.SetFloat("intensity", 0.9)
	for _, d := range set.Devices() {
		v, _ := d.Param("intensity")
		if v.(*param.Scalar).Value() != 0.9 {
			t.Fatalf("expected every device scaled to 0.9, got %v", v.(*param.Scalar).Value())
		}
	}
}

// ── Query ──────────────────────────────────────────────────────────────────

func TestQueryByChannelRange(t *testing.T) {
	universe := FromSlice(newDevices())
	got := Query(universe, "[#1-2]", testLog())
	if got.Len() != 2 || !got.Contains("d1") || !got.Contains("d2") {
		t.Fatalf("expected d1,d2 for channel range 1-2, got %v", got.Devices())
	}
}

func TestQueryMetadataEquals(t *testing.T) {
	universe := FromSlice(newDevices())
	got := Query(universe, "[$zone=stage-left]", testLog())
	if got.Len() != 2 || !got.Contains("d1") || !got.Contains("d3") {
		t.Fatalf("expected stage-left devices, got %v", got.Devices())
	}
}

func TestQueryParamComparison(t *testing.T) {
	universe := FromSlice(newDevices())
	got := Query(universe, "[@intensity>0.2 f]", testLog())
	if got.Len() != 2 || !got.Contains("d1") || !got.Contains("d3") {
		t.Fatalf("expected devices with intensity>0.2, got %v", got.Devices())
	}
}

func TestQueryParamComparisonAgainstNonScalarVariant(t *testing.T) {
	universe := FromSlice(newDevices())
	got := Query(universe, "[@pan>180 f]", testLog())
	if got.Len() != 1 || !got.Contains("d3") {
		t.Fatalf("expected only d3 (pan=270>180), got %v", got.Devices())
	}

	got = Query(universe, "[@pan<=180 f]", testLog())
	if got.Len() != 0 {
		t.Fatalf("expected no devices with pan<=180, got %v", got.Devices())
	}
}

func TestQueryNegationAndIntersectionAcrossGroups(t *testing.T) {
	universe := FromSlice(newDevices())
	got := Query(universe, "[$zone=stage-left][!#3]", testLog())
	if got.Len() != 1 || !got.Contains("d1") {
		t.Fatalf("expected stage-left minus channel 3 to be d1 only, got %v", got.Devices())
	}
}

func TestQueryMalformedInputReturnsEmptyNotPanic(t *testing.T) {
	universe := FromSlice(newDevices())
	got := Query(universe, "[unmatched", testLog())
	if got.Len() != 0 {
		t.Fatalf("expected empty result for malformed query, got %v", got.Devices())
	}
}
