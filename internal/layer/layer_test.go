package layer

import (
	"testing"

	"github.com/lumenrig/lumenrig/internal/cue"
	"github.com/lumenrig/lumenrig/internal/device"
	"github.com/lumenrig/lumenrig/internal/param"
	"github.com/lumenrig/lumenrig/internal/timeline"
)

func oneDeviceUniverse() device.DeviceSet {
	d := device.New("d1", 1, "par")
	d.Set("intensity", param.NewScalar(0, 0, 0, 1))
	return device.FromSlice([]*device.Device{d})
}

type staticRegistry map[string]timeline.Instance

func (r staticRegistry) Lookup(id string) (timeline.Instance, bool) {
	v, ok := r[id]
	return v, ok
}

func freshTarget(universe device.DeviceSet) map[string]*device.Device {
	out := make(map[string]*device.Device)
	for _, d := range universe.Devices() {
		cp := d.Clone()
		cp.Reset()
		out[cp.ID()] = cp
	}
	return out
}

// ── Blend at opacity 0 and 1 ──

func TestBlendOpacityZeroLeavesTargetUnchanged(t *testing.T) {
	universe := oneDeviceUniverse()
	l := New("L", 0, universe)
	l.Opacity = 0
	l.state["d1"].SetFloat("intensity", 1)

	target := freshTarget(universe)
	l.Blend(target)

	v, _ := target["d1"].Param("intensity")
	if got := v.(*param.Scalar).Value(); got != 0 {
		t.Fatalf("opacity 0 should leave target untouched, got %v", got)
	}
}

func TestBlendOpaqueOpacityOneMatchesLayerState(t *testing.T) {
	universe := oneDeviceUniverse()
	l := New("L", 0, universe)
	l.Opacity = 1
	l.state["d1"].SetFloat("intensity", 1)

	target := freshTarget(universe)
	l.Blend(target)

	v, _ := target["d1"].Param("intensity")
	if got := v.(*param.Scalar).Value(); got != 1 {
		t.Fatalf("opaque opacity 1 should match layer state, got %v", got)
	}
}

// ── Two layers with opacity ──

func TestTwoLayersBlendWithOpacity(t *testing.T) {
	universe := oneDeviceUniverse()

	a := New("A", 0, universe)
	a.Opacity = 1
	a.state["d1"].SetFloat("intensity", 1)

	b := New("B", 1, universe)
	b.Opacity = 0.25
	b.state["d1"].SetFloat("intensity", 0)

	target := freshTarget(universe)
	a.Blend(target)
	b.Blend(target)

	v, _ := target["d1"].Param("intensity")
	got := v.(*param.Scalar).Value()
	if got < 0.749 || got > 0.751 {
		t.Fatalf("flattened intensity = %v, want 0.75", got)
	}
}

// ── NullIntensity / NullDefault / Filter ──

func TestNullIntensitySkipsZeroIntensityDevices(t *testing.T) {
	universe := oneDeviceUniverse()
	l := New("L", 0, universe)
	l.BlendMode = NullIntensity
	l.Opacity = 1
	l.state["d1"].SetFloat("intensity", 0)

	target := freshTarget(universe)
	target["d1"].SetFloat("intensity", 0.7)
	l.Blend(target)

	v, _ := target["d1"].Param("intensity")
	if got := v.(*param.Scalar).Value(); got != 0.7 {
		t.Fatalf("zero-intensity device should be skipped, target changed to %v", got)
	}
}

func TestNullDefaultSkipsDefaultParameters(t *testing.T) {
	universe := oneDeviceUniverse()
	l := New("L", 0, universe)
	l.BlendMode = NullDefault
	l.Opacity = 1
	// layer value stays at default (0)

	target := freshTarget(universe)
	target["d1"].SetFloat("intensity", 0.5)
	l.Blend(target)

	v, _ := target["d1"].Param("intensity")
	if got := v.(*param.Scalar).Value(); got != 0.5 {
		t.Fatalf("default-valued parameter should be skipped, target changed to %v", got)
	}
}

func TestFilterInvert(t *testing.T) {
	f := Filter{Names: map[string]struct{}{"pan": {}}, Invert: true}
	if f.allows("pan") {
		t.Fatal("inverted filter should exclude the named parameter")
	}
	if !f.allows("intensity") {
		t.Fatal("inverted filter should allow everything else")
	}
}

// ── Play / Update lifecycle ──

func TestPlayPromotesOnNextUpdate(t *testing.T) {
	universe := oneDeviceUniverse()
	l := New("L", 0, universe)

	tl := timeline.New("t1", 1)
	tl.SetKeyframe("d1:intensity", 0, param.NewScalar(0, 0, 0, 1), false)
	tl.SetKeyframe("d1:intensity", 1000, param.NewScalar(1, 0, 0, 1), false)
	reg := staticRegistry{"t1": tl}

	l.Play("t1")
	l.Update(0, reg)

	if id, ok := l.ActiveTimelineID(); !ok || id != "t1" {
		t.Fatalf("expected t1 active, got %q, %v", id, ok)
	}

	l.Update(500, reg)
	v, _ := l.state["d1"].Param("intensity")
	got := v.(*param.Scalar).Value()
	if got < 0.499 || got > 0.501 {
		t.Fatalf("mid-fade value = %v, want ~0.5", got)
	}
}

func TestStopClearsActiveAndQueued(t *testing.T) {
	universe := oneDeviceUniverse()
	l := New("L", 0, universe)
	l.Play("t1")
	l.Stop()
	if id, ok := l.ActiveTimelineID(); ok {
		t.Fatalf("expected no active timeline after Stop, got %q", id)
	}
}

// ── Event dispatch ──

func TestUpdateCollectsEventsInHalfOpenWindow(t *testing.T) {
	universe := oneDeviceUniverse()
	l := New("L", 0, universe)

	tl := timeline.New("t1", 1)
	tl.SetKeyframe("d1:intensity", 0, param.NewScalar(0, 0, 0, 1), false)
	tl.SetKeyframe("d1:intensity", 1000, param.NewScalar(1, 0, 0, 1), false)
	tl.AddEvent(500, timeline.Event{Name: "strobe_on"})
	tl.SetEndEvent("done", timeline.Event{Name: "blackout"})
	reg := staticRegistry{"t1": tl}

	l.Play("t1")
	l.Update(0, reg)

	l.Update(400, reg)
	if got := l.PendingEvents(); len(got) != 0 {
		t.Fatalf("no event should fire before its time, got %+v", got)
	}

	l.Update(600, reg)
	got := l.PendingEvents()
	if len(got) != 1 || got[0].Name != "strobe_on" {
		t.Fatalf("expected strobe_on in window (400, 600], got %+v", got)
	}
	if got := l.PendingEvents(); len(got) != 0 {
		t.Fatalf("drain should not repeat events, got %+v", got)
	}

	l.Update(1100, reg)
	got = l.PendingEvents()
	if len(got) != 1 || got[0].Name != "blackout" {
		t.Fatalf("expected the end-event once on completion, got %+v", got)
	}
}

// ── Cue playback through a layer ──

func TestLayerPlaysCue(t *testing.T) {
	universe := oneDeviceUniverse()
	l := New("L", 0, universe)

	c := cue.New("c1", 1.0, 1.0, 0)
	c.RecordIdentifier("d1:intensity", param.NewScalar(0, 0, 0, 1), false, param.NewScalar(1, 0, 0, 1))
	c.PrepareGoTo(nil)

	reg := staticRegistry{"c1": c}
	l.Play("c1")
	l.Update(0, reg)
	l.Update(500, reg)

	v, _ := l.state["d1"].Param("intensity")
	got := v.(*param.Scalar).Value()
	if got < 0.499 || got > 0.501 {
		t.Fatalf("cue mid-fade value = %v, want ~0.5", got)
	}
}
