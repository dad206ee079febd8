package timeline

import (
	"testing"

	"github.com/lumenrig/lumenrig/internal/param"
)

// ── Identifier ──

func TestIdentifierRoundTrip(t *testing.T) {
	id := Identifier("d1", "intensity")
	dev, p, ok := SplitIdentifier(id)
	if !ok || dev != "d1" || p != "intensity" {
		t.Fatalf("SplitIdentifier(%q) = %q, %q, %v", id, dev, p, ok)
	}
}

// ── Basic interpolation ──

func scalar(v float64) *param.Scalar { return param.NewScalar(v, 0, 0, 1) }

func TestValueAtMidpoint(t *testing.T) {
	tl := New("t1", 1)
	tl.SetKeyframe("d1:intensity", 0, scalar(0), false)
	tl.SetKeyframe("d1:intensity", 1000, scalar(1), false)

	v, ok := tl.ValueAt("d1:intensity", 500, nil)
	if !ok {
		t.Fatal("expected a value")
	}
	if got := v.(*param.Scalar).Value(); got < 0.499 || got > 0.501 {
		t.Fatalf("midpoint = %v, want ~0.5", got)
	}
}

func TestValueAtTerminalClamp(t *testing.T) {
	tl := New("t1", 1)
	tl.SetKeyframe("d1:intensity", 0, scalar(0), false)
	tl.SetKeyframe("d1:intensity", 1000, scalar(1), false)

	v, ok := tl.ValueAt("d1:intensity", 5000, nil)
	if !ok {
		t.Fatal("expected a value")
	}
	if got := v.(*param.Scalar).Value(); got != 1 {
		t.Fatalf("terminal clamp = %v, want 1", got)
	}
}

func TestValueAtMissingIdentifier(t *testing.T) {
	tl := New("t1", 1)
	if _, ok := tl.ValueAt("nope:intensity", 0, nil); ok {
		t.Fatal("expected no value for an identifier with no keyframes")
	}
}

func TestInfiniteLoopWraps(t *testing.T) {
	tl := New("t1", -1)
	tl.SetKeyframe("d1:intensity", 0, scalar(0), false)
	tl.SetKeyframe("d1:intensity", 1000, scalar(1), false)

	a, _ := tl.ValueAt("d1:intensity", 500, nil)
	b, _ := tl.ValueAt("d1:intensity", 1500, nil)
	if a.(*param.Scalar).Value() != b.(*param.Scalar).Value() {
		t.Fatalf("value_at(t) != value_at(t+loop_length): %v vs %v",
			a.(*param.Scalar).Value(), b.(*param.Scalar).Value())
	}
}

// ── Sub-timeline references ──

type staticRegistry map[string]Instance

func (r staticRegistry) Lookup(id string) (Instance, bool) {
	v, ok := r[id]
	return v, ok
}

func TestReferenceRecursion(t *testing.T) {
	sub := New("sub", 1)
	sub.SetKeyframe("d1:intensity", 0, scalar(0), false)
	sub.SetKeyframe("d1:intensity", 1000, scalar(1), false)

	host := New("host", 1)
	host.SetKeyframeRef("d1:intensity", 0, "sub", 0)
	host.SetKeyframe("d1:intensity", 2000, scalar(1), false)

	reg := staticRegistry{"sub": sub}

	v, ok := host.ValueAt("d1:intensity", 500, reg)
	if !ok {
		t.Fatal("expected a resolved value through the reference")
	}
	if got := v.(*param.Scalar).Value(); got < 0.24 || got > 0.26 {
		t.Fatalf("referenced value = %v, want ~0.25", got)
	}
}

func TestReferenceMissingReturnsNil(t *testing.T) {
	host := New("host", 1)
	host.SetKeyframeRef("d1:intensity", 0, "ghost", 0)
	host.SetKeyframe("d1:intensity", 1000, scalar(1), false)

	if _, ok := host.ValueAt("d1:intensity", 500, staticRegistry{}); ok {
		t.Fatal("expected nil when the referenced timeline is missing")
	}
}

// ── Use-current-state ──

func TestSetCurrentStateResolvesUCS(t *testing.T) {
	tl := New("t1", 1)
	tl.SetKeyframe("d1:intensity", 0, nil, true)
	tl.SetKeyframe("d1:intensity", 1000, scalar(1), false)

	tl.SetCurrentState(map[string]param.Value{"d1:intensity": scalar(0.4)})

	kf, ok := tl.Keyframe("d1:intensity", 0)
	if !ok || kf.Value == nil {
		t.Fatal("expected UCS keyframe to be resolved")
	}
	if got := kf.Value.(*param.Scalar).Value(); got != 0.4 {
		t.Fatalf("UCS value = %v, want 0.4", got)
	}
}

func TestSetCurrentStateLeavesUnresolvedAsNil(t *testing.T) {
	tl := New("t1", 1)
	tl.SetKeyframe("d1:intensity", 0, nil, true)
	tl.SetKeyframe("d1:intensity", 1000, scalar(1), false)

	tl.SetCurrentState(map[string]param.Value{})

	if _, ok := tl.ValueAt("d1:intensity", 500, nil); ok {
		t.Fatal("unresolved UCS keyframe should make the span nil-producing")
	}
}

// ── Events ──

func TestEventsInRangeHalfOpen(t *testing.T) {
	tl := New("t1", 1)
	tl.AddEvent(100, Event{Name: "a"})
	tl.AddEvent(200, Event{Name: "b"})
	tl.AddEvent(200, Event{Name: "c"})

	got := tl.EventsInRange(50, 200)
	if len(got) != 3 || got[0].Name != "a" || got[1].Name != "b" || got[2].Name != "c" {
		t.Fatalf("EventsInRange = %+v", got)
	}

	if got := tl.EventsInRange(200, 200); len(got) != 0 {
		t.Fatalf("empty window should fire nothing, got %+v", got)
	}
}

func TestEventsRecurPerLoopIteration(t *testing.T) {
	tl := New("t1", -1)
	tl.SetKeyframe("d1:intensity", 0, scalar(0), false)
	tl.SetKeyframe("d1:intensity", 1000, scalar(1), false)
	tl.AddEvent(500, Event{Name: "pulse"})

	if got := tl.EventsInRange(400, 600); len(got) != 1 {
		t.Fatalf("first iteration: got %+v", got)
	}
	if got := tl.EventsInRange(1400, 1600); len(got) != 1 {
		t.Fatalf("second iteration should refire the looped event, got %+v", got)
	}
	if got := tl.EventsInRange(1600, 1900); len(got) != 0 {
		t.Fatalf("no occurrence inside (1600, 1900], got %+v", got)
	}
}

func TestEventsStopAfterFinalLoop(t *testing.T) {
	tl := New("t1", 2)
	tl.SetKeyframe("d1:intensity", 0, scalar(0), false)
	tl.SetKeyframe("d1:intensity", 1000, scalar(1), false)
	tl.AddEvent(500, Event{Name: "pulse"})

	if got := tl.EventsInRange(1400, 1600); len(got) != 1 {
		t.Fatalf("second of two loops should still fire, got %+v", got)
	}
	if got := tl.EventsInRange(2400, 2600); len(got) != 0 {
		t.Fatalf("no firing past loops*loop_length, got %+v", got)
	}
}

// ── Doneness ──

func TestDoneRequiresFiniteLoopsAndElapsedTime(t *testing.T) {
	tl := New("t1", 1)
	tl.SetKeyframe("d1:intensity", 0, scalar(0), false)
	tl.SetKeyframe("d1:intensity", 1000, scalar(1), false)

	if tl.Done(500, nil) {
		t.Fatal("should not be done before length elapses")
	}
	if !tl.Done(1001, nil) {
		t.Fatal("should be done once elapsed time exceeds length")
	}
}

func TestInfiniteLoopNeverDone(t *testing.T) {
	tl := New("t1", -1)
	tl.SetKeyframe("d1:intensity", 0, scalar(0), false)
	tl.SetKeyframe("d1:intensity", 1000, scalar(1), false)

	if tl.Done(10_000_000, nil) {
		t.Fatal("infinite loop timeline should never be done")
	}
}

// ── JSON round-trip ──

func TestTimelineJSONRoundTrip(t *testing.T) {
	tl := New("t1", 3)
	tl.SetKeyframe("d1:intensity", 0, scalar(0), false)
	tl.SetKeyframe("d1:intensity", 1000, scalar(1), false)
	tl.AddEvent(500, Event{Name: "flash", Params: map[string]string{"k": "v"}})
	tl.SetEndEvent("finale", Event{Name: "blackout"})

	data, err := tl.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	round := New("t1", 0)
	if err := round.UnmarshalJSON(data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if round.Loops() != 3 {
		t.Fatalf("loops = %d, want 3", round.Loops())
	}
	v, ok := round.ValueAt("d1:intensity", 500, nil)
	if !ok || v.(*param.Scalar).Value() < 0.49 || v.(*param.Scalar).Value() > 0.51 {
		t.Fatalf("round-tripped midpoint wrong: %+v, %v", v, ok)
	}
	if len(round.EventsInRange(0, 500)) != 1 {
		t.Fatal("expected the round-tripped event to fire")
	}
	if len(round.EndEvents()) != 1 {
		t.Fatal("expected the round-tripped end-event")
	}
}

// ── SineWave ──

func TestSineTimelineOscillates(t *testing.T) {
	st := NewSineTimeline("sine1")
	st.SetCurve("d1:pan", SineWave{Period: 1000, Amplitude: 10, Offset: 50})

	if st.Done(1_000_000, nil) {
		t.Fatal("a sine timeline never completes")
	}
	v0, ok := st.ValueAt("d1:pan", 0, nil)
	if !ok {
		t.Fatal("expected a value at t=0")
	}
	if got := v0.(*param.Scalar).Value(); got < 49.9 || got > 50.1 {
		t.Fatalf("sine at phase 0 = %v, want ~50 (offset)", got)
	}

	quarter, _ := st.ValueAt("d1:pan", 250, nil)
	if got := quarter.(*param.Scalar).Value(); got < 59.9 || got > 60.1 {
		t.Fatalf("sine at quarter period = %v, want ~60 (offset+amplitude)", got)
	}
}
