package cue

import (
	"testing"

	"github.com/lumenrig/lumenrig/internal/param"
)

func scalar(v float64) *param.Scalar { return param.NewScalar(v, 0, 0, 1) }

// ── Classification ──

func TestTypeStandalone(t *testing.T) {
	c := New("c1", 2, 2, 0)
	c.RecordIdentifier("d1:intensity", scalar(0), false, scalar(1))
	if got := c.Type(); got != Standalone {
		t.Fatalf("Type = %v, want Standalone", got)
	}
}

func TestTypeLinked(t *testing.T) {
	c := New("c1", 2, 2, 0)
	c.RecordIdentifier("d1:intensity", scalar(0), false, nil)
	if got := c.Type(); got != Linked {
		t.Fatalf("Type = %v, want Linked", got)
	}
}

func TestTypeHybrid(t *testing.T) {
	c := New("c1", 2, 2, 0)
	c.RecordIdentifier("d1:intensity", scalar(0), false, scalar(1))
	c.RecordIdentifier("d2:intensity", scalar(0), false, nil)
	if got := c.Type(); got != Hybrid {
		t.Fatalf("Type = %v, want Hybrid", got)
	}
}

// ── Dynamic fade selection ──

func TestPrepareGoToInvariantKeyframes(t *testing.T) {
	c := New("c1", 1.0, 3.0, 0.5)
	c.RecordIdentifier("d1:intensity", scalar(0), false, scalar(1))

	c.PrepareGoTo(map[string]param.Value{"d1:intensity": scalar(0)})

	if _, ok := c.Keyframe("d1:intensity", 0); !ok {
		t.Fatal("expected a start keyframe at t=0")
	}
	if _, ok := c.Keyframe("d1:intensity", 500); !ok {
		t.Fatal("expected a no-op hold keyframe at delay*1000")
	}
	// increasing (0 -> 1): up-fade of 1.0s selected, plus 0.5s delay = 1500ms
	if _, ok := c.Keyframe("d1:intensity", 1500); !ok {
		t.Fatal("expected the end keyframe moved to (up+delay)*1000")
	}
}

func TestPrepareGoToSelectsUpFadeWhenIncreasing(t *testing.T) {
	c := New("c1", 1.0, 3.0, 0)
	c.RecordIdentifier("d1:intensity", scalar(0), false, scalar(1))
	c.PrepareGoTo(nil)

	if _, ok := c.Keyframe("d1:intensity", 1000); !ok {
		t.Fatal("expected end keyframe at up-fade time (1000ms)")
	}
}

func TestPrepareGoToSelectsDownFadeWhenDecreasing(t *testing.T) {
	c := New("c1", 1.0, 3.0, 0)
	c.RecordIdentifier("d1:intensity", scalar(1), false, scalar(0))
	c.PrepareGoTo(nil)

	if _, ok := c.Keyframe("d1:intensity", 3000); !ok {
		t.Fatal("expected end keyframe at down-fade time (3000ms)")
	}
}

func TestPrepareGoToEqualSelectsDownFade(t *testing.T) {
	c := New("c1", 1.0, 3.0, 0)
	c.RecordIdentifier("d1:intensity", scalar(0.5), false, scalar(0.5))
	c.PrepareGoTo(nil)

	if _, ok := c.Keyframe("d1:intensity", 3000); !ok {
		t.Fatal("equal start/end should select the down-fade")
	}
}

// ── Symmetric fade between two static cues ──

func TestSymmetricFadeBetweenStaticCues(t *testing.T) {
	a := New("cueA", 2.0, 2.0, 0)
	a.RecordIdentifier("d1:intensity", scalar(0), false, scalar(0))
	a.PrepareGoTo(nil)

	b := New("cueB", 2.0, 2.0, 0)
	b.RecordIdentifier("d1:intensity", scalar(0), false, scalar(1))
	b.PrepareGoTo(map[string]param.Value{"d1:intensity": scalar(0)})

	mid, ok := b.ValueAt("d1:intensity", 1000, nil)
	if !ok {
		t.Fatal("expected a value at t=1000ms")
	}
	if got := mid.(*param.Scalar).Value(); got < 0.499 || got > 0.501 {
		t.Fatalf("t=1s value = %v, want ~0.5", got)
	}

	end, _ := b.ValueAt("d1:intensity", 2000, nil)
	if got := end.(*param.Scalar).Value(); got != 1.0 {
		t.Fatalf("t=2s value = %v, want 1.0", got)
	}
	after, _ := b.ValueAt("d1:intensity", 3000, nil)
	if got := after.(*param.Scalar).Value(); got != 1.0 {
		t.Fatalf("t=3s value = %v, want 1.0 (terminal clamp)", got)
	}
	_ = a
}

// ── Directional timing ──

func TestDirectionalFadeTiming(t *testing.T) {
	b := New("cueB", 1.0, 3.0, 0)
	b.RecordIdentifier("d1:intensity", scalar(0), false, scalar(1))
	b.PrepareGoTo(map[string]param.Value{"d1:intensity": scalar(0)})

	v, ok := b.ValueAt("d1:intensity", 500, nil)
	if !ok {
		t.Fatal("expected a value at t=500ms")
	}
	if got := v.(*param.Scalar).Value(); got < 0.499 || got > 0.501 {
		t.Fatalf("t=0.5s value = %v, want ~0.5 (half of the 1s up-fade)", got)
	}
}

// ── CueList ──

func TestCueListStoreOverwrite(t *testing.T) {
	cl := NewCueList("main")
	if err := cl.Store(1, "t1", false); err != nil {
		t.Fatalf("first store: %v", err)
	}
	if err := cl.Store(1, "t2", false); err == nil {
		t.Fatal("expected an error overwriting without the flag")
	}
	if err := cl.Store(1, "t2", true); err != nil {
		t.Fatalf("overwrite with flag: %v", err)
	}
	if id, _ := cl.Lookup(1); id != "t2" {
		t.Fatalf("Lookup(1) = %q, want t2", id)
	}
}

func TestCueListNextPrevIndex(t *testing.T) {
	cl := NewCueList("main")
	_ = cl.Store(1, "t1", false)
	_ = cl.Store(2, "t2", false)
	_ = cl.Store(5, "t5", false)

	if num, id, ok := cl.Next(2); !ok || num != 5 || id != "t5" {
		t.Fatalf("Next(2) = %v, %v, %v", num, id, ok)
	}
	if _, _, ok := cl.Next(5); ok {
		t.Fatal("Next past the end should fail")
	}
	if num, id, ok := cl.Prev(2); !ok || num != 1 || id != "t1" {
		t.Fatalf("Prev(2) = %v, %v, %v", num, id, ok)
	}
	if _, _, ok := cl.Prev(1); ok {
		t.Fatal("Prev before the start should fail")
	}
	if num, id, ok := cl.Index(1); !ok || num != 2 || id != "t2" {
		t.Fatalf("Index(1) = %v, %v, %v", num, id, ok)
	}
}

func TestCueListDeleteCascades(t *testing.T) {
	cl := NewCueList("main")
	_ = cl.Store(1, "t1", false)

	fake := &fakeDeleter{}
	cl.Delete(1, true, fake)

	if _, ok := cl.Lookup(1); ok {
		t.Fatal("expected cue number to be removed")
	}
	if len(fake.deleted) != 1 || fake.deleted[0] != "t1" {
		t.Fatalf("expected cascaded delete of t1, got %v", fake.deleted)
	}
}

type fakeDeleter struct{ deleted []string }

func (f *fakeDeleter) DeleteTimeline(id string) { f.deleted = append(f.deleted, id) }

// ── JSON round-trip ──

func TestCueJSONRoundTrip(t *testing.T) {
	c := New("c1", 1.5, 2.5, 0.1)
	c.RecordIdentifier("d1:intensity", scalar(0), false, scalar(1))

	data, err := c.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	round, err := UnmarshalCue("c1", data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if round.UpFade != 1.5 || round.DownFade != 2.5 || round.Delay != 0.1 {
		t.Fatalf("fades = %+v, %+v, %+v", round.UpFade, round.DownFade, round.Delay)
	}
	if round.ID() != "c1" {
		t.Fatalf("ID = %q, want c1", round.ID())
	}
}
