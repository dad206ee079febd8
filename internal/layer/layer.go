// Package layer implements Component F: a prioritized, blendable running
// state built by playing timelines and flattened onto a shared target
// state each tick under a per-layer blend policy and parameter filter.
package layer

import (
	"sort"
	"sync"

	"github.com/lumenrig/lumenrig/internal/device"
	"github.com/lumenrig/lumenrig/internal/param"
	"github.com/lumenrig/lumenrig/internal/timeline"
)

// BlendMode controls how a layer's current state is combined onto the
// shared flatten target.
type BlendMode string

const (
	// Opaque blends every device and parameter unconditionally.
	Opaque BlendMode = "opaque"
	// NullDefault skips parameters whose layer value is default.
	NullDefault BlendMode = "null_default"
	// NullIntensity skips devices whose intensity scalar is exactly 0.
	NullIntensity BlendMode = "null_intensity"
	// SelectedOnly restricts blending to the layer's selected device set.
	SelectedOnly BlendMode = "selected_only"
)

// Filter restricts which parameter names a layer's blend touches.
// An empty Names set means "no restriction". Invert turns the set into an
// exclusion list.
type Filter struct {
	Names  map[string]struct{}
	Invert bool
}

func (f Filter) allows(name string) bool {
	if len(f.Names) == 0 {
		return true
	}
	_, in := f.Names[name]
	if f.Invert {
		return !in
	}
	return in
}

// Layer holds a private deep copy of every device in the Rig (reset to
// defaults at construction), plays at most one timeline at a time with a
// single queued successor, and blends its current state onto a shared
// target under its BlendMode, Opacity and Filter.
type Layer struct {
	queueMu sync.Mutex

	Name      string
	Priority  int
	BlendMode BlendMode
	Opacity   float64
	Active    bool
	Filter    Filter
	Selected  device.DeviceSet

	state map[string]*device.Device

	activeID     string
	queuedID     string
	startTime    int64
	pausedAccum  int64
	paused       bool
	pauseStartAt int64
	prevTRel     int64
	completed    bool
	pending      []timeline.Event
}

// New constructs a Layer over a deep copy of every device in universe,
// reset to defaults.
func New(name string, priority int, universe device.DeviceSet) *Layer {
	l := &Layer{
		Name:      name,
		Priority:  priority,
		BlendMode: Opaque,
		Opacity:   1,
		Active:    true,
		state:     make(map[string]*device.Device),
	}
	for _, d := range universe.Devices() {
		cp := d.Clone()
		cp.Reset()
		l.state[cp.ID()] = cp
	}
	return l
}

// State returns the layer's private device copy for id, if any.
func (l *Layer) State(id string) (*device.Device, bool) {
	d, ok := l.state[id]
	return d, ok
}

// Play enqueues a timeline id to begin on the next Update call. Only one
// timeline runs at a time per layer; a queued id is promoted at the next
// tick boundary to avoid tearing the currently-playing timeline.
func (l *Layer) Play(timelineID string) {
	l.queueMu.Lock()
	defer l.queueMu.Unlock()
	l.queuedID = timelineID
}

// Pause freezes the layer's elapsed time at its current position.
func (l *Layer) Pause(tNow int64) {
	l.queueMu.Lock()
	defer l.queueMu.Unlock()
	if l.activeID == "" || l.paused {
		return
	}
	l.paused = true
	l.pauseStartAt = tNow
}

// Resume continues a paused layer, accounting for the time spent paused.
func (l *Layer) Resume(tNow int64) {
	l.queueMu.Lock()
	defer l.queueMu.Unlock()
	if !l.paused {
		return
	}
	l.pausedAccum += tNow - l.pauseStartAt
	l.paused = false
}

// Stop clears the play queue and the active timeline, leaving the layer's
// state at whatever point the last Update left it.
func (l *Layer) Stop() {
	l.queueMu.Lock()
	defer l.queueMu.Unlock()
	l.activeID = ""
	l.queuedID = ""
	l.paused = false
	l.completed = false
	l.pending = nil
}

// ActiveTimelineID returns the id of the currently-playing timeline, if
// any.
func (l *Layer) ActiveTimelineID() (string, bool) {
	l.queueMu.Lock()
	defer l.queueMu.Unlock()
	return l.activeID, l.activeID != ""
}

// Snapshot returns the layer's currently-displayed value for every
// identifier. Playback uses this to seed a Cue's dynamic fade-direction
// comparison ahead of a go-to-cue transition.
func (l *Layer) Snapshot() map[string]param.Value {
	return l.snapshotState()
}

// snapshotState builds the identifier -> value map used for UCS keyframe
// resolution at playback start.
func (l *Layer) snapshotState() map[string]param.Value {
	out := make(map[string]param.Value)
	for devID, d := range l.state {
		for _, pname := range d.ParamNames() {
			if v, ok := d.Param(pname); ok {
				out[timeline.Identifier(devID, pname)] = v
			}
		}
	}
	return out
}

// Update advances the layer's active timeline to tNow. reg resolves both
// the active (or queued) timeline id to its playable Instance and any
// sub-timeline references inside it; Playback passes itself.
func (l *Layer) Update(tNow int64, reg timeline.Registry) {
	l.queueMu.Lock()
	defer l.queueMu.Unlock()

	if l.activeID == "" && l.queuedID != "" {
		l.promoteLocked(tNow, reg)
	}
	if l.activeID == "" {
		return
	}

	tl, ok := reg.Lookup(l.activeID)
	if !ok {
		l.activeID = ""
		return
	}

	tRel := l.elapsedLocked(tNow)

	for _, identifier := range tl.Identifiers() {
		val, ok := tl.ValueAt(identifier, tRel, reg)
		if !ok {
			continue
		}
		devID, pname, ok := timeline.SplitIdentifier(identifier)
		if !ok {
			continue
		}
		d, ok := l.state[devID]
		if !ok {
			continue
		}
		d.Set(pname, val.Clone())
	}

	l.pending = append(l.pending, tl.EventsInRange(l.prevTRel, tRel)...)
	l.prevTRel = tRel

	if tl.Done(tRel, reg) && !l.completed {
		l.completed = true
		l.activeID = ""
		l.pending = append(l.pending, tl.EndEvents()...)
		if l.queuedID != "" {
			l.promoteLocked(tNow, reg)
		}
	}
}

// PendingEvents drains the events that fired during Update calls since
// the last drain: every event whose time fell in the half-open window
// (prev_t_rel, t_rel], plus end-events if the timeline completed. The
// caller (Playback) dispatches these synchronously on the tick thread.
func (l *Layer) PendingEvents() []timeline.Event {
	l.queueMu.Lock()
	defer l.queueMu.Unlock()
	out := l.pending
	l.pending = nil
	return out
}

func (l *Layer) promoteLocked(tNow int64, reg timeline.Registry) {
	l.activeID = l.queuedID
	l.queuedID = ""
	l.startTime = tNow
	l.pausedAccum = 0
	l.paused = false
	l.prevTRel = 0
	l.completed = false

	if tl, ok := reg.Lookup(l.activeID); ok {
		tl.SetCurrentState(l.snapshotState())
	}
}

func (l *Layer) elapsedLocked(tNow int64) int64 {
	if l.paused {
		return l.pauseStartAt - l.startTime - l.pausedAccum
	}
	return tNow - l.startTime - l.pausedAccum
}

// ActiveParameters returns the identifiers of the currently-playing
// timeline that are still meaningfully animating: a later keyframe
// exists whose value differs from the value currently interpolated.
// Consumed by a live-state broadcast to avoid shipping parameters that
// are not changing.
func (l *Layer) ActiveParameters(tNow int64, reg timeline.Registry) []string {
	l.queueMu.Lock()
	defer l.queueMu.Unlock()
	if l.activeID == "" {
		return nil
	}
	tl, ok := reg.Lookup(l.activeID)
	if !ok {
		return nil
	}
	tRel := l.elapsedLocked(tNow)
	var out []string
	for _, identifier := range tl.Identifiers() {
		cur, _ := tl.ValueAt(identifier, tRel, reg)
		if tl.IsActiveAt(identifier, tRel, cur) {
			out = append(out, identifier)
		}
	}
	return out
}

// Blend applies the layer's current state onto target under its
// BlendMode, Opacity and Filter.
func (l *Layer) Blend(target map[string]*device.Device) {
	if !l.Active {
		return
	}

	var devices []*device.Device
	if l.BlendMode == SelectedOnly {
		devices = l.Selected.Devices()
	} else {
		devices = make([]*device.Device, 0, len(l.state))
		for _, d := range l.state {
			devices = append(devices, d)
		}
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID() < devices[j].ID() })

	for _, src := range devices {
		localSrc, ok := l.state[src.ID()]
		if !ok {
			continue
		}
		tgt, ok := target[src.ID()]
		if !ok {
			continue
		}

		if l.BlendMode == NullIntensity {
			if iv, ok := localSrc.Param("intensity"); ok {
				if s, ok := iv.(*param.Scalar); ok && s.Value() == 0 {
					continue
				}
			}
		}

		for _, pname := range localSrc.ParamNames() {
			if !l.Filter.allows(pname) {
				continue
			}
			srcVal, ok := localSrc.Param(pname)
			if !ok {
				continue
			}
			if l.BlendMode == NullDefault && srcVal.IsDefault() {
				continue
			}
			tgtVal, ok := tgt.Param(pname)
			if !ok {
				continue
			}
			blended, err := tgtVal.Lerp(srcVal, l.Opacity)
			if err != nil {
				continue
			}
			tgt.Set(pname, blended)
		}
	}
}

// Node is the persisted shape of a Layer's configuration. Its
// mid-fade playback position (active/queued timeline id, elapsed time) is
// deliberately excluded: only the active-timeline-less config round-trips.
type Node struct {
	Priority     int       `json:"priority"`
	BlendMode    BlendMode `json:"blendMode"`
	Opacity      float64   `json:"opacity"`
	Active       bool      `json:"active"`
	FilterNames  []string  `json:"filterNames,omitempty"`
	FilterInvert bool      `json:"filterInvert,omitempty"`
	Selected     []string  `json:"selected,omitempty"`
}

// ToNode captures the layer's persisted configuration.
func (l *Layer) ToNode() Node {
	names := make([]string, 0, len(l.Filter.Names))
	for n := range l.Filter.Names {
		names = append(names, n)
	}
	sort.Strings(names)

	selected := make([]string, 0, l.Selected.Len())
	for _, d := range l.Selected.Devices() {
		selected = append(selected, d.ID())
	}
	sort.Strings(selected)

	return Node{
		Priority:     l.Priority,
		BlendMode:    l.BlendMode,
		Opacity:      l.Opacity,
		Active:       l.Active,
		FilterNames:  names,
		FilterInvert: l.Filter.Invert,
		Selected:     selected,
	}
}

// ApplyNode restores a layer's persisted configuration, resolving the
// selected-device-id list against universe.
func (l *Layer) ApplyNode(n Node, universe device.DeviceSet) {
	l.Priority = n.Priority
	l.BlendMode = n.BlendMode
	l.Opacity = n.Opacity
	l.Active = n.Active

	names := make(map[string]struct{}, len(n.FilterNames))
	for _, name := range n.FilterNames {
		names[name] = struct{}{}
	}
	l.Filter = Filter{Names: names, Invert: n.FilterInvert}

	sel := device.Empty()
	for _, id := range n.Selected {
		if d, ok := universe.Get(id); ok {
			sel = sel.Add(d)
		}
	}
	l.Selected = sel
}
