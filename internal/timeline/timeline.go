// Package timeline implements Component D: keyframed, optionally looping,
// nestable per-parameter animation, scheduled side-effect events, and the
// "use current state" keyframe mode a Layer snapshots at playback start.
package timeline

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/lumenrig/lumenrig/internal/param"
)

// maxRefDepth guards against cyclic sub-timeline references.
const maxRefDepth = 32

// Identifier joins a device id and parameter name into the keyframe-track
// key used throughout the show document and the playback hot path.
func Identifier(deviceID, paramName string) string {
	return deviceID + ":" + paramName
}

// SplitIdentifier reverses Identifier. ok is false if sep is missing.
func SplitIdentifier(identifier string) (deviceID, paramName string, ok bool) {
	idx := strings.LastIndex(identifier, ":")
	if idx < 0 {
		return "", "", false
	}
	return identifier[:idx], identifier[idx+1:], true
}

// Event is a scheduled side-effect: a named action with string parameters,
// dispatched synchronously on the tick thread. Contract: handlers must
// return promptly — long-running events are forbidden.
type Event struct {
	Name   string
	Params map[string]string
}

// Registry resolves a sub-timeline reference by id. Playback is the
// concrete implementation; Timeline and SineTimeline hold no pointers into
// it, only ids, so references are never stale across a reload.
type Registry interface {
	Lookup(id string) (Instance, bool)
}

// RegistryFunc adapts a plain function to Registry.
type RegistryFunc func(id string) (Instance, bool)

func (f RegistryFunc) Lookup(id string) (Instance, bool) { return f(id) }

// Instance is the shared contract every timeline kind (keyframed Timeline,
// Cue, SineTimeline) implements so a Layer can play any of them
// interchangeably.
type Instance interface {
	ID() string
	Identifiers() []string
	ValueAt(identifier string, t int64, reg Registry) (param.Value, bool)
	SetCurrentState(state map[string]param.Value)
	EventsInRange(prevT, curT int64) []Event
	EndEvents() []Event
	Done(t int64, reg Registry) bool
	Length() int64 // -1 means unbounded
	IsActiveAt(identifier string, t int64, current param.Value) bool
}

// Keyframe is either a static value (optionally flagged "use current
// state") or a reference to another timeline by id, offset by RefOffset
// milliseconds.
type Keyframe struct {
	Time            int64
	Value           param.Value
	UseCurrentState bool
	RefTimelineID   string
	RefOffset       int64
}

func (k Keyframe) isReference() bool { return k.RefTimelineID != "" }

// track is an ordered map from time-ms to Keyframe for one identifier.
type track struct {
	order  []int64
	byTime map[int64]Keyframe
}

func newTrack() *track {
	return &track{byTime: make(map[int64]Keyframe)}
}

func (tr *track) set(kf Keyframe) {
	if _, exists := tr.byTime[kf.Time]; !exists {
		tr.order = append(tr.order, kf.Time)
		sort.Slice(tr.order, func(i, j int) bool { return tr.order[i] < tr.order[j] })
	}
	tr.byTime[kf.Time] = kf
}

func (tr *track) remove(t int64) {
	if _, ok := tr.byTime[t]; !ok {
		return
	}
	delete(tr.byTime, t)
	for i, tm := range tr.order {
		if tm == t {
			tr.order = append(tr.order[:i], tr.order[i+1:]...)
			break
		}
	}
}

func (tr *track) lastTime() (int64, bool) {
	if len(tr.order) == 0 {
		return 0, false
	}
	return tr.order[len(tr.order)-1], true
}

// surrounding returns K1 (greatest keyframe with time <= t) and K2 (least
// keyframe with time > t).
func (tr *track) surrounding(t int64) (k1, k2 *Keyframe) {
	for _, tm := range tr.order {
		kf := tr.byTime[tm]
		if tm <= t {
			v := kf
			k1 = &v
		} else {
			v := kf
			k2 = &v
			break
		}
	}
	return
}

// Timeline is a keyframed, optionally looping, nestable per-parameter
// animation with scheduled events.
type Timeline struct {
	id        string
	tracks    map[string]*track
	eventsAt  map[int64][]Event
	eventTime []int64
	endEvents map[string]Event
	loops     int64 // -1 = infinite

	dirty      bool
	loopLength int64
	length     int64 // -1 = unbounded
}

// New constructs an empty Timeline with the given id and loop count.
func New(id string, loops int64) *Timeline {
	return &Timeline{
		id:        id,
		tracks:    make(map[string]*track),
		eventsAt:  make(map[int64][]Event),
		endEvents: make(map[string]Event),
		loops:     loops,
		dirty:     true,
	}
}

func (tl *Timeline) ID() string { return tl.id }

// SetID assigns the timeline's id, used when constructing a Timeline
// ahead of an UnmarshalJSON call that does not itself carry an id field.
func (tl *Timeline) SetID(id string) { tl.id = id }

// Loops returns the configured loop count (-1 = infinite).
func (tl *Timeline) Loops() int64 { return tl.loops }

// SetLoops changes the loop count and invalidates cached length.
func (tl *Timeline) SetLoops(loops int64) {
	tl.loops = loops
	tl.invalidate()
}

func (tl *Timeline) trackFor(identifier string) *track {
	tr, ok := tl.tracks[identifier]
	if !ok {
		tr = newTrack()
		tl.tracks[identifier] = tr
	}
	return tr
}

// SetKeyframe writes a static-value keyframe, replacing any existing
// keyframe at the same time for this identifier.
func (tl *Timeline) SetKeyframe(identifier string, t int64, value param.Value, useCurrentState bool) {
	tl.trackFor(identifier).set(Keyframe{Time: t, Value: value, UseCurrentState: useCurrentState})
	tl.invalidate()
}

// SetKeyframeRef writes a sub-timeline-reference keyframe.
func (tl *Timeline) SetKeyframeRef(identifier string, t int64, refTimelineID string, offset int64) {
	tl.trackFor(identifier).set(Keyframe{Time: t, RefTimelineID: refTimelineID, RefOffset: offset})
	tl.invalidate()
}

// RemoveKeyframe deletes the keyframe at t for identifier, if any.
func (tl *Timeline) RemoveKeyframe(identifier string, t int64) {
	if tr, ok := tl.tracks[identifier]; ok {
		tr.remove(t)
		tl.invalidate()
	}
}

// Keyframe returns the keyframe at exactly time t for identifier, if one
// exists.
func (tl *Timeline) Keyframe(identifier string, t int64) (Keyframe, bool) {
	tr, ok := tl.tracks[identifier]
	if !ok {
		return Keyframe{}, false
	}
	kf, ok := tr.byTime[t]
	return kf, ok
}

// LastKeyframe returns the last (greatest-time) keyframe for identifier.
func (tl *Timeline) LastKeyframe(identifier string) (Keyframe, bool) {
	tr, ok := tl.tracks[identifier]
	if !ok {
		return Keyframe{}, false
	}
	t, ok := tr.lastTime()
	if !ok {
		return Keyframe{}, false
	}
	return tr.byTime[t], true
}

// AddEvent schedules e to fire at absolute time-ms t. Events at identical
// times fire in insertion order.
func (tl *Timeline) AddEvent(t int64, e Event) {
	if _, ok := tl.eventsAt[t]; !ok {
		tl.eventTime = append(tl.eventTime, t)
		sort.Slice(tl.eventTime, func(i, j int) bool { return tl.eventTime[i] < tl.eventTime[j] })
	}
	tl.eventsAt[t] = append(tl.eventsAt[t], e)
}

// SetEndEvent registers an event fired once when the timeline transitions
// to done, keyed by an arbitrary caller-chosen id.
func (tl *Timeline) SetEndEvent(id string, e Event) {
	tl.endEvents[id] = e
}

// Identifiers returns every identifier with at least one keyframe.
func (tl *Timeline) Identifiers() []string {
	out := make([]string, 0, len(tl.tracks))
	for id, tr := range tl.tracks {
		if len(tr.order) > 0 {
			out = append(out, id)
		}
	}
	return out
}

func (tl *Timeline) invalidate() { tl.dirty = true }

func (tl *Timeline) ensureCache() {
	if !tl.dirty {
		return
	}
	var loopLen int64
	for _, tr := range tl.tracks {
		if t, ok := tr.lastTime(); ok && t > loopLen {
			loopLen = t
		}
	}
	tl.loopLength = loopLen

	if tl.loops == -1 {
		tl.length = -1
	} else {
		tl.length = tl.loops * loopLen
	}
	tl.dirty = false
}

// LoopLength returns the cached loop-length invariant: the greatest
// last-keyframe time across all identifiers.
func (tl *Timeline) LoopLength() int64 {
	tl.ensureCache()
	return tl.loopLength
}

// Length returns loops*loopLength, or -1 if unbounded.
func (tl *Timeline) Length() int64 {
	tl.ensureCache()
	return tl.length
}

// loopTimeMap maps absolute time into the loop coordinate.
func (tl *Timeline) loopTimeMap(t int64) int64 {
	tl.ensureCache()
	if tl.loopLength <= 0 {
		return t
	}
	if tl.loops == -1 || float64(t)/float64(tl.loopLength) < float64(tl.loops) {
		m := t % tl.loopLength
		if m < 0 {
			m += tl.loopLength
		}
		return m
	}
	return t
}

// ValueAt returns the value of identifier at absolute time t, or (nil,
// false) if the identifier has no keyframes or resolves through a missing
// sub-timeline reference.
func (tl *Timeline) ValueAt(identifier string, t int64, reg Registry) (param.Value, bool) {
	return tl.valueAtDepth(identifier, t, reg, 0)
}

func (tl *Timeline) valueAtDepth(identifier string, t int64, reg Registry, depth int) (param.Value, bool) {
	tr, ok := tl.tracks[identifier]
	if !ok || len(tr.order) == 0 {
		return nil, false
	}
	if depth >= maxRefDepth {
		return nil, false
	}

	tLoop := tl.loopTimeMap(t)
	k1, k2 := tr.surrounding(tLoop)

	if k1 == nil {
		// No keyframe at or before tLoop: nothing to anchor interpolation on.
		return nil, false
	}

	if k2 == nil {
		if k1.isReference() {
			return resolveReference(*k1, identifier, tLoop-k1.Time+k1.RefOffset, reg, depth)
		}
		return k1.Value, k1.Value != nil
	}

	v1, ok1 := tl.endpointValue(*k1, identifier, reg, depth)
	v2, ok2 := tl.endpointValue(*k2, identifier, reg, depth)
	if !ok1 || !ok2 {
		return nil, false
	}

	alpha := float64(tLoop-k1.Time) / float64(k2.Time-k1.Time)
	lerped, err := v1.Lerp(v2, alpha)
	if err != nil {
		return nil, false
	}
	return lerped, true
}

// endpointValue resolves a keyframe used as an interpolation endpoint: its
// own static value, or (for a reference keyframe) the sub-timeline's value
// at exactly its configured offset.
func (tl *Timeline) endpointValue(kf Keyframe, identifier string, reg Registry, depth int) (param.Value, bool) {
	if !kf.isReference() {
		return kf.Value, kf.Value != nil
	}
	return resolveReference(kf, identifier, kf.RefOffset, reg, depth)
}

func resolveReference(kf Keyframe, identifier string, subT int64, reg Registry, depth int) (param.Value, bool) {
	if reg == nil {
		return nil, false
	}
	sub, ok := reg.Lookup(kf.RefTimelineID)
	if !ok {
		return nil, false
	}
	if concrete, ok := sub.(*Timeline); ok {
		return concrete.valueAtDepth(identifier, subT, reg, depth+1)
	}
	return sub.ValueAt(identifier, subT, reg)
}

// SetCurrentState walks every UCS-flagged keyframe and replaces its value
// with a deep copy of the corresponding parameter from state. A UCS
// keyframe whose identifier is absent from state is left value=nil, which
// behaves as nil-producing at playback.
func (tl *Timeline) SetCurrentState(state map[string]param.Value) {
	for identifier, tr := range tl.tracks {
		for _, t := range tr.order {
			kf := tr.byTime[t]
			if !kf.UseCurrentState {
				continue
			}
			if v, ok := state[identifier]; ok {
				kf.Value = v.Clone()
			} else {
				kf.Value = nil
			}
			tr.byTime[t] = kf
		}
	}
}

// EventsInRange returns events whose loop-mapped occurrence falls in the
// half-open window (prevT, curT], in ascending occurrence order with
// insertion order preserved for ties. An event scheduled inside the loop
// body recurs once per iteration; one scheduled past the loop length
// fires at its raw time.
func (tl *Timeline) EventsInRange(prevT, curT int64) []Event {
	if curT <= prevT {
		return nil
	}
	tl.ensureCache()
	loopLen := tl.loopLength

	type firing struct {
		at   int64
		base int64
	}
	var firings []firing
	for _, base := range tl.eventTime {
		occ := base
		if loopLen > 0 && base <= loopLen {
			if k := (prevT - base) / loopLen; k > 0 {
				occ = base + k*loopLen
			}
			for occ <= prevT {
				occ += loopLen
			}
			if tl.loops != -1 && occ > tl.length {
				continue
			}
		}
		if occ > prevT && occ <= curT {
			firings = append(firings, firing{at: occ, base: base})
		}
	}
	sort.SliceStable(firings, func(i, j int) bool { return firings[i].at < firings[j].at })

	var out []Event
	for _, f := range firings {
		out = append(out, tl.eventsAt[f.base]...)
	}
	return out
}

// EndEvents returns every registered end-event, in a stable order.
func (tl *Timeline) EndEvents() []Event {
	if len(tl.endEvents) == 0 {
		return nil
	}
	ids := make([]string, 0, len(tl.endEvents))
	for id := range tl.endEvents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]Event, 0, len(ids))
	for _, id := range ids {
		out = append(out, tl.endEvents[id])
	}
	return out
}

// Done reports whether the timeline has finished playing at t: it never
// is for infinite-loop timelines, and otherwise requires every nested
// sub-timeline reachable from a last keyframe to also be done at its
// remapped time.
func (tl *Timeline) Done(t int64, reg Registry) bool {
	if tl.loops == -1 {
		return false
	}
	length := tl.Length()
	if t <= length {
		return false
	}
	for _, tr := range tl.tracks {
		lastT, ok := tr.lastTime()
		if !ok {
			continue
		}
		kf := tr.byTime[lastT]
		if !kf.isReference() {
			continue
		}
		sub, ok := reg.Lookup(kf.RefTimelineID)
		if !ok {
			return false
		}
		if !sub.Done(t-lastT+kf.RefOffset, reg) {
			return false
		}
	}
	return true
}

// IsActiveAt reports whether identifier is still meaningfully animating at
// t: there exists a later keyframe whose value differs from current.
func (tl *Timeline) IsActiveAt(identifier string, t int64, current param.Value) bool {
	tr, ok := tl.tracks[identifier]
	if !ok {
		return false
	}
	tLoop := tl.loopTimeMap(t)
	for _, tm := range tr.order {
		if tm <= tLoop {
			continue
		}
		kf := tr.byTime[tm]
		if kf.Value == nil || current == nil {
			return true
		}
		if !kf.Value.Equals(current) {
			return true
		}
	}
	return false
}

// --- JSON ---

type keyframeNode struct {
	Time            int64           `json:"time"`
	Val             json.RawMessage `json:"val,omitempty"`
	UseCurrentState bool            `json:"useCurrentState,omitempty"`
	TimelineID      string          `json:"timelineID,omitempty"`
	TimelineOffset  int64           `json:"timelineOffset,omitempty"`
}

type eventNode struct {
	Name   string            `json:"name"`
	Params map[string]string `json:"params,omitempty"`
}

type timelineNode struct {
	Type      string                             `json:"type"`
	Loops     int64                              `json:"loops"`
	Keyframes map[string]map[string]keyframeNode `json:"keyframes"`
	Events    map[string][]eventNode             `json:"events,omitempty"`
	EndEvents map[string]eventNode               `json:"endEvents,omitempty"`
}

// MarshalJSON implements the show-document timeline-node shape.
func (tl *Timeline) MarshalJSON() ([]byte, error) {
	n, err := tl.toNode("timeline")
	if err != nil {
		return nil, err
	}
	return json.Marshal(n)
}

func (tl *Timeline) toNode(typ string) (timelineNode, error) {
	n := timelineNode{
		Type:      typ,
		Loops:     tl.loops,
		Keyframes: make(map[string]map[string]keyframeNode, len(tl.tracks)),
		Events:    make(map[string][]eventNode),
		EndEvents: make(map[string]eventNode, len(tl.endEvents)),
	}
	for identifier, tr := range tl.tracks {
		byTime := make(map[string]keyframeNode, len(tr.order))
		for _, t := range tr.order {
			kf := tr.byTime[t]
			kn := keyframeNode{Time: kf.Time, UseCurrentState: kf.UseCurrentState, TimelineID: kf.RefTimelineID, TimelineOffset: kf.RefOffset}
			if kf.Value != nil {
				raw, err := kf.Value.MarshalJSON()
				if err != nil {
					return n, fmt.Errorf("timeline %s: keyframe %s@%d: %w", tl.id, identifier, t, err)
				}
				kn.Val = raw
			}
			byTime[fmt.Sprintf("%d", t)] = kn
		}
		n.Keyframes[identifier] = byTime
	}
	for _, t := range tl.eventTime {
		for _, e := range tl.eventsAt[t] {
			n.Events[fmt.Sprintf("%d", t)] = append(n.Events[fmt.Sprintf("%d", t)], eventNode{Name: e.Name, Params: e.Params})
		}
	}
	for id, e := range tl.endEvents {
		n.EndEvents[id] = eventNode{Name: e.Name, Params: e.Params}
	}
	return n, nil
}

// UnmarshalJSON parses a show-document timeline-node into the receiver.
func (tl *Timeline) UnmarshalJSON(data []byte) error {
	var n timelineNode
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	return tl.fromNode(n)
}

func (tl *Timeline) fromNode(n timelineNode) error {
	tl.tracks = make(map[string]*track)
	tl.eventsAt = make(map[int64][]Event)
	tl.endEvents = make(map[string]Event)
	tl.loops = n.Loops
	tl.dirty = true

	for identifier, byTime := range n.Keyframes {
		for _, kn := range byTime {
			if kn.TimelineID != "" {
				tl.SetKeyframeRef(identifier, kn.Time, kn.TimelineID, kn.TimelineOffset)
				continue
			}
			var v param.Value
			if len(kn.Val) > 0 {
				parsed, err := param.Decode(kn.Val)
				if err != nil {
					return fmt.Errorf("timeline %s: keyframe %s@%d: %w", tl.id, identifier, kn.Time, err)
				}
				v = parsed
			}
			tl.SetKeyframe(identifier, kn.Time, v, kn.UseCurrentState)
		}
	}
	for tStr, events := range n.Events {
		var t int64
		if _, err := fmt.Sscanf(tStr, "%d", &t); err != nil {
			return fmt.Errorf("timeline %s: bad event time %q: %w", tl.id, tStr, err)
		}
		for _, e := range events {
			tl.AddEvent(t, Event{Name: e.Name, Params: e.Params})
		}
	}
	for id, e := range n.EndEvents {
		tl.SetEndEvent(id, Event{Name: e.Name, Params: e.Params})
	}
	return nil
}
