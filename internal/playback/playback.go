// Package playback implements Component H: the tick orchestrator that
// owns layers, timelines, named groups, dynamic groups, the programmer
// and the grandmaster, and drives the per-tick flatten-blend-scale
// algorithm that produces the state written to the Rig.
package playback

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lumenrig/lumenrig/internal/cue"
	"github.com/lumenrig/lumenrig/internal/device"
	"github.com/lumenrig/lumenrig/internal/errs"
	"github.com/lumenrig/lumenrig/internal/layer"
	"github.com/lumenrig/lumenrig/internal/metrics"
	"github.com/lumenrig/lumenrig/internal/param"
	"github.com/lumenrig/lumenrig/internal/programmer"
	"github.com/lumenrig/lumenrig/internal/rig"
	"github.com/lumenrig/lumenrig/internal/timeline"
)

// RigTarget is the subset of *rig.Rig Playback needs: reading the
// current device population to seed layers/programmer and dynamic
// groups, and writing the flattened state back every tick.
type RigTarget interface {
	AllDevices() device.DeviceSet
	Device(id string) (*device.Device, bool)
	SetAllDevices(state map[string]*device.Device)
}

// DynamicGroup is a named query string re-evaluated against the Rig's
// live device population on every Resolve call, unlike a static group,
// which snapshots its members at creation time.
type DynamicGroup struct {
	Query string
}

// Resolve re-runs the selector grammar against target's current devices.
func (g DynamicGroup) Resolve(target RigTarget, log *logrus.Entry) device.DeviceSet {
	return device.Query(target.AllDevices(), g.Query, log)
}

// EventSink receives timeline events dispatched during a tick, on the
// tick thread. Handlers must return promptly.
type EventSink func(layerName string, e timeline.Event)

// Playback owns layers, timelines, named groups, dynamic groups, the
// programmer and grandmaster. Structural mutation is forbidden while
// attached to a running Rig (mirrors Rig's own running guard).
type Playback struct {
	mu sync.Mutex

	universe device.DeviceSet

	layers     map[string]*layer.Layer
	layerOrder []string

	timelines     map[string]timeline.Instance
	timelineOrder []string

	groups        map[string]device.DeviceSet
	dynamicGroups map[string]DynamicGroup

	cueLists map[string]*cue.CueList

	programmer  *programmer.Programmer
	grandmaster float64
	lastActive  map[string][]string

	running bool
	OnEvent EventSink

	log *logrus.Entry
}

// New constructs a Playback over universe (the Rig's full device
// population at attach time), with grandmaster defaulted to 1.
func New(universe device.DeviceSet, log *logrus.Entry) *Playback {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	return &Playback{
		universe:      universe,
		layers:        make(map[string]*layer.Layer),
		timelines:     make(map[string]timeline.Instance),
		groups:        make(map[string]device.DeviceSet),
		dynamicGroups: make(map[string]DynamicGroup),
		cueLists:      make(map[string]*cue.CueList),
		programmer:    programmer.New(universe),
		grandmaster:   1,
		log:           log,
	}
}

// AddLayer constructs and registers a layer named name at priority.
// Forbidden while attached to a running Rig.
func (pb *Playback) AddLayer(name string, priority int) (*layer.Layer, error) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	if pb.running {
		metrics.InvariantViolations.Inc()
		return nil, fmt.Errorf("playback: cannot add layer %s while running: %w", name, errs.ErrInvariantViolation)
	}
	if _, exists := pb.layers[name]; exists {
		return nil, fmt.Errorf("playback: duplicate layer %s: %w", name, errs.ErrInvariantViolation)
	}
	l := layer.New(name, priority, pb.universe)
	pb.layers[name] = l
	pb.layerOrder = append(pb.layerOrder, name)
	metrics.ActiveLayers.Set(float64(len(pb.layers)))
	return l, nil
}

// Layer returns the layer named name, if any.
func (pb *Playback) Layer(name string) (*layer.Layer, bool) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	l, ok := pb.layers[name]
	return l, ok
}

// RemoveLayer deletes the layer named name. Forbidden while running.
func (pb *Playback) RemoveLayer(name string) error {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	if pb.running {
		metrics.InvariantViolations.Inc()
		return fmt.Errorf("playback: cannot remove layer %s while running: %w", name, errs.ErrInvariantViolation)
	}
	if _, ok := pb.layers[name]; !ok {
		return fmt.Errorf("playback: remove layer %s: %w", name, errs.ErrNotFound)
	}
	delete(pb.layers, name)
	for i, n := range pb.layerOrder {
		if n == name {
			pb.layerOrder = append(pb.layerOrder[:i], pb.layerOrder[i+1:]...)
			break
		}
	}
	metrics.ActiveLayers.Set(float64(len(pb.layers)))
	return nil
}

// AddTimeline registers inst under its own id. Forbidden while attached
// to a running Rig.
func (pb *Playback) AddTimeline(inst timeline.Instance) error {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	if pb.running {
		metrics.InvariantViolations.Inc()
		return fmt.Errorf("playback: cannot add timeline %s while running: %w", inst.ID(), errs.ErrInvariantViolation)
	}
	if _, exists := pb.timelines[inst.ID()]; exists {
		return fmt.Errorf("playback: duplicate timeline %s: %w", inst.ID(), errs.ErrInvariantViolation)
	}
	pb.timelines[inst.ID()] = inst
	pb.timelineOrder = append(pb.timelineOrder, inst.ID())
	return nil
}

// Timeline returns the timeline instance registered under id.
func (pb *Playback) Timeline(id string) (timeline.Instance, bool) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	t, ok := pb.timelines[id]
	return t, ok
}

// Lookup implements timeline.Registry.
func (pb *Playback) Lookup(id string) (timeline.Instance, bool) { return pb.Timeline(id) }

// DeleteTimeline implements cue.TimelineDeleter: removes id from the
// registry. While attached to a running Rig the deletion is refused and
// logged, leaving the registry unchanged.
func (pb *Playback) DeleteTimeline(id string) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	if pb.running {
		metrics.InvariantViolations.Inc()
		pb.log.WithField("timeline_id", id).Error("playback: cannot delete timeline while running")
		return
	}
	delete(pb.timelines, id)
	for i, t := range pb.timelineOrder {
		if t == id {
			pb.timelineOrder = append(pb.timelineOrder[:i], pb.timelineOrder[i+1:]...)
			break
		}
	}
}

// AddGroup registers a static, snapshotted device set under name.
func (pb *Playback) AddGroup(name string, set device.DeviceSet) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.groups[name] = set
}

// AddDynamicGroup registers a re-evaluated query group under name.
func (pb *Playback) AddDynamicGroup(name, query string) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.dynamicGroups[name] = DynamicGroup{Query: query}
}

// ResolveGroup returns the named group's current members, preferring a
// static group and falling back to re-evaluating a dynamic one against
// rigTarget.
func (pb *Playback) ResolveGroup(name string, rigTarget RigTarget) (device.DeviceSet, bool) {
	pb.mu.Lock()
	if set, ok := pb.groups[name]; ok {
		pb.mu.Unlock()
		return set, true
	}
	dg, ok := pb.dynamicGroups[name]
	log := pb.log
	pb.mu.Unlock()
	if !ok {
		return device.Empty(), false
	}
	return dg.Resolve(rigTarget, log), true
}

// Programmer returns the shared Programmer instance.
func (pb *Playback) Programmer() *programmer.Programmer { return pb.programmer }

// Grandmaster returns the current grandmaster scalar.
func (pb *Playback) Grandmaster() float64 {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	return pb.grandmaster
}

// SetGrandmaster clamps and writes the grandmaster scalar.
func (pb *Playback) SetGrandmaster(v float64) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	pb.grandmaster = v
	metrics.Grandmaster.Set(v)
}

// CueList returns (creating if absent) the named cue list.
func (pb *Playback) CueList(name string) *cue.CueList {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	cl, ok := pb.cueLists[name]
	if !ok {
		cl = cue.NewCueList(name)
		pb.cueLists[name] = cl
	}
	return cl
}

// GoToCue resolves num in the named cue list, prepares its dynamic fade
// direction against layerName's currently displayed state, and queues it
// on that layer with Layer.Play; the layer promotes it on its next Update.
func (pb *Playback) GoToCue(cueListName string, num float64, layerName string) error {
	cl := pb.CueList(cueListName)
	timelineID, ok := cl.Lookup(num)
	if !ok {
		return fmt.Errorf("playback: cue %v not found in list %s: %w", num, cueListName, errs.ErrNotFound)
	}

	pb.mu.Lock()
	inst, ok := pb.timelines[timelineID]
	pb.mu.Unlock()
	if !ok {
		return fmt.Errorf("playback: cue timeline %s not found: %w", timelineID, errs.ErrNotFound)
	}
	c, ok := inst.(*cue.Cue)
	if !ok {
		return fmt.Errorf("playback: timeline %s is not a cue: %w", timelineID, errs.ErrValidation)
	}

	l, ok := pb.Layer(layerName)
	if !ok {
		return fmt.Errorf("playback: layer %s not found: %w", layerName, errs.ErrNotFound)
	}

	c.PrepareGoTo(l.Snapshot())
	l.Play(c.ID())
	metrics.CueGoTransitions.WithLabelValues(cueListName).Inc()
	return nil
}

// ActiveParameters returns the most recent tick's still-animating
// identifiers, keyed by layer name. Layers with nothing animating are
// omitted. The snapshot is computed on the tick thread, so callers on
// other goroutines (the live-state broadcast) never read timeline state
// directly.
func (pb *Playback) ActiveParameters() map[string][]string {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	return pb.lastActive
}

// AttachToRig installs Playback's tick function into r's additional
// functions at key pid (Rig.AddAdditionalFunc).
func (pb *Playback) AttachToRig(r *rig.Rig, pid int) {
	pb.mu.Lock()
	pb.running = true
	pb.mu.Unlock()
	r.AddAdditionalFunc(pid, func(tNowMs int64) { pb.Tick(tNowMs, r) })
}

// DetachFromRig halts further ticks and removes the installed function.
func (pb *Playback) DetachFromRig(r *rig.Rig, pid int) {
	r.RemoveAdditionalFunc(pid)
	pb.mu.Lock()
	pb.running = false
	pb.mu.Unlock()
}

// Stop satisfies internal/shutdown.Stopper: halts structural-mutation
// guarding without touching the Rig (the caller is expected to have
// stopped the Rig's own tick loop first).
func (pb *Playback) Stop() {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.running = false
}

// Tick runs the per-tick flatten algorithm: update every layer, reset
// the flatten-state to defaults, blend active layers in ascending
// priority, overlay the programmer, apply the grandmaster, and write the
// result to target.
func (pb *Playback) Tick(tNowMs int64, target RigTarget) {
	tickStart := time.Now()

	pb.mu.Lock()
	layerNames := append([]string(nil), pb.layerOrder...)
	layers := make([]*layer.Layer, 0, len(layerNames))
	for _, n := range layerNames {
		layers = append(layers, pb.layers[n])
	}
	grandmaster := pb.grandmaster
	sink := pb.OnEvent
	prog := pb.programmer
	pb.mu.Unlock()

	// Step 1: advance every layer's active timeline, in insertion order.
	// Fired events are drained every tick even with no sink installed, so
	// an unconsumed queue cannot grow across ticks.
	for i, l := range layers {
		l.Update(tNowMs, pb)
		for _, e := range l.PendingEvents() {
			if sink != nil {
				sink(layerNames[i], e)
			}
		}
	}

	// Snapshot which identifiers are still animating while we are on the
	// tick thread; ActiveParameters serves this to other goroutines.
	active := make(map[string][]string)
	for i, l := range layers {
		if ids := l.ActiveParameters(tNowMs, pb); len(ids) > 0 {
			active[layerNames[i]] = ids
		}
	}
	pb.mu.Lock()
	pb.lastActive = active
	pb.mu.Unlock()

	// Step 2: reset the flatten-state to defaults.
	flatten := make(map[string]*device.Device, pb.universe.Len())
	for _, d := range pb.universe.Devices() {
		cp := d.Clone()
		cp.Reset()
		flatten[cp.ID()] = cp
	}

	// Step 3-4: sort active layers ascending by priority, blend each.
	// layer.Blend is itself a no-op when Active is false.
	sort.SliceStable(layers, func(i, j int) bool { return layers[i].Priority < layers[j].Priority })
	for _, l := range layers {
		l.Blend(flatten)
	}

	// Step 5: overlay the programmer.
	prog.Blend(flatten)

	// Step 6: apply the grandmaster to scalar/scalable and color-weight
	// parameters; enums and angles are exempt.
	if grandmaster < 1 {
		for _, d := range flatten {
			for _, pname := range d.ParamNames() {
				v, ok := d.Param(pname)
				if !ok {
					continue
				}
				switch v.Kind() {
				case param.KindFloat, param.KindColor:
					d.Set(pname, v.ScaleBy(grandmaster))
				}
			}
		}
	}

	// Step 7: write the flattened state to the Rig.
	target.SetAllDevices(flatten)

	metrics.TickDuration.Observe(time.Since(tickStart).Seconds())
}

// --- JSON ---

type showDoc struct {
	Playback struct {
		Grandmaster *float64                  `json:"grandmaster"`
		CueLists    map[string][]cueListEntry `json:"cueLists"`
	} `json:"playback"`
	Timelines     map[string]json.RawMessage `json:"timelines"`
	Layers        map[string]layer.Node      `json:"layers"`
	Groups        map[string][]string        `json:"groups"`
	DynamicGroups map[string]string          `json:"dynamic_groups"`
	Programmer    json.RawMessage            `json:"programmer"`
}

type cueListEntry struct {
	Number     float64 `json:"number"`
	TimelineID string  `json:"timelineID"`
}

type probeType struct {
	Type string `json:"type"`
}

// decodeInstance dispatches a timeline-node's `type` discriminator to its
// concrete timeline.Instance. Lives here, not in internal/timeline,
// because "cue" is owned by internal/cue and timeline cannot import it
// without a cycle.
func decodeInstance(id string, data []byte) (timeline.Instance, error) {
	var probe probeType
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("playback: decode timeline discriminator: %w", err)
	}
	switch probe.Type {
	case "cue":
		return cue.UnmarshalCue(id, data)
	case "sinewave":
		s := timeline.NewSineTimeline(id)
		if err := s.UnmarshalJSON(data); err != nil {
			return nil, fmt.Errorf("playback: decode sinewave %s: %w", id, err)
		}
		return s, nil
	case "timeline", "":
		tl := timeline.New(id, 0)
		if err := tl.UnmarshalJSON(data); err != nil {
			return nil, fmt.Errorf("playback: decode timeline %s: %w", id, err)
		}
		return tl, nil
	default:
		return nil, fmt.Errorf("%w: timeline type %q", errs.ErrValidation, probe.Type)
	}
}

// MarshalJSON implements the show-document's playback/timelines/layers/
// groups/dynamic_groups/programmer sections. Mid-fade playback
// position is deliberately excluded.
func (pb *Playback) MarshalJSON() ([]byte, error) {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	doc := showDoc{
		Timelines:     make(map[string]json.RawMessage, len(pb.timelines)),
		Layers:        make(map[string]layer.Node, len(pb.layers)),
		Groups:        make(map[string][]string, len(pb.groups)),
		DynamicGroups: make(map[string]string, len(pb.dynamicGroups)),
	}
	gm := pb.grandmaster
	doc.Playback.Grandmaster = &gm
	doc.Playback.CueLists = make(map[string][]cueListEntry, len(pb.cueLists))

	for id, inst := range pb.timelines {
		raw, err := json.Marshal(inst)
		if err != nil {
			return nil, fmt.Errorf("playback: marshal timeline %s: %w", id, err)
		}
		doc.Timelines[id] = raw
	}
	for name, l := range pb.layers {
		doc.Layers[name] = l.ToNode()
	}
	for name, set := range pb.groups {
		ids := make([]string, 0, set.Len())
		for _, d := range set.Devices() {
			ids = append(ids, d.ID())
		}
		sort.Strings(ids)
		doc.Groups[name] = ids
	}
	for name, dg := range pb.dynamicGroups {
		doc.DynamicGroups[name] = dg.Query
	}
	for name, cl := range pb.cueLists {
		entries := make([]cueListEntry, 0, cl.Len())
		for _, num := range cl.Numbers() {
			id, _ := cl.Lookup(num)
			entries = append(entries, cueListEntry{Number: num, TimelineID: id})
		}
		doc.Playback.CueLists[name] = entries
	}

	progRaw, err := json.Marshal(pb.programmer)
	if err != nil {
		return nil, fmt.Errorf("playback: marshal programmer: %w", err)
	}
	doc.Programmer = progRaw

	return json.Marshal(doc)
}

// LoadFromShow parses the playback-owned sections of a show document
// (the same raw bytes Rig.Load also parses) against universe.
func LoadFromShow(data []byte, universe device.DeviceSet, log *logrus.Entry) (*Playback, error) {
	var doc showDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("playback: parse show document: %w", err)
	}

	pb := New(universe, log)
	if doc.Playback.Grandmaster != nil {
		pb.grandmaster = *doc.Playback.Grandmaster
	}

	ids := make([]string, 0, len(doc.Timelines))
	for id := range doc.Timelines {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		inst, err := decodeInstance(id, doc.Timelines[id])
		if err != nil {
			return nil, err
		}
		if err := pb.AddTimeline(inst); err != nil {
			return nil, err
		}
	}

	layerNames := make([]string, 0, len(doc.Layers))
	for name := range doc.Layers {
		layerNames = append(layerNames, name)
	}
	sort.Strings(layerNames)
	for _, name := range layerNames {
		n := doc.Layers[name]
		l, err := pb.AddLayer(name, n.Priority)
		if err != nil {
			return nil, err
		}
		l.ApplyNode(n, universe)
	}

	for name, ids := range doc.Groups {
		set := device.Empty()
		for _, id := range ids {
			if d, ok := universe.Get(id); ok {
				set = set.Add(d)
			}
		}
		pb.AddGroup(name, set)
	}
	for name, query := range doc.DynamicGroups {
		pb.AddDynamicGroup(name, query)
	}
	for name, entries := range doc.Playback.CueLists {
		cl := pb.CueList(name)
		for _, e := range entries {
			if err := cl.Store(e.Number, e.TimelineID, true); err != nil {
				return nil, err
			}
		}
	}

	if len(doc.Programmer) > 0 {
		if err := json.Unmarshal(doc.Programmer, pb.programmer); err != nil {
			return nil, fmt.Errorf("playback: parse programmer: %w", err)
		}
	}

	return pb, nil
}
