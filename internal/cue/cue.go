// Package cue implements Component E: the Cue specialization of a
// Timeline with dynamically-selected up/down fade semantics, and the
// ordered, number-addressed CueList that stores them.
package cue

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/lumenrig/lumenrig/internal/param"
	"github.com/lumenrig/lumenrig/internal/timeline"
)

// Type classifies a Cue by how many of its identifiers have a nil
// end-keyframe value: all (Linked, deferred to the next cue), some
// (Hybrid), or none (Standalone).
type Type string

const (
	Linked     Type = "linked"
	Hybrid     Type = "hybrid"
	Standalone Type = "standalone"
)

// Cue extends a Timeline with the invariant that every covered identifier
// has a "start" keyframe at t=0 and an "end" keyframe at
// t=max(up,down)*1000 before a go-to-cue transition rewrites the end
// time per the selected fade direction.
type Cue struct {
	*timeline.Timeline

	UpFade   float64 // seconds
	DownFade float64 // seconds
	Delay    float64 // seconds

	cueType   Type
	typeDirty bool
}

// New constructs an empty Cue.
func New(id string, upFade, downFade, delay float64) *Cue {
	return &Cue{
		Timeline:  timeline.New(id, 1),
		UpFade:    upFade,
		DownFade:  downFade,
		Delay:     delay,
		typeDirty: true,
	}
}

// RecordIdentifier writes the start (t=0) and end (t=max(up,down)*1000)
// keyframes for identifier. end may be nil for a Linked cue, where the
// value is deferred to whatever cue plays next.
func (c *Cue) RecordIdentifier(identifier string, start param.Value, startUCS bool, end param.Value) {
	endTime := int64(math.Max(c.UpFade, c.DownFade) * 1000)
	c.SetKeyframe(identifier, 0, start, startUCS)
	c.SetKeyframe(identifier, endTime, end, false)
	c.typeDirty = true
}

// Type classifies the cue, recomputing the cached classification if any
// identifier was recorded since the last call.
func (c *Cue) Type() Type {
	if !c.typeDirty {
		return c.cueType
	}
	nilCount, total := 0, 0
	for _, identifier := range c.Identifiers() {
		kf, ok := c.LastKeyframe(identifier)
		if !ok {
			continue
		}
		total++
		if kf.Value == nil {
			nilCount++
		}
	}
	switch {
	case total == 0 || nilCount == 0:
		c.cueType = Standalone
	case nilCount == total:
		c.cueType = Linked
	default:
		c.cueType = Hybrid
	}
	c.typeDirty = false
	return c.cueType
}

// PrepareGoTo implements dynamic fade selection for a go-to-cue
// transition from prevState (the layer's currently displayed value per
// identifier). Each identifier independently compares its start value
// against its end value with the type's Compare: Compare == -1 (start
// sorts before end, i.e. the parameter is increasing) selects the
// up-fade; anything else, including equality, selects the down-fade
// (no change still completes in down-fade time). The end keyframe's time is moved to
// (selected_fade + delay)*1000, and if delay > 0 a no-op keyframe holding
// the start value is inserted at delay*1000.
func (c *Cue) PrepareGoTo(prevState map[string]param.Value) {
	delayMs := int64(c.Delay * 1000)

	for _, identifier := range c.Identifiers() {
		startKf, ok := c.Keyframe(identifier, 0)
		if !ok {
			continue
		}
		endKf, ok := c.LastKeyframe(identifier)
		if !ok || endKf.Value == nil {
			// Linked: the end value is deferred to the next cue, nothing to
			// resolve yet.
			continue
		}

		startVal := startKf.Value
		if startVal == nil {
			startVal = prevState[identifier]
		}
		if startVal == nil {
			continue
		}

		selected := c.DownFade
		if cmp, err := startVal.Compare(endKf.Value); err == nil && cmp == -1 {
			selected = c.UpFade
		}
		newEndTime := int64(selected*1000) + delayMs

		c.RemoveKeyframe(identifier, endKf.Time)
		c.SetKeyframe(identifier, newEndTime, endKf.Value, false)

		if delayMs > 0 {
			if _, exists := c.Keyframe(identifier, delayMs); !exists {
				c.SetKeyframe(identifier, delayMs, startVal.Clone(), false)
			}
		}
	}
	c.typeDirty = true
}

type cueNode struct {
	Type     string  `json:"type"`
	Loops    int64   `json:"loops"`
	Upfade   float64 `json:"upfade"`
	Downfade float64 `json:"downfade"`
	Delay    float64 `json:"delay"`
}

// MarshalJSON implements the cue-node shape: a timeline-node extended
// with {upfade, downfade, delay}.
func (c *Cue) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(c.Timeline)
	if err != nil {
		return nil, fmt.Errorf("cue: %w", err)
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	merged["type"], _ = json.Marshal("cue")
	merged["upfade"], _ = json.Marshal(c.UpFade)
	merged["downfade"], _ = json.Marshal(c.DownFade)
	merged["delay"], _ = json.Marshal(c.Delay)
	return json.Marshal(merged)
}

// UnmarshalJSON parses a cue-node into the receiver.
func (c *Cue) UnmarshalJSON(data []byte) error {
	var n cueNode
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if c.Timeline == nil {
		c.Timeline = timeline.New("", n.Loops)
	}
	if err := c.Timeline.UnmarshalJSON(data); err != nil {
		return err
	}
	c.UpFade, c.DownFade, c.Delay = n.Upfade, n.Downfade, n.Delay
	c.typeDirty = true
	return nil
}

// UnmarshalCue constructs a Cue named id from its show-document JSON node.
func UnmarshalCue(id string, data []byte) (*Cue, error) {
	c := New(id, 0, 0, 0)
	if err := c.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("cue %s: %w", id, err)
	}
	c.SetID(id)
	return c, nil
}
