// Package programmer implements Component G: a captured-parameter overlay
// used for live editing and cue capture, blended with overwrite semantics
// after every layer.
package programmer

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/lumenrig/lumenrig/internal/cue"
	"github.com/lumenrig/lumenrig/internal/device"
	"github.com/lumenrig/lumenrig/internal/param"
	"github.com/lumenrig/lumenrig/internal/timeline"
)

// RigReader is the subset of Rig the Programmer needs to steal live
// values for capture_from_rig.
type RigReader interface {
	Device(id string) (*device.Device, bool)
}

// Programmer maintains a device-shaped state separate from any layer.
// Any setter adds the affected device to the captured set; the blend step
// overwrites the target with every captured device's parameters.
type Programmer struct {
	mu sync.Mutex

	state    map[string]*device.Device
	captured device.DeviceSet
}

// New constructs a Programmer over a deep copy of every device in
// universe, reset to defaults.
func New(universe device.DeviceSet) *Programmer {
	p := &Programmer{
		state:    make(map[string]*device.Device),
		captured: device.Empty(),
	}
	for _, d := range universe.Devices() {
		cp := d.Clone()
		cp.Reset()
		p.state[cp.ID()] = cp
	}
	return p
}

func (p *Programmer) markCaptured(d *device.Device) {
	p.captured = p.captured.Add(d)
}

// SetFloat writes a Scalar parameter and captures the device.
func (p *Programmer) SetFloat(deviceID, param string, value float64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.state[deviceID]
	if !ok {
		return false
	}
	if !d.SetFloat(param, value) {
		return false
	}
	p.markCaptured(d)
	return true
}

// SetEnum writes an Enum parameter and captures the device.
func (p *Programmer) SetEnum(deviceID, name, option string, tweak float64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.state[deviceID]
	if !ok {
		return false
	}
	if !d.SetEnum(name, option, tweak) {
		return false
	}
	p.markCaptured(d)
	return true
}

// SetColorRGB writes a Color parameter from an RGB triple and captures
// the device.
func (p *Programmer) SetColorRGB(deviceID, name string, r, g, b float64, cs param.RGBSpace) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.state[deviceID]
	if !ok {
		return false
	}
	if !d.SetColorRGB(name, r, g, b, cs) {
		return false
	}
	p.markCaptured(d)
	return true
}

// Set is the generic setter: creates or overwrites a parameter of any
// variant and captures the device.
func (p *Programmer) Set(deviceID, name string, v param.Value) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.state[deviceID]
	if !ok {
		return false
	}
	d.Set(name, v)
	p.markCaptured(d)
	return true
}

// Device returns the programmer's private copy for id, if any.
func (p *Programmer) Device(id string) (*device.Device, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.state[id]
	return d, ok
}

// Captured returns the current captured device set.
func (p *Programmer) Captured() device.DeviceSet {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.captured
}

// CaptureFromRig pulls live values from rig into the programmer for every
// device in set ("steal from current output").
func (p *Programmer) CaptureFromRig(set device.DeviceSet, rig RigReader) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, d := range set.Devices() {
		live, ok := rig.Device(d.ID())
		if !ok {
			continue
		}
		local, ok := p.state[d.ID()]
		if !ok {
			continue
		}
		local.CopyValuesFrom(live)
		p.markCaptured(local)
	}
}

// ClearCaptured empties the captured set without touching values.
func (p *Programmer) ClearCaptured() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.captured = device.Empty()
}

// Reset restores every parameter to its type-defined default without
// touching the captured set.
func (p *Programmer) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, d := range p.state {
		d.Reset()
	}
}

// ClearAndReset clears the captured set and resets every value.
func (p *Programmer) ClearAndReset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.captured = device.Empty()
	for _, d := range p.state {
		d.Reset()
	}
}

// GetCue snapshots the programmer's current state into a new Cue with the
// given fades, covering every captured device's parameters.
func (p *Programmer) GetCue(id string, upFade, downFade, delay float64) *cue.Cue {
	p.mu.Lock()
	defer p.mu.Unlock()

	c := cue.New(id, upFade, downFade, delay)
	for _, d := range p.captured.Devices() {
		local, ok := p.state[d.ID()]
		if !ok {
			continue
		}
		for _, pname := range local.ParamNames() {
			v, ok := local.Param(pname)
			if !ok {
				continue
			}
			identifier := timeline.Identifier(d.ID(), pname)
			c.RecordIdentifier(identifier, v.Clone(), false, v.Clone())
		}
	}
	return c
}

// Blend overwrites target[device].param for every captured device and
// every parameter present on both sides. Runs after all layers; blending
// twice in a row is idempotent since it is a pure overwrite.
func (p *Programmer) Blend(target map[string]*device.Device) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, d := range p.captured.Devices() {
		local, ok := p.state[d.ID()]
		if !ok {
			continue
		}
		tgt, ok := target[d.ID()]
		if !ok {
			continue
		}
		for _, pname := range local.ParamNames() {
			v, ok := local.Param(pname)
			if !ok {
				continue
			}
			if _, ok := tgt.Param(pname); !ok {
				continue
			}
			tgt.Set(pname, v.Clone())
		}
	}
}

// MarshalJSON serializes the captured devices' current parameter values,
// keyed by device id. Uncaptured state (still at defaults) round-trips
// implicitly through New(universe) rebuilding the full device map.
func (p *Programmer) MarshalJSON() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	captured := make(map[string]json.RawMessage, p.captured.Len())
	for _, d := range p.captured.Devices() {
		local, ok := p.state[d.ID()]
		if !ok {
			continue
		}
		raw, err := local.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("programmer: marshal device %s: %w", d.ID(), err)
		}
		captured[d.ID()] = raw
	}
	return json.Marshal(struct {
		Captured map[string]json.RawMessage `json:"captured"`
	}{Captured: captured})
}

// UnmarshalJSON restores the captured devices' parameter values into the
// receiver's existing (already-constructed, default-valued) state map.
func (p *Programmer) UnmarshalJSON(data []byte) error {
	var n struct {
		Captured map[string]json.RawMessage `json:"captured"`
	}
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for id, raw := range n.Captured {
		d, ok := p.state[id]
		if !ok {
			continue
		}
		parsed, err := device.UnmarshalDevice(id, raw)
		if err != nil {
			return fmt.Errorf("programmer: parse device %s: %w", id, err)
		}
		for _, pname := range parsed.ParamNames() {
			v, ok := parsed.Param(pname)
			if !ok {
				continue
			}
			d.Set(pname, v)
		}
		p.captured = p.captured.Add(d)
	}
	return nil
}
