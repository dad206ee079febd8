// Package device implements the Device record and the DeviceSet
// combinator algebra plus the bracketed query-selector grammar used to
// build sets over a Rig's device population.
package device

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/lumenrig/lumenrig/internal/param"
)

// ParamChangeFunc is invoked after any successful parameter mutation.
type ParamChangeFunc func(d *Device, paramName string, newValue param.Value)

// MetadataChangeFunc is invoked after any successful metadata mutation.
type MetadataChangeFunc func(d *Device, key, newValue string)

// Device is a single addressable fixture: an id, a DMX-style channel, a
// type name, an exclusively-owned parameter map, and string metadata.
type Device struct {
	mu sync.RWMutex

	id      string
	channel uint32
	devType string

	parameters map[string]param.Value
	metadata   map[string]string

	onParamChange    []ParamChangeFunc
	onMetadataChange []MetadataChangeFunc
}

// New constructs a Device with an empty parameter and metadata map.
func New(id string, channel uint32, devType string) *Device {
	return &Device{
		id:         id,
		channel:    channel,
		devType:    devType,
		parameters: make(map[string]param.Value),
		metadata:   make(map[string]string),
	}
}

func (d *Device) ID() string      { return d.id }
func (d *Device) Channel() uint32 { return d.channel }
func (d *Device) Type() string    { return d.devType }

// OnParamChange registers a hook fired after every successful parameter
// mutation (typed setter or generic Set).
func (d *Device) OnParamChange(fn ParamChangeFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onParamChange = append(d.onParamChange, fn)
}

// OnMetadataChange registers a hook fired after every successful metadata
// mutation.
func (d *Device) OnMetadataChange(fn MetadataChangeFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onMetadataChange = append(d.onMetadataChange, fn)
}

// Param returns the named parameter and whether it exists.
func (d *Device) Param(name string) (param.Value, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.parameters[name]
	return v, ok
}

// ParamNames returns the device's parameter names.
func (d *Device) ParamNames() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.parameters))
	for n := range d.parameters {
		names = append(names, n)
	}
	return names
}

// Metadata returns the value for key and whether it exists.
func (d *Device) Metadata(key string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.metadata[key]
	return v, ok
}

// SetMetadata writes a metadata key and fires the metadata-changed hooks.
func (d *Device) SetMetadata(key, value string) {
	d.mu.Lock()
	d.metadata[key] = value
	hooks := append([]MetadataChangeFunc(nil), d.onMetadataChange...)
	d.mu.Unlock()

	for _, h := range hooks {
		h(d, key, value)
	}
}

// Set is the generic setter: it may create a parameter of any variant and
// takes ownership of v. Existing typed setters should be preferred; Set
// exists for show-document construction and scripted bulk edits.
func (d *Device) Set(name string, v param.Value) {
	d.mu.Lock()
	d.parameters[name] = v
	hooks := append([]ParamChangeFunc(nil), d.onParamChange...)
	d.mu.Unlock()

	for _, h := range hooks {
		h(d, name, v)
	}
}

// SetFloat writes a Scalar parameter. It fails (returns false, state
// unchanged) if the parameter does not exist or is not a Scalar.
func (d *Device) SetFloat(name string, value float64) bool {
	d.mu.Lock()
	existing, ok := d.parameters[name]
	if !ok {
		d.mu.Unlock()
		return false
	}
	s, ok := existing.(*param.Scalar)
	if !ok {
		d.mu.Unlock()
		return false
	}
	s.Set(value)
	hooks := append([]ParamChangeFunc(nil), d.onParamChange...)
	d.mu.Unlock()

	for _, h := range hooks {
		h(d, name, s)
	}
	return true
}

// SetEnum writes an Enum parameter by option name and tweak.
func (d *Device) SetEnum(name, option string, tweak float64) bool {
	d.mu.Lock()
	existing, ok := d.parameters[name]
	if !ok {
		d.mu.Unlock()
		return false
	}
	e, ok := existing.(*param.Enum)
	if !ok {
		d.mu.Unlock()
		return false
	}
	if err := e.SetValNameTweak(option, tweak); err != nil {
		d.mu.Unlock()
		return false
	}
	hooks := append([]ParamChangeFunc(nil), d.onParamChange...)
	d.mu.Unlock()

	for _, h := range hooks {
		h(d, name, e)
	}
	return true
}

// SetColorChannel writes one channel of a Color parameter.
func (d *Device) SetColorChannel(name, channel string, value float64) bool {
	return d.withColor(name, func(c *param.Color) bool {
		return c.SetChannel(channel, value) == nil
	})
}

// SetColorRGB writes a Color parameter from an RGB triple in the given
// working space.
func (d *Device) SetColorRGB(name string, r, g, b float64, cs param.RGBSpace) bool {
	return d.withColor(name, func(c *param.Color) bool {
		c.SetRGB(r, g, b, cs)
		return true
	})
}

// SetColorChromaticity writes a Color parameter's ADDITIVE output from a
// target CIE chromaticity.
func (d *Device) SetColorChromaticity(name string, x, y float64) bool {
	return d.withColor(name, func(c *param.Color) bool {
		c.SetChromaticity(x, y)
		return true
	})
}

func (d *Device) withColor(name string, fn func(*param.Color) bool) bool {
	d.mu.Lock()
	existing, ok := d.parameters[name]
	if !ok {
		d.mu.Unlock()
		return false
	}
	c, ok := existing.(*param.Color)
	if !ok {
		d.mu.Unlock()
		return false
	}
	ok = fn(c)
	hooks := append([]ParamChangeFunc(nil), d.onParamChange...)
	d.mu.Unlock()

	if ok {
		for _, h := range hooks {
			h(d, name, c)
		}
	}
	return ok
}

// Reset restores every parameter to its type-defined default.
func (d *Device) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, v := range d.parameters {
		v.Reset()
	}
}

// Clone returns a deep copy of the device: a new id-identical Device with
// independently-owned parameter and metadata maps. Observer hooks are not
// copied — a clone is data, not a live participant.
func (d *Device) Clone() *Device {
	d.mu.RLock()
	defer d.mu.RUnlock()

	cp := &Device{
		id:         d.id,
		channel:    d.channel,
		devType:    d.devType,
		parameters: make(map[string]param.Value, len(d.parameters)),
		metadata:   make(map[string]string, len(d.metadata)),
	}
	for k, v := range d.parameters {
		cp.parameters[k] = v.Clone()
	}
	for k, v := range d.metadata {
		cp.metadata[k] = v
	}
	return cp
}

// CopyValuesFrom copy-assigns every parameter value present in src into
// the receiver by name (not identity), leaving parameters absent from src
// untouched. Used by Rig.SetAllDevices.
func (d *Device) CopyValuesFrom(src *Device) {
	src.mu.RLock()
	values := make(map[string]param.Value, len(src.parameters))
	for k, v := range src.parameters {
		values[k] = v.Clone()
	}
	src.mu.RUnlock()

	d.mu.Lock()
	for k, v := range values {
		d.parameters[k] = v
	}
	d.mu.Unlock()
}

type deviceNode struct {
	Channel    uint32                     `json:"channel"`
	Type       string                     `json:"type"`
	Parameters map[string]json.RawMessage `json:"parameters"`
	Metadata   map[string]string          `json:"metadata"`
}

// MarshalJSON implements the show-document device-node shape.
func (d *Device) MarshalJSON() ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	params := make(map[string]json.RawMessage, len(d.parameters))
	for name, v := range d.parameters {
		data, err := v.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("device %s: marshal parameter %s: %w", d.id, name, err)
		}
		params[name] = data
	}
	return json.Marshal(deviceNode{
		Channel:    d.channel,
		Type:       d.devType,
		Parameters: params,
		Metadata:   d.metadata,
	})
}

// UnmarshalDevice constructs a Device named id from its show-document JSON
// node.
func UnmarshalDevice(id string, data []byte) (*Device, error) {
	var n deviceNode
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("device %s: %w", id, err)
	}
	d := New(id, n.Channel, n.Type)
	for name, raw := range n.Parameters {
		v, err := param.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("device %s: parameter %s: %w", id, name, err)
		}
		d.parameters[name] = v
	}
	for k, v := range n.Metadata {
		d.metadata[k] = v
	}
	return d, nil
}
