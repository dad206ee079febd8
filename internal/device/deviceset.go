package device

import "github.com/lumenrig/lumenrig/internal/param"

// DeviceSet is an immutable-view collection of devices: every combinator
// returns a new set, the backing *Device pointers are shared with
// whatever Rig produced them. A set outlives neither its devices nor the
// Rig that owns them; using one after the Rig is torn down is undefined.
type DeviceSet struct {
	devices map[string]*Device
}

// Empty returns a DeviceSet with no members.
func Empty() DeviceSet {
	return DeviceSet{devices: make(map[string]*Device)}
}

// FromSlice builds a DeviceSet from a slice of devices.
func FromSlice(devs []*Device) DeviceSet {
	s := Empty()
	for _, d := range devs {
		s.devices[d.ID()] = d
	}
	return s
}

// Len reports the set's cardinality.
func (s DeviceSet) Len() int { return len(s.devices) }

// Contains reports whether id is a member.
func (s DeviceSet) Contains(id string) bool {
	_, ok := s.devices[id]
	return ok
}

// Get returns the member device with id, if present.
func (s DeviceSet) Get(id string) (*Device, bool) {
	d, ok := s.devices[id]
	return d, ok
}

// Devices returns the set's members in unspecified order.
func (s DeviceSet) Devices() []*Device {
	out := make([]*Device, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, d)
	}
	return out
}

// Add returns a new set containing the receiver's members plus d.
func (s DeviceSet) Add(d *Device) DeviceSet {
	out := s.cloneMap()
	out[d.ID()] = d
	return DeviceSet{devices: out}
}

// Remove returns a new set without the member named id.
func (s DeviceSet) Remove(id string) DeviceSet {
	out := s.cloneMap()
	delete(out, id)
	return DeviceSet{devices: out}
}

// Union returns a new set containing members of both sets.
func (s DeviceSet) Union(other DeviceSet) DeviceSet {
	out := s.cloneMap()
	for id, d := range other.devices {
		out[id] = d
	}
	return DeviceSet{devices: out}
}

// Intersect returns a new set containing only members present in both.
func (s DeviceSet) Intersect(other DeviceSet) DeviceSet {
	out := make(map[string]*Device)
	for id, d := range s.devices {
		if _, ok := other.devices[id]; ok {
			out[id] = d
		}
	}
	return DeviceSet{devices: out}
}

// Difference returns a new set containing the receiver's members that are
// not in other.
func (s DeviceSet) Difference(other DeviceSet) DeviceSet {
	out := make(map[string]*Device)
	for id, d := range s.devices {
		if _, ok := other.devices[id]; !ok {
			out[id] = d
		}
	}
	return DeviceSet{devices: out}
}

// Select returns a new set containing only members for which pred holds.
func (s DeviceSet) Select(pred func(*Device) bool) DeviceSet {
	out := make(map[string]*Device)
	for id, d := range s.devices {
		if pred(d) {
			out[id] = d
		}
	}
	return DeviceSet{devices: out}
}

func (s DeviceSet) cloneMap() map[string]*Device {
	out := make(map[string]*Device, len(s.devices))
	for k, v := range s.devices {
		out[k] = v
	}
	return out
}

// SetFloat broadcasts a Scalar write to every member, silently skipping
// devices without a matching parameter.
func (s DeviceSet) SetFloat(name string, value float64) {
	for _, d := range s.devices {
		d.SetFloat(name, value)
	}
}

// SetEnum broadcasts an Enum write to every member.
func (s DeviceSet) SetEnum(name, option string, tweak float64) {
	for _, d := range s.devices {
		d.SetEnum(name, option, tweak)
	}
}

// SetColorRGB broadcasts a Color RGB write to every member.
func (s DeviceSet) SetColorRGB(name string, r, g, b float64, cs param.RGBSpace) {
	for _, d := range s.devices {
		d.SetColorRGB(name, r, g, b, cs)
	}
}

// SetColorChromaticity broadcasts a Color chromaticity write to every
// member.
func (s DeviceSet) SetColorChromaticity(name string, x, y float64) {
	for _, d := range s.devices {
		d.SetColorChromaticity(name, x, y)
	}
}
