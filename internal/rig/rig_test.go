package rig

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/lumenrig/lumenrig/internal/device"
	"github.com/lumenrig/lumenrig/internal/errs"
	"github.com/lumenrig/lumenrig/internal/param"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func newIntensityDevice(id string, ch uint32) *device.Device {
	d := device.New(id, ch, "par")
	d.Set("intensity", param.NewScalar(0, 0, 0, 1))
	return d
}

func TestOnDeviceAddedRemovedHooksFire(t *testing.T) {
	r := New(40, testLog())

	var added, removed []string
	r.OnDeviceAdded(func(d *device.Device) { added = append(added, d.ID()) })
	r.OnDeviceRemoved(func(d *device.Device) { removed = append(removed, d.ID()) })

	if err := r.AddDevice(newIntensityDevice("d1", 1)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if len(added) != 1 || added[0] != "d1" {
		t.Fatalf("expected OnDeviceAdded to fire with d1, got %v", added)
	}

	if err := r.DeleteDevice("d1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(removed) != 1 || removed[0] != "d1" {
		t.Fatalf("expected OnDeviceRemoved to fire with d1, got %v", removed)
	}
}

func TestAddDeviceDuplicateID(t *testing.T) {
	r := New(40, testLog())
	if err := r.AddDevice(newIntensityDevice("d1", 1)); err != nil {
		t.Fatalf("first add: %v", err)
	}
	err := r.AddDevice(newIntensityDevice("d1", 2))
	if !errors.Is(err, errs.ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation, got %v", err)
	}
}

func TestAddDeviceForbiddenWhileRunning(t *testing.T) {
	r := New(1000, testLog())
	if err := r.AddDevice(newIntensityDevice("d1", 1)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := r.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer r.Stop()

	err := r.AddDevice(newIntensityDevice("d2", 2))
	if !errors.Is(err, errs.ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation while running, got %v", err)
	}
}

func TestDeleteDeviceNotFound(t *testing.T) {
	r := New(40, testLog())
	err := r.DeleteDevice("missing")
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDevicesByChannel(t *testing.T) {
	r := New(40, testLog())
	_ = r.AddDevice(newIntensityDevice("d1", 5))
	_ = r.AddDevice(newIntensityDevice("d2", 5))
	_ = r.AddDevice(newIntensityDevice("d3", 6))

	got := r.DevicesByChannel(5)
	if len(got) != 2 {
		t.Fatalf("expected 2 devices on channel 5, got %d", len(got))
	}
}

func TestSetAllDevicesCopiesByID(t *testing.T) {
	r := New(40, testLog())
	_ = r.AddDevice(newIntensityDevice("d1", 1))

	incoming := newIntensityDevice("d1", 1)
	incoming.SetFloat("intensity", 0.75)

	r.SetAllDevices(map[string]*device.Device{"d1": incoming})

	d, _ := r.Device("d1")
	v, _ := d.Param("intensity")
	s := v.(*param.Scalar)
	if s.Value() != 0.75 {
		t.Fatalf("expected 0.75 after SetAllDevices, got %v", s.Value())
	}

	// Mutating the incoming device afterward must not affect the rig's copy.
	incoming.SetFloat("intensity", 0.1)
	v2, _ := d.Param("intensity")
	if v2.(*param.Scalar).Value() != 0.75 {
		t.Fatalf("rig device aliased incoming device's parameter value")
	}
}

func TestTickOnceDispatchesAdditionalFuncsInOrder(t *testing.T) {
	r := New(40, testLog())
	var order []int
	r.AddAdditionalFunc(2, func(int64) { order = append(order, 2) })
	r.AddAdditionalFunc(1, func(int64) { order = append(order, 1) })
	r.AddAdditionalFunc(3, func(int64) { order = append(order, 3) })

	r.TickOnce(0)

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("expected ascending id order, got %v", order)
	}
}

func TestTickOnceUpdatesTransports(t *testing.T) {
	r := New(40, testLog())
	_ = r.AddDevice(newIntensityDevice("d1", 1))
	lt := NewLogTransport(testLog())
	if err := r.AddTransport("debug", lt); err != nil {
		t.Fatalf("add transport: %v", err)
	}
	r.TickOnce(0) // exercises Update without panicking; LogTransport has no observable side channel here
}

func TestShowDocumentRoundTrip(t *testing.T) {
	r := New(44, testLog())
	_ = r.AddDevice(newIntensityDevice("par1", 1))
	_ = r.AddTransport("dbg", NewLogTransport(testLog()))

	data, err := Save(r)
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	r2, err := Load(data, testLog())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if r2.DeviceCount() != 1 {
		t.Fatalf("expected 1 device after round trip, got %d", r2.DeviceCount())
	}
	if _, ok := r2.Transport("dbg"); !ok {
		t.Fatalf("expected transport dbg after round trip")
	}
	d, ok := r2.Device("par1")
	if !ok {
		t.Fatalf("expected device par1 after round trip")
	}
	if d.Channel() != 1 {
		t.Fatalf("expected channel 1, got %d", d.Channel())
	}
}

func TestLoadVersionSkewIsNonFatal(t *testing.T) {
	data := []byte(`{"version":"2.0","refreshRate":40,"devices":{},"patches":{}}`)
	r, err := Load(data, testLog())
	if err != nil {
		t.Fatalf("expected best-effort load to succeed despite version skew, got %v", err)
	}
	if r == nil {
		t.Fatal("expected non-nil rig")
	}
}

func TestLoadMissingVersionIsValidationError(t *testing.T) {
	data := []byte(`{"refreshRate":40,"devices":{},"patches":{}}`)
	_, err := Load(data, testLog())
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	data := []byte(`{"version":"1.0"}`)
	f1, err := Fingerprint(data)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	f2, _ := Fingerprint(data)
	if f1 != f2 {
		t.Fatalf("expected deterministic fingerprint, got %s vs %s", f1, f2)
	}
	if len(f1) != 64 {
		t.Fatalf("expected 32-byte hex digest (64 chars), got %d", len(f1))
	}
}
