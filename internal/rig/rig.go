// Package rig implements Component C: the Rig, which exclusively owns
// Devices, their id and channel indexes, named transport backends, and
// the periodic tick loop that drives them.
package rig

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"

	"github.com/lumenrig/lumenrig/internal/device"
	"github.com/lumenrig/lumenrig/internal/errs"
	"github.com/lumenrig/lumenrig/internal/metrics"
)

// AdditionalFunc is a caller-registered per-tick callback, run in
// ascending id order before transports are updated. Playback installs its
// own tick function this way (attach_to_rig).
type AdditionalFunc func(tNowMs int64)

// OnDeviceFunc is fired after a device is added to or removed from the
// Rig, beyond the per-parameter observer hooks Device itself exposes.
type OnDeviceFunc func(d *device.Device)

// Rig owns the device population, its id and channel indexes, named
// transports, and additional per-tick functions. Structural mutation
// (devices, transports, refresh rate) is only permitted while the tick
// loop is stopped.
type Rig struct {
	mu sync.RWMutex

	byID      map[string]*device.Device
	byChannel map[uint32][]*device.Device

	transports map[string]Transport

	additional      map[int]AdditionalFunc
	additionalOrder []int

	refreshHz float64
	running   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
	slow      bool

	onDeviceAdded   []OnDeviceFunc
	onDeviceRemoved []OnDeviceFunc

	log *logrus.Entry
}

// New constructs an empty Rig ticking at refreshHz once started.
func New(refreshHz float64, log *logrus.Entry) *Rig {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	return &Rig{
		byID:       make(map[string]*device.Device),
		byChannel:  make(map[uint32][]*device.Device),
		transports: make(map[string]Transport),
		additional: make(map[int]AdditionalFunc),
		refreshHz:  refreshHz,
		log:        log,
	}
}

// Running reports whether the tick loop is currently active.
func (r *Rig) Running() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// Slow reports whether the most recent tick exceeded its target period.
func (r *Rig) Slow() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.slow
}

// OnDeviceAdded registers a hook fired after AddDevice succeeds.
func (r *Rig) OnDeviceAdded(fn OnDeviceFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDeviceAdded = append(r.onDeviceAdded, fn)
}

// OnDeviceRemoved registers a hook fired after DeleteDevice succeeds.
func (r *Rig) OnDeviceRemoved(fn OnDeviceFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDeviceRemoved = append(r.onDeviceRemoved, fn)
}

// AddDevice adds d to the rig. Forbidden while running, and refuses a
// duplicate id — both are InvariantViolations.
func (r *Rig) AddDevice(d *device.Device) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		r.log.Error("rig: cannot add device while running")
		metrics.InvariantViolations.Inc()
		return fmt.Errorf("add device %s: %w", d.ID(), errs.ErrInvariantViolation)
	}
	if _, exists := r.byID[d.ID()]; exists {
		r.mu.Unlock()
		r.log.WithField("device_id", d.ID()).Error("rig: duplicate device id")
		metrics.InvariantViolations.Inc()
		return fmt.Errorf("add device %s: duplicate id: %w", d.ID(), errs.ErrInvariantViolation)
	}
	r.byID[d.ID()] = d
	r.byChannel[d.Channel()] = append(r.byChannel[d.Channel()], d)
	hooks := append([]OnDeviceFunc(nil), r.onDeviceAdded...)
	r.mu.Unlock()

	for _, h := range hooks {
		h(d)
	}
	metrics.DeviceCount.Set(float64(r.DeviceCount()))
	return nil
}

// DeleteDevice removes the device named id. Forbidden while running.
func (r *Rig) DeleteDevice(id string) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		r.log.Error("rig: cannot delete device while running")
		metrics.InvariantViolations.Inc()
		return fmt.Errorf("delete device %s: %w", id, errs.ErrInvariantViolation)
	}
	d, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("delete device %s: %w", id, errs.ErrNotFound)
	}
	delete(r.byID, id)
	ch := r.byChannel[d.Channel()]
	for i, cd := range ch {
		if cd.ID() == id {
			r.byChannel[d.Channel()] = append(ch[:i], ch[i+1:]...)
			break
		}
	}
	hooks := append([]OnDeviceFunc(nil), r.onDeviceRemoved...)
	r.mu.Unlock()

	for _, h := range hooks {
		h(d)
	}
	metrics.DeviceCount.Set(float64(r.DeviceCount()))
	return nil
}

// Device returns the device named id, if present.
func (r *Rig) Device(id string) (*device.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[id]
	return d, ok
}

// DevicesByChannel returns every device patched to ch.
func (r *Rig) DevicesByChannel(ch uint32) []*device.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*device.Device, len(r.byChannel[ch]))
	copy(out, r.byChannel[ch])
	return out
}

// DeviceCount returns the number of owned devices.
func (r *Rig) DeviceCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// AllDevices returns a DeviceSet over every owned device.
func (r *Rig) AllDevices() device.DeviceSet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	devs := make([]*device.Device, 0, len(r.byID))
	for _, d := range r.byID {
		devs = append(devs, d)
	}
	return device.FromSlice(devs)
}

// SetAllDevices copy-assigns every parameter value present in state into
// the matching owned device by id (not identity).
func (r *Rig) SetAllDevices(state map[string]*device.Device) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, src := range state {
		if dst, ok := r.byID[id]; ok {
			dst.CopyValuesFrom(src)
		}
	}
}

// AddTransport registers t under name. Forbidden while running.
func (r *Rig) AddTransport(name string, t Transport) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		r.log.Error("rig: cannot add transport while running")
		metrics.InvariantViolations.Inc()
		return fmt.Errorf("add transport %s: %w", name, errs.ErrInvariantViolation)
	}
	if _, exists := r.transports[name]; exists {
		r.mu.Unlock()
		return fmt.Errorf("add transport %s: duplicate name: %w", name, errs.ErrInvariantViolation)
	}
	r.transports[name] = t
	r.mu.Unlock()
	return t.Init()
}

// DeleteTransport removes and closes the transport named name. Forbidden
// while running.
func (r *Rig) DeleteTransport(name string) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		r.log.Error("rig: cannot delete transport while running")
		metrics.InvariantViolations.Inc()
		return fmt.Errorf("delete transport %s: %w", name, errs.ErrInvariantViolation)
	}
	t, ok := r.transports[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("delete transport %s: %w", name, errs.ErrNotFound)
	}
	delete(r.transports, name)
	r.mu.Unlock()
	return t.Close()
}

// Transport returns the transport registered under name.
func (r *Rig) Transport(name string) (Transport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transports[name]
	return t, ok
}

// SetRefreshRate changes the tick target rate. Forbidden while running.
func (r *Rig) SetRefreshRate(hz float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		r.log.Error("rig: cannot change refresh rate while running")
		metrics.InvariantViolations.Inc()
		return fmt.Errorf("set refresh rate: %w", errs.ErrInvariantViolation)
	}
	if hz <= 0 {
		return fmt.Errorf("set refresh rate: must be positive: %w", errs.ErrValidation)
	}
	r.refreshHz = hz
	return nil
}

// AddAdditionalFunc registers fn to run every tick in ascending id order,
// before transports are updated. Playback installs its tick function this
// way under a caller-chosen id (attach_to_rig).
func (r *Rig) AddAdditionalFunc(id int, fn AdditionalFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.additional[id]; !exists {
		r.additionalOrder = append(r.additionalOrder, id)
		sort.Ints(r.additionalOrder)
	}
	r.additional[id] = fn
}

// RemoveAdditionalFunc unregisters the function at id.
func (r *Rig) RemoveAdditionalFunc(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.additional[id]; !exists {
		return
	}
	delete(r.additional, id)
	for i, o := range r.additionalOrder {
		if o == id {
			r.additionalOrder = append(r.additionalOrder[:i], r.additionalOrder[i+1:]...)
			break
		}
	}
}

// Start begins the periodic tick loop in a background goroutine.
func (r *Rig) Start() error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("rig: already running: %w", errs.ErrInvariantViolation)
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.mu.Unlock()

	go r.loop()
	return nil
}

// Stop halts the tick loop between iterations and blocks until it exits.
func (r *Rig) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	stopCh, doneCh := r.stopCh, r.doneCh
	r.mu.Unlock()

	close(stopCh)
	<-doneCh
}

func (r *Rig) loop() {
	defer close(r.doneCh)
	// A panic out of a tick function means an internal invariant was
	// violated (e.g. a corrupt parameter map). Report it
	// before re-raising — the process-level recovery in main cannot see
	// a panic on this goroutine.
	defer func() {
		if rec := recover(); rec != nil {
			sentry.CurrentHub().Recover(rec)
			sentry.Flush(2 * time.Second)
			panic(rec)
		}
	}()
	for {
		r.mu.RLock()
		stopCh := r.stopCh
		period := time.Duration(float64(time.Second) / r.refreshHz)
		r.mu.RUnlock()

		select {
		case <-stopCh:
			return
		default:
		}

		start := time.Now()
		r.TickOnce(start.UnixMilli())
		elapsed := time.Since(start)

		r.mu.Lock()
		r.slow = elapsed > period
		r.mu.Unlock()
		if r.Slow() {
			metrics.SlowTicks.Inc()
			r.log.WithField("elapsed_ms", elapsed.Milliseconds()).Warn("rig: tick running slowly")
		}

		sleep := period - elapsed
		if sleep < 0 {
			sleep = 0
		}
		select {
		case <-stopCh:
			return
		case <-time.After(sleep):
		}
	}
}

// TickOnce runs a single iteration: additional functions in id order,
// then each transport's Update. Exposed directly for deterministic
// testing and for a caller-driven tick rate.
func (r *Rig) TickOnce(tNowMs int64) {
	r.mu.RLock()
	fns := make([]AdditionalFunc, 0, len(r.additionalOrder))
	for _, id := range r.additionalOrder {
		fns = append(fns, r.additional[id])
	}
	transportNames := make([]string, 0, len(r.transports))
	for name := range r.transports {
		transportNames = append(transportNames, name)
	}
	sort.Strings(transportNames)
	transports := make([]Transport, 0, len(transportNames))
	for _, name := range transportNames {
		transports = append(transports, r.transports[name])
	}
	devices := make([]*device.Device, 0, len(r.byID))
	for _, d := range r.byID {
		devices = append(devices, d)
	}
	r.mu.RUnlock()

	for _, fn := range fns {
		fn(tNowMs)
	}
	for _, t := range transports {
		if err := t.Update(devices); err != nil {
			r.log.WithError(err).Warn("rig: transport update failed")
		}
	}
}
