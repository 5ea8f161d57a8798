// Package registry owns the set of known battery peripherals: their lifecycle
// state and reading history, keyed by peripheral id.
package registry

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blebatt/internal/battery"
	"github.com/srg/blebatt/internal/device"
	"github.com/srg/blebatt/internal/lifecycle"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

type entry struct {
	lifecycle *lifecycle.Lifecycle
	log       *battery.ReadingLog // nil until the first reading
}

// Options configure a Registry. Zero values select the defaults.
type Options struct {
	Window time.Duration
	Clock  func() int64 // milliseconds
}

// Registry maps peripheral ids to their lifecycle and reading log.
//
// All methods are safe for concurrent use. In production every mutation comes from the
// monitor event loop; the lock exists for snapshot readers on other goroutines.
// Observers are called after each mutation, outside the lock, on the mutating goroutine.
type Registry struct {
	mu        sync.Mutex
	devices   *orderedmap.OrderedMap[string, *entry]
	transport device.Transport
	window    time.Duration
	clock     func() int64
	logger    *logrus.Logger
	observers []func(Snapshot)
}

func New(transport device.Transport, opts Options, logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.Window <= 0 {
		opts.Window = battery.DefaultWindow
	}
	if opts.Clock == nil {
		opts.Clock = func() int64 { return time.Now().UnixMilli() }
	}
	return &Registry{
		devices:   orderedmap.New[string, *entry](),
		transport: transport,
		window:    opts.Window,
		clock:     opts.Clock,
		logger:    logger,
	}
}

// Subscribe registers fn to receive a snapshot after every mutation.
func (r *Registry) Subscribe(fn func(Snapshot)) {
	r.mu.Lock()
	r.observers = append(r.observers, fn)
	r.mu.Unlock()
}

// UpsertDiscovered adds p in the Discovered state and begins its lifecycle.
// A peripheral already present is left untouched.
func (r *Registry) UpsertDiscovered(p device.Peripheral) {
	r.mu.Lock()
	added := r.addLocked(p)
	r.mu.Unlock()

	if added {
		r.notify()
	}
}

// ReplaceWithRescan makes the device set exactly ps. Devices absent from ps are
// removed with their logs and disconnected, new devices begin their lifecycle,
// and present devices keep their state. A present device whose last connect
// failed is connected again.
func (r *Registry) ReplaceWithRescan(ps []device.Peripheral) {
	seen := make(map[string]struct{}, len(ps))
	for _, p := range ps {
		seen[p.ID] = struct{}{}
	}

	r.mu.Lock()
	var removed []string
	for pair := r.devices.Oldest(); pair != nil; pair = pair.Next() {
		if _, ok := seen[pair.Key]; !ok {
			removed = append(removed, pair.Key)
		}
	}
	for _, id := range removed {
		r.devices.Delete(id)
		r.logger.WithField("device", id).Info("Peripheral absent from rescan, removed")
	}

	for _, p := range ps {
		if e, ok := r.devices.Get(p.ID); ok {
			if e.lifecycle.NeedsReconnect() {
				r.logger.WithFields(logrus.Fields{
					"device": p.ID,
					"error":  e.lifecycle.LastError(),
				}).Info("Retrying connection after failed attempt")
				e.lifecycle.Begin()
			}
			continue
		}
		r.addLocked(p)
	}
	r.mu.Unlock()

	for _, id := range removed {
		r.transport.Disconnect(id)
	}
	r.notify()
}

// OnTransportEvent dispatches ev to the lifecycle of its peripheral.
// Events for unknown peripherals are ignored.
func (r *Registry) OnTransportEvent(ev device.Event) {
	r.mu.Lock()
	e, ok := r.devices.Get(ev.PeripheralID)
	if !ok {
		r.mu.Unlock()
		r.logger.WithFields(logrus.Fields{
			"device": ev.PeripheralID,
			"event":  ev.Kind,
		}).Debug("Ignoring event for unknown peripheral")
		return
	}

	res := e.lifecycle.Handle(ev)
	changed := true
	terminated := false
	switch res.Outcome {
	case lifecycle.LevelReported:
		r.recordLocked(e, res.Level, r.clock())
	case lifecycle.Terminated:
		r.devices.Delete(ev.PeripheralID)
		terminated = true
	case lifecycle.Ignored, lifecycle.Stalled, lifecycle.Discarded:
		changed = false
	}
	r.mu.Unlock()

	// A command error leaves the link up; drop it so the next scan can connect again.
	if terminated {
		r.transport.Disconnect(ev.PeripheralID)
	}
	if changed {
		r.notify()
	}
}

// Record folds a raw battery level into the log of id, creating the log on first use.
// Levels above battery.MaxLevel are rejected.
func (r *Registry) Record(id string, raw byte, now int64) error {
	level, err := battery.ValidateLevel(raw)
	if err != nil {
		return fmt.Errorf("record level for %q: %w", id, err)
	}

	r.mu.Lock()
	e, ok := r.devices.Get(id)
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("record level for %q: %w", id, device.ErrUnknownDevice)
	}
	r.recordLocked(e, level, now)
	r.mu.Unlock()

	r.notify()
	return nil
}

// Snapshot returns a copy of every device in discovery order.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Get returns the snapshot of a single device.
func (r *Registry) Get(id string) (DeviceSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.devices.Get(id)
	if !ok {
		return DeviceSnapshot{}, false
	}
	return snapshotOf(id, e), true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.devices.Len()
}

func (r *Registry) addLocked(p device.Peripheral) bool {
	if _, ok := r.devices.Get(p.ID); ok {
		return false
	}
	lc := lifecycle.New(p, r.transport, r.logger)
	r.devices.Set(p.ID, &entry{lifecycle: lc})
	r.logger.WithFields(logrus.Fields{
		"device": p.ID,
		"name":   p.DisplayName(),
		"rssi":   p.RSSI,
	}).Info("Battery peripheral discovered")
	lc.Begin()
	return true
}

func (r *Registry) recordLocked(e *entry, level uint8, now int64) {
	if e.log == nil {
		e.log = battery.NewReadingLog(r.window)
	}
	e.log.Record(level, now)
	r.logger.WithFields(logrus.Fields{
		"device": e.lifecycle.Peripheral().ID,
		"level":  level,
		"label":  e.log.Label(),
	}).Debug("Battery level recorded")
}

func (r *Registry) snapshotLocked() Snapshot {
	snap := Snapshot{Devices: make([]DeviceSnapshot, 0, r.devices.Len())}
	for pair := r.devices.Oldest(); pair != nil; pair = pair.Next() {
		snap.Devices = append(snap.Devices, snapshotOf(pair.Key, pair.Value))
	}
	return snap
}

func snapshotOf(id string, e *entry) DeviceSnapshot {
	d := DeviceSnapshot{
		ID:          id,
		DisplayName: e.lifecycle.Peripheral().DisplayName(),
		State:       e.lifecycle.State(),
	}
	if err := e.lifecycle.LastError(); err != nil {
		d.LastError = err.Error()
	}
	if e.log != nil {
		d.Readings = e.log.Entries()
		d.Label = e.log.Label()
	}
	return d
}

func (r *Registry) notify() {
	r.mu.Lock()
	if len(r.observers) == 0 {
		r.mu.Unlock()
		return
	}
	snap := r.snapshotLocked()
	observers := slices.Clone(r.observers)
	r.mu.Unlock()

	for _, fn := range observers {
		fn(snap)
	}
}
