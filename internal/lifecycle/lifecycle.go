// Package lifecycle drives a single BLE peripheral from discovery to an active
// Battery Level subscription.
package lifecycle

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/blebatt/internal/battery"
	"github.com/srg/blebatt/internal/bledb"
	"github.com/srg/blebatt/internal/device"
)

// Lifecycle is the per-peripheral state machine. It is not safe for concurrent
// use; the owning registry serializes access.
type Lifecycle struct {
	peripheral device.Peripheral
	state      ConnectionState
	transport  device.Transport
	lastErr    error
	logger     *logrus.Logger
}

// New creates a lifecycle in the Discovered state. No command is issued until Begin.
func New(p device.Peripheral, transport device.Transport, logger *logrus.Logger) *Lifecycle {
	if logger == nil {
		logger = logrus.New()
	}
	return &Lifecycle{
		peripheral: p,
		state:      Discovered,
		transport:  transport,
		logger:     logger,
	}
}

// Peripheral returns the peripheral this lifecycle drives.
func (l *Lifecycle) Peripheral() device.Peripheral {
	return l.peripheral
}

// State returns the current state.
func (l *Lifecycle) State() ConnectionState {
	return l.state
}

// LastError returns the error of the last failed connect or the terminating error.
func (l *Lifecycle) LastError() error {
	return l.lastErr
}

// NeedsReconnect reports whether the last connect attempt failed and none is pending.
func (l *Lifecycle) NeedsReconnect() bool {
	return l.state == Discovered && l.lastErr != nil
}

// Begin issues Connect from the Discovered state and moves to Connecting.
// Returns false, issuing nothing, in any other state.
func (l *Lifecycle) Begin() bool {
	if l.state != Discovered {
		return false
	}
	l.state = Connecting
	l.fields().Debug("Connecting to peripheral")
	l.transport.Connect(l.peripheral)
	return true
}

// Terminate moves the lifecycle to Disconnected without issuing a command.
func (l *Lifecycle) Terminate(err error) {
	if l.state.Terminal() {
		return
	}
	l.state = Disconnected
	l.lastErr = err
}

// Handle applies one transport event and issues at most the commands of the
// state it enters. Events that do not match the current state are ignored.
func (l *Lifecycle) Handle(ev device.Event) Result {
	if ev.PeripheralID != l.peripheral.ID || l.state.Terminal() {
		return Result{Outcome: Ignored}
	}

	switch ev.Kind {
	case device.EventConnected:
		if l.state != Connecting {
			return Result{Outcome: Ignored}
		}
		l.state = Connected
		l.lastErr = nil
		l.fields().Info("Peripheral connected, discovering Battery Service")
		l.transport.DiscoverServices(l.peripheral.ID, []string{device.BatteryServiceUUID})
		return Result{Outcome: Advanced}

	case device.EventConnectFailed:
		if l.state != Connecting {
			return Result{Outcome: Ignored}
		}
		l.state = Discovered
		l.lastErr = ev.Err
		l.fields().WithError(ev.Err).Warn("Failed to connect to peripheral")
		return Result{Outcome: Reverted, Err: ev.Err}

	case device.EventServicesDiscovered:
		if l.state != Connected {
			return Result{Outcome: Ignored}
		}
		svc := findService(ev.Services, device.BatteryServiceUUID)
		if svc == nil {
			l.fields().WithField("services", serviceNames(ev.Services)).Debug("Battery Service not present, lifecycle stalled")
			return Result{Outcome: Stalled}
		}
		l.state = ServicesDiscovered
		l.fields().WithField("service", bledb.LookupService(svc.UUID())).Debug("Battery Service discovered, discovering Battery Level characteristic")
		l.transport.DiscoverCharacteristics(svc, []string{device.BatteryLevelCharUUID})
		return Result{Outcome: Advanced}

	case device.EventCharacteristicsDiscovered:
		if l.state != ServicesDiscovered || ev.Service == nil || !device.SameUUID(ev.Service.UUID(), device.BatteryServiceUUID) {
			return Result{Outcome: Ignored}
		}
		char := findCharacteristic(ev.Characteristics, device.BatteryLevelCharUUID)
		if char == nil {
			l.fields().WithField("characteristics", characteristicNames(ev.Characteristics)).Debug("Battery Level characteristic not present, lifecycle stalled")
			return Result{Outcome: Stalled}
		}
		l.state = Subscribed
		l.fields().WithField("characteristic", bledb.LookupCharacteristic(char.UUID())).Info("Subscribing to Battery Level notifications")
		l.transport.ReadValue(char)
		l.transport.SetNotify(char, true)
		return Result{Outcome: Advanced}

	case device.EventValueUpdated:
		if l.state != Subscribed || ev.Characteristic == nil || !device.SameUUID(ev.Characteristic.UUID(), device.BatteryLevelCharUUID) {
			return Result{Outcome: Ignored}
		}
		level, err := battery.ParseLevel(ev.Value)
		if err != nil {
			l.fields().WithError(err).Debug("Discarding battery notification")
			return Result{Outcome: Discarded, Err: err}
		}
		return Result{Outcome: LevelReported, Level: level}

	case device.EventDisconnected, device.EventError:
		l.Terminate(ev.Err)
		l.fields().WithField("event", ev.Kind).WithError(ev.Err).Info("Peripheral lifecycle terminated")
		return Result{Outcome: Terminated, Err: ev.Err}

	default:
		return Result{Outcome: Ignored}
	}
}

func (l *Lifecycle) fields() *logrus.Entry {
	return l.logger.WithFields(logrus.Fields{
		"device": l.peripheral.ID,
		"name":   l.peripheral.Name,
		"state":  l.state,
	})
}

func findService(services []device.Service, uuid string) device.Service {
	for _, svc := range services {
		if svc != nil && device.SameUUID(svc.UUID(), uuid) {
			return svc
		}
	}
	return nil
}

func findCharacteristic(chars []device.Characteristic, uuid string) device.Characteristic {
	for _, c := range chars {
		if c != nil && device.SameUUID(c.UUID(), uuid) {
			return c
		}
	}
	return nil
}

// serviceNames returns the SIG names of svcs, falling back to a shortened UUID.
func serviceNames(svcs []device.Service) []string {
	names := make([]string, 0, len(svcs))
	for _, svc := range svcs {
		if svc != nil {
			names = append(names, attributeName(bledb.LookupService(svc.UUID()), svc.UUID()))
		}
	}
	return names
}

func characteristicNames(chars []device.Characteristic) []string {
	names := make([]string, 0, len(chars))
	for _, c := range chars {
		if c != nil {
			names = append(names, attributeName(bledb.LookupCharacteristic(c.UUID()), c.UUID()))
		}
	}
	return names
}

func attributeName(name, uuid string) string {
	if name != "" {
		return name
	}
	return device.ShortenUUID(uuid)
}
