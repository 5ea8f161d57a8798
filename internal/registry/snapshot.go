package registry

import (
	"github.com/srg/blebatt/internal/battery"
	"github.com/srg/blebatt/internal/lifecycle"
)

// DeviceSnapshot is a read-only copy of one registry entry.
type DeviceSnapshot struct {
	ID          string                    `json:"id"`
	DisplayName string                    `json:"name"`
	State       lifecycle.ConnectionState `json:"state"`
	Readings    []battery.Reading         `json:"readings"`
	Label       string                    `json:"label"`
	LastError   string                    `json:"last_error,omitempty"`
}

// HasReadings reports whether at least one battery level was recorded.
func (d DeviceSnapshot) HasReadings() bool {
	return len(d.Readings) > 0
}

// Latest returns the most recent reading.
func (d DeviceSnapshot) Latest() (battery.Reading, bool) {
	if len(d.Readings) == 0 {
		return battery.Reading{}, false
	}
	return d.Readings[len(d.Readings)-1], true
}

// Snapshot is the registry contents in discovery order. It shares no memory with the registry.
type Snapshot struct {
	Devices []DeviceSnapshot `json:"devices"`
}

func (s Snapshot) Len() int {
	return len(s.Devices)
}

// Find returns the device with the given id.
func (s Snapshot) Find(id string) (DeviceSnapshot, bool) {
	for _, d := range s.Devices {
		if d.ID == id {
			return d, true
		}
	}
	return DeviceSnapshot{}, false
}
