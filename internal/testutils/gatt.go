package testutils

import "github.com/srg/blebatt/internal/device"

// NewPeripheral returns a scan result for id.
func NewPeripheral(id, name string) device.Peripheral {
	return device.Peripheral{ID: id, Name: name, RSSI: -50}
}

// BatteryService returns a Battery Service handle owned by peripheralID.
func BatteryService(peripheralID string) device.Service {
	return device.NewService(peripheralID, device.BatteryServiceUUID)
}

// BatteryLevel returns a Battery Level characteristic handle inside svc.
func BatteryLevel(svc device.Service) device.Characteristic {
	return device.NewCharacteristic(svc, device.BatteryLevelCharUUID)
}

// GATT is the event script of one peripheral exposing the Battery Service.
type GATT struct {
	ID      string
	Service device.Service
	Level   device.Characteristic
}

// NewBatteryGATT builds the handles of a standard battery peripheral.
func NewBatteryGATT(peripheralID string) *GATT {
	svc := BatteryService(peripheralID)
	return &GATT{ID: peripheralID, Service: svc, Level: BatteryLevel(svc)}
}

func (g *GATT) Connected() device.Event {
	return device.Connected(g.ID)
}

func (g *GATT) ServicesDiscovered() device.Event {
	return device.ServicesDiscovered(g.ID, []device.Service{g.Service})
}

func (g *GATT) CharacteristicsDiscovered() device.Event {
	return device.CharacteristicsDiscovered(g.Service, []device.Characteristic{g.Level})
}

func (g *GATT) Notify(payload ...byte) device.Event {
	return device.ValueUpdated(g.Level, payload)
}

// Subscribe returns the event sequence that takes a connecting peripheral to Subscribed.
func (g *GATT) Subscribe() []device.Event {
	return []device.Event{g.Connected(), g.ServicesDiscovered(), g.CharacteristicsDiscovered()}
}
