package device

import "context"

// UnknownDeviceName is shown for peripherals that advertise no local name.
const UnknownDeviceName = "Unknown Device"

// Peripheral is a remote device reported by a scan.
type Peripheral struct {
	ID   string `json:"id"` // stable, comparable identifier: CoreBluetooth UUID on darwin, MAC address elsewhere
	Name string `json:"name"`
	RSSI int    `json:"rssi"`
}

// DisplayName returns the advertised name, or UnknownDeviceName when none was advertised.
func (p Peripheral) DisplayName() string {
	if p.Name == "" {
		return UnknownDeviceName
	}
	return p.Name
}

// Service is an opaque handle to a discovered GATT service.
type Service interface {
	PeripheralID() string
	UUID() string
}

// Characteristic is an opaque handle to a discovered GATT characteristic.
type Characteristic interface {
	PeripheralID() string
	ServiceUUID() string
	UUID() string
}

// EventSink receives transport events. Implementations of Transport call it
// from their own goroutines; it must not block for long.
type EventSink func(Event)

// Transport is the command side of the platform BLE stack.
//
// Every command except ScanOrRetrieveConnected and Close is fire-and-forget:
// it returns immediately and its outcome arrives later as an Event on the sink
// the transport was created with. Commands never invoke the sink synchronously.
type Transport interface {
	// ScanOrRetrieveConnected blocks until ctx is done and returns the connectable
	// peripherals that advertised serviceUUID.
	ScanOrRetrieveConnected(ctx context.Context, serviceUUID string) ([]Peripheral, error)

	Connect(p Peripheral)
	DiscoverServices(peripheralID string, serviceUUIDs []string)
	DiscoverCharacteristics(svc Service, charUUIDs []string)
	ReadValue(ch Characteristic)
	SetNotify(ch Characteristic, enabled bool)
	Disconnect(peripheralID string)

	Close() error
}

type gattService struct {
	peripheralID string
	uuid         string
}

func (s *gattService) PeripheralID() string { return s.peripheralID }
func (s *gattService) UUID() string         { return s.uuid }

type gattCharacteristic struct {
	peripheralID string
	serviceUUID  string
	uuid         string
}

func (c *gattCharacteristic) PeripheralID() string { return c.peripheralID }
func (c *gattCharacteristic) ServiceUUID() string  { return c.serviceUUID }
func (c *gattCharacteristic) UUID() string         { return c.uuid }

// NewService returns a plain Service handle with a normalized UUID.
func NewService(peripheralID, uuid string) Service {
	return &gattService{peripheralID: peripheralID, uuid: NormalizeUUID(uuid)}
}

// NewCharacteristic returns a plain Characteristic handle belonging to svc.
func NewCharacteristic(svc Service, uuid string) Characteristic {
	return &gattCharacteristic{
		peripheralID: svc.PeripheralID(),
		serviceUUID:  svc.UUID(),
		uuid:         NormalizeUUID(uuid),
	}
}
