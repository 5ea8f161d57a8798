package device

import "fmt"

// EventKind tags the variant carried by an Event.
type EventKind int

const (
	EventConnected EventKind = iota
	EventConnectFailed
	EventServicesDiscovered
	EventCharacteristicsDiscovered
	EventValueUpdated
	EventDisconnected
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventConnectFailed:
		return "connect_failed"
	case EventServicesDiscovered:
		return "services_discovered"
	case EventCharacteristicsDiscovered:
		return "characteristics_discovered"
	case EventValueUpdated:
		return "value_updated"
	case EventDisconnected:
		return "disconnected"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is a transport callback. Only the fields of its Kind are set;
// PeripheralID is always set.
type Event struct {
	Kind         EventKind
	PeripheralID string

	Services        []Service        // EventServicesDiscovered
	Service         Service          // EventCharacteristicsDiscovered
	Characteristics []Characteristic // EventCharacteristicsDiscovered
	Characteristic  Characteristic   // EventValueUpdated
	Value           []byte           // EventValueUpdated
	Err             error            // EventConnectFailed, EventDisconnected, EventError
}

func (e Event) String() string {
	if e.Err != nil {
		return fmt.Sprintf("%s(%s): %v", e.Kind, e.PeripheralID, e.Err)
	}
	return fmt.Sprintf("%s(%s)", e.Kind, e.PeripheralID)
}

func Connected(peripheralID string) Event {
	return Event{Kind: EventConnected, PeripheralID: peripheralID}
}

func ConnectFailed(peripheralID string, err error) Event {
	return Event{Kind: EventConnectFailed, PeripheralID: peripheralID, Err: err}
}

func ServicesDiscovered(peripheralID string, services []Service) Event {
	return Event{Kind: EventServicesDiscovered, PeripheralID: peripheralID, Services: services}
}

func CharacteristicsDiscovered(svc Service, chars []Characteristic) Event {
	return Event{
		Kind:            EventCharacteristicsDiscovered,
		PeripheralID:    svc.PeripheralID(),
		Service:         svc,
		Characteristics: chars,
	}
}

// ValueUpdated copies value so the transport may reuse its buffer.
func ValueUpdated(ch Characteristic, value []byte) Event {
	v := make([]byte, len(value))
	copy(v, value)
	return Event{Kind: EventValueUpdated, PeripheralID: ch.PeripheralID(), Characteristic: ch, Value: v}
}

func Disconnected(peripheralID string, err error) Event {
	return Event{Kind: EventDisconnected, PeripheralID: peripheralID, Err: err}
}

// Failed reports a transport error for a command issued against the peripheral.
func Failed(peripheralID string, err error) Event {
	return Event{Kind: EventError, PeripheralID: peripheralID, Err: err}
}
