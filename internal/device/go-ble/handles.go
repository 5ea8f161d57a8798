package goble

import (
	"fmt"

	"github.com/go-ble/ble"
	"github.com/srg/blebatt/internal/device"
)

// bleService is the device.Service handle of a discovered go-ble service.
type bleService struct {
	peripheralID string
	uuid         string
	svc          *ble.Service
}

func newService(peripheralID string, svc *ble.Service) *bleService {
	return &bleService{
		peripheralID: peripheralID,
		uuid:         device.NormalizeUUID(svc.UUID.String()),
		svc:          svc,
	}
}

func (s *bleService) PeripheralID() string { return s.peripheralID }
func (s *bleService) UUID() string         { return s.uuid }

// bleCharacteristic is the device.Characteristic handle of a discovered go-ble characteristic.
type bleCharacteristic struct {
	peripheralID string
	serviceUUID  string
	uuid         string
	char         *ble.Characteristic
}

func newCharacteristic(svc *bleService, c *ble.Characteristic) *bleCharacteristic {
	return &bleCharacteristic{
		peripheralID: svc.peripheralID,
		serviceUUID:  svc.uuid,
		uuid:         device.NormalizeUUID(c.UUID.String()),
		char:         c,
	}
}

func (c *bleCharacteristic) PeripheralID() string { return c.peripheralID }
func (c *bleCharacteristic) ServiceUUID() string  { return c.serviceUUID }
func (c *bleCharacteristic) UUID() string         { return c.uuid }

func (c *bleCharacteristic) canNotify() bool {
	return c.char.Property&(ble.CharNotify|ble.CharIndicate) != 0
}

// indicate reports whether the characteristic only supports indications.
func (c *bleCharacteristic) indicate() bool {
	return c.char.Property&ble.CharNotify == 0 && c.char.Property&ble.CharIndicate != 0
}

func asService(svc device.Service) (*bleService, error) {
	s, ok := svc.(*bleService)
	if !ok || s.svc == nil {
		return nil, fmt.Errorf("service %s was not discovered by this transport", svc.UUID())
	}
	return s, nil
}

func asCharacteristic(ch device.Characteristic) (*bleCharacteristic, error) {
	c, ok := ch.(*bleCharacteristic)
	if !ok || c.char == nil {
		return nil, fmt.Errorf("characteristic %s was not discovered by this transport", ch.UUID())
	}
	return c, nil
}

func parseUUIDs(uuids []string) ([]ble.UUID, error) {
	if len(uuids) == 0 {
		return nil, nil
	}
	normalized, err := device.ValidateUUID(uuids...)
	if err != nil {
		return nil, err
	}
	out := make([]ble.UUID, 0, len(normalized))
	for _, s := range normalized {
		u, err := ble.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid UUID %q: %w", s, err)
		}
		out = append(out, u)
	}
	return out, nil
}
