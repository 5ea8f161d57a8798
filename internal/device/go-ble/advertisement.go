package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/blebatt/internal/device"
)

// advertisement is the part of ble.Advertisement the scanner reads.
type advertisement interface {
	Addr() ble.Addr
	LocalName() string
	Services() []ble.UUID
	Connectable() bool
	RSSI() int
}

// advertisesService reports whether adv lists serviceUUID among its advertised services.
func advertisesService(adv advertisement, serviceUUID string) bool {
	for _, u := range adv.Services() {
		if device.SameUUID(u.String(), serviceUUID) {
			return true
		}
	}
	return false
}

func peripheralFrom(adv advertisement) device.Peripheral {
	return device.Peripheral{
		ID:   adv.Addr().String(),
		Name: adv.LocalName(),
		RSSI: adv.RSSI(),
	}
}
