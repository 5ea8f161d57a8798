package lifecycle

import (
	"testing"

	"github.com/srg/blebatt/internal/device"
	"github.com/stretchr/testify/assert"
)

func TestAttributeNames(t *testing.T) {
	svc := device.NewService("dev-1", "0000180f-0000-1000-8000-00805f9b34fb")
	custom := device.NewService("dev-1", "6e400001b5a3f393e0a9e50e24dcca9e")

	assert.Equal(t, []string{"Battery Service", "6e400001"}, serviceNames([]device.Service{svc, nil, custom}),
		"unknown services MUST fall back to a shortened UUID")
	assert.Equal(t, []string{"Battery Level", "2a1a"}, characteristicNames([]device.Characteristic{
		device.NewCharacteristic(svc, device.BatteryLevelCharUUID),
		device.NewCharacteristic(svc, "2a1a"),
	}))
	assert.Empty(t, serviceNames(nil))
}
