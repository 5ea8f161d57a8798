package testutils

import (
	"context"
	"sync"

	"github.com/srg/blebatt/internal/device"
	"github.com/stretchr/testify/mock"
)

// Command is one transport command recorded by MockTransport, in issue order.
type Command struct {
	Name         string
	PeripheralID string
	UUIDs        []string
	Enabled      bool
}

// MockTransport is a testify mock of device.Transport.
//
// Fire-and-forget commands are pre-registered as optional expectations, so tests
// only program ScanOrRetrieveConnected and assert on calls afterwards:
//
//	tr := testutils.NewMockTransport()
//	tr.OnScan(testutils.NewPeripheral("dev-1", "Mouse"))
//	...
//	tr.AssertNumberOfCalls(t, "Connect", 1)
//
// Events are never emitted by the mock; tests feed them to the code under test.
type MockTransport struct {
	mock.Mock

	mu       sync.Mutex
	commands []Command
}

// NewMockTransport creates a MockTransport accepting every command.
func NewMockTransport() *MockTransport {
	m := &MockTransport{}
	m.On("Connect", mock.Anything).Return().Maybe()
	m.On("DiscoverServices", mock.Anything, mock.Anything).Return().Maybe()
	m.On("DiscoverCharacteristics", mock.Anything, mock.Anything).Return().Maybe()
	m.On("ReadValue", mock.Anything).Return().Maybe()
	m.On("SetNotify", mock.Anything, mock.Anything).Return().Maybe()
	m.On("Disconnect", mock.Anything).Return().Maybe()
	m.On("Close").Return(nil).Maybe()
	return m
}

// OnScan programs the next ScanOrRetrieveConnected call to report peripherals.
func (m *MockTransport) OnScan(peripherals ...device.Peripheral) *mock.Call {
	return m.On("ScanOrRetrieveConnected", mock.Anything, device.BatteryServiceUUID).Return(peripherals, nil).Once()
}

// OnScanError programs the next ScanOrRetrieveConnected call to fail.
func (m *MockTransport) OnScanError(err error) *mock.Call {
	return m.On("ScanOrRetrieveConnected", mock.Anything, device.BatteryServiceUUID).Return([]device.Peripheral(nil), err).Once()
}

func (m *MockTransport) ScanOrRetrieveConnected(ctx context.Context, serviceUUID string) ([]device.Peripheral, error) {
	args := m.Called(ctx, serviceUUID)
	return args.Get(0).([]device.Peripheral), args.Error(1)
}

func (m *MockTransport) Connect(p device.Peripheral) {
	m.record(Command{Name: "Connect", PeripheralID: p.ID})
	m.Called(p)
}

func (m *MockTransport) DiscoverServices(peripheralID string, serviceUUIDs []string) {
	m.record(Command{Name: "DiscoverServices", PeripheralID: peripheralID, UUIDs: serviceUUIDs})
	m.Called(peripheralID, serviceUUIDs)
}

func (m *MockTransport) DiscoverCharacteristics(svc device.Service, charUUIDs []string) {
	m.record(Command{Name: "DiscoverCharacteristics", PeripheralID: svc.PeripheralID(), UUIDs: charUUIDs})
	m.Called(svc, charUUIDs)
}

func (m *MockTransport) ReadValue(ch device.Characteristic) {
	m.record(Command{Name: "ReadValue", PeripheralID: ch.PeripheralID(), UUIDs: []string{ch.UUID()}})
	m.Called(ch)
}

func (m *MockTransport) SetNotify(ch device.Characteristic, enabled bool) {
	m.record(Command{Name: "SetNotify", PeripheralID: ch.PeripheralID(), UUIDs: []string{ch.UUID()}, Enabled: enabled})
	m.Called(ch, enabled)
}

func (m *MockTransport) Disconnect(peripheralID string) {
	m.record(Command{Name: "Disconnect", PeripheralID: peripheralID})
	m.Called(peripheralID)
}

func (m *MockTransport) Close() error {
	return m.Called().Error(0)
}

// Commands returns the recorded commands in issue order.
func (m *MockTransport) Commands() []Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Command, len(m.commands))
	copy(out, m.commands)
	return out
}

// CommandsFor returns the names of the commands issued for one peripheral, in order.
func (m *MockTransport) CommandsFor(peripheralID string) []string {
	var names []string
	for _, c := range m.Commands() {
		if c.PeripheralID == peripheralID {
			names = append(names, c.Name)
		}
	}
	return names
}

// Reset forgets recorded commands and call history, keeping expectations.
func (m *MockTransport) Reset() {
	m.mu.Lock()
	m.commands = nil
	m.mu.Unlock()
	m.Calls = nil
}

func (m *MockTransport) record(c Command) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, c)
}

var _ device.Transport = (*MockTransport)(nil)
