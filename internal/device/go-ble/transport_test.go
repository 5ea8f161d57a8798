package goble

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/srg/blebatt/internal/device"
	"github.com/srg/blebatt/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type mockClient struct {
	mock.Mock
	disconnected chan struct{}
}

func newMockClient() *mockClient {
	return &mockClient{disconnected: make(chan struct{})}
}

func (m *mockClient) DiscoverServices(filter []ble.UUID) ([]*ble.Service, error) {
	args := m.Called(filter)
	svcs, _ := args.Get(0).([]*ble.Service)
	return svcs, args.Error(1)
}

func (m *mockClient) DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error) {
	args := m.Called(filter, s)
	chars, _ := args.Get(0).([]*ble.Characteristic)
	return chars, args.Error(1)
}

func (m *mockClient) DiscoverDescriptors(filter []ble.UUID, c *ble.Characteristic) ([]*ble.Descriptor, error) {
	args := m.Called(filter, c)
	descs, _ := args.Get(0).([]*ble.Descriptor)
	return descs, args.Error(1)
}

func (m *mockClient) ReadCharacteristic(c *ble.Characteristic) ([]byte, error) {
	args := m.Called(c)
	value, _ := args.Get(0).([]byte)
	return value, args.Error(1)
}

func (m *mockClient) Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	return m.Called(c, ind, h).Error(0)
}

func (m *mockClient) Unsubscribe(c *ble.Characteristic, ind bool) error {
	return m.Called(c, ind).Error(0)
}

func (m *mockClient) CancelConnection() error {
	return m.Called().Error(0)
}

func (m *mockClient) Disconnected() <-chan struct{} {
	return m.disconnected
}

type fakeAdv struct {
	addr        string
	name        string
	services    []ble.UUID
	connectable bool
	rssi        int
}

func (a fakeAdv) Addr() ble.Addr       { return ble.NewAddr(a.addr) }
func (a fakeAdv) LocalName() string    { return a.name }
func (a fakeAdv) Services() []ble.UUID { return a.services }
func (a fakeAdv) Connectable() bool    { return a.connectable }
func (a fakeAdv) RSSI() int            { return a.rssi }

func batteryAdv(addr, name string, rssi int) fakeAdv {
	return fakeAdv{addr: addr, name: name, services: []ble.UUID{ble.UUID16(0x180F)}, connectable: true, rssi: rssi}
}

var (
	batteryService = &ble.Service{UUID: ble.UUID16(0x180F)}
	batteryLevel   = &ble.Characteristic{UUID: ble.UUID16(0x2A19), Property: ble.CharRead | ble.CharNotify}
)

type TransportTestSuite struct {
	suite.Suite

	client    *mockClient
	adverts   []advertisement
	scanErr   error
	dialErr   error
	dialed    []string
	mu        sync.Mutex
	events    chan device.Event
	cancelled chan struct{}
	transport *Transport
}

func (suite *TransportTestSuite) SetupTest() {
	suite.client = newMockClient()
	suite.cancelled = make(chan struct{}, 4)
	suite.client.On("CancelConnection").Run(func(mock.Arguments) {
		suite.cancelled <- struct{}{}
	}).Return(nil).Maybe()
	suite.adverts = nil
	suite.scanErr = nil
	suite.dialErr = nil
	suite.dialed = nil
	suite.events = make(chan device.Event, 64)

	scan := func(ctx context.Context, handler func(advertisement)) error {
		for _, adv := range suite.adverts {
			handler(adv)
		}
		if suite.scanErr != nil {
			return suite.scanErr
		}
		<-ctx.Done()
		return ctx.Err()
	}
	dial := func(ctx context.Context, addr string) (gattClient, error) {
		suite.mu.Lock()
		suite.dialed = append(suite.dialed, addr)
		suite.mu.Unlock()
		if suite.dialErr != nil {
			return nil, suite.dialErr
		}
		return suite.client, nil
	}
	sink := func(ev device.Event) { suite.events <- ev }

	suite.transport = newTransport(scan, dial, sink, &Options{ConnectTimeout: time.Second}, testutils.NewTestHelper(suite.T()).Logger)
}

func (suite *TransportTestSuite) TearDownTest() {
	suite.NoError(suite.transport.Close())
}

func (suite *TransportTestSuite) next() device.Event {
	select {
	case ev := <-suite.events:
		return ev
	case <-time.After(2 * time.Second):
		suite.FailNow("timed out waiting for transport event")
		return device.Event{}
	}
}

func (suite *TransportTestSuite) noEvent() {
	select {
	case ev := <-suite.events:
		suite.Failf("unexpected event", "%s", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func (suite *TransportTestSuite) connect(id string) {
	suite.transport.Connect(device.Peripheral{ID: id, Name: "Mouse"})
	suite.Require().Equal(device.EventConnected, suite.next().Kind)
}

// discover connects and walks discovery down to the Battery Level handle.
func (suite *TransportTestSuite) discover(id string) device.Characteristic {
	suite.client.On("DiscoverServices", mock.Anything).Return([]*ble.Service{batteryService}, nil).Once()
	suite.client.On("DiscoverCharacteristics", mock.Anything, batteryService).Return([]*ble.Characteristic{batteryLevel}, nil).Once()

	suite.connect(id)
	suite.transport.DiscoverServices(id, []string{device.BatteryServiceUUID})
	ev := suite.next()
	suite.Require().Equal(device.EventServicesDiscovered, ev.Kind)
	suite.transport.DiscoverCharacteristics(ev.Services[0], []string{device.BatteryLevelCharUUID})
	ev = suite.next()
	suite.Require().Equal(device.EventCharacteristicsDiscovered, ev.Kind)
	return ev.Characteristics[0]
}

func (suite *TransportTestSuite) TestScanFiltersAndDeduplicates() {
	// GOAL: Verify scanning reports connectable Battery Service advertisers once each, in first-seen order
	//
	// TEST SCENARIO: mixed advertisements → only matching, deduplicated peripherals with latest RSSI

	suite.adverts = []advertisement{
		batteryAdv("aa:aa:aa:aa:aa:01", "Mouse", -60),
		fakeAdv{addr: "aa:aa:aa:aa:aa:02", name: "Light", services: []ble.UUID{ble.UUID16(0x1812)}, connectable: true},
		fakeAdv{addr: "aa:aa:aa:aa:aa:03", name: "Beacon", services: []ble.UUID{ble.UUID16(0x180F)}, connectable: false},
		batteryAdv("aa:aa:aa:aa:aa:04", "Keyboard", -40),
		batteryAdv("aa:aa:aa:aa:aa:01", "", -55),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	found, err := suite.transport.ScanOrRetrieveConnected(ctx, device.BatteryServiceUUID)

	suite.Require().NoError(err, "scan ending on its timeout MUST NOT be an error")
	suite.Equal([]device.Peripheral{
		{ID: "aa:aa:aa:aa:aa:01", Name: "Mouse", RSSI: -55},
		{ID: "aa:aa:aa:aa:aa:04", Name: "Keyboard", RSSI: -40},
	}, found)
}

func (suite *TransportTestSuite) TestScanIncludesConnectedPeripherals() {
	suite.connect("aa:aa:aa:aa:aa:09")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	found, err := suite.transport.ScanOrRetrieveConnected(ctx, device.BatteryServiceUUID)

	suite.Require().NoError(err)
	suite.Equal([]device.Peripheral{{ID: "aa:aa:aa:aa:aa:09", Name: "Mouse"}}, found,
		"connected peripherals MUST be retrieved even though they no longer advertise")
}

func (suite *TransportTestSuite) TestScanErrorIsNormalized() {
	suite.scanErr = errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?")

	_, err := suite.transport.ScanOrRetrieveConnected(context.Background(), device.BatteryServiceUUID)

	suite.ErrorIs(err, device.ErrBluetoothOff)
}

func (suite *TransportTestSuite) TestConnectFailure() {
	suite.dialErr = context.DeadlineExceeded

	suite.transport.Connect(device.Peripheral{ID: "dev-1"})
	ev := suite.next()

	suite.Equal(device.EventConnectFailed, ev.Kind)
	suite.ErrorIs(ev.Err, device.ErrTimeout)
}

func (suite *TransportTestSuite) TestConnectTwice() {
	suite.connect("dev-1")

	suite.transport.Connect(device.Peripheral{ID: "dev-1"})
	ev := suite.next()

	suite.Equal(device.EventConnectFailed, ev.Kind)
	suite.ErrorIs(ev.Err, device.ErrAlreadyConnected)
	suite.Len(suite.dialed, 1, "second connect MUST NOT dial")
}

func (suite *TransportTestSuite) TestDiscoveryProducesHandles() {
	// GOAL: Verify discovery events carry handles with normalized UUIDs bound to the peripheral

	char := suite.discover("dev-1")

	suite.Equal("dev-1", char.PeripheralID())
	suite.Equal("180f", char.ServiceUUID())
	suite.Equal("2a19", char.UUID())
	suite.client.AssertCalled(suite.T(), "DiscoverServices", []ble.UUID{ble.UUID16(0x180F)})
}

func (suite *TransportTestSuite) TestCommandsWithoutConnection() {
	suite.transport.DiscoverServices("ghost", []string{device.BatteryServiceUUID})
	ev := suite.next()

	suite.Equal(device.EventError, ev.Kind)
	suite.Equal("ghost", ev.PeripheralID)
	suite.ErrorIs(ev.Err, device.ErrNotConnected)
}

func (suite *TransportTestSuite) TestForeignHandlesAreRejected() {
	suite.connect("dev-1")

	suite.transport.ReadValue(testutils.BatteryLevel(testutils.BatteryService("dev-1")))
	ev := suite.next()

	suite.Equal(device.EventError, ev.Kind, "handles not produced by the transport MUST be rejected")
}

func (suite *TransportTestSuite) TestReadAndNotify() {
	// GOAL: Verify read results and notifications are delivered as value events
	//
	// TEST SCENARIO: discover → read → subscribe (descriptors discovered first) → notify

	char := suite.discover("dev-1")
	subscribed := make(chan ble.NotificationHandler, 1)
	suite.client.On("ReadCharacteristic", batteryLevel).Return([]byte{81}, nil).Once()
	suite.client.On("DiscoverDescriptors", mock.Anything, batteryLevel).Return([]*ble.Descriptor{}, nil).Once()
	suite.client.On("Subscribe", batteryLevel, false, mock.Anything).Run(func(args mock.Arguments) {
		subscribed <- args.Get(2).(ble.NotificationHandler)
	}).Return(nil).Once()

	suite.transport.ReadValue(char)
	ev := suite.next()
	suite.Equal(device.EventValueUpdated, ev.Kind)
	suite.Equal([]byte{81}, ev.Value)

	suite.transport.SetNotify(char, true)
	var handler ble.NotificationHandler
	select {
	case handler = <-subscribed:
	case <-time.After(2 * time.Second):
		suite.FailNow("timed out waiting for subscription")
	}
	suite.noEvent()

	buf := []byte{80}
	handler(buf)
	buf[0] = 0
	ev = suite.next()
	suite.Equal(device.EventValueUpdated, ev.Kind)
	suite.Equal([]byte{80}, ev.Value, "notification value MUST be copied")
	suite.client.AssertExpectations(suite.T())
}

func (suite *TransportTestSuite) TestLinkLoss() {
	suite.connect("dev-1")

	close(suite.client.disconnected)
	ev := suite.next()

	suite.Equal(device.EventDisconnected, ev.Kind)
	suite.ErrorIs(ev.Err, device.ErrNotConnected)

	suite.transport.ReadValue(&bleCharacteristic{peripheralID: "dev-1", char: batteryLevel})
	suite.ErrorIs(suite.next().Err, device.ErrNotConnected, "commands after link loss MUST fail")
}

func (suite *TransportTestSuite) TestRequestedDisconnectIsSilent() {
	suite.connect("dev-1")

	suite.transport.Disconnect("dev-1")
	select {
	case <-suite.cancelled:
	case <-time.After(2 * time.Second):
		suite.FailNow("connection MUST be cancelled")
	}

	suite.noEvent()
}

func (suite *TransportTestSuite) TestReconnectAfterCommandError() {
	// GOAL: Verify a peripheral released after a failed command can be connected again
	//
	// TEST SCENARIO: connect → DiscoverServices fails → Disconnect → Connect → Connected, dialed twice

	suite.client.On("DiscoverServices", mock.Anything).Return([]*ble.Service(nil), errors.New("att: timeout")).Once()
	suite.connect("dev-1")

	suite.transport.DiscoverServices("dev-1", []string{device.BatteryServiceUUID})
	suite.Require().Equal(device.EventError, suite.next().Kind)

	suite.transport.Disconnect("dev-1")
	select {
	case <-suite.cancelled:
	case <-time.After(2 * time.Second):
		suite.FailNow("connection MUST be cancelled")
	}

	suite.connect("dev-1")
	suite.mu.Lock()
	defer suite.mu.Unlock()
	suite.Len(suite.dialed, 2, "released peripheral MUST be dialed again")
}

func (suite *TransportTestSuite) TestClosedTransport() {
	suite.NoError(suite.transport.Close())

	_, err := suite.transport.ScanOrRetrieveConnected(context.Background(), device.BatteryServiceUUID)
	suite.ErrorIs(err, device.ErrClosed)

	suite.transport.Connect(device.Peripheral{ID: "dev-1"})
	suite.noEvent()
}

func TestTransportTestSuite(t *testing.T) {
	suite.Run(t, new(TransportTestSuite))
}

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		msg  string
		want error
	}{
		{"bluetooth is turned off", device.ErrBluetoothOff},
		{"can't init hci: no devices available", device.ErrBluetoothOff},
		{"device not connected", device.ErrNotConnected},
		{"peripheral disconnected", device.ErrNotConnected},
		{"device already connected", device.ErrAlreadyConnected},
	}
	for _, tt := range tests {
		if err := NormalizeError(errors.New(tt.msg)); !errors.Is(err, tt.want) {
			t.Errorf("NormalizeError(%q) = %v, MUST wrap %v", tt.msg, err, tt.want)
		}
	}

	plain := errors.New("att: invalid handle")
	if NormalizeError(plain) != plain {
		t.Errorf("unknown errors MUST pass through unchanged")
	}
	if NormalizeError(nil) != nil {
		t.Errorf("nil MUST stay nil")
	}
}

func TestParseUUIDs(t *testing.T) {
	got, err := parseUUIDs([]string{"180F", "00002a19-0000-1000-8000-00805f9b34fb"})
	require.NoError(t, err)
	assert.Equal(t, []ble.UUID{ble.UUID16(0x180F), ble.UUID16(0x2A19)}, got, "UUIDs MUST be normalized before parsing")

	got, err = parseUUIDs(nil)
	require.NoError(t, err)
	assert.Nil(t, got, "no UUIDs MUST mean no filter")

	_, err = parseUUIDs([]string{"battery"})
	assert.ErrorContains(t, err, "invalid UUID format")

	_, err = parseUUIDs([]string{"180f", ""})
	assert.Error(t, err)
}
