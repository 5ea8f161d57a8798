package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blebatt/internal/bledb"
	"github.com/srg/blebatt/internal/device"
	"github.com/srg/blebatt/internal/groutine"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// gattClient is the part of ble.Client the transport drives.
type gattClient interface {
	DiscoverServices(filter []ble.UUID) ([]*ble.Service, error)
	DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error)
	DiscoverDescriptors(filter []ble.UUID, c *ble.Characteristic) ([]*ble.Descriptor, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	CancelConnection() error
}

type scanFunc func(ctx context.Context, handler func(advertisement)) error

type dialFunc func(ctx context.Context, addr string) (gattClient, error)

// Options configure a Transport.
type Options struct {
	ConnectTimeout time.Duration `default:"30s"`
	// CloseTimeout bounds how long Close waits for in-flight commands.
	CloseTimeout time.Duration `default:"5s"`
}

// DeviceFactory creates the platform ble.Device (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newPlatformDevice

type peripheralConn struct {
	peripheral device.Peripheral
	client     gattClient
	mu         sync.Mutex // serializes GATT requests on client
	closing    atomic.Bool
	done       chan struct{}
}

// Transport implements device.Transport over github.com/go-ble/ble.
//
// Every command runs its blocking go-ble calls on a named worker goroutine and
// reports the outcome as a device.Event through the sink. Commands return
// immediately and never invoke the sink on the calling goroutine.
type Transport struct {
	ctx     context.Context
	cancel  context.CancelFunc
	scan    scanFunc
	dial    dialFunc
	stop    func() error
	sink    device.EventSink
	conns   *hashmap.Map[string, *peripheralConn]
	workers groutine.Group
	opts    Options
	logger  *logrus.Logger
	closed  atomic.Bool
}

var _ device.Transport = (*Transport)(nil)

// New opens the platform BLE adapter and returns a transport reporting to sink.
func New(sink device.EventSink, opts *Options, logger *logrus.Logger) (*Transport, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to open BLE adapter: %w", NormalizeError(err))
	}

	scan := func(ctx context.Context, handler func(advertisement)) error {
		return dev.Scan(ctx, true, func(adv ble.Advertisement) { handler(adv) })
	}
	dial := func(ctx context.Context, addr string) (gattClient, error) {
		client, err := dev.Dial(ctx, ble.NewAddr(addr))
		if err != nil {
			return nil, err
		}
		return client, nil
	}

	t := newTransport(scan, dial, sink, opts, logger)
	t.stop = dev.Stop
	return t, nil
}

func newTransport(scan scanFunc, dial dialFunc, sink device.EventSink, opts *Options, logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	o := Options{}
	defaults.SetDefaults(&o)
	if opts != nil {
		if opts.ConnectTimeout > 0 {
			o.ConnectTimeout = opts.ConnectTimeout
		}
		if opts.CloseTimeout > 0 {
			o.CloseTimeout = opts.CloseTimeout
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		ctx:    ctx,
		cancel: cancel,
		scan:   scan,
		dial:   dial,
		sink:   sink,
		conns:  hashmap.New[string, *peripheralConn](),
		opts:   o,
		logger: logger,
	}
}

// ScanOrRetrieveConnected scans until ctx ends and returns the connectable
// peripherals advertising serviceUUID, in first-seen order. Peripherals this
// transport is already connected to are included since they no longer advertise.
func (t *Transport) ScanOrRetrieveConnected(ctx context.Context, serviceUUID string) ([]device.Peripheral, error) {
	if t.closed.Load() {
		return nil, device.ErrClosed
	}

	var mu sync.Mutex
	found := orderedmap.New[string, device.Peripheral]()

	t.conns.Range(func(id string, conn *peripheralConn) bool {
		if !conn.closing.Load() {
			found.Set(id, conn.peripheral)
		}
		return true
	})

	t.logger.WithField("service", serviceUUID).Debug("Scanning for peripherals...")
	err := t.scan(ctx, func(adv advertisement) {
		if !adv.Connectable() || !advertisesService(adv, serviceUUID) {
			return
		}
		p := peripheralFrom(adv)

		mu.Lock()
		defer mu.Unlock()
		if prev, ok := found.Get(p.ID); ok && p.Name == "" {
			p.Name = prev.Name
		}
		found.Set(p.ID, p)
	})
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", NormalizeError(err))
	}

	mu.Lock()
	defer mu.Unlock()
	out := make([]device.Peripheral, 0, found.Len())
	for pair := found.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	t.logger.WithFields(logrus.Fields{
		"service": serviceUUID,
		"found":   len(out),
	}).Debug("Scan completed")
	return out, nil
}

func (t *Transport) Connect(p device.Peripheral) {
	t.run("connect", p.ID, func(ctx context.Context) {
		if _, ok := t.conns.Get(p.ID); ok {
			t.emit(device.ConnectFailed(p.ID, device.ErrAlreadyConnected))
			return
		}

		logger := t.logger.WithFields(logrus.Fields{
			"device":  p.ID,
			"timeout": t.opts.ConnectTimeout,
		})
		logger.Debug("Dialing BLE device...")

		dialCtx, cancel := context.WithTimeout(ctx, t.opts.ConnectTimeout)
		client, err := t.dial(dialCtx, p.ID)
		cancel()
		if err != nil {
			err = NormalizeError(err)
			logger.WithError(err).Warn("Failed to dial BLE device")
			t.emit(device.ConnectFailed(p.ID, err))
			return
		}

		conn := &peripheralConn{peripheral: p, client: client, done: make(chan struct{})}
		if !t.conns.Insert(p.ID, conn) {
			_ = client.CancelConnection()
			t.emit(device.ConnectFailed(p.ID, device.ErrAlreadyConnected))
			return
		}
		t.watchDisconnect(conn)

		logger.Info("BLE device connected")
		t.emit(device.Connected(p.ID))
	})
}

// watchDisconnect reports link loss when the client exposes a Disconnected channel.
func (t *Transport) watchDisconnect(conn *peripheralConn) {
	dc, ok := conn.client.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		t.logger.WithField("device", conn.peripheral.ID).Debug("Client does not report disconnections")
		return
	}
	t.workers.Go(t.ctx, "ble-disconnect-monitor:"+conn.peripheral.ID, func(ctx context.Context) {
		select {
		case <-dc.Disconnected():
		case <-conn.done:
			return
		case <-ctx.Done():
			return
		}
		if conn.closing.Swap(true) {
			return
		}
		t.conns.Del(conn.peripheral.ID)
		t.logger.WithField("device", conn.peripheral.ID).Warn("BLE device disconnected")
		t.emit(device.Disconnected(conn.peripheral.ID, device.ErrNotConnected))
	})
}

func (t *Transport) DiscoverServices(peripheralID string, serviceUUIDs []string) {
	t.run("discover-services", peripheralID, func(ctx context.Context) {
		filter, err := parseUUIDs(serviceUUIDs)
		if err != nil {
			t.emit(device.Failed(peripheralID, err))
			return
		}
		t.withConn(peripheralID, func(conn *peripheralConn) error {
			services, err := conn.client.DiscoverServices(filter)
			if err != nil {
				return fmt.Errorf("failed to discover services: %w", err)
			}
			handles := make([]device.Service, 0, len(services))
			for _, s := range services {
				handles = append(handles, newService(peripheralID, s))
			}
			t.emit(device.ServicesDiscovered(peripheralID, handles))
			return nil
		})
	})
}

func (t *Transport) DiscoverCharacteristics(svc device.Service, charUUIDs []string) {
	peripheralID := svc.PeripheralID()
	t.run("discover-characteristics", peripheralID, func(ctx context.Context) {
		s, err := asService(svc)
		if err != nil {
			t.emit(device.Failed(peripheralID, err))
			return
		}
		filter, err := parseUUIDs(charUUIDs)
		if err != nil {
			t.emit(device.Failed(peripheralID, err))
			return
		}
		t.withConn(peripheralID, func(conn *peripheralConn) error {
			chars, err := conn.client.DiscoverCharacteristics(filter, s.svc)
			if err != nil {
				return fmt.Errorf("failed to discover characteristics of %s: %w", s.uuid, err)
			}
			handles := make([]device.Characteristic, 0, len(chars))
			for _, c := range chars {
				handles = append(handles, newCharacteristic(s, c))
			}
			t.emit(device.CharacteristicsDiscovered(s, handles))
			return nil
		})
	})
}

func (t *Transport) ReadValue(ch device.Characteristic) {
	peripheralID := ch.PeripheralID()
	t.run("read", peripheralID, func(ctx context.Context) {
		c, err := asCharacteristic(ch)
		if err != nil {
			t.emit(device.Failed(peripheralID, err))
			return
		}
		t.withConn(peripheralID, func(conn *peripheralConn) error {
			value, err := conn.client.ReadCharacteristic(c.char)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", c.uuid, err)
			}
			t.emit(device.ValueUpdated(c, value))
			return nil
		})
	})
}

func (t *Transport) SetNotify(ch device.Characteristic, enabled bool) {
	peripheralID := ch.PeripheralID()
	t.run("set-notify", peripheralID, func(ctx context.Context) {
		c, err := asCharacteristic(ch)
		if err != nil {
			t.emit(device.Failed(peripheralID, err))
			return
		}
		if !c.canNotify() {
			t.emit(device.Failed(peripheralID, fmt.Errorf("characteristic %s does not support notifications", c.uuid)))
			return
		}
		t.withConn(peripheralID, func(conn *peripheralConn) error {
			if !enabled {
				if err := conn.client.Unsubscribe(c.char, c.indicate()); err != nil {
					return fmt.Errorf("failed to unsubscribe from %s: %w", c.uuid, err)
				}
				return nil
			}

			if c.char.CCCD == nil {
				// go-ble writes the CCCD on Subscribe; it must be known first
				descs, err := conn.client.DiscoverDescriptors(nil, c.char)
				if err != nil {
					return fmt.Errorf("failed to discover descriptors of %s: %w", c.uuid, err)
				}
				for _, d := range descs {
					t.logger.WithFields(logrus.Fields{
						"device":     peripheralID,
						"char":       c.uuid,
						"descriptor": bledb.LookupDescriptor(d.UUID.String()),
					}).Debug("Descriptor discovered")
				}
			}
			err := conn.client.Subscribe(c.char, c.indicate(), func(value []byte) {
				if conn.closing.Load() {
					return
				}
				t.emit(device.ValueUpdated(c, value))
			})
			if err != nil {
				return fmt.Errorf("failed to subscribe to %s: %w", c.uuid, err)
			}
			t.logger.WithFields(logrus.Fields{
				"device": peripheralID,
				"char":   c.uuid,
			}).Debug("Subscribed to notifications")
			return nil
		})
	})
}

// Disconnect drops the connection to peripheralID. No event is reported for
// a disconnect the caller asked for.
func (t *Transport) Disconnect(peripheralID string) {
	conn, ok := t.conns.Get(peripheralID)
	if !ok || conn.closing.Swap(true) {
		return
	}
	t.conns.Del(peripheralID)
	close(conn.done)

	t.run("disconnect", peripheralID, func(ctx context.Context) {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		if err := conn.client.CancelConnection(); err != nil {
			t.logger.WithField("device", peripheralID).WithError(err).Warn("BLE device disconnected with errors")
			return
		}
		t.logger.WithField("device", peripheralID).Info("BLE device disconnected")
	})
}

// Close disconnects every peripheral, waits for in-flight commands and releases the adapter.
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}

	var ids []string
	t.conns.Range(func(id string, _ *peripheralConn) bool {
		ids = append(ids, id)
		return true
	})
	for _, id := range ids {
		t.Disconnect(id)
	}

	t.cancel()
	waited := make(chan struct{})
	go func() {
		t.workers.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(t.opts.CloseTimeout):
		t.logger.Warn("Timed out waiting for BLE workers to exit")
	}

	if t.stop != nil {
		return NormalizeError(t.stop())
	}
	return nil
}

// run starts a command worker. Commands issued after Close are dropped.
func (t *Transport) run(op, peripheralID string, fn func(ctx context.Context)) {
	if t.closed.Load() && op != "disconnect" {
		t.logger.WithFields(logrus.Fields{
			"device": peripheralID,
			"op":     op,
		}).Debug("Transport closed, dropping command")
		return
	}
	t.workers.Go(t.ctx, "ble-"+op+":"+peripheralID, fn)
}

// withConn runs fn with exclusive use of the peripheral's client and reports
// its error, or ErrNotConnected when there is no connection, as EventError.
func (t *Transport) withConn(peripheralID string, fn func(conn *peripheralConn) error) {
	conn, ok := t.conns.Get(peripheralID)
	if !ok || conn.closing.Load() {
		t.emit(device.Failed(peripheralID, device.ErrNotConnected))
		return
	}

	conn.mu.Lock()
	err := fn(conn)
	conn.mu.Unlock()

	if err != nil {
		err = NormalizeError(err)
		t.logger.WithField("device", peripheralID).WithError(err).Warn("BLE command failed")
		t.emit(device.Failed(peripheralID, err))
	}
}

func (t *Transport) emit(ev device.Event) {
	if t.sink == nil || t.ctx.Err() != nil {
		return
	}
	t.sink(ev)
}
