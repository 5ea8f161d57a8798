// Package monitor runs the battery monitoring loop: periodic scans for Battery
// Service peripherals, transport event dispatch into the registry, and snapshot
// publication for the UI.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/srg/blebatt/internal/battery"
	"github.com/srg/blebatt/internal/device"
	"github.com/srg/blebatt/internal/groutine"
	"github.com/srg/blebatt/internal/registry"
	"github.com/srg/blebatt/internal/ringchan"
)

const (
	DefaultScanTimeout    = 10 * time.Second
	DefaultRescanInterval = 120 * time.Second
	DefaultEventBuffer    = 1024
)

// TransportFactory builds the transport that reports its events to sink.
type TransportFactory func(sink device.EventSink) (device.Transport, error)

// Options configure a Monitor. Zero values select the defaults.
type Options struct {
	ScanTimeout    time.Duration
	RescanInterval time.Duration
	Window         time.Duration
	Clock          func() int64 // milliseconds
	EventBuffer    int
}

type scanResult struct {
	peripherals []device.Peripheral
	err         error
}

// Monitor owns the registry and is its only writer. All registry mutations
// happen on the goroutine running Run.
type Monitor struct {
	transport device.Transport
	registry  *registry.Registry
	opts      Options
	logger    *logrus.Logger

	events    chan device.Event
	rescans   chan struct{}
	results   chan scanResult
	done      chan struct{}
	snapshots *ringchan.RingChannel[registry.Snapshot]
	workers   groutine.Group

	scanning      bool
	rescanPending bool
	scanCount     int
}

// New creates a monitor and its transport. Nothing is scanned until Run.
func New(newTransport TransportFactory, opts Options, logger *logrus.Logger) (*Monitor, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = DefaultScanTimeout
	}
	if opts.RescanInterval <= 0 {
		opts.RescanInterval = DefaultRescanInterval
	}
	if opts.Window <= 0 {
		opts.Window = battery.DefaultWindow
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = DefaultEventBuffer
	}

	m := &Monitor{
		opts:      opts,
		logger:    logger,
		events:    make(chan device.Event, opts.EventBuffer),
		rescans:   make(chan struct{}, 1),
		results:   make(chan scanResult, 1),
		done:      make(chan struct{}),
		snapshots: ringchan.New[registry.Snapshot](1),
	}

	transport, err := newTransport(m.sink)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}
	m.transport = transport
	m.registry = registry.New(transport, registry.Options{Window: opts.Window, Clock: opts.Clock}, logger)
	m.registry.Subscribe(func(s registry.Snapshot) {
		m.snapshots.Send(s)
	})
	return m, nil
}

// sink queues a transport event for the loop. Events are never dropped; the
// call blocks while the queue is full and returns once the monitor has stopped.
func (m *Monitor) sink(ev device.Event) {
	select {
	case m.events <- ev:
	case <-m.done:
	}
}

// Snapshots delivers the latest registry snapshot after every change. Unread
// snapshots are replaced by newer ones. The channel is closed when Run returns.
func (m *Monitor) Snapshots() <-chan registry.Snapshot {
	return m.snapshots.C()
}

// Snapshot returns the current registry contents.
func (m *Monitor) Snapshot() registry.Snapshot {
	return m.registry.Snapshot()
}

// RequestRescan asks the loop to scan again. Requests made while a scan is
// running are coalesced into one scan after it.
func (m *Monitor) RequestRescan() {
	select {
	case m.rescans <- struct{}{}:
	default:
	}
}

// Run scans immediately, then every RescanInterval, until ctx is cancelled.
// It closes the transport before returning.
func (m *Monitor) Run(ctx context.Context) error {
	defer m.shutdown()

	scheduler := cron.New()
	scheduler.Schedule(cron.Every(m.opts.RescanInterval), cron.FuncJob(m.RequestRescan))
	scheduler.Start()
	defer scheduler.Stop()

	m.logger.WithFields(logrus.Fields{
		"scan_timeout":    m.opts.ScanTimeout,
		"rescan_interval": m.opts.RescanInterval,
		"window":          m.opts.Window,
	}).Info("Battery monitor started")

	m.snapshots.Send(m.registry.Snapshot())
	m.startScan(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Battery monitor stopping")
			return nil
		case ev := <-m.events:
			m.registry.OnTransportEvent(ev)
		case <-m.rescans:
			m.startScan(ctx)
		case res := <-m.results:
			m.scanning = false
			m.applyScan(res)
			if m.rescanPending {
				m.rescanPending = false
				m.startScan(ctx)
			}
		}
	}
}

func (m *Monitor) startScan(ctx context.Context) {
	if m.scanning {
		m.logger.Debug("Scan already in progress, rescan queued")
		m.rescanPending = true
		return
	}
	m.scanning = true

	m.workers.Go(ctx, "battery-scan", func(ctx context.Context) {
		scanCtx, cancel := context.WithTimeout(ctx, m.opts.ScanTimeout)
		defer cancel()

		peripherals, err := m.transport.ScanOrRetrieveConnected(scanCtx, device.BatteryServiceUUID)
		select {
		case m.results <- scanResult{peripherals: peripherals, err: err}:
		case <-ctx.Done():
		}
	})
}

func (m *Monitor) applyScan(res scanResult) {
	if res.err != nil {
		if errors.Is(res.err, device.ErrBluetoothOff) {
			m.logger.WithError(res.err).Info("Bluetooth not available")
		} else {
			m.logger.WithError(res.err).Warn("Battery scan failed")
		}
		return
	}

	m.scanCount++
	m.logger.WithFields(logrus.Fields{
		"found": len(res.peripherals),
		"scan":  m.scanCount,
	}).Debug("Battery scan completed")

	if m.scanCount == 1 {
		for _, p := range res.peripherals {
			m.registry.UpsertDiscovered(p)
		}
		return
	}
	m.registry.ReplaceWithRescan(res.peripherals)
}

func (m *Monitor) shutdown() {
	close(m.done)
	m.workers.Wait()
	if err := m.transport.Close(); err != nil {
		m.logger.WithError(err).Warn("Failed to close transport")
	}
	m.snapshots.Close()
}
