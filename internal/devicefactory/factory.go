package devicefactory

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/blebatt/internal/device"
	goble "github.com/srg/blebatt/internal/device/go-ble"
)

// TransportFactory creates the device.Transport used by the monitor and the scan command.
// This is a variable so that it can be overridden in tests.
var TransportFactory = func(sink device.EventSink, opts *goble.Options, logger *logrus.Logger) (device.Transport, error) {
	t, err := goble.New(sink, opts, logger)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// NewTransport creates the platform transport reporting events to sink.
func NewTransport(sink device.EventSink, opts *goble.Options, logger *logrus.Logger) (device.Transport, error) {
	return TransportFactory(sink, opts, logger)
}
