package main

import (
	"errors"
	"strings"

	"github.com/srg/blebatt/internal/device"
)

// Command-level errors
var (
	// ErrNoTransport indicates the BLE adapter could not be opened.
	ErrNoTransport = errors.New("BLE adapter unavailable")
)

// FormatUserError turns an error chain into a one-line message for the terminal.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is not available. Turn Bluetooth on and check that this program may use it."
	case errors.Is(err, device.ErrTimeout):
		return "Timed out waiting for the BLE adapter: " + err.Error()
	}

	msg := err.Error()
	if msg == "" {
		return "unknown error"
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}
