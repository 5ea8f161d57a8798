// Package device defines the Bluetooth Low Energy (BLE) transport contract used by blebatt.
//
// The package holds no platform code. It provides:
//   - GATT identifiers for the Battery Service and the Battery Level characteristic
//   - Opaque handles for peripherals, services and characteristics
//   - The Transport command sink and the Event tagged union it emits
//   - Sentinel and typed errors shared by transport implementations
package device
