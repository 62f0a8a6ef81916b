// Package i2c provides register-oriented access to devices on an I2C bus.
//
// Two backends are available: a native Linux /dev/i2c-* implementation using
// I2C_RDWR combined transfers, and a periph.io-backed implementation that
// works wherever periph has a host driver. Both hand out Conn values that
// speak the same single-register protocol.
package i2c

import "fmt"

// Conn is a connection to a single device at a fixed 7-bit address.
type Conn interface {
	// ReadReg writes the register number, then reads len(dst) bytes with a
	// repeated start.
	ReadReg(reg byte, dst []byte) error
	ReadRegU8(reg byte) (byte, error)
	WriteReg(reg, value byte) error
}

// Bus is an opened I2C bus that can hand out device connections.
//
// Bus implementations are not safe for concurrent transfers; coordinate at a
// higher level if multiple goroutines need the bus.
type Bus interface {
	Conn(addr uint16) Conn
	Close() error
}

// Open opens a bus with the requested backend. driver is "native" (default)
// or "periph". For the native backend, name is a bus number rendered as
// /dev/i2c-<name>; for periph it is a periph bus name ("" picks the first
// available bus).
func Open(driver, name string) (Bus, error) {
	switch driver {
	case "", "native":
		return OpenNative("/dev/i2c-" + name)
	case "periph":
		return OpenPeriph(name)
	default:
		return nil, fmt.Errorf("i2c: unknown driver %q", driver)
	}
}
