package i2c

import (
	"fmt"

	pi2c "periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

type periphBus struct {
	bus pi2c.BusCloser
}

// OpenPeriph opens a bus through the periph.io host drivers. An empty name
// selects the first available bus.
func OpenPeriph(name string) (Bus, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("i2c: periph host init: %w", err)
	}
	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("i2c: periph open %q: %w", name, err)
	}
	return &periphBus{bus: bus}, nil
}

func (b *periphBus) Close() error {
	if b == nil || b.bus == nil {
		return nil
	}
	err := b.bus.Close()
	b.bus = nil
	return err
}

func (b *periphBus) Conn(addr uint16) Conn {
	return &periphConn{dev: pi2c.Dev{Bus: b.bus, Addr: addr}}
}

type periphConn struct {
	dev pi2c.Dev
}

func (c *periphConn) ReadReg(reg byte, dst []byte) error {
	return c.dev.Tx([]byte{reg}, dst)
}

func (c *periphConn) ReadRegU8(reg byte) (byte, error) {
	var b [1]byte
	if err := c.dev.Tx([]byte{reg}, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *periphConn) WriteReg(reg, value byte) error {
	return c.dev.Tx([]byte{reg, value}, nil)
}
