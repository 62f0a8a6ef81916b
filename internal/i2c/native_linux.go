//go:build linux

package i2c

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Native Linux backend over /dev/i2c-*.
//
// Register reads need a combined write+read (repeated start), which the plain
// read/write file interface cannot express, so transfers go through the
// I2C_RDWR ioctl.

const (
	i2cMrd  = 0x0001
	i2cRdwr = 0x0707
)

type i2cMsg struct {
	addr  uint16
	flags uint16
	len   uint16
	buf   uintptr
}

type i2cRdwrData struct {
	msgs  uintptr
	nmsgs uint32
}

type nativeBus struct {
	f    *os.File
	path string
}

// OpenNative opens a /dev/i2c-* character device.
func OpenNative(path string) (Bus, error) {
	path = filepath.Clean(path)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	return &nativeBus{f: f, path: path}, nil
}

func (b *nativeBus) Close() error {
	if b == nil || b.f == nil {
		return nil
	}
	err := b.f.Close()
	b.f = nil
	return err
}

func (b *nativeBus) Conn(addr uint16) Conn {
	return &nativeConn{bus: b, addr: addr}
}

type nativeConn struct {
	bus  *nativeBus
	addr uint16
}

func (c *nativeConn) ReadReg(reg byte, dst []byte) error {
	return c.tx([]byte{reg}, dst)
}

func (c *nativeConn) ReadRegU8(reg byte) (byte, error) {
	var b [1]byte
	if err := c.ReadReg(reg, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *nativeConn) WriteReg(reg, value byte) error {
	return c.tx([]byte{reg, value}, nil)
}

func (c *nativeConn) tx(w, r []byte) error {
	if c == nil || c.bus == nil || c.bus.f == nil {
		return errors.New("i2c: connection is nil")
	}
	if c.addr == 0 || c.addr > 0x7F {
		return fmt.Errorf("i2c: invalid addr 0x%X", c.addr)
	}

	msgs := make([]i2cMsg, 0, 2)
	if len(w) > 0 {
		msgs = append(msgs, i2cMsg{addr: c.addr, flags: 0, len: uint16(len(w)), buf: uintptr(unsafe.Pointer(&w[0]))})
	}
	if len(r) > 0 {
		msgs = append(msgs, i2cMsg{addr: c.addr, flags: i2cMrd, len: uint16(len(r)), buf: uintptr(unsafe.Pointer(&r[0]))})
	}
	if len(msgs) == 0 {
		return nil
	}

	data := i2cRdwrData{msgs: uintptr(unsafe.Pointer(&msgs[0])), nmsgs: uint32(len(msgs))}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, c.bus.f.Fd(), uintptr(i2cRdwr), uintptr(unsafe.Pointer(&data)))
	if errno != 0 {
		return errno
	}
	return nil
}
