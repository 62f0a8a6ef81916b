package icm20948

import (
	"fmt"
	"time"
)

// Secondary-bus bridge: the ICM-20948 relays reads and writes to the AK09916
// through its embedded I2C master. A transaction is programmed into the
// bank-3 slave registers, the master is pulsed for a fixed 5 ms, and read
// results land in the bank-0 external sensor data window. The fixed wait (no
// completion polling) bounds the bridge's maximum transaction rate.
//
// Every sequence leaves bank 0 selected so callers never observe bank state.

func (d *Device) readSecondary(addr, reg byte, n int) ([]byte, error) {
	if err := d.setBank(3); err != nil {
		return nil, err
	}
	if err := d.dev.WriteReg(regSlv0Addr, addr); err != nil {
		return nil, fmt.Errorf("icm20948: slv0 addr write failed: %w", err)
	}
	if err := d.dev.WriteReg(regSlv0Reg, reg); err != nil {
		return nil, fmt.Errorf("icm20948: slv0 reg write failed: %w", err)
	}
	if err := d.dev.WriteReg(regSlv0Ctrl, bitSlvEn|byte(n)); err != nil {
		return nil, fmt.Errorf("icm20948: slv0 ctrl write failed: %w", err)
	}

	if err := d.setBank(0); err != nil {
		return nil, err
	}
	if err := d.pulseMaster(); err != nil {
		return nil, err
	}

	buf := make([]byte, n)
	for i := range buf {
		b, err := d.dev.ReadRegU8(regExtSensData + byte(i))
		if err != nil {
			return nil, fmt.Errorf("icm20948: ext sensor data read failed: %w", err)
		}
		buf[i] = b
	}

	if err := d.disableSlv0(); err != nil {
		return nil, err
	}
	return buf, nil
}

func (d *Device) writeSecondary(addr, reg, value byte) error {
	if err := d.setBank(3); err != nil {
		return err
	}
	if err := d.dev.WriteReg(regSlv1Addr, addr); err != nil {
		return fmt.Errorf("icm20948: slv1 addr write failed: %w", err)
	}
	if err := d.dev.WriteReg(regSlv1Reg, reg); err != nil {
		return fmt.Errorf("icm20948: slv1 reg write failed: %w", err)
	}
	if err := d.dev.WriteReg(regSlv1DO, value); err != nil {
		return fmt.Errorf("icm20948: slv1 data-out write failed: %w", err)
	}
	if err := d.dev.WriteReg(regSlv1Ctrl, bitSlvEn|1); err != nil {
		return fmt.Errorf("icm20948: slv1 ctrl write failed: %w", err)
	}

	if err := d.setBank(0); err != nil {
		return err
	}
	if err := d.pulseMaster(); err != nil {
		return err
	}
	return d.disableSlv0()
}

// pulseMaster enables the embedded I2C master long enough for the programmed
// slave transaction to run, then disables it again.
func (d *Device) pulseMaster() error {
	ctrl, err := d.dev.ReadRegU8(regUserCtrl)
	if err != nil {
		return fmt.Errorf("icm20948: user ctrl read failed: %w", err)
	}
	if err := d.dev.WriteReg(regUserCtrl, ctrl|bitI2CMstEn); err != nil {
		return fmt.Errorf("icm20948: master enable failed: %w", err)
	}
	sleep(5 * time.Millisecond)
	if err := d.dev.WriteReg(regUserCtrl, ctrl&^bitI2CMstEn); err != nil {
		return fmt.Errorf("icm20948: master disable failed: %w", err)
	}
	return nil
}

// disableSlv0 clears the slave-0 enable bit and restores bank 0.
func (d *Device) disableSlv0() error {
	if err := d.setBank(3); err != nil {
		return err
	}
	ctrl, err := d.dev.ReadRegU8(regSlv0Ctrl)
	if err != nil {
		return fmt.Errorf("icm20948: slv0 ctrl read failed: %w", err)
	}
	if err := d.dev.WriteReg(regSlv0Ctrl, ctrl&^bitSlvEn); err != nil {
		return fmt.Errorf("icm20948: slv0 disable failed: %w", err)
	}
	return d.setBank(0)
}

func (d *Device) checkMagnetometer() bool {
	wia, err := d.readSecondary(addrMag|magFlagRead, regMagWia1, 2)
	if err != nil {
		return false
	}
	return wia[0] == magWia1Val && wia[1] == magWia2Val
}

// readMagRaw polls the data-ready bit up to 20 times with 10 ms spacing, then
// reads the 6-byte sample window. Timing out, or a magnetometer that was
// never detected, yields a zero triple for the cycle rather than an error.
func (d *Device) readMagRaw() ([3]int32, error) {
	if !d.magDetected {
		return [3]int32{}, nil
	}

	ready := false
	for i := 0; i < magReadyAttempts; i++ {
		sleep(10 * time.Millisecond)
		st, err := d.readSecondary(addrMag|magFlagRead, regMagStatus, 1)
		if err != nil {
			return [3]int32{}, err
		}
		if st[0]&bitMagDataReady != 0 {
			ready = true
			break
		}
	}
	if !ready {
		return [3]int32{}, nil
	}

	data, err := d.readSecondary(addrMag|magFlagRead, regMagData, magDataLen)
	if err != nil {
		return [3]int32{}, err
	}

	// The AK09916 is little-endian; Y and Z flip sign so the field lines up
	// with the accel/gyro axis convention.
	return [3]int32{
		leInt16(data[0], data[1]),
		-leInt16(data[2], data[3]),
		-leInt16(data[4], data[5]),
	}, nil
}
