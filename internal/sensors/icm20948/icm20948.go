// Package icm20948 drives the ICM-20948 9-axis IMU over a register-oriented
// bus and keeps an online orientation estimate.
//
// The accelerometer and gyroscope are read directly; the AK09916
// magnetometer sits behind the chip's embedded I2C master and is reached
// through the secondary-bus bridge in bridge.go. Raw counts pass through
// 8-deep per-axis moving averages before unit conversion and the AHRS update.
package icm20948

import (
	"fmt"
	"time"

	"imud/internal/ahrs"
)

var sleep = time.Sleep

// RegIO is single-register access to the chip at its fixed bus address.
type RegIO interface {
	ReadRegU8(reg byte) (byte, error)
	ReadReg(reg byte, dst []byte) error
	WriteReg(reg, value byte) error
}

// Vec3 is a 3-axis sample in physical units.
type Vec3 struct {
	X, Y, Z float64
}

// Angles is an orientation in degrees.
type Angles struct {
	Roll, Pitch, Yaw float64
}

// Reading is one fused sample: orientation plus the unit-converted sensor
// triples it was derived from.
type Reading struct {
	Angles Angles
	Gyro   Vec3 // deg/s
	Accel  Vec3 // g
	Mag    Vec3 // µT
}

// Options configures the orientation filter gains. Zero values select the
// defaults (Kp=4.5, Ki=1.0).
type Options struct {
	Kp, Ki float64
}

const (
	defaultKp = 4.5
	defaultKi = 1.0
)

// Device is an initialized ICM-20948. Not safe for concurrent use; the
// sampling loop is the only caller.
type Device struct {
	dev    RegIO
	filter *ahrs.Mahony

	gyroRings  [3]avgRing
	accelRings [3]avgRing
	magRings   [3]avgRing

	gyroOffset  [3]int32
	magDetected bool
}

func DefaultAddress() uint16 { return addrDefault }

// New probes and initializes the chip: who-am-I check, reset, range and
// low-pass configuration, gyro bias calibration (the device must be at rest;
// blocks ~320 ms), and magnetometer bring-up. A missing magnetometer is not
// fatal; its axes read zero thereafter.
func New(dev RegIO, opts Options) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("icm20948: dev is nil")
	}
	if opts.Kp == 0 {
		opts.Kp = defaultKp
	}
	if opts.Ki == 0 {
		opts.Ki = defaultKi
	}
	d := &Device{dev: dev, filter: ahrs.NewMahony(opts.Kp, opts.Ki)}

	who, err := d.dev.ReadRegU8(regWhoAmI)
	if err != nil {
		return nil, fmt.Errorf("icm20948: whoami read failed: %w", err)
	}
	if who != whoAmIVal {
		return nil, fmt.Errorf("icm20948: whoami=0x%02X want 0x%02X", who, whoAmIVal)
	}

	if err := d.init(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Device) init() error {
	// Full reset, then run mode.
	if err := d.setBank(0); err != nil {
		return err
	}
	if err := d.dev.WriteReg(regPwrMgmt1, bitReset); err != nil {
		return fmt.Errorf("icm20948: reset failed: %w", err)
	}
	sleep(10 * time.Millisecond)
	if err := d.dev.WriteReg(regPwrMgmt1, bitRunMode); err != nil {
		return fmt.Errorf("icm20948: wake failed: %w", err)
	}

	// Sample-rate dividers, full-scale ranges and hardware DLPF.
	if err := d.setBank(2); err != nil {
		return err
	}
	if err := d.dev.WriteReg(regGyroSmplrtDiv, 0x07); err != nil {
		return fmt.Errorf("icm20948: gyro divider failed: %w", err)
	}
	if err := d.dev.WriteReg(regGyroConfig1, bitGyroDLPFCfg6|bitGyroFS1000Dps|bitGyroDLPFEn); err != nil {
		return fmt.Errorf("icm20948: gyro config failed: %w", err)
	}
	if err := d.dev.WriteReg(regAccelSmplrtDiv2, 0x07); err != nil {
		return fmt.Errorf("icm20948: accel divider failed: %w", err)
	}
	if err := d.dev.WriteReg(regAccelConfig, bitAccelDLPFCfg6|bitAccelFS2G|bitAccelDLPFEn); err != nil {
		return fmt.Errorf("icm20948: accel config failed: %w", err)
	}
	if err := d.setBank(0); err != nil {
		return err
	}
	sleep(100 * time.Millisecond)

	if err := d.Calibrate(); err != nil {
		return err
	}

	if d.checkMagnetometer() {
		d.magDetected = true
		if err := d.writeSecondary(addrMag|magFlagWrite, regMagCntl2, magModeCont20Hz); err != nil {
			return fmt.Errorf("icm20948: mag config failed: %w", err)
		}
	}
	return nil
}

// MagDetected reports whether the AK09916 answered its who-am-I probe during
// initialization.
func (d *Device) MagDetected() bool {
	return d != nil && d.magDetected
}

// Calibrate estimates the stationary gyro bias from 32 raw samples spaced
// 10 ms apart and subtracts it from every subsequent averaged gyro sample.
// The device must be at rest.
func (d *Device) Calibrate() error {
	var sums [3]int32
	for i := 0; i < calibrationSamples; i++ {
		raw, err := d.readRawTriple(regGyroXoutH)
		if err != nil {
			return fmt.Errorf("icm20948: gyro calibration read failed: %w", err)
		}
		for j, v := range raw {
			sums[j] += v
		}
		sleep(10 * time.Millisecond)
	}
	for j, s := range sums {
		d.gyroOffset[j] = s >> 5
	}
	return nil
}

func (d *Device) setBank(bank byte) error {
	if err := d.dev.WriteReg(regBankSel, bank<<4); err != nil {
		return fmt.Errorf("icm20948: set bank %d failed: %w", bank, err)
	}
	return nil
}

// readRawTriple reads a contiguous 6-byte big-endian block of three signed
// 16-bit axis values from bank 0.
func (d *Device) readRawTriple(reg byte) ([3]int32, error) {
	if err := d.setBank(0); err != nil {
		return [3]int32{}, err
	}
	var buf [6]byte
	if err := d.dev.ReadReg(reg, buf[:]); err != nil {
		return [3]int32{}, err
	}
	return [3]int32{
		beInt16(buf[0], buf[1]),
		beInt16(buf[2], buf[3]),
		beInt16(buf[4], buf[5]),
	}, nil
}

// Read runs one sample cycle: raw triples, averaging, bias subtraction, unit
// conversion and one orientation filter step.
func (d *Device) Read() (Reading, error) {
	if d == nil {
		return Reading{}, fmt.Errorf("icm20948: device is nil")
	}

	graw, err := d.readRawTriple(regGyroXoutH)
	if err != nil {
		return Reading{}, fmt.Errorf("icm20948: gyro read failed: %w", err)
	}
	araw, err := d.readRawTriple(regAccelXoutH)
	if err != nil {
		return Reading{}, fmt.Errorf("icm20948: accel read failed: %w", err)
	}
	mraw, err := d.readMagRaw()
	if err != nil {
		return Reading{}, fmt.Errorf("icm20948: mag read failed: %w", err)
	}

	var g, a, m [3]float64
	for i := 0; i < 3; i++ {
		g[i] = float64(d.gyroRings[i].push(graw[i]) - d.gyroOffset[i])
		a[i] = float64(d.accelRings[i].push(araw[i]))
		m[i] = float64(d.magRings[i].push(mraw[i]))
	}

	// The filter wants rad/s; accel and mag only contribute direction.
	d.filter.Update(
		g[0]/gyroLSBPerDps*degToRad, g[1]/gyroLSBPerDps*degToRad, g[2]/gyroLSBPerDps*degToRad,
		a[0], a[1], a[2],
		m[0], m[1], m[2],
	)
	roll, pitch, yaw := d.filter.Angles()

	return Reading{
		Angles: Angles{Roll: roll, Pitch: pitch, Yaw: yaw},
		Gyro:   Vec3{X: g[0] / gyroLSBPerDps, Y: g[1] / gyroLSBPerDps, Z: g[2] / gyroLSBPerDps},
		Accel:  Vec3{X: a[0] / accelLSBPerG, Y: a[1] / accelLSBPerG, Z: a[2] / accelLSBPerG},
		Mag:    Vec3{X: m[0] * magUTPerLSB, Y: m[1] * magUTPerLSB, Z: m[2] * magUTPerLSB},
	}, nil
}

func beInt16(hi, lo byte) int32 {
	return int32(int16(uint16(hi)<<8 | uint16(lo)))
}

func leInt16(lo, hi byte) int32 {
	return int32(int16(uint16(hi)<<8 | uint16(lo)))
}
