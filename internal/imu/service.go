// Package imu runs the ICM-20948 read -> average -> convert -> filter
// pipeline on a background goroutine at a fixed period and publishes the
// latest fused sample for snapshot reads from any goroutine.
//
// All bus I/O and filter math happen inside the loop; accessors only copy the
// mutex-protected snapshot, so they never block on the bus.
package imu

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"imud/internal/i2c"
	"imud/internal/sensors/icm20948"
)

type Config struct {
	Enable bool

	// Driver selects the i2c backend: "native" (default) or "periph".
	Driver string
	// Bus is the /dev/i2c-N number for the native backend.
	Bus int
	// PeriphBus is the periph bus name; empty picks the first available.
	PeriphBus string

	Addr         uint16
	UpdatePeriod time.Duration

	// Orientation filter gains. Zero selects the defaults.
	Kp, Ki float64
}

// Snapshot is the published output of one sample cycle. It is copied out
// whole; readers never see fields from two different cycles.
type Snapshot struct {
	Valid       bool
	MagDetected bool

	Angles icm20948.Angles
	Gyro   icm20948.Vec3 // deg/s
	Accel  icm20948.Vec3 // g
	Mag    icm20948.Vec3 // µT

	LastError string
	UpdatedAt time.Time
}

type device interface {
	Read() (icm20948.Reading, error)
	Calibrate() error
	MagDetected() bool
}

// openDevice is a hook so tests can run the loop against a fake device.
var openDevice = openHardware

func openHardware(cfg Config) (device, i2c.Bus, error) {
	name := strconv.Itoa(cfg.Bus)
	if cfg.Driver == "periph" {
		name = cfg.PeriphBus
	}
	bus, err := i2c.Open(cfg.Driver, name)
	if err != nil {
		return nil, nil, fmt.Errorf("imu: open bus: %w", err)
	}
	dev, err := icm20948.New(bus.Conn(cfg.Addr), icm20948.Options{Kp: cfg.Kp, Ki: cfg.Ki})
	if err != nil {
		_ = bus.Close()
		return nil, nil, err
	}
	return dev, bus, nil
}

type Service struct {
	cfg Config

	mu      sync.RWMutex
	snap    Snapshot
	running bool

	bus    i2c.Bus
	stopCh chan struct{}
	doneCh chan struct{}

	calCh chan chan error

	lastLoggedErr string
}

func New(cfg Config) *Service {
	if cfg.Addr == 0 {
		cfg.Addr = icm20948.DefaultAddress()
	}
	if cfg.UpdatePeriod <= 0 {
		cfg.UpdatePeriod = 50 * time.Millisecond
	}
	return &Service{cfg: cfg, calCh: make(chan chan error, 1)}
}

// Start opens the bus, runs full device initialization (including the
// blocking gyro calibration), and launches the background loop. On any
// failure nothing is started and the service stays unavailable. Start after
// Stop re-runs the whole sequence.
func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("imu: service is nil")
	}
	if !s.cfg.Enable {
		return nil
	}
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("imu: already running")
	}
	s.mu.Unlock()

	dev, bus, err := openDevice(s.cfg)
	if err != nil {
		s.mu.Lock()
		s.snap.LastError = err.Error()
		s.snap.UpdatedAt = time.Now().UTC()
		s.mu.Unlock()
		return err
	}
	if !dev.MagDetected() {
		log.Printf("imu: magnetometer not detected, mag axes will read zero")
	}

	s.mu.Lock()
	s.bus = bus
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.running = true
	s.snap.MagDetected = dev.MagDetected()
	s.snap.LastError = ""
	s.mu.Unlock()

	go s.run(ctx, dev, s.stopCh, s.doneCh)
	return nil
}

// Stop signals the loop to exit, waits for it with a bounded timeout, then
// releases the bus. Safe to call more than once.
func (s *Service) Stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stopCh, doneCh, bus := s.stopCh, s.doneCh, s.bus
	s.bus = nil
	s.mu.Unlock()

	close(stopCh)
	select {
	case <-doneCh:
	case <-time.After(s.cfg.UpdatePeriod + time.Second):
		log.Printf("imu: sample loop did not exit in time")
	}
	if bus != nil {
		_ = bus.Close()
	}
}

// Available reports whether the loop is started and initialization succeeded.
func (s *Service) Available() bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// GetData returns the most recently published snapshot. It never blocks on
// the sampling loop; before the first cycle it returns a zeroed snapshot.
func (s *Service) GetData() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// GetAngles returns only the orientation part of the latest snapshot.
func (s *Service) GetAngles() icm20948.Angles {
	if s == nil {
		return icm20948.Angles{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Angles
}

// Recalibrate re-runs the stationary gyro bias estimation on the sampling
// loop. The device must be at rest; blocks until the window completes.
func (s *Service) Recalibrate(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("imu: service is nil")
	}
	if ctx == nil {
		return fmt.Errorf("imu: ctx is nil")
	}
	if !s.Available() {
		return fmt.Errorf("imu: not running")
	}

	done := make(chan error, 1)
	select {
	case s.calCh <- done:
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("imu: calibration already in progress")
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) run(ctx context.Context, dev device, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	tick := time.NewTicker(s.cfg.UpdatePeriod)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.running = false
			bus := s.bus
			s.bus = nil
			s.mu.Unlock()
			if bus != nil {
				_ = bus.Close()
			}
			return
		case <-stopCh:
			return
		case done := <-s.calCh:
			done <- dev.Calibrate()
		case <-tick.C:
			r, err := dev.Read()
			now := time.Now().UTC()
			if err != nil {
				// Skip the cycle: the previous snapshot stays published.
				s.noteReadError(err, now)
				continue
			}
			s.mu.Lock()
			s.snap.Valid = true
			s.snap.Angles = r.Angles
			s.snap.Gyro = r.Gyro
			s.snap.Accel = r.Accel
			s.snap.Mag = r.Mag
			s.snap.LastError = ""
			s.snap.UpdatedAt = now
			s.lastLoggedErr = ""
			s.mu.Unlock()
		}
	}
}

func (s *Service) noteReadError(err error, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := err.Error()
	if msg != s.lastLoggedErr {
		log.Printf("imu: read failed, skipping cycle: %v", err)
		s.lastLoggedErr = msg
	}
	s.snap.LastError = msg
	s.snap.UpdatedAt = now
}
