package imu

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"imud/internal/i2c"
	"imud/internal/sensors/icm20948"
)

// fakeDevice publishes a fresh cycle counter in every field so tests can
// detect a torn snapshot.
type fakeDevice struct {
	mu         sync.Mutex
	n          int
	readErr    error
	calibrated int
	mag        bool
}

func (f *fakeDevice) Read() (icm20948.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return icm20948.Reading{}, f.readErr
	}
	f.n++
	v := float64(f.n)
	return icm20948.Reading{
		Angles: icm20948.Angles{Roll: v, Pitch: v, Yaw: v},
		Gyro:   icm20948.Vec3{X: v, Y: v, Z: v},
		Accel:  icm20948.Vec3{X: v, Y: v, Z: v},
		Mag:    icm20948.Vec3{X: v, Y: v, Z: v},
	}, nil
}

func (f *fakeDevice) setReadErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readErr = err
}

func (f *fakeDevice) Calibrate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calibrated++
	return nil
}

func (f *fakeDevice) MagDetected() bool { return f.mag }

type fakeBus struct {
	closed atomic.Int32
}

func (b *fakeBus) Conn(addr uint16) i2c.Conn { return nil }

func (b *fakeBus) Close() error {
	b.closed.Add(1)
	return nil
}

func hookOpen(t *testing.T, dev *fakeDevice, bus *fakeBus, openErr error) *atomic.Int32 {
	t.Helper()
	var opens atomic.Int32
	old := openDevice
	openDevice = func(cfg Config) (device, i2c.Bus, error) {
		opens.Add(1)
		if openErr != nil {
			return nil, nil, openErr
		}
		return dev, bus, nil
	}
	t.Cleanup(func() { openDevice = old })
	return &opens
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not reached in time")
}

func testConfig() Config {
	return Config{Enable: true, UpdatePeriod: time.Millisecond}
}

func TestStart_OpenFailure(t *testing.T) {
	hookOpen(t, nil, nil, errors.New("no such bus"))

	s := New(testConfig())
	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if s.Available() {
		t.Fatalf("expected unavailable after failed start")
	}
	if s.GetData().LastError == "" {
		t.Fatalf("expected LastError recorded")
	}
}

func TestService_PublishesSnapshots(t *testing.T) {
	dev := &fakeDevice{mag: true}
	bus := &fakeBus{}
	hookOpen(t, dev, bus, nil)

	s := New(testConfig())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if !s.Available() {
		t.Fatalf("expected available")
	}
	waitFor(t, func() bool { return s.GetData().Valid })

	snap := s.GetData()
	if !snap.MagDetected {
		t.Fatalf("expected MagDetected")
	}
	if snap.Angles.Roll <= 0 {
		t.Fatalf("roll=%v want > 0", snap.Angles.Roll)
	}
	a := s.GetAngles()
	if a.Roll <= 0 {
		t.Fatalf("GetAngles roll=%v want > 0", a.Roll)
	}
}

func TestGetData_NoTornSnapshots(t *testing.T) {
	dev := &fakeDevice{}
	bus := &fakeBus{}
	hookOpen(t, dev, bus, nil)

	s := New(testConfig())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()
	waitFor(t, func() bool { return s.GetData().Valid })

	var wg sync.WaitGroup
	errCh := make(chan error, 8)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				snap := s.GetData()
				v := snap.Angles.Roll
				same := snap.Angles.Pitch == v && snap.Angles.Yaw == v &&
					snap.Gyro == (icm20948.Vec3{X: v, Y: v, Z: v}) &&
					snap.Accel == (icm20948.Vec3{X: v, Y: v, Z: v}) &&
					snap.Mag == (icm20948.Vec3{X: v, Y: v, Z: v})
				if !same {
					errCh <- errors.New("torn snapshot")
					return
				}
			}
		}()
	}
	wg.Wait()
	select {
	case err := <-errCh:
		t.Fatal(err)
	default:
	}
}

func TestReadError_RetainsPreviousSnapshot(t *testing.T) {
	dev := &fakeDevice{}
	bus := &fakeBus{}
	hookOpen(t, dev, bus, nil)

	s := New(testConfig())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()
	waitFor(t, func() bool { return s.GetData().Valid })

	dev.setReadErr(errors.New("bus glitch"))
	waitFor(t, func() bool { return s.GetData().LastError != "" })

	first := s.GetData()
	if !first.Valid {
		t.Fatalf("expected snapshot to stay valid")
	}
	time.Sleep(20 * time.Millisecond)
	second := s.GetData()
	if second.Angles != first.Angles {
		t.Fatalf("snapshot advanced during failures: %v -> %v", first.Angles, second.Angles)
	}
}

func TestStopStart_ReinitializesWithoutDeadlock(t *testing.T) {
	dev := &fakeDevice{}
	bus := &fakeBus{}
	opens := hookOpen(t, dev, bus, nil)

	s := New(testConfig())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return s.GetData().Valid })

	s.Stop()
	if s.Available() {
		t.Fatalf("expected unavailable after Stop")
	}
	if bus.closed.Load() != 1 {
		t.Fatalf("bus closed %d times, want 1", bus.closed.Load())
	}
	// Stop again is a no-op.
	s.Stop()
	if bus.closed.Load() != 1 {
		t.Fatalf("bus closed %d times after second Stop, want 1", bus.closed.Load())
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	defer s.Stop()
	if opens.Load() != 2 {
		t.Fatalf("openDevice called %d times, want 2", opens.Load())
	}
	waitFor(t, func() bool { return s.Available() && s.GetData().Valid })
}

func TestStart_Twice(t *testing.T) {
	dev := &fakeDevice{}
	bus := &fakeBus{}
	hookOpen(t, dev, bus, nil)

	s := New(testConfig())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()
	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("expected error on double Start")
	}
}

func TestRecalibrate_RunsOnLoop(t *testing.T) {
	dev := &fakeDevice{}
	bus := &fakeBus{}
	hookOpen(t, dev, bus, nil)

	s := New(testConfig())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Recalibrate(ctx); err != nil {
		t.Fatalf("Recalibrate: %v", err)
	}
	dev.mu.Lock()
	n := dev.calibrated
	dev.mu.Unlock()
	if n != 1 {
		t.Fatalf("calibrated %d times, want 1", n)
	}
}

func TestRecalibrate_NotRunning(t *testing.T) {
	s := New(testConfig())
	if err := s.Recalibrate(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestContextCancel_StopsLoop(t *testing.T) {
	dev := &fakeDevice{}
	bus := &fakeBus{}
	hookOpen(t, dev, bus, nil)

	ctx, cancel := context.WithCancel(context.Background())
	s := New(testConfig())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return s.GetData().Valid })

	cancel()
	waitFor(t, func() bool { return !s.Available() })
	waitFor(t, func() bool { return bus.closed.Load() == 1 })
}
