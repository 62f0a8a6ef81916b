package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"imud/internal/config"
	"imud/internal/imu"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./imud.yaml", "Path to YAML config")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if !cfg.IMU.Enable {
		log.Fatalf("imu.enable is false, nothing to do")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	svc := imu.New(imu.Config{
		Enable:       cfg.IMU.Enable,
		Driver:       cfg.IMU.Driver,
		Bus:          cfg.IMU.Bus,
		PeriphBus:    cfg.IMU.PeriphBus,
		Addr:         cfg.IMU.Addr,
		UpdatePeriod: cfg.IMU.UpdatePeriod.Std(),
		Kp:           cfg.IMU.Kp,
		Ki:           cfg.IMU.Ki,
	})

	log.Printf("imud starting")
	log.Printf("i2c driver=%s bus=%d addr=0x%02X period=%s",
		cfg.IMU.Driver, cfg.IMU.Bus, cfg.IMU.Addr, cfg.IMU.UpdatePeriod.Std())

	// Start blocks through device init, including the ~320 ms gyro bias
	// calibration; the unit must be at rest until it returns.
	if err := svc.Start(ctx); err != nil {
		log.Fatalf("imu start failed: %v", err)
	}
	defer svc.Stop()

	if cfg.Print.Enable {
		go printAngles(ctx, svc, cfg.Print.Interval.Std())
	}

	<-ctx.Done()
	log.Printf("imud stopping")
}

func printAngles(ctx context.Context, svc *imu.Service, interval time.Duration) {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			snap := svc.GetData()
			if !snap.Valid {
				continue
			}
			log.Printf("roll=%7.2f pitch=%7.2f yaw=%7.2f",
				snap.Angles.Roll, snap.Angles.Pitch, snap.Angles.Yaw)
		}
	}
}
