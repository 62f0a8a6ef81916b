package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	IMU   IMUConfig   `yaml:"imu"`
	Print PrintConfig `yaml:"print"`
}

type IMUConfig struct {
	Enable bool `yaml:"enable"`

	// Driver selects the I2C backend: "native" (Linux /dev/i2c-*) or
	// "periph" (periph.io host drivers).
	Driver    string `yaml:"driver"`
	Bus       int    `yaml:"bus"`
	PeriphBus string `yaml:"periph_bus"`
	Addr      uint16 `yaml:"addr"`

	UpdatePeriod Duration `yaml:"update_period"`

	// Orientation filter gains.
	Kp float64 `yaml:"kp"`
	Ki float64 `yaml:"ki"`
}

type PrintConfig struct {
	Enable   bool     `yaml:"enable"`
	Interval Duration `yaml:"interval"`
}

// Duration is a time.Duration that unmarshals from YAML duration strings
// ("50ms") or integer nanoseconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Tag == "!!int" {
		var n int64
		if err := value.Decode(&n); err != nil {
			return err
		}
		*d = Duration(n)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration %q", value.Value)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q", s)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	switch cfg.IMU.Driver {
	case "":
		cfg.IMU.Driver = "native"
	case "native", "periph":
	default:
		return Config{}, fmt.Errorf("imu.driver must be native or periph")
	}
	if cfg.IMU.Bus < 0 {
		return Config{}, fmt.Errorf("imu.bus must not be negative")
	}
	if cfg.IMU.Bus == 0 {
		cfg.IMU.Bus = 7
	}
	if cfg.IMU.Addr == 0 {
		cfg.IMU.Addr = 0x68
	}
	if cfg.IMU.UpdatePeriod <= 0 {
		cfg.IMU.UpdatePeriod = Duration(50 * time.Millisecond)
	}
	if cfg.IMU.Kp == 0 {
		cfg.IMU.Kp = 4.5
	}
	if cfg.IMU.Ki == 0 {
		cfg.IMU.Ki = 1.0
	}
	if cfg.Print.Interval <= 0 {
		cfg.Print.Interval = Duration(100 * time.Millisecond)
	}

	return cfg, nil
}
