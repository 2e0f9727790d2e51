// Copyright 2017 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package config loads the board description shared by the tools.
package config

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/maruel/go-ov5640/dvp"
	"github.com/maruel/go-ov5640/ov5640"
	"gopkg.in/yaml.v3"
	"periph.io/x/periph/conn/physic"
)

// Port types for CaptureConfig.Port.
const (
	PortPins    = "pins"    // One gpio.PinIn per line.
	PortBCM283x = "bcm283x" // One 32 bits read of the GPIO level register.
)

// SensorConfig describes how the sensor is wired for control.
type SensorConfig struct {
	I2C         string `yaml:"i2c"`         // i²c bus name; empty for the first one.
	I2CHz       int64  `yaml:"i2c_hz"`      // SCCB clock; 0 keeps the bus default.
	ResetPin    string `yaml:"reset_pin"`   // RESETB, active low; empty if hardwired.
	PwdnPin     string `yaml:"pwdn_pin"`    // PWDN, active high; empty if hardwired.
	XCLKPin     string `yaml:"xclk_pin"`    // PWM capable pin feeding XCLK.
	XCLKHz      int64  `yaml:"xclk_hz"`     // 6MHz to 27MHz.
	Format      string `yaml:"format"`      // YUV422 or RGB565.
	TestPattern bool   `yaml:"test_pattern"` // Color bars instead of the image.
	// Regs are written right after the soft reset, typically a mode table.
	Regs []RegWrite `yaml:"regs"`
}

// RegWrite is one raw sensor register write.
type RegWrite struct {
	Reg uint16 `yaml:"reg"`
	Val uint8  `yaml:"val"`
}

// CaptureConfig describes the DVP wiring.
type CaptureConfig struct {
	Port  string    `yaml:"port"` // "pins" or "bcm283x"
	VSYNC string    `yaml:"vsync"`
	HREF  string    `yaml:"href"`
	PCLK  string    `yaml:"pclk"`
	Data  [8]string `yaml:"data"` // D0 to D7. With bcm283x they must be consecutive GPIOs.

	VSYNCActiveLow  bool `yaml:"vsync_active_low"`
	HREFActiveLow   bool `yaml:"href_active_low"`
	PCLKFallingEdge bool `yaml:"pclk_falling_edge"`

	Capacity  int `yaml:"capacity"`   // Bytes per line.
	TimeoutMs int `yaml:"timeout_ms"` // Per wait; 0 waits forever.
}

// PushConfig is the optional collector the daemon pushes lines to.
type PushConfig struct {
	ID     int64  `yaml:"id"`
	Secret string `yaml:"secret"`
	Server string `yaml:"server"`
}

// ServerConfig is used by the daemon.
type ServerConfig struct {
	Port int        `yaml:"port"`
	Push PushConfig `yaml:"push"`
}

// Config aggregates the board description.
type Config struct {
	Sensor  SensorConfig  `yaml:"sensor"`
	Capture CaptureConfig `yaml:"capture"`
	Server  ServerConfig  `yaml:"server"`
}

// Default returns the wiring used during bring up.
func Default() *Config {
	return &Config{
		Sensor: SensorConfig{
			I2CHz:    100000,
			ResetPin: "GPIO14",
			PwdnPin:  "GPIO15",
			XCLKPin:  "GPIO12",
			XCLKHz:   int64(ov5640.DefaultXCLK / physic.Hertz),
			Format:   ov5640.YUV422.String(),
		},
		Capture: CaptureConfig{
			Port:      PortBCM283x,
			VSYNC:     "GPIO16",
			HREF:      "GPIO17",
			PCLK:      "GPIO18",
			Data:      [8]string{"GPIO4", "GPIO5", "GPIO6", "GPIO7", "GPIO8", "GPIO9", "GPIO10", "GPIO11"},
			Capacity:  dvp.DefaultCapacity,
			TimeoutMs: 1000,
		},
		Server: ServerConfig{Port: 8010},
	}
}

// DefaultPath returns ~/.config/ov5640/ov5640.yaml.
func DefaultPath() string {
	if usr, err := user.Current(); err == nil {
		return filepath.Join(usr.HomeDir, ".config", "ov5640", "ov5640.yaml")
	}
	return "ov5640.yaml"
}

// Load reads a YAML file. Missing fields take their value from Default().
func Load(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is like Load but returns Default() if path doesn't exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes the config as YAML, creating the directory if needed.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return ioutil.WriteFile(path, data, 0600)
}

// Validate checks the values that can be checked without hardware.
func (c *Config) Validate() error {
	if c.Sensor.XCLKPin == "" {
		return errors.New("sensor.xclk_pin is required")
	}
	if c.Sensor.I2CHz < 0 {
		return fmt.Errorf("sensor.i2c_hz must be >= 0, got %d", c.Sensor.I2CHz)
	}
	if _, err := ov5640.ParseFormat(c.Sensor.Format); err != nil {
		return fmt.Errorf("sensor.format: %w", err)
	}
	switch c.Capture.Port {
	case PortPins, PortBCM283x:
	default:
		return fmt.Errorf("capture.port must be %q or %q, got %q", PortPins, PortBCM283x, c.Capture.Port)
	}
	if c.Capture.VSYNC == "" || c.Capture.HREF == "" || c.Capture.PCLK == "" {
		return errors.New("capture.vsync, capture.href and capture.pclk are required")
	}
	for i, d := range c.Capture.Data {
		if d == "" {
			return fmt.Errorf("capture.data[%d] is required", i)
		}
	}
	if c.Capture.Capacity < 1 {
		return fmt.Errorf("capture.capacity must be > 0, got %d", c.Capture.Capacity)
	}
	if c.Capture.TimeoutMs < 0 {
		return fmt.Errorf("capture.timeout_ms must be >= 0, got %d", c.Capture.TimeoutMs)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port is invalid: %d", c.Server.Port)
	}
	return nil
}

// Timeout returns the capture wait timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Capture.TimeoutMs) * time.Millisecond
}

// XCLK returns the sensor external clock frequency.
func (c *Config) XCLK() physic.Frequency {
	return physic.Frequency(c.Sensor.XCLKHz) * physic.Hertz
}

// Polarity returns the DVP polarity to program in the sensor.
func (c *Config) Polarity() ov5640.Polarity {
	return ov5640.Polarity{
		VSYNCActiveLow:  c.Capture.VSYNCActiveLow,
		HREFActiveLow:   c.Capture.HREFActiveLow,
		PCLKFallingEdge: c.Capture.PCLKFallingEdge,
	}
}

// Opts returns the capture options for the given pin map.
func (c *Config) Opts(s dvp.Signals) dvp.Opts {
	return dvp.Opts{
		Signals:         s,
		VSYNCActiveLow:  c.Capture.VSYNCActiveLow,
		HREFActiveLow:   c.Capture.HREFActiveLow,
		PCLKFallingEdge: c.Capture.PCLKFallingEdge,
		Capacity:        c.Capture.Capacity,
		Timeout:         c.Timeout(),
	}
}
