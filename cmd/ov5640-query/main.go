// Copyright 2017 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// ov5640-query uses the SCCB interface to query the sensor's internal state.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"os"

	"github.com/maruel/go-ov5640/internal/board"
	"github.com/maruel/go-ov5640/internal/config"
	"github.com/maruel/go-ov5640/ov5640"

	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/host"
)

func mainImpl() error {
	cfgPath := flag.String("config", config.DefaultPath(), "board description")
	i2cName := flag.String("i2c", "", "I²C bus to use; overrides the config")
	i2cHz := flag.Int("hz", 0, "I²C bus speed; overrides the config")
	power := flag.Bool("power", false, "run the power up sequence and start XCLK first")
	reset := flag.Bool("reset", false, "soft reset the sensor before reading")
	verbose := flag.Bool("v", false, "verbose mode")
	flag.Parse()
	if !*verbose {
		log.SetOutput(ioutil.Discard)
	}
	log.SetFlags(log.Lmicroseconds)

	if len(flag.Args()) != 0 {
		return fmt.Errorf("unexpected argument: %s", flag.Args())
	}
	cfg, err := config.LoadOrDefault(*cfgPath)
	if err != nil {
		return err
	}
	if *i2cName != "" {
		cfg.Sensor.I2C = *i2cName
	}
	if *i2cHz != 0 {
		cfg.Sensor.I2CHz = int64(*i2cHz)
	}

	if _, err := host.Init(); err != nil {
		return err
	}
	var dev *ov5640.Dev
	if *power {
		b, err := board.OpenSensor(cfg)
		if err != nil {
			return err
		}
		defer b.Close()
		dev = b.Sensor
	} else {
		i2cBus, err := i2creg.Open(cfg.Sensor.I2C)
		if err != nil {
			return err
		}
		defer i2cBus.Close()
		if cfg.Sensor.I2CHz != 0 {
			if err := i2cBus.SetSpeed(physic.Frequency(cfg.Sensor.I2CHz) * physic.Hertz); err != nil {
				return err
			}
		}
		if dev, err = ov5640.New(i2cBus); err != nil {
			if errors.Is(err, ov5640.ErrChipID) {
				return err
			}
			return fmt.Errorf("%w\nIf the sensor is not powered yet, use -power", err)
		}
	}
	if *reset {
		if err := dev.SoftReset(); err != nil {
			return err
		}
	}

	id, err := dev.ChipID()
	if err != nil {
		return err
	}
	fmt.Printf("Device:   %s\n", dev)
	fmt.Printf("Chip ID:  0x%04X\n", id)
	p, err := dev.GetPolarity()
	if err != nil {
		return err
	}
	fmt.Printf("Polarity: VSYNC active low=%t HREF active low=%t PCLK falling edge=%t\n", p.VSYNCActiveLow, p.HREFActiveLow, p.PCLKFallingEdge)
	for _, r := range ov5640.Documented {
		v, err := dev.ReadReg(r)
		if err != nil {
			return fmt.Errorf("%s: %w", r, err)
		}
		fmt.Printf("  0x%04X %-22s 0x%02X\n", uint16(r), r, v)
	}
	return nil
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "\nov5640-query: %s.\n", err)
		os.Exit(1)
	}
}
