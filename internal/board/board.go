// Copyright 2017 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package board brings up an OV5640 as described by a config.Config.
package board

import (
	"errors"
	"fmt"
	"log"

	"github.com/maruel/go-ov5640/dvp"
	"github.com/maruel/go-ov5640/internal/config"
	"github.com/maruel/go-ov5640/ov5640"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/conn/i2c"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/host/bcm283x"
)

// Board is a powered up sensor streaming on its DVP port.
type Board struct {
	Sensor  *ov5640.Dev
	Capture *dvp.Dev

	bus   i2c.BusCloser
	reset gpio.PinIO
	pwdn  gpio.PinIO
	xclk  gpio.PinIO
}

// OpenSensor runs the power up sequence, starts XCLK and verifies the chip
// ID. The sensor is left with its default register values.
//
// periph's host.Init() must have been called.
func OpenSensor(cfg *config.Config) (*Board, error) {
	b := &Board{}
	var err error
	if b.reset, err = optionalPin(cfg.Sensor.ResetPin); err != nil {
		return nil, err
	}
	if b.pwdn, err = optionalPin(cfg.Sensor.PwdnPin); err != nil {
		return nil, err
	}
	if b.xclk, err = pin(cfg.Sensor.XCLKPin); err != nil {
		return nil, err
	}
	if err := ov5640.PowerOn(outOrNil(b.reset), outOrNil(b.pwdn)); err != nil {
		return nil, err
	}
	ok := false
	defer func() {
		if !ok {
			b.Close()
		}
	}()
	if err := ov5640.StartClock(b.xclk, cfg.XCLK()); err != nil {
		return nil, err
	}

	if b.bus, err = i2creg.Open(cfg.Sensor.I2C); err != nil {
		return nil, err
	}
	if cfg.Sensor.I2CHz != 0 {
		if err := b.bus.SetSpeed(physic.Frequency(cfg.Sensor.I2CHz) * physic.Hertz); err != nil {
			return nil, err
		}
	}
	if b.Sensor, err = ov5640.New(b.bus); err != nil {
		return nil, fmt.Errorf("%w\nIs XCLK running and the sensor powered?", err)
	}
	log.Printf("found %s", b.Sensor)
	ok = true
	return b, nil
}

// Open brings up the sensor, programs it for DVP output and opens the
// capture port.
func Open(cfg *config.Config) (*Board, error) {
	b, err := OpenSensor(cfg)
	if err != nil {
		return nil, err
	}
	ok := false
	defer func() {
		if !ok {
			b.Close()
		}
	}()
	if err := b.configure(cfg); err != nil {
		return nil, err
	}
	port, s, err := openPort(&cfg.Capture)
	if err != nil {
		return nil, err
	}
	opts := cfg.Opts(s)
	if b.Capture, err = dvp.New(port, &opts); err != nil {
		return nil, err
	}
	ok = true
	return b, nil
}

// Close puts the sensor in standby, stops XCLK, holds the sensor in power
// down and releases the bus.
func (b *Board) Close() error {
	var errs []error
	if b.Sensor != nil {
		errs = append(errs, b.Sensor.Halt())
		b.Sensor = nil
	}
	if b.xclk != nil {
		errs = append(errs, b.xclk.Out(gpio.Low))
	}
	errs = append(errs, ov5640.PowerOff(outOrNil(b.reset), outOrNil(b.pwdn)))
	if b.bus != nil {
		errs = append(errs, b.bus.Close())
		b.bus = nil
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Private details.

func (b *Board) configure(cfg *config.Config) error {
	f, err := ov5640.ParseFormat(cfg.Sensor.Format)
	if err != nil {
		return err
	}
	if err := b.Sensor.SoftReset(); err != nil {
		return err
	}
	if len(cfg.Sensor.Regs) != 0 {
		regs := make([]ov5640.RegVal, len(cfg.Sensor.Regs))
		for i, r := range cfg.Sensor.Regs {
			regs[i] = ov5640.RegVal{Reg: ov5640.Register(r.Reg), Val: r.Val}
		}
		if err := b.Sensor.WriteRegs(regs); err != nil {
			return err
		}
	}
	if err := b.Sensor.SetFormat(f); err != nil {
		return err
	}
	if err := b.Sensor.SetPolarity(cfg.Polarity()); err != nil {
		return err
	}
	if err := b.Sensor.SetTestPattern(cfg.Sensor.TestPattern); err != nil {
		return err
	}
	if err := b.Sensor.EnableOutput(true); err != nil {
		return err
	}
	return b.Sensor.Standby(false)
}

// openPort returns the capture port and the matching bit layout.
func openPort(c *config.CaptureConfig) (dvp.Port, dvp.Signals, error) {
	vsync, err := pin(c.VSYNC)
	if err != nil {
		return nil, dvp.Signals{}, err
	}
	href, err := pin(c.HREF)
	if err != nil {
		return nil, dvp.Signals{}, err
	}
	pclk, err := pin(c.PCLK)
	if err != nil {
		return nil, dvp.Signals{}, err
	}
	var data [8]gpio.PinIn
	for i, n := range c.Data {
		if data[i], err = pin(n); err != nil {
			return nil, dvp.Signals{}, err
		}
	}

	switch c.Port {
	case config.PortPins:
		p, err := dvp.NewPinPort(vsync, href, pclk, data)
		return p, dvp.DefaultSignals, err
	case config.PortBCM283x:
		if !bcm283x.Present() {
			return nil, dvp.Signals{}, errors.New("board: bcm283x port requested but not running on a bcm283x")
		}
		s := dvp.Signals{
			VSYNC: uint(vsync.Number()),
			HREF:  uint(href.Number()),
			PCLK:  uint(pclk.Number()),
			Data0: uint(data[0].Number()),
		}
		for i, d := range data {
			if d.Number() != data[0].Number()+i {
				return nil, dvp.Signals{}, fmt.Errorf("board: D%d is %s; data lines must be consecutive GPIOs starting at %s", i, d, data[0])
			}
		}
		for _, p := range append([]gpio.PinIn{vsync, href, pclk}, data[:]...) {
			if err := p.In(gpio.Float, gpio.NoEdge); err != nil {
				return nil, dvp.Signals{}, err
			}
		}
		return dvp.PortFunc(bcm283x.PinsRead0To31), s, nil
	default:
		return nil, dvp.Signals{}, fmt.Errorf("board: unknown port %q", c.Port)
	}
}

func pin(name string) (gpio.PinIO, error) {
	if name == "" {
		return nil, errors.New("board: missing pin name")
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("board: unknown pin %q", name)
	}
	return p, nil
}

func optionalPin(name string) (gpio.PinIO, error) {
	if name == "" {
		return nil, nil
	}
	return pin(name)
}

// outOrNil avoids passing a typed nil as a gpio.PinOut.
func outOrNil(p gpio.PinIO) gpio.PinOut {
	if p == nil {
		return nil
	}
	return p
}
