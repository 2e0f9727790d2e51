// Copyright 2017 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ov5640 controls an OmniVision OV5640 camera sensor over its Serial
// Camera Control Bus (SCCB).
//
// SCCB is i²c compatible. Registers are addressed with 16 bits big endian
// addresses and hold 8 bits values.
//
// References:
// OV5640 datasheet:
//   p. 2-2 SCCB timing; the sensor needs XCLK to answer.
//   p. 2-3 power up sequence.
//   p. 4-13 DVP control.
//   chapter 8 register tables.
//
// The Linux driver drivers/media/i2c/ov5640.c is a good reference for
// undocumented behavior.
package ov5640

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/periph/conn/i2c"
)

// Addr is the 7 bits SCCB address.
const Addr = 0x3C

// ChipID is the value of CHIP_ID_HIGH:CHIP_ID_LOW.
const ChipID = 0x5640

// ErrChipID is returned, wrapped, when the device on the bus is not an
// OV5640.
var ErrChipID = errors.New("ov5640: unexpected chip ID")

// Polarity is the DVP signals polarity.
//
// It uses the same convention as dvp.Opts.
type Polarity struct {
	VSYNCActiveLow  bool
	HREFActiveLow   bool
	PCLKFallingEdge bool
}

// New returns a connection to the sensor and verifies its identity.
//
// The sensor must be powered on and have XCLK running, otherwise it doesn't
// acknowledge its address.
func New(b i2c.Bus) (*Dev, error) {
	d := &Dev{c: i2c.Dev{Bus: b, Addr: Addr}}
	id, err := d.ChipID()
	if err != nil {
		return nil, err
	}
	if id != ChipID {
		return nil, fmt.Errorf("%w 0x%04X", ErrChipID, id)
	}
	return d, nil
}

// Dev is a handle to an OV5640.
type Dev struct {
	mu sync.Mutex
	c  i2c.Dev
}

func (d *Dev) String() string {
	return fmt.Sprintf("OV5640{%s}", d.c.Bus)
}

// ReadReg reads one register.
func (d *Dev) ReadReg(r Register) (uint8, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readReg(r)
}

// WriteReg writes one register.
func (d *Dev) WriteReg(r Register, v uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeReg(r, v)
}

// WriteRegs writes a register table in order. It stops at the first error.
func (d *Dev) WriteRegs(regs []RegVal) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, rv := range regs {
		if err := d.writeReg(rv.Reg, rv.Val); err != nil {
			return err
		}
	}
	return nil
}

// ChipID returns the sensor's identification; 0x5640 for an OV5640.
func (d *Dev) ChipID() (uint16, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, err := d.readReg(RegChipIDHigh)
	if err != nil {
		return 0, err
	}
	l, err := d.readReg(RegChipIDLow)
	if err != nil {
		return 0, err
	}
	return uint16(h)<<8 | uint16(l), nil
}

// SoftReset resets all the registers to their default value.
func (d *Dev) SoftReset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.writeReg(RegSystemCtrl0, systemCtrl0Reset); err != nil {
		return err
	}
	time.Sleep(resetDelay)
	return d.writeReg(RegSystemCtrl0, systemCtrl0Normal)
}

// Standby enables or disables software power down. Registers are kept.
func (d *Dev) Standby(on bool) error {
	v := uint8(systemCtrl0Normal)
	if on {
		v = systemCtrl0PowerDown
	}
	return d.WriteReg(RegSystemCtrl0, v)
}

// EnableOutput enables the DVP output pads: VSYNC, HREF, PCLK and D[9:0].
func (d *Dev) EnableOutput(on bool) error {
	var a, b uint8
	if on {
		a, b = 0x7F, 0xFC
	}
	return d.WriteRegs([]RegVal{{RegPadOutputEnable01, a}, {RegPadOutputEnable02, b}})
}

// SetPolarity programs the DVP control signals polarity.
func (d *Dev) SetPolarity(p Polarity) error {
	var v uint8
	if p.VSYNCActiveLow {
		v |= polarityVSYNC
	}
	if !p.HREFActiveLow {
		v |= polarityHREF
	}
	if !p.PCLKFallingEdge {
		v |= polarityPCLK
	}
	return d.WriteReg(RegPolarityCtrl00, v)
}

// GetPolarity reads back the DVP control signals polarity.
func (d *Dev) GetPolarity() (Polarity, error) {
	v, err := d.ReadReg(RegPolarityCtrl00)
	return Polarity{
		VSYNCActiveLow:  v&polarityVSYNC != 0,
		HREFActiveLow:   v&polarityHREF == 0,
		PCLKFallingEdge: v&polarityPCLK == 0,
	}, err
}

// SetFormat selects the output format.
func (d *Dev) SetFormat(f Format) error {
	ctrl, mux, err := f.regs()
	if err != nil {
		return err
	}
	return d.WriteRegs([]RegVal{{RegFormatControl00, ctrl}, {RegFormatMuxControl, mux}})
}

// SetTestPattern enables or disables the 8 color bars test pattern. It is
// useful to validate the data lines wiring.
func (d *Dev) SetTestPattern(on bool) error {
	v := uint8(testPatternOff)
	if on {
		v = testPatternColorBars
	}
	return d.WriteReg(RegPreISPTestSetting1, v)
}

// Halt implements conn.Resource. It puts the sensor in software power down.
func (d *Dev) Halt() error {
	return d.Standby(true)
}

// Private details.

// resetDelay is the time to wait after a software reset before accessing the
// registers.
const resetDelay = 5 * time.Millisecond

func (d *Dev) readReg(r Register) (uint8, error) {
	var v [1]byte
	if err := d.c.Tx([]byte{byte(r >> 8), byte(r)}, v[:]); err != nil {
		return 0, fmt.Errorf("ov5640: read %s: %w", r, err)
	}
	return v[0], nil
}

func (d *Dev) writeReg(r Register, v uint8) error {
	if err := d.c.Tx([]byte{byte(r >> 8), byte(r), v}, nil); err != nil {
		return fmt.Errorf("ov5640: write %s: %w", r, err)
	}
	return nil
}
