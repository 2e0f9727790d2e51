// Copyright 2017 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package dvp

import (
	"errors"
	"fmt"

	"periph.io/x/periph/conn/gpio"
)

// Port returns the instantaneous level of all the DVP lines as a single word.
//
// The bit position of each signal is described by Signals.
type Port interface {
	Read() uint32
}

// PortFunc adapts a function to Port.
//
// On a Raspberry Pi, bcm283x.PinsRead0To31 reads all the GPIO levels in one
// memory access, which gives a consistent snapshot of all the lines.
type PortFunc func() uint32

// Read implements Port.
func (p PortFunc) Read() uint32 {
	return p()
}

func (p PortFunc) String() string {
	return "PortFunc"
}

// PinPort builds a port word out of individual GPIO pins.
//
// The pins are read one after the other, so the word is not an atomic
// snapshot. PCLK is read first and the data bus last, so that a byte is read
// after the clock edge that latched it.
type PinPort struct {
	vsync gpio.PinIn
	href  gpio.PinIn
	pclk  gpio.PinIn
	data  [8]gpio.PinIn
}

// NewPinPort configures all the pins as floating inputs and returns a Port
// laid out as DefaultSignals.
func NewPinPort(vsync, href, pclk gpio.PinIn, data [8]gpio.PinIn) (*PinPort, error) {
	p := &PinPort{vsync: vsync, href: href, pclk: pclk, data: data}
	for _, pin := range p.pins() {
		if pin == nil {
			return nil, errors.New("dvp: all 11 pins are required")
		}
		if err := pin.In(gpio.Float, gpio.NoEdge); err != nil {
			return nil, fmt.Errorf("dvp: %s: %w", pin, err)
		}
	}
	return p, nil
}

// Read implements Port.
func (p *PinPort) Read() uint32 {
	var w uint32
	if p.pclk.Read() {
		w |= 1 << DefaultSignals.PCLK
	}
	if p.href.Read() {
		w |= 1 << DefaultSignals.HREF
	}
	if p.vsync.Read() {
		w |= 1 << DefaultSignals.VSYNC
	}
	for i, d := range p.data {
		if d.Read() {
			w |= 1 << (DefaultSignals.Data0 + uint(i))
		}
	}
	return w
}

func (p *PinPort) String() string {
	return fmt.Sprintf("PinPort{VSYNC:%s, HREF:%s, PCLK:%s, D0:%s}", p.vsync, p.href, p.pclk, p.data[0])
}

func (p *PinPort) pins() []gpio.PinIn {
	return append([]gpio.PinIn{p.vsync, p.href, p.pclk}, p.data[:]...)
}
