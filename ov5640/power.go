// Copyright 2017 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ov5640

import (
	"errors"
	"time"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/physic"
)

// DefaultXCLK is the external clock frequency used when 0 is passed to
// StartClock. The sensor accepts 6MHz to 27MHz.
const DefaultXCLK = 24 * physic.MegaHertz

// PowerOn runs the power up sequence.
//
// RESETB is active low and PWDN is active high. Either can be nil when the
// line is hardwired on the breakout board.
func PowerOn(reset, pwdn gpio.PinOut) error {
	if pwdn != nil {
		if err := pwdn.Out(gpio.Low); err != nil {
			return err
		}
	}
	if reset != nil {
		if err := reset.Out(gpio.Low); err != nil {
			return err
		}
		time.Sleep(resetPulse)
		if err := reset.Out(gpio.High); err != nil {
			return err
		}
	}
	// Let the camera wake up.
	time.Sleep(powerUpDelay)
	return nil
}

// PowerOff holds the sensor in hardware power down and reset.
func PowerOff(reset, pwdn gpio.PinOut) error {
	var err error
	if pwdn != nil {
		err = pwdn.Out(gpio.High)
	}
	if reset != nil {
		if err2 := reset.Out(gpio.Low); err == nil {
			err = err2
		}
	}
	return err
}

// StartClock generates XCLK as a 50% duty cycle PWM on pin.
//
// The sensor doesn't answer on SCCB without XCLK.
func StartClock(pin gpio.PinOut, f physic.Frequency) error {
	if pin == nil {
		return errors.New("ov5640: XCLK pin is required")
	}
	if f == 0 {
		f = DefaultXCLK
	}
	if f < 6*physic.MegaHertz || f > 27*physic.MegaHertz {
		return errors.New("ov5640: XCLK must be between 6MHz and 27MHz")
	}
	if err := pin.PWM(gpio.DutyHalf, f); err != nil {
		return err
	}
	time.Sleep(clockSettle)
	return nil
}

// Private details.

const (
	resetPulse   = time.Millisecond
	powerUpDelay = 20 * time.Millisecond
	clockSettle  = 10 * time.Millisecond
)
