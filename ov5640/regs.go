// Copyright 2017 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ov5640

import "fmt"

// Register is a 16 bits SCCB register address.
type Register uint16

// Registers used for bring up. The full list is in the datasheet chapter 8.
const (
	RegSystemCtrl0        Register = 0x3008 // Bit 7: software reset; bit 6: software power down.
	RegChipIDHigh         Register = 0x300A // 0x56
	RegChipIDLow          Register = 0x300B // 0x40
	RegPadOutputEnable01  Register = 0x3017 // FREX, VSYNC, HREF, PCLK, D[9:6]
	RegPadOutputEnable02  Register = 0x3018 // D[5:0], GPIO1, GPIO0
	RegPadControl         Register = 0x302C // Output drive capability.
	RegFormatControl00    Register = 0x4300 // Output format and sequence.
	RegPolarityCtrl00     Register = 0x4740 // DVP PCLK, HREF, VSYNC polarity.
	RegISPControl00       Register = 0x5000
	RegISPControl01       Register = 0x5001
	RegFormatMuxControl   Register = 0x501F // ISP output format.
	RegPreISPTestSetting1 Register = 0x503D // Test pattern.
)

var regNames = map[Register]string{
	RegSystemCtrl0:        "SYSTEM_CTRL0",
	RegChipIDHigh:         "CHIP_ID_HIGH",
	RegChipIDLow:          "CHIP_ID_LOW",
	RegPadOutputEnable01:  "PAD_OUTPUT_ENABLE01",
	RegPadOutputEnable02:  "PAD_OUTPUT_ENABLE02",
	RegPadControl:         "PAD_CONTROL",
	RegFormatControl00:    "FORMAT_CONTROL00",
	RegPolarityCtrl00:     "POLARITY_CTRL00",
	RegISPControl00:       "ISP_CONTROL00",
	RegISPControl01:       "ISP_CONTROL01",
	RegFormatMuxControl:   "FORMAT_MUX_CONTROL",
	RegPreISPTestSetting1: "PRE_ISP_TEST_SETTING1",
}

func (r Register) String() string {
	if s, ok := regNames[r]; ok {
		return s
	}
	return fmt.Sprintf("Register(0x%04X)", uint16(r))
}

// Documented lists the registers with a name, in address order.
var Documented = []Register{
	RegSystemCtrl0,
	RegChipIDHigh,
	RegChipIDLow,
	RegPadOutputEnable01,
	RegPadOutputEnable02,
	RegPadControl,
	RegFormatControl00,
	RegPolarityCtrl00,
	RegISPControl00,
	RegISPControl01,
	RegFormatMuxControl,
	RegPreISPTestSetting1,
}

// RegVal is a register value pair, as found in the sensor initialization
// tables.
type RegVal struct {
	Reg Register
	Val uint8
}

// SYSTEM_CTRL0 values.
const (
	systemCtrl0Reset     = 0x82
	systemCtrl0PowerDown = 0x42
	systemCtrl0Normal    = 0x02
)

// POLARITY_CTRL00 bits.
const (
	polarityVSYNC = 1 << 0 // 1 means active low, contrary to the datasheet.
	polarityHREF  = 1 << 1 // 1 means active high.
	polarityPCLK  = 1 << 5 // 1 means data is valid on the rising edge.
)

// PRE_ISP_TEST_SETTING1 values.
const (
	testPatternOff       = 0x00
	testPatternColorBars = 0x80
)

// Format is the output format on the DVP bus.
type Format int

// Supported formats.
const (
	YUV422 Format = iota // YUYV, 2 bytes per pixel.
	RGB565               // Big endian, 2 bytes per pixel.
)

func (f Format) String() string {
	switch f {
	case YUV422:
		return "YUV422"
	case RGB565:
		return "RGB565"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// regs returns FORMAT_CONTROL00 and FORMAT_MUX_CONTROL values.
func (f Format) regs() (uint8, uint8, error) {
	switch f {
	case YUV422:
		return 0x30, 0x00, nil
	case RGB565:
		return 0x61, 0x01, nil
	default:
		return 0, 0, fmt.Errorf("ov5640: unsupported format %s", f)
	}
}

// ParseFormat parses the output of Format.String().
func ParseFormat(s string) (Format, error) {
	for _, f := range []Format{YUV422, RGB565} {
		if f.String() == s {
			return f, nil
		}
	}
	return 0, fmt.Errorf("ov5640: unknown format %q", s)
}
