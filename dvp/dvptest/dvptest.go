// Copyright 2017 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package dvptest implements a fake DVP port that plays back synthetic bus
// activity.
package dvptest

import (
	"fmt"
	"sync"

	"github.com/maruel/go-ov5640/dvp"
)

// Playback implements dvp.Port by returning Words one at a time.
//
// Once all the words were read, the last one is returned forever, unless Loop
// is set in which case the playback restarts at the first word.
type Playback struct {
	sync.Mutex
	Words []uint32
	Loop  bool
	Count int // Number of Read() calls.
}

// Read implements dvp.Port.
func (p *Playback) Read() uint32 {
	p.Lock()
	defer p.Unlock()
	if len(p.Words) == 0 {
		return 0
	}
	i := p.Count
	p.Count++
	if i >= len(p.Words) {
		if p.Loop {
			i %= len(p.Words)
		} else {
			i = len(p.Words) - 1
		}
	}
	return p.Words[i]
}

func (p *Playback) String() string {
	return "playback"
}

// Exhausted returns true once all the words were read at least once.
func (p *Playback) Exhausted() bool {
	p.Lock()
	defer p.Unlock()
	return p.Count >= len(p.Words)
}

// Encoder generates port words as a sensor programmed with the same
// polarities as Opts would drive them.
type Encoder struct {
	Opts dvp.Opts
}

// Word returns the port word for the given logical (asserted) states.
func (e *Encoder) Word(vsync, href, pclk bool, data byte) uint32 {
	s := &e.Opts.Signals
	w := uint32(data) << s.Data0
	if vsync != e.Opts.VSYNCActiveLow {
		w |= 1 << s.VSYNC
	}
	if href != e.Opts.HREFActiveLow {
		w |= 1 << s.HREF
	}
	if pclk != e.Opts.PCLKFallingEdge {
		w |= 1 << s.PCLK
	}
	return w
}

// Idle returns the word with all control lines deasserted.
func (e *Encoder) Idle() uint32 {
	return e.Word(false, false, false, 0)
}

// VSYNC returns the frame sync pulse: idle, asserted, then deasserted.
func (e *Encoder) VSYNC() []uint32 {
	return []uint32{e.Idle(), e.Word(true, false, false, 0), e.Idle()}
}

// Line returns a blanking word followed by one line of pixels, then HREF
// deasserted.
//
// Each pixel is 2 words: the data being set up with PCLK inactive, then PCLK
// active.
func (e *Encoder) Line(pix []byte) []uint32 {
	out := make([]uint32, 0, 2*len(pix)+2)
	out = append(out, e.Idle())
	for _, b := range pix {
		out = append(out, e.Word(false, true, false, b), e.Word(false, true, true, b))
	}
	return append(out, e.Idle())
}

// Frame returns a VSYNC pulse followed by the lines.
func (e *Encoder) Frame(lines ...[]byte) []uint32 {
	out := e.VSYNC()
	for _, l := range lines {
		out = append(out, e.Line(l)...)
	}
	return out
}

// Stale returns words of a line already in progress, as seen when the
// capture starts in the middle of a line.
func (e *Encoder) Stale(pix []byte) []uint32 {
	out := make([]uint32, 0, 2*len(pix))
	for _, b := range pix {
		out = append(out, e.Word(false, true, false, b), e.Word(false, true, true, b))
	}
	return out
}

// Ramp returns n bytes incrementing from 0, wrapping at 256.
func Ramp(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i)
	}
	return out
}

// ColorBars returns n bytes split in 8 bars of decreasing intensity, the luma
// of the sensor test pattern.
func ColorBars(n int) []byte {
	levels := [8]byte{235, 210, 170, 145, 106, 81, 41, 16}
	out := make([]byte, n)
	for i := range out {
		out[i] = levels[i*len(levels)/n]
	}
	return out
}

// NewFake returns a capture device that produces the same line over and over.
//
// capacity is the line buffer size; 0 means dvp.DefaultCapacity.
func NewFake(pix []byte, capacity int) (*dvp.Dev, error) {
	if len(pix) == 0 {
		return nil, fmt.Errorf("dvptest: empty line")
	}
	e := Encoder{Opts: dvp.DefaultOpts}
	if capacity != 0 {
		e.Opts.Capacity = capacity
	}
	p := &Playback{Words: e.Frame(pix), Loop: true}
	return dvp.New(p, &e.Opts)
}
