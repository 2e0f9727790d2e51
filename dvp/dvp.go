// Copyright 2017 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package dvp captures video lines from a parallel digital video port (DVP)
// as exposed by OmniVision sensors like the OV5640.
//
// The bus is 8 data lines plus 3 control lines:
//   VSYNC marks the frame boundary.
//   HREF is asserted during the active part of a line.
//   PCLK has one active edge per pixel byte.
//
// There is no DMA nor interrupt involved. The port is busy polled, which is
// only sustainable with a slow PCLK. Use a low XCLK and a large PLL divider
// on the sensor side when bringing up a board.
//
// OV5640 datasheet, DVP timing:
//   p. 3-7 DVP timing diagram (VSYNC, HREF, PCLK).
//   p. 4-13 register 0x4740 (POLARITY CTRL00).
package dvp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultCapacity is the default number of bytes in a line buffer.
//
// An OV5640 line at 1280 pixels in YUV422 is 2560 bytes.
const DefaultCapacity = 3000

// ErrSyncTimeout is returned, wrapped, when one of the control lines didn't
// reach the expected level in time.
var ErrSyncTimeout = errors.New("dvp: sync timeout")

// Signals maps each logical signal to its bit position in the word returned
// by Port.Read().
//
// The 8 data lines are consecutive, D0 being at bit Data0 and D7 at bit
// Data0+7.
type Signals struct {
	VSYNC uint
	HREF  uint
	PCLK  uint
	Data0 uint
}

// DefaultSignals is a 16 bits port with the data bus at the bottom.
var DefaultSignals = Signals{Data0: 0, VSYNC: 8, HREF: 9, PCLK: 10}

func (s *Signals) validate() error {
	if s.Data0 > 24 {
		return fmt.Errorf("dvp: data bus at bit %d doesn't fit 32 bits", s.Data0)
	}
	ctl := []struct {
		name string
		bit  uint
	}{{"VSYNC", s.VSYNC}, {"HREF", s.HREF}, {"PCLK", s.PCLK}}
	for i, c := range ctl {
		if c.bit > 31 {
			return fmt.Errorf("dvp: %s at bit %d doesn't fit 32 bits", c.name, c.bit)
		}
		if c.bit >= s.Data0 && c.bit < s.Data0+8 {
			return fmt.Errorf("dvp: %s at bit %d overlaps data bus D%d", c.name, c.bit, c.bit-s.Data0)
		}
		for _, o := range ctl[:i] {
			if o.bit == c.bit {
				return fmt.Errorf("dvp: %s and %s share bit %d", o.name, c.name, c.bit)
			}
		}
	}
	return nil
}

// Opts is the bus configuration.
//
// The polarity of each control line depends on register 0x4740 of the
// sensor. It must match what the sensor was programmed with.
type Opts struct {
	Signals Signals

	VSYNCActiveLow  bool // VSYNC pulse is low at the start of a frame.
	HREFActiveLow   bool // HREF is low during the active part of a line.
	PCLKFallingEdge bool // Data is sampled on PCLK falling edge instead of rising.

	// Capacity is the maximum number of bytes captured per line.
	Capacity int
	// Timeout is the maximum duration of each wait on a control line. 0 means
	// wait forever; cancelation of the context is still honored.
	Timeout time.Duration
}

// DefaultOpts is the configuration used when nil is passed to New.
var DefaultOpts = Opts{
	Signals:  DefaultSignals,
	Capacity: DefaultCapacity,
	Timeout:  time.Second,
}

// State is one state of the capture state machine.
type State int

// Capture states, in order.
const (
	AwaitFrameStart  State = iota // Waiting for VSYNC to assert.
	AwaitFrameActive              // Waiting for VSYNC to deassert.
	AwaitLineStart                // Waiting for HREF to deassert then assert.
	Sampling                      // One byte per PCLK.
	Done
)

func (s State) String() string {
	switch s {
	case AwaitFrameStart:
		return "AwaitFrameStart"
	case AwaitFrameActive:
		return "AwaitFrameActive"
	case AwaitLineStart:
		return "AwaitLineStart"
	case Sampling:
		return "Sampling"
	case Done:
		return "Done"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Line is a captured line.
type Line struct {
	Pix []byte // Raw bytes as presented on the bus.
	// Truncated is set when the buffer was full while the sensor was still
	// clocking out pixels for this line.
	Truncated bool
}

// Stats is updated after each CaptureLine call.
type Stats struct {
	LastFail       error
	GoodLines      int
	TruncatedLines int
	SyncTimeouts   int
	Canceled       int
	Bytes          int
}

// Dev captures lines on a DVP port.
type Dev struct {
	p    Port
	opts Opts

	mu    sync.Mutex
	stats Stats
}

// New returns a capture device reading from p.
//
// The sensor must already be streaming and all the lines must be inputs.
func New(p Port, opts *Opts) (*Dev, error) {
	if p == nil {
		return nil, errors.New("dvp: port is required")
	}
	if opts == nil {
		opts = &DefaultOpts
	}
	if err := opts.Signals.validate(); err != nil {
		return nil, err
	}
	if opts.Capacity < 1 {
		return nil, fmt.Errorf("dvp: invalid capacity %d", opts.Capacity)
	}
	if opts.Timeout < 0 {
		return nil, fmt.Errorf("dvp: invalid timeout %s", opts.Timeout)
	}
	return &Dev{p: p, opts: *opts}, nil
}

func (d *Dev) String() string {
	return fmt.Sprintf("DVP(%v)", d.p)
}

// Stats returns a copy of the capture statistics. It is safe to call
// concurrently with CaptureLine.
func (d *Dev) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// CaptureLine waits for the start of the next frame and captures its first
// line.
//
// buf is reused when its capacity is large enough, otherwise a new buffer is
// allocated. The returned Line.Pix always starts at buf[0].
//
// On timeout, the returned error wraps ErrSyncTimeout. The bytes sampled so
// far are returned along the error.
func (d *Dev) CaptureLine(ctx context.Context, buf []byte) (Line, error) {
	if cap(buf) < d.opts.Capacity {
		buf = make([]byte, 0, d.opts.Capacity)
	}
	c := capture{d: d, ctx: ctx, pix: buf[:0]}
	err := c.run()
	l := Line{Pix: c.pix, Truncated: c.truncated}
	d.update(&l, err)
	return l, err
}

// ExtractByte returns the 8 data bits of the port word w, D0 being at bit
// shift.
func ExtractByte(w uint32, shift uint) byte {
	return byte(w >> shift)
}

// Private details.

// pollCheck is the number of polls between deadline and context checks. It
// must be a power of two.
const pollCheck = 256

// peekPolls bounds the look for one more pixel once the buffer is full.
const peekPolls = pollCheck

func (d *Dev) update(l *Line, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.Bytes += len(l.Pix)
	switch {
	case err == nil:
		d.stats.LastFail = nil
		d.stats.GoodLines++
		if l.Truncated {
			d.stats.TruncatedLines++
		}
		return
	case errors.Is(err, ErrSyncTimeout):
		d.stats.SyncTimeouts++
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		d.stats.Canceled++
	}
	d.stats.LastFail = err
}

// capture is the state of one CaptureLine call.
type capture struct {
	d         *Dev
	ctx       context.Context
	state     State
	pix       []byte
	truncated bool
}

func (c *capture) run() error {
	s := &c.d.opts.Signals
	o := &c.d.opts
	vsync := func(w uint32) bool { return level(w, s.VSYNC) != o.VSYNCActiveLow }
	href := func(w uint32) bool { return level(w, s.HREF) != o.HREFActiveLow }
	pclk := func(w uint32) bool { return level(w, s.PCLK) != o.PCLKFallingEdge }

	c.state = AwaitFrameStart
	if _, err := c.wait(vsync); err != nil {
		return err
	}
	c.state = AwaitFrameActive
	if _, err := c.wait(func(w uint32) bool { return !vsync(w) }); err != nil {
		return err
	}
	// HREF may still be asserted from a previous line; align on a line
	// boundary.
	c.state = AwaitLineStart
	if _, err := c.wait(func(w uint32) bool { return !href(w) }); err != nil {
		return err
	}
	if _, err := c.wait(href); err != nil {
		return err
	}

	c.state = Sampling
	// PCLK and HREF are tested on the same snapshot so the line end is never
	// mistaken for a pixel.
	activeOrEnd := func(w uint32) bool { return pclk(w) || !href(w) }
	idleOrEnd := func(w uint32) bool { return !pclk(w) || !href(w) }
	for len(c.pix) < o.Capacity {
		w, err := c.wait(activeOrEnd)
		if err != nil {
			return err
		}
		if !href(w) {
			c.state = Done
			return nil
		}
		c.pix = append(c.pix, ExtractByte(w, s.Data0))
		if _, err := c.wait(idleOrEnd); err != nil {
			return err
		}
	}

	// The buffer is full. Look briefly at the next clock to know if the line
	// was longer than the buffer. The look is bounded in polls, so a stalled
	// bus reports a complete line.
	c.state = Done
	for i := 0; i < peekPolls; i++ {
		if w := c.d.p.Read(); activeOrEnd(w) {
			c.truncated = href(w)
			break
		}
	}
	return nil
}

// wait polls the port until cond is true and returns the word that satisfied
// it.
//
// The clock is not read until pollCheck polls failed, so a wait satisfied
// quickly costs no time.Now() call. The effective timeout is thus up to
// pollCheck polls longer than Opts.Timeout.
func (c *capture) wait(cond func(w uint32) bool) (uint32, error) {
	var deadline time.Time
	for i := 1; ; i++ {
		if w := c.d.p.Read(); cond(w) {
			return w, nil
		}
		if i&(pollCheck-1) != 0 {
			continue
		}
		if err := c.ctx.Err(); err != nil {
			return 0, fmt.Errorf("dvp: %s: %w", c.state, err)
		}
		if c.d.opts.Timeout <= 0 {
			continue
		}
		if now := time.Now(); deadline.IsZero() {
			deadline = now.Add(c.d.opts.Timeout)
		} else if now.After(deadline) {
			return 0, fmt.Errorf("%w in %s after %d bytes (%s)", ErrSyncTimeout, c.state, len(c.pix), c.d.opts.Timeout)
		}
	}
}

func level(w uint32, bit uint) bool {
	return w>>bit&1 != 0
}
