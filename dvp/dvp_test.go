// Copyright 2017 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package dvp_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/maruel/go-ov5640/dvp"
	"github.com/maruel/go-ov5640/dvp/dvptest"
)

func TestExtractByte(t *testing.T) {
	data := []struct {
		w     uint32
		shift uint
		want  byte
	}{
		{0x00A5, 0, 0xA5},
		{0x07A5, 0, 0xA5}, // VSYNC, HREF and PCLK set.
		{0xFF00, 0, 0x00},
		{0x5A00, 8, 0x5A},
		{0x5AFF, 8, 0x5A},
		{0xFFFF5AFF, 8, 0x5A},
		{0xC3 << 24, 24, 0xC3},
	}
	for i, line := range data {
		if got := dvp.ExtractByte(line.w, line.shift); got != line.want {
			t.Fatalf("#%d: ExtractByte(0x%X, %d) = 0x%02X; want 0x%02X", i, line.w, line.shift, got, line.want)
		}
	}
}

func TestExtractByte_controlBits(t *testing.T) {
	s := dvp.DefaultSignals
	ctl := uint32(1)<<s.VSYNC | uint32(1)<<s.HREF | uint32(1)<<s.PCLK
	for v := 0; v < 256; v++ {
		if got := dvp.ExtractByte(uint32(v)<<s.Data0|ctl, s.Data0); got != byte(v) {
			t.Fatalf("0x%02X leaked control bits: 0x%02X", v, got)
		}
	}
}

func TestNew_fail(t *testing.T) {
	p := &dvptest.Playback{}
	if _, err := dvp.New(nil, nil); err == nil {
		t.Fatal("nil port")
	}
	data := []dvp.Opts{
		{Signals: dvp.DefaultSignals, Capacity: 0},
		{Signals: dvp.DefaultSignals, Capacity: 1, Timeout: -1},
		{Signals: dvp.Signals{Data0: 0, VSYNC: 7, HREF: 9, PCLK: 10}, Capacity: 1},
		{Signals: dvp.Signals{Data0: 4, VSYNC: 0, HREF: 1, PCLK: 11}, Capacity: 1},
		{Signals: dvp.Signals{Data0: 0, VSYNC: 8, HREF: 8, PCLK: 10}, Capacity: 1},
		{Signals: dvp.Signals{Data0: 0, VSYNC: 8, HREF: 9, PCLK: 32}, Capacity: 1},
		{Signals: dvp.Signals{Data0: 25, VSYNC: 0, HREF: 1, PCLK: 2}, Capacity: 1},
	}
	for i := range data {
		if _, err := dvp.New(p, &data[i]); err == nil {
			t.Fatalf("#%d: expected failure for %+v", i, data[i])
		}
	}
}

func TestNew_default(t *testing.T) {
	d, err := dvp.New(&dvptest.Playback{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if s := d.String(); s != "DVP(playback)" {
		t.Fatal(s)
	}
}

func TestCaptureLine_exact(t *testing.T) {
	for _, c := range []int{1, 2, 7, 64, 640} {
		e, p, d := setup(t, c, dvp.DefaultSignals)
		want := dvptest.Ramp(c)
		p.Words = e.Frame(want)
		l, err := d.CaptureLine(context.Background(), nil)
		if err != nil {
			t.Fatalf("C=%d: %v", c, err)
		}
		if !bytes.Equal(l.Pix, want) {
			t.Fatalf("C=%d: got %v; want %v", c, l.Pix, want)
		}
		if l.Truncated {
			t.Fatalf("C=%d: unexpected truncation", c)
		}
	}
}

func TestCaptureLine_truncated(t *testing.T) {
	for _, c := range []int{1, 3, 100} {
		e, p, d := setup(t, c, dvp.DefaultSignals)
		pix := dvptest.Ramp(c + 5)
		p.Words = e.Frame(pix)
		l, err := d.CaptureLine(context.Background(), nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(l.Pix) != c {
			t.Fatalf("C=%d: got %d bytes", c, len(l.Pix))
		}
		if !bytes.Equal(l.Pix, pix[:c]) {
			t.Fatalf("C=%d: got %v", c, l.Pix)
		}
		if !l.Truncated {
			t.Fatalf("C=%d: expected truncation", c)
		}
		if s := d.Stats(); s.GoodLines != 1 || s.TruncatedLines != 1 {
			t.Fatalf("%+v", s)
		}
	}
}

func TestCaptureLine_short(t *testing.T) {
	const c = 20
	for k := 1; k < c; k += 6 {
		e, p, d := setup(t, c, dvp.DefaultSignals)
		want := dvptest.Ramp(k)
		p.Words = e.Frame(want, dvptest.Ramp(c))
		l, err := d.CaptureLine(context.Background(), nil)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(l.Pix, want) || l.Truncated {
			t.Fatalf("k=%d: got %v (truncated=%t)", k, l.Pix, l.Truncated)
		}
	}
}

func TestCaptureLine_staleHREF(t *testing.T) {
	e, p, d := setup(t, 16, dvp.DefaultSignals)
	stale := bytes.Repeat([]byte{0xEE}, 8)
	want := []byte{1, 2, 3, 4}
	// VSYNC falls with HREF already asserted by a line in progress.
	p.Words = append([]uint32{e.Idle(), e.Word(true, false, false, 0)}, e.Stale(stale)...)
	p.Words = append(p.Words, e.Line(want)...)
	l, err := d.CaptureLine(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(l.Pix, want) {
		t.Fatalf("got %v; want %v", l.Pix, want)
	}
}

func TestCaptureLine_vsyncFirst(t *testing.T) {
	e, p, d := setup(t, 16, dvp.DefaultSignals)
	// A line without VSYNC before it is ignored.
	p.Words = append(e.Line([]byte{9, 9, 9}), e.Frame([]byte{5, 6})...)
	l, err := d.CaptureLine(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(l.Pix, []byte{5, 6}) {
		t.Fatal(l.Pix)
	}
}

func TestCaptureLine_twice(t *testing.T) {
	e, p, d := setup(t, 32, dvp.DefaultSignals)
	buf := make([]byte, 0, 32)
	p.Words = e.Frame(dvptest.Ramp(10))
	l, err := d.CaptureLine(context.Background(), buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(l.Pix) != 10 {
		t.Fatal(l.Pix)
	}
	p.Words = e.Frame([]byte{0xA0, 0xA1, 0xA2})
	p.Count = 0
	l, err = d.CaptureLine(context.Background(), buf)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(l.Pix, []byte{0xA0, 0xA1, 0xA2}) {
		t.Fatalf("carried over state: %v", l.Pix)
	}
	if &l.Pix[0] != &buf[:1][0] {
		t.Fatal("buffer was not reused")
	}
	if s := d.Stats(); s.GoodLines != 2 || s.Bytes != 13 {
		t.Fatalf("%+v", s)
	}
}

func TestCaptureLine_smallBuffer(t *testing.T) {
	e, p, d := setup(t, 8, dvp.DefaultSignals)
	p.Words = e.Frame(dvptest.Ramp(8))
	l, err := d.CaptureLine(context.Background(), make([]byte, 2))
	if err != nil {
		t.Fatal(err)
	}
	if len(l.Pix) != 8 || cap(l.Pix) < 8 {
		t.Fatal(l.Pix)
	}
}

func TestCaptureLine_polarity(t *testing.T) {
	opts := dvp.Opts{
		Signals:         dvp.Signals{Data0: 4, VSYNC: 0, HREF: 1, PCLK: 2},
		VSYNCActiveLow:  true,
		HREFActiveLow:   true,
		PCLKFallingEdge: true,
		Capacity:        16,
		Timeout:         time.Second,
	}
	e := dvptest.Encoder{Opts: opts}
	want := []byte{0x00, 0xFF, 0x55, 0xAA}
	p := &dvptest.Playback{Words: e.Frame(want)}
	d, err := dvp.New(p, &opts)
	if err != nil {
		t.Fatal(err)
	}
	l, err := d.CaptureLine(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(l.Pix, want) {
		t.Fatalf("got %v; want %v", l.Pix, want)
	}
}

func TestCaptureLine_wrongPolarity(t *testing.T) {
	e, p, _ := setup(t, 16, dvp.DefaultSignals)
	p.Words = e.Frame([]byte{1, 2, 3})
	opts := e.Opts
	opts.HREFActiveLow = true
	opts.Timeout = 10 * time.Millisecond
	d, err := dvp.New(p, &opts)
	if err != nil {
		t.Fatal(err)
	}
	// HREF being inverted, the line starts on the trailing blanking and no
	// pixel clock ever comes.
	l, err := d.CaptureLine(context.Background(), nil)
	if !errors.Is(err, dvp.ErrSyncTimeout) {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(err.Error(), dvp.Sampling.String()) {
		t.Fatal(err)
	}
	if len(l.Pix) != 0 {
		t.Fatalf("polarity was ignored: %v", l.Pix)
	}
}

func TestCaptureLine_fullThenStalled(t *testing.T) {
	e := &dvptest.Encoder{Opts: dvp.Opts{Signals: dvp.DefaultSignals, Capacity: 4}}
	p := &dvptest.Playback{}
	d, err := dvp.New(p, &e.Opts)
	if err != nil {
		t.Fatal(err)
	}
	// 4 pixels then the bus stalls with HREF still asserted.
	w := e.Frame([]byte{1, 2, 3, 4})
	p.Words = append(w[:len(w)-1], e.Word(false, true, false, 0))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	start := time.Now()
	l, err := d.CaptureLine(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(l.Pix, []byte{1, 2, 3, 4}) || l.Truncated {
		t.Fatalf("%v truncated=%t", l.Pix, l.Truncated)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("took %s", elapsed)
	}
	if ctx.Err() != nil {
		t.Fatal(ctx.Err())
	}
}

func BenchmarkCaptureLine(b *testing.B) {
	for _, timeout := range []time.Duration{0, time.Second} {
		b.Run(timeout.String(), func(b *testing.B) {
			e := &dvptest.Encoder{Opts: dvp.Opts{Signals: dvp.DefaultSignals, Capacity: 3000, Timeout: timeout}}
			words := e.Frame(dvptest.Ramp(3000))
			i := 0
			port := dvp.PortFunc(func() uint32 {
				w := words[i]
				if i++; i == len(words) {
					i = 0
				}
				return w
			})
			d, err := dvp.New(port, &e.Opts)
			if err != nil {
				b.Fatal(err)
			}
			buf := make([]byte, 0, 3000)
			ctx := context.Background()
			b.ReportAllocs()
			b.ResetTimer()
			for n := 0; n < b.N; n++ {
				l, err := d.CaptureLine(ctx, buf)
				if err != nil || len(l.Pix) != 3000 {
					b.Fatal(len(l.Pix), err)
				}
			}
		})
	}
}

func TestCaptureLine_timeout(t *testing.T) {
	e, p, d := setup(t, 16, dvp.DefaultSignals)
	p.Words = []uint32{e.Idle()}
	l, err := d.CaptureLine(context.Background(), nil)
	if !errors.Is(err, dvp.ErrSyncTimeout) {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(err.Error(), dvp.AwaitFrameStart.String()) {
		t.Fatal(err)
	}
	if len(l.Pix) != 0 {
		t.Fatal(l.Pix)
	}
	if s := d.Stats(); s.SyncTimeouts != 1 || s.LastFail != err {
		t.Fatalf("%+v", s)
	}
}

func TestCaptureLine_timeoutSampling(t *testing.T) {
	e, p, d := setup(t, 16, dvp.DefaultSignals)
	// PCLK stays active after the second byte.
	w := e.Frame([]byte{7, 8, 9})
	p.Words = w[:len(w)-3]
	l, err := d.CaptureLine(context.Background(), nil)
	if !errors.Is(err, dvp.ErrSyncTimeout) {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(err.Error(), dvp.Sampling.String()) {
		t.Fatal(err)
	}
	if !bytes.Equal(l.Pix, []byte{7, 8}) {
		t.Fatal(l.Pix)
	}
}

func TestCaptureLine_canceled(t *testing.T) {
	e := dvptest.Encoder{Opts: dvp.DefaultOpts}
	e.Opts.Timeout = 0
	p := &dvptest.Playback{Words: []uint32{e.Idle()}}
	d, err := dvp.New(p, &e.Opts)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.CaptureLine(ctx, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected error: %v", err)
	}
	if s := d.Stats(); s.Canceled != 1 {
		t.Fatalf("%+v", s)
	}
}

func TestState_String(t *testing.T) {
	if s := dvp.Done.String(); s != "Done" {
		t.Fatal(s)
	}
	if s := dvp.State(42).String(); s != "State(42)" {
		t.Fatal(s)
	}
}

func TestNewFake(t *testing.T) {
	want := dvptest.ColorBars(64)
	d, err := dvptest.NewFake(want, 0)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		l, err := d.CaptureLine(context.Background(), nil)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(l.Pix, want) {
			t.Fatalf("#%d: %v", i, l.Pix)
		}
	}
}

func TestNewFake_capacity(t *testing.T) {
	want := dvptest.ColorBars(4000)
	d, err := dvptest.NewFake(want, 4000)
	if err != nil {
		t.Fatal(err)
	}
	l, err := d.CaptureLine(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(l.Pix, want) || l.Truncated {
		t.Fatalf("%d bytes truncated=%t", len(l.Pix), l.Truncated)
	}

	if d, err = dvptest.NewFake(dvptest.Ramp(10), 4); err != nil {
		t.Fatal(err)
	}
	if l, err = d.CaptureLine(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(l.Pix, []byte{0, 1, 2, 3}) || !l.Truncated {
		t.Fatalf("%v truncated=%t", l.Pix, l.Truncated)
	}
}

//

func setup(t *testing.T, capacity int, s dvp.Signals) (*dvptest.Encoder, *dvptest.Playback, *dvp.Dev) {
	e := &dvptest.Encoder{Opts: dvp.Opts{Signals: s, Capacity: capacity, Timeout: 20 * time.Millisecond}}
	p := &dvptest.Playback{}
	d, err := dvp.New(p, &e.Opts)
	if err != nil {
		t.Fatal(err)
	}
	return e, p, d
}
