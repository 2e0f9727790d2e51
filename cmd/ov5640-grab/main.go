// Copyright 2017 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// ov5640-grab brings up the sensor and captures lines.
//
// Without argument, the lines are hex dumped to stdout. With a path, they are
// saved as a grayscale PNG, one row per line.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"image/png"
	"io/ioutil"
	"log"
	"os"

	"github.com/maruel/go-ov5640/dvp"
	"github.com/maruel/go-ov5640/dvp/dvptest"
	"github.com/maruel/go-ov5640/internal/board"
	"github.com/maruel/go-ov5640/internal/config"
	"github.com/maruel/go-ov5640/scanline"
	"github.com/maruel/interrupt"

	"periph.io/x/periph/host"
)

func mainImpl() error {
	cfgPath := flag.String("config", config.DefaultPath(), "board description")
	testPattern := flag.Bool("testpattern", false, "output color bars; overrides the config")
	capacity := flag.Int("capacity", 0, "bytes per line; overrides the config")
	n := flag.Int("n", 1, "number of lines to capture, one per frame")
	agc := flag.Bool("agc", false, "stretch the PNG to the full 8 bits range")
	fake := flag.Bool("fake", false, "use a fake camera producing color bars")
	verbose := flag.Bool("v", false, "verbose mode")
	flag.Parse()
	if !*verbose {
		log.SetOutput(ioutil.Discard)
	}
	log.SetFlags(log.Lmicroseconds)

	if flag.NArg() > 1 {
		return fmt.Errorf("unexpected argument: %s", flag.Args()[1:])
	}
	if *n < 1 {
		return errors.New("-n must be at least 1")
	}
	cfg, err := config.LoadOrDefault(*cfgPath)
	if err != nil {
		return err
	}
	if *testPattern {
		cfg.Sensor.TestPattern = true
	}
	if *capacity != 0 {
		cfg.Capture.Capacity = *capacity
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	interrupt.HandleCtrlC()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-interrupt.Channel:
			cancel()
		case <-ctx.Done():
		}
	}()

	var d *dvp.Dev
	if *fake {
		if d, err = dvptest.NewFake(dvptest.ColorBars(cfg.Capture.Capacity), cfg.Capture.Capacity); err != nil {
			return err
		}
	} else {
		if _, err := host.Init(); err != nil {
			return err
		}
		b, err := board.Open(cfg)
		if err != nil {
			return fmt.Errorf("%w\nIf testing without hardware, use -fake to simulate a camera", err)
		}
		defer b.Close()
		d = b.Capture
	}
	log.Printf("capturing on %s", d)

	lines := make([][]byte, 0, *n)
	for i := 0; i < *n; i++ {
		l, err := d.CaptureLine(ctx, nil)
		if err != nil {
			return fmt.Errorf("line %d: %w", i, err)
		}
		if l.Truncated {
			log.Printf("line %d truncated at %d bytes", i, len(l.Pix))
		}
		lines = append(lines, l.Pix)
	}

	if flag.NArg() == 0 {
		for i, l := range lines {
			fmt.Printf("Line %d: %d bytes\n", i, len(l))
			if err := scanline.Dump(os.Stdout, l); err != nil {
				return err
			}
		}
		return nil
	}
	img := scanline.Gray(lines...)
	if *agc {
		img = scanline.Stretch(img)
	}
	return writePNG(flag.Arg(0), img)
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "\nov5640-grab: %s.\n", err)
		os.Exit(1)
	}
}
