// Copyright 2015 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// ov5640 continuously captures lines, serves them over HTTP and optionally
// pushes them to a collector.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"runtime/pprof"
	"time"

	"github.com/maruel/go-ov5640/dvp"
	"github.com/maruel/go-ov5640/dvp/dvptest"
	"github.com/maruel/go-ov5640/internal/board"
	"github.com/maruel/go-ov5640/internal/config"
	"github.com/maruel/interrupt"

	"periph.io/x/periph/host"
)

// capturer is implemented by *dvp.Dev.
type capturer interface {
	CaptureLine(ctx context.Context, buf []byte) (dvp.Line, error)
	Stats() dvp.Stats
}

// captureLoop captures lines until ctx is canceled.
//
// Each line is sent to out, or dropped if nobody is keeping up. When period
// is non-zero, captures are spaced at least by period.
func captureLoop(ctx context.Context, d capturer, period time.Duration, out chan<- record) {
	defer close(out)
	next := time.Now()
	for ctx.Err() == nil {
		if period != 0 {
			if wait := time.Until(next); wait > 0 {
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return
				}
			}
			next = time.Now().Add(period)
		}
		l, err := d.CaptureLine(ctx, nil)
		if err != nil {
			if errors.Is(err, dvp.ErrSyncTimeout) {
				log.Printf("%s", err)
			}
			continue
		}
		select {
		case out <- record{Line: l, Timestamp: time.Now()}:
		default:
			log.Printf("dropped line")
		}
	}
}

func mainImpl() error {
	cfgPath := flag.String("config", config.DefaultPath(), "board description")
	cpuprofile := flag.String("cpuprofile", "", "dump CPU profile in file")
	port := flag.Int("port", 0, "http port to listen on; overrides the config")
	writeConfig := flag.Bool("writeConfig", false, "write the current config file and exit")
	fake := flag.Bool("fake", false, "use a fake camera producing color bars")
	fps := flag.Float64("fps", 0, "maximum lines per second; 0 means as fast as the sensor; defaults to 30 with -fake")
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
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *writeConfig {
		return cfg.Save(*cfgPath)
	}
	if *fps < 0 {
		return errors.New("-fps must be >= 0")
	}
	if *fake && *fps == 0 {
		*fps = 30
	}

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			return err
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	interrupt.HandleCtrlC()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-interrupt.Channel
		cancel()
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

	go func() {
		if err := watchFile(ctx); err != nil {
			log.Printf("watch: %s", err)
		}
		if ctx.Err() == nil {
			fmt.Printf("\nExecutable changed, exiting\n")
			interrupt.Set()
		}
	}()

	var period time.Duration
	if *fps != 0 {
		period = time.Duration(float64(time.Second) / *fps)
	}
	c := make(chan record, 16)
	go captureLoop(ctx, d, period, c)

	s := StartWebServer(cfg.Server.Port, d.Stats)
	seeder := NewSeeder(cfg.Server.Push)
	var toSeed chan record
	if seeder != nil {
		toSeed = make(chan record, 2*maxBatch)
		go seeder.sendLines(ctx, toSeed)
	}
	done := make(chan struct{})
	go func() {
		// Processing is done in a separate loop to not miss a frame.
		defer close(done)
		for r := range c {
			r = s.AddLine(r.Line, r.Timestamp)
			if toSeed != nil {
				select {
				case toSeed <- r:
				default:
					log.Printf("seeder is too slow; dropped line %d", r.Index)
				}
			}
		}
	}()

	for !interrupt.IsSet() {
		stats := d.Stats()
		fmt.Printf("\r%d lines %d truncated %d timeouts %d bytes", stats.GoodLines, stats.TruncatedLines, stats.SyncTimeouts, stats.Bytes)
		if seeder != nil {
			ss := seeder.Stats()
			fmt.Printf(" %d pushed %d push failures", ss.LinesSent, ss.Failures)
		}
		select {
		case <-time.After(time.Second):
		case <-interrupt.Channel:
		}
	}
	fmt.Print("\n")
	// Wait for the capture to stop before the board is closed.
	cancel()
	<-done
	return nil
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "\nov5640: %s.\n", err)
		os.Exit(1)
	}
}
