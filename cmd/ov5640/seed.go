// Copyright 2015 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/maruel/go-ov5640/api"
	"github.com/maruel/go-ov5640/internal/config"
)

// maxBatch is the maximum number of lines sent in one request.
const maxBatch = 30

// Seeder pushes captured lines to a collector.
type Seeder struct {
	config config.PushConfig
	url    string
	client *http.Client

	mu    sync.Mutex
	stats SeederStats
}

// SeederStats counts what was pushed.
type SeederStats struct {
	LinesSent int
	HTTPReqs  int
	Failures  int
}

// NewSeeder returns nil when the push configuration is incomplete.
func NewSeeder(cfg config.PushConfig) *Seeder {
	if cfg.ID == 0 || len(cfg.Secret) == 0 || len(cfg.Server) == 0 {
		return nil
	}
	url := cfg.Server
	if !strings.Contains(url, "://") {
		url = "https://" + url
	}
	fmt.Printf("Sending to %s as ID %d\n", cfg.Server, cfg.ID)
	return &Seeder{
		config: cfg,
		url:    strings.TrimSuffix(url, "/") + "/api/ov5640/v1/push",
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *Seeder) Stats() SeederStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// sendLines pushes the lines received on c in batches until ctx is canceled.
func (s *Seeder) sendLines(ctx context.Context, c <-chan record) {
	recs := make([]record, 0, maxBatch)
	for {
		recs = recs[:0]
		// Block for the first one, then take what is already queued.
		select {
		case r := <-c:
			recs = append(recs, r)
		case <-ctx.Done():
			return
		}
		for loop := true; loop && len(recs) < maxBatch; {
			select {
			case r := <-c:
				recs = append(recs, r)
			default:
				loop = false
			}
		}
		err := s.sendBatch(ctx, recs)
		s.mu.Lock()
		s.stats.HTTPReqs++
		if err != nil {
			s.stats.Failures++
		} else {
			s.stats.LinesSent += len(recs)
		}
		s.mu.Unlock()
		if err != nil {
			log.Printf("Failed to push %d lines: %s", len(recs), err)
		}
	}
}

func (s *Seeder) sendBatch(ctx context.Context, recs []record) error {
	req := &api.PushRequest{
		ID:     s.config.ID,
		Secret: []byte(s.config.Secret),
		Items:  make([]api.PushRequestItem, len(recs)),
	}
	for i := range recs {
		req.Items[i] = api.PushRequestItem{
			Timestamp: recs[i].Timestamp.UTC(),
			Pix:       recs[i].Pix,
			Truncated: recs[i].Truncated,
		}
	}
	var w bytes.Buffer
	if err := json.NewEncoder(&w).Encode(req); err != nil {
		return err
	}
	r, err := http.NewRequest("POST", s.url, &w)
	if err != nil {
		return err
	}
	r = r.WithContext(ctx)
	r.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(r)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("collector replied %s", resp.Status)
	}
	out := api.PushResponse{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("invalid reply: %w", err)
	}
	if out.Error != "" {
		return errors.New(out.Error)
	}
	if out.Accepted != len(recs) {
		return fmt.Errorf("collector accepted %d lines out of %d", out.Accepted, len(recs))
	}
	return nil
}
