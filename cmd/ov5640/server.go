// Copyright 2015 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html/template"
	"image/png"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/maruel/go-ov5640/dvp"
	"github.com/maruel/go-ov5640/scanline"
	"github.com/maruel/interrupt"
	"github.com/maruel/serve-dir/loghttp"
	"golang.org/x/net/websocket"
)

// record is a captured line as kept by the daemon.
type record struct {
	dvp.Line
	Timestamp time.Time
	Index     int // Sequence number since startup.
}

// lineMeta is sent as JSON along each line on the stream.
type lineMeta struct {
	Index     int
	Timestamp time.Time
	Len       int
	Truncated bool
	Min       uint8
	Max       uint8
}

func (r *record) meta() lineMeta {
	return lineMeta{
		Index:     r.Index,
		Timestamp: r.Timestamp,
		Len:       len(r.Pix),
		Truncated: r.Truncated,
		Min:       scanline.Min(r.Pix),
		Max:       scanline.Max(r.Pix),
	}
}

// WebServer keeps the most recent lines and serves them.
type WebServer struct {
	cond      sync.Cond
	lines     [64]record // ~2 seconds worth of lines at 30fps.
	lastIndex int        // Index of the most recent line.
	count     int        // Number of lines added since startup.
	stats     func() dvp.Stats
}

func newWebServer(stats func() dvp.Stats) *WebServer {
	return &WebServer{
		cond:      *sync.NewCond(&sync.Mutex{}),
		lastIndex: -1,
		stats:     stats,
	}
}

// StartWebServer listens on port in the background.
func StartWebServer(port int, stats func() dvp.Stats) *WebServer {
	w := newWebServer(stats)
	fmt.Printf("Listening on %d\n", port)
	go func() {
		if err := http.ListenAndServe(fmt.Sprintf(":%d", port), w.handler()); err != nil {
			log.Printf("web server: %s", err)
		}
	}()
	go func() {
		<-interrupt.Channel
		w.cond.Broadcast()
	}()
	return w
}

// AddLine appends a line to the ring and wakes up the streams.
func (s *WebServer) AddLine(l dvp.Line, t time.Time) record {
	s.cond.L.Lock()
	defer s.cond.L.Unlock()
	s.lastIndex = (s.lastIndex + 1) % len(s.lines)
	s.lines[s.lastIndex] = record{Line: l, Timestamp: t, Index: s.count}
	s.count++
	s.cond.Broadcast()
	return s.lines[s.lastIndex]
}

// recent returns the lines in the ring, oldest first.
func (s *WebServer) recent() []record {
	s.cond.L.Lock()
	defer s.cond.L.Unlock()
	n := s.count
	if n > len(s.lines) {
		n = len(s.lines)
	}
	out := make([]record, n)
	for i := range out {
		out[i] = s.lines[(s.lastIndex-n+1+i+len(s.lines))%len(s.lines)]
	}
	return out
}

func (s *WebServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.root)
	mux.HandleFunc("/favicon.ico", s.linePNG)
	mux.HandleFunc("/line.png", s.linePNG)
	mux.HandleFunc("/line.txt", s.lineTxt)
	// The websocket is not wrapped in the logging handler as it needs to
	// hijack the connection.
	top := http.NewServeMux()
	top.Handle("/stream", websocket.Handler(s.stream))
	top.Handle("/", &loghttp.Handler{Handler: mux})
	return top
}

var rootTmpl = template.Must(template.New("name").Parse(`<!DOCTYPE html>
<html>
<head>
	<title>go-ov5640</title>
	<style>
		img.large {
			width: 100%;
			height: 256px;
			image-rendering: pixelated;
		}
	</style>
	<script>
	function reload() {
		var lines = document.getElementById("lines");
		setTimeout(function() {
			lines.src = "/line.png?agc=1#" + new Date().getTime();
		}, 500);
	}
	</script>
</head>
<body>
Last lines:<br>
<a href="/line.txt"><img class="large" id="lines" src="/line.png?agc=1" onload="reload()"></a>
<br>
{{.Count}} lines; {{.Stats.GoodLines}} good; {{.Stats.TruncatedLines}} truncated;
{{.Stats.SyncTimeouts}} timeouts; {{.Stats.Bytes}} bytes
{{if .Stats.LastFail}}<br>Last failure: {{.Stats.LastFail}}{{end}}
{{with .Last}}<br>Last line: {{.Len}} bytes, {{.Min}} - {{.Max}}{{if .Truncated}}, truncated{{end}}{{end}}
</body>
</html>`))

func (s *WebServer) root(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	data := struct {
		Count int
		Stats dvp.Stats
		Last  *lineMeta
	}{}
	if s.stats != nil {
		data.Stats = s.stats()
	}
	s.cond.L.Lock()
	data.Count = s.count
	if s.lastIndex != -1 {
		m := s.lines[s.lastIndex].meta()
		data.Last = &m
	}
	s.cond.L.Unlock()
	w.Header().Set("Content-Type", "text/html")
	if err := rootTmpl.Execute(w, data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// linePNG returns the recent lines stacked, the most recent at the bottom.
func (s *WebServer) linePNG(w http.ResponseWriter, r *http.Request) {
	recs := s.recent()
	if len(recs) == 0 {
		http.Error(w, "No line captured yet", http.StatusServiceUnavailable)
		return
	}
	lines := make([][]byte, len(recs))
	for i := range recs {
		lines[i] = recs[i].Pix
	}
	img := scanline.Gray(lines...)
	if r.FormValue("agc") != "" {
		img = scanline.Stretch(img)
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	if err := png.Encode(w, img); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *WebServer) lineTxt(w http.ResponseWriter, r *http.Request) {
	recs := s.recent()
	if len(recs) == 0 {
		http.Error(w, "No line captured yet", http.StatusServiceUnavailable)
		return
	}
	last := &recs[len(recs)-1]
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	m := last.meta()
	fmt.Fprintf(w, "Line %d at %s: %d bytes, truncated=%t, %d - %d\n", m.Index, m.Timestamp.Format(time.RFC3339Nano), m.Len, m.Truncated, m.Min, m.Max)
	scanline.Dump(w, last.Pix)
}

// stream sends the lines as WebSocket frames.
//
// Frame "L" is the base64 encoded raw line, frame "M" its JSON metadata.
// Slow clients skip lines.
func (s *WebServer) stream(ws *websocket.Conn) {
	log.Printf("websocket from %s", ws.Request().RemoteAddr)
	defer ws.Close()
	buf := &bytes.Buffer{}
	s.cond.L.Lock()
	seen := s.count
	for !interrupt.IsSet() {
		if seen == s.count {
			s.cond.Wait()
			continue
		}
		rec := s.lines[s.lastIndex]
		seen = s.count
		// Do the actual I/O without the lock.
		s.cond.L.Unlock()
		err := sendRecord(ws, buf, &rec)
		s.cond.L.Lock()
		if err != nil {
			log.Printf("websocket err: %s", err)
			break
		}
	}
	s.cond.L.Unlock()
}

func sendRecord(ws *websocket.Conn, buf *bytes.Buffer, rec *record) error {
	buf.Reset()
	buf.WriteString("L")
	e := base64.NewEncoder(base64.StdEncoding, buf)
	e.Write(rec.Pix)
	e.Close()
	if _, err := ws.Write(buf.Bytes()); err != nil {
		return err
	}
	buf.Reset()
	buf.WriteString("M")
	if err := json.NewEncoder(buf).Encode(rec.meta()); err != nil {
		return err
	}
	_, err := ws.Write(buf.Bytes())
	return err
}
