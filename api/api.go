// Copyright 2017 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package api defines the JSON messages sent to a line collector.
package api

import (
	"time"
)

// PushRequestItem is one captured line.
type PushRequestItem struct {
	Timestamp time.Time
	Pix       []byte // Raw bytes, base64 encoded by encoding/json.
	Truncated bool
}

// PushRequest is POST'ed as application/json to the collector.
type PushRequest struct {
	ID     int64
	Secret []byte
	Items  []PushRequestItem
}

// PushResponse is the collector's reply.
type PushResponse struct {
	Accepted int
	Error    string `json:",omitempty"`
}
