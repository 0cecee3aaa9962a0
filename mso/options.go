// Copyright 2023 The go-scope Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mso

import (
	"io"
	"os"
	"time"
)

// Option configures an MSO5000 device.
type Option func(cfg *config)

type config struct {
	port    int
	points  int
	timeout time.Duration
	msg     io.Writer
}

func newConfig() config {
	return config{
		port:    5555,
		points:  1000,
		timeout: 10 * time.Second,
		msg:     os.Stdout,
	}
}

// WithPort sets the TCP port of the instrument (default 5555).
func WithPort(port int) Option {
	return func(cfg *config) {
		cfg.port = port
	}
}

// WithPoints sets the per-channel sample count requested in normal
// (non-raw) waveform acquisitions (default 1000).
func WithPoints(points int) Option {
	return func(cfg *config) {
		cfg.points = points
	}
}

// WithTimeout sets the reply-read deadline of the underlying SCPI
// connection (default 10s, 0 disables).
func WithTimeout(timeout time.Duration) Option {
	return func(cfg *config) {
		cfg.timeout = timeout
	}
}

// WithLogOutput redirects the device log messages (default os.Stdout).
func WithLogOutput(w io.Writer) Option {
	return func(cfg *config) {
		cfg.msg = w
	}
}
