// Copyright 2023 The go-scope Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package scpi implements the line-oriented SCPI transport spoken by
// bench instruments over TCP: newline-terminated ASCII commands out,
// newline-terminated ASCII replies back.
package scpi // import "github.com/go-scope/mso5000/scpi"

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// ErrNotConnected is returned when an operation is attempted on a
// connection that was never opened or has already been closed.
var ErrNotConnected = errors.New("scpi: not connected")

// ConnError wraps a transport-level failure (refused, reset or closed
// socket, stalled read).
type ConnError struct {
	Op  string
	Err error
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("scpi: could not %s: %v", e.Op, e.Err)
}

func (e *ConnError) Unwrap() error { return e.Err }

// Option configures an SCPI connection.
type Option func(cfg *config)

type config struct {
	timeout time.Duration
}

func newConfig() config {
	return config{
		timeout: 10 * time.Second,
	}
}

// WithTimeout sets the deadline applied to each reply read.
// A zero duration disables the deadline altogether and a stalled
// instrument blocks the caller forever.
func WithTimeout(timeout time.Duration) Option {
	return func(cfg *config) {
		cfg.timeout = timeout
	}
}

// Conn is a single TCP connection to an instrument. It carries at most
// one outstanding command at a time and is not safe for concurrent use.
type Conn struct {
	sock net.Conn
	r    *bufio.Reader
	cfg  config
}

// Dial connects to the instrument at addr (host:port).
func Dial(addr string, opts ...Option) (*Conn, error) {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	sock, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, &ConnError{Op: fmt.Sprintf("dial %q", addr), Err: err}
	}

	return &Conn{
		sock: sock,
		r:    bufio.NewReader(sock),
		cfg:  cfg,
	}, nil
}

// Send writes text to the instrument, appending the newline terminator.
func (c *Conn) Send(text string) error {
	if c.sock == nil {
		return ErrNotConnected
	}

	if c.cfg.timeout > 0 {
		err := c.sock.SetWriteDeadline(time.Now().Add(c.cfg.timeout))
		if err != nil {
			return &ConnError{Op: "arm write deadline", Err: err}
		}
	}

	_, err := c.sock.Write(append([]byte(text), '\n'))
	if err != nil {
		return &ConnError{Op: fmt.Sprintf("send %q", text), Err: err}
	}
	return nil
}

// ReadReply blocks until a newline-terminated reply has been
// accumulated and returns it with trailing whitespace trimmed.
func (c *Conn) ReadReply() (string, error) {
	if c.sock == nil {
		return "", ErrNotConnected
	}

	if c.cfg.timeout > 0 {
		err := c.sock.SetReadDeadline(time.Now().Add(c.cfg.timeout))
		if err != nil {
			return "", &ConnError{Op: "arm read deadline", Err: err}
		}
	}

	reply, err := c.r.ReadString('\n')
	if err != nil {
		return "", &ConnError{Op: "read reply", Err: err}
	}

	return strings.TrimRight(reply, " \t\r\n"), nil
}

// Close performs an orderly shutdown of the connection and releases
// the socket. It is safe to call multiple times.
func (c *Conn) Close() error {
	if c.sock == nil {
		return nil
	}

	err := c.sock.Close()
	c.sock = nil
	c.r = nil
	if err != nil {
		return &ConnError{Op: "close connection", Err: err}
	}
	return nil
}
