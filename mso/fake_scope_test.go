// Copyright 2023 The go-scope Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mso

import (
	"bufio"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
)

const fakeIDN = "RIGOL TECHNOLOGIES,MSO5074,MS5A0123456789,00.01.03"

// fakeScope is a scripted instrument: it records every line it
// receives and answers queries through a handler function.
type fakeScope struct {
	t   *testing.T
	lis net.Listener

	handler func(line string) (string, bool)

	mu   sync.Mutex
	cmds []string
}

// newFakeScope starts a fake instrument answering from a static
// reply table. *IDN? is answered with fakeIDN unless overridden.
func newFakeScope(t *testing.T, replies map[string]string) *fakeScope {
	return newFakeScopeHandler(t, func(line string) (string, bool) {
		if rep, ok := replies[line]; ok {
			return rep, true
		}
		if line == "*IDN?" {
			return fakeIDN, true
		}
		return "", false
	})
}

func newFakeScopeHandler(t *testing.T, handler func(line string) (string, bool)) *fakeScope {
	t.Helper()

	lis, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("could not listen: %+v", err)
	}

	dev := &fakeScope{t: t, lis: lis, handler: handler}
	go dev.serve()
	return dev
}

func (dev *fakeScope) serve() {
	for {
		conn, err := dev.lis.Accept()
		if err != nil {
			return
		}
		go dev.handle(conn)
	}
}

func (dev *fakeScope) handle(conn net.Conn) {
	defer conn.Close()

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 1024*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		dev.mu.Lock()
		dev.cmds = append(dev.cmds, line)
		dev.mu.Unlock()

		rep, ok := dev.handler(line)
		if !ok {
			continue
		}
		_, err := conn.Write([]byte(rep + "\n"))
		if err != nil {
			return
		}
	}
}

// sync round-trips a query so that every fire-and-forget command sent
// before it is guaranteed to have been recorded.
func (dev *fakeScope) sync(t *testing.T, d *Device) {
	t.Helper()
	if _, err := d.cli.Query("*IDN?"); err != nil {
		t.Fatalf("could not sync with fake scope: %+v", err)
	}
}

// commands returns a snapshot of every line received so far.
func (dev *fakeScope) commands() []string {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	out := make([]string, len(dev.cmds))
	copy(out, dev.cmds)
	return out
}

func (dev *fakeScope) close() {
	_ = dev.lis.Close()
}

// open connects a Device to the fake instrument.
func (dev *fakeScope) open(t *testing.T, opts ...Option) *Device {
	t.Helper()

	host, port, err := net.SplitHostPort(dev.lis.Addr().String())
	if err != nil {
		t.Fatalf("could not split fake-scope addr: %+v", err)
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		t.Fatalf("could not parse fake-scope port: %+v", err)
	}

	opts = append([]Option{WithPort(p), WithLogOutput(io.Discard)}, opts...)
	d, err := Open(host, opts...)
	if err != nil {
		t.Fatalf("could not open device: %+v", err)
	}
	return d
}
