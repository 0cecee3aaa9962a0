// Copyright 2023 The go-scope Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sim provides a simulated MSO5000-series oscilloscope
// speaking the SCPI-over-TCP grammar of the real instrument. It is
// used to exercise the driver and the command-line tools without
// hardware on the bench.
package sim // import "github.com/go-scope/mso5000/sim"

import (
	"bufio"
	"fmt"
	"log"
	"math"
	"net"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Option configures a simulated instrument.
type Option func(cfg *config)

type config struct {
	idn   string
	depth int
	msg   *log.Logger
}

func newConfig() config {
	return config{
		idn:   "RIGOL TECHNOLOGIES,MSO5074,SIM0000000001,00.01.03",
		depth: 10000,
		msg:   log.New(os.Stdout, "mso-sim: ", 0),
	}
}

// WithIDN overrides the *IDN? reply.
func WithIDN(idn string) Option {
	return func(cfg *config) {
		cfg.idn = idn
	}
}

// WithMemoryDepth sets the memory depth reported by :ACQ:MDEP?.
func WithMemoryDepth(depth int) Option {
	return func(cfg *config) {
		cfg.depth = depth
	}
}

// WithLogger overrides the server logger.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// Server is a simulated instrument listening on a TCP port. Each
// accepted connection gets its own independent instrument state.
type Server struct {
	lis net.Listener
	cfg config
	msg *log.Logger
}

// New creates a simulated instrument listening on addr.
func New(addr string, opts ...Option) (*Server, error) {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("sim: could not listen on %q: %w", addr, err)
	}

	return &Server{
		lis: lis,
		cfg: cfg,
		msg: cfg.msg,
	}, nil
}

// Addr returns the address the simulator listens on.
func (srv *Server) Addr() string { return srv.lis.Addr().String() }

// Serve accepts and serves connections until Close is called.
func (srv *Server) Serve() error {
	var grp errgroup.Group
	for {
		conn, err := srv.lis.Accept()
		if err != nil {
			_ = grp.Wait()
			return fmt.Errorf("sim: could not accept connection: %w", err)
		}
		grp.Go(func() error {
			srv.handle(conn)
			return nil
		})
	}
}

// Close stops the simulator.
func (srv *Server) Close() error {
	return srv.lis.Close()
}

func (srv *Server) handle(conn net.Conn) {
	defer conn.Close()
	srv.msg.Printf("serving %v...", conn.RemoteAddr())
	defer srv.msg.Printf("serving %v... [done]", conn.RemoteAddr())

	ins := newInstrument(srv.cfg)
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 1024*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		rep, ok := ins.exec(line)
		if !ok {
			continue
		}
		_, err := conn.Write([]byte(rep + "\n"))
		if err != nil {
			srv.msg.Printf("could not reply to %v: %+v", conn.RemoteAddr(), err)
			return
		}
	}
}

type channel struct {
	display  bool
	coupling string
	probe    float64
	scale    float64
}

// instrument is the per-connection state machine of the simulated
// scope.
type instrument struct {
	cfg config

	chans [4]channel

	sweep   string
	trigger string
	tbMode  string
	tbScale float64
	run     string // STOP, AUTO or WAIT

	wavMode   string
	wavPoints int
	wavSource int // 1-based channel
	wavFormat string
}

func newInstrument(cfg config) *instrument {
	ins := &instrument{
		cfg:       cfg,
		sweep:     "AUTO",
		trigger:   "EDGE",
		tbMode:    "MAIN",
		tbScale:   1e-3,
		run:       "AUTO",
		wavMode:   "NORM",
		wavPoints: 1000,
		wavSource: 1,
		wavFormat: "BYTE",
	}
	for i := range ins.chans {
		ins.chans[i] = channel{
			display:  i == 0,
			coupling: "DC",
			probe:    1,
			scale:    0.1,
		}
	}
	return ins
}

// exec runs one SCPI line and returns the reply, if the line is a
// query. Unknown commands are ignored, like the real instrument does.
func (ins *instrument) exec(line string) (string, bool) {
	cmd, arg := line, ""
	if i := strings.IndexByte(line, ' '); i >= 0 {
		cmd, arg = line[:i], strings.TrimSpace(line[i+1:])
	}

	if strings.HasPrefix(cmd, ":CHAN") {
		return ins.execChannel(cmd, arg)
	}

	switch cmd {
	case "*IDN?":
		return ins.cfg.idn, true

	case ":TRIG:SWE":
		ins.sweep = arg
	case ":TRIG:SWE?":
		return ins.sweep, true
	case ":TRIG:MODE":
		ins.trigger = arg
	case ":TRIG:MODE?":
		return ins.trigger, true
	case ":TRIG:STAT?":
		return ins.run, true
	case ":TFOR":
		// trigger force: no observable effect on the simulated state.

	case ":RUN":
		ins.run = "AUTO"
	case ":STOP":
		ins.run = "STOP"
	case ":SING":
		ins.run = "WAIT"

	case ":TIM:MODE":
		ins.tbMode = arg
	case ":TIM:MODE?":
		return ins.tbMode, true
	case ":TIM:SCAL":
		if v, err := strconv.ParseFloat(arg, 64); err == nil {
			ins.tbScale = v
		}
	case ":TIM:SCAL?":
		return strconv.FormatFloat(ins.tbScale, 'e', 6, 64), true

	case ":ACQ:MDEP?":
		return strconv.Itoa(ins.cfg.depth), true

	case ":WAV:MODE":
		ins.wavMode = arg
	case ":WAV:POIN":
		if v, err := strconv.Atoi(arg); err == nil {
			ins.wavPoints = v
		}
	case ":WAV:SOUR":
		if n, err := strconv.Atoi(strings.TrimPrefix(arg, "CHAN")); err == nil {
			ins.wavSource = n
		}
	case ":WAV:FORM":
		ins.wavFormat = arg
	case ":WAV:PRE?":
		return ins.preamble(), true
	case ":WAV:DATA?":
		return ins.data(), true
	}

	return "", false
}

func (ins *instrument) execChannel(cmd, arg string) (string, bool) {
	rest := strings.TrimPrefix(cmd, ":CHAN")
	i := strings.IndexByte(rest, ':')
	if i < 0 {
		return "", false
	}
	n, err := strconv.Atoi(rest[:i])
	if err != nil || n < 1 || n > len(ins.chans) {
		return "", false
	}
	ch := &ins.chans[n-1]

	switch rest[i:] {
	case ":DISP":
		ch.display = arg == "ON"
	case ":DISP?":
		if ch.display {
			return "1", true
		}
		return "0", true
	case ":COUP":
		ch.coupling = arg
	case ":COUP?":
		return ch.coupling, true
	case ":PROB":
		if v, err := strconv.ParseFloat(arg, 64); err == nil {
			ch.probe = v
		}
	case ":PROB?":
		return strconv.FormatFloat(ch.probe, 'e', 6, 64), true
	case ":SCAL":
		if v, err := strconv.ParseFloat(arg, 64); err == nil {
			ch.scale = v
		}
	case ":SCAL?":
		return strconv.FormatFloat(ch.scale, 'e', 6, 64), true
	}

	return "", false
}

func (ins *instrument) points() int {
	if ins.wavMode == "RAW" {
		return ins.cfg.depth
	}
	return ins.wavPoints
}

// preamble emits the 10-field :WAV:PRE? record matching the current
// transfer configuration.
func (ins *instrument) preamble() string {
	wtype := 0
	if ins.wavMode == "RAW" {
		wtype = 2
	}
	n := ins.points()
	xinc := ins.tbScale * 10 / float64(n)
	return fmt.Sprintf("2,%d,%d,1,%e,%e,0,%e,0,0",
		wtype, n, xinc, -ins.tbScale*5, ins.chans[ins.wavSource-1].scale/25,
	)
}

// data emits the length-prefixed ASCII data block of the current
// source: one sine period scaled to the channel's vertical settings,
// with a phase offset per channel so traces stay distinguishable.
func (ins *instrument) data() string {
	var (
		n     = ins.points()
		ch    = ins.chans[ins.wavSource-1]
		amp   = ch.scale * 3
		phase = float64(ins.wavSource-1) * math.Pi / 4
		sb    strings.Builder
	)
	for i := 0; i < n; i++ {
		v := amp * math.Sin(2*math.Pi*float64(i)/float64(n)+phase)
		fmt.Fprintf(&sb, "%e,", v)
	}
	payload := sb.String()
	return fmt.Sprintf("#9%09d%s", len(payload), payload)
}
