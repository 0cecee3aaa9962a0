// Copyright 2023 The go-scope Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mso

import (
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
)

func TestOpenIdentify(t *testing.T) {
	fake := newFakeScope(t, nil)
	defer fake.close()

	dev := fake.open(t)
	defer dev.Close()

	want := Identity{
		Manufacturer: "RIGOL TECHNOLOGIES",
		Product:      "MSO5074",
		Serial:       "MS5A0123456789",
		Version:      "00.01.03",
	}
	if got := dev.Identify(); got != want {
		t.Fatalf("invalid identity:\ngot= %#v\nwant=%#v", got, want)
	}

	caps := dev.Capabilities()
	if caps.NumChannels != 4 {
		t.Fatalf("invalid channel count: got=%d, want=4", caps.NumChannels)
	}
	if !caps.ForceTrigger {
		t.Fatalf("force-trigger should be supported")
	}

	// close is idempotent.
	if err := dev.Close(); err != nil {
		t.Fatalf("could not close: %+v", err)
	}
	if err := dev.Close(); err != nil {
		t.Fatalf("could not re-close: %+v", err)
	}
}

func TestCapabilitiesTimebaseRange(t *testing.T) {
	for _, tc := range []struct {
		product string
		want    [2]float64
	}{
		{"MSO5354", [2]float64{1e-9, 1000}},
		{"MSO5204", [2]float64{2e-9, 1000}},
		{"MSO5074", [2]float64{5e-9, 1000}},
		{"MSO5099", [2]float64{5e-9, 1000}}, // unknown product: family-wide bounds
	} {
		t.Run(tc.product, func(t *testing.T) {
			fake := newFakeScope(t, map[string]string{
				"*IDN?": "RIGOL TECHNOLOGIES," + tc.product + ",MS5A0123456789,00.01.03",
			})
			defer fake.close()

			dev := fake.open(t)
			defer dev.Close()

			if got := dev.Capabilities().TimebaseScale; got != tc.want {
				t.Fatalf("invalid timebase range: got=%v, want=%v", got, tc.want)
			}
		})
	}
}

func TestOpenUnsupportedDevice(t *testing.T) {
	fake := newFakeScope(t, map[string]string{
		"*IDN?": "KEYSIGHT TECHNOLOGIES,MSOX3104T,MY0123456,07.30",
	})
	defer fake.close()

	host, port, err := net.SplitHostPort(fake.lis.Addr().String())
	if err != nil {
		t.Fatalf("could not split addr: %+v", err)
	}
	p, _ := strconv.Atoi(port)

	_, err = Open(host, WithPort(p), WithLogOutput(io.Discard))
	if err == nil {
		t.Fatalf("expected an error")
	}
	var uerr *UnsupportedDeviceError
	if !errors.As(err, &uerr) {
		t.Fatalf("invalid error type: %#v", err)
	}
	if !strings.HasPrefix(uerr.IDN, "KEYSIGHT") {
		t.Fatalf("invalid IDN in error: %q", uerr.IDN)
	}
}

func TestOpenMalformedIdentity(t *testing.T) {
	fake := newFakeScope(t, map[string]string{
		"*IDN?": "RIGOL TECHNOLOGIES,MSO5074,MS5A0123456789",
	})
	defer fake.close()

	host, port, err := net.SplitHostPort(fake.lis.Addr().String())
	if err != nil {
		t.Fatalf("could not split addr: %+v", err)
	}
	p, _ := strconv.Atoi(port)

	_, err = Open(host, WithPort(p), WithLogOutput(io.Discard))
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("invalid error: %+v", err)
	}
}

func TestOpenInvalidOptions(t *testing.T) {
	for _, tc := range []struct {
		name string
		opts []Option
	}{
		{"port-negative", []Option{WithPort(-1)}},
		{"port-overflow", []Option{WithPort(70000)}},
		{"points-zero", []Option{WithPoints(0)}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Open("localhost", tc.opts...)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("invalid error: %+v", err)
			}
		})
	}
}

func TestChannelIndexValidation(t *testing.T) {
	fake := newFakeScope(t, nil)
	defer fake.close()

	dev := fake.open(t)
	defer dev.Close()

	base := len(fake.commands())

	for _, ch := range []int{-1, 4, 17} {
		for name, op := range map[string]func() error{
			"set-enable": func() error { return dev.SetChannelEnable(ch, true) },
			"enabled":    func() error { _, err := dev.ChannelEnabled(ch); return err },
			"set-coup":   func() error { return dev.SetCoupling(ch, CouplingDC) },
			"coup":       func() error { _, err := dev.Coupling(ch); return err },
			"set-probe":  func() error { return dev.SetProbeRatio(ch, 10) },
			"probe":      func() error { _, err := dev.ProbeRatio(ch); return err },
			"set-scale":  func() error { return dev.SetChannelScale(ch, 1) },
			"scale":      func() error { _, err := dev.ChannelScale(ch); return err },
			"waveform":   func() error { _, err := dev.QueryWaveform([]int{ch}, false); return err },
		} {
			err := op()
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("%s(ch=%d): invalid error: %+v", name, ch, err)
			}
		}
	}

	// validation failures must not reach the wire.
	if got := len(fake.commands()); got != base {
		t.Fatalf("validation errors performed I/O: %v", fake.commands()[base:])
	}
}

func TestChannelEnable(t *testing.T) {
	fake := newFakeScope(t, map[string]string{
		":CHAN1:DISP?": "1",
		":CHAN2:DISP?": "0",
		":CHAN3:DISP?": "2",
	})
	defer fake.close()

	dev := fake.open(t)
	defer dev.Close()

	if err := dev.SetChannelEnable(0, true); err != nil {
		t.Fatalf("could not enable channel: %+v", err)
	}
	if err := dev.SetChannelEnable(3, false); err != nil {
		t.Fatalf("could not disable channel: %+v", err)
	}

	on, err := dev.ChannelEnabled(0)
	if err != nil {
		t.Fatalf("could not query channel 0: %+v", err)
	}
	if !on {
		t.Fatalf("channel 0 should be enabled")
	}

	on, err = dev.ChannelEnabled(1)
	if err != nil {
		t.Fatalf("could not query channel 1: %+v", err)
	}
	if on {
		t.Fatalf("channel 1 should be disabled")
	}

	_, err = dev.ChannelEnabled(2)
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("invalid error for bogus reply: %+v", err)
	}

	cmds := fake.commands()
	want := []string{":CHAN1:DISP ON", ":CHAN4:DISP OFF"}
	var got []string
	for _, cmd := range cmds {
		if strings.Contains(cmd, "DISP ") {
			got = append(got, cmd)
		}
	}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("invalid display commands: got=%q, want=%q", got, want)
	}
}

func TestCoupling(t *testing.T) {
	fake := newFakeScope(t, map[string]string{
		":CHAN1:COUP?": "AC",
		":CHAN2:COUP?": "XXX",
	})
	defer fake.close()

	dev := fake.open(t)
	defer dev.Close()

	if err := dev.SetCoupling(0, CouplingGND); err != nil {
		t.Fatalf("could not set coupling: %+v", err)
	}

	err := dev.SetCoupling(0, CouplingMode(42))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("invalid error for bogus mode: %+v", err)
	}

	mode, err := dev.Coupling(0)
	if err != nil {
		t.Fatalf("could not get coupling: %+v", err)
	}
	if mode != CouplingAC {
		t.Fatalf("invalid coupling: got=%v, want=%v", mode, CouplingAC)
	}

	_, err = dev.Coupling(1)
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("invalid error for unknown token: %+v", err)
	}
}

func TestSweepMode(t *testing.T) {
	fake := newFakeScope(t, map[string]string{
		":TRIG:SWE?": "SING",
	})
	defer fake.close()

	dev := fake.open(t)
	defer dev.Close()

	if err := dev.SetSweepMode(SweepNormal); err != nil {
		t.Fatalf("could not set sweep mode: %+v", err)
	}

	mode, err := dev.SweepMode()
	if err != nil {
		t.Fatalf("could not get sweep mode: %+v", err)
	}
	if mode != SweepSingle {
		t.Fatalf("invalid sweep mode: got=%v, want=%v", mode, SweepSingle)
	}

	err = dev.SetSweepMode(SweepMode(99))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("invalid error: %+v", err)
	}

	found := false
	for _, cmd := range fake.commands() {
		if cmd == ":TRIG:SWE NORM" {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing :TRIG:SWE NORM command: %q", fake.commands())
	}
}

func TestTriggerMode(t *testing.T) {
	fake := newFakeScope(t, map[string]string{
		":TRIG:MODE?": "PULS",
	})
	defer fake.close()

	dev := fake.open(t)
	defer dev.Close()

	if err := dev.SetTriggerMode(TriggerSlope); err != nil {
		t.Fatalf("could not set trigger mode: %+v", err)
	}
	if err := dev.ForceTrigger(); err != nil {
		t.Fatalf("could not force trigger: %+v", err)
	}

	mode, err := dev.TriggerMode()
	if err != nil {
		t.Fatalf("could not get trigger mode: %+v", err)
	}
	if mode != TriggerPulse {
		t.Fatalf("invalid trigger mode: got=%v, want=%v", mode, TriggerPulse)
	}

	var (
		slop, tfor bool
	)
	for _, cmd := range fake.commands() {
		switch cmd {
		case ":TRIG:MODE SLOP":
			slop = true
		case ":TFOR":
			tfor = true
		}
	}
	if !slop || !tfor {
		t.Fatalf("missing trigger commands: %q", fake.commands())
	}
}

func TestRunMode(t *testing.T) {
	for _, tc := range []struct {
		reply string
		want  RunMode
		err   bool
	}{
		{"STOP", RunStop, false},
		{"RUN", RunRun, false},
		{"AUTO", RunRun, false}, // folded into RUN
		{"WAIT", RunRun, false}, // folded into RUN
		{"BOGUS", 0, true},
	} {
		t.Run(tc.reply, func(t *testing.T) {
			fake := newFakeScope(t, map[string]string{
				":TRIG:STAT?": tc.reply,
			})
			defer fake.close()

			dev := fake.open(t)
			defer dev.Close()

			mode, err := dev.RunMode()
			if tc.err {
				var perr *ProtocolError
				if !errors.As(err, &perr) {
					t.Fatalf("invalid error: %+v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("could not get run mode: %+v", err)
			}
			if mode != tc.want {
				t.Fatalf("invalid run mode: got=%v, want=%v", mode, tc.want)
			}
		})
	}
}

func TestSetRunMode(t *testing.T) {
	fake := newFakeScope(t, nil)
	defer fake.close()

	dev := fake.open(t)
	defer dev.Close()

	for _, mode := range []RunMode{RunStop, RunRun, RunSingle} {
		if err := dev.SetRunMode(mode); err != nil {
			t.Fatalf("could not set run mode %v: %+v", mode, err)
		}
	}
	err := dev.SetRunMode(RunMode(12))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("invalid error: %+v", err)
	}
	fake.sync(t, dev)

	got := fake.commands()[1 : 1+3] // skip *IDN? and the sync query
	want := []string{":STOP", ":RUN", ":SING"}
	if len(got) != len(want) {
		t.Fatalf("invalid commands: got=%q, want=%q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("invalid commands: got=%q, want=%q", got, want)
		}
	}
}

func TestProbeRatio(t *testing.T) {
	fake := newFakeScope(t, map[string]string{
		":CHAN1:PROB?": "0.01",
		":CHAN2:PROB?": "3",
		":CHAN3:PROB?": "bogus",
	})
	defer fake.close()

	dev := fake.open(t)
	defer dev.Close()

	if err := dev.SetProbeRatio(0, 10); err != nil {
		t.Fatalf("could not set probe ratio: %+v", err)
	}

	err := dev.SetProbeRatio(0, 3)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("invalid error for non-canonical ratio: %+v", err)
	}

	ratio, err := dev.ProbeRatio(0)
	if err != nil {
		t.Fatalf("could not get probe ratio: %+v", err)
	}
	if ratio != 0.01 {
		t.Fatalf("invalid probe ratio: got=%v, want=0.01", ratio)
	}

	// the instrument replying a non-canonical ratio is a protocol
	// violation, not a validation error.
	_, err = dev.ProbeRatio(1)
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("invalid error for non-canonical reply: %+v", err)
	}

	_, err = dev.ProbeRatio(2)
	if !errors.As(err, &perr) {
		t.Fatalf("invalid error for malformed reply: %+v", err)
	}

	found := false
	for _, cmd := range fake.commands() {
		if cmd == ":CHAN1:PROB 10" {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing probe-ratio command: %q", fake.commands())
	}
}

func TestChannelScale(t *testing.T) {
	fake := newFakeScope(t, map[string]string{
		":CHAN1:PROB?": "10",
		":CHAN1:SCAL?": "0.5",
	})
	defer fake.close()

	dev := fake.open(t)
	defer dev.Close()

	// 5 V/div at the tip divided by the x10 probe is 0.5 V/div
	// device-native, which sits on the 1-2-5 ladder.
	if err := dev.SetChannelScale(0, 5); err != nil {
		t.Fatalf("could not set channel scale: %+v", err)
	}

	// 3 V/div gives 0.3 V/div native: not on the ladder.
	err := dev.SetChannelScale(0, 3)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("invalid error for off-ladder scale: %+v", err)
	}

	volts, err := dev.ChannelScale(0)
	if err != nil {
		t.Fatalf("could not get channel scale: %+v", err)
	}
	if volts != 5 {
		t.Fatalf("invalid channel scale: got=%v, want=5", volts)
	}

	found := false
	for _, cmd := range fake.commands() {
		if cmd == ":CHAN1:SCAL 0.5" {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing scale command: %q", fake.commands())
	}
}

func TestTimebaseMode(t *testing.T) {
	fake := newFakeScope(t, map[string]string{
		":TIM:MODE?": "ROLL",
	})
	defer fake.close()

	dev := fake.open(t)
	defer dev.Close()

	if err := dev.SetTimebaseMode(TimebaseXY); err != nil {
		t.Fatalf("could not set timebase mode: %+v", err)
	}

	mode, err := dev.TimebaseMode()
	if err != nil {
		t.Fatalf("could not get timebase mode: %+v", err)
	}
	if mode != TimebaseRoll {
		t.Fatalf("invalid timebase mode: got=%v, want=%v", mode, TimebaseRoll)
	}
}

func TestTimebaseScale(t *testing.T) {
	for _, tc := range []struct {
		name  string
		mode  string // :TIM:MODE? reply
		idn   string
		scale float64
		want  string // expected command, "" for error
	}{
		{"main-ok", "MAIN", fakeIDN, 1e-3, ":TIM:SCAL 0.001"},
		{"main-min", "MAIN", fakeIDN, 5e-9, ":TIM:SCAL 5e-09"},
		{"main-too-fast", "MAIN", fakeIDN, 1e-12, ""},
		{"main-too-slow", "MAIN", fakeIDN, 2000, ""},
		{"xy-ok", "XY", fakeIDN, 0.01, ":TIM:SCAL 0.01"},
		{"roll-ok", "ROLL", fakeIDN, 0.5, ":TIM:SCAL 0.5"},
		{"roll-too-fast", "ROLL", fakeIDN, 0.1, ""},
		{"roll-too-slow", "ROLL", fakeIDN, 2000, ""},
		{
			"unknown-product", "MAIN",
			"RIGOL TECHNOLOGIES,MSO5099,MS5A0123456789,00.01.03",
			1e-3, "",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fake := newFakeScope(t, map[string]string{
				"*IDN?":      tc.idn,
				":TIM:MODE?": tc.mode,
			})
			defer fake.close()

			dev := fake.open(t)
			defer dev.Close()

			err := dev.SetTimebaseScale(tc.scale)
			fake.sync(t, dev)
			if tc.want == "" {
				var verr *ValidationError
				if !errors.As(err, &verr) {
					t.Fatalf("invalid error: %+v", err)
				}
				for _, cmd := range fake.commands() {
					if strings.HasPrefix(cmd, ":TIM:SCAL") {
						t.Fatalf("out-of-range scale reached the wire: %q", cmd)
					}
				}
				return
			}
			if err != nil {
				t.Fatalf("could not set timebase scale: %+v", err)
			}
			found := false
			for _, cmd := range fake.commands() {
				if cmd == tc.want {
					found = true
				}
			}
			if !found {
				t.Fatalf("missing %q command: %q", tc.want, fake.commands())
			}
		})
	}
}

func TestTimebaseScaleQuery(t *testing.T) {
	fake := newFakeScope(t, map[string]string{
		":TIM:SCAL?": "1.000000e-03",
	})
	defer fake.close()

	dev := fake.open(t)
	defer dev.Close()

	scale, err := dev.TimebaseScale()
	if err != nil {
		t.Fatalf("could not get timebase scale: %+v", err)
	}
	if scale != 1e-3 {
		t.Fatalf("invalid timebase scale: got=%v, want=1e-3", scale)
	}
}
