// Copyright 2023 The go-scope Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mso provides a driver for Rigol MSO5000-series oscilloscopes
// over their SCPI-over-TCP remote-control interface.
package mso // import "github.com/go-scope/mso5000/mso"

// Identity holds the four comma-separated fields of the instrument's
// *IDN? reply. It is parsed once at connect time and is immutable for
// the lifetime of the session.
type Identity struct {
	Manufacturer string
	Product      string
	Serial       string
	Version      string
}

// Capabilities describes the feature set a scope driver declares at
// construction time: the enum subsets and numeric ranges its setters
// accept before any command hits the wire.
type Capabilities struct {
	NumChannels   int
	SweepModes    []SweepMode
	TriggerModes  []TriggerMode
	TimebaseModes []TimebaseMode
	RunModes      []RunMode
	TimebaseScale [2]float64 // min,max seconds/division across all modes
	ForceTrigger  bool
}

// Oscilloscope is the capability surface shared by scope drivers.
type Oscilloscope interface {
	Identify() Identity
	Capabilities() Capabilities

	SetChannelEnable(ch int, on bool) error
	ChannelEnabled(ch int) (bool, error)
	SetCoupling(ch int, mode CouplingMode) error
	Coupling(ch int) (CouplingMode, error)
	SetProbeRatio(ch int, ratio float64) error
	ProbeRatio(ch int) (float64, error)
	SetChannelScale(ch int, volts float64) error
	ChannelScale(ch int) (float64, error)

	SetSweepMode(mode SweepMode) error
	SweepMode() (SweepMode, error)
	SetTriggerMode(mode TriggerMode) error
	TriggerMode() (TriggerMode, error)
	ForceTrigger() error
	SetRunMode(mode RunMode) error
	RunMode() (RunMode, error)

	SetTimebaseMode(mode TimebaseMode) error
	TimebaseMode() (TimebaseMode, error)
	SetTimebaseScale(secs float64) error
	TimebaseScale() (float64, error)

	QueryWaveform(chans []int, raw bool) (*Waveform, error)

	Close() error
}

var _ Oscilloscope = (*Device)(nil)
