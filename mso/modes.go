// Copyright 2023 The go-scope Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mso

import "fmt"

// CouplingMode selects the input coupling of a channel.
type CouplingMode uint8

const (
	CouplingDC CouplingMode = iota
	CouplingAC
	CouplingGND
)

func (m CouplingMode) String() string { return modeString(couplingTokens, m) }

// SweepMode selects the trigger sweep behaviour.
type SweepMode uint8

const (
	SweepAuto SweepMode = iota
	SweepNormal
	SweepSingle
)

func (m SweepMode) String() string { return modeString(sweepTokens, m) }

// TriggerMode selects the trigger engine.
type TriggerMode uint8

const (
	TriggerEdge TriggerMode = iota
	TriggerPulse
	TriggerSlope
)

func (m TriggerMode) String() string { return modeString(triggerTokens, m) }

// TimebaseMode selects the horizontal acquisition mode.
type TimebaseMode uint8

const (
	TimebaseMain TimebaseMode = iota
	TimebaseXY
	TimebaseRoll
)

func (m TimebaseMode) String() string { return modeString(timebaseTokens, m) }

// RunMode is the acquisition run state.
type RunMode uint8

const (
	RunStop RunMode = iota
	RunRun
	RunSingle
)

func (m RunMode) String() string {
	switch m {
	case RunStop:
		return "STOP"
	case RunRun:
		return "RUN"
	case RunSingle:
		return "SINGLE"
	}
	return fmt.Sprintf("RunMode(%d)", uint8(m))
}

// Bidirectional mappings between domain enum values and the literal
// wire tokens the instrument sends and accepts.
var (
	couplingTokens = map[CouplingMode]string{
		CouplingDC:  "DC",
		CouplingAC:  "AC",
		CouplingGND: "GND",
	}

	sweepTokens = map[SweepMode]string{
		SweepAuto:   "AUTO",
		SweepNormal: "NORM",
		SweepSingle: "SING",
	}

	triggerTokens = map[TriggerMode]string{
		TriggerEdge:  "EDGE",
		TriggerPulse: "PULS",
		TriggerSlope: "SLOP",
	}

	timebaseTokens = map[TimebaseMode]string{
		TimebaseMain: "MAIN",
		TimebaseXY:   "XY",
		TimebaseRoll: "ROLL",
	}
)

func modeString[T ~uint8](tokens map[T]string, m T) string {
	tok, ok := tokens[m]
	if !ok {
		return fmt.Sprintf("%T(%d)", m, uint8(m))
	}
	return tok
}

func modeFromToken[T ~uint8](tokens map[T]string, tok string) (T, bool) {
	for mode, t := range tokens {
		if t == tok {
			return mode, true
		}
	}
	return 0, false
}
