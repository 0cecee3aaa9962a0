// Copyright 2023 The go-scope Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mso

import (
	"fmt"
	"log"
	"math"
	"net"
	"strconv"
	"strings"

	"github.com/go-scope/mso5000/scpi"
)

const (
	numChannels = 4

	// idnPrefix gates the *IDN? reply at connect time.
	idnPrefix = "RIGOL TECHNOLOGIES,MSO50"
)

// probeRatios is the canonical set of attenuation factors the
// instrument accepts for :CHANn:PROB.
var probeRatios = []float64{
	0.0001, 0.0002, 0.0005,
	0.001, 0.002, 0.005,
	0.01, 0.02, 0.05,
	0.1, 0.2, 0.5,
	1, 2, 5,
	10, 20, 50,
	100, 200, 500,
	1000, 2000, 5000,
	10000, 20000, 50000,
}

// scaleLadder is the 1-2-5 decade ladder of device-native vertical
// scales, in volts/division at probe ratio 1.
var scaleLadder = []float64{
	500e-6, 1e-3, 2e-3, 5e-3, 10e-3, 20e-3, 50e-3,
	100e-3, 200e-3, 500e-3, 1, 2, 5, 10,
}

// timebaseLimits maps the product family to its valid
// seconds/division range in MAIN and XY modes.
var timebaseLimits = map[string][2]float64{
	"MSO5354": {1e-9, 1000},
	"MSO5204": {2e-9, 1000},
	"MSO5102": {5e-9, 1000},
	"MSO5104": {5e-9, 1000},
	"MSO5072": {5e-9, 1000},
	"MSO5074": {5e-9, 1000},
}

// Roll mode has its own fixed scale range, independent of the model.
const (
	rollScaleMin = 200e-3
	rollScaleMax = 1000.0
)

// Device drives one MSO5000-series oscilloscope over a single SCPI
// connection. It is not safe for concurrent use: callers must
// serialize access, e.g. with one mutex per instrument.
type Device struct {
	msg *log.Logger
	cli *scpi.Client
	cfg config
	id  Identity

	// last-known probe ratios, one per channel. The instrument is
	// authoritative: code that needs the ratio for a computation
	// re-queries it instead of trusting this cache.
	probes [numChannels]float64
}

// Open connects to the instrument at host, verifies its identity and
// returns a ready-to-use device.
//
// The caller owns the returned device and must arrange for Close to
// run on every exit path.
func Open(host string, opts ...Option) (*Device, error) {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.port <= 0 || cfg.port > 65535 {
		return nil, validationErrorf("invalid port %d", cfg.port)
	}
	if cfg.points <= 0 {
		return nil, validationErrorf("invalid sample-point count %d", cfg.points)
	}

	addr := net.JoinHostPort(host, strconv.Itoa(cfg.port))
	conn, err := scpi.Dial(addr, scpi.WithTimeout(cfg.timeout))
	if err != nil {
		return nil, fmt.Errorf("mso: could not connect to %q: %w", addr, err)
	}

	dev := &Device{
		msg: log.New(cfg.msg, "mso: ", 0),
		cli: scpi.NewClient(conn),
		cfg: cfg,
	}
	for i := range dev.probes {
		dev.probes[i] = 1
	}

	err = dev.identify()
	if err != nil {
		_ = dev.cli.Close()
		return nil, err
	}

	return dev, nil
}

func (dev *Device) identify() error {
	idn, err := dev.cli.Query("*IDN?")
	if err != nil {
		return fmt.Errorf("mso: could not query device identity: %w", err)
	}

	if !strings.HasPrefix(idn, idnPrefix) {
		return &UnsupportedDeviceError{IDN: idn}
	}

	parts := strings.Split(idn, ",")
	if len(parts) != 4 {
		return protocolErrorf("malformed identity %q: got %d fields, want 4", idn, len(parts))
	}

	dev.id = Identity{
		Manufacturer: parts[0],
		Product:      parts[1],
		Serial:       parts[2],
		Version:      parts[3],
	}
	dev.msg.Printf("connected to %s %s (serial=%s, firmware=%s)",
		dev.id.Manufacturer, dev.id.Product, dev.id.Serial, dev.id.Version,
	)
	return nil
}

// Identify returns the identity parsed at connect time.
func (dev *Device) Identify() Identity { return dev.id }

// Capabilities reports the enum subsets and ranges this driver
// declares for the connected instrument. The timebase range follows
// the product family, so the declared bounds match what
// SetTimebaseScale accepts.
func (dev *Device) Capabilities() Capabilities {
	scale, ok := timebaseLimits[dev.id.Product]
	if !ok {
		// family-wide bounds for products not in the table.
		scale = [2]float64{5e-9, 1000}
	}
	return Capabilities{
		NumChannels:   numChannels,
		SweepModes:    []SweepMode{SweepAuto, SweepNormal, SweepSingle},
		TriggerModes:  []TriggerMode{TriggerEdge, TriggerPulse, TriggerSlope},
		TimebaseModes: []TimebaseMode{TimebaseMain, TimebaseXY, TimebaseRoll},
		RunModes:      []RunMode{RunStop, RunRun, RunSingle},
		TimebaseScale: scale,
		ForceTrigger:  true,
	}
}

// Close quiesces the instrument and releases the connection. The
// MSO5000 needs no shutdown command, so quiescing amounts to refusing
// further I/O. Safe to call multiple times.
func (dev *Device) Close() error {
	return dev.cli.Close()
}

func (dev *Device) command(cmd string) error {
	return dev.cli.Command(cmd)
}

func (dev *Device) query(cmd string) (string, error) {
	return dev.cli.Query(cmd)
}

func (dev *Device) checkChannel(ch int) error {
	if ch < 0 || ch >= numChannels {
		return validationErrorf("channel index %d out of range [0, %d]", ch, numChannels-1)
	}
	return nil
}

// SetChannelEnable switches the display of channel ch on or off.
func (dev *Device) SetChannelEnable(ch int, on bool) error {
	if err := dev.checkChannel(ch); err != nil {
		return err
	}
	state := "OFF"
	if on {
		state = "ON"
	}
	return dev.command(fmt.Sprintf(":CHAN%d:DISP %s", ch+1, state))
}

// ChannelEnabled reports whether channel ch is displayed.
func (dev *Device) ChannelEnabled(ch int) (bool, error) {
	if err := dev.checkChannel(ch); err != nil {
		return false, err
	}
	resp, err := dev.query(fmt.Sprintf(":CHAN%d:DISP?", ch+1))
	if err != nil {
		return false, err
	}
	switch resp {
	case "1":
		return true, nil
	case "0":
		return false, nil
	}
	return false, protocolErrorf("unknown enabled state %q for channel %d", resp, ch)
}

// SetCoupling sets the input coupling of channel ch.
func (dev *Device) SetCoupling(ch int, mode CouplingMode) error {
	if err := dev.checkChannel(ch); err != nil {
		return err
	}
	tok, ok := couplingTokens[mode]
	if !ok {
		return validationErrorf("unsupported coupling mode %v", mode)
	}
	return dev.command(fmt.Sprintf(":CHAN%d:COUP %s", ch+1, tok))
}

// Coupling returns the input coupling of channel ch.
func (dev *Device) Coupling(ch int) (CouplingMode, error) {
	if err := dev.checkChannel(ch); err != nil {
		return 0, err
	}
	resp, err := dev.query(fmt.Sprintf(":CHAN%d:COUP?", ch+1))
	if err != nil {
		return 0, err
	}
	mode, ok := modeFromToken(couplingTokens, resp)
	if !ok {
		return 0, protocolErrorf("unknown coupling mode %q received from device", resp)
	}
	return mode, nil
}

// SetProbeRatio sets the probe attenuation factor of channel ch.
// The ratio must be one of the canonical values the instrument
// supports. Both the instrument and the local last-known cache are
// updated.
func (dev *Device) SetProbeRatio(ch int, ratio float64) error {
	if err := dev.checkChannel(ch); err != nil {
		return err
	}
	if !canonicalRatio(ratio) {
		return validationErrorf("probe ratio %v is not supported by this device", ratio)
	}
	err := dev.command(fmt.Sprintf(":CHAN%d:PROB %s", ch+1, formatFloat(ratio)))
	if err != nil {
		return err
	}
	dev.probes[ch] = ratio
	return nil
}

// ProbeRatio re-queries the probe attenuation factor of channel ch
// from the instrument and refreshes the local cache.
func (dev *Device) ProbeRatio(ch int) (float64, error) {
	if err := dev.checkChannel(ch); err != nil {
		return 0, err
	}
	resp, err := dev.query(fmt.Sprintf(":CHAN%d:PROB?", ch+1))
	if err != nil {
		return 0, err
	}
	ratio, err := strconv.ParseFloat(resp, 64)
	if err != nil {
		return 0, protocolErrorf("malformed probe ratio %q received from device", resp)
	}
	if !canonicalRatio(ratio) {
		return 0, protocolErrorf("received unsupported probe ratio %v", ratio)
	}
	dev.probes[ch] = ratio
	return ratio, nil
}

// SetChannelScale sets the vertical scale of channel ch, in real
// volts/division at the probe tip. The device-native scale (volts
// divided by the current probe ratio) must sit on the instrument's
// 1-2-5 ladder.
func (dev *Device) SetChannelScale(ch int, volts float64) error {
	if err := dev.checkChannel(ch); err != nil {
		return err
	}
	ratio, err := dev.ProbeRatio(ch)
	if err != nil {
		return err
	}
	native, ok := snapScale(volts / ratio)
	if !ok {
		return validationErrorf(
			"channel scale %v V/div (native %v V/div at ratio %v) is not on the 1-2-5 ladder",
			volts, volts/ratio, ratio,
		)
	}
	return dev.command(fmt.Sprintf(":CHAN%d:SCAL %s", ch+1, formatFloat(native)))
}

// ChannelScale returns the vertical scale of channel ch in real
// volts/division: the device-native value scaled by the current probe
// ratio.
func (dev *Device) ChannelScale(ch int) (float64, error) {
	if err := dev.checkChannel(ch); err != nil {
		return 0, err
	}
	ratio, err := dev.ProbeRatio(ch)
	if err != nil {
		return 0, err
	}
	resp, err := dev.query(fmt.Sprintf(":CHAN%d:SCAL?", ch+1))
	if err != nil {
		return 0, err
	}
	native, err := strconv.ParseFloat(resp, 64)
	if err != nil {
		return 0, protocolErrorf("malformed channel scale %q received from device", resp)
	}
	return native * ratio, nil
}

// SetSweepMode sets the trigger sweep mode.
func (dev *Device) SetSweepMode(mode SweepMode) error {
	tok, ok := sweepTokens[mode]
	if !ok {
		return validationErrorf("unsupported sweep mode %v", mode)
	}
	return dev.command(":TRIG:SWE " + tok)
}

// SweepMode returns the trigger sweep mode.
func (dev *Device) SweepMode() (SweepMode, error) {
	resp, err := dev.query(":TRIG:SWE?")
	if err != nil {
		return 0, err
	}
	mode, ok := modeFromToken(sweepTokens, resp)
	if !ok {
		return 0, protocolErrorf("unknown sweep mode %q received from device", resp)
	}
	return mode, nil
}

// SetTriggerMode sets the trigger engine.
func (dev *Device) SetTriggerMode(mode TriggerMode) error {
	tok, ok := triggerTokens[mode]
	if !ok {
		return validationErrorf("unsupported trigger mode %v", mode)
	}
	return dev.command(":TRIG:MODE " + tok)
}

// TriggerMode returns the trigger engine.
func (dev *Device) TriggerMode() (TriggerMode, error) {
	resp, err := dev.query(":TRIG:MODE?")
	if err != nil {
		return 0, err
	}
	mode, ok := modeFromToken(triggerTokens, resp)
	if !ok {
		return 0, protocolErrorf("unknown trigger mode %q received from device", resp)
	}
	return mode, nil
}

// ForceTrigger forces a trigger event, regardless of the trigger
// condition.
func (dev *Device) ForceTrigger() error {
	return dev.command(":TFOR")
}

// SetRunMode starts, stops or single-shots the acquisition.
func (dev *Device) SetRunMode(mode RunMode) error {
	switch mode {
	case RunStop:
		return dev.command(":STOP")
	case RunRun:
		return dev.command(":RUN")
	case RunSingle:
		return dev.command(":SING")
	}
	return validationErrorf("unsupported run mode %v", mode)
}

// RunMode returns the acquisition run state. The instrument-level
// AUTO and WAIT trigger states both fold into RunRun: the driver does
// not expose them as distinct values.
func (dev *Device) RunMode() (RunMode, error) {
	resp, err := dev.query(":TRIG:STAT?")
	if err != nil {
		return 0, err
	}
	switch resp {
	case "STOP":
		return RunStop, nil
	case "RUN", "AUTO", "WAIT":
		return RunRun, nil
	}
	return 0, protocolErrorf("unknown trigger status %q received from device", resp)
}

// SetTimebaseMode sets the horizontal acquisition mode.
func (dev *Device) SetTimebaseMode(mode TimebaseMode) error {
	tok, ok := timebaseTokens[mode]
	if !ok {
		return validationErrorf("unsupported timebase mode %v", mode)
	}
	return dev.command(":TIM:MODE " + tok)
}

// TimebaseMode returns the horizontal acquisition mode.
func (dev *Device) TimebaseMode() (TimebaseMode, error) {
	resp, err := dev.query(":TIM:MODE?")
	if err != nil {
		return 0, err
	}
	mode, ok := modeFromToken(timebaseTokens, resp)
	if !ok {
		return 0, protocolErrorf("unknown timebase mode %q received from device", resp)
	}
	return mode, nil
}

// SetTimebaseScale sets the horizontal scale in seconds/division.
// The valid range depends on the current timebase mode: roll mode
// accepts a fixed range, the other modes a product-family dependent
// one.
func (dev *Device) SetTimebaseScale(scale float64) error {
	mode, err := dev.TimebaseMode()
	if err != nil {
		return err
	}

	switch mode {
	case TimebaseRoll:
		if scale < rollScaleMin || scale > rollScaleMax {
			return validationErrorf(
				"timebase scale %v s/div out of roll-mode range [%v, %v]",
				scale, rollScaleMin, rollScaleMax,
			)
		}
	default:
		lim, ok := timebaseLimits[dev.id.Product]
		if !ok {
			return validationErrorf("could not validate timebase scale for unknown product %q", dev.id.Product)
		}
		if scale < lim[0] || scale > lim[1] {
			return validationErrorf(
				"timebase scale %v s/div out of range [%v, %v] for %s",
				scale, lim[0], lim[1], dev.id.Product,
			)
		}
	}

	return dev.command(":TIM:SCAL " + formatFloat(scale))
}

// TimebaseScale returns the horizontal scale in seconds/division.
func (dev *Device) TimebaseScale() (float64, error) {
	resp, err := dev.query(":TIM:SCAL?")
	if err != nil {
		return 0, err
	}
	scale, err := strconv.ParseFloat(resp, 64)
	if err != nil {
		return 0, protocolErrorf("malformed timebase scale %q received from device", resp)
	}
	return scale, nil
}

func canonicalRatio(ratio float64) bool {
	for _, v := range probeRatios {
		if floatEq(ratio, v) {
			return true
		}
	}
	return false
}

// snapScale maps v onto the nearest point of the 1-2-5 ladder, within
// floating-point tolerance. It reports false when v is not on the
// ladder at all.
func snapScale(v float64) (float64, bool) {
	for _, s := range scaleLadder {
		if floatEq(v, s) {
			return s, true
		}
	}
	return 0, false
}

func floatEq(a, b float64) bool {
	return math.Abs(a-b) <= 1e-6*math.Max(math.Abs(a), math.Abs(b))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
