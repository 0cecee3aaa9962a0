// Copyright 2023 The go-scope Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mso

import (
	"fmt"
	"strconv"
	"strings"
)

// Waveform type tokens of the :WAV:PRE? preamble.
const (
	wavFmtASCII = 2

	wavTypeNormal = 0
	wavTypeRaw    = 2
)

// Preamble is the 10-field metadata record returned by :WAV:PRE?,
// describing how to scale the waveform transfer that follows.
type Preamble struct {
	Format int // transfer format; always 2 (ASCII) for this driver
	Type   int // 0 NORMAL, 2 RAW
	Points int // declared sample count
	Count  int // number of averaged acquisitions

	XIncrement float64
	XOrigin    float64
	XReference float64
	YIncrement float64
	YOrigin    float64
	YReference float64
}

// Waveform holds one acquisition pass: a shared time axis in seconds
// and one voltage trace per requested channel.
type Waveform struct {
	X []float64         // seconds, shared by all channels
	Y map[int][]float64 // channel index -> volts
}

// QueryWaveform retrieves calibrated traces for the requested
// channels, sequentially, in the given order. The first channel
// establishes the shared time axis.
//
// With raw enabled the acquisition must be stopped first; the trace
// then covers the instrument's full current memory depth instead of
// the configured sample count.
//
// Any malformed instrument reply aborts the whole multi-channel
// acquisition: no partial results are returned and nothing is
// retried.
func (dev *Device) QueryWaveform(chans []int, raw bool) (*Waveform, error) {
	if len(chans) == 0 {
		return nil, validationErrorf("no channels requested")
	}
	for _, ch := range chans {
		if err := dev.checkChannel(ch); err != nil {
			return nil, err
		}
	}

	wav := &Waveform{
		Y: make(map[int][]float64, len(chans)),
	}
	for i, ch := range chans {
		ys, pre, err := dev.fetchChannel(ch, raw)
		if err != nil {
			return nil, err
		}
		switch {
		case i == 0:
			wav.X = timeAxis(pre, len(ys))
		case len(ys) != len(wav.X):
			// every trace shares the time axis established by the
			// first channel.
			return nil, protocolErrorf(
				"channel %d returned %d samples, want %d to match the shared time axis",
				ch, len(ys), len(wav.X),
			)
		}
		wav.Y[ch] = ys
	}
	return wav, nil
}

// fetchChannel runs the per-channel transfer sequence: mode and point
// count, source select, ASCII format, preamble, data block.
func (dev *Device) fetchChannel(ch int, raw bool) ([]float64, Preamble, error) {
	var pre Preamble

	switch {
	case raw:
		mode, err := dev.RunMode()
		if err != nil {
			return nil, pre, err
		}
		if mode != RunStop {
			return nil, pre, protocolErrorf("must stop acquisition before raw capture (run state is %v)", mode)
		}
		depth, err := dev.memoryDepth()
		if err != nil {
			return nil, pre, err
		}
		if err := dev.command(":WAV:MODE RAW"); err != nil {
			return nil, pre, err
		}
		if err := dev.command(fmt.Sprintf(":WAV:POIN %d", depth)); err != nil {
			return nil, pre, err
		}
	default:
		if err := dev.command(":WAV:MODE NORM"); err != nil {
			return nil, pre, err
		}
		if err := dev.command(fmt.Sprintf(":WAV:POIN %d", dev.cfg.points)); err != nil {
			return nil, pre, err
		}
	}

	if err := dev.command(fmt.Sprintf(":WAV:SOUR CHAN%d", ch+1)); err != nil {
		return nil, pre, err
	}
	if err := dev.command(":WAV:FORM ASC"); err != nil {
		return nil, pre, err
	}

	resp, err := dev.query(":WAV:PRE?")
	if err != nil {
		return nil, pre, err
	}
	pre, err = parsePreamble(resp, raw)
	if err != nil {
		return nil, pre, err
	}

	resp, err = dev.query(":WAV:DATA?")
	if err != nil {
		return nil, pre, err
	}
	ys, err := parseDataBlock(resp)
	if err != nil {
		return nil, pre, err
	}

	return ys, pre, nil
}

// memoryDepth returns the instrument's current memory depth in
// samples.
func (dev *Device) memoryDepth() (int, error) {
	resp, err := dev.query(":ACQ:MDEP?")
	if err != nil {
		return 0, err
	}
	depth, err := strconv.ParseFloat(resp, 64)
	if err != nil || depth <= 0 {
		return 0, protocolErrorf("malformed memory depth %q received from device", resp)
	}
	return int(depth), nil
}

// parsePreamble decodes the 10 comma-separated fields of a :WAV:PRE?
// reply and checks them against the requested transfer mode.
func parsePreamble(text string, raw bool) (Preamble, error) {
	var pre Preamble

	fields := strings.Split(text, ",")
	if len(fields) != 10 {
		return pre, protocolErrorf("malformed preamble %q: got %d fields, want 10", text, len(fields))
	}

	ints := make([]int, 4)
	for i, field := range fields[:4] {
		v, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			return pre, protocolErrorf("malformed preamble field #%d %q", i, field)
		}
		ints[i] = v
	}
	pre.Format = ints[0]
	pre.Type = ints[1]
	pre.Points = ints[2]
	pre.Count = ints[3]

	if pre.Format != wavFmtASCII {
		return pre, protocolErrorf("unexpected waveform format %d, want %d (ASCII)", pre.Format, wavFmtASCII)
	}
	want := wavTypeNormal
	if raw {
		want = wavTypeRaw
	}
	if pre.Type != want {
		return pre, protocolErrorf("waveform type %d does not match requested mode (want %d)", pre.Type, want)
	}

	floats := make([]float64, 6)
	for i, field := range fields[4:] {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return pre, protocolErrorf("malformed preamble field #%d %q", i+4, field)
		}
		floats[i] = v
	}
	pre.XIncrement = floats[0]
	pre.XOrigin = floats[1]
	pre.XReference = floats[2]
	pre.YIncrement = floats[3]
	pre.YOrigin = floats[4]
	pre.YReference = floats[5]

	return pre, nil
}

// parseDataBlock decodes a :WAV:DATA? reply: a '#9' marker, a 9-digit
// decimal byte length, then that many bytes of comma-separated ASCII
// samples. The empty token produced by a terminating comma is
// discarded.
func parseDataBlock(text string) ([]float64, error) {
	const hdr = 2 + 9 // '#9' + length digits

	if len(text) < hdr {
		return nil, protocolErrorf("short waveform data block (%d bytes)", len(text))
	}
	if text[0] != '#' || text[1] != '9' {
		return nil, protocolErrorf("malformed waveform data marker %q", text[:2])
	}

	size, err := strconv.Atoi(text[2:hdr])
	if err != nil || size < 0 {
		return nil, protocolErrorf("malformed waveform data length %q", text[2:hdr])
	}
	if len(text) < hdr+size {
		return nil, protocolErrorf("waveform data truncated: got %d payload bytes, want %d", len(text)-hdr, size)
	}

	toks := strings.Split(text[hdr:hdr+size], ",")
	if n := len(toks); n > 0 && toks[n-1] == "" {
		toks = toks[:n-1]
	}

	ys := make([]float64, len(toks))
	for i, tok := range toks {
		v, err := strconv.ParseFloat(strings.TrimSpace(tok), 64)
		if err != nil {
			return nil, protocolErrorf("malformed waveform sample %q", tok)
		}
		ys[i] = v
	}
	return ys, nil
}

// timeAxis reconstructs the time axis for n decoded samples. The
// decoded count is authoritative: some firmwares report a preamble
// point count that disagrees with the data block actually sent.
func timeAxis(pre Preamble, n int) []float64 {
	xs := make([]float64, n)
	for i := range xs {
		xs[i] = pre.XOrigin + float64(i)*pre.XIncrement
	}
	return xs
}
