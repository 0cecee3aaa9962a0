// Copyright 2023 The go-scope Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command mso-fetch retrieves waveform traces from an MSO5000-series
// oscilloscope and exports them as CSV files or plots.
//
// Channels are given as 1-based arguments, like on the instrument's
// front panel:
//
//	mso-fetch -addr scope.lab -o trace.csv -o trace.png 1 2
//
// With -d the tool acquires a second, background pass after -delay and
// exports the per-channel difference alongside the foreground traces.
// Per-channel statistics (-stat mean, -stat fft) are evaluated on the
// foreground pass and logged.
package main // import "github.com/go-scope/mso5000/cmd/mso-fetch"

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math/cmplx"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-scope/mso5000"
	"github.com/go-scope/mso5000/internal/config"
	"github.com/go-scope/mso5000/mso"
	"github.com/go-scope/mso5000/runlog"
	"go-hep.org/x/hep/hplot"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

type outputs []string

func (o *outputs) String() string { return strings.Join(*o, ",") }

func (o *outputs) Set(v string) error {
	switch ext := filepath.Ext(v); ext {
	case ".csv", ".png", ".svg":
		*o = append(*o, v)
		return nil
	default:
		return fmt.Errorf("unknown output format %q", ext)
	}
}

type statList []string

func (s *statList) String() string { return strings.Join(*s, ",") }

func (s *statList) Set(v string) error {
	switch v {
	case "mean", "fft":
		*s = append(*s, v)
		return nil
	default:
		return fmt.Errorf("unknown statistics %q", v)
	}
}

// chanList collects 1-based channel numbers into 0-based indices.
type chanList []int

func (c *chanList) String() string {
	toks := make([]string, len(*c))
	for i, ch := range *c {
		toks[i] = strconv.Itoa(ch + 1)
	}
	return strings.Join(toks, ",")
}

func (c *chanList) Set(v string) error {
	ch, err := strconv.Atoi(v)
	if err != nil || ch < 1 || ch > 4 {
		return fmt.Errorf("invalid channel number %q", v)
	}
	*c = append(*c, ch-1)
	return nil
}

// job bundles one acquisition run of the tool.
type job struct {
	cfg    config.Config
	chans  []int
	raw    bool
	endis  bool
	diff   bool
	delay  time.Duration
	stats  []string
	noplot map[int]bool
	title  string
	out    outputs
}

func main() {
	log.SetPrefix("mso-fetch: ")
	log.SetFlags(0)

	var (
		cfgFile = flag.String("cfg", "", "path to a YAML configuration file")
		addr    = flag.String("addr", "", "hostname or IP address of the oscilloscope")
		port    = flag.Int("port", 0, "TCP port of the oscilloscope")
		points  = flag.Int("points", 0, "per-channel sample count")
		timeout = flag.Duration("timeout", -1, "SCPI reply-read deadline (0 disables)")
		raw     = flag.Bool("raw", false, "capture the full memory depth (acquisition must be stopped)")
		endis   = flag.Bool("endis", false, "enable the requested channels, disable the others")
		diff    = flag.Bool("d", false, "differential measurement: acquire a background pass after -delay and subtract it")
		delay   = flag.Duration("delay", 10*time.Second, "delay before the background acquisition of -d")
		title   = flag.String("title", "MSO5000", "plot title")
		dsn     = flag.String("runlog", "", "MySQL DSN of the acquisition log")
		version = flag.Bool("version", false, "print version and exit")

		out    outputs
		stats  statList
		noplot chanList
	)
	flag.Var(&out, "o", "output file (.csv, .png or .svg); may be repeated")
	flag.Var(&stats, "stat", "per-channel statistics to evaluate (mean, fft); may be repeated")
	flag.Var(&noplot, "noplot", "exclude a channel from the plot; may be repeated")

	flag.Parse()

	if *version {
		v, sum := mso5000.Version()
		fmt.Printf("mso-fetch %s %s\n", v, sum)
		return
	}

	cfg := config.Default()
	if *cfgFile != "" {
		var err error
		cfg, err = config.Load(*cfgFile)
		if err != nil {
			log.Fatalf("%+v", err)
		}
	}
	if *addr != "" {
		cfg.Host = *addr
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *points != 0 {
		cfg.Points = *points
	}
	if *timeout >= 0 {
		cfg.Timeout = *timeout
	}
	if *dsn != "" {
		cfg.RunLog = *dsn
	}

	if cfg.Host == "" {
		log.Fatalf("missing oscilloscope address (-addr flag or host in -cfg file)")
	}
	if len(out) == 0 {
		log.Fatalf("missing output file (-o flag)")
	}

	chans, err := parseChannels(flag.Args())
	if err != nil {
		log.Fatalf("%+v", err)
	}

	skip := make(map[int]bool, len(noplot))
	for _, ch := range noplot {
		skip[ch] = true
	}

	err = run(job{
		cfg:    cfg,
		chans:  chans,
		raw:    *raw,
		endis:  *endis,
		diff:   *diff,
		delay:  *delay,
		stats:  stats,
		noplot: skip,
		title:  *title,
		out:    out,
	})
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(j job) error {
	dev, err := mso.Open(j.cfg.Host,
		mso.WithPort(j.cfg.Port),
		mso.WithPoints(j.cfg.Points),
		mso.WithTimeout(j.cfg.Timeout),
	)
	if err != nil {
		return fmt.Errorf("could not open oscilloscope: %w", err)
	}
	defer dev.Close()

	if j.endis {
		enabled := make(map[int]bool, len(j.chans))
		for _, ch := range j.chans {
			enabled[ch] = true
		}
		for ch := 0; ch < dev.Capabilities().NumChannels; ch++ {
			err := dev.SetChannelEnable(ch, enabled[ch])
			if err != nil {
				return fmt.Errorf("could not switch channel %d: %w", ch+1, err)
			}
		}
	}

	log.Printf("gathering data for channels %v...", display(j.chans))
	fg, err := dev.QueryWaveform(j.chans, j.raw)
	if err != nil {
		return fmt.Errorf("could not query waveform: %w", err)
	}
	log.Printf("gathering data for channels %v... [done: %d samples]", display(j.chans), len(fg.X))

	var (
		bg   *mso.Waveform
		diff map[int][]float64
	)
	if j.diff {
		log.Printf("sleeping %v before the background acquisition...", j.delay)
		time.Sleep(j.delay)

		log.Printf("gathering background data...")
		bg, err = dev.QueryWaveform(j.chans, j.raw)
		if err != nil {
			return fmt.Errorf("could not query background waveform: %w", err)
		}
		diff, err = subtract(fg, bg, j.chans)
		if err != nil {
			return err
		}
	}

	for _, name := range j.stats {
		for _, ch := range j.chans {
			switch name {
			case "mean":
				log.Printf("channel %d mean: %v V", ch+1, stat.Mean(fg.Y[ch], nil))
			case "fft":
				freq, amp := dominantFrequency(fg.X, fg.Y[ch])
				log.Printf("channel %d dominant frequency: %v Hz (amplitude %v V)", ch+1, freq, amp)
			}
		}
	}

	for _, fname := range j.out {
		switch filepath.Ext(fname) {
		case ".csv":
			err = writeCSV(fname, j.chans, fg, bg, diff)
		case ".png", ".svg":
			err = writePlot(fname, j, fg, bg, diff)
		}
		if err != nil {
			return err
		}
		log.Printf("wrote %s", fname)
	}

	if j.cfg.RunLog != "" {
		err = record(j.cfg.RunLog, dev.Identify(), j.chans, j.raw, fg)
		if err != nil {
			return err
		}
	}

	return nil
}

func parseChannels(args []string) ([]int, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("no channels requested")
	}
	chans := make([]int, 0, len(args))
	for _, arg := range args {
		ch, err := strconv.Atoi(arg)
		if err != nil || ch < 1 || ch > 4 {
			return nil, fmt.Errorf("invalid channel number %q", arg)
		}
		chans = append(chans, ch-1)
	}
	return chans, nil
}

func display(chans []int) []int {
	out := make([]int, len(chans))
	for i, ch := range chans {
		out[i] = ch + 1
	}
	return out
}

// subtract computes the per-channel foreground minus background
// difference. Both passes must have produced the same sample count.
func subtract(fg, bg *mso.Waveform, chans []int) (map[int][]float64, error) {
	if len(bg.X) != len(fg.X) {
		return nil, fmt.Errorf(
			"background acquisition returned %d samples, want %d to match the foreground",
			len(bg.X), len(fg.X),
		)
	}
	diff := make(map[int][]float64, len(chans))
	for _, ch := range chans {
		ys := make([]float64, len(fg.Y[ch]))
		for i := range ys {
			ys[i] = fg.Y[ch][i] - bg.Y[ch][i]
		}
		diff[ch] = ys
	}
	return diff, nil
}

// dominantFrequency returns the strongest non-DC spectral component of
// a uniformly sampled trace, in Hz, with its amplitude in volts.
func dominantFrequency(xs, ys []float64) (freq, amp float64) {
	if len(ys) < 2 {
		return 0, 0
	}
	fft := fourier.NewFFT(len(ys))
	coeffs := fft.Coefficients(nil, ys)

	max := 1 // skip the DC component
	for i := 2; i < len(coeffs); i++ {
		if cmplx.Abs(coeffs[i]) > cmplx.Abs(coeffs[max]) {
			max = i
		}
	}

	dt := xs[1] - xs[0]
	return fft.Freq(max) / dt, 2 * cmplx.Abs(coeffs[max]) / float64(len(ys))
}

func writeCSV(fname string, chans []int, fg, bg *mso.Waveform, diff map[int][]float64) error {
	f, err := os.Create(fname)
	if err != nil {
		return fmt.Errorf("could not create %q: %w", fname, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)

	hdr := []string{"t(s)"}
	for _, ch := range chans {
		hdr = append(hdr, fmt.Sprintf("CH%d(V)", ch+1))
	}
	if diff != nil {
		for _, ch := range chans {
			hdr = append(hdr, fmt.Sprintf("CH%d-bg(V)", ch+1))
		}
		for _, ch := range chans {
			hdr = append(hdr, fmt.Sprintf("CH%d-diff(V)", ch+1))
		}
	}
	err = w.Write(hdr)
	if err != nil {
		return fmt.Errorf("could not write CSV header: %w", err)
	}

	row := make([]string, len(hdr))
	for i, x := range fg.X {
		row = row[:1]
		row[0] = strconv.FormatFloat(x, 'e', -1, 64)
		for _, ch := range chans {
			row = append(row, strconv.FormatFloat(fg.Y[ch][i], 'e', -1, 64))
		}
		if diff != nil {
			for _, ch := range chans {
				row = append(row, strconv.FormatFloat(bg.Y[ch][i], 'e', -1, 64))
			}
			for _, ch := range chans {
				row = append(row, strconv.FormatFloat(diff[ch][i], 'e', -1, 64))
			}
		}
		err = w.Write(row)
		if err != nil {
			return fmt.Errorf("could not write CSV row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("could not flush %q: %w", fname, err)
	}
	return f.Close()
}

func writePlot(fname string, j job, fg, bg *mso.Waveform, diff map[int][]float64) error {
	p := hplot.New()
	p.Title.Text = j.title
	p.X.Label.Text = "t (s)"
	p.Y.Label.Text = "U (V)"
	p.Add(hplot.NewGrid())

	addLine := func(ch int, ys []float64, label string, dashes int) error {
		pts := make(plotter.XYs, len(fg.X))
		for i := range pts {
			pts[i].X = fg.X[i]
			pts[i].Y = ys[i]
		}
		line, err := hplot.NewLine(pts)
		if err != nil {
			return fmt.Errorf("could not create line for %s: %w", label, err)
		}
		line.Color = plotutil.Color(ch)
		line.Dashes = plotutil.Dashes(dashes)
		p.Add(line)
		p.Legend.Add(label, line)
		return nil
	}

	for _, ch := range j.chans {
		if j.noplot[ch] {
			continue
		}
		err := addLine(ch, fg.Y[ch], fmt.Sprintf("CH%d", ch+1), 0)
		if err != nil {
			return err
		}
		if diff != nil {
			err = addLine(ch, bg.Y[ch], fmt.Sprintf("CH%d background", ch+1), 1)
			if err != nil {
				return err
			}
			err = addLine(ch, diff[ch], fmt.Sprintf("CH%d difference", ch+1), 2)
			if err != nil {
				return err
			}
		}
	}

	err := p.Save(25*vg.Centimeter, -1, fname)
	if err != nil {
		return fmt.Errorf("could not save plot %q: %w", fname, err)
	}
	return nil
}

func record(dsn string, id mso.Identity, chans []int, raw bool, wav *mso.Waveform) error {
	db, err := runlog.Open(dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	return db.Record(context.Background(), runlog.Session{
		Serial:   id.Serial,
		Product:  id.Product,
		Channels: chans,
		Points:   len(wav.X),
		Raw:      raw,
		Taken:    time.Now().UTC(),
	})
}
