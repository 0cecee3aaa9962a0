// Copyright 2023 The go-scope Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command mso-sim serves a simulated MSO5000-series oscilloscope over
// TCP, for exercising clients without bench hardware.
package main // import "github.com/go-scope/mso5000/cmd/mso-sim"

import (
	"flag"
	"log"

	"github.com/go-scope/mso5000/sim"
)

func main() {
	log.SetPrefix("mso-sim: ")
	log.SetFlags(0)

	var (
		addr  = flag.String("addr", ":5555", "listen address")
		idn   = flag.String("idn", "", "override the simulated *IDN? reply")
		depth = flag.Int("depth", 10000, "simulated memory depth, in samples")
	)

	flag.Parse()

	opts := []sim.Option{
		sim.WithMemoryDepth(*depth),
		sim.WithLogger(log.Default()),
	}
	if *idn != "" {
		opts = append(opts, sim.WithIDN(*idn))
	}

	srv, err := sim.New(*addr, opts...)
	if err != nil {
		log.Fatalf("could not create simulator: %+v", err)
	}
	defer srv.Close()

	log.Printf("serving simulated oscilloscope on %q...", srv.Addr())
	err = srv.Serve()
	if err != nil {
		log.Fatalf("could not serve: %+v", err)
	}
}
