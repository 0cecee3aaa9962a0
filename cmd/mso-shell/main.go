// Copyright 2023 The go-scope Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command mso-shell is an interactive SCPI console for MSO5000-series
// oscilloscopes.
//
// Lines ending with '?' are sent as queries and their reply printed,
// other lines are sent as plain commands:
//
//	mso> *IDN?
//	RIGOL TECHNOLOGIES,MSO5074,MS5A0123456789,00.01.03
//	mso> :STOP
package main // import "github.com/go-scope/mso5000/cmd/mso-shell"

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-scope/mso5000/scpi"
	"github.com/peterh/liner"
)

func main() {
	log.SetPrefix("mso-shell: ")
	log.SetFlags(0)

	var (
		addr    = flag.String("addr", "", "hostname or IP address of the oscilloscope")
		port    = flag.Int("port", 5555, "TCP port of the oscilloscope")
		timeout = flag.Duration("timeout", 10*time.Second, "SCPI reply-read deadline (0 disables)")
	)

	flag.Parse()

	if *addr == "" {
		log.Fatalf("missing oscilloscope address (-addr flag)")
	}

	err := run(net.JoinHostPort(*addr, strconv.Itoa(*port)), *timeout)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(addr string, timeout time.Duration) error {
	conn, err := scpi.Dial(addr, scpi.WithTimeout(timeout))
	if err != nil {
		return fmt.Errorf("could not connect to %q: %w", addr, err)
	}
	cli := scpi.NewClient(conn)
	defer cli.Close()

	term := liner.NewLiner()
	defer term.Close()
	term.SetCtrlCAborts(true)

	history := filepath.Join(os.TempDir(), ".mso-shell.history")
	if f, err := os.Open(history); err == nil {
		_, _ = term.ReadHistory(f)
		f.Close()
	}
	defer func() {
		f, err := os.Create(history)
		if err != nil {
			log.Printf("could not save history: %+v", err)
			return
		}
		defer f.Close()
		_, _ = term.WriteHistory(f)
	}()

	for {
		line, err := term.Prompt("mso> ")
		switch err {
		case nil:
			// ok
		case io.EOF, liner.ErrPromptAborted:
			fmt.Println()
			return nil
		default:
			return fmt.Errorf("could not read line: %w", err)
		}

		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "quit", "exit":
			return nil
		}
		term.AppendHistory(line)

		switch {
		case strings.HasSuffix(line, "?"):
			reply, err := cli.Query(line)
			if err != nil {
				log.Printf("could not query %q: %+v", line, err)
				continue
			}
			fmt.Println(reply)
		default:
			err = cli.Command(line)
			if err != nil {
				log.Printf("could not send %q: %+v", line, err)
			}
		}
	}
}
