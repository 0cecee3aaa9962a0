// Copyright 2023 The go-scope Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package runlog records waveform-acquisition sessions into a MySQL
// database, so that bench captures stay traceable to the instrument,
// channels and settings that produced them.
package runlog // import "github.com/go-scope/mso5000/runlog"

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

var drvName = "mysql"

// DB exposes convenience methods to record and retrieve acquisition
// sessions.
type DB struct {
	db *sql.DB
}

// Open opens a connection to the acquisition-log database described
// by the MySQL dsn.
func Open(dsn string) (*DB, error) {
	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, fmt.Errorf("runlog: could not open db: %w", err)
	}

	err = ping(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("runlog: could not ping db: %w", err)
	}

	return &DB{db: db}, nil
}

func ping(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return db.PingContext(ctx)
}

func (db *DB) Close() error {
	return db.db.Close()
}

// Session describes one waveform acquisition.
type Session struct {
	Serial   string    // instrument serial number
	Product  string    // product family, e.g. MSO5074
	Channels []int     // 0-based channel indices, in query order
	Points   int       // per-channel decoded sample count
	Raw      bool      // full memory-depth capture
	Taken    time.Time // acquisition timestamp
}

// Record inserts one session into the log.
func (db *DB) Record(ctx context.Context, s Session) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := db.db.ExecContext(ctx,
		`INSERT INTO sessions (serial, product, channels, points, rawmode, taken)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		s.Serial, s.Product, channelList(s.Channels), s.Points, s.Raw, s.Taken,
	)
	if err != nil {
		return fmt.Errorf("runlog: could not record session: %w", err)
	}
	return nil
}

// Sessions returns the most recent sessions, newest first.
func (db *DB) Sessions(ctx context.Context, limit int) ([]Session, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := db.db.QueryContext(ctx,
		`SELECT serial, product, channels, points, rawmode, taken
		 FROM sessions ORDER BY taken DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("runlog: could not query sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			s     Session
			chans string
		)
		err = rows.Scan(&s.Serial, &s.Product, &chans, &s.Points, &s.Raw, &s.Taken)
		if err != nil {
			return nil, fmt.Errorf("runlog: could not scan session: %w", err)
		}
		s.Channels, err = parseChannelList(chans)
		if err != nil {
			return nil, fmt.Errorf("runlog: could not decode channel list: %w", err)
		}
		out = append(out, s)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("runlog: could not iterate over sessions: %w", err)
	}

	return out, nil
}

func channelList(chans []int) string {
	toks := make([]string, len(chans))
	for i, ch := range chans {
		toks[i] = strconv.Itoa(ch)
	}
	return strings.Join(toks, ",")
}

func parseChannelList(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	toks := strings.Split(s, ",")
	out := make([]int, len(toks))
	for i, tok := range toks {
		ch, err := strconv.Atoi(tok)
		if err != nil {
			return nil, fmt.Errorf("invalid channel %q: %w", tok, err)
		}
		out[i] = ch
	}
	return out, nil
}
