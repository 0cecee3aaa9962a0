// Copyright 2023 The go-scope Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config loads the YAML configuration file shared by the mso
// command-line tools.
package config // import "github.com/go-scope/mso5000/internal/config"

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the instrument connection settings of the command-line
// tools. Command-line flags override values loaded from file.
type Config struct {
	Host    string        // instrument host name or IP address
	Port    int           // instrument TCP port
	Points  int           // per-channel sample count for normal captures
	Timeout time.Duration // SCPI reply-read deadline, 0 disables
	RunLog  string        // MySQL DSN of the acquisition log, empty disables
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:    5555,
		Points:  1000,
		Timeout: 10 * time.Second,
	}
}

type fileConfig struct {
	Host    string `yaml:"host"`
	Port    *int   `yaml:"port"`
	Points  *int   `yaml:"points"`
	Timeout string `yaml:"timeout"`
	RunLog  string `yaml:"runlog"`
}

// Load reads the YAML file at path on top of the built-in defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: could not read %q: %w", path, err)
	}

	var fc fileConfig
	err = yaml.Unmarshal(raw, &fc)
	if err != nil {
		return cfg, fmt.Errorf("config: could not parse %q: %w", path, err)
	}

	if fc.Host != "" {
		cfg.Host = fc.Host
	}
	if fc.Port != nil {
		cfg.Port = *fc.Port
	}
	if fc.Points != nil {
		cfg.Points = *fc.Points
	}
	if fc.Timeout != "" {
		timeout, err := time.ParseDuration(fc.Timeout)
		if err != nil {
			return cfg, fmt.Errorf("config: invalid timeout %q: %w", fc.Timeout, err)
		}
		cfg.Timeout = timeout
	}
	if fc.RunLog != "" {
		cfg.RunLog = fc.RunLog
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return cfg, fmt.Errorf("config: invalid port %d", cfg.Port)
	}
	if cfg.Points <= 0 {
		return cfg, fmt.Errorf("config: invalid sample-point count %d", cfg.Points)
	}

	return cfg, nil
}
