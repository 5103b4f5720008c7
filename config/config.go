// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml"
)

type StartType int

const (
	// Tells ewm to start a repl in parallel for interacting with it
	START_REPL = StartType(iota)
	// Tells ewm to execute a specific command on startup, normally the
	// Emacs frontend
	START_SINGLE_COMMAND
	// Tells ewm to start without any companion process or repl
	START_NONE
)

func (s StartType) String() string {
	switch s {
	case START_REPL:
		return "repl"
	case START_SINGLE_COMMAND:
		return "command"
	case START_NONE:
		return "none"
	default:
		return "invalid"
	}
}

// ParseStartType maps the config file spelling onto the enum. The empty
// string keeps the default.
func ParseStartType(raw string) (StartType, error) {
	switch raw {
	case "", "repl":
		return START_REPL, nil
	case "command":
		return START_SINGLE_COMMAND, nil
	case "none":
		return START_NONE, nil
	default:
		return START_REPL, fmt.Errorf("unknown start type %q, want repl, command or none", raw)
	}
}

type Config struct {
	// Where the frontend socket gets bound
	SocketPath string `envconfig:"SOCKET_PATH" toml:"socket_path,omitempty"`
	// Log verbosity, one of logrus' level names
	LogLevel string `envconfig:"LOG_LEVEL" toml:"log_level,omitempty"`
	// Layout flushes per second
	TickRate int `envconfig:"TICK_RATE" toml:"tick_rate,omitempty"`
	// Where snapshot PNG files land
	SnapshotDir string `envconfig:"SNAPSHOT_DIR" toml:"snapshot_dir,omitempty"`
	// Outbound frames buffered per frontend connection before the
	// connection is dropped as stuck
	EventBacklog int `envconfig:"EVENT_BACKLOG" toml:"event_backlog,omitempty"`
	// repl, command or none
	StartType string `envconfig:"START_TYPE" toml:"start_type,omitempty"`
	// What command to execute on start. Only matters if StartType is "command"
	StartCommand *string `envconfig:"START_COMMAND" toml:"start_command,omitempty"`
}

// Defaults returns the config used when no file and no environment say
// otherwise. Paths follow the xdg base directories.
func Defaults() Config {
	runtime := xdg.RuntimeDir
	if runtime == "" {
		runtime = os.TempDir()
	}
	shots := xdg.UserDirs.Pictures
	if shots == "" {
		shots = os.TempDir()
	}
	return Config{
		SocketPath:   filepath.Join(runtime, "ewm.sock"),
		LogLevel:     "info",
		TickRate:     60,
		SnapshotDir:  filepath.Join(shots, "ewm"),
		EventBacklog: 256,
		StartType:    "repl",
	}
}

// Load builds the effective config: defaults, then the TOML file, then
// EWM_* environment variables on top. An empty path means search the
// xdg config directories for ewm/config.toml and silently run on
// defaults when there is none; a given path must exist.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	explicit := path != ""
	if !explicit {
		found, err := xdg.SearchConfigFile(filepath.Join("ewm", "config.toml"))
		if err == nil {
			path = found
		}
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if explicit || !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if err := toml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := envconfig.Process("ewm", &cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment overrides: %w", err)
	}

	if _, err := ParseStartType(cfg.StartType); err != nil {
		return nil, err
	}
	if cfg.TickRate < 1 {
		cfg.TickRate = Defaults().TickRate
	}
	if cfg.EventBacklog < 1 {
		cfg.EventBacklog = Defaults().EventBacklog
	}
	return &cfg, nil
}

// Start is the parsed start type. Load already validated it.
func (c *Config) Start() StartType {
	t, _ := ParseStartType(c.StartType)
	return t
}
