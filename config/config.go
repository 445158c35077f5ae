// Copyright 2023 Kami
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads reactord's TOML configuration and, optionally,
// watches it for changes so an operator can adjust the log level
// without a restart.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is reactord's full set of operator-tunable knobs. Every field
// has a zero-value-safe default applied by Default/Load so a minimal
// TOML file only needs to set what it wants to override.
type Config struct {
	// Addr is the listen address, e.g. "0.0.0.0:9000".
	Addr string `toml:"addr"`
	// Workers is the number of worker event loops; 0 keeps everything
	// on the base loop.
	Workers int `toml:"workers"`
	// ReusePort enables SO_REUSEPORT on the listening socket.
	ReusePort bool `toml:"reuse_port"`

	// LogLevel is one of trace, debug, info, warn, error, fatal.
	LogLevel string `toml:"log_level"`
	// LogDir is where LogFile writes its rolling log files.
	LogDir string `toml:"log_dir"`
	// LogRollSizeMB rolls the log file once it exceeds this size.
	LogRollSizeMB int `toml:"log_roll_size_mb"`
	// LogFlushIntervalSeconds is how often LogFile flushes its buffered
	// writes (checked every checkEveryN appends). AsyncLog's own
	// backend wake-up interval is fixed at 3s.
	LogFlushIntervalSeconds int `toml:"log_flush_interval_seconds"`

	// TimerMinIntervalMicros is a timer re-arm floor in microseconds.
	// It is decoded but not consulted: the timer package always uses
	// its built-in 100µs floor.
	TimerMinIntervalMicros int64 `toml:"timer_min_interval_micros"`

	// HighWaterMarkMB is an output-buffer high-water threshold in MiB
	// (see HighWaterMarkBytes). reactord does not apply it; connections
	// keep TcpConnection's built-in 64 MiB default.
	HighWaterMarkMB int `toml:"high_water_mark_mb"`
	// ConnArena enables the optional per-connection scratch arena.
	ConnArena bool `toml:"conn_arena"`

	// DBDSN, when non-empty, makes reactord open a dbpool/mysql.Pool
	// alongside the TCP server. Empty disables the DB pool entirely.
	DBDSN            string `toml:"db_dsn"`
	DBMinSize        int    `toml:"db_min_size"`
	DBMaxSize        int    `toml:"db_max_size"`
	DBMaxIdleSeconds int    `toml:"db_max_idle_seconds"`
}

// Default returns a Config with every field set to reactord's built-in
// defaults.
func Default() Config {
	return Config{
		Addr:                    "0.0.0.0:9000",
		Workers:                 0,
		ReusePort:               false,
		LogLevel:                "info",
		LogDir:                  "./log",
		LogRollSizeMB:           512,
		LogFlushIntervalSeconds: 3,
		TimerMinIntervalMicros:  100,
		HighWaterMarkMB:         64,
		ConnArena:               false,
		DBMinSize:               1,
		DBMaxSize:               4,
		DBMaxIdleSeconds:        60,
	}
}

// Load reads and decodes the TOML file at path on top of Default's
// values, so an operator's file only needs to list the overrides it
// cares about.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: load %s: %w", path, err)
	}
	return cfg, nil
}

// FlushInterval returns LogFlushIntervalSeconds as a time.Duration.
func (c Config) FlushInterval() time.Duration {
	return time.Duration(c.LogFlushIntervalSeconds) * time.Second
}

// RollSizeBytes returns LogRollSizeMB in bytes.
func (c Config) RollSizeBytes() int64 {
	return int64(c.LogRollSizeMB) * 1024 * 1024
}

// HighWaterMarkBytes returns HighWaterMarkMB in bytes.
func (c Config) HighWaterMarkBytes() int {
	return c.HighWaterMarkMB * 1024 * 1024
}
