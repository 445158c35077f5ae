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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesDefaultsThenOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reactord.toml")
	if err := os.WriteFile(path, []byte(`
addr = "127.0.0.1:7000"
log_level = "debug"
`), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr != "127.0.0.1:7000" {
		t.Fatalf("Addr = %q, want overridden value", cfg.Addr)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("LogLevel = %q, want overridden value", cfg.LogLevel)
	}
	if cfg.Workers != Default().Workers {
		t.Fatalf("Workers = %d, want untouched default %d", cfg.Workers, Default().Workers)
	}
	if cfg.LogRollSizeMB != Default().LogRollSizeMB {
		t.Fatalf("LogRollSizeMB = %d, want untouched default", cfg.LogRollSizeMB)
	}
}

func TestConfigDerivedUnitConversions(t *testing.T) {
	cfg := Default()
	cfg.LogFlushIntervalSeconds = 5
	cfg.LogRollSizeMB = 2
	cfg.HighWaterMarkMB = 1

	if cfg.FlushInterval() != 5*time.Second {
		t.Fatalf("FlushInterval() = %v, want 5s", cfg.FlushInterval())
	}
	if cfg.RollSizeBytes() != 2*1024*1024 {
		t.Fatalf("RollSizeBytes() = %d, want %d", cfg.RollSizeBytes(), 2*1024*1024)
	}
	if cfg.HighWaterMarkBytes() != 1024*1024 {
		t.Fatalf("HighWaterMarkBytes() = %d, want %d", cfg.HighWaterMarkBytes(), 1024*1024)
	}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reactord.toml")
	if err := os.WriteFile(path, []byte(`log_level = "info"`), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Close()

	received := make(chan Config, 1)
	w.OnChange = func(c Config) { received <- c }
	w.Start()

	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte(`log_level = "warn"`), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	select {
	case cfg := <-received:
		if cfg.LogLevel != "warn" {
			t.Fatalf("reloaded LogLevel = %q, want warn", cfg.LogLevel)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher never observed the rewritten file")
	}
}
