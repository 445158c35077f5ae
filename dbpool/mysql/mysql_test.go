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

package mysql

import (
	"testing"
	"time"
)

func TestConfigDefaultsFillZeroValues(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.MinSize != 1 {
		t.Fatalf("MinSize = %d, want 1", cfg.MinSize)
	}
	if cfg.MaxSize != cfg.MinSize {
		t.Fatalf("MaxSize = %d, want %d", cfg.MaxSize, cfg.MinSize)
	}
	if cfg.MaxIdleTime != 60*time.Second {
		t.Fatalf("MaxIdleTime = %v, want 60s", cfg.MaxIdleTime)
	}
}

func TestConfigDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := Config{MinSize: 4, MaxSize: 2, MaxIdleTime: 5 * time.Second}.withDefaults()
	if cfg.MinSize != 4 {
		t.Fatalf("MinSize = %d, want 4", cfg.MinSize)
	}
	// MaxSize below MinSize is raised to match, since the pool can
	// never shrink below its own floor.
	if cfg.MaxSize != 4 {
		t.Fatalf("MaxSize = %d, want 4 (raised to MinSize)", cfg.MaxSize)
	}
	if cfg.MaxIdleTime != 5*time.Second {
		t.Fatalf("MaxIdleTime = %v, want 5s", cfg.MaxIdleTime)
	}
}
