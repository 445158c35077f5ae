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

// Package base holds small, dependency-free primitives shared by every
// other package in the reactor core.
package base

import (
	"fmt"
	"time"
)

const MicroSecondsPerSecond int64 = 1e6

// Timestamp is an opaque count of microseconds since the Unix epoch.
type Timestamp int64

// Now returns the current wall-clock time as a Timestamp.
func Now() Timestamp {
	return Timestamp(time.Now().UnixMicro())
}

// Invalid reports whether ts is the zero-value sentinel.
func (ts Timestamp) Invalid() bool {
	return ts == 0
}

// MicroSecondsSinceEpoch returns the raw microsecond count.
func (ts Timestamp) MicroSecondsSinceEpoch() int64 {
	return int64(ts)
}

// Before reports whether ts occurs strictly before other.
func (ts Timestamp) Before(other Timestamp) bool {
	return ts < other
}

// After reports whether ts occurs strictly after other.
func (ts Timestamp) After(other Timestamp) bool {
	return ts > other
}

// Add returns ts shifted by the given number of seconds, rounded to the
// nearest microsecond.
func Add(ts Timestamp, seconds float64) Timestamp {
	delta := int64(seconds*float64(MicroSecondsPerSecond) + 0.5)
	return Timestamp(int64(ts) + delta)
}

// String renders "YYYY/MM/DD HH:MM:SS" in local time.
func (ts Timestamp) String() string {
	return ts.Format(false)
}

// Format renders the timestamp, optionally including the microsecond
// component, matching the logger's record prefix.
func (ts Timestamp) Format(showMicroseconds bool) string {
	t := time.UnixMicro(int64(ts))
	if showMicroseconds {
		return fmt.Sprintf("%04d/%02d/%02d %02d:%02d:%02d.%06d",
			t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond()/1000)
	}
	return fmt.Sprintf("%04d/%02d/%02d %02d:%02d:%02d",
		t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second())
}
