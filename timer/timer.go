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

// Package timer implements the single-timerfd timer multiplexer that
// feeds an EventLoop: an ordered set of timers, kept in sync with one
// kernel timerfd armed at the earliest pending expiration.
package timer

import "github.com/govoltron/reactor/base"

// ID identifies a scheduled timer for cancellation purposes. Two
// timers can share an expiration instant; ID (a monotonically
// increasing sequence number) is the tiebreaker the ordered set sorts
// on, matching the source's (expiration, unique_id) key.
type ID uint64

// entry is an immutable callback plus mutable expiration/interval.
// repeat is equivalent to interval > 0.
type entry struct {
	id       ID
	callback func()
	expires  base.Timestamp
	interval float64 // seconds; 0 means one-shot
	canceled bool
}

func (e *entry) repeat() bool { return e.interval > 0 }

// restart sets expiration forward by interval for a repeating timer,
// or to the zero sentinel for a one-shot (it is about to be dropped).
func (e *entry) restart(now base.Timestamp) {
	if e.repeat() {
		e.expires = base.Add(now, e.interval)
	} else {
		e.expires = 0
	}
}
