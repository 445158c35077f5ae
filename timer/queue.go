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

//go:build linux

package timer

import (
	"os"
	"sort"

	"go.uber.org/atomic"
	"golang.org/x/sys/unix"

	"github.com/govoltron/reactor/base"
)

// minRearmMicros is the floor applied to the next timerfd deadline so a
// timer due in the past (or in the next few microseconds) still gets a
// deadline the kernel will honor rather than settime silently refusing
// a zero/negative interval.
const minRearmMicros = 100

// Loop is the slice of EventLoop that Queue depends on. It is defined
// here, not in the reactor package, so that reactor (which imports
// timer for RunAt/RunAfter/RunEvery) and timer never import each
// other. *reactor.EventLoop satisfies this interface.
type Loop interface {
	// RunInLoop runs f on the loop's own goroutine, immediately if the
	// caller already is that goroutine, otherwise queued.
	RunInLoop(f func())
	// WatchReadable registers fd for readability and invokes cb on
	// every event; the returned func cancels the registration.
	WatchReadable(fd int, cb func(base.Timestamp)) (cancel func())
}

// Queue multiplexes any number of timers onto a single kernel timerfd,
// always armed for the earliest pending expiration. All mutation of
// its internal entry set happens on the owning loop's goroutine, via
// RunInLoop, so no separate mutex is needed.
type Queue struct {
	loop Loop

	timerFd     int
	cancelWatch func()

	entries []*entry // kept sorted by (expires, id)
	nextID  atomic.Uint64
}

// NewQueue creates a Queue bound to loop and arms its timerfd watch.
// loop need not be running yet; the watch registration itself is
// deferred to the loop's goroutine via RunInLoop.
func NewQueue(loop Loop) *Queue {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
	if err != nil {
		panic(os.NewSyscallError("timerfd_create", err))
	}
	q := &Queue{loop: loop, timerFd: fd}
	loop.RunInLoop(func() {
		q.cancelWatch = loop.WatchReadable(fd, q.handleRead)
	})
	return q
}

// AddTimer schedules cb to fire at when, and every interval seconds
// thereafter if interval > 0. It is safe to call from any goroutine.
func (q *Queue) AddTimer(cb func(), when base.Timestamp, interval float64) ID {
	id := ID(q.nextID.Inc())
	e := &entry{id: id, callback: cb, expires: when, interval: interval}
	q.loop.RunInLoop(func() {
		q.insert(e)
	})
	return id
}

// Cancel prevents a not-yet-fired (or not-yet-refired, for a
// repeating timer) timer from running again.
func (q *Queue) Cancel(id ID) {
	q.loop.RunInLoop(func() {
		for _, e := range q.entries {
			if e.id == id {
				e.canceled = true
				return
			}
		}
	})
}

// Close releases the timerfd. The watch registration, if any, is torn
// down first.
func (q *Queue) Close() error {
	if q.cancelWatch != nil {
		q.cancelWatch()
	}
	return os.NewSyscallError("close", unix.Close(q.timerFd))
}

func (q *Queue) insert(e *entry) {
	earliestChanged := len(q.entries) == 0 || e.expires < q.entries[0].expires
	q.entries = append(q.entries, e)
	sort.Slice(q.entries, func(i, j int) bool {
		if q.entries[i].expires != q.entries[j].expires {
			return q.entries[i].expires < q.entries[j].expires
		}
		return q.entries[i].id < q.entries[j].id
	})
	if earliestChanged {
		q.resetTimerfd(e.expires)
	}
}

// handleRead is the timerfd's read callback: drain the expiration
// counter, run every timer whose expiration is no later than now, and
// re-arm repeating timers.
func (q *Queue) handleRead(now base.Timestamp) {
	q.readTimerfd()

	expired := q.getExpired(now)
	for _, e := range expired {
		if !e.canceled {
			e.callback()
		}
	}
	q.reset(expired, now)
}

func (q *Queue) readTimerfd() {
	buf := make([]byte, 8)
	unix.Read(q.timerFd, buf)
}

// getExpired removes and returns every entry due at or before now.
func (q *Queue) getExpired(now base.Timestamp) []*entry {
	i := sort.Search(len(q.entries), func(i int) bool {
		return q.entries[i].expires > now
	})
	expired := q.entries[:i]
	q.entries = q.entries[i:]
	return expired
}

// reset re-inserts the repeating timers among expired at their next
// expiration, drops the one-shots, and re-arms the timerfd for
// whatever is now earliest.
func (q *Queue) reset(expired []*entry, now base.Timestamp) {
	for _, e := range expired {
		if e.repeat() && !e.canceled {
			e.restart(now)
			q.entries = append(q.entries, e)
		}
	}
	sort.Slice(q.entries, func(i, j int) bool {
		if q.entries[i].expires != q.entries[j].expires {
			return q.entries[i].expires < q.entries[j].expires
		}
		return q.entries[i].id < q.entries[j].id
	})
	if len(q.entries) > 0 {
		q.resetTimerfd(q.entries[0].expires)
	}
}

// resetTimerfd arms the timerfd for a one-shot deadline at `when`,
// floored at minRearmMicros so an already-past or near-past deadline
// still produces a valid, immediate expiration.
func (q *Queue) resetTimerfd(when base.Timestamp) {
	micros := int64(when) - int64(base.Now())
	if micros < minRearmMicros {
		micros = minRearmMicros
	}
	spec := unix.ItimerSpec{
		Value: unix.NsecToTimespec(micros * 1000),
	}
	if err := unix.TimerfdSettime(q.timerFd, 0, &spec, nil); err != nil {
		panic(os.NewSyscallError("timerfd_settime", err))
	}
}
