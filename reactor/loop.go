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

package reactor

import (
	"encoding/binary"
	"fmt"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/govoltron/reactor/base"
	"github.com/govoltron/reactor/timer"
)

// defaultPollTimeoutMs bounds how long a loop can sleep in Poll before
// it must re-check quit and drain pending tasks.
const defaultPollTimeoutMs = 10000

// EventLoop owns a Poller, a wakeup eventfd, and a TimerQueue, and runs
// the reactor on exactly one goroutine for its entire life. While Loop
// is running, all mutating operations on its channels or timers must
// originate from that goroutine; affinity violations panic rather than
// corrupting poller state silently.
type EventLoop struct {
	poller *Poller
	timers *timer.Queue

	wakeupFd      int
	wakeupChannel *Channel

	mu      sync.Mutex
	pending []func()

	looping        atomic.Bool
	quit           atomic.Bool
	callingPending atomic.Bool
	ownerGoroutine atomic.Uint64
	done           chan struct{}

	log *zap.Logger
}

// New constructs an EventLoop. The loop does not start running until
// Loop is called, and Loop must be called from the goroutine that will
// own it for its whole lifetime.
func New(log *zap.Logger) (*EventLoop, error) {
	if log == nil {
		log = zap.NewNop()
	}
	poller, err := NewPoller()
	if err != nil {
		return nil, err
	}
	wakeupFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		poller.Close()
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	el := &EventLoop{
		poller:   poller,
		wakeupFd: wakeupFd,
		log:      log,
		done:     make(chan struct{}),
	}
	el.wakeupChannel = NewChannel(el, wakeupFd)
	el.wakeupChannel.SetReadCallback(el.handleWakeupRead)
	el.timers = timer.NewQueue(el)
	return el, nil
}

// Loop runs the reactor until Quit is called. It must be invoked
// exactly once, from the goroutine that is to be considered this
// loop's owner for every subsequent affinity check.
func (el *EventLoop) Loop() {
	if !el.looping.CAS(false, true) {
		panic("reactor: EventLoop.Loop called twice")
	}
	el.ownerGoroutine.Store(goroutineID())
	defer el.looping.Store(false)
	defer close(el.done)

	// The wakeup channel is registered here, once this goroutine is the
	// recognized owner, rather than in New; timer.NewQueue's own
	// WatchReadable call (queued via
	// RunInLoop at construction time) drains from the pending list
	// right behind it, on the same first pass through doPendingFunctors
	// below.
	el.wakeupChannel.EnableReading()

	el.log.Info("event loop started")
	for !el.quit.Load() {
		receiveTime, active, err := el.poller.Poll(defaultPollTimeoutMs)
		if err != nil {
			el.log.Error("poll failed", zap.Error(err))
			continue
		}
		for _, ch := range active {
			ch.HandleEvent(receiveTime)
		}
		el.doPendingFunctors()
	}
	el.log.Info("event loop stopped")
}

// Wait blocks until Loop has returned.
func (el *EventLoop) Wait() {
	<-el.done
}

// Looping reports whether Loop is currently running.
func (el *EventLoop) Looping() bool {
	return el.looping.Load()
}

// Quit requests the loop to exit after its current (bounded) poll
// returns; if called from another goroutine it also wakes the loop so
// it doesn't wait out the full poll timeout.
func (el *EventLoop) Quit() {
	el.quit.Store(true)
	if !el.inLoopGoroutine() {
		el.wakeup()
	}
}

// RunInLoop executes f on the loop's goroutine: immediately if the
// caller already is that goroutine, otherwise queued and the loop is
// woken.
func (el *EventLoop) RunInLoop(f func()) {
	if el.inLoopGoroutine() {
		f()
		return
	}
	el.QueueInLoop(f)
}

// QueueInLoop appends f to the pending-task queue. The wakeup write is
// skipped only when the caller is the loop's own goroutine and the
// loop is not currently draining pending tasks — a callback that posts
// another callback while pending tasks are being drained must still
// force a re-wake, since the drain snapshot was already taken.
func (el *EventLoop) QueueInLoop(f func()) {
	el.mu.Lock()
	el.pending = append(el.pending, f)
	el.mu.Unlock()

	if !el.inLoopGoroutine() || el.callingPending.Load() {
		el.wakeup()
	}
}

func (el *EventLoop) doPendingFunctors() {
	el.callingPending.Store(true)
	defer el.callingPending.Store(false)

	el.mu.Lock()
	functors := el.pending
	el.pending = nil
	el.mu.Unlock()

	for _, f := range functors {
		f()
	}
}

func (el *EventLoop) wakeup() {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, 1)
	if _, err := unix.Write(el.wakeupFd, buf); err != nil {
		el.log.Error("wakeup write failed", zap.Error(err))
	}
}

func (el *EventLoop) handleWakeupRead(base.Timestamp) {
	buf := make([]byte, 8)
	if _, err := unix.Read(el.wakeupFd, buf); err != nil {
		el.log.Error("wakeup read failed", zap.Error(err))
	}
}

// inLoopGoroutine reports whether the calling goroutine is this loop's
// owner. Before Loop() has run once, no goroutine is the owner yet.
func (el *EventLoop) inLoopGoroutine() bool {
	return el.looping.Load() && goroutineID() == el.ownerGoroutine.Load()
}

// assertInLoopGoroutine panics when op runs off the owning goroutine
// while Loop is running. Before Loop starts and after it has returned
// no goroutine dispatches on this loop, so setup and Close may run
// from the caller's goroutine.
func (el *EventLoop) assertInLoopGoroutine(op string) {
	if el.inLoopGoroutine() || !el.looping.Load() {
		return
	}
	select {
	case <-el.done:
		return
	default:
	}
	panic(fmt.Sprintf("reactor: %s called off the owning loop goroutine", op))
}

// updateChannel publishes ch's interest set; must run on the owning
// goroutine.
func (el *EventLoop) updateChannel(ch *Channel) {
	el.assertInLoopGoroutine("updateChannel")
	if err := el.poller.UpdateChannel(ch); err != nil {
		el.log.Error("updateChannel failed", zap.Error(err), zap.Int("fd", ch.fd))
	}
}

// removeChannel deregisters ch; must run on the owning goroutine.
func (el *EventLoop) removeChannel(ch *Channel) {
	el.assertInLoopGoroutine("removeChannel")
	if err := el.poller.RemoveChannel(ch); err != nil {
		el.log.Error("removeChannel failed", zap.Error(err), zap.Int("fd", ch.fd))
	}
}

// HasChannel reports whether ch is registered with this loop's poller;
// must run on the owning goroutine.
func (el *EventLoop) HasChannel(ch *Channel) bool {
	el.assertInLoopGoroutine("hasChannel")
	return el.poller.HasChannel(ch)
}

// RunAt schedules cb to fire once at the given instant.
func (el *EventLoop) RunAt(when base.Timestamp, cb func()) timer.ID {
	return el.timers.AddTimer(cb, when, 0)
}

// RunAfter schedules cb to fire once after the given delay, in seconds.
func (el *EventLoop) RunAfter(delaySeconds float64, cb func()) timer.ID {
	return el.timers.AddTimer(cb, base.Add(base.Now(), delaySeconds), 0)
}

// RunEvery schedules cb to fire repeatedly every interval seconds,
// starting interval seconds from now.
func (el *EventLoop) RunEvery(interval float64, cb func()) timer.ID {
	return el.timers.AddTimer(cb, base.Add(base.Now(), interval), interval)
}

// WatchReadable registers fd for readability events and invokes cb
// whenever it fires, satisfying timer.Loop so the timer package can
// multiplex its timerfd through this loop's poller without importing
// the reactor package (which already imports timer, for RunAt/
// RunAfter/RunEvery). The returned cancel func tears the registration
// down; it must be called at most once.
func (el *EventLoop) WatchReadable(fd int, cb func(base.Timestamp)) (cancel func()) {
	ch := NewChannel(el, fd)
	ch.SetReadCallback(cb)
	ch.EnableReading()
	return func() {
		ch.DisableAll()
		ch.Remove()
	}
}

// Close releases the loop's own descriptors (poller + wakeup fd). The
// timer queue's own descriptor is released by the timer package.
func (el *EventLoop) Close() error {
	el.timers.Close()
	el.wakeupChannel.DisableAll()
	el.wakeupChannel.Remove()
	if err := unix.Close(el.wakeupFd); err != nil {
		return err
	}
	return el.poller.Close()
}
