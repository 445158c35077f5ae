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

// Package reactor implements the one-goroutine-per-loop event reactor:
// the Channel/Poller/EventLoop trio and the EventLoopPool that hands
// new descriptors to worker loops in round-robin order.
package reactor

import (
	"golang.org/x/sys/unix"

	"github.com/govoltron/reactor/base"
)

// Registration state of a Channel with respect to the poller.
type pollerState int

const (
	stateNew pollerState = iota
	stateAdded
	stateRemoved
)

const (
	readEvents  = unix.EPOLLIN | unix.EPOLLPRI
	writeEvents = unix.EPOLLOUT
)

// Tied is implemented by a Channel's owner so the channel can skip
// dispatch once the owner has torn itself down, without requiring a
// language-level weak pointer: the owner flips Detached() once it has
// released its hold on the descriptor.
type Tied interface {
	Detached() bool
}

// Channel binds exactly one file descriptor to exactly one EventLoop.
// It is not safe to use from more than one goroutine; every mutating
// method must run on the owning loop.
type Channel struct {
	loop   *EventLoop
	fd     int
	events uint32 // interest set last published to the poller
	revent uint32 // ready events from the most recent poll
	state  pollerState

	readCallback  func(receiveTime base.Timestamp)
	writeCallback func()
	closeCallback func()
	errorCallback func()

	tied  bool
	owner Tied
}

// NewChannel creates a Channel for fd, bound to loop. The channel is
// not registered with the poller until Update is called with a
// non-empty interest set.
func NewChannel(loop *EventLoop, fd int) *Channel {
	return &Channel{loop: loop, fd: fd, state: stateNew}
}

// Fd returns the bound descriptor.
func (c *Channel) Fd() int { return c.fd }

// SetReadCallback installs the readable/urgent event handler.
func (c *Channel) SetReadCallback(cb func(receiveTime base.Timestamp)) { c.readCallback = cb }

// SetWriteCallback installs the writable event handler.
func (c *Channel) SetWriteCallback(cb func()) { c.writeCallback = cb }

// SetCloseCallback installs the hang-up handler.
func (c *Channel) SetCloseCallback(cb func()) { c.closeCallback = cb }

// SetErrorCallback installs the error handler.
func (c *Channel) SetErrorCallback(cb func()) { c.errorCallback = cb }

// Tie binds the channel to its logical owner so handleEvent can skip
// dispatch once the owner reports itself detached (the Go stand-in for
// the source's weak-pointer upgrade-or-skip interlock).
func (c *Channel) Tie(owner Tied) {
	c.owner = owner
	c.tied = true
}

// EnableReading turns on read interest and republishes it.
func (c *Channel) EnableReading() {
	c.events |= readEvents
	c.update()
}

// DisableReading turns off read interest and republishes it.
func (c *Channel) DisableReading() {
	c.events &^= readEvents
	c.update()
}

// EnableWriting turns on write interest and republishes it.
func (c *Channel) EnableWriting() {
	c.events |= writeEvents
	c.update()
}

// DisableWriting turns off write interest and republishes it.
func (c *Channel) DisableWriting() {
	c.events &^= writeEvents
	c.update()
}

// DisableAll clears every interest bit and republishes it.
func (c *Channel) DisableAll() {
	c.events = 0
	c.update()
}

// IsWriting reports whether write interest is currently enabled.
func (c *Channel) IsWriting() bool { return c.events&writeEvents != 0 }

// IsReading reports whether read interest is currently enabled.
func (c *Channel) IsReading() bool { return c.events&readEvents != 0 }

// IsNoneEvent reports whether the channel currently has no interest.
func (c *Channel) IsNoneEvent() bool { return c.events == 0 }

func (c *Channel) update() {
	c.loop.updateChannel(c)
}

// Remove withdraws the channel from its loop's poller. The descriptor
// itself must already have no pending interest.
func (c *Channel) Remove() {
	c.loop.removeChannel(c)
}

// setRevents records the ready-event bitmask observed by the poller;
// called only by the poller, on the owning loop.
func (c *Channel) setRevents(revents uint32) { c.revent = revents }

// HandleEvent dispatches the ready events recorded by the last poll.
// If the channel is tied and its owner reports itself detached, the
// dispatch is skipped outright: this is the safety interlock that
// prevents a callback from touching a torn-down connection.
func (c *Channel) HandleEvent(receiveTime base.Timestamp) {
	if c.tied && c.owner.Detached() {
		return
	}
	c.handleEventWithGuard(receiveTime)
}

func (c *Channel) handleEventWithGuard(receiveTime base.Timestamp) {
	if c.revent&unix.EPOLLHUP != 0 && c.revent&unix.EPOLLIN == 0 {
		if c.closeCallback != nil {
			c.closeCallback()
		}
	}
	if c.revent&unix.EPOLLERR != 0 {
		if c.errorCallback != nil {
			c.errorCallback()
		}
	}
	if c.revent&(unix.EPOLLIN|unix.EPOLLPRI) != 0 {
		if c.readCallback != nil {
			c.readCallback(receiveTime)
		}
	}
	if c.revent&unix.EPOLLOUT != 0 {
		if c.writeCallback != nil {
			c.writeCallback()
		}
	}
}
