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
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/govoltron/reactor/base"
)

const defaultEventListSize = 16

// Poller wraps epoll. It owns fd -> *Channel bookkeeping so Poll can
// return the set of channels whose descriptors fired.
type Poller struct {
	epollFd int
	events  []unix.EpollEvent
	channel map[int]*Channel
}

// NewPoller creates an epoll instance.
func NewPoller() (*Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	return &Poller{
		epollFd: fd,
		events:  make([]unix.EpollEvent, defaultEventListSize),
		channel: make(map[int]*Channel),
	}, nil
}

// Poll blocks up to timeoutMs (negative blocks indefinitely) and
// returns the channels whose descriptors became ready, each with its
// ready-event bitmask already recorded.
func (p *Poller) Poll(timeoutMs int) (receiveTime base.Timestamp, active []*Channel, err error) {
	n, err := unix.EpollWait(p.epollFd, p.events, timeoutMs)
	receiveTime = base.Now()
	if err != nil {
		if err == unix.EINTR {
			return receiveTime, nil, nil
		}
		return receiveTime, nil, os.NewSyscallError("epoll_wait", err)
	}
	if n == len(p.events) {
		p.events = append(p.events, make([]unix.EpollEvent, len(p.events))...)
	}
	active = make([]*Channel, 0, n)
	for i := 0; i < n; i++ {
		fd := int(p.events[i].Fd)
		ch, ok := p.channel[fd]
		if !ok {
			continue
		}
		ch.setRevents(p.events[i].Events)
		active = append(active, ch)
	}
	return receiveTime, active, nil
}

// HasChannel reports whether ch is currently registered.
func (p *Poller) HasChannel(ch *Channel) bool {
	found, ok := p.channel[ch.fd]
	return ok && found == ch
}

// UpdateChannel publishes ch's current interest set to epoll,
// transitioning new/removed -> added (EPOLL_CTL_ADD), added -> added
// (EPOLL_CTL_MOD), or added -> removed (EPOLL_CTL_DEL) when the
// channel goes back to no interest; a removed channel with no interest
// stays removed.
func (p *Poller) UpdateChannel(ch *Channel) error {
	switch ch.state {
	case stateNew, stateRemoved:
		if ch.state == stateRemoved && ch.IsNoneEvent() {
			return nil
		}
		if ch.state == stateNew {
			p.channel[ch.fd] = ch
		}
		ch.state = stateAdded
		return p.ctl(unix.EPOLL_CTL_ADD, ch)
	default: // stateAdded
		if ch.IsNoneEvent() {
			ch.state = stateRemoved
			return p.ctl(unix.EPOLL_CTL_DEL, ch)
		}
		return p.ctl(unix.EPOLL_CTL_MOD, ch)
	}
}

// RemoveChannel deregisters ch entirely; it must have no interest left.
func (p *Poller) RemoveChannel(ch *Channel) error {
	delete(p.channel, ch.fd)
	if ch.state == stateAdded {
		if err := p.ctl(unix.EPOLL_CTL_DEL, ch); err != nil {
			return err
		}
	}
	ch.state = stateNew
	return nil
}

func (p *Poller) ctl(op int, ch *Channel) error {
	ev := unix.EpollEvent{Events: ch.events, Fd: int32(ch.fd)}
	if err := unix.EpollCtl(p.epollFd, op, ch.fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl(%d, fd=%d): %w", op, ch.fd, err)
	}
	return nil
}

// Close releases the epoll descriptor.
func (p *Poller) Close() error {
	return os.NewSyscallError("close", unix.Close(p.epollFd))
}
