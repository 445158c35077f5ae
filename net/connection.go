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

package net

import (
	stdnet "net"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/govoltron/reactor/arena"
	"github.com/govoltron/reactor/base"
	"github.com/govoltron/reactor/buffer"
	"github.com/govoltron/reactor/internal/sockopt"
	"github.com/govoltron/reactor/reactor"
)

type connState int32

const (
	stateConnecting connState = iota
	stateConnected
	stateDisconnecting
	stateDisconnected
)

// defaultHighWaterMark is the output-buffer threshold above which
// HighWaterMarkCallback fires, matching the teacher's 64 MiB default.
const defaultHighWaterMark = 64 * 1024 * 1024

// TcpConnection is a per-connection state machine owned by exactly one
// worker loop; every mutating method either already runs on that loop
// or immediately re-posts itself there via RunInLoop. It implements
// reactor.Tied so its Channel can refuse to dispatch once the
// connection has detached (the Go stand-in for the C++ shared_ptr +
// weak_ptr teardown interlock).
type TcpConnection struct {
	loop    *reactor.EventLoop
	name    string
	fd      int
	channel *reactor.Channel

	local, peer stdnet.Addr

	state   atomic.Int32
	reading bool

	inputBuffer  buffer.Buffer
	outputBuffer buffer.Buffer

	highWaterMark int

	mu       sync.Mutex
	detached bool

	log *zap.Logger

	// Arena is an optional per-connection scratch allocator, nil
	// unless TcpServer.Config.ConnArena is set. When present, it is
	// reset after every MessageCallback invocation so one connection's
	// message-handling scratch space never grows unbounded.
	Arena arena.Arena

	ConnectionCallback    func(c *TcpConnection)
	MessageCallback       func(c *TcpConnection, in *buffer.Buffer, receiveTime base.Timestamp)
	WriteCompleteCallback func(c *TcpConnection)
	HighWaterMarkCallback func(c *TcpConnection, outputBytes int)
	CloseCallback         func(c *TcpConnection)
}

// NewTcpConnection wraps an already-accepted, non-blocking fd. It must
// be constructed on, or immediately handed to, the loop that will own
// it; ConnectEstablished is what actually starts dispatch.
func NewTcpConnection(loop *reactor.EventLoop, name string, fd int, local, peer stdnet.Addr, log *zap.Logger) *TcpConnection {
	if log == nil {
		log = zap.NewNop()
	}
	c := &TcpConnection{
		loop:          loop,
		name:          name,
		fd:            fd,
		local:         local,
		peer:          peer,
		highWaterMark: defaultHighWaterMark,
		reading:       true,
		log:           log,
	}
	c.state.Store(int32(stateConnecting))
	c.inputBuffer = *buffer.New()
	c.outputBuffer = *buffer.New()
	c.channel = reactor.NewChannel(loop, fd)
	c.channel.SetReadCallback(c.handleRead)
	c.channel.SetWriteCallback(c.handleWrite)
	c.channel.SetCloseCallback(c.handleClose)
	c.channel.SetErrorCallback(c.handleError)
	sockopt.SetKeepAlive(fd, true)
	return c
}

// Name returns the connection's server-assigned identifier.
func (c *TcpConnection) Name() string { return c.name }

// LocalAddr and PeerAddr return the connection's two endpoints.
func (c *TcpConnection) LocalAddr() stdnet.Addr { return c.local }
func (c *TcpConnection) PeerAddr() stdnet.Addr  { return c.peer }

// Connected reports whether the connection is in the connected state.
func (c *TcpConnection) Connected() bool {
	return connState(c.state.Load()) == stateConnected
}

// Detached implements reactor.Tied.
func (c *TcpConnection) Detached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.detached
}

// SetHighWaterMark overrides the default 64 MiB threshold. Must be
// called before ConnectEstablished.
func (c *TcpConnection) SetHighWaterMark(n int) { c.highWaterMark = n }

// Send queues bytes for delivery, posting to the owning loop if the
// caller isn't already running on it.
func (c *TcpConnection) Send(data []byte) {
	if connState(c.state.Load()) != stateConnected {
		return
	}
	buf := append([]byte(nil), data...)
	c.loop.RunInLoop(func() {
		c.sendInLoop(buf)
	})
}

func (c *TcpConnection) sendInLoop(data []byte) {
	if connState(c.state.Load()) == stateDisconnected {
		c.log.Error("disconnected, give up writing", zap.String("conn", c.name))
		return
	}

	var (
		nwrote    int
		remaining = len(data)
		faultErr  bool
	)
	if !c.channel.IsWriting() && c.outputBuffer.ReadableBytes() == 0 {
		n, err := unixWrite(c.fd, data)
		if err == nil {
			nwrote = n
			remaining = len(data) - n
			if remaining == 0 && c.WriteCompleteCallback != nil {
				cb := c.WriteCompleteCallback
				c.loop.RunInLoop(func() { cb(c) })
			}
		} else if !isWouldBlock(err) {
			c.log.Error("sendInLoop write failed", zap.Error(err), zap.String("conn", c.name))
			if isBrokenPipe(err) {
				faultErr = true
			}
		}
	}

	if !faultErr && remaining > 0 {
		oldLen := c.outputBuffer.ReadableBytes()
		if oldLen+remaining >= c.highWaterMark && oldLen < c.highWaterMark && c.HighWaterMarkCallback != nil {
			cb := c.HighWaterMarkCallback
			total := oldLen + remaining
			c.loop.QueueInLoop(func() { cb(c, total) })
		}
		c.outputBuffer.Append(data[nwrote:])
		if !c.channel.IsWriting() {
			c.channel.EnableWriting()
		}
	}
}

// Shutdown half-closes the write side once any pending output has
// drained; the read side stays open so a peer-initiated close is still
// observed via handleClose.
func (c *TcpConnection) Shutdown() {
	if connState(c.state.Load()) == stateConnected {
		c.state.Store(int32(stateDisconnecting))
		c.loop.RunInLoop(c.shutdownInLoop)
	}
}

func (c *TcpConnection) shutdownInLoop() {
	if !c.channel.IsWriting() {
		sockopt.ShutdownWrite(c.fd)
	}
}

// forceClose tears the connection down immediately, skipping the
// drain-then-half-close sequence Shutdown uses; it's what server-wide
// Stop uses so teardown doesn't wait on a client that will never read
// the remaining output.
func (c *TcpConnection) forceClose() {
	if connState(c.state.Load()) != stateDisconnected {
		c.state.Store(int32(stateDisconnecting))
		c.loop.QueueInLoop(c.ConnectDestroyed)
	}
}

// ConnectEstablished transitions connecting -> connected, ties the
// channel, enables reading, and fires ConnectionCallback. Must run on
// the owning loop.
func (c *TcpConnection) ConnectEstablished() {
	c.state.Store(int32(stateConnected))
	c.channel.Tie(c)
	c.channel.EnableReading()
	if c.ConnectionCallback != nil {
		c.ConnectionCallback(c)
	}
}

// ConnectDestroyed transitions to disconnected (if not already) and
// removes the channel from the poller. Must run on the owning loop.
// It is idempotent: forceClose (TcpServer.Stop) and the handleClose/
// removeConnection path can both end up queuing it for the same
// connection (one racing the other's state.Load against the other's
// state.Store across goroutines before either has queued), and the
// fd must only ever be closed once.
func (c *TcpConnection) ConnectDestroyed() {
	c.mu.Lock()
	if c.detached {
		c.mu.Unlock()
		return
	}
	c.detached = true
	c.mu.Unlock()

	if connState(c.state.Load()) != stateDisconnected {
		c.state.Store(int32(stateDisconnected))
		c.channel.DisableAll()
		if c.ConnectionCallback != nil {
			c.ConnectionCallback(c)
		}
	}
	c.channel.Remove()
	sockopt.Close(c.fd)
}

func (c *TcpConnection) handleRead(receiveTime base.Timestamp) {
	n, err := c.inputBuffer.ReadFd(c.fd)
	switch {
	case n > 0:
		if c.MessageCallback != nil {
			c.MessageCallback(c, &c.inputBuffer, receiveTime)
		}
		if c.Arena != nil {
			c.Arena.Reset()
		}
	case err == nil:
		// n == 0 with no error: the peer closed its write side.
		c.handleClose()
	case isWouldBlock(err):
		// Spurious readiness notification; nothing to do.
	default:
		c.log.Error("handleRead failed", zap.Error(err), zap.String("conn", c.name))
		c.handleError()
	}
}

func (c *TcpConnection) handleWrite() {
	if !c.channel.IsWriting() {
		c.log.Error("connection is down, no more writing", zap.String("conn", c.name))
		return
	}
	// WriteFd retires whatever the kernel accepted internally.
	_, err := c.outputBuffer.WriteFd(c.fd)
	if err != nil {
		if !isWouldBlock(err) {
			c.log.Error("handleWrite failed", zap.Error(err), zap.String("conn", c.name))
		}
		return
	}
	if c.outputBuffer.ReadableBytes() == 0 {
		c.channel.DisableWriting()
		if c.WriteCompleteCallback != nil {
			cb := c.WriteCompleteCallback
			c.loop.QueueInLoop(func() { cb(c) })
		}
		if connState(c.state.Load()) == stateDisconnecting {
			c.shutdownInLoop()
		}
	}
}

func (c *TcpConnection) handleClose() {
	c.state.Store(int32(stateDisconnected))
	c.channel.DisableAll()
	if c.ConnectionCallback != nil {
		c.ConnectionCallback(c)
	}
	if c.CloseCallback != nil {
		c.CloseCallback(c)
	}
}

func (c *TcpConnection) handleError() {
	if err := sockopt.SocketError(c.fd); err != nil {
		c.log.Error("handleError", zap.String("conn", c.name), zap.Error(err))
	}
}
