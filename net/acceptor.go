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

// Package net implements the Acceptor/TcpConnection/TcpServer layer on
// top of the reactor package: the listening socket, the per-connection
// state machine, and the component that wires both to an
// EventLoopPool.
package net

import (
	stdnet "net"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/govoltron/reactor/base"
	"github.com/govoltron/reactor/internal/sockopt"
	"github.com/govoltron/reactor/reactor"
)

const defaultBacklog = 1024

// Acceptor owns the listening descriptor. It must be registered on the
// base loop; NewConnectionCallback is invoked with each accepted
// descriptor and its peer address from that loop's goroutine.
type Acceptor struct {
	loop       *reactor.EventLoop
	listenFd   int
	channel    *reactor.Channel
	listening  bool
	reservedFd int
	log        *zap.Logger

	NewConnectionCallback func(fd int, peer stdnet.Addr)
}

// NewAcceptor creates a listening socket bound to addr (host:port) and
// registers its channel on loop, without yet enabling reading (Listen
// does that).
func NewAcceptor(loop *reactor.EventLoop, addr string, reusePort bool, log *zap.Logger) (*Acceptor, error) {
	if log == nil {
		log = zap.NewNop()
	}
	ip, port, err := resolveIPv4(addr)
	if err != nil {
		return nil, err
	}
	listenFd, err := sockopt.NewListener(ip, port, reusePort, defaultBacklog)
	if err != nil {
		return nil, err
	}
	// Reserved idle descriptor: held closed only when the process hits
	// EMFILE, so handleRead has a spare fd to burn accepting (and
	// immediately dropping) the connection that would otherwise spin
	// the loop hot on a permanently-readable listening socket.
	reservedFd, err := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		unix.Close(listenFd)
		return nil, err
	}
	a := &Acceptor{
		loop:       loop,
		listenFd:   listenFd,
		reservedFd: reservedFd,
		log:        log,
	}
	a.channel = reactor.NewChannel(loop, listenFd)
	a.channel.SetReadCallback(func(base.Timestamp) { a.handleRead() })
	return a, nil
}

// Listen starts accepting connections.
func (a *Acceptor) Listen() {
	a.listening = true
	a.channel.EnableReading()
}

func (a *Acceptor) handleRead() {
	for {
		connFd, peer, err := sockopt.Accept4(a.listenFd)
		if err != nil {
			a.handleAcceptError(err)
			return
		}
		if a.NewConnectionCallback != nil {
			a.NewConnectionCallback(connFd, sockaddrToTCPAddr(peer))
		} else {
			sockopt.Close(connFd)
		}
	}
}

func (a *Acceptor) handleAcceptError(err error) {
	switch {
	case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
		// Drained; not an error.
	case err == unix.EMFILE:
		a.log.Error("accept: process descriptor limit reached, dropping oldest pending connection")
		unix.Close(a.reservedFd)
		connFd, _, acceptErr := sockopt.Accept4(a.listenFd)
		if acceptErr == nil {
			sockopt.Close(connFd)
		}
		a.reservedFd, _ = unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	default:
		a.log.Error("accept failed", zap.Error(err))
	}
}

// Close tears down the listening channel and socket and releases the
// reserved descriptor.
func (a *Acceptor) Close() error {
	a.channel.DisableAll()
	a.channel.Remove()
	unix.Close(a.reservedFd)
	return sockopt.Close(a.listenFd)
}
