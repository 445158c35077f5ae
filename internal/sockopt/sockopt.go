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

// Package sockopt wraps the raw socket syscalls shared by the
// Acceptor and TcpConnection's socket wrapper: creation, the handful
// of setsockopt calls muduo-style servers always make, and the half-
// close/SO_ERROR pair used during teardown.
package sockopt

import (
	"os"

	"golang.org/x/sys/unix"
)

// NewListener creates a non-blocking, close-on-exec IPv4 TCP socket
// with SO_REUSEADDR and (optionally) SO_REUSEPORT, bound and
// listening on addr:port.
func NewListener(addr [4]byte, port int, reusePort bool, backlog int) (fd int, err error) {
	fd, err = unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, os.NewSyscallError("socket", err)
	}
	if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, os.NewSyscallError("setsockopt(SO_REUSEADDR)", err)
	}
	if reusePort {
		if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			unix.Close(fd)
			return -1, os.NewSyscallError("setsockopt(SO_REUSEPORT)", err)
		}
	}
	sa := &unix.SockaddrInet4{Port: port, Addr: addr}
	if err = unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, os.NewSyscallError("bind", err)
	}
	if err = unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, os.NewSyscallError("listen", err)
	}
	return fd, nil
}

// Accept4 accepts one connection, returning the new non-blocking,
// close-on-exec descriptor and the peer address. err wraps the raw
// errno so callers can test EMFILE/EAGAIN/ECONNABORTED with errors.Is.
func Accept4(listenFd int) (connFd int, peer unix.Sockaddr, err error) {
	connFd, peer, err = unix.Accept4(listenFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, nil, err
	}
	return connFd, peer, nil
}

// SetKeepAlive enables TCP keepalive on fd, matching the C++ socket
// wrapper's constructor-time default.
func SetKeepAlive(fd int, on bool) error {
	v := 0
	if on {
		v = 1
	}
	return os.NewSyscallError("setsockopt(SO_KEEPALIVE)", unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, v))
}

// SetNoDelay toggles TCP_NODELAY (Nagle's algorithm).
func SetNoDelay(fd int, on bool) error {
	v := 0
	if on {
		v = 1
	}
	return os.NewSyscallError("setsockopt(TCP_NODELAY)", unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, v))
}

// ShutdownWrite half-closes the write side only, leaving the read side
// open so any data already in flight from the peer can still be
// drained.
func ShutdownWrite(fd int) error {
	return os.NewSyscallError("shutdown", unix.Shutdown(fd, unix.SHUT_WR))
}

// SocketError reads SO_ERROR, the pending asynchronous error last
// recorded for the socket (used from EPOLLERR handling).
func SocketError(fd int) error {
	v, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return os.NewSyscallError("getsockopt(SO_ERROR)", err)
	}
	if v == 0 {
		return nil
	}
	return unix.Errno(v)
}

// Close closes fd. Any error, EBADF and EINTR included, is returned
// wrapped in an *os.SyscallError.
func Close(fd int) error {
	return os.NewSyscallError("close", unix.Close(fd))
}
