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

	"golang.org/x/sys/unix"
)

// resolveIPv4 resolves a "host:port" string to the 4-byte address and
// port sockopt.NewListener expects.
func resolveIPv4(hostport string) (addr [4]byte, port int, err error) {
	tcpAddr, err := stdnet.ResolveTCPAddr("tcp4", hostport)
	if err != nil {
		return addr, 0, err
	}
	ip := tcpAddr.IP.To4()
	if ip == nil {
		ip = stdnet.IPv4zero.To4()
	}
	copy(addr[:], ip)
	return addr, tcpAddr.Port, nil
}

// sockaddrToTCPAddr converts the raw accept4 peer address into a
// stdlib net.Addr for user-facing callbacks.
func sockaddrToTCPAddr(sa unix.Sockaddr) stdnet.Addr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &stdnet.TCPAddr{IP: stdnet.IPv4(a.Addr[0], a.Addr[1], a.Addr[2], a.Addr[3]), Port: a.Port}
	case *unix.SockaddrInet6:
		return &stdnet.TCPAddr{IP: stdnet.IP(a.Addr[:]), Port: a.Port}
	default:
		return nil
	}
}

func localAddr(fd int) stdnet.Addr {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil
	}
	return sockaddrToTCPAddr(sa)
}
