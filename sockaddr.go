// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ucp

import (
	"net/netip"

	"golang.org/x/sys/unix"
)

// sockaddrOf encodes ap in the platform's native socket address layout.
// IPv4-mapped IPv6 addresses are encoded as AF_INET.
func sockaddrOf(ap netip.AddrPort) (unix.Sockaddr, bool) {
	if !ap.IsValid() {
		return nil, false
	}
	addr := ap.Addr()
	if addr.Is4() || addr.Is4In6() {
		return &unix.SockaddrInet4{Port: int(ap.Port()), Addr: addr.Unmap().As4()}, true
	}
	sa := &unix.SockaddrInet6{Port: int(ap.Port()), Addr: addr.As16()}
	return sa, true
}

// addrPortOf decodes a native socket address produced by sockaddrOf.
func addrPortOf(sa unix.Sockaddr) (netip.AddrPort, bool) {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port)), true
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(sa.Addr), uint16(sa.Port)), true
	}
	return netip.AddrPort{}, false
}
