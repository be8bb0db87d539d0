//go:build linux

package evnet

import (
	"net"

	"golang.org/x/sys/unix"
)

// Linux-specific socket option names and helpers. Kept in their own file
// per the retrieval pack's convention of splitting platform-specific
// syscall glue into _linux.go/_other.go pairs (evio, gnet do the same).
const (
	tcpKeepIdleOpt  = unix.TCP_KEEPIDLE
	tcpKeepIntvlOpt = unix.TCP_KEEPINTVL
	tcpKeepCntOpt   = unix.TCP_KEEPCNT
)

func setsockoptReusePort(fd int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
}

func bindToDevice(fd int, device string) error {
	return unix.BindToDevice(fd, device)
}

// applyLoopbackBroadcastCompat implements UDPOptions.BroadcastSelfReceive
// (spec.md §4.5): on Linux, a socket does not receive its own broadcasts on
// loopback unless SO_BROADCAST is set and the broadcast is sent to the
// loopback broadcast address; this opts the socket into receiving them.
func applyLoopbackBroadcastCompat(fd int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
}

func joinMulticastGroup(fd int, group net.IP) error {
	if ip4 := group.To4(); ip4 != nil {
		mreq := &unix.IPMreq{}
		copy(mreq.Multiaddr[:], ip4)
		return unix.SetsockoptIPMreq(fd, unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP, mreq)
	}
	mreq := &unix.IPv6Mreq{}
	copy(mreq.Multiaddr[:], group.To16())
	return unix.SetsockoptIPv6Mreq(fd, unix.IPPROTO_IPV6, unix.IPV6_JOIN_GROUP, mreq)
}

func isICMPRefused(err error) bool {
	return err == unix.ECONNREFUSED
}
