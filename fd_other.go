//go:build !linux

package evnet

import (
	"net"

	"golang.org/x/sys/unix"
)

// Non-Linux fallback socket option names and helpers. SO_BINDTODEVICE has
// no portable equivalent and is a no-op outside Linux; the
// loopback-broadcast compatibility mode (spec.md §4.5) sets SO_BROADCAST
// here just as it does on Linux.
const (
	tcpKeepIdleOpt  = unix.TCP_KEEPALIVE // BSD/Darwin spelling of the idle-time option
	tcpKeepIntvlOpt = unix.TCP_KEEPINTVL
	tcpKeepCntOpt   = unix.TCP_KEEPCNT
)

func setsockoptReusePort(fd int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
}

func bindToDevice(fd int, device string) error {
	return nil // no portable equivalent outside Linux
}

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
