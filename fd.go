package evnet

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// This file holds the raw, non-blocking socket plumbing shared by the Tcp,
// FramedTcp and Udp adapters. Rather than wrap net.Conn/net.Listener (whose
// internal runtime poller would fight with evnet's own poller for the same
// fd), evnet opens sockets directly with golang.org/x/sys/unix the way the
// retrieval pack's raw-fd event loops do, and drives them exclusively
// through poller. Ws is the one adapter that does NOT go through here at
// all (see ws.go's design note): it listens with net.Listen and dials with
// gorilla/websocket's Dialer.

func tcpSockaddr(addr *net.TCPAddr) (unix.Sockaddr, int, error) {
	if addr == nil {
		return &unix.SockaddrInet4{}, unix.AF_INET, nil
	}
	if ip4 := addr.IP.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		copy(sa.Addr[:], ip4)
		return sa, unix.AF_INET, nil
	}
	sa := &unix.SockaddrInet6{Port: addr.Port}
	copy(sa.Addr[:], addr.IP.To16())
	return sa, unix.AF_INET6, nil
}

func udpSockaddr(addr *net.UDPAddr) (unix.Sockaddr, int, error) {
	if addr == nil {
		return &unix.SockaddrInet4{}, unix.AF_INET, nil
	}
	if ip4 := addr.IP.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		copy(sa.Addr[:], ip4)
		return sa, unix.AF_INET, nil
	}
	sa := &unix.SockaddrInet6{Port: addr.Port}
	copy(sa.Addr[:], addr.IP.To16())
	return sa, unix.AF_INET6, nil
}

func sockaddrToTCPAddr(sa unix.Sockaddr) *net.TCPAddr {
	switch s := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: append([]byte(nil), s.Addr[:]...), Port: s.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: append([]byte(nil), s.Addr[:]...), Port: s.Port}
	default:
		return &net.TCPAddr{}
	}
}

func sockaddrToUDPAddr(sa unix.Sockaddr) *net.UDPAddr {
	switch s := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.UDPAddr{IP: append([]byte(nil), s.Addr[:]...), Port: s.Port}
	case *unix.SockaddrInet6:
		return &net.UDPAddr{IP: append([]byte(nil), s.Addr[:]...), Port: s.Port}
	default:
		return &net.UDPAddr{}
	}
}

func setNonblockingCloexec(fd int) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		return fmt.Errorf("evnet: set nonblocking: %w", err)
	}
	unix.CloseOnExec(fd)
	return nil
}

func setReuseAddr(fd int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
}

func setReusePort(fd int) error {
	return setsockoptReusePort(fd)
}

// applyTCPKeepalive configures SO_KEEPALIVE plus idle/interval/retry counts
// per TCPOptions.Keepalive (spec.md §4.3). Probe count is not portably
// settable via a single unix constant name across platforms handled the
// same way, so it is applied best-effort and ignored where unsupported.
func applyTCPKeepalive(fd int, ka KeepaliveOptions) error {
	if !ka.Enabled {
		return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 0)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
		return err
	}
	if ka.Idle > 0 {
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, tcpKeepIdleOpt, int(ka.Idle/time.Second))
	}
	if ka.Interval > 0 {
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, tcpKeepIntvlOpt, int(ka.Interval/time.Second))
	}
	if ka.Retries > 0 {
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, tcpKeepCntOpt, ka.Retries)
	}
	return nil
}

func newStreamSocket(domain int) (int, error) {
	fd, err := unix.Socket(domain, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, fmt.Errorf("evnet: socket: %w", err)
	}
	if err := setNonblockingCloexec(fd); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func newDatagramSocket(domain int) (int, error) {
	fd, err := unix.Socket(domain, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return -1, fmt.Errorf("evnet: socket: %w", err)
	}
	if err := setNonblockingCloexec(fd); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// listenTCPFd binds and listens a non-blocking TCP socket, returning the fd
// and the address actually bound (useful when addr's port is 0).
func listenTCPFd(addr *net.TCPAddr, opts TCPOptions, backlog int) (fd int, bound *net.TCPAddr, err error) {
	sa, domain, err := tcpSockaddr(addr)
	if err != nil {
		return -1, nil, err
	}
	fd, err = newStreamSocket(domain)
	if err != nil {
		return -1, nil, err
	}
	if err := setReuseAddr(fd); err != nil {
		unix.Close(fd)
		return -1, nil, err
	}
	if opts.BindDevice != "" {
		_ = bindToDevice(fd, opts.BindDevice)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, nil, fmt.Errorf("%w: bind: %v", ErrBindFailure, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, nil, fmt.Errorf("%w: listen: %v", ErrBindFailure, err)
	}
	localSA, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return -1, nil, err
	}
	return fd, sockaddrToTCPAddr(localSA), nil
}

// acceptTCPFd accepts one pending connection from listenFD. Returns
// (-1, nil, true, nil) when the accept queue is drained (EAGAIN).
func acceptTCPFd(listenFD int) (fd int, remote *net.TCPAddr, drained bool, err error) {
	nfd, sa, err := unix.Accept(listenFD)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return -1, nil, true, nil
		}
		return -1, nil, false, err
	}
	if err := setNonblockingCloexec(nfd); err != nil {
		unix.Close(nfd)
		return -1, nil, false, err
	}
	return nfd, sockaddrToTCPAddr(sa), false, nil
}

// dialTCPFd starts a non-blocking connect. inProgress is true when the
// three-way handshake has not completed synchronously and the caller must
// wait for writable readiness (spec.md §4.2 connect's async contract).
func dialTCPFd(addr *net.TCPAddr, opts TCPOptions) (fd int, local *net.TCPAddr, inProgress bool, err error) {
	sa, domain, err := tcpSockaddr(addr)
	if err != nil {
		return -1, nil, false, err
	}
	fd, err = newStreamSocket(domain)
	if err != nil {
		return -1, nil, false, err
	}
	if opts.SourceAddress != nil {
		srcSA, _, _ := tcpSockaddr(opts.SourceAddress)
		if err := unix.Bind(fd, srcSA); err != nil {
			unix.Close(fd)
			return -1, nil, false, fmt.Errorf("%w: bind source: %v", ErrBindFailure, err)
		}
	}
	if opts.BindDevice != "" {
		_ = bindToDevice(fd, opts.BindDevice)
	}
	err = unix.Connect(fd, sa)
	if err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return -1, nil, false, fmt.Errorf("%w: connect: %v", ErrConnectFailure, err)
	}
	localSA, _ := unix.Getsockname(fd)
	return fd, sockaddrToTCPAddr(localSA), err == unix.EINPROGRESS, nil
}

// connectCompleted checks SO_ERROR after writable readiness fires on a
// connecting socket, per spec.md §4.2's "test handshake completion".
func connectCompleted(fd int) (ok bool, err error) {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return false, err
	}
	return errno == 0, nil
}

func bindUDPFd(addr *net.UDPAddr, opts UDPOptions) (fd int, bound *net.UDPAddr, err error) {
	sa, domain, err := udpSockaddr(addr)
	if err != nil {
		return -1, nil, err
	}
	fd, err = newDatagramSocket(domain)
	if err != nil {
		return -1, nil, err
	}
	if opts.ReuseAddress {
		if err := setReuseAddr(fd); err != nil {
			unix.Close(fd)
			return -1, nil, err
		}
	}
	if opts.ReusePort {
		if err := setReusePort(fd); err != nil {
			unix.Close(fd)
			return -1, nil, err
		}
	}
	if opts.BroadcastSelfReceive {
		_ = applyLoopbackBroadcastCompat(fd)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, nil, fmt.Errorf("%w: bind: %v", ErrBindFailure, err)
	}
	if addr != nil && addr.IP != nil && addr.IP.IsMulticast() {
		if err := joinMulticastGroup(fd, addr.IP); err != nil {
			unix.Close(fd)
			return -1, nil, fmt.Errorf("%w: join multicast: %v", ErrBindFailure, err)
		}
	}
	localSA, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return -1, nil, err
	}
	return fd, sockaddrToUDPAddr(localSA), nil
}

func recvfromUDP(fd int, buf []byte) (n int, from *net.UDPAddr, drained bool, err error) {
	n, sa, err := unix.Recvfrom(fd, buf, 0)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, nil, true, nil
		}
		if isICMPRefused(err) {
			// spec.md §4.5: an ICMP-signalled refusal on a connected UDP
			// socket is silently consumed; treat as "try again".
			return recvfromUDP(fd, buf)
		}
		return 0, nil, false, err
	}
	return n, sockaddrToUDPAddr(sa), false, nil
}

func sendtoUDP(fd int, payload []byte, to *net.UDPAddr) error {
	if to == nil {
		_, err := unix.Write(fd, payload)
		return err
	}
	sa, _, err := udpSockaddr(to)
	if err != nil {
		return err
	}
	return unix.Sendto(fd, payload, 0, sa)
}

func closeFd(fd int) error {
	return unix.Close(fd)
}
