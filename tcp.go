package evnet

import (
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// streamDriver implements the adapter contract (spec.md §4.2) for both the
// Tcp and FramedTcp transports (spec.md §4.3, §4.4): the two differ only in
// whether a length-prefix decoder runs over each read, which this driver
// switches on its framed field. See framedtcp.go for the FramedTcp
// constructor.
type streamDriver struct {
	adapter    adapterID
	transport  Transport
	framed     bool
	locals     *registry[tcpLocal]
	remotes    *registry[tcpRemote]
	poll       poller
	ids        *idGenerator
	sink       eventSink
	metrics    Metrics
	maxBacklog int
}

type tcpLocal struct {
	fd      int
	addr    *net.TCPAddr
	backlog int
	logger  *slog.Logger
}

type tcpRemote struct {
	fd      int
	local   *net.TCPAddr
	peer    *net.TCPAddr
	state   atomic.Uint32 // connState
	backlog writeBacklog
	readBuf []byte
	decoder frameDecoder // only populated/used when the driver is framed
	dialID  string       // correlates connect's log lines with its eventual Connected event
	logger  *slog.Logger
}

func (r *tcpRemote) getState() connState  { return connState(r.state.Load()) }
func (r *tcpRemote) setState(s connState) { r.state.Store(uint32(s)) }

func newStreamDriver(transport Transport, poll poller, ids *idGenerator, sink eventSink, metrics Metrics, maxBacklog int) *streamDriver {
	return &streamDriver{
		adapter:    adapterForTransport(transport),
		transport:  transport,
		framed:     transport == FramedTcp,
		locals:     newRegistry[tcpLocal](),
		remotes:    newRegistry[tcpRemote](),
		poll:       poll,
		ids:        ids,
		sink:       sink,
		metrics:    metrics,
		maxBacklog: maxBacklog,
	}
}

func (d *streamDriver) listen(addr string, opts TCPOptions, backlog int) (ResourceId, *net.TCPAddr, error) {
	tcpAddr, err := resolveTCPAddr(addr)
	if err != nil {
		return 0, nil, err
	}
	fd, bound, err := listenTCPFd(tcpAddr, opts, backlog)
	if err != nil {
		return 0, nil, err
	}
	id := d.ids.nextLocal()
	d.locals.store(id, &tcpLocal{fd: fd, addr: bound, backlog: backlog, logger: opts.logger()})
	if err := d.poll.register(fd, id, interestRead); err != nil {
		d.locals.delete(id)
		closeFd(fd)
		return 0, nil, fmt.Errorf("%w: %v", ErrBindFailure, err)
	}
	opts.logger().Info("listening", "transport", d.transport, "resource_id", id, "addr", bound)
	return id, bound, nil
}

func (d *streamDriver) connect(addr string, opts TCPOptions) (Endpoint, *net.TCPAddr, error) {
	tcpAddr, err := resolveTCPAddr(addr)
	if err != nil {
		return Endpoint{}, nil, err
	}
	fd, local, _, err := dialTCPFd(tcpAddr, opts)
	if err != nil {
		return Endpoint{}, nil, err
	}
	if opts.Keepalive.Enabled {
		_ = applyTCPKeepalive(fd, opts.Keepalive)
	}
	id := d.ids.nextRemote()
	rem := &tcpRemote{fd: fd, local: local, peer: tcpAddr, readBuf: make([]byte, 64*1024), dialID: uuid.NewString(), logger: opts.logger()}
	rem.setState(connConnecting)
	d.remotes.store(id, rem)
	if err := d.poll.register(fd, id, interestWrite); err != nil {
		d.remotes.delete(id)
		closeFd(fd)
		return Endpoint{}, nil, fmt.Errorf("%w: %v", ErrBindFailure, err)
	}
	rem.logger.Debug("connecting", "transport", d.transport, "resource_id", id, "dial_id", rem.dialID, "addr", tcpAddr)
	return newEndpoint(id, tcpAddr), tcpAddr, nil
}

// connectSync blocks until the handshake completes or fails (spec.md §4.2).
// It uses net's blocking dialer internally (the simplest correct way to
// block on a handshake) and then hands the duplicated, now-nonblocking fd
// into this driver as an established remote for the poll to own.
func (d *streamDriver) connectSync(addr string, opts TCPOptions) (Endpoint, error) {
	tcpAddr, err := resolveTCPAddr(addr)
	if err != nil {
		return Endpoint{}, err
	}
	conn, err := net.DialTCP("tcp", opts.SourceAddress, tcpAddr)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %v", ErrConnectFailure, err)
	}
	raw, err := conn.SyscallConn()
	if err != nil {
		conn.Close()
		return Endpoint{}, fmt.Errorf("%w: %v", ErrConnectFailure, err)
	}
	var dupFD int
	var dupErr error
	if ctrlErr := raw.Control(func(fdv uintptr) { dupFD, dupErr = unix.Dup(int(fdv)) }); ctrlErr != nil {
		conn.Close()
		return Endpoint{}, fmt.Errorf("%w: %v", ErrConnectFailure, ctrlErr)
	}
	local, _ := conn.LocalAddr().(*net.TCPAddr)
	peer, _ := conn.RemoteAddr().(*net.TCPAddr)
	conn.Close()
	if dupErr != nil {
		return Endpoint{}, fmt.Errorf("%w: %v", ErrConnectFailure, dupErr)
	}
	if err := setNonblockingCloexec(dupFD); err != nil {
		unix.Close(dupFD)
		return Endpoint{}, err
	}
	if opts.Keepalive.Enabled {
		_ = applyTCPKeepalive(dupFD, opts.Keepalive)
	}
	id := d.ids.nextRemote()
	rem := &tcpRemote{fd: dupFD, local: local, peer: peer, readBuf: make([]byte, 64*1024), logger: opts.logger()}
	rem.setState(connReady)
	d.remotes.store(id, rem)
	if err := d.poll.register(dupFD, id, interestRead); err != nil {
		d.remotes.delete(id)
		closeFd(dupFD)
		return Endpoint{}, fmt.Errorf("%w: %v", ErrBindFailure, err)
	}
	return newEndpoint(id, peer), nil
}

func (d *streamDriver) send(ep Endpoint, payload []byte) SendStatus {
	id := ep.ResourceId()
	if d.framed {
		if max := d.transport.Info().MaxMessageSize; max != unboundedStream && len(payload) > max {
			return MaxPacketSizeExceeded
		}
	}
	rem, ok := d.remotes.load(id)
	if !ok {
		return ResourceNotFound
	}
	if rem.getState() != connReady {
		return ResourceNotAvailable
	}

	framed := payload
	if d.framed {
		var err error
		framed, err = appendFrame(nil, payload)
		if err != nil {
			return MaxPacketSizeExceeded
		}
	}

	if !rem.backlog.empty() {
		if !rem.backlog.push(framed, d.maxBacklog) {
			d.metrics.IncrementBacklogDropped()
			rem.logger.Warn("write backlog full, dropping send", "transport", d.transport, "resource_id", id)
			return ResourceNotAvailable
		}
		return Sent
	}

	n, err := unix.Write(rem.fd, framed)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			n = 0
		} else {
			d.failRemote(id, rem)
			return ResourceNotFound
		}
	}
	if n < len(framed) {
		if !rem.backlog.push(framed[n:], d.maxBacklog) {
			d.metrics.IncrementBacklogDropped()
			return ResourceNotAvailable
		}
		_ = d.poll.reregister(rem.fd, id, interestRead|interestWrite)
	}
	d.metrics.IncrementMessagesSent()
	d.metrics.IncrementBytesSent(int64(len(payload)))
	return Sent
}

func (d *streamDriver) remove(id ResourceId) bool {
	if l, ok := d.locals.load(id); ok {
		_ = d.poll.deregister(l.fd, id)
		closeFd(l.fd)
		return d.locals.delete(id)
	}
	if r, ok := d.remotes.load(id); ok {
		_ = d.poll.deregister(r.fd, id)
		closeFd(r.fd)
		return d.remotes.delete(id)
	}
	return false
}

func (d *streamDriver) isReady(id ResourceId) (bool, bool) {
	if _, ok := d.locals.load(id); ok {
		return true, true
	}
	r, ok := d.remotes.load(id)
	if !ok {
		return false, false
	}
	return r.getState() == connReady, true
}

func (d *streamDriver) shutdown() {
	d.remotes.rangeAll(func(id ResourceId, r *tcpRemote) bool {
		_ = d.poll.deregister(r.fd, id)
		closeFd(r.fd)
		return true
	})
	d.locals.rangeAll(func(id ResourceId, l *tcpLocal) bool {
		_ = d.poll.deregister(l.fd, id)
		closeFd(l.fd)
		return true
	})
}

func (d *streamDriver) onReadiness(r readiness) {
	if l, ok := d.locals.load(r.id); ok {
		d.acceptLoop(r.id, l)
		return
	}
	rem, ok := d.remotes.load(r.id)
	if !ok {
		return
	}
	if rem.getState() == connConnecting {
		d.completeConnect(r.id, rem)
		return
	}
	if r.write {
		d.drainBacklog(r.id, rem)
	}
	if r.read {
		d.readLoop(r.id, rem)
	}
}

func (d *streamDriver) acceptLoop(localID ResourceId, l *tcpLocal) {
	for {
		fd, peer, drained, err := acceptTCPFd(l.fd)
		if err != nil || drained {
			return
		}
		localAddr, _ := unix.Getsockname(fd)
		id := d.ids.nextRemote()
		rem := &tcpRemote{fd: fd, local: sockaddrToTCPAddr(localAddr), peer: peer, readBuf: make([]byte, 64*1024), logger: l.logger}
		rem.setState(connReady)
		d.remotes.store(id, rem)
		if err := d.poll.register(fd, id, interestRead); err != nil {
			d.remotes.delete(id)
			closeFd(fd)
			continue
		}
		d.metrics.IncrementAccepted()
		rem.logger.Info("accepted", "transport", d.transport, "resource_id", id, "listener", localID, "peer", peer)
		d.sink(Event{Kind: EventAccepted, Endpoint: newEndpoint(id, peer), Listener: localID})
	}
}

func (d *streamDriver) completeConnect(id ResourceId, rem *tcpRemote) {
	ok, err := connectCompleted(rem.fd)
	if err != nil || !ok {
		d.metrics.IncrementConnectFailed()
		rem.logger.Warn("connect failed", "transport", d.transport, "resource_id", id, "dial_id", rem.dialID, "err", err)
		d.sink(Event{Kind: EventConnected, Endpoint: newEndpoint(id, rem.peer), OK: false})
		_ = d.poll.deregister(rem.fd, id)
		closeFd(rem.fd)
		d.remotes.delete(id)
		return
	}
	rem.setState(connReady)
	_ = d.poll.reregister(rem.fd, id, interestRead)
	d.metrics.IncrementConnected()
	rem.logger.Info("connected", "transport", d.transport, "resource_id", id, "dial_id", rem.dialID, "peer", rem.peer)
	d.sink(Event{Kind: EventConnected, Endpoint: newEndpoint(id, rem.peer), OK: true})
}

func (d *streamDriver) readLoop(id ResourceId, rem *tcpRemote) {
	for {
		n, err := unix.Read(rem.fd, rem.readBuf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			d.disconnect(id, rem)
			return
		}
		if n == 0 {
			d.disconnect(id, rem)
			return
		}
		chunk := rem.readBuf[:n]
		d.metrics.IncrementBytesReceived(int64(n))
		if !d.framed {
			d.metrics.IncrementMessagesReceived()
			d.sink(Event{Kind: EventMessage, Endpoint: newEndpoint(id, rem.peer), Data: chunk})
			continue
		}
		err = rem.decoder.feed(chunk, func(msg []byte) error {
			d.metrics.IncrementMessagesReceived()
			d.sink(Event{Kind: EventMessage, Endpoint: newEndpoint(id, rem.peer), Data: msg})
			return nil
		})
		if err != nil {
			d.metrics.IncrementDecodeErrors()
			rem.logger.Warn("frame decode error", "transport", d.transport, "resource_id", id, "err", err)
			d.disconnect(id, rem)
			return
		}
	}
}

func (d *streamDriver) drainBacklog(id ResourceId, rem *tcpRemote) {
	for {
		chunk, ok := rem.backlog.front()
		if !ok {
			_ = d.poll.reregister(rem.fd, id, interestRead)
			return
		}
		n, err := unix.Write(rem.fd, chunk)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			d.disconnect(id, rem)
			return
		}
		rem.backlog.advance(n)
		if n < len(chunk) {
			return
		}
	}
}

func (d *streamDriver) disconnect(id ResourceId, rem *tcpRemote) {
	if rem.getState() == connClosed {
		return
	}
	rem.setState(connClosed)
	_ = d.poll.deregister(rem.fd, id)
	closeFd(rem.fd)
	d.remotes.delete(id)
	rem.decoder.reset()
	d.metrics.IncrementDisconnected()
	rem.logger.Info("disconnected", "transport", d.transport, "resource_id", id, "peer", rem.peer)
	d.sink(Event{Kind: EventDisconnected, Endpoint: newEndpoint(id, rem.peer)})
}

func (d *streamDriver) failRemote(id ResourceId, rem *tcpRemote) {
	d.disconnect(id, rem)
}
