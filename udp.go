package evnet

import (
	"fmt"
	"log/slog"
	"net"
)

// udpDriver implements the Udp adapter (spec.md §4.5). Two distinct kinds of
// remote exist: an explicit connect() allocates its own ephemeral socket and
// registry entry (udpRemote); a datagram arriving at a listener has no
// per-peer kernel resource at all — its endpoint is synthesized as
// (listener's resource id, peer address) and routed back through the
// listener's own socket on send, per spec.md §4.5's "no kernel resource is
// exclusively owned".
type udpDriver struct {
	adapter adapterID
	locals  *registry[udpLocal]
	remotes *registry[udpRemote]
	poll    poller
	ids     *idGenerator
	sink    eventSink
	metrics Metrics
}

type udpLocal struct {
	fd      int
	addr    *net.UDPAddr
	readBuf []byte
	logger  *slog.Logger
}

type udpRemote struct {
	fd      int
	local   *net.UDPAddr
	peer    *net.UDPAddr
	readBuf []byte
	logger  *slog.Logger
}

func newUDPDriver(poll poller, ids *idGenerator, sink eventSink, metrics Metrics) *udpDriver {
	return &udpDriver{
		adapter: adapterUdp,
		locals:  newRegistry[udpLocal](),
		remotes: newRegistry[udpRemote](),
		poll:    poll,
		ids:     ids,
		sink:    sink,
		metrics: metrics,
	}
}

func (d *udpDriver) listen(addr string, opts UDPOptions) (ResourceId, *net.UDPAddr, error) {
	udpAddr, err := resolveUDPAddr(addr)
	if err != nil {
		return 0, nil, err
	}
	fd, bound, err := bindUDPFd(udpAddr, opts)
	if err != nil {
		return 0, nil, err
	}
	id := d.ids.nextLocal()
	d.locals.store(id, &udpLocal{fd: fd, addr: bound, readBuf: make([]byte, maxUDPNetworkPayload), logger: opts.logger()})
	if err := d.poll.register(fd, id, interestRead); err != nil {
		d.locals.delete(id)
		closeFd(fd)
		return 0, nil, fmt.Errorf("%w: %v", ErrBindFailure, err)
	}
	opts.logger().Info("listening", "transport", Udp, "resource_id", id, "addr", bound)
	return id, bound, nil
}

// connect binds an ephemeral local socket and records the remote address
// (spec.md §4.5). Unlike the connection-oriented transports there is no
// handshake: the remote is Ready the instant it is registered.
func (d *udpDriver) connect(addr string, opts UDPOptions) (Endpoint, *net.UDPAddr, error) {
	udpAddr, err := resolveUDPAddr(addr)
	if err != nil {
		return Endpoint{}, nil, err
	}
	fd, local, err := bindUDPFd(opts.SourceAddress, opts)
	if err != nil {
		return Endpoint{}, nil, err
	}
	id := d.ids.nextRemote()
	rem := &udpRemote{fd: fd, local: local, peer: udpAddr, readBuf: make([]byte, maxUDPNetworkPayload), logger: opts.logger()}
	d.remotes.store(id, rem)
	if err := d.poll.register(fd, id, interestRead); err != nil {
		d.remotes.delete(id)
		closeFd(fd)
		return Endpoint{}, nil, fmt.Errorf("%w: %v", ErrBindFailure, err)
	}
	rem.logger.Debug("connected", "transport", Udp, "resource_id", id, "peer", udpAddr)
	return newEndpoint(id, udpAddr), udpAddr, nil
}

// connectSync has no handshake to wait for on Udp; it is equivalent to
// connect but returns the ready Endpoint directly, per spec.md §4.2's
// general contract ("blocks until the handshake completes or fails" — for
// Udp that is immediate).
func (d *udpDriver) connectSync(addr string, opts UDPOptions) (Endpoint, error) {
	ep, _, err := d.connect(addr, opts)
	if err != nil {
		return Endpoint{}, err
	}
	return ep, nil
}

// send enforces the two-tier payload ceiling from spec.md §4.5: above
// maxUDPNetworkPayload it rejects without syscalling; above the safe-MTU
// maxUDPLocalPayload it still attempts the send (the kernel may fragment or
// reject it) but logs a warning, since silent fragmentation is the kind of
// thing a caller wants to know about.
func (d *udpDriver) send(ep Endpoint, payload []byte) SendStatus {
	if len(payload) > maxUDPNetworkPayload {
		return MaxPacketSizeExceeded
	}
	id := ep.ResourceId()
	if rem, ok := d.remotes.load(id); ok {
		if len(payload) > maxUDPLocalPayload {
			rem.logger.Warn("udp payload exceeds safe MTU", "resource_id", id, "size", len(payload), "safe_mtu", maxUDPLocalPayload)
		}
		if err := sendtoUDP(rem.fd, payload, rem.peer); err != nil {
			return ResourceNotFound
		}
		d.metrics.IncrementMessagesSent()
		d.metrics.IncrementBytesSent(int64(len(payload)))
		return Sent
	}
	if l, ok := d.locals.load(id); ok {
		peer, _ := ep.Addr().(*net.UDPAddr)
		if peer == nil {
			return ResourceNotFound
		}
		if len(payload) > maxUDPLocalPayload {
			l.logger.Warn("udp payload exceeds safe MTU", "resource_id", id, "size", len(payload), "safe_mtu", maxUDPLocalPayload)
		}
		if err := sendtoUDP(l.fd, payload, peer); err != nil {
			return ResourceNotFound
		}
		d.metrics.IncrementMessagesSent()
		d.metrics.IncrementBytesSent(int64(len(payload)))
		return Sent
	}
	return ResourceNotFound
}

func (d *udpDriver) remove(id ResourceId) bool {
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

// isReady: Udp remotes have no Connecting phase, so any registered id is
// always ready; spec.md §4.10 only defines the three-state machine for
// connection-oriented transports.
func (d *udpDriver) isReady(id ResourceId) (bool, bool) {
	if _, ok := d.remotes.load(id); ok {
		return true, true
	}
	if _, ok := d.locals.load(id); ok {
		return true, true
	}
	return false, false
}

func (d *udpDriver) shutdown() {
	d.remotes.rangeAll(func(id ResourceId, r *udpRemote) bool {
		_ = d.poll.deregister(r.fd, id)
		closeFd(r.fd)
		return true
	})
	d.locals.rangeAll(func(id ResourceId, l *udpLocal) bool {
		_ = d.poll.deregister(l.fd, id)
		closeFd(l.fd)
		return true
	})
}

// onReadiness never emits Disconnected: Udp remotes and locals remain valid
// until explicitly removed (spec.md §4.5, §8).
func (d *udpDriver) onReadiness(r readiness) {
	if l, ok := d.locals.load(r.id); ok {
		d.readLocalLoop(r.id, l)
		return
	}
	if rem, ok := d.remotes.load(r.id); ok {
		d.readRemoteLoop(r.id, rem)
	}
}

func (d *udpDriver) readLocalLoop(localID ResourceId, l *udpLocal) {
	for {
		n, from, drained, err := recvfromUDP(l.fd, l.readBuf)
		if err != nil || drained {
			return
		}
		d.metrics.IncrementMessagesReceived()
		d.metrics.IncrementBytesReceived(int64(n))
		d.sink(Event{Kind: EventMessage, Endpoint: newEndpoint(localID, from), Data: l.readBuf[:n]})
	}
}

func (d *udpDriver) readRemoteLoop(id ResourceId, rem *udpRemote) {
	for {
		n, from, drained, err := recvfromUDP(rem.fd, rem.readBuf)
		if err != nil || drained {
			return
		}
		d.metrics.IncrementMessagesReceived()
		d.metrics.IncrementBytesReceived(int64(n))
		peer := from
		if peer == nil {
			peer = rem.peer
		}
		d.sink(Event{Kind: EventMessage, Endpoint: newEndpoint(id, peer), Data: rem.readBuf[:n]})
	}
}
