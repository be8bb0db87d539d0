package evnet

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sys/unix"
)

// newTLSListener upgrades a plain listener to serve Wss. Certificate
// management itself stays an external collaborator (spec.md §1); evnet only
// consumes a *tls.Config the caller already built.
func newTLSListener(ln net.Listener, cfg *tls.Config) net.Listener {
	return tls.NewListener(ln, cfg)
}

// This file implements the Ws adapter (spec.md §4.6). gorilla/websocket's
// public API is blocking (ReadMessage/WriteMessage), which conflicts with
// the single non-blocking poll loop every other adapter drives directly.
// Rather than reimplement RFC 6455 framing over raw non-blocking buffers,
// each Ws remote gets a dedicated reader goroutine and a dedicated writer
// goroutine that do nothing but call the library's blocking methods and a
// small mailbox; a notify pipe, registered with the shared poll under that
// remote's resource id, wakes the processor thread the same way the
// engine's own cross-thread waker does. The processor thread remains the
// only thread that ever invokes the event sink, preserving spec.md §5's
// single-processor-thread contract even though the Ws data path never
// touches poll-driven raw sockets directly.

type wsDriver struct {
	locals     *registry[wsLocal]
	remotes    *registry[wsRemote]
	poll       poller
	ids        *idGenerator
	sink       eventSink
	metrics    Metrics
	maxBacklog int
}

type wsAcceptedConn struct {
	conn *websocket.Conn
	peer net.Addr
}

type wsLocal struct {
	ln               net.Listener
	srv              *http.Server
	notifyR, notifyW int
	mu               sync.Mutex
	pending          []wsAcceptedConn
	logger           *slog.Logger
}

type wsRemote struct {
	state     atomic.Uint32
	peer      net.Addr
	notifyR, notifyW int
	outbox    chan []byte
	maxFrame  int

	mu      sync.Mutex
	conn    *websocket.Conn
	dialErr error
	inbox   []wsInboundMsg

	closeOnce sync.Once
	dialID    string // correlates connect's log lines with its eventual Connected event
	logger    *slog.Logger
}

type wsInboundMsg struct {
	data []byte
	err  error
}

func newWSDriver(poll poller, ids *idGenerator, sink eventSink, metrics Metrics, maxBacklog int) *wsDriver {
	return &wsDriver{
		locals:     newRegistry[wsLocal](),
		remotes:    newRegistry[wsRemote](),
		poll:       poll,
		ids:        ids,
		sink:       sink,
		metrics:    metrics,
		maxBacklog: maxBacklog,
	}
}

func newNotifyPipe() (r, w int, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return -1, -1, fmt.Errorf("evnet: pipe2: %w", err)
	}
	return fds[0], fds[1], nil
}

func notify(w int) {
	_, err := unix.Write(w, []byte{1})
	_ = err // EAGAIN just means a wake is already pending; that's fine
}

func drainNotify(r int) {
	var buf [64]byte
	for {
		n, err := unix.Read(r, buf[:])
		if err != nil || n == 0 {
			return
		}
	}
}

// wsURL normalizes addr (either "host:port" or a ws(s)://... URL) to a
// ws(s):// URL string, per spec.md §6's RemoteAddr contract for Ws.
func wsURL(addr string) string {
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		return addr
	}
	return "ws://" + addr + "/"
}

func (d *wsDriver) listen(addr string, opts WsOptions) (ResourceId, *net.TCPAddr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrBindFailure, err)
	}
	if opts.TLSConfig != nil {
		ln = newTLSListener(ln, opts.TLSConfig)
	}
	notifyR, notifyW, err := newNotifyPipe()
	if err != nil {
		ln.Close()
		return 0, nil, err
	}
	id := d.ids.nextLocal()
	local := &wsLocal{ln: ln, notifyR: notifyR, notifyW: notifyW, logger: opts.logger()}

	upgrader := websocket.Upgrader{ReadBufferSize: opts.maxFrameSize(), WriteBufferSize: opts.maxFrameSize()}
	local.srv = &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		local.mu.Lock()
		local.pending = append(local.pending, wsAcceptedConn{conn: conn, peer: conn.RemoteAddr()})
		local.mu.Unlock()
		notify(local.notifyW)
	})}

	d.locals.store(id, local)
	if err := d.poll.register(local.notifyR, id, interestRead); err != nil {
		ln.Close()
		d.locals.delete(id)
		return 0, nil, fmt.Errorf("%w: %v", ErrBindFailure, err)
	}
	go local.srv.Serve(ln)

	bound, _ := ln.Addr().(*net.TCPAddr)
	opts.logger().Info("listening", "transport", Ws, "resource_id", id, "addr", bound)
	return id, bound, nil
}

// connect dials out asynchronously: the handshake runs on a dedicated
// goroutine, and a Connected event is delivered once it finishes (spec.md
// §4.2's async connect contract).
func (d *wsDriver) connect(addr string, opts WsOptions) (Endpoint, error) {
	u, err := url.Parse(wsURL(addr))
	if err != nil {
		return Endpoint{}, wrapAddrErr(err)
	}
	target, err := resolveTCPAddr(u.Host)
	if err != nil {
		return Endpoint{}, err
	}
	notifyR, notifyW, err := newNotifyPipe()
	if err != nil {
		return Endpoint{}, err
	}
	id := d.ids.nextRemote()
	rem := &wsRemote{notifyR: notifyR, notifyW: notifyW, peer: target, maxFrame: opts.maxFrameSize(), dialID: uuid.NewString(), logger: opts.logger()}
	rem.setState(connConnecting)
	d.remotes.store(id, rem)
	if err := d.poll.register(notifyR, id, interestRead); err != nil {
		d.remotes.delete(id)
		return Endpoint{}, err
	}
	rem.logger.Debug("connecting", "transport", Ws, "resource_id", id, "dial_id", rem.dialID, "url", u.String())

	dialer := websocket.Dialer{HandshakeTimeout: 30 * time.Second, TLSClientConfig: opts.TLSConfig}
	go func() {
		conn, _, dialErr := dialer.Dial(u.String(), nil)
		rem.mu.Lock()
		rem.conn = conn
		rem.dialErr = dialErr
		if conn != nil {
			rem.peer = conn.RemoteAddr()
		}
		rem.mu.Unlock()
		notify(rem.notifyW)
	}()
	return newEndpoint(id, target), nil
}

// connectSync blocks on the handshake directly rather than going through
// the notify-and-poll dance, since the caller is already blocked.
func (d *wsDriver) connectSync(addr string, opts WsOptions) (Endpoint, error) {
	u, err := url.Parse(wsURL(addr))
	if err != nil {
		return Endpoint{}, wrapAddrErr(err)
	}
	dialer := websocket.Dialer{HandshakeTimeout: 30 * time.Second, TLSClientConfig: opts.TLSConfig}
	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %v", ErrConnectFailure, err)
	}
	notifyR, notifyW, err := newNotifyPipe()
	if err != nil {
		conn.Close()
		return Endpoint{}, err
	}
	id := d.ids.nextRemote()
	rem := &wsRemote{notifyR: notifyR, notifyW: notifyW, maxFrame: opts.maxFrameSize(), conn: conn, peer: conn.RemoteAddr(), logger: opts.logger()}
	rem.setState(connReady)
	rem.outbox = make(chan []byte, d.maxBacklog)
	d.remotes.store(id, rem)
	if err := d.poll.register(notifyR, id, interestRead); err != nil {
		d.remotes.delete(id)
		conn.Close()
		return Endpoint{}, err
	}
	go d.readPump(id, rem)
	go d.writePump(rem)
	rem.logger.Info("connected", "transport", Ws, "resource_id", id, "peer", rem.peer)
	return newEndpoint(id, rem.peer), nil
}

func (d *wsDriver) send(ep Endpoint, payload []byte) SendStatus {
	rem, ok := d.remotes.load(ep.ResourceId())
	if !ok {
		return ResourceNotFound
	}
	if rem.getState() != connReady {
		return ResourceNotAvailable
	}
	if len(payload) > rem.maxFrame {
		return MaxPacketSizeExceeded
	}
	select {
	case rem.outbox <- append([]byte(nil), payload...):
		d.metrics.IncrementMessagesSent()
		d.metrics.IncrementBytesSent(int64(len(payload)))
		return Sent
	default:
		d.metrics.IncrementBacklogDropped()
		return ResourceNotAvailable
	}
}

func (d *wsDriver) remove(id ResourceId) bool {
	if l, ok := d.locals.load(id); ok {
		_ = d.poll.deregister(l.notifyR, id)
		l.srv.Close()
		unix.Close(l.notifyR)
		unix.Close(l.notifyW)
		return d.locals.delete(id)
	}
	if r, ok := d.remotes.load(id); ok {
		d.closeRemote(r)
		_ = d.poll.deregister(r.notifyR, id)
		unix.Close(r.notifyR)
		unix.Close(r.notifyW)
		return d.remotes.delete(id)
	}
	return false
}

func (d *wsDriver) isReady(id ResourceId) (bool, bool) {
	if _, ok := d.locals.load(id); ok {
		return true, true
	}
	r, ok := d.remotes.load(id)
	if !ok {
		return false, false
	}
	return r.getState() == connReady, true
}

func (d *wsDriver) shutdown() {
	d.remotes.rangeAll(func(id ResourceId, r *wsRemote) bool {
		d.closeRemote(r)
		_ = d.poll.deregister(r.notifyR, id)
		unix.Close(r.notifyR)
		unix.Close(r.notifyW)
		return true
	})
	d.locals.rangeAll(func(id ResourceId, l *wsLocal) bool {
		_ = d.poll.deregister(l.notifyR, id)
		l.srv.Close()
		unix.Close(l.notifyR)
		unix.Close(l.notifyW)
		return true
	})
}

func (d *wsDriver) closeRemote(r *wsRemote) {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		conn := r.conn
		r.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		if r.outbox != nil {
			close(r.outbox)
		}
	})
}

func (r *wsRemote) getState() connState  { return connState(r.state.Load()) }
func (r *wsRemote) setState(s connState) { r.state.Store(uint32(s)) }

func (d *wsDriver) onReadiness(r readiness) {
	if l, ok := d.locals.load(r.id); ok {
		d.drainLocal(r.id, l)
		return
	}
	rem, ok := d.remotes.load(r.id)
	if !ok {
		return
	}
	drainNotify(rem.notifyR)
	if rem.getState() == connConnecting {
		d.completeDial(r.id, rem)
		return
	}
	d.drainInbox(r.id, rem)
}

func (d *wsDriver) drainLocal(localID ResourceId, l *wsLocal) {
	drainNotify(l.notifyR)
	l.mu.Lock()
	accepted := l.pending
	l.pending = nil
	l.mu.Unlock()

	for _, a := range accepted {
		notifyR, notifyW, err := newNotifyPipe()
		if err != nil {
			a.conn.Close()
			continue
		}
		id := d.ids.nextRemote()
		rem := &wsRemote{notifyR: notifyR, notifyW: notifyW, conn: a.conn, peer: a.peer, maxFrame: defaultMaxWSFrameSize, logger: l.logger}
		rem.setState(connReady)
		rem.outbox = make(chan []byte, d.maxBacklog)
		d.remotes.store(id, rem)
		if err := d.poll.register(notifyR, id, interestRead); err != nil {
			d.remotes.delete(id)
			a.conn.Close()
			continue
		}
		go d.readPump(id, rem)
		go d.writePump(rem)
		d.metrics.IncrementAccepted()
		rem.logger.Info("accepted", "transport", Ws, "resource_id", id, "listener", localID, "peer", a.peer)
		d.sink(Event{Kind: EventAccepted, Endpoint: newEndpoint(id, a.peer), Listener: localID})
	}
}

func (d *wsDriver) completeDial(id ResourceId, rem *wsRemote) {
	rem.mu.Lock()
	conn, dialErr, peer := rem.conn, rem.dialErr, rem.peer
	rem.mu.Unlock()

	if dialErr != nil || conn == nil {
		d.metrics.IncrementConnectFailed()
		rem.logger.Warn("connect failed", "transport", Ws, "resource_id", id, "dial_id", rem.dialID, "err", dialErr)
		d.sink(Event{Kind: EventConnected, Endpoint: newEndpoint(id, peer), OK: false})
		_ = d.poll.deregister(rem.notifyR, id)
		unix.Close(rem.notifyR)
		unix.Close(rem.notifyW)
		d.remotes.delete(id)
		return
	}
	rem.outbox = make(chan []byte, d.maxBacklog)
	rem.setState(connReady)
	go d.readPump(id, rem)
	go d.writePump(rem)
	d.metrics.IncrementConnected()
	rem.logger.Info("connected", "transport", Ws, "resource_id", id, "dial_id", rem.dialID, "peer", peer)
	d.sink(Event{Kind: EventConnected, Endpoint: newEndpoint(id, peer), OK: true})
}

func (d *wsDriver) drainInbox(id ResourceId, rem *wsRemote) {
	for {
		rem.mu.Lock()
		if len(rem.inbox) == 0 {
			rem.mu.Unlock()
			return
		}
		msg := rem.inbox[0]
		rem.inbox = rem.inbox[1:]
		rem.mu.Unlock()

		if msg.err != nil {
			d.disconnect(id, rem)
			return
		}
		d.metrics.IncrementMessagesReceived()
		d.metrics.IncrementBytesReceived(int64(len(msg.data)))
		d.sink(Event{Kind: EventMessage, Endpoint: newEndpoint(id, rem.peer), Data: msg.data})
	}
}

func (d *wsDriver) disconnect(id ResourceId, rem *wsRemote) {
	if rem.getState() == connClosed {
		return
	}
	rem.setState(connClosed)
	d.closeRemote(rem)
	_ = d.poll.deregister(rem.notifyR, id)
	unix.Close(rem.notifyR)
	unix.Close(rem.notifyW)
	d.remotes.delete(id)
	d.metrics.IncrementDisconnected()
	rem.logger.Info("disconnected", "transport", Ws, "resource_id", id, "peer", rem.peer)
	d.sink(Event{Kind: EventDisconnected, Endpoint: newEndpoint(id, rem.peer)})
}

// readPump and writePump are the only goroutines that ever touch the
// library's blocking Conn; everything they learn is relayed back through
// rem.inbox + the notify pipe for the processor thread to pick up.
func (d *wsDriver) readPump(id ResourceId, rem *wsRemote) {
	for {
		_, data, err := rem.conn.ReadMessage()
		rem.mu.Lock()
		rem.inbox = append(rem.inbox, wsInboundMsg{data: data, err: err})
		rem.mu.Unlock()
		notify(rem.notifyW)
		if err != nil {
			return
		}
	}
}

func (d *wsDriver) writePump(rem *wsRemote) {
	for payload := range rem.outbox {
		if err := rem.conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
			rem.mu.Lock()
			rem.inbox = append(rem.inbox, wsInboundMsg{err: err})
			rem.mu.Unlock()
			notify(rem.notifyW)
			return
		}
	}
}
