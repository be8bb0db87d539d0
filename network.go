package evnet

import (
	"net"
	"sync/atomic"
	"time"
)

// NetworkController is the shareable, thread-safe action surface (spec.md
// §6): listen/connect/connect_sync/send/remove/is_ready. Any number of
// goroutines may call its methods concurrently; the per-adapter registry
// locks (adapter.go) are what make that safe.
type NetworkController struct {
	eng *engine
}

// Listen binds or creates a local resource on transport using its default
// options.
func (c *NetworkController) Listen(transport Transport, addr string) (ResourceId, net.Addr, error) {
	switch transport {
	case Tcp:
		return c.ListenTCP(addr)
	case FramedTcp:
		return c.ListenFramedTCP(addr)
	case Udp:
		return c.ListenUDP(addr)
	case Ws:
		return c.ListenWS(addr)
	default:
		return 0, nil, ErrUnsupportedTransport
	}
}

func (c *NetworkController) ListenTCP(addr string, opts ...TCPOption) (ResourceId, *net.TCPAddr, error) {
	return c.eng.tcp.listen(addr, applyTCPOptions(opts), DefaultAcceptBacklog)
}

func (c *NetworkController) ListenFramedTCP(addr string, opts ...TCPOption) (ResourceId, *net.TCPAddr, error) {
	return c.eng.framed.listen(addr, applyTCPOptions(opts), DefaultAcceptBacklog)
}

func (c *NetworkController) ListenUDP(addr string, opts ...UDPOption) (ResourceId, *net.UDPAddr, error) {
	return c.eng.udp.listen(addr, applyUDPOptions(opts))
}

func (c *NetworkController) ListenWS(addr string, opts ...WsOption) (ResourceId, *net.TCPAddr, error) {
	return c.eng.ws.listen(addr, applyWsOptions(opts))
}

// Connect initiates an outbound connection on transport using default
// options; it returns the engine-built Endpoint immediately (spec.md §6),
// and for connection-oriented transports completion is reported
// asynchronously via Event{Kind: EventConnected} carrying that same
// Endpoint.
func (c *NetworkController) Connect(transport Transport, addr RemoteAddr) (Endpoint, net.Addr, error) {
	switch transport {
	case Tcp:
		return c.ConnectTCP(addr.String())
	case FramedTcp:
		return c.ConnectFramedTCP(addr.String())
	case Udp:
		return c.ConnectUDP(addr.String())
	case Ws:
		ep, err := c.eng.ws.connect(addr.String(), WsOptions{})
		return ep, ep.Addr(), err
	default:
		return Endpoint{}, nil, ErrUnsupportedTransport
	}
}

func (c *NetworkController) ConnectTCP(addr string, opts ...TCPOption) (Endpoint, *net.TCPAddr, error) {
	return c.eng.tcp.connect(addr, applyTCPOptions(opts))
}

func (c *NetworkController) ConnectFramedTCP(addr string, opts ...TCPOption) (Endpoint, *net.TCPAddr, error) {
	return c.eng.framed.connect(addr, applyTCPOptions(opts))
}

func (c *NetworkController) ConnectUDP(addr string, opts ...UDPOption) (Endpoint, *net.UDPAddr, error) {
	return c.eng.udp.connect(addr, applyUDPOptions(opts))
}

func (c *NetworkController) ConnectWS(addr string, opts ...WsOption) (Endpoint, error) {
	return c.eng.ws.connect(addr, applyWsOptions(opts))
}

// ConnectSync blocks until the handshake completes or fails (spec.md §4.2).
func (c *NetworkController) ConnectSync(transport Transport, addr RemoteAddr) (Endpoint, error) {
	switch transport {
	case Tcp:
		return c.eng.tcp.connectSync(addr.String(), TCPOptions{})
	case FramedTcp:
		return c.eng.framed.connectSync(addr.String(), TCPOptions{})
	case Udp:
		return c.eng.udp.connectSync(addr.String(), UDPOptions{})
	case Ws:
		return c.eng.ws.connectSync(addr.String(), WsOptions{})
	default:
		return Endpoint{}, ErrUnsupportedTransport
	}
}

// Send is non-blocking; see SendStatus for outcomes (spec.md §7).
func (c *NetworkController) Send(ep Endpoint, payload []byte) SendStatus {
	return c.eng.send(ep, payload)
}

// Remove tears down a local or remote resource, returning whether anything
// was removed.
func (c *NetworkController) Remove(id ResourceId) bool {
	return c.eng.remove(id)
}

// IsReady reports whether id refers to a Ready remote; a registered local
// always reports ready. ok is false if id is not currently registered.
func (c *NetworkController) IsReady(id ResourceId) (ready bool, ok bool) {
	return c.eng.isReady(id)
}

// NetworkProcessor is owned by a single background goroutine (spec.md §6):
// it runs the poll loop and hands decoded events to the node's fused event
// stream through a bounded channel. It never invokes user code itself —
// that happens in the node's for_each loop, on whichever goroutine called
// for_each.
type NetworkProcessor struct {
	eng    *engine
	poll   poller
	wk     waker
	events chan Event
	stop   atomic.Bool
	done   chan struct{}
}

func newNetworkProcessor(poll poller, metrics Metrics, maxBacklog, eventBuffer int) (*NetworkProcessor, *engine, error) {
	wk, err := poll.newWaker()
	if err != nil {
		return nil, nil, err
	}
	p := &NetworkProcessor{
		poll:   poll,
		wk:     wk,
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}
	p.eng = newEngine(poll, func(e Event) {
		if e.Kind == EventMessage && e.Data != nil {
			e.Data = append([]byte(nil), e.Data...)
		}
		p.events <- e
	}, metrics, maxBacklog)
	return p, p.eng, nil
}

// Events is the hand-off channel node.go's fusion loop drains alongside the
// signal queue.
func (p *NetworkProcessor) Events() <-chan Event { return p.events }

// run is the processor thread's body: wait for readiness, dispatch,
// repeat, until Stop is called. wait blocks indefinitely between events; Stop
// interrupts it via the waker rather than relying on a polling timeout.
func (p *NetworkProcessor) run() {
	defer close(p.done)
	var buf []readiness
	for !p.stop.Load() {
		var err error
		buf, err = p.poll.wait(buf[:0], -1*time.Millisecond)
		if err != nil {
			continue
		}
		for _, r := range buf {
			p.eng.dispatch(r)
		}
	}
}

// Stop wakes the processor thread and waits for its current iteration to
// finish (spec.md §5's cancellation contract).
func (p *NetworkProcessor) Stop() {
	if p.stop.CompareAndSwap(false, true) {
		_ = p.wk.wake()
		<-p.done
		_ = p.wk.close()
		p.eng.shutdown()
	}
}
