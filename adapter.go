package evnet

import (
	"net"
	"sync"
)

// This file holds the shared scaffolding every per-transport adapter builds
// on: the generic resource registries and the per-remote write backlog
// described in spec.md §5, plus the adapterDriver contract the engine
// dispatches readiness and resource-id-keyed actions through. listen/connect
// stay typed per transport (tcp.go, framedtcp.go, udp.go, ws.go) since their
// option sets differ; only what the engine needs to route generically is
// collapsed into one interface here.

// connState is the lifecycle of a connection-oriented remote (spec.md §4.10).
type connState uint8

const (
	connConnecting connState = iota
	connReady
	connClosed
)

// registry is a resource-id-keyed map guarded by one RWMutex per adapter, as
// required by spec.md §5: many concurrent sends may proceed once past the
// read lock, while register/deregister take the write lock.
type registry[T any] struct {
	mu      sync.RWMutex
	entries map[ResourceId]*T
}

func newRegistry[T any]() *registry[T] {
	return &registry[T]{entries: make(map[ResourceId]*T)}
}

func (r *registry[T]) store(id ResourceId, v *T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = v
}

func (r *registry[T]) load(id ResourceId) (*T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.entries[id]
	return v, ok
}

func (r *registry[T]) delete(id ResourceId) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	delete(r.entries, id)
	return ok
}

func (r *registry[T]) ids() []ResourceId {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ResourceId, 0, len(r.entries))
	for id := range r.entries {
		out = append(out, id)
	}
	return out
}

func (r *registry[T]) rangeAll(fn func(ResourceId, *T) bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, v := range r.entries {
		if !fn(id, v) {
			return
		}
	}
}

func (r *registry[T]) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// writeBacklog is the bounded FIFO of pending outbound chunks a remote
// accumulates when the kernel socket buffer is full (spec.md §5's
// back-pressure contract). It owns its own mutex so many remotes can be
// written to concurrently under just the registry's read lock.
type writeBacklog struct {
	mu     sync.Mutex
	chunks [][]byte
}

// push appends payload, returning false if the backlog is already at
// maxBacklog entries (the adapter-defined soft bound, spec.md §9 Open
// Questions — evnet documents DefaultMaxBacklog).
func (b *writeBacklog) push(payload []byte, maxBacklog int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.chunks) >= maxBacklog {
		return false
	}
	cp := append([]byte(nil), payload...)
	b.chunks = append(b.chunks, cp)
	return true
}

func (b *writeBacklog) front() ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.chunks) == 0 {
		return nil, false
	}
	return b.chunks[0], true
}

// advance drops n fully-written bytes from the front chunk, removing it
// entirely once it is exhausted.
func (b *writeBacklog) advance(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.chunks) == 0 {
		return
	}
	if n >= len(b.chunks[0]) {
		b.chunks = b.chunks[1:]
		return
	}
	b.chunks[0] = b.chunks[0][n:]
}

func (b *writeBacklog) empty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks) == 0
}

// adapterDriver is the contract the engine dispatches to, keyed by the
// resource id's adapter bits (spec.md §4.7): it handles readiness events and
// the resource-id-keyed controller actions common to every transport. Each
// concrete adapter (tcp.go, framedtcp.go, udp.go, ws.go) additionally
// exposes typed listen/connect/connectSync methods the façade (network.go)
// calls directly for that transport, since each transport's option set is
// distinct.
type adapterDriver interface {
	// onReadiness handles one readiness notification for a resource id this
	// driver owns, emitting events through the sink it was constructed with.
	onReadiness(r readiness)
	// send writes (or enqueues) payload to ep. The full endpoint (not just
	// the resource id) is needed because a Udp message endpoint synthesized
	// from a listener carries the peer address alongside a local's resource
	// id (spec.md §4.5) — the local has no per-peer registry entry to read
	// the address back out of.
	send(ep Endpoint, payload []byte) SendStatus
	// remove tears down a local or remote resource. Returns false if id was
	// not registered.
	remove(id ResourceId) bool
	// isReady reports whether id refers to a Ready remote; a registered
	// local always reports ready. ok is false if id is not registered at all.
	isReady(id ResourceId) (ready bool, ok bool)
	// shutdown tears down every resource this driver owns, for engine close.
	shutdown()
}

// eventSink is how an adapter hands a decoded event to the network
// processor. It never runs arbitrary user code directly — the processor's
// implementation (network.go) forwards into a bounded hand-off channel, so a
// slow node consumer applies backpressure to the processor thread rather
// than ever invoking a callback from inside the poll loop itself.
//
// An EventMessage's Data aliases the adapter's own read/decode buffer and is
// only valid until the sink returns — the adapter reuses that buffer on its
// very next read. A sink that crosses a goroutine boundary (as
// newNetworkProcessor's does) must copy Data before handing the event off.
type eventSink func(Event)

// resolveTCPAddr centralizes address-string parsing shared by Tcp,
// FramedTcp and Ws (for its plain-socket phase).
func resolveTCPAddr(addr string) (*net.TCPAddr, error) {
	a, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, wrapAddrErr(err)
	}
	return a, nil
}

func resolveUDPAddr(addr string) (*net.UDPAddr, error) {
	a, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, wrapAddrErr(err)
	}
	return a, nil
}
