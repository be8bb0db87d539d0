package evnet

import (
	"fmt"
	"net"
)

// Endpoint is the identity of an established connection, or a virtual
// sender synthesized for a datagram received on a bound Udp socket. The
// engine creates every Endpoint; application code only ever receives and
// compares them. Two endpoints are equal iff their resource ids are equal.
type Endpoint struct {
	id   ResourceId
	addr net.Addr
}

// newEndpoint is unexported: per spec.md §3, endpoints are "created by the
// engine; never by the user."
func newEndpoint(id ResourceId, addr net.Addr) Endpoint {
	return Endpoint{id: id, addr: addr}
}

// ResourceId returns the identifier of the resource this endpoint refers
// to. The engine may remove that resource later; sends to a stale endpoint
// then yield ResourceNotFound.
func (e Endpoint) ResourceId() ResourceId { return e.id }

// Addr returns the peer address associated with this endpoint.
func (e Endpoint) Addr() net.Addr { return e.addr }

// Equal reports whether two endpoints name the same resource.
func (e Endpoint) Equal(o Endpoint) bool { return e.id == o.id }

func (e Endpoint) String() string {
	if e.addr == nil {
		return fmt.Sprintf("endpoint(%d)", e.id)
	}
	return fmt.Sprintf("endpoint(%d,%s)", e.id, e.addr)
}

// RemoteAddr is a sum of a resolved socket address (host:port) or a raw
// string (a ws(s):// URL, or anything else that needs scheme-aware
// resolution). Tcp, FramedTcp and Udp only ever accept the Socket form; Ws
// accepts either, per spec.md §6.
type RemoteAddr struct {
	str   string
	isURL bool
}

// Socket builds a RemoteAddr from a resolved "host:port" pair.
func Socket(addr string) RemoteAddr { return RemoteAddr{str: addr} }

// Str builds a RemoteAddr from a raw string; used for Ws's ws(s):// URL
// form.
func Str(s string) RemoteAddr { return RemoteAddr{str: s, isURL: true} }

// IsURL reports whether this RemoteAddr was built with Str (a ws(s):// URL
// or similar), rather than Socket (a plain host:port pair).
func (a RemoteAddr) IsURL() bool { return a.isURL }

// String returns the underlying address text, regardless of which
// constructor built this RemoteAddr.
func (a RemoteAddr) String() string { return a.str }
