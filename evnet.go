// Package evnet is an event-driven network message library that unifies
// stream-TCP, length-framed TCP, UDP and WebSocket transports behind a
// single non-blocking, single-poll engine. Applications create listeners,
// open outbound connections, send opaque byte payloads, and receive
// discrete message events without touching raw socket APIs or spinning up a
// goroutine per connection.
//
// A Note on Error Handling
//
// Like most networking APIs, most errors in evnet are asynchronous: a
// failed outbound connect surfaces as a Connected event with ok=false, a
// dead peer surfaces as a Disconnected event, and a full write backlog
// surfaces as a SendStatus return from Send. Error returns from the
// controller methods are reserved for immediately detectable problems, such
// as an unparsable address or a failed bind. A resource id that is no
// longer registered is reported by Send's ResourceNotFound status and by
// Remove returning false, not by an error.
package evnet

import (
	"fmt"
	"sort"
)

// Transport identifies one of the fixed set of wire transports evnet
// understands. The set is closed: evnet never adds transports at runtime.
type Transport int

const (
	// Tcp is a plain, unframed TCP byte stream. Message boundaries are not
	// preserved; a Message event carries whatever contiguous chunk the
	// kernel handed back.
	Tcp Transport = iota
	// FramedTcp is TCP with a self-describing variable-length size prefix
	// in front of every message (see frame.go).
	FramedTcp
	// Udp is connectionless datagram delivery; one datagram in, one
	// Message event out.
	Udp
	// Ws is the WebSocket protocol, plain or (via WsOptions.TLSConfig)
	// TLS-secured.
	Ws
)

func (t Transport) String() string {
	switch t {
	case Tcp:
		return "tcp"
	case FramedTcp:
		return "framed-tcp"
	case Udp:
		return "udp"
	case Ws:
		return "ws"
	default:
		return fmt.Sprintf("transport(%d)", int(t))
	}
}

// Info describes the static properties of a Transport, queryable without
// having an open resource. It supplements spec's data model with an
// accessor for the per-transport properties it only described in prose.
type Info struct {
	// MaxMessageSize is the theoretical per-message limit this transport
	// can carry. unboundedStream marks transports with no framing, where
	// "message" is just whatever the kernel handed back.
	MaxMessageSize int
	// IsConnectionOriented is true for transports with a connect/accept
	// lifecycle (Tcp, FramedTcp, Ws); false for Udp.
	IsConnectionOriented bool
	// IsPacketBased is true when every read yields exactly one discrete
	// message (FramedTcp, Udp, Ws); false for raw Tcp.
	IsPacketBased bool
	// SupportsMulticast is true only for Udp.
	SupportsMulticast bool
}

// unboundedStream is the sentinel MaxMessageSize for a transport, like raw
// Tcp, which imposes no framing and therefore no message-size bound of its
// own.
const unboundedStream = -1

// Info returns the static properties of t. Panics on an unknown transport:
// that indicates a programming error, not a runtime condition, since
// Transport is a closed set controlled entirely by this package.
func (t Transport) Info() Info {
	switch t {
	case Tcp:
		return Info{MaxMessageSize: unboundedStream, IsConnectionOriented: true, IsPacketBased: false}
	case FramedTcp:
		return Info{MaxMessageSize: maxFramedMessageSize, IsConnectionOriented: true, IsPacketBased: true}
	case Udp:
		return Info{MaxMessageSize: maxUDPNetworkPayload, IsConnectionOriented: false, IsPacketBased: true, SupportsMulticast: true}
	case Ws:
		return Info{MaxMessageSize: defaultMaxWSFrameSize, IsConnectionOriented: true, IsPacketBased: true}
	default:
		panic(fmt.Sprintf("evnet: unknown transport %d", int(t)))
	}
}

// SendStatus is the outcome of a Send call.
type SendStatus int

const (
	// Sent means the payload was handed to the kernel, or queued on the
	// per-remote backlog for later delivery.
	Sent SendStatus = iota
	// ResourceNotFound means the resource id is not (or is no longer)
	// registered.
	ResourceNotFound
	// ResourceNotAvailable means the remote exists but cannot currently
	// accept the write: its backlog is full, or (Ws) its handshake has not
	// completed.
	ResourceNotAvailable
	// MaxPacketSizeExceeded means the payload is larger than the
	// transport's bound for this resource.
	MaxPacketSizeExceeded
)

func (s SendStatus) String() string {
	switch s {
	case Sent:
		return "sent"
	case ResourceNotFound:
		return "resource-not-found"
	case ResourceNotAvailable:
		return "resource-not-available"
	case MaxPacketSizeExceeded:
		return "max-packet-size-exceeded"
	default:
		return "unknown"
	}
}

// NodeInfo is a read-only snapshot of a node's currently registered
// resources, for diagnostics and tests.
type NodeInfo struct {
	Locals  []ResourceId
	Remotes []ResourceId
}

func sortResourceIds(ids []ResourceId) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
