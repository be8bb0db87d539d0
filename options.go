package evnet

import (
	"crypto/tls"
	"log/slog"
	"net"
	"time"
)

const (
	// DefaultMaxBacklog is the default soft bound on a remote's
	// pending-write backlog before Send starts returning
	// ResourceNotAvailable. spec.md §9 leaves the exact bound
	// adapter-defined and implementation-documented; the bound in effect is
	// NewNode's maxBacklog argument, shared by the Tcp, FramedTcp and Ws
	// adapters of that node. Udp keeps no backlog.
	DefaultMaxBacklog = 256

	// DefaultAcceptBacklog is the listen(2) backlog for connection-oriented
	// transports.
	DefaultAcceptBacklog = 1024

	maxFramedMessageSize  = 1<<32 - 1 // send's bound, so the widest length prefix it emits is the 4-byte one: up to 4GiB, see frame.go
	maxUDPNetworkPayload  = 65507     // theoretical IPv4 UDP payload ceiling
	maxUDPLocalPayload    = 1472      // safe MTU-sized payload (1500 - 20 IP - 8 UDP)
	defaultMaxWSFrameSize = 1 << 20   // 1 MiB, overridable via WsOptions.MaxFrameSize
)

// KeepaliveOptions configures TCP keepalive probing (spec.md §4.3).
type KeepaliveOptions struct {
	Enabled  bool
	Idle     time.Duration
	Interval time.Duration
	Retries  int
}

// TCPOptions configures Tcp and FramedTcp listeners and connections.
type TCPOptions struct {
	Keepalive     KeepaliveOptions
	SourceAddress *net.TCPAddr
	BindDevice    string
	Logger        *slog.Logger
}

// Validate reports whether o is internally consistent.
func (o TCPOptions) Validate() error {
	if o.Keepalive.Enabled && o.Keepalive.Idle < 0 {
		return ErrInvalidOptions
	}
	return nil
}

func (o TCPOptions) logger() *slog.Logger { return orDefaultLogger(o.Logger) }

// TCPOption is a functional option for TCPOptions.
type TCPOption func(*TCPOptions)

// WithKeepalive enables TCP keepalive with the given idle/interval/retry
// parameters.
func WithKeepalive(idle, interval time.Duration, retries int) TCPOption {
	return func(o *TCPOptions) {
		o.Keepalive = KeepaliveOptions{Enabled: true, Idle: idle, Interval: interval, Retries: retries}
	}
}

// WithSourceAddress binds outbound connections to a specific local address.
func WithSourceAddress(addr *net.TCPAddr) TCPOption {
	return func(o *TCPOptions) { o.SourceAddress = addr }
}

// WithBindDevice binds the socket to a named network interface (Linux
// SO_BINDTODEVICE; a no-op elsewhere, see fd_other.go).
func WithBindDevice(device string) TCPOption {
	return func(o *TCPOptions) { o.BindDevice = device }
}

// WithTCPLogger attaches a structured logger to this resource's adapter.
func WithTCPLogger(l *slog.Logger) TCPOption {
	return func(o *TCPOptions) { o.Logger = l }
}

func applyTCPOptions(opts []TCPOption) TCPOptions {
	var o TCPOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// UDPOptions configures Udp listeners and connections (spec.md §4.5).
type UDPOptions struct {
	SourceAddress *net.UDPAddr
	ReuseAddress  bool
	ReusePort     bool
	// BroadcastSelfReceive opts into the Linux compatibility mode that
	// makes broadcasts sent by this process observable on loopback.
	BroadcastSelfReceive bool
	Logger               *slog.Logger
}

func (o UDPOptions) logger() *slog.Logger { return orDefaultLogger(o.Logger) }

// UDPOption is a functional option for UDPOptions.
type UDPOption func(*UDPOptions)

func WithUDPSourceAddress(addr *net.UDPAddr) UDPOption {
	return func(o *UDPOptions) { o.SourceAddress = addr }
}

func WithReuseAddress() UDPOption { return func(o *UDPOptions) { o.ReuseAddress = true } }

func WithReusePort() UDPOption { return func(o *UDPOptions) { o.ReusePort = true } }

// WithBroadcastSelfReceive enables the Linux loopback-broadcast
// compatibility mode described in spec.md §4.5.
func WithBroadcastSelfReceive() UDPOption { return func(o *UDPOptions) { o.BroadcastSelfReceive = true } }

func WithUDPLogger(l *slog.Logger) UDPOption {
	return func(o *UDPOptions) { o.Logger = l }
}

func applyUDPOptions(opts []UDPOption) UDPOptions {
	var o UDPOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// WsOptions configures the WebSocket adapter (spec.md §4.6, §6).
type WsOptions struct {
	// TLSConfig, when non-nil, upgrades the underlying stream to TLS before
	// the WebSocket handshake (Wss). Certificate management itself is out
	// of scope per spec.md §1; evnet only consumes a *tls.Config the
	// caller has already built.
	TLSConfig *tls.Config
	// MaxFrameSize overrides defaultMaxWSFrameSize for this resource.
	MaxFrameSize int
	Logger       *slog.Logger
}

func (o WsOptions) logger() *slog.Logger { return orDefaultLogger(o.Logger) }

func (o WsOptions) maxFrameSize() int {
	if o.MaxFrameSize > 0 {
		return o.MaxFrameSize
	}
	return defaultMaxWSFrameSize
}

// WsOption is a functional option for WsOptions.
type WsOption func(*WsOptions)

func WithMaxFrameSize(n int) WsOption { return func(o *WsOptions) { o.MaxFrameSize = n } }

// WithTLSConfig upgrades the connection to Wss using the given TLS config.
func WithTLSConfig(cfg *tls.Config) WsOption { return func(o *WsOptions) { o.TLSConfig = cfg } }

func WithWsLogger(l *slog.Logger) WsOption { return func(o *WsOptions) { o.Logger = l } }

func applyWsOptions(opts []WsOption) WsOptions {
	var o WsOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

func orDefaultLogger(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}
