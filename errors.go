package evnet

import (
	"errors"
	"fmt"
)

// Sentinel errors returned synchronously from controller calls. Per
// spec.md §7, these cover only immediately-detectable problems; everything
// else involving the network is surfaced asynchronously through Message,
// Connected, Accepted or Disconnected events, or through SendStatus.
var (
	// ErrAddressResolution is returned when an address string cannot be
	// parsed or a hostname cannot be resolved.
	ErrAddressResolution = errors.New("evnet: address resolution failed")
	// ErrBindFailure is returned when a local listener/bound socket could
	// not be created.
	ErrBindFailure = errors.New("evnet: bind or listen failed")
	// ErrConnectFailure is returned synchronously from connect_sync. The
	// async connect returns it only when the connect call itself fails at
	// once; a handshake that fails later is reported as Connected with
	// ok=false.
	ErrConnectFailure = errors.New("evnet: connect failed")
	// ErrUnsupportedTransport is returned when a Transport value outside
	// the closed set is used.
	ErrUnsupportedTransport = errors.New("evnet: unsupported transport")
	// ErrNodeStopped names the stopped-node condition. No function in this
	// package returns it: controller calls made after the node has stopped
	// fail with the error of the step that fails (for example
	// ErrBindFailure when the closed poller refuses a registration).
	ErrNodeStopped = errors.New("evnet: node stopped")
	// ErrInvalidOptions is returned when an Options value fails
	// validation.
	ErrInvalidOptions = errors.New("evnet: invalid options")
)

func wrapAddrErr(err error) error {
	return fmt.Errorf("%w: %v", ErrAddressResolution, err)
}
