// Package relay implements the tunneling endpoint's per-connection relay
// engine: connection lifecycle, the three-legged inbound/remote/outbound
// forwarding state machine, the obfuscated handshake codec, and the
// keep-alive subsystem.
package relay

import "github.com/hollowpath/udsrelay/internal/reactor"

// Transmission is the framed message transport the relay core reads and
// writes on both its inbound and outbound legs. It is a pinned external
// collaborator: the core never knows whether a Transmission is backed by a
// WebSocket, a QUIC stream, or anything else, only that it is
// read/write/close plus a strand to run completions on.
//
// Implementations must hand ReadAsync a freshly owned buffer on every call —
// never a region the core's completion could still be holding a reference
// into after a subsequent read reuses it. internal/transmission's WebSocket
// and QUIC implementations both allocate a new slice per read for exactly
// this reason.
type Transmission interface {
	// ReadAsync arranges for cb to be invoked exactly once with the bytes
	// read and their count. n < 1 signals closed/error.
	ReadAsync(cb func(buf []byte, n int))

	// WriteAsync writes buf[offset:offset+length] and invokes cb exactly
	// once with whether the write succeeded.
	WriteAsync(buf []byte, offset, length int, cb func(success bool))

	// Close is idempotent.
	Close() error

	// Context returns the reactor this Transmission's completions should be
	// safe to be serialized against. The relay core creates and owns its own
	// per-Connection reactor regardless; Context existing and being non-nil
	// is what the core treats as "a valid async context is available" when
	// Listen is called without an adopted socket, before either resolving
	// or parsing the remote endpoint.
	Context() *reactor.Reactor
}
