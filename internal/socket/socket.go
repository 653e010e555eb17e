// Package socket implements the relay core's remote socket factory:
// constructing and tuning the raw TCP socket the relay dials out to
// the peer, with platform socket options applied the way
// original_source's Socket::AdjustDefaultSocketOptional /
// SetTypeOfService / SetSignalPipeline / SetDontFragment sequence does.
package socket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// MinPort and MaxPort bound the valid TCP port range for a remote endpoint,
// matching original_source's IPEndPoint::MinPort / MaxPort checks.
const (
	MinPort = 0
	MaxPort = 65535
)

// ErrNoSocket is returned when the endpoint is rejected or the platform
// tuning step fails; callers treat it exactly like a connect failure.
var ErrNoSocket = errors.New("socket: unable to construct remote socket")

// Options mirrors the subset of relay.Configuration the factory needs.
type Options struct {
	Turbo    bool // enables TCP_NODELAY
	FastOpen bool // enables TCP_FASTOPEN
}

// Dial validates ep, opens a TCP socket tuned per opts, and connects it to
// ep. It returns ErrNoSocket for any validation or option-tuning failure —
// the relay core does not distinguish between "couldn't build the socket"
// and "couldn't tune it"; both count as no-socket.
func Dial(ctx context.Context, ep *net.TCPAddr, opts Options) (net.Conn, error) {
	if err := ValidateEndpoint(ep); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSocket, err)
	}

	dialer := &net.Dialer{
		Control: func(_, _ string, c syscall.RawConn) error {
			var tuneErr error
			if err := c.Control(func(fd uintptr) {
				tuneErr = tune(fd, opts)
			}); err != nil {
				return err
			}
			return tuneErr
		},
	}

	conn, err := dialer.DialContext(ctx, "tcp", ep.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSocket, err)
	}

	// TCP_NODELAY is exposed directly by net.TCPConn; use the stdlib path
	// for it instead of a raw setsockopt, the same knob original_source
	// reaches for via boost's tcp::no_delay option.
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(opts.Turbo)
	}

	return conn, nil
}

// ValidateEndpoint rejects unspecified/multicast addresses and out-of-range
// ports, matching original_source's NewRemoteSocket checks.
func ValidateEndpoint(ep *net.TCPAddr) error {
	if ep == nil || ep.IP == nil {
		return fmt.Errorf("nil endpoint")
	}
	if ep.IP.IsUnspecified() || ep.IP.IsMulticast() {
		return fmt.Errorf("endpoint address %s is unspecified or multicast", ep.IP)
	}
	if ep.Port <= MinPort || ep.Port > MaxPort {
		return fmt.Errorf("port %d out of range (%d, %d]", ep.Port, MinPort, MaxPort)
	}
	return nil
}
