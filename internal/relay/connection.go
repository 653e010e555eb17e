package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"

	"github.com/hollowpath/udsrelay/internal/logging"
	"github.com/hollowpath/udsrelay/internal/metrics"
	"github.com/hollowpath/udsrelay/internal/reactor"
	"github.com/hollowpath/udsrelay/internal/resolver"
	"github.com/hollowpath/udsrelay/internal/socket"
)

var (
	// ErrDisposed is returned by Listen when the Connection has already
	// been disposed, before or during the call.
	ErrDisposed = errors.New("relay: connection disposed")

	// ErrAlreadyListening is returned by Listen on any call after the
	// first; Listen's CAS on listenCalled makes the active phase
	// single-entry.
	ErrAlreadyListening = errors.New("relay: connection already listening")

	// ErrInvalidConfiguration is returned by Listen and connectRemoteSocket
	// when the Connection's Configuration cannot be armed as given: an
	// unparsable RemoteIP, a remote endpoint socket.ValidateEndpoint
	// rejects, or a Listen(nil) call with neither leg holding a usable
	// async context.
	ErrInvalidConfiguration = errors.New("relay: invalid configuration")

	// ErrHandshakeRejected is the sentinel internal/listener wraps when a
	// leg's obfuscated handshake completes without the header validating.
	ErrHandshakeRejected = errors.New("relay: handshake rejected")
)

// Connection is one tunneled session: it owns an inbound Transmission, an
// outbound Transmission, and a raw TCP socket to a remote peer, and relays
// bytes between them.
type Connection struct {
	id     int64
	cfg    Configuration
	mss    int
	logger *slog.Logger

	rx *reactor.Reactor

	// mu guards every field a relay leg's completion and dispose() might
	// touch concurrently: dispose() runs its teardown under mu so a
	// completion racing it either observes the old, live value or the
	// nil'd, released one — never a half-torn-down one.
	mu       sync.Mutex
	inbound  Transmission
	outbound Transmission
	remote   net.Conn
	buffers  []byte
	res      *resolver.Resolver
	timeout  *reactor.TimerHandle

	disposed     atomic.Bool
	available    atomic.Bool
	listenCalled atomic.Bool

	bytesInboundToRemote  atomic.Int64
	bytesRemoteToOutbound atomic.Int64

	onDisposed func(id int64)
}

// Config bundles construction-time settings for a Connection.
type Config struct {
	ID            int64
	Configuration Configuration
	Inbound       Transmission
	Outbound      Transmission
	Logger        *slog.Logger
	OnDisposed    func(id int64)
}

// New constructs a Connection. It does not begin relaying until Listen is
// called.
func New(cfg Config) *Connection {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}

	c := &Connection{
		id:         cfg.ID,
		cfg:        cfg.Configuration,
		logger:     logger,
		inbound:    cfg.Inbound,
		outbound:   cfg.Outbound,
		onDisposed: cfg.OnDisposed,
	}
	c.rx = reactor.NewWithRecovery(logger, "relay.connection", func() {
		c.dispose(disposeReasonPanic)
	})
	return c
}

// ID returns the opaque correlator assigned by the owner; the core never
// interprets it.
func (c *Connection) ID() int64 {
	return c.id
}

// hasAsyncContext reports whether a valid async context is obtainable
// from inbound or else outbound; false if neither is set.
func (c *Connection) hasAsyncContext() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inbound != nil && c.inbound.Context() != nil {
		return true
	}
	return c.outbound != nil && c.outbound.Context() != nil
}

// Listen begins the connection's active phase. If network is non-nil it is
// adopted directly as the remote socket (the caller already accepted or
// dialed it); otherwise the configured remote endpoint is resolved or
// parsed and dialed. Returns whether the relay armed successfully — for the
// resolve-as-domain path this is "the resolution was kicked off", not "the
// relay is up yet". A non-nil error further identifies why arming failed:
// ErrDisposed, ErrAlreadyListening, or an error wrapping
// ErrInvalidConfiguration; when the legs fail to arm on an adopted socket
// the error matches none of these sentinels.
func (c *Connection) Listen(network net.Conn) (bool, error) {
	if c.disposed.Load() {
		return false, ErrDisposed
	}
	if !c.listenCalled.CompareAndSwap(false, true) {
		return false, ErrAlreadyListening
	}

	c.mss = c.cfg.mss()
	c.mu.Lock()
	c.buffers = make([]byte, c.mss)
	c.mu.Unlock()

	if network != nil {
		c.mu.Lock()
		c.remote = network
		c.mu.Unlock()
		ok := c.establishRelay()
		c.available.Store(ok)
		if !ok {
			return false, fmt.Errorf("relay: failed to arm relay legs")
		}
		return true, nil
	}

	if !c.hasAsyncContext() {
		return false, fmt.Errorf("%w: neither leg has a usable async context", ErrInvalidConfiguration)
	}

	if c.cfg.ResolveAsDomain {
		res := resolver.New(c.rx)
		c.mu.Lock()
		c.res = res
		c.mu.Unlock()

		res.Resolve(c.cfg.RemoteIP, c.cfg.RemotePort, func(ep *net.TCPAddr) {
			c.mu.Lock()
			c.res = nil
			c.mu.Unlock()

			if c.disposed.Load() {
				return
			}
			if ep == nil {
				// Resolution failure leaves the Connection un-armed; the
				// caller detects this via the absence of Available().
				return
			}
			_, _ = c.connectRemoteSocket(ep)
		})
		return true, nil
	}

	ip := net.ParseIP(c.cfg.RemoteIP)
	if ip == nil {
		return false, fmt.Errorf("%w: %q is not a valid IP address", ErrInvalidConfiguration, c.cfg.RemoteIP)
	}
	return c.connectRemoteSocket(&net.TCPAddr{IP: ip, Port: c.cfg.RemotePort})
}

// connectRemoteSocket builds (component B) and connects the remote socket.
// Endpoint validation happens synchronously so a malformed configuration is
// rejected without spawning a goroutine; the dial itself runs off-strand and
// its outcome is posted back.
func (c *Connection) connectRemoteSocket(ep *net.TCPAddr) (bool, error) {
	if err := socket.ValidateEndpoint(ep); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}

	opts := socket.Options{Turbo: c.cfg.Turbo, FastOpen: c.cfg.FastOpen}

	var conn net.Conn
	var dialErr error
	c.rx.Spawn(func() {
		conn, dialErr = socket.Dial(context.Background(), ep, opts)
	}, func() {
		if c.disposed.Load() {
			if conn != nil {
				conn.Close()
			}
			return
		}
		if dialErr != nil {
			c.logger.Debug("remote connect failed",
				logging.KeyConnID, c.id,
				logging.KeyRemoteAddr, ep.String(),
				logging.KeyError, dialErr)
			c.dispose(disposeReasonTransfer)
			return
		}

		c.mu.Lock()
		c.remote = conn
		c.mu.Unlock()

		ok := c.establishRelay()
		c.available.Store(ok)
		if !ok {
			c.dispose(disposeReasonTransfer)
		}
	})
	return true, nil
}

// establishRelay arms both data legs and, if configured, the keep-alive
// legs. Returns true iff every armed leg reported success.
func (c *Connection) establishRelay() bool {
	okIn := c.armInboundRead()
	okOut := c.armRemoteRead()
	available := okIn && okOut

	if available && c.cfg.KeepAlived {
		okDrain := c.armKeepaliveDrain()
		okSend := c.armKeepaliveSend()
		available = okDrain && okSend
	}

	if available {
		metrics.Default().ConnectionsActive.Inc()
		metrics.Default().ConnectionsTotal.Inc()
	}

	return available
}

// Available reports whether both directions of the relay are armed and the
// Connection has not since disposed.
func (c *Connection) Available() bool {
	return c.available.Load() && !c.disposed.Load()
}

// IsDisposed mirrors original_source's IsDisposed: true once disposed, or
// while any of inbound/outbound/remote/buffers has not yet been assigned
// (i.e. also true before Listen is ever called).
func (c *Connection) IsDisposed() bool {
	if c.disposed.Load() {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inbound == nil || c.outbound == nil || c.remote == nil || c.buffers == nil
}

// Close is an alias for Dispose.
func (c *Connection) Close() error {
	c.dispose(disposeReasonClosed)
	return nil
}

// Dispose is the disposal barrier's public name.
func (c *Connection) Dispose() {
	c.dispose(disposeReasonClosed)
}

const (
	disposeReasonClosed   = "closed"
	disposeReasonPeer     = "peer_closed"
	disposeReasonTransfer = "transport_failure"
	disposeReasonPanic    = "strand_panic"
)

// dispose is the single-firing disposal barrier. The first caller
// through the disposed CAS releases every owned resource exactly once;
// every later or concurrent caller is a no-op.
func (c *Connection) dispose(reason string) {
	if !c.disposed.CompareAndSwap(false, true) {
		return
	}

	c.mu.Lock()
	inbound := c.inbound
	outbound := c.outbound
	remote := c.remote
	res := c.res
	timeout := c.timeout
	c.inbound = nil
	c.outbound = nil
	c.remote = nil
	c.res = nil
	c.timeout = nil
	c.buffers = nil
	c.mu.Unlock()

	if inbound != nil {
		inbound.Close()
	}
	if outbound != nil {
		outbound.Close()
	}
	if remote != nil {
		remote.Close()
	}
	if res != nil {
		res.Cancel()
	}
	if timeout != nil {
		c.rx.ClearTimeout(timeout)
	}
	c.rx.Stop()

	metrics.Default().ConnectionsActive.Dec()
	metrics.Default().DisposalsTotal.WithLabelValues(reason).Inc()

	c.logger.Debug("connection disposed",
		logging.KeyConnID, c.id,
		logging.KeyReason, reason,
		"inbound_to_remote", humanize.Bytes(uint64(c.bytesInboundToRemote.Load())),
		"remote_to_outbound", humanize.Bytes(uint64(c.bytesRemoteToOutbound.Load())))

	if cb := c.onDisposed; cb != nil {
		c.onDisposed = nil
		cb(c.id)
	}
}

func (c *Connection) snapshotInbound() Transmission {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inbound
}

func (c *Connection) snapshotOutbound() Transmission {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outbound
}

func (c *Connection) snapshotRemote() net.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

func (c *Connection) snapshotBuffers() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffers
}
