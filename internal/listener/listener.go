// Package listener implements the admission-controlled accept loop that
// sits in front of internal/relay: for each configured endpoint it accepts
// raw connections of the configured wire kind, pairs them two-at-a-time
// into an inbound/outbound leg, drives the obfuscated handshake on both
// legs, and hands the pair to a new relay.Connection.
package listener

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/hollowpath/udsrelay/internal/config"
	"github.com/hollowpath/udsrelay/internal/logging"
	"github.com/hollowpath/udsrelay/internal/metrics"
	"github.com/hollowpath/udsrelay/internal/recovery"
	"github.com/hollowpath/udsrelay/internal/relay"
)

// pairing correlates the two physical connections that make up one
// relay.Connection. Both legs derive the same channel ID independently, by
// hashing the peer's IP address (see channelIDFor) — the first arrival for
// a given ID is parked here as the inbound leg; the second consumes and
// removes it, becoming the outbound leg. Neither leg needs any wire-level
// rendezvous data beyond a source address they already share.
type pairing struct {
	inbound relay.Transmission
}

// Server runs the accept loop for one config.EndpointConfig.
type Server struct {
	cfg    config.EndpointConfig
	logger *slog.Logger

	limiter *rate.Limiter

	inboundLn  roleListener
	outboundLn roleListener // nil when InboundKind == OutboundKind (one listener serves both roles)

	mu       sync.Mutex
	pending  map[uint32]*pairing
	nextConn atomic.Int64

	onConnection func(*relay.Connection)

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Server. onConnection is invoked once a paired
// relay.Connection has been built and told to Listen; it is typically used
// to track the Connection until its OnDisposed fires.
func New(cfg config.EndpointConfig, rl config.RateLimitConfig, logger *slog.Logger, onConnection func(*relay.Connection)) *Server {
	if logger == nil {
		logger = logging.NopLogger()
	}
	limit := rate.Limit(rl.RequestsPerSecond)
	if rl.RequestsPerSecond <= 0 {
		limit = rate.Inf
	}
	return &Server{
		cfg:          cfg,
		logger:       logger,
		limiter:      rate.NewLimiter(limit, rl.Burst),
		pending:      make(map[uint32]*pairing),
		onConnection: onConnection,
		stopCh:       make(chan struct{}),
	}
}

// companionAddress derives the second listen address used when a server's
// InboundKind and OutboundKind differ: same host, port+1. Config only
// carries a single ListenAddress per endpoint, but this process still
// needs exactly one listener per wire kind it serves.
func companionAddress(address string) (string, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return "", fmt.Errorf("listener: invalid listen_address %q: %w", address, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", fmt.Errorf("listener: invalid port in %q: %w", address, err)
	}
	return net.JoinHostPort(host, strconv.Itoa(port+1)), nil
}

// Start binds the endpoint's listener(s) and begins accepting.
func (s *Server) Start() error {
	inLn, err := newRoleListener(s.cfg.InboundKind, s.cfg.ListenAddress)
	if err != nil {
		return err
	}
	if err := inLn.start(); err != nil {
		return err
	}
	s.inboundLn = inLn

	if s.cfg.OutboundKind != s.cfg.InboundKind {
		companion, err := companionAddress(s.cfg.ListenAddress)
		if err != nil {
			inLn.stop()
			return err
		}
		outLn, err := newRoleListener(s.cfg.OutboundKind, companion)
		if err != nil {
			inLn.stop()
			return err
		}
		if err := outLn.start(); err != nil {
			inLn.stop()
			return err
		}
		s.outboundLn = outLn
	}

	s.logger.Info("endpoint listening",
		"endpoint", s.cfg.Name,
		"address", s.cfg.ListenAddress,
		"inbound_kind", s.cfg.InboundKind,
		"outbound_kind", s.cfg.OutboundKind)

	s.wg.Add(1)
	go s.acceptFrom(s.inboundLn)

	if s.outboundLn != nil {
		s.wg.Add(1)
		go s.acceptFrom(s.outboundLn)
	}

	return nil
}

// Addr returns the bound address of the inbound-role listener, primarily
// for tests and diagnostics when ListenAddress uses an ephemeral port.
func (s *Server) Addr() net.Addr {
	if s.inboundLn == nil {
		return nil
	}
	return s.inboundLn.addr()
}

// Stop closes both listeners and waits for their accept loops to drain.
func (s *Server) Stop() {
	close(s.stopCh)
	if s.inboundLn != nil {
		s.inboundLn.stop()
	}
	if s.outboundLn != nil {
		s.outboundLn.stop()
	}
	s.wg.Wait()
}

func (s *Server) acceptFrom(ln roleListener) {
	defer s.wg.Done()
	defer recovery.RecoverWithLog(s.logger, "listener.Server.acceptFrom")

	for a := range ln.accept() {
		if !s.limiter.Allow() {
			metrics.Default().AcceptsRateLimited.Inc()
			a.tr.Close()
			continue
		}
		metrics.Default().AcceptsTotal.Inc()
		s.pair(a)
	}
}

// channelIDFor derives a deterministic, non-zero channel ID from a peer
// address. Both legs of one logical tunnel arrive from the same source IP,
// so each leg computes the same ID independently and the second arrival
// finds the first already parked in s.pending — no shared secret or
// out-of-band rendezvous is needed to correlate them.
func channelIDFor(addr net.Addr) uint32 {
	host := addr.String()
	if tcp, ok := addr.(*net.TCPAddr); ok {
		host = tcp.IP.String()
	} else if h, _, err := net.SplitHostPort(addr.String()); err == nil {
		host = h
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(host))
	id := h.Sum32()
	if id == 0 {
		id = 1
	}
	return id
}

func (s *Server) pair(a accepted) {
	id := channelIDFor(a.peerAddr)

	s.mu.Lock()
	waiting, ok := s.pending[id]
	if !ok {
		s.pending[id] = &pairing{inbound: a.tr}
		s.mu.Unlock()

		s.acceptInbound(a.tr, id)
		return
	}
	delete(s.pending, id)
	s.mu.Unlock()

	s.connectOutbound(waiting.inbound, a.tr, id)
}

// acceptAlignmentFloor is the lowest alignment relay.AcceptServer accepts
// (512, two above relay.MinAlignment). The first leg's accept handshake is
// packed with at least this alignment, so an endpoint configured at
// relay.MinAlignment, or left at zero, still pairs.
const acceptAlignmentFloor = 512

// acceptInbound drives the server-role accept handshake on the first leg of
// a pair. If its sibling never arrives, the parked pairing and its
// Transmission leak; there is no unpaired-leg timeout in this listener.
func (s *Server) acceptInbound(tr relay.Transmission, id uint32) {
	alignment := s.cfg.Alignment
	if alignment < acceptAlignmentFloor {
		alignment = acceptAlignmentFloor
	}

	ok := relay.AcceptServer(tr, alignment, func(relay.Transmission) uint32 { return id }, func(success bool, channelID uint32) {
		if !success {
			s.logger.Debug("inbound handshake failed", logging.KeyChannel, id, "endpoint", s.cfg.Name)
			s.dropPending(channelID)
			tr.Close()
		}
	})
	if !ok {
		s.dropPending(id)
		tr.Close()
	}
}

func (s *Server) dropPending(id uint32) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

// connectOutbound drives the server-role connect handshake on the second
// leg, reusing the channel ID already assigned to the first. Once both
// handshakes have completed, a relay.Connection is constructed and told to
// dial the endpoint's remote target.
func (s *Server) connectOutbound(inbound, outbound relay.Transmission, id uint32) {
	alignment := s.cfg.Alignment
	if alignment <= 0 {
		alignment = relay.MinAlignment
	}

	ok := relay.ConnectServer(outbound, alignment, id, func(success bool, channelID uint32) {
		if !success {
			s.logger.Debug("outbound handshake failed", logging.KeyChannel, channelID, "endpoint", s.cfg.Name)
			inbound.Close()
			outbound.Close()
			return
		}
		s.buildConnection(inbound, outbound, channelID)
	})
	if !ok {
		inbound.Close()
		outbound.Close()
	}
}

func (s *Server) buildConnection(inbound, outbound relay.Transmission, channelID uint32) {
	connCfg := relay.Configuration{
		RemoteIP:        s.cfg.RemoteAddress,
		RemotePort:      s.cfg.RemotePort,
		ResolveAsDomain: s.cfg.ResolveAsDomain,
		Turbo:           s.cfg.Turbo,
		FastOpen:        s.cfg.FastOpen,
		KeepAlived:      s.cfg.KeepAlived,
		Alignment:       s.cfg.Alignment,
	}

	id := s.nextConn.Add(1)
	conn := relay.New(relay.Config{
		ID:            id,
		Configuration: connCfg,
		Inbound:       inbound,
		Outbound:      outbound,
		Logger:        s.logger,
		OnDisposed: func(int64) {
			s.logger.Debug("connection disposed", logging.KeyConnID, id, logging.KeyChannel, channelID, "endpoint", s.cfg.Name)
		},
	})

	if ok, err := conn.Listen(nil); !ok {
		s.logger.Debug("relay failed to arm", logging.KeyConnID, id, "endpoint", s.cfg.Name, logging.KeyError, err)
		metrics.Default().RemoteDialFailures.WithLabelValues("relay_arm_failed").Inc()
		conn.Dispose()
		return
	}

	s.logger.Info("connection established",
		logging.KeyConnID, id,
		logging.KeyChannel, channelID,
		"endpoint", s.cfg.Name,
		logging.KeyRemoteAddr, fmt.Sprintf("%s:%d", s.cfg.RemoteAddress, s.cfg.RemotePort))

	if s.onConnection != nil {
		s.onConnection(conn)
	}
}
