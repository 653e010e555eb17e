package listener

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"
	"nhooyr.io/websocket"

	"github.com/hollowpath/udsrelay/internal/config"
	"github.com/hollowpath/udsrelay/internal/logging"
	"github.com/hollowpath/udsrelay/internal/metrics"
	"github.com/hollowpath/udsrelay/internal/relay"
	"github.com/hollowpath/udsrelay/internal/transmission"
)

// backoff holds the reconnect defaults: 1s initial delay, doubling, capped
// at 60s, with 20% jitter so many endpoints reconnecting after a shared
// outage don't all retry in lockstep.
var backoff = struct {
	initial    time.Duration
	max        time.Duration
	multiplier float64
	jitter     float64
}{
	initial:    time.Second,
	max:        60 * time.Second,
	multiplier: 2.0,
	jitter:     0.2,
}

func nextBackoff(cur time.Duration) time.Duration {
	next := time.Duration(float64(cur) * backoff.multiplier)
	if next > backoff.max {
		next = backoff.max
	}
	return next
}

func withJitter(d time.Duration) time.Duration {
	spread := float64(d) * backoff.jitter
	offset := (rand.Float64()*2 - 1) * spread
	return d + time.Duration(offset)
}

// Dialer is the connect-role counterpart to Server: instead of accepting
// two sockets, it dials out for both, running the client-role handshake
// (AcceptClient/ConnectClient) on each before building a relay.Connection.
// It is what "udsrelay dial" runs, as opposed to "udsrelay serve"'s Server.
type Dialer struct {
	cfg    config.EndpointConfig
	logger *slog.Logger

	nextConn atomic.Int64
}

// NewDialer constructs a Dialer for one endpoint. ListenAddress is read as
// the address of the peer's accept-role listener to dial toward, following
// the same single-address/companion-port+1 convention Server uses when
// InboundKind and OutboundKind differ.
func NewDialer(cfg config.EndpointConfig, logger *slog.Logger) *Dialer {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Dialer{cfg: cfg, logger: logger}
}

// Dial establishes both legs and, on success, builds and arms a
// relay.Connection.
func (d *Dialer) Dial(ctx context.Context) (*relay.Connection, error) {
	return d.dial(ctx, nil)
}

// Run dials the endpoint, waits for the resulting Connection to dispose,
// and redials with exponential backoff until ctx is canceled.
func (d *Dialer) Run(ctx context.Context) error {
	delay := backoff.initial
	for {
		disposed := make(chan struct{})
		conn, err := d.dial(ctx, func() { close(disposed) })
		if err != nil {
			d.logger.Debug("dial attempt failed", "endpoint", d.cfg.Name, logging.KeyError, err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(withJitter(delay)):
			}
			delay = nextBackoff(delay)
			continue
		}

		delay = backoff.initial
		select {
		case <-ctx.Done():
			conn.Dispose()
			return ctx.Err()
		case <-disposed:
		}
	}
}

func (d *Dialer) dial(ctx context.Context, onDisposed func()) (*relay.Connection, error) {
	outboundAddr := d.cfg.ListenAddress
	inboundAddr := d.cfg.ListenAddress
	if d.cfg.OutboundKind != d.cfg.InboundKind {
		companion, err := companionAddress(d.cfg.ListenAddress)
		if err != nil {
			return nil, err
		}
		inboundAddr = companion
	}

	outboundTr, err := dialTransmission(ctx, d.cfg.OutboundKind, outboundAddr)
	if err != nil {
		return nil, fmt.Errorf("listener: dial outbound leg: %w", err)
	}

	inboundTr, err := dialTransmission(ctx, d.cfg.InboundKind, inboundAddr)
	if err != nil {
		outboundTr.Close()
		return nil, fmt.Errorf("listener: dial inbound leg: %w", err)
	}

	acceptDone := make(chan bool, 1)
	if !relay.AcceptClient(outboundTr, func(success bool, _ uint32) { acceptDone <- success }) {
		inboundTr.Close()
		outboundTr.Close()
		return nil, fmt.Errorf("listener: client-role accept handshake: %w", relay.ErrHandshakeRejected)
	}
	if ok := <-acceptDone; !ok {
		inboundTr.Close()
		outboundTr.Close()
		return nil, fmt.Errorf("listener: client-role accept handshake: %w", relay.ErrHandshakeRejected)
	}

	connectDone := make(chan bool, 1)
	if !relay.ConnectClient(inboundTr, func(success bool, _ uint32) { connectDone <- success }) {
		inboundTr.Close()
		outboundTr.Close()
		return nil, fmt.Errorf("listener: client-role connect handshake: %w", relay.ErrHandshakeRejected)
	}
	if ok := <-connectDone; !ok {
		inboundTr.Close()
		outboundTr.Close()
		return nil, fmt.Errorf("listener: client-role connect handshake: %w", relay.ErrHandshakeRejected)
	}

	connCfg := relay.Configuration{
		RemoteIP:        d.cfg.RemoteAddress,
		RemotePort:      d.cfg.RemotePort,
		ResolveAsDomain: d.cfg.ResolveAsDomain,
		Turbo:           d.cfg.Turbo,
		FastOpen:        d.cfg.FastOpen,
		KeepAlived:      d.cfg.KeepAlived,
		Alignment:       d.cfg.Alignment,
	}

	id := d.nextConn.Add(1)
	conn := relay.New(relay.Config{
		ID:            id,
		Configuration: connCfg,
		Inbound:       inboundTr,
		Outbound:      outboundTr,
		Logger:        d.logger,
		OnDisposed: func(int64) {
			d.logger.Debug("dialed connection disposed", logging.KeyConnID, id, "endpoint", d.cfg.Name)
			if onDisposed != nil {
				onDisposed()
			}
		},
	})

	if ok, err := conn.Listen(nil); !ok {
		conn.Dispose()
		metrics.Default().RemoteDialFailures.WithLabelValues("relay_arm_failed").Inc()
		return nil, fmt.Errorf("listener: relay failed to arm for endpoint %s: %w", d.cfg.Name, err)
	}

	d.logger.Info("dialed connection established", logging.KeyConnID, id, "endpoint", d.cfg.Name)
	return conn, nil
}

// dialTransmission dials one leg of the given wire kind, mirroring the
// three roleListener implementations' transports in reverse (dial instead
// of accept).
func dialTransmission(ctx context.Context, kind, address string) (relay.Transmission, error) {
	switch kind {
	case "tcp":
		conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", address)
		if err != nil {
			return nil, err
		}
		return transmission.NewTCP(conn), nil
	case "ws":
		conn, _, err := websocket.Dial(ctx, "ws://"+address+"/", nil)
		if err != nil {
			return nil, err
		}
		return transmission.NewWS(conn, context.Background()), nil
	case "quic":
		tlsCfg := &tls.Config{InsecureSkipVerify: true, NextProtos: []string{quicALPN}}
		qconn, err := quic.DialAddr(ctx, address, tlsCfg, nil)
		if err != nil {
			return nil, err
		}
		stream, err := qconn.OpenStreamSync(ctx)
		if err != nil {
			return nil, err
		}
		return transmission.NewQUIC(stream), nil
	default:
		return nil, fmt.Errorf("listener: unknown transmission kind %q", kind)
	}
}
