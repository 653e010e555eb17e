package listener

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"nhooyr.io/websocket"

	"github.com/quic-go/quic-go"

	"github.com/hollowpath/udsrelay/internal/relay"
	"github.com/hollowpath/udsrelay/internal/transmission"
)

// accepted is one raw connection handed up from a roleListener, still
// unpaired: peerAddr is the value the Server hashes into a channel ID to
// correlate it with its sibling leg.
type accepted struct {
	tr       relay.Transmission
	peerAddr net.Addr
}

// roleListener accepts raw connections of one wire kind (tcp, ws, or quic)
// and adapts each into a relay.Transmission.
type roleListener interface {
	start() error
	accept() <-chan accepted
	addr() net.Addr
	stop()
}

func newRoleListener(kind, address string) (roleListener, error) {
	switch kind {
	case "tcp":
		return &tcpRoleListener{address: address, acceptCh: make(chan accepted, 8)}, nil
	case "ws":
		return &wsRoleListener{address: address, acceptCh: make(chan accepted, 8)}, nil
	case "quic":
		return &quicRoleListener{address: address, acceptCh: make(chan accepted, 8)}, nil
	default:
		return nil, fmt.Errorf("listener: unknown transmission kind %q", kind)
	}
}

// tcpRoleListener is a bare net.Listener accept loop, with each accepted
// conn wrapped immediately into a relay.Transmission.
type tcpRoleListener struct {
	address  string
	ln       net.Listener
	acceptCh chan accepted
}

func (l *tcpRoleListener) start() error {
	ln, err := net.Listen("tcp", l.address)
	if err != nil {
		return fmt.Errorf("listener: tcp listen %s: %w", l.address, err)
	}
	l.ln = ln
	go l.acceptLoop()
	return nil
}

func (l *tcpRoleListener) acceptLoop() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			close(l.acceptCh)
			return
		}
		l.acceptCh <- accepted{tr: transmission.NewTCP(conn), peerAddr: conn.RemoteAddr()}
	}
}

func (l *tcpRoleListener) accept() <-chan accepted { return l.acceptCh }

func (l *tcpRoleListener) addr() net.Addr {
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

func (l *tcpRoleListener) stop() {
	if l.ln != nil {
		l.ln.Close()
	}
}

// wsRoleListener is an http.Server whose single handler upgrades every
// request to a WebSocket. It serves plain
// ws:// — the relay's own obfuscated handshake is the only confidentiality
// layer this endpoint claims, and TLS here would misleadingly suggest more.
type wsRoleListener struct {
	address  string
	ln       net.Listener
	srv      *http.Server
	acceptCh chan accepted
}

func (l *wsRoleListener) start() error {
	ln, err := net.Listen("tcp", l.address)
	if err != nil {
		return fmt.Errorf("listener: ws listen %s: %w", l.address, err)
	}
	l.ln = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/", l.handleUpgrade)
	l.srv = &http.Server{Handler: mux}

	go func() {
		if err := l.srv.Serve(ln); err != nil {
			close(l.acceptCh)
		}
	}()
	return nil
}

func (l *wsRoleListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	l.acceptCh <- accepted{
		tr:       transmission.NewWS(conn, context.Background()),
		peerAddr: parseHostPort(r.RemoteAddr),
	}
}

func (l *wsRoleListener) accept() <-chan accepted { return l.acceptCh }

func (l *wsRoleListener) addr() net.Addr {
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

func (l *wsRoleListener) stop() {
	if l.srv != nil {
		l.srv.Close()
	}
}

// quicRoleListener runs quic.ListenAddr and adapts one accepted stream
// per logical connection. TLS is mandatory at the QUIC layer, not a relay
// security property, so it runs off an ephemeral, unverified certificate.
type quicRoleListener struct {
	address  string
	ln       *quic.Listener
	acceptCh chan accepted
}

func (l *quicRoleListener) start() error {
	tlsCfg, err := ephemeralTLSConfig()
	if err != nil {
		return err
	}
	ln, err := quic.ListenAddr(l.address, tlsCfg, nil)
	if err != nil {
		return fmt.Errorf("listener: quic listen %s: %w", l.address, err)
	}
	l.ln = ln
	go l.acceptLoop()
	return nil
}

func (l *quicRoleListener) acceptLoop() {
	ctx := context.Background()
	for {
		conn, err := l.ln.Accept(ctx)
		if err != nil {
			close(l.acceptCh)
			return
		}
		go l.acceptStream(conn)
	}
}

func (l *quicRoleListener) acceptStream(conn quic.Connection) {
	stream, err := conn.AcceptStream(context.Background())
	if err != nil {
		return
	}
	l.acceptCh <- accepted{tr: transmission.NewQUIC(stream), peerAddr: conn.RemoteAddr()}
}

func (l *quicRoleListener) accept() <-chan accepted { return l.acceptCh }

func (l *quicRoleListener) addr() net.Addr {
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

func (l *quicRoleListener) stop() {
	if l.ln != nil {
		l.ln.Close()
	}
}

func parseHostPort(hostport string) net.Addr {
	host, _, err := net.SplitHostPort(hostport)
	if err != nil {
		return &net.TCPAddr{IP: net.ParseIP(hostport)}
	}
	return &net.TCPAddr{IP: net.ParseIP(host)}
}
