// Package transmission provides relay.Transmission implementations backed
// by real wire protocols: WebSocket (nhooyr.io/websocket), QUIC
// (github.com/quic-go/quic-go) and length-prefixed plain TCP. All three
// give the relay core's inbound/outbound
// legs something to speak on besides a raw TCP socket, since inbound and
// outbound are independently chosen framed transmissions.
package transmission

import (
	"context"
	"fmt"
	"sync"

	"nhooyr.io/websocket"

	"github.com/hollowpath/udsrelay/internal/reactor"
)

// wsReadLimit bounds a single WebSocket message to keep a misbehaving
// peer from forcing an unbounded read buffer.
const wsReadLimit = 16 * 1024 * 1024

// WS adapts a *websocket.Conn into a relay.Transmission. Every logical
// relay.Transmission frame is one WebSocket binary message; this mirrors
// how the handshake and keep-alive codecs already treat a Transmission as
// message-oriented rather than stream-oriented.
type WS struct {
	conn *websocket.Conn
	ctx  context.Context
	rx   *reactor.Reactor

	mu     sync.Mutex
	closed bool
}

// NewWS wraps an already-dialed-or-accepted WebSocket connection. ctx
// governs the lifetime of reads and writes; callers typically pass
// context.Background() for a connection expected to live as long as the
// relay Connection that owns it.
func NewWS(conn *websocket.Conn, ctx context.Context) *WS {
	conn.SetReadLimit(wsReadLimit)
	w := &WS{conn: conn, ctx: ctx}
	w.rx = reactor.NewWithRecovery(nil, "transmission.ws", func() { w.Close() })
	return w
}

// ReadAsync reads one binary message and hands cb a freshly allocated
// buffer holding it, per the Transmission contract.
func (w *WS) ReadAsync(cb func(buf []byte, n int)) {
	var buf []byte
	var n int
	w.rx.Spawn(func() {
		_, data, err := w.conn.Read(w.ctx)
		if err != nil {
			buf, n = nil, 0
			return
		}
		buf, n = data, len(data)
	}, func() {
		cb(buf, n)
	})
}

// WriteAsync sends buf[offset:offset+length] as one binary message.
func (w *WS) WriteAsync(buf []byte, offset, length int, cb func(success bool)) {
	frame := make([]byte, length)
	copy(frame, buf[offset:offset+length])

	var ok bool
	w.rx.Spawn(func() {
		ok = w.conn.Write(w.ctx, websocket.MessageBinary, frame) == nil
	}, func() {
		cb(ok)
	})
}

// Close closes the underlying WebSocket with a normal-closure code and
// stops this Transmission's reactor. Idempotent.
func (w *WS) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	w.rx.Stop()
	if err := w.conn.Close(websocket.StatusNormalClosure, "relay closed"); err != nil {
		return fmt.Errorf("transmission/ws: close: %w", err)
	}
	return nil
}

// Context returns this Transmission's own reactor.
func (w *WS) Context() *reactor.Reactor {
	return w.rx
}
