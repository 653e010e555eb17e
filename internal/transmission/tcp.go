package transmission

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/hollowpath/udsrelay/internal/reactor"
)

// tcpFrameMax mirrors quicFrameMax: a raw TCP socket is a byte stream, so
// framing needs the same 4-byte length prefix QUIC's stream wrapper uses.
const tcpFrameMax = 1 << 20

// TCP adapts a plain net.Conn into a relay.Transmission using the same
// length-prefix framing as QUIC, so a "tcp" InboundKind/OutboundKind
// endpoint (internal/listener) behaves identically to a ws or quic one from
// the relay core's point of view.
type TCP struct {
	conn net.Conn
	rx   *reactor.Reactor

	mu     sync.Mutex
	closed bool
}

// NewTCP wraps an already-accepted-or-dialed TCP connection.
func NewTCP(conn net.Conn) *TCP {
	t := &TCP{conn: conn}
	t.rx = reactor.NewWithRecovery(nil, "transmission.tcp", func() { t.Close() })
	return t
}

// ReadAsync reads one length-prefixed frame.
func (t *TCP) ReadAsync(cb func(buf []byte, n int)) {
	var buf []byte
	var n int
	t.rx.Spawn(func() {
		var lenPrefix [4]byte
		if _, err := io.ReadFull(t.conn, lenPrefix[:]); err != nil {
			return
		}
		size := binary.BigEndian.Uint32(lenPrefix[:])
		if size == 0 || size > tcpFrameMax {
			return
		}
		frame := make([]byte, size)
		if _, err := io.ReadFull(t.conn, frame); err != nil {
			return
		}
		buf, n = frame, len(frame)
	}, func() {
		cb(buf, n)
	})
}

// WriteAsync writes buf[offset:offset+length] as one length-prefixed frame.
func (t *TCP) WriteAsync(buf []byte, offset, length int, cb func(success bool)) {
	frame := make([]byte, 4+length)
	binary.BigEndian.PutUint32(frame[:4], uint32(length))
	copy(frame[4:], buf[offset:offset+length])

	var ok bool
	t.rx.Spawn(func() {
		_, err := t.conn.Write(frame)
		ok = err == nil
	}, func() {
		cb(ok)
	})
}

// Close is idempotent.
func (t *TCP) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.rx.Stop()
	if err := t.conn.Close(); err != nil {
		return fmt.Errorf("transmission/tcp: close: %w", err)
	}
	return nil
}

// Context returns this Transmission's own reactor.
func (t *TCP) Context() *reactor.Reactor {
	return t.rx
}
