package transmission

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/quic-go/quic-go"

	"github.com/hollowpath/udsrelay/internal/reactor"
)

// quicFrameMax bounds a single logical frame read off a QUIC stream. A
// handshake packet is at most relay.HeaderMax (4096) bytes and a relayed
// frame at most one MSS (65536); this just keeps a corrupt length prefix
// from causing an unbounded allocation.
const quicFrameMax = 1 << 20

// QUIC adapts a quic.Stream into a relay.Transmission. Unlike WebSocket,
// a QUIC stream is a raw byte stream, so this frames each ReadAsync/
// WriteAsync call with a 4-byte big-endian length prefix, the same framing
// discipline original_source's Boost.Asio pipeline applies at the
// Transmission boundary before the obfuscated handshake header is ever
// read.
type QUIC struct {
	stream quic.Stream
	rx     *reactor.Reactor

	mu     sync.Mutex
	closed bool
}

// NewQUIC wraps an already-opened or accepted QUIC stream.
func NewQUIC(stream quic.Stream) *QUIC {
	q := &QUIC{stream: stream}
	q.rx = reactor.NewWithRecovery(nil, "transmission.quic", func() { q.Close() })
	return q
}

// ReadAsync reads one length-prefixed frame.
func (q *QUIC) ReadAsync(cb func(buf []byte, n int)) {
	var buf []byte
	var n int
	q.rx.Spawn(func() {
		var lenPrefix [4]byte
		if _, err := io.ReadFull(q.stream, lenPrefix[:]); err != nil {
			return
		}
		size := binary.BigEndian.Uint32(lenPrefix[:])
		if size == 0 || size > quicFrameMax {
			return
		}
		frame := make([]byte, size)
		if _, err := io.ReadFull(q.stream, frame); err != nil {
			return
		}
		buf, n = frame, len(frame)
	}, func() {
		cb(buf, n)
	})
}

// WriteAsync writes buf[offset:offset+length] as one length-prefixed frame.
func (q *QUIC) WriteAsync(buf []byte, offset, length int, cb func(success bool)) {
	frame := make([]byte, 4+length)
	binary.BigEndian.PutUint32(frame[:4], uint32(length))
	copy(frame[4:], buf[offset:offset+length])

	var ok bool
	q.rx.Spawn(func() {
		_, err := q.stream.Write(frame)
		ok = err == nil
	}, func() {
		cb(ok)
	})
}

// Close aborts the stream in both directions and stops this Transmission's
// reactor. Idempotent.
func (q *QUIC) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	q.rx.Stop()
	q.stream.CancelRead(0)
	if err := q.stream.Close(); err != nil {
		return fmt.Errorf("transmission/quic: close: %w", err)
	}
	return nil
}

// Context returns this Transmission's own reactor.
func (q *QUIC) Context() *reactor.Reactor {
	return q.rx
}
