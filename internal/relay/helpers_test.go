package relay

import (
	"sync"

	"github.com/hollowpath/udsrelay/internal/reactor"
)

// fakeTransmission is a minimal in-memory Transmission for unit tests that
// don't need a real socket or WebSocket/QUIC stream. ReadAsync only
// completes once a frame is available (via inject or a peer's WriteAsync),
// matching the real collaborators' contract that a read never completes
// synchronously with nothing to report.
type fakeTransmission struct {
	mu sync.Mutex

	rx *reactor.Reactor

	peer      *fakeTransmission
	closed    bool
	written   [][]byte
	queue     [][]byte
	pendingCb func(buf []byte, n int)
}

func newFakeTransmission() *fakeTransmission {
	return &fakeTransmission{rx: reactor.New()}
}

func (f *fakeTransmission) ReadAsync(cb func(buf []byte, n int)) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		cb(nil, 0)
		return
	}
	if len(f.queue) > 0 {
		buf := f.queue[0]
		f.queue = f.queue[1:]
		f.mu.Unlock()
		cb(buf, len(buf))
		return
	}
	f.pendingCb = cb
	f.mu.Unlock()
}

func (f *fakeTransmission) WriteAsync(buf []byte, offset, length int, cb func(success bool)) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		cb(false)
		return
	}
	frame := make([]byte, length)
	copy(frame, buf[offset:offset+length])
	f.written = append(f.written, frame)
	peer := f.peer
	f.mu.Unlock()

	if peer != nil {
		peer.deliver(frame)
	}
	cb(true)
}

// deliver hands frame to a waiting ReadAsync callback, or queues it if none
// is currently outstanding.
func (f *fakeTransmission) deliver(frame []byte) {
	f.mu.Lock()
	if f.pendingCb != nil {
		cb := f.pendingCb
		f.pendingCb = nil
		f.mu.Unlock()
		cb(frame, len(frame))
		return
	}
	f.queue = append(f.queue, frame)
	f.mu.Unlock()
}

// inject queues frame directly, for tests that drive a fakeTransmission
// without a connected peer.
func (f *fakeTransmission) inject(frame []byte) {
	f.deliver(frame)
}

func (f *fakeTransmission) Close() error {
	f.mu.Lock()
	f.closed = true
	cb := f.pendingCb
	f.pendingCb = nil
	f.mu.Unlock()
	if cb != nil {
		cb(nil, 0)
	}
	return nil
}

func (f *fakeTransmission) Context() *reactor.Reactor {
	return f.rx
}

// fakePipe wires two fakeTransmissions so a WriteAsync on one becomes the
// next ReadAsync on the other, mimicking a connected pair of endpoints.
type fakePipe struct {
	server *fakeTransmission
	client *fakeTransmission
}

func newFakePipe() *fakePipe {
	server := newFakeTransmission()
	client := newFakeTransmission()
	server.peer = client
	client.peer = server
	return &fakePipe{server: server, client: client}
}
