package relay

import (
	"errors"
	"net"
	"testing"
	"time"
)

func testConfiguration() Configuration {
	return Configuration{Alignment: MinAlignment}
}

func TestListenAdoptedSocketArmsRelay(t *testing.T) {
	inbound := newFakeTransmission()
	outbound := newFakeTransmission()
	remote, remotePeer := net.Pipe()
	defer remotePeer.Close()

	conn := New(Config{ID: 1, Configuration: testConfiguration(), Inbound: inbound, Outbound: outbound})
	defer conn.Dispose()

	if ok, err := conn.Listen(remote); !ok {
		t.Fatalf("expected Listen to succeed, got err: %v", err)
	}
	if !conn.Available() {
		t.Error("expected connection to be available after Listen")
	}
}

func TestListenTwiceIsRejected(t *testing.T) {
	inbound := newFakeTransmission()
	outbound := newFakeTransmission()
	remote, remotePeer := net.Pipe()
	defer remotePeer.Close()

	conn := New(Config{ID: 1, Configuration: testConfiguration(), Inbound: inbound, Outbound: outbound})
	defer conn.Dispose()

	conn.Listen(remote)
	if ok, err := conn.Listen(remote); ok {
		t.Error("expected second Listen call to be rejected")
	} else if err != ErrAlreadyListening {
		t.Errorf("expected ErrAlreadyListening, got: %v", err)
	}
}

func TestInboundToRemoteRelay(t *testing.T) {
	inbound := newFakeTransmission()
	outbound := newFakeTransmission()
	remote, remotePeer := net.Pipe()
	defer remotePeer.Close()

	conn := New(Config{ID: 1, Configuration: testConfiguration(), Inbound: inbound, Outbound: outbound})
	defer conn.Dispose()

	conn.Listen(remote)

	payload := []byte("hello remote")
	inbound.inject(payload)

	buf := make([]byte, len(payload))
	remotePeer.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := remotePeer.Read(buf)
	if err != nil {
		t.Fatalf("remotePeer.Read: %v", err)
	}
	if string(buf[:n]) != string(payload) {
		t.Errorf("remote received %q, want %q", buf[:n], payload)
	}
}

func TestRemoteToOutboundRelay(t *testing.T) {
	inbound := newFakeTransmission()
	outbound := newFakeTransmission()
	remote, remotePeer := net.Pipe()
	defer remotePeer.Close()

	conn := New(Config{ID: 1, Configuration: testConfiguration(), Inbound: inbound, Outbound: outbound})
	defer conn.Dispose()

	conn.Listen(remote)

	payload := []byte("hello outbound")
	go remotePeer.Write(payload)

	deadline := time.After(2 * time.Second)
	for {
		outbound.mu.Lock()
		got := len(outbound.written) > 0
		outbound.mu.Unlock()
		if got {
			break
		}
		select {
		case <-deadline:
			t.Fatal("outbound never received relayed bytes")
		case <-time.After(5 * time.Millisecond):
		}
	}

	outbound.mu.Lock()
	got := string(outbound.written[0])
	outbound.mu.Unlock()
	if got != string(payload) {
		t.Errorf("outbound received %q, want %q", got, payload)
	}
}

func TestDisposeIsIdempotent(t *testing.T) {
	inbound := newFakeTransmission()
	outbound := newFakeTransmission()
	remote, remotePeer := net.Pipe()
	defer remotePeer.Close()

	conn := New(Config{ID: 1, Configuration: testConfiguration(), Inbound: inbound, Outbound: outbound})
	conn.Listen(remote)

	conn.Dispose()
	conn.Dispose()
	conn.Dispose()

	if !conn.IsDisposed() {
		t.Error("expected IsDisposed true after Dispose")
	}
}

func TestDisposeCallsOnDisposedExactlyOnce(t *testing.T) {
	inbound := newFakeTransmission()
	outbound := newFakeTransmission()
	remote, remotePeer := net.Pipe()
	defer remotePeer.Close()

	calls := 0
	conn := New(Config{
		ID:            7,
		Configuration: testConfiguration(),
		Inbound:       inbound,
		Outbound:      outbound,
		OnDisposed: func(id int64) {
			calls++
			if id != 7 {
				t.Errorf("onDisposed id = %d, want 7", id)
			}
		},
	})
	conn.Listen(remote)

	conn.Dispose()
	conn.Dispose()

	if calls != 1 {
		t.Errorf("onDisposed called %d times, want 1", calls)
	}
}

func TestPeerCloseDisposesConnection(t *testing.T) {
	inbound := newFakeTransmission()
	outbound := newFakeTransmission()
	remote, remotePeer := net.Pipe()

	conn := New(Config{ID: 1, Configuration: testConfiguration(), Inbound: inbound, Outbound: outbound})
	conn.Listen(remote)

	inbound.Close() // simulate the inbound peer hanging up

	deadline := time.After(2 * time.Second)
	for !conn.IsDisposed() {
		select {
		case <-deadline:
			t.Fatal("connection never disposed after inbound close")
		case <-time.After(5 * time.Millisecond):
		}
	}

	remotePeer.Close()
}

func TestIsDisposedBeforeListen(t *testing.T) {
	inbound := newFakeTransmission()
	outbound := newFakeTransmission()

	conn := New(Config{ID: 1, Configuration: testConfiguration(), Inbound: inbound, Outbound: outbound})
	defer conn.Dispose()

	if !conn.IsDisposed() {
		t.Error("expected IsDisposed true before Listen (buffers not yet allocated)")
	}
}

func TestListenRejectsInvalidLiteralIP(t *testing.T) {
	inbound := newFakeTransmission()
	outbound := newFakeTransmission()

	cfg := testConfiguration()
	cfg.RemoteIP = "not-an-ip"
	cfg.RemotePort = 9999

	conn := New(Config{ID: 1, Configuration: cfg, Inbound: inbound, Outbound: outbound})
	defer conn.Dispose()

	if ok, err := conn.Listen(nil); ok {
		t.Error("expected Listen to fail for unparsable literal IP with ResolveAsDomain=false")
	} else if !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("expected ErrInvalidConfiguration, got: %v", err)
	}
}
