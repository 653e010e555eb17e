package transmission

import (
	"net"
	"testing"
	"time"
)

func newTCPPair(t *testing.T) (client, server *TCP, cleanup func()) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}

	type acceptResult struct {
		conn net.Conn
		err  error
	}
	acceptCh := make(chan acceptResult, 1)
	go func() {
		conn, err := ln.Accept()
		acceptCh <- acceptResult{conn, err}
	}()

	clientConn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		ln.Close()
		t.Fatalf("net.Dial: %v", err)
	}

	res := <-acceptCh
	ln.Close()
	if res.err != nil {
		t.Fatalf("Accept: %v", res.err)
	}

	client = NewTCP(clientConn)
	server = NewTCP(res.conn)
	return client, server, func() {
		client.Close()
		server.Close()
	}
}

func TestTCPReadWriteRoundTrip(t *testing.T) {
	client, server, cleanup := newTCPPair(t)
	defer cleanup()

	payload := []byte("hello tcp")

	readDone := make(chan struct{})
	var gotBuf []byte
	var gotN int
	server.ReadAsync(func(buf []byte, n int) {
		gotBuf, gotN = buf, n
		close(readDone)
	})

	writeDone := make(chan bool, 1)
	client.WriteAsync(payload, 0, len(payload), func(ok bool) { writeDone <- ok })

	select {
	case ok := <-writeDone:
		if !ok {
			t.Fatal("WriteAsync reported failure")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("write timed out")
	}

	select {
	case <-readDone:
	case <-time.After(2 * time.Second):
		t.Fatal("read timed out")
	}

	if string(gotBuf[:gotN]) != string(payload) {
		t.Errorf("received %q, want %q", gotBuf[:gotN], payload)
	}
}

func TestTCPCloseIsIdempotent(t *testing.T) {
	client, server, cleanup := newTCPPair(t)
	defer cleanup()

	if err := client.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	server.Close()
}
