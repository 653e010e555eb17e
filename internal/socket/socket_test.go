package socket

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func TestValidateEndpointRejectsNil(t *testing.T) {
	if err := ValidateEndpoint(nil); err == nil {
		t.Error("expected error for nil endpoint")
	}
}

func TestValidateEndpointRejectsUnspecified(t *testing.T) {
	ep := &net.TCPAddr{IP: net.IPv4zero, Port: 8080}
	if err := ValidateEndpoint(ep); err == nil {
		t.Error("expected error for unspecified address")
	}
}

func TestValidateEndpointRejectsMulticast(t *testing.T) {
	ep := &net.TCPAddr{IP: net.ParseIP("224.0.0.1"), Port: 8080}
	if err := ValidateEndpoint(ep); err == nil {
		t.Error("expected error for multicast address")
	}
}

func TestValidateEndpointRejectsOutOfRangePort(t *testing.T) {
	ep := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: MinPort}
	if err := ValidateEndpoint(ep); err == nil {
		t.Error("expected error for port at MinPort")
	}

	ep = &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: MaxPort + 1}
	if err := ValidateEndpoint(ep); err == nil {
		t.Error("expected error for port beyond MaxPort")
	}
}

func TestValidateEndpointAcceptsValid(t *testing.T) {
	ep := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 8080}
	if err := ValidateEndpoint(ep); err != nil {
		t.Errorf("unexpected error for valid endpoint: %v", err)
	}
}

func TestDialConnectsToListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	ep := ln.Addr().(*net.TCPAddr)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := Dial(ctx, ep, Options{Turbo: true})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	select {
	case c := <-accepted:
		c.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("listener never accepted")
	}
}

func TestDialRejectsInvalidEndpoint(t *testing.T) {
	ep := &net.TCPAddr{IP: net.IPv4zero, Port: 8080}
	_, err := Dial(context.Background(), ep, Options{})
	if !errors.Is(err, ErrNoSocket) {
		t.Errorf("expected ErrNoSocket, got %v", err)
	}
}
