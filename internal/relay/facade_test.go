package relay

import "testing"

func TestAcceptServerRejectsLowAlignment(t *testing.T) {
	tr := newFakeTransmission()
	ok := AcceptServer(tr, acceptMinAlignment-1, func(Transmission) uint32 { return 7 }, func(bool, uint32) {})
	if ok {
		t.Error("expected rejection below acceptMinAlignment")
	}
}

func TestAcceptServerRejectsZeroMeasuredChannel(t *testing.T) {
	tr := newFakeTransmission()
	ok := AcceptServer(tr, acceptMinAlignment, func(Transmission) uint32 { return 0 }, func(bool, uint32) {})
	if ok {
		t.Error("expected rejection of zero measured channel id")
	}
}

func TestAcceptServerConnectClientRoundTrip(t *testing.T) {
	pipe := newFakePipe()

	done := make(chan struct{})
	var serverOK bool
	var serverChan uint32

	AcceptServer(pipe.server, acceptMinAlignment, func(Transmission) uint32 { return 99 }, func(success bool, channelID uint32) {
		serverOK = success
		serverChan = channelID
	})

	ConnectClient(pipe.client, func(success bool, channelID uint32) {
		if success && channelID != serverChan {
			t.Errorf("client saw channelID %d, server used %d", channelID, serverChan)
		}
		close(done)
	})

	<-done

	if !serverOK {
		t.Error("expected server-side accept to succeed")
	}
	if serverChan != 99 {
		t.Errorf("serverChan = %d, want 99", serverChan)
	}
}

func TestHelloServerClosesOnFailure(t *testing.T) {
	tr := newFakeTransmission()
	tr.closed = true // force the write to fail

	HelloServer(tr)

	if !tr.closed {
		t.Error("expected outbound to remain closed after hello failure")
	}
}

func TestHelloClientForwardsSuccess(t *testing.T) {
	pipe := newFakePipe()

	HelloServer(pipe.server)

	done := make(chan struct{})
	var success bool
	HelloClient(pipe.client, func(s bool) {
		success = s
		close(done)
	})
	<-done

	if !success {
		t.Error("expected HelloClient to observe success")
	}
}
