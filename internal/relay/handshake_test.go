package relay

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/hollowpath/udsrelay/internal/metrics"
)

func TestPackUnpackRoundTrip(t *testing.T) {
	for i := 0; i < 100; i++ {
		channelID := uint32(1 + i*7919)
		packet := packHandshake(channelID, MinAlignment+i)

		hdr, ok := unpackHandshake(packet)
		if !ok {
			t.Fatalf("unpack failed for channelID=%d", channelID)
		}
		if hdr.ChannelID != channelID {
			t.Errorf("ChannelID = %d, want %d", hdr.ChannelID, channelID)
		}
		if int(hdr.MessagesSize) != len(packet) {
			t.Errorf("MessagesSize = %d, want %d", hdr.MessagesSize, len(packet))
		}
	}
}

func TestPackHandshakeRespectsAlignmentBounds(t *testing.T) {
	packet := packHandshake(42, 10) // below MinAlignment
	if len(packet) < MinAlignment {
		t.Errorf("packet size %d below MinAlignment %d", len(packet), MinAlignment)
	}

	packet = packHandshake(42, HeaderMax*2) // above HeaderMax
	if len(packet) > HeaderMax {
		t.Errorf("packet size %d exceeds HeaderMax %d", len(packet), HeaderMax)
	}
}

func TestUnpackHandshakeRejectsShortBuffer(t *testing.T) {
	if _, ok := unpackHandshake(make([]byte, 5)); ok {
		t.Error("expected rejection of buffer shorter than header")
	}
}

func TestUnpackHandshakeRejectsMalformedHex(t *testing.T) {
	buf := []byte("!ZZZZZZZZZZZZ")
	if _, ok := unpackHandshake(buf); ok {
		t.Error("expected rejection of non-hex header")
	}
}

func TestUnpackHandshakeRejectsUndersizedMessagesSize(t *testing.T) {
	// messages_size encodes 13, which leaves no room for header + filler.
	packet := packHandshake(1, MinAlignment)
	packet[1] = '0'
	packet[2] = '0'
	packet[3] = '0'
	packet[4] = 'd' // 0x000d = 13
	if _, ok := unpackHandshake(packet); ok {
		t.Error("expected rejection when messages_size <= header length")
	}
}

func TestHandshakeServerRejectsBelowMinAlignment(t *testing.T) {
	tr := newFakeTransmission()
	ok := handshakeServer(tr, MinAlignment-1, 5, func(bool, uint32) {})
	if ok {
		t.Error("expected handshakeServer to reject alignment below MinAlignment")
	}
}

func TestHandshakeServerRejectsZeroChannelID(t *testing.T) {
	tr := newFakeTransmission()
	ok := handshakeServer(tr, MinAlignment, 0, func(bool, uint32) {})
	if ok {
		t.Error("expected handshakeServer to reject channelID 0")
	}
}

func TestHandshakeServerClientRoundTrip(t *testing.T) {
	pipe := newFakePipe()

	var gotSuccess bool
	var gotChannel uint32
	done := make(chan struct{})

	handshakeServer(pipe.server, MinAlignment, 12345, func(success bool, channelID uint32) {
		gotSuccess = success
		gotChannel = channelID
	})

	handshakeClient(pipe.client, func(success bool, channelID uint32) {
		if success {
			gotChannel = channelID
		}
		close(done)
	})

	<-done

	if !gotSuccess {
		t.Error("expected server write to succeed")
	}
	if gotChannel != 12345 {
		t.Errorf("channelID = %d, want 12345", gotChannel)
	}
}

func TestHandshakeClientRejectsShortRead(t *testing.T) {
	tr := newFakeTransmission()
	tr.inject([]byte{1, 2, 3})

	done := make(chan struct{})
	var success bool
	handshakeClient(tr, func(s bool, _ uint32) {
		success = s
		close(done)
	})
	<-done

	if success {
		t.Error("expected rejection of too-short read")
	}
}

func TestHandshakeServerClientRoundTripRecordsMetrics(t *testing.T) {
	before := testutil.ToFloat64(metrics.Default().HandshakeSuccessTotal)

	pipe := newFakePipe()
	done := make(chan struct{})

	handshakeServer(pipe.server, MinAlignment, 999, func(bool, uint32) {})
	handshakeClient(pipe.client, func(bool, uint32) {
		close(done)
	})
	<-done

	// handshakeServer's own WriteAsync completion and handshakeClient's
	// ReadAsync completion each record one success independently.
	if got := testutil.ToFloat64(metrics.Default().HandshakeSuccessTotal); got != before+2 {
		t.Errorf("HandshakeSuccessTotal = %v, want %v", got, before+2)
	}
}

func TestHandshakeClientRecordsFailureMetricOnShortRead(t *testing.T) {
	before := testutil.ToFloat64(metrics.Default().HandshakeFailureTotal.WithLabelValues("short_read"))

	tr := newFakeTransmission()
	tr.inject([]byte{1, 2, 3})

	done := make(chan struct{})
	handshakeClient(tr, func(bool, uint32) {
		close(done)
	})
	<-done

	if got := testutil.ToFloat64(metrics.Default().HandshakeFailureTotal.WithLabelValues("short_read")); got != before+1 {
		t.Errorf("HandshakeFailureTotal[short_read] = %v, want %v", got, before+1)
	}
}
