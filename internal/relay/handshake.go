package relay

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/hollowpath/udsrelay/internal/metrics"
)

const (
	uint8Max = 255

	// MinAlignment is the lower bound on handshake alignment needed for the
	// obfuscated packet to carry enough entropy.
	MinAlignment = 2 * uint8Max

	// HeaderMax is the implementation cap on a handshake packet's size.
	HeaderMax = 4096

	// handshakeHeaderLen is the fixed prefix: 1 random byte, 4 hex digits of
	// messages_size, 8 hex digits of the scrambled channel ID.
	handshakeHeaderLen = 13
)

// randomAscii returns a random printable ASCII byte. The handshake is
// obfuscation, not authentication, so a non-cryptographic PRNG is
// appropriate — math/rand/v2's package-level generator is auto-seeded and
// safe for concurrent use.
func randomAscii() byte {
	const lo, hi = 0x20, 0x7e
	return byte(lo + rand.IntN(hi-lo+1))
}

// randomNext returns a value uniform over [lo, hi].
func randomNext(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + rand.IntN(hi-lo+1)
}

func toUpperHexByte(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - 32
	}
	return b
}

func toLowerHexByte(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b + 32
	}
	return b
}

// packHandshake builds one obfuscated handshake packet, following
// original_source's PackPlaintextHeaders layout:
//
//	offset 0        : 1 random ASCII byte
//	offset 1..5     : 4 hex chars of messages_size
//	offset 5..13    : 8 hex chars of channelID ^ ((messages_size<<16)|messages_size)
//	offset 13..N-1  : random ASCII filler
//	offset N-1      : random ASCII byte (already random from the initial fill)
func packHandshake(channelID uint32, alignment int) []byte {
	upper := alignment
	if upper > HeaderMax {
		upper = HeaderMax
	}
	if upper < MinAlignment {
		upper = MinAlignment
	}
	size := randomNext(MinAlignment, upper)

	msg := make([]byte, size)
	for i := range msg {
		msg[i] = randomAscii()
	}

	mask := uint32(size)<<16 | uint32(size)
	header := fmt.Sprintf("%04X%08X", uint16(size), channelID^mask)
	for i := 0; i < len(header); i++ {
		ch := header[i]
		if rand.IntN(2) == 0 {
			ch = toUpperHexByte(ch)
		} else {
			ch = toLowerHexByte(ch)
		}
		msg[1+i] = ch
	}
	// Re-randomize the filler byte immediately following the header, as
	// original_source does after case-jittering.
	msg[1+len(header)] = randomAscii()

	return msg
}

// handshakeHeader is the decoded result of unpackHandshake.
type handshakeHeader struct {
	ChannelID    uint32
	MessagesSize uint16
}

// unpackHandshake decodes a handshake packet header. ok is false for any
// malformed input: too short, or messages_size <= 13 (messages_size must
// leave room for the 13-byte header).
func unpackHandshake(buf []byte) (handshakeHeader, bool) {
	if len(buf) < handshakeHeaderLen {
		return handshakeHeader{}, false
	}

	size, err := strconv.ParseUint(string(buf[1:5]), 16, 16)
	if err != nil || size <= handshakeHeaderLen {
		return handshakeHeader{}, false
	}

	rawID, err := strconv.ParseUint(string(buf[5:13]), 16, 32)
	if err != nil {
		return handshakeHeader{}, false
	}

	mask := uint32(size)<<16 | uint32(size)
	return handshakeHeader{
		ChannelID:    uint32(rawID) ^ mask,
		MessagesSize: uint16(size),
	}, true
}

// handshakeServer packs and writes a handshake packet, the server side
// of the codec. cb receives (success, channelID) once the write completes.
func handshakeServer(t Transmission, alignment int, channelID uint32, cb func(success bool, channelID uint32)) bool {
	if t == nil || cb == nil || alignment < MinAlignment || channelID == 0 {
		return false
	}

	packet := packHandshake(channelID, alignment)
	started := time.Now()
	t.WriteAsync(packet, 0, len(packet), func(success bool) {
		metrics.Default().HandshakeLatency.Observe(time.Since(started).Seconds())
		if success {
			metrics.Default().HandshakeSuccessTotal.Inc()
		} else {
			metrics.Default().HandshakeFailureTotal.WithLabelValues("write_failed").Inc()
		}
		cb(success, channelID)
	})
	return true
}

// handshakeClient reads and unpacks one handshake packet, the client side
// of the codec. cb receives (success, channelID); rejects report
// (false, 0) without tearing down the transmission — that decision
// belongs to the caller.
func handshakeClient(t Transmission, cb func(success bool, channelID uint32)) bool {
	if t == nil || cb == nil {
		return false
	}

	started := time.Now()
	t.ReadAsync(func(buf []byte, n int) {
		metrics.Default().HandshakeLatency.Observe(time.Since(started).Seconds())

		if n < handshakeHeaderLen {
			metrics.Default().HandshakeFailureTotal.WithLabelValues("short_read").Inc()
			cb(false, 0)
			return
		}

		hdr, ok := unpackHandshake(buf[:n])
		if !ok || int(hdr.MessagesSize) != n || hdr.ChannelID == 0 {
			metrics.Default().HandshakeFailureTotal.WithLabelValues("malformed").Inc()
			cb(false, 0)
			return
		}

		metrics.Default().HandshakeSuccessTotal.Inc()
		cb(true, hdr.ChannelID)
	})
	return true
}
