package relay

import "math"

// acceptMinAlignment is the façade's own, slightly stricter alignment floor,
// distinct from handshakeServer's MinAlignment check — grounded on
// original_source's AcceptAsync using `1 << 9` (512) while HandshakeServer
// itself guards on `UINT8_MAX << 1` (510).
const acceptMinAlignment = 512

// MeasureChannelID derives a channel ID from an inbound transmission
// before the server-role accept handshake is packed.
type MeasureChannelID func(Transmission) uint32

// AcceptServer is the server-role accept_async(inbound, alignment, measure,
// cb) overload: it derives a channel ID from inbound and performs the
// server-side handshake.
func AcceptServer(inbound Transmission, alignment int, measure MeasureChannelID, cb func(success bool, channelID uint32)) bool {
	if inbound == nil || cb == nil || measure == nil || alignment < acceptMinAlignment {
		return false
	}

	channelID := measure(inbound)
	if channelID == 0 {
		return false
	}

	return handshakeServer(inbound, alignment, channelID, cb)
}

// AcceptClient is the client-role accept_async(outbound, cb) overload.
func AcceptClient(outbound Transmission, cb func(success bool, channelID uint32)) bool {
	return handshakeClient(outbound, cb)
}

// ConnectServer is the server-role connect_async(outbound, alignment,
// channelID, cb) overload.
func ConnectServer(outbound Transmission, alignment int, channelID uint32, cb func(success bool, channelID uint32)) bool {
	return handshakeServer(outbound, alignment, channelID, cb)
}

// ConnectClient is the client-role connect_async(inbound, cb) overload.
func ConnectClient(inbound Transmission, cb func(success bool, channelID uint32)) bool {
	return handshakeClient(inbound, cb)
}

// HelloServer is the server-role hello_async(outbound) overload: it packs a
// throwaway handshake with a random channel ID purely to keep both ends'
// framing in sync, and closes outbound if the write fails.
func HelloServer(outbound Transmission) bool {
	if outbound == nil {
		return false
	}

	channelID := uint32(randomNext(1, math.MaxInt32))
	return handshakeServer(outbound, MinAlignment, channelID, func(success bool, _ uint32) {
		if !success {
			outbound.Close()
		}
	})
}

// HelloClient is the client-role hello_async(inbound, cb) overload: cb is
// forwarded the raw success flag; inbound is closed on failure either way.
func HelloClient(inbound Transmission, cb func(success bool)) bool {
	if inbound == nil || cb == nil {
		return false
	}

	return handshakeClient(inbound, func(success bool, _ uint32) {
		if !success {
			inbound.Close()
		}
		cb(success)
	})
}
