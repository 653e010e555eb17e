package relay

import (
	"time"

	"github.com/hollowpath/udsrelay/internal/metrics"
	"github.com/hollowpath/udsrelay/internal/reactor"
)

const (
	keepaliveDelayMinMS = 100
	keepaliveDelayMaxMS = 500

	keepalivePayloadMin = 8
	keepalivePayloadMax = 64
)

// armKeepaliveDrain arms the outbound keep-alive drain loop: discards
// every nonzero frame read from outbound and re-arms; a closed or errored
// read tears the Connection down.
func (c *Connection) armKeepaliveDrain() bool {
	outbound := c.snapshotOutbound()
	if outbound == nil {
		return false
	}

	outbound.ReadAsync(func(buf []byte, n int) {
		if c.disposed.Load() {
			return
		}
		if n < 1 {
			c.dispose(disposeReasonPeer)
			return
		}
		metrics.Default().KeepalivesRecv.Inc()
		if !c.armKeepaliveDrain() {
			c.dispose(disposeReasonTransfer)
		}
	})
	return true
}

// armKeepaliveSend arms the inbound keep-alive send cycle: schedules a
// timer with a delay uniform over [100, 500] ms; on fire, writes a random
// [8, 64]-byte payload to inbound and reschedules on success.
func (c *Connection) armKeepaliveSend() bool {
	inbound := c.snapshotInbound()
	if inbound == nil {
		return false
	}

	c.scheduleKeepaliveSend()
	return true
}

func (c *Connection) scheduleKeepaliveSend() {
	delay := time.Duration(randomNext(keepaliveDelayMinMS, keepaliveDelayMaxMS)) * time.Millisecond

	var handle *reactor.TimerHandle
	handle = c.rx.SetTimeout(func() {
		// The handle field is only live while a timer is truly pending;
		// clear it before doing anything else so a concurrent dispose()
		// sees no timer to cancel.
		c.mu.Lock()
		if c.timeout == handle {
			c.timeout = nil
		}
		c.mu.Unlock()

		if c.disposed.Load() {
			return
		}
		c.fireKeepaliveSend()
	}, delay)

	c.mu.Lock()
	if old := c.timeout; old != nil {
		c.rx.ClearTimeout(old)
	}
	c.timeout = handle
	c.mu.Unlock()
}

func (c *Connection) fireKeepaliveSend() {
	inbound := c.snapshotInbound()
	if inbound == nil {
		return
	}

	size := randomNext(keepalivePayloadMin, keepalivePayloadMax)
	payload := make([]byte, size)
	for i := range payload {
		payload[i] = randomAscii()
	}

	inbound.WriteAsync(payload, 0, size, func(success bool) {
		if c.disposed.Load() {
			return
		}
		if !success {
			c.dispose(disposeReasonTransfer)
			return
		}
		metrics.Default().KeepalivesSent.Inc()
		c.scheduleKeepaliveSend()
	})
}
