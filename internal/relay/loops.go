package relay

import "github.com/hollowpath/udsrelay/internal/metrics"

// armInboundRead arms the inbound→remote leg: a read completion on
// inbound hands its buffer straight to sendToRemote without copying it
// into the shared mss buffer, since a Transmission's ReadAsync contract
// guarantees a freshly owned buffer per call (see Transmission's doc
// comment).
func (c *Connection) armInboundRead() bool {
	inbound := c.snapshotInbound()
	if inbound == nil {
		return false
	}

	inbound.ReadAsync(func(buf []byte, n int) {
		if c.disposed.Load() {
			return
		}
		if n < 1 {
			c.dispose(disposeReasonPeer)
			return
		}
		c.sendToRemote(buf, n)
	})
	return true
}

// sendToRemote writes n bytes of buf to the remote socket and, on
// success, re-arms the inbound read for the next frame.
func (c *Connection) sendToRemote(buf []byte, n int) {
	remote := c.snapshotRemote()
	if remote == nil || c.disposed.Load() {
		return
	}

	rx := c.rx
	var writeErr error
	rx.Spawn(func() {
		writeErr = writeFull(remote, buf[:n])
	}, func() {
		if c.disposed.Load() {
			return
		}
		if writeErr != nil {
			c.dispose(disposeReasonTransfer)
			return
		}
		c.bytesInboundToRemote.Add(int64(n))
		metrics.Default().BytesInboundToRemote.Add(float64(n))
		if !c.armInboundRead() {
			c.dispose(disposeReasonTransfer)
		}
	})
}

// armRemoteRead arms the remote→outbound leg: unlike the inbound leg,
// remote reads fill the single shared mss buffer, since net.Conn has no
// equivalent of a fresh-buffer-per-read contract.
func (c *Connection) armRemoteRead() bool {
	remote := c.snapshotRemote()
	buffers := c.snapshotBuffers()
	if remote == nil || buffers == nil {
		return false
	}

	rx := c.rx
	var n int
	var readErr error
	rx.Spawn(func() {
		n, readErr = remote.Read(buffers)
	}, func() {
		if c.disposed.Load() {
			return
		}
		if readErr != nil || n < 1 {
			c.dispose(disposeReasonPeer)
			return
		}
		c.sendToOutbound(buffers, n)
	})
	return true
}

// sendToOutbound writes n bytes of the shared buffer to the outbound
// transmission and, on success, re-arms the remote read. The remote read
// must stay disarmed until this write's completion fires, since both
// share the same buffer.
func (c *Connection) sendToOutbound(buf []byte, n int) {
	outbound := c.snapshotOutbound()
	if outbound == nil || c.disposed.Load() {
		return
	}

	outbound.WriteAsync(buf, 0, n, func(success bool) {
		if c.disposed.Load() {
			return
		}
		if !success {
			c.dispose(disposeReasonTransfer)
			return
		}
		c.bytesRemoteToOutbound.Add(int64(n))
		metrics.Default().BytesRemoteToOutbound.Add(float64(n))
		if !c.armRemoteRead() {
			c.dispose(disposeReasonTransfer)
		}
	})
}

// writeFull writes all of buf to conn, matching net.Conn's documented
// behavior that Write may return a short count with a nil error only under
// very specific circumstances none of which this relay relies on; write the
// remainder to be safe against partial writes on the remote leg.
func writeFull(conn interface{ Write([]byte) (int, error) }, buf []byte) error {
	for len(buf) > 0 {
		n, err := conn.Write(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}
