// Package resolver implements the asynchronous name resolution collaborator
// consumed by the relay core.
package resolver

import (
	"context"
	"net"

	"golang.org/x/text/unicode/norm"

	"github.com/hollowpath/udsrelay/internal/reactor"
)

// Resolver performs a single outstanding name-to-endpoint lookup. It is
// transient: the relay core creates one per Connection only while a lookup
// is outstanding, mirroring the Connection.resolver field's lifetime.
type Resolver struct {
	rx     *reactor.Reactor
	dns    *net.Resolver
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Resolver bound to rx. Completions from Resolve are posted
// back onto rx so they run serialized with the rest of the Connection.
func New(rx *reactor.Reactor) *Resolver {
	ctx, cancel := context.WithCancel(context.Background())
	return &Resolver{
		rx:     rx,
		dns:    net.DefaultResolver,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Resolve looks up host and invokes cb once with a *net.TCPAddr on success or
// nil if the name could not be resolved or the lookup was canceled. host is
// normalized to NFC first so visually identical Unicode labels resolve the
// same endpoint.
func (r *Resolver) Resolve(host string, port int, cb func(ep *net.TCPAddr)) {
	normalized := norm.NFC.String(host)

	var result *net.TCPAddr
	r.rx.Spawn(func() {
		ips, err := r.dns.LookupIPAddr(r.ctx, normalized)
		if err != nil || len(ips) == 0 {
			return
		}
		result = &net.TCPAddr{IP: ips[0].IP, Port: port}
	}, func() {
		cb(result)
	})
}

// Cancel aborts any outstanding lookup. Idempotent; cancellation errors are
// not surfaced since context cancellation in Go cannot fail.
func (r *Resolver) Cancel() {
	r.cancel()
}
