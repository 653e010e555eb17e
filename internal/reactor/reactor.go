// Package reactor implements the single-threaded async execution context
// ("strand") that the relay core requires every Connection to be pinned to.
//
// A Reactor is a single goroutine draining a queue of completion callbacks.
// Blocking work (a socket read, a write, a DNS lookup) runs on its own
// goroutine via Spawn and reports back to the strand through Post, so no two
// completions for the same Connection ever run concurrently even though the
// underlying I/O itself happens off-strand.
package reactor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hollowpath/udsrelay/internal/logging"
	"github.com/hollowpath/udsrelay/internal/recovery"
)

// Reactor serializes completions for a single Connection.
type Reactor struct {
	tasks  chan func()
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger  *slog.Logger
	name    string
	onPanic func()
}

// New starts a Reactor with no panic teardown: a panic on its strand is
// recovered and logged nowhere, and the strand simply carries on to its next
// task. Callers that own a disposable resource should use NewWithRecovery
// instead so a wedged completion cannot silently keep the resource alive in
// a half-torn-down state.
func New() *Reactor {
	return NewWithRecovery(nil, "reactor", nil)
}

// NewWithRecovery starts a Reactor whose strand — the run loop and every
// goroutine started by Spawn — recovers panics instead of crashing the
// process: a bug in one Connection's relay loop or Transmission
// implementation now tears down that Connection or Transmission alone,
// exactly like any other local failure. onPanic runs on the goroutine that
// panicked, right after the panic is logged; the panic does not stop the
// Reactor, which goes on to its next task unless onPanic stops it. onPanic
// is typically the owner's dispose/close routine and may be nil.
func NewWithRecovery(logger *slog.Logger, name string, onPanic func()) *Reactor {
	if logger == nil {
		logger = logging.NopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Reactor{
		tasks:   make(chan func(), 64),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
		name:    name,
		onPanic: onPanic,
	}
	r.wg.Add(1)
	go r.run()
	return r
}

func (r *Reactor) run() {
	defer r.wg.Done()
	for {
		select {
		case fn := <-r.tasks:
			if r.ctx.Err() != nil {
				return
			}
			r.runTask(fn)
		case <-r.ctx.Done():
			return
		}
	}
}

// runTask isolates a single task's execution in its own frame so a deferred
// recover only ever unwinds that one task, leaving the run loop itself
// intact to pick up the next task.
func (r *Reactor) runTask(fn func()) {
	defer recovery.RecoverAndDispose(r.logger, r.name, r.onPanic)
	fn()
}

// Post enqueues fn to run on the strand. Safe to call from any goroutine,
// including after Stop, in which case fn is silently dropped rather than
// racing the closed context — a late completion arriving after disposal is
// exactly the case the relay core's invariants require to be a no-op.
func (r *Reactor) Post(fn func()) {
	if fn == nil {
		return
	}
	select {
	case r.tasks <- fn:
	case <-r.ctx.Done():
	}
}

// Spawn runs work on a fresh goroutine — the only place blocking calls are
// allowed — then posts completion back onto the strand once work returns.
// completion is skipped if the Reactor has already stopped.
func (r *Reactor) Spawn(work func(), completion func()) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer recovery.RecoverAndDispose(r.logger, r.name, r.onPanic)
		work()
		r.Post(completion)
	}()
}

// Stop cancels the strand. Queued and future Posts become no-ops; goroutines
// started by Spawn still run to completion but their completions are dropped.
func (r *Reactor) Stop() {
	r.cancel()
}

// Wait blocks until all Spawn'd goroutines have returned and the run loop has
// exited. Intended for tests; production callers do not need to wait.
func (r *Reactor) Wait() {
	r.cancel()
	r.wg.Wait()
}

// TimerHandle is an outstanding, cancelable delayed callback.
type TimerHandle struct {
	timer *time.Timer
}

// SetTimeout schedules fn to run on the strand after delay. The returned
// handle must be passed to ClearTimeout to cancel it before it fires.
func (r *Reactor) SetTimeout(fn func(), delay time.Duration) *TimerHandle {
	h := &TimerHandle{}
	h.timer = time.AfterFunc(delay, func() {
		r.Post(fn)
	})
	return h
}

// ClearTimeout cancels a pending timer. Safe to call with a nil handle or a
// handle whose timer has already fired.
func (r *Reactor) ClearTimeout(h *TimerHandle) {
	if h == nil || h.timer == nil {
		return
	}
	h.timer.Stop()
}
