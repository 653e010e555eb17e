// Package recovery provides panic recovery utilities for goroutines.
package recovery

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// RecoverWithLog recovers from panics and logs them with the provided logger.
// Use this with defer at the start of goroutines to prevent crashes and log diagnostics.
//
// Example:
//
//	go func() {
//	    defer recovery.RecoverWithLog(logger, "myGoroutine")
//	    // ... goroutine work
//	}()
func RecoverWithLog(logger *slog.Logger, name string) {
	if r := recover(); r != nil {
		stack := string(debug.Stack())
		logger.Error("panic recovered",
			"goroutine", name,
			"panic", fmt.Sprintf("%v", r),
			"stack", stack)
	}
}

// RecoverAndDispose recovers from a panic, logs it, and disposes the given
// disposer so a wedged relay leg cannot leave a Connection half torn-down.
// A Reactor built by internal/reactor.NewWithRecovery defers this around
// every task it runs and every goroutine it Spawns, so it covers every
// completion the strand ever runs rather than needing a defer at each
// individual relay call site.
func RecoverAndDispose(logger *slog.Logger, name string, dispose func()) {
	if r := recover(); r != nil {
		stack := string(debug.Stack())
		logger.Error("panic recovered",
			"goroutine", name,
			"panic", fmt.Sprintf("%v", r),
			"stack", stack)
		if dispose != nil {
			dispose()
		}
	}
}
