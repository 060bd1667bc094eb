// Package shutdown turns termination signals into context cancellation.
package shutdown

import (
	"context"
	"os"
)

// Context returns a context cancelled on the first interrupt. A second
// interrupt is delivered on the returned channel so callers can force exit.
func Context(parent context.Context) (context.Context, <-chan os.Signal, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sig := make(chan os.Signal, 2)
	Notify(sig)

	again := make(chan os.Signal, 1)
	go func() {
		select {
		case <-sig:
			cancel()
		case <-ctx.Done():
			return
		}
		select {
		case s := <-sig:
			again <- s
		case <-parent.Done():
		}
	}()
	return ctx, again, cancel
}
