//go:build !tinygo

package app

import (
	"context"

	"github.com/dc0d/onexit"
)

// ExitContext returns a context that is cancelled when the process receives
// an exit signal. The signal handler only cancels; kernel state such as
// Stats and Trace must be read on the goroutine that ran the kernel, after
// Run has returned.
func ExitContext(parent context.Context) (context.Context, context.CancelFunc) {
	return exitContext(parent, func(f func()) { onexit.Register(f) })
}

func exitContext(parent context.Context, register func(func())) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	register(cancel)
	return ctx, cancel
}
