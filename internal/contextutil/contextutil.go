// Package contextutil builds the contexts commands run under.
package contextutil

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// NewProbeContext creates a context with a timeout for one-shot backend requests.
func NewProbeContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

// WithInterrupt returns a context cancelled on SIGINT or SIGTERM, or after d
// when d > 0.
func WithInterrupt(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	if d <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	return ctx, func() {
		cancel()
		stop()
	}
}
