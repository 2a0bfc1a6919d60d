//go:build windows

package platform

import (
	"context"
	"os"
	"os/signal"
)

// NewShutdownContext creates a context that is canceled on Ctrl+C.
// Console apps on Windows do not reliably receive SIGTERM.
func NewShutdownContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt)
}
