package osutil

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// SignalContext returns a context that will live until Ctrl+C is pressed (or SIGTERM is received).
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigs)
		select {
		case sig := <-sigs:
			slog.Debug("received signal, stopping", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// SuppressInterrupts ignores SIGINT until the returned function is called, which puts back the
// default action. It keeps a second Ctrl+C from killing the process while progress is flushed to
// disk, so it is held until nothing is left to flush.
func SuppressInterrupts() (restore func()) {
	signal.Ignore(syscall.SIGINT)
	return func() {
		signal.Reset(syscall.SIGINT)
	}
}
