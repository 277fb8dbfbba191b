package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// crankSignals routes process signals for the run loop. The returned context
// cancels on the first SIGINT or SIGTERM; a second one force-exits. SIGHUP
// becomes a reload request; requests that arrive while one is pending are
// merged, and none are sent once shutdown has begun.
func crankSignals(parent context.Context, logger *slog.Logger) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(parent)
	reloads := make(chan struct{}, 1)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		defer signal.Stop(sigCh)

		stopping := false

		for {
			select {
			case <-parent.Done():
				cancel()
				return
			case sig := <-sigCh:
				switch {
				case sig == syscall.SIGHUP:
					if stopping {
						logger.Debug("ignoring reload during shutdown")
						continue
					}

					select {
					case reloads <- struct{}{}:
					default:
					}
				case stopping:
					logger.Warn("received second signal, forcing exit", slog.String("signal", sig.String()))
					os.Exit(1)
				default:
					stopping = true

					logger.Info("received signal, finishing in-flight actions",
						slog.String("signal", sig.String()),
					)
					cancel()
				}
			}
		}
	}()

	return ctx, reloads
}
