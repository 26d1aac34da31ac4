package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// shutdownContext returns a context that cancels on the first SIGINT/SIGTERM
// and force-exits on the second. The first signal lets the running cycle
// stop between entries; the second is for when something hangs.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("received signal, stopping sync",
				slog.String("signal", sig.String()),
			)
			cancel()
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing exit",
				slog.String("signal", sig.String()),
			)
			os.Exit(1)
		case <-parent.Done():
			return
		}
	}()

	return ctx
}

// syncRequests delivers one value per SIGHUP until ctx is done. A one-shot
// "firmsync sync" sends SIGHUP to a running watcher instead of syncing the
// same database itself.
func syncRequests(ctx context.Context) <-chan struct{} {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)

	out := make(chan struct{}, 1)

	go func() {
		defer signal.Stop(hup)

		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				// Coalesce bursts: one pending request is enough.
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()

	return out
}
