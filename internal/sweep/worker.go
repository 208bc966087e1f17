// Package sweep runs periodic background maintenance such as cache expiry and dialog
// idle cleanup.
package sweep

import (
	"context"
	"log/slog"
	"time"
)

// Func is one sweep pass. It should return promptly once ctx is done.
type Func func(ctx context.Context)

// Worker runs a Func on a fixed interval until stopped or its parent context ends.
type Worker struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
}

// Start launches a worker that calls fn every interval. A nil logger uses slog.Default.
func Start(ctx context.Context, name string, interval time.Duration, fn Func, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	w := &Worker{
		name:   name,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer close(w.done)
		defer ticker.Stop()
		logger.Info("Sweep worker started", "worker", name, "interval", interval)

		for {
			select {
			case <-ticker.C:
				fn(ctx)
			case <-ctx.Done():
				logger.Info("Sweep worker shutting down", "worker", name, "reason", ctx.Err())
				return
			}
		}
	}()
	return w
}

// Stop cancels the worker and waits for the running pass, if any, to return.
func (w *Worker) Stop() {
	w.cancel()
	<-w.done
}

// Done is closed once the worker goroutine has exited.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Name returns the label the worker logs under.
func (w *Worker) Name() string {
	return w.name
}
