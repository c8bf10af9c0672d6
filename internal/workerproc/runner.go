package workerproc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"docchat-backend/internal/queue"
	"docchat-backend/internal/shared/telemetry"
)

const (
	defaultConcurrency     = 4
	defaultShutdownTimeout = 30 * time.Second
	receiveErrorBackoff    = time.Second
	maxBatch               = 10
)

// Runner polls a consumer and processes deliveries on a bounded goroutine pool.
type Runner struct {
	Consumer        queue.Consumer
	Processor       Processor
	Concurrency     int
	ShutdownTimeout time.Duration
}

// Run blocks until ctx is cancelled, then waits up to ShutdownTimeout for
// in-flight jobs. Jobs still running after that are cancelled; their documents
// stay processing and resume on redelivery.
func (r *Runner) Run(ctx context.Context) error {
	if r.Consumer == nil || r.Processor == nil {
		return errors.New("worker runner not configured")
	}
	concurrency := r.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	shutdownTimeout := r.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}

	pool, err := ants.NewPool(concurrency, ants.WithPanicHandler(func(p any) {
		telemetry.Error("worker.pool.panic", map[string]any{"panic": fmt.Sprint(p)})
	}))
	if err != nil {
		return fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	jobCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJobs()

	var wg sync.WaitGroup
	telemetry.Info("worker.started", map[string]any{"concurrency": concurrency})

	for ctx.Err() == nil {
		// Only lease what can start right away, so leases are not spent waiting.
		free := pool.Free()
		if free <= 0 {
			free = 1
		}
		if free > maxBatch {
			free = maxBatch
		}

		deliveries, err := r.Consumer.Receive(ctx, free)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			telemetry.Error("worker.receive_failed", map[string]any{"error": err.Error()})
			sleep(ctx, receiveErrorBackoff)
			continue
		}

		for _, d := range deliveries {
			wg.Add(1)
			if err := pool.Submit(func() {
				defer wg.Done()
				HandleDelivery(jobCtx, r.Processor, r.Consumer, d)
			}); err != nil {
				wg.Done()
				// Unsubmitted deliveries go back to the queue on lease expiry.
				telemetry.Error("worker.submit_failed", map[string]any{"message_id": d.ID, "error": err.Error()})
			}
		}
	}

	telemetry.Info("worker.shutdown", map[string]any{
		"running": pool.Running(),
		"timeout": shutdownTimeout.String(),
	})
	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(shutdownTimeout):
		telemetry.Warn("worker.shutdown_timeout", map[string]any{"running": pool.Running()})
		cancelJobs()
		<-waitDone
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
