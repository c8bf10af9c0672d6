package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"docchat-backend/internal/bootstrap"
	"docchat-backend/internal/shared/config"
	"docchat-backend/internal/shared/telemetry"
)

func main() {
	cfg := config.Load()
	if cfg.QueueBackend != "sqs" {
		log.Printf("worker: QUEUE_BACKEND=%q is process-local; run the api binary instead", cfg.QueueBackend)
	}

	app, err := bootstrap.Build(cfg)
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched, err := app.Reconcile.Schedule(cfg.ReconcileSchedule)
	if err != nil {
		log.Fatalf("reconcile schedule: %v", err)
	}
	sched.Start()
	defer func() { <-sched.Stop().Done() }()

	telemetry.Info("worker.started", map[string]any{
		"queue_backend": cfg.QueueBackend,
		"concurrency":   cfg.WorkerConcurrency,
		"lease_ms":      app.Worker.Lease.Milliseconds(),
	})
	if err := app.Runner.Run(ctx); err != nil {
		log.Fatalf("worker: %v", err)
	}
	telemetry.Info("worker.stopped", nil)
}
