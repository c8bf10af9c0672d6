package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"docchat-backend/internal/bootstrap"
	"docchat-backend/internal/queue"
	"docchat-backend/internal/shared/config"
	"docchat-backend/internal/shared/server"
)

func main() {
	cfg := config.Load()
	app, err := bootstrap.Build(cfg)
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	// The in-memory queue only exists inside this process, so the worker and
	// the reconcile sweep have to run here too.
	if _, ok := app.Queue.(*queue.MemoryQueue); ok {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := app.Runner.Run(ctx); err != nil {
				log.Printf("in-process worker: %v", err)
			}
		}()
		sched, err := app.Reconcile.Schedule(cfg.ReconcileSchedule)
		if err != nil {
			log.Fatalf("reconcile schedule: %v", err)
		}
		sched.Start()
		defer func() { <-sched.Stop().Done() }()
	}

	addr := server.Addr(cfg.Port)
	srv := &http.Server{Addr: addr, Handler: app.Router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Printf("Starting API server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
	wg.Wait()
}
