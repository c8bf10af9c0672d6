// Package reconcile re-enqueues documents whose embedding job never reached
// the queue. Upload leaves such documents in uploaded; nothing else moves them.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"docchat-backend/internal/documents"
	"docchat-backend/internal/shared/metrics"
	"docchat-backend/internal/shared/telemetry"
)

const (
	defaultStaleAfter = 10 * time.Minute
	defaultBatchSize  = 100
	sweepTimeout      = 2 * time.Minute
)

// StaleLister finds documents left in a status since before a cutoff.
type StaleLister interface {
	ListStale(ctx context.Context, status documents.Status, updatedBefore time.Time, limit int) ([]documents.Document, error)
}

// Enqueuer sends the embedding job for an uploaded document.
type Enqueuer interface {
	Enqueue(ctx context.Context, doc documents.Document) (documents.Document, error)
}

// Sweeper finds stale uploaded documents and enqueues them again.
type Sweeper struct {
	Documents  StaleLister
	Enqueuer   Enqueuer
	StaleAfter time.Duration
	BatchSize  int
	Now        func() time.Time

	mu sync.Mutex
}

// Result summarises one sweep.
type Result struct {
	Scanned  int
	Requeued int
	Failed   int
}

// Sweep runs one pass. Per-document enqueue failures are counted, not
// returned; the next pass retries them.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	if s.Documents == nil || s.Enqueuer == nil {
		return Result{}, errors.New("reconcile sweeper not configured")
	}
	// Overlapping sweeps would double-send jobs.
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.staleAfter())
	stale, err := s.Documents.ListStale(ctx, documents.StatusUploaded, cutoff, s.batchSize())
	if err != nil {
		return Result{}, fmt.Errorf("list stale uploads: %w", err)
	}

	res := Result{Scanned: len(stale)}
	for _, doc := range stale {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		queued, err := s.Enqueuer.Enqueue(ctx, doc)
		if err != nil {
			res.Failed++
			telemetry.Warn("reconcile.enqueue_failed", map[string]any{
				"user_id":     doc.UserID,
				"document_id": doc.ID,
				"error":       err.Error(),
			})
			continue
		}
		if queued.Status != documents.StatusUploaded {
			res.Requeued++
			metrics.IncReconcileRequeued()
		}
	}
	telemetry.Info("reconcile.sweep", map[string]any{
		"scanned":  res.Scanned,
		"requeued": res.Requeued,
		"failed":   res.Failed,
		"cutoff":   cutoff.Format(time.RFC3339),
	})
	return res, nil
}

// Schedule registers the sweep on a cron instance. The returned cron is not
// started.
func (s *Sweeper) Schedule(spec string) (*cron.Cron, error) {
	logger := cronLogger{}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()
		if _, err := s.Sweep(ctx); err != nil {
			telemetry.Error("reconcile.sweep_failed", map[string]any{"error": err.Error()})
		}
	}); err != nil {
		return nil, fmt.Errorf("schedule reconcile %q: %w", spec, err)
	}
	return c, nil
}

func (s *Sweeper) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Sweeper) staleAfter() time.Duration {
	if s.StaleAfter > 0 {
		return s.StaleAfter
	}
	return defaultStaleAfter
}

func (s *Sweeper) batchSize() int {
	if s.BatchSize > 0 {
		return s.BatchSize
	}
	return defaultBatchSize
}

// cronLogger routes cron's own logging through telemetry.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	telemetry.Debug("reconcile.cron."+msg, pairs(keysAndValues))
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	fields := pairs(keysAndValues)
	fields["error"] = err.Error()
	telemetry.Error("reconcile.cron."+msg, fields)
}

func pairs(kv []any) map[string]any {
	fields := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}
