// Package ingest turns one queued embedding job into searchable chunks. It
// owns every status write the worker makes and decides whether a delivery is
// acknowledged or handed back to the queue.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"docchat-backend/internal/chunking"
	"docchat-backend/internal/documents"
	"docchat-backend/internal/extract"
	"docchat-backend/internal/llm"
	"docchat-backend/internal/queue"
	"docchat-backend/internal/shared/metrics"
	"docchat-backend/internal/shared/requestid"
	"docchat-backend/internal/shared/retry"
	"docchat-backend/internal/shared/storage/object"
	"docchat-backend/internal/shared/telemetry"
	"docchat-backend/internal/vectors"
)

const (
	defaultSafetyMargin = 15 * time.Second
	defaultMaxRetries   = 3
	statusWriteTimeout  = 10 * time.Second
	// Bounds re-reads when another delivery of the same job races us.
	maxClaimAttempts = 3
)

var errBlobMissing = errors.New("document bytes missing from object store")

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Permanent marks err as a content error that no retry can fix.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err should dead-letter the document directly.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p) ||
		errors.Is(err, errBlobMissing) ||
		errors.Is(err, llm.ErrPermanent) ||
		extract.IsPermanent(err)
}

// Decision tells the delivery loop what to do with the message.
type Decision int

const (
	// Ack removes the message from the queue.
	Ack Decision = iota
	// Nack hands the message back to the queue after Outcome.Delay.
	Nack
)

// Outcome is the result of processing one delivery.
type Outcome struct {
	Decision Decision
	Delay    time.Duration
	Result   string
	Document documents.Document
}

// DocumentStore is the subset of the document repo the worker writes through.
type DocumentStore interface {
	Get(ctx context.Context, userID, documentID string) (documents.Document, error)
	Transition(ctx context.Context, userID, documentID string, t documents.Transition) (documents.Document, error)
	Reclaim(ctx context.Context, userID, documentID, staleToken, newToken string) (documents.Document, error)
}

// BlobReader fetches raw document bytes.
type BlobReader interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// Splitter cuts extracted pages into chunks.
type Splitter interface {
	Split(pages []extract.Page) []chunking.Chunk
}

// ChunkWriter replaces the derived chunks for a document.
type ChunkWriter interface {
	Replace(ctx context.Context, userID, documentID string, chunks []vectors.Chunk) error
	DeleteByDocument(ctx context.Context, userID, documentID string) error
}

// Worker processes embedding jobs.
type Worker struct {
	Documents DocumentStore
	Blobs     BlobReader
	Splitter  Splitter
	Embedder  llm.Embedder
	Chunks    ChunkWriter

	MaxRetries int
	Backoff    retry.Policy
	// Lease is the queue visibility timeout. Each job must finish within
	// Lease minus SafetyMargin.
	Lease        time.Duration
	SafetyMargin time.Duration
	EmbedTimeout time.Duration
	EmbedBatch   int

	Now func() time.Time
}

func (w *Worker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now().UTC()
}

func (w *Worker) maxRetries() int {
	if w.MaxRetries > 0 {
		return w.MaxRetries
	}
	return defaultMaxRetries
}

func (w *Worker) deadline() time.Duration {
	margin := w.SafetyMargin
	if margin <= 0 {
		margin = defaultSafetyMargin
	}
	if w.Lease <= margin {
		return w.Lease
	}
	return w.Lease - margin
}

type job struct {
	msg          queue.Message
	receiveCount int
}

func (j job) fields(extra map[string]any) map[string]any {
	fields := map[string]any{
		"user_id":       j.msg.UserID,
		"document_id":   j.msg.DocumentID,
		"request_id":    j.msg.RequestID,
		"receive_count": j.receiveCount,
	}
	for k, v := range extra {
		fields[k] = v
	}
	return fields
}

// Process runs one delivery of msg. It never panics and always returns a
// decision the caller can apply to the queue.
func (w *Worker) Process(ctx context.Context, msg queue.Message, receiveCount int) Outcome {
	j := job{msg: msg, receiveCount: receiveCount}
	ctx = requestid.With(ctx, msg.RequestID)
	metrics.IncJobsReceived()
	start := time.Now()
	telemetry.Info("worker.job.received", j.fields(nil))

	out := w.process(ctx, j)

	elapsed := time.Since(start)
	metrics.ObserveIngestDurationMs(float64(elapsed.Milliseconds()))
	switch out.Result {
	case "completed":
		metrics.IncJobsCompleted()
	case "duplicate":
		metrics.IncJobsDuplicate()
	case "dropped":
		metrics.IncJobsDropped()
	case "dead_lettered":
		metrics.IncJobsDeadLettered()
	}
	if out.Decision == Nack {
		metrics.IncJobsNacked()
	}
	telemetry.Info("worker.job.done", j.fields(map[string]any{
		"result":      out.Result,
		"duration_ms": elapsed.Milliseconds(),
		"nack_delay":  out.Delay.String(),
	}))
	return out
}

func (w *Worker) process(ctx context.Context, j job) Outcome {
	doc, out, ok := w.claim(ctx, j)
	if !ok {
		return out
	}

	var (
		jobCtx context.Context
		cancel context.CancelFunc
	)
	if d := w.deadline(); d > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, d)
	} else {
		jobCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	pageCount, err := w.runSafely(jobCtx, doc)
	if err == nil {
		return w.commit(ctx, j, doc, pageCount)
	}

	if ctx.Err() != nil {
		// Shutdown, not a job failure. The document stays processing and the
		// next delivery resumes it.
		telemetry.Warn("worker.job.abandoned", j.fields(map[string]any{"error": err.Error()}))
		return Outcome{Decision: Nack, Result: "abandoned", Document: doc}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("job exceeded %s deadline: %w", w.deadline(), err)
	}
	return w.fail(ctx, j, doc, err)
}

// claim moves the document into processing, or reports why the delivery is
// already settled.
func (w *Worker) claim(ctx context.Context, j job) (documents.Document, Outcome, bool) {
	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		doc, err := w.Documents.Get(ctx, j.msg.UserID, j.msg.DocumentID)
		if errors.Is(err, documents.ErrNotFound) {
			telemetry.Warn("worker.job.document_missing", j.fields(nil))
			return doc, Outcome{Decision: Ack, Result: "dropped"}, false
		}
		if err != nil {
			telemetry.Error("worker.job.load_failed", j.fields(map[string]any{"error": err.Error()}))
			return doc, Outcome{Decision: Nack, Delay: w.Backoff.Backoff(j.receiveCount), Result: "retry"}, false
		}

		switch doc.Status {
		case documents.StatusDeleted:
			return doc, Outcome{Decision: Ack, Result: "dropped", Document: doc}, false
		case documents.StatusReady, documents.StatusDeadLettered:
			return doc, Outcome{Decision: Ack, Result: "duplicate", Document: doc}, false
		case documents.StatusProcessing:
			if w.claimHeld(doc) {
				return doc, w.busy(j, doc), false
			}
			// The attempt holding the claim outlived its lease.
			reclaimed, err := w.Documents.Reclaim(ctx, j.msg.UserID, j.msg.DocumentID, doc.ClaimToken, uuid.NewString())
			if errors.Is(err, documents.ErrStaleStatus) {
				continue
			}
			if err != nil {
				return doc, w.retryLater(j, doc, err), false
			}
			telemetry.Info("worker.job.resumed", j.fields(nil))
			if j.receiveCount > w.maxRetries()+1 {
				cause := fmt.Errorf("abandoned after %d deliveries without settling", j.receiveCount-1)
				return reclaimed, w.fail(ctx, j, reclaimed, cause), false
			}
			return reclaimed, Outcome{}, true
		case documents.StatusFailed:
			if doc.RetryCount >= w.maxRetries() {
				return doc, w.deadLetter(ctx, j, doc, documents.StatusFailed, doc.ErrorReason), false
			}
			if _, err := w.advance(ctx, j, documents.StatusFailed, documents.StatusQueued); err != nil {
				if errors.Is(err, documents.ErrStaleStatus) {
					continue
				}
				return doc, w.retryLater(j, doc, err), false
			}
			fallthrough
		case documents.StatusUploaded, documents.StatusQueued:
			if doc.Status == documents.StatusUploaded {
				if _, err := w.advance(ctx, j, documents.StatusUploaded, documents.StatusQueued); err != nil && !errors.Is(err, documents.ErrStaleStatus) {
					return doc, w.retryLater(j, doc, err), false
				}
			}
			token := uuid.NewString()
			claimed, err := w.Documents.Transition(ctx, j.msg.UserID, j.msg.DocumentID, documents.Transition{
				From:       documents.StatusQueued,
				To:         documents.StatusProcessing,
				ClaimToken: &token,
			})
			if errors.Is(err, documents.ErrStaleStatus) {
				continue
			}
			if err != nil {
				return doc, w.retryLater(j, doc, err), false
			}
			w.logTransition(j, documents.StatusQueued, documents.StatusProcessing)
			return claimed, Outcome{}, true
		default:
			telemetry.Error("worker.job.unknown_status", j.fields(map[string]any{"status": string(doc.Status)}))
			return doc, Outcome{Decision: Ack, Result: "dropped", Document: doc}, false
		}
	}
	telemetry.Warn("worker.job.claim_contended", j.fields(nil))
	return documents.Document{}, Outcome{Decision: Nack, Delay: w.Backoff.Backoff(j.receiveCount), Result: "retry"}, false
}

// claimHeld reports whether another attempt still owns a processing document.
func (w *Worker) claimHeld(doc documents.Document) bool {
	if doc.ClaimedAt.IsZero() {
		return false
	}
	return w.now().Sub(doc.ClaimedAt) < w.Lease
}

// busy hands the delivery back until the current claim would expire.
func (w *Worker) busy(j job, doc documents.Document) Outcome {
	delay := w.Backoff.Backoff(j.receiveCount)
	if !doc.ClaimedAt.IsZero() {
		if left := doc.ClaimedAt.Add(w.Lease).Sub(w.now()); left > delay {
			delay = left
		}
	}
	telemetry.Info("worker.job.claim_held", j.fields(map[string]any{"retry_in": delay.String()}))
	return Outcome{Decision: Nack, Delay: delay, Result: "retry", Document: doc}
}

// settle builds the status write that ends the attempt holding doc's claim.
func settle(doc documents.Document, t documents.Transition) documents.Transition {
	release := ""
	t.ClaimToken = &release
	t.RequireClaim = doc.ClaimToken
	return t
}

func (w *Worker) runSafely(ctx context.Context, doc documents.Document) (pages int, err error) {
	defer func() {
		if r := recover(); r != nil {
			telemetry.Error("worker.job.panic", map[string]any{
				"user_id":     doc.UserID,
				"document_id": doc.ID,
				"panic":       fmt.Sprint(r),
				"stack":       string(debug.Stack()),
			})
			err = fmt.Errorf("panic during ingest: %v", r)
		}
	}()
	return w.run(ctx, doc)
}

func (w *Worker) run(ctx context.Context, doc documents.Document) (int, error) {
	rc, err := w.Blobs.Get(ctx, doc.StorageKey)
	if errors.Is(err, object.ErrNotFound) {
		return 0, errBlobMissing
	}
	if err != nil {
		return 0, fmt.Errorf("fetch document bytes: %w", err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return 0, fmt.Errorf("read document bytes: %w", err)
	}

	result, err := extract.Extract(ctx, data, doc.MimeType, doc.FileName)
	if err != nil {
		return 0, err
	}

	pieces := w.Splitter.Split(result.Pages)
	if len(pieces) == 0 {
		return 0, extract.ErrNoText
	}

	vecs, err := w.embed(ctx, pieces)
	if err != nil {
		return 0, err
	}

	chunks := make([]vectors.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = vectors.Chunk{
			UserID:     doc.UserID,
			DocumentID: doc.ID,
			Position:   p.Position,
			Page:       p.Page,
			Content:    p.Text,
			Vector:     vecs[i],
		}
	}
	if err := w.Chunks.Replace(ctx, doc.UserID, doc.ID, chunks); err != nil {
		if errors.Is(err, vectors.ErrDimensionMismatch) {
			return 0, Permanent(err)
		}
		return 0, fmt.Errorf("store chunks: %w", err)
	}
	return result.PageCount, nil
}

func (w *Worker) embed(ctx context.Context, pieces []chunking.Chunk) ([][]float32, error) {
	batch := w.EmbedBatch
	if batch <= 0 {
		batch = len(pieces)
	}
	out := make([][]float32, 0, len(pieces))
	for start := 0; start < len(pieces); start += batch {
		end := start + batch
		if end > len(pieces) {
			end = len(pieces)
		}
		texts := make([]string, 0, end-start)
		for _, p := range pieces[start:end] {
			texts = append(texts, p.Text)
		}

		callCtx := ctx
		var cancel context.CancelFunc = func() {}
		if w.EmbedTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, w.EmbedTimeout)
		}
		vecs, err := w.Embedder.EmbedTexts(callCtx, texts)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("embed chunks: %w", err)
		}
		if len(vecs) != len(texts) {
			return nil, fmt.Errorf("embed chunks: got %d vectors for %d texts", len(vecs), len(texts))
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (w *Worker) commit(ctx context.Context, j job, doc documents.Document, pageCount int) Outcome {
	writeCtx, cancel := w.statusContext(ctx)
	defer cancel()

	ready, err := w.Documents.Transition(writeCtx, doc.UserID, doc.ID, settle(doc, documents.Transition{
		From:      documents.StatusProcessing,
		To:        documents.StatusReady,
		PageCount: &pageCount,
	}))
	if errors.Is(err, documents.ErrStaleStatus) {
		// Changed underneath us. A user delete leaves our chunks orphaned.
		switch ready.Status {
		case documents.StatusProcessing:
			return w.busy(j, ready)
		case documents.StatusDeleted:
			if delErr := w.Chunks.DeleteByDocument(writeCtx, doc.UserID, doc.ID); delErr != nil {
				telemetry.Error("worker.job.orphan_chunks", j.fields(map[string]any{"error": delErr.Error()}))
			}
			return Outcome{Decision: Ack, Result: "dropped", Document: ready}
		}
		return Outcome{Decision: Ack, Result: "duplicate", Document: ready}
	}
	if err != nil {
		telemetry.Error("worker.job.commit_failed", j.fields(map[string]any{"error": err.Error()}))
		return Outcome{Decision: Nack, Delay: w.Backoff.Backoff(j.receiveCount), Result: "retry", Document: doc}
	}
	w.logTransition(j, documents.StatusProcessing, documents.StatusReady)
	return Outcome{Decision: Ack, Result: "completed", Document: ready}
}

func (w *Worker) fail(ctx context.Context, j job, doc documents.Document, cause error) Outcome {
	reason := cause.Error()
	if IsPermanent(cause) {
		telemetry.Warn("worker.job.permanent_error", j.fields(map[string]any{"error": reason}))
		return w.deadLetter(ctx, j, doc, documents.StatusProcessing, reason)
	}

	telemetry.Warn("worker.job.transient_error", j.fields(map[string]any{"error": reason}))
	metrics.IncJobsFailed()

	writeCtx, cancel := w.statusContext(ctx)
	defer cancel()
	failed, err := w.Documents.Transition(writeCtx, doc.UserID, doc.ID, settle(doc, documents.Transition{
		From:           documents.StatusProcessing,
		To:             documents.StatusFailed,
		IncrementRetry: true,
		ErrorReason:    &reason,
	}))
	if errors.Is(err, documents.ErrStaleStatus) {
		if failed.Status == documents.StatusProcessing {
			return w.busy(j, failed)
		}
		return Outcome{Decision: Ack, Result: "duplicate", Document: failed}
	}
	if err != nil {
		return w.retryLater(j, doc, err)
	}
	w.logTransition(j, documents.StatusProcessing, documents.StatusFailed)

	if failed.RetryCount >= w.maxRetries() {
		return w.deadLetter(ctx, j, failed, documents.StatusFailed, reason)
	}

	requeued, err := w.advance(ctx, j, documents.StatusFailed, documents.StatusQueued)
	if err != nil && !errors.Is(err, documents.ErrStaleStatus) {
		return w.retryLater(j, failed, err)
	}
	return Outcome{
		Decision: Nack,
		Delay:    w.Backoff.Backoff(failed.RetryCount),
		Result:   "retry",
		Document: requeued,
	}
}

func (w *Worker) deadLetter(ctx context.Context, j job, doc documents.Document, from documents.Status, reason string) Outcome {
	writeCtx, cancel := w.statusContext(ctx)
	defer cancel()
	t := documents.Transition{
		From:        from,
		To:          documents.StatusDeadLettered,
		ErrorReason: &reason,
	}
	if from == documents.StatusProcessing {
		t = settle(doc, t)
	}
	dead, err := w.Documents.Transition(writeCtx, j.msg.UserID, j.msg.DocumentID, t)
	if errors.Is(err, documents.ErrStaleStatus) {
		if dead.Status == documents.StatusProcessing {
			return w.busy(j, dead)
		}
		return Outcome{Decision: Ack, Result: "duplicate", Document: dead}
	}
	if err != nil {
		telemetry.Error("worker.job.dead_letter_failed", j.fields(map[string]any{"error": err.Error()}))
		return Outcome{Decision: Nack, Delay: w.Backoff.Backoff(j.receiveCount), Result: "retry"}
	}
	w.logTransition(j, from, documents.StatusDeadLettered)
	return Outcome{Decision: Ack, Result: "dead_lettered", Document: dead}
}

func (w *Worker) advance(ctx context.Context, j job, from, to documents.Status) (documents.Document, error) {
	doc, err := w.Documents.Transition(ctx, j.msg.UserID, j.msg.DocumentID, documents.Transition{From: from, To: to})
	if err != nil {
		return doc, err
	}
	w.logTransition(j, from, to)
	return doc, nil
}

func (w *Worker) retryLater(j job, doc documents.Document, err error) Outcome {
	telemetry.Error("worker.job.status_write_failed", j.fields(map[string]any{"error": err.Error()}))
	return Outcome{Decision: Nack, Delay: w.Backoff.Backoff(j.receiveCount), Result: "retry", Document: doc}
}

// statusContext outlives the job deadline so a timed out job can still record
// its failure.
func (w *Worker) statusContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(requestid.Detached(ctx), statusWriteTimeout)
}

func (w *Worker) logTransition(j job, from, to documents.Status) {
	telemetry.Info("document.status", j.fields(map[string]any{
		"status_transition": string(from) + "->" + string(to),
		"at":                w.now().Format(time.RFC3339),
	}))
}
