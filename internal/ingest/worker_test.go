package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat-backend/internal/chunking"
	"docchat-backend/internal/documents"
	"docchat-backend/internal/llm"
	"docchat-backend/internal/queue"
	"docchat-backend/internal/shared/retry"
	"docchat-backend/internal/shared/storage/object"
	"docchat-backend/internal/shared/storage/object/local"
	"docchat-backend/internal/vectors"
)

const reportText = "Quarterly revenue grew in every region. The northern office opened in March and hired forty engineers."

type countingChunks struct {
	*vectors.MemoryStore
	mu       sync.Mutex
	replaces int
}

func (c *countingChunks) Replace(ctx context.Context, userID, documentID string, chunks []vectors.Chunk) error {
	c.mu.Lock()
	c.replaces++
	c.mu.Unlock()
	return c.MemoryStore.Replace(ctx, userID, documentID, chunks)
}

type failingEmbedder struct{ err error }

func (f failingEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, f.err
}

func (f failingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return nil, f.err
}

type panickingEmbedder struct{}

func (panickingEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	panic("embedding client exploded")
}

func (panickingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	panic("embedding client exploded")
}

type blockingEmbedder struct{}

func (blockingEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// gatedEmbedder signals entered on its first call and then waits for release.
type gatedEmbedder struct {
	llm.PlaceholderEmbedder
	mu      sync.Mutex
	calls   int
	entered chan struct{}
	release chan struct{}
}

func (g *gatedEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	g.mu.Lock()
	g.calls++
	first := g.calls == 1
	g.mu.Unlock()
	if first {
		close(g.entered)
		<-g.release
	}
	return g.PlaceholderEmbedder.EmbedTexts(ctx, texts)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	repo   *documents.MemoryRepo
	blobs  *local.Store
	chunks *countingChunks
	worker *Worker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:   documents.NewMemoryRepo(),
		blobs:  local.New(t.TempDir()),
		chunks: &countingChunks{MemoryStore: vectors.NewMemoryStore()},
	}
	f.worker = &Worker{
		Documents:  f.repo,
		Blobs:      f.blobs,
		Splitter:   &chunking.Chunker{Tokenizer: chunking.Words{}, Size: 8, Overlap: 2},
		Embedder:   llm.PlaceholderEmbedder{Dimensions: 64},
		Chunks:     f.chunks,
		MaxRetries: 3,
		Backoff:    retry.Policy{MaxAttempts: 1, BaseDelay: time.Second, MaxDelay: 30 * time.Second},
		Lease:      time.Minute,
	}
	return f
}

// seed stores the bytes and records the document directly in status.
func (f *fixture) seed(t *testing.T, id, fileName, mimeType, body string, status documents.Status) queue.Message {
	t.Helper()
	ctx := context.Background()
	key, err := object.DocumentKey("u1", id)
	require.NoError(t, err)
	if body != "" {
		_, err = f.blobs.Put(ctx, key, mimeType, strings.NewReader(body))
		require.NoError(t, err)
	}
	require.NoError(t, f.repo.Create(ctx, documents.Document{
		UserID:     "u1",
		ID:         id,
		ProjectID:  "p1",
		FileName:   fileName,
		MimeType:   mimeType,
		FileSize:   int64(len(body)),
		Status:     status,
		StorageKey: key,
	}))
	return queue.Message{UserID: "u1", DocumentID: id, ObjectKey: key, Version: queue.MessageVersion}
}

func (f *fixture) doc(t *testing.T, id string) documents.Document {
	t.Helper()
	doc, err := f.repo.Get(context.Background(), "u1", id)
	require.NoError(t, err)
	return doc
}

func (f *fixture) chunkCount(t *testing.T, id string) int {
	t.Helper()
	n, err := f.chunks.Count(context.Background(), "u1", id)
	require.NoError(t, err)
	return n
}

func TestProcessMakesDocumentReady(t *testing.T) {
	f := newFixture(t)
	msg := f.seed(t, "d1", "report.txt", "text/plain", reportText, documents.StatusQueued)

	out := f.worker.Process(context.Background(), msg, 1)

	assert.Equal(t, Ack, out.Decision)
	assert.Equal(t, "completed", out.Result)
	doc := f.doc(t, "d1")
	assert.Equal(t, documents.StatusReady, doc.Status)
	assert.Equal(t, 1, doc.PageCount)
	assert.Zero(t, doc.RetryCount)
	assert.Positive(t, f.chunkCount(t, "d1"))
}

func TestProcessClaimsUploadedDocument(t *testing.T) {
	f := newFixture(t)
	msg := f.seed(t, "d1", "notes.md", "text/markdown", "# Notes\n\nShip the beta.", documents.StatusUploaded)

	out := f.worker.Process(context.Background(), msg, 1)

	assert.Equal(t, "completed", out.Result)
	assert.Equal(t, documents.StatusReady, f.doc(t, "d1").Status)
}

func TestDuplicateDeliveryOfReadyDocumentIsNoop(t *testing.T) {
	f := newFixture(t)
	msg := f.seed(t, "d1", "report.txt", "text/plain", reportText, documents.StatusQueued)
	ctx := context.Background()

	first := f.worker.Process(ctx, msg, 1)
	require.Equal(t, "completed", first.Result)
	before := f.chunkCount(t, "d1")
	readyAt := f.doc(t, "d1").UpdatedAt

	second := f.worker.Process(ctx, msg, 2)

	assert.Equal(t, Ack, second.Decision)
	assert.Equal(t, "duplicate", second.Result)
	assert.Equal(t, before, f.chunkCount(t, "d1"))
	assert.Equal(t, 1, f.chunks.replaces)
	assert.Equal(t, readyAt, f.doc(t, "d1").UpdatedAt)
}

func TestPermanentErrorDeadLettersWithoutRetry(t *testing.T) {
	f := newFixture(t)
	msg := f.seed(t, "d1", "setup.exe", "application/x-msdownload", "MZ binary", documents.StatusQueued)

	out := f.worker.Process(context.Background(), msg, 1)

	assert.Equal(t, Ack, out.Decision)
	assert.Equal(t, "dead_lettered", out.Result)
	doc := f.doc(t, "d1")
	assert.Equal(t, documents.StatusDeadLettered, doc.Status)
	assert.Zero(t, doc.RetryCount)
	assert.NotEmpty(t, doc.ErrorReason)
	assert.Zero(t, f.chunkCount(t, "d1"))

	again := f.worker.Process(context.Background(), msg, 2)
	assert.Equal(t, "duplicate", again.Result)
}

func TestMissingBlobDeadLetters(t *testing.T) {
	f := newFixture(t)
	msg := f.seed(t, "d1", "gone.txt", "text/plain", "", documents.StatusQueued)

	out := f.worker.Process(context.Background(), msg, 1)

	assert.Equal(t, "dead_lettered", out.Result)
	assert.Equal(t, documents.StatusDeadLettered, f.doc(t, "d1").Status)
}

func TestPermanentEmbeddingErrorDeadLetters(t *testing.T) {
	f := newFixture(t)
	f.worker.Embedder = failingEmbedder{err: fmt.Errorf("bad request: %w", llm.ErrPermanent)}
	msg := f.seed(t, "d1", "report.txt", "text/plain", reportText, documents.StatusQueued)

	out := f.worker.Process(context.Background(), msg, 1)

	assert.Equal(t, "dead_lettered", out.Result)
	assert.Zero(t, f.doc(t, "d1").RetryCount)
}

func TestTransientErrorRequeuesWithBackoff(t *testing.T) {
	f := newFixture(t)
	f.worker.Embedder = failingEmbedder{err: errors.New("connection reset")}
	msg := f.seed(t, "d1", "report.txt", "text/plain", reportText, documents.StatusQueued)

	out := f.worker.Process(context.Background(), msg, 1)

	assert.Equal(t, Nack, out.Decision)
	assert.Equal(t, time.Second, out.Delay)
	doc := f.doc(t, "d1")
	assert.Equal(t, documents.StatusQueued, doc.Status)
	assert.Equal(t, 1, doc.RetryCount)
	assert.Contains(t, doc.ErrorReason, "connection reset")

	out = f.worker.Process(context.Background(), msg, 2)
	assert.Equal(t, 2*time.Second, out.Delay)
	assert.Equal(t, 2, f.doc(t, "d1").RetryCount)
}

func TestTransientErrorDeadLettersAfterMaxRetries(t *testing.T) {
	f := newFixture(t)
	f.worker.MaxRetries = 2
	f.worker.Embedder = failingEmbedder{err: errors.New("connection reset")}
	msg := f.seed(t, "d1", "report.txt", "text/plain", reportText, documents.StatusQueued)
	ctx := context.Background()

	require.Equal(t, Nack, f.worker.Process(ctx, msg, 1).Decision)
	out := f.worker.Process(ctx, msg, 2)

	assert.Equal(t, Ack, out.Decision)
	assert.Equal(t, "dead_lettered", out.Result)
	doc := f.doc(t, "d1")
	assert.Equal(t, documents.StatusDeadLettered, doc.Status)
	assert.Equal(t, 2, doc.RetryCount)
}

func TestPanicIsTreatedAsTransient(t *testing.T) {
	f := newFixture(t)
	f.worker.Embedder = panickingEmbedder{}
	msg := f.seed(t, "d1", "report.txt", "text/plain", reportText, documents.StatusQueued)

	var out Outcome
	require.NotPanics(t, func() {
		out = f.worker.Process(context.Background(), msg, 1)
	})

	assert.Equal(t, Nack, out.Decision)
	doc := f.doc(t, "d1")
	assert.Equal(t, documents.StatusQueued, doc.Status)
	assert.Equal(t, 1, doc.RetryCount)
	assert.Contains(t, doc.ErrorReason, "panic")
}

func TestJobDeadlineIsTransient(t *testing.T) {
	f := newFixture(t)
	f.worker.Embedder = blockingEmbedder{}
	f.worker.Lease = 60 * time.Millisecond
	f.worker.SafetyMargin = 20 * time.Millisecond
	msg := f.seed(t, "d1", "report.txt", "text/plain", reportText, documents.StatusQueued)

	out := f.worker.Process(context.Background(), msg, 1)

	assert.Equal(t, Nack, out.Decision)
	doc := f.doc(t, "d1")
	assert.Equal(t, 1, doc.RetryCount)
	assert.Contains(t, doc.ErrorReason, "deadline")
}

func TestDeletedDocumentIsDropped(t *testing.T) {
	f := newFixture(t)
	msg := f.seed(t, "d1", "report.txt", "text/plain", reportText, documents.StatusDeleted)

	out := f.worker.Process(context.Background(), msg, 1)

	assert.Equal(t, Ack, out.Decision)
	assert.Equal(t, "dropped", out.Result)
	assert.Zero(t, f.chunks.replaces)
}

func TestUnknownDocumentIsDropped(t *testing.T) {
	f := newFixture(t)

	out := f.worker.Process(context.Background(), queue.Message{UserID: "u1", DocumentID: "missing", ObjectKey: "k", Version: 1}, 1)

	assert.Equal(t, Ack, out.Decision)
	assert.Equal(t, "dropped", out.Result)
}

func TestFailedDocumentWithRetriesLeftResumes(t *testing.T) {
	f := newFixture(t)
	msg := f.seed(t, "d1", "report.txt", "text/plain", reportText, documents.StatusFailed)

	out := f.worker.Process(context.Background(), msg, 3)

	assert.Equal(t, "completed", out.Result)
	assert.Equal(t, documents.StatusReady, f.doc(t, "d1").Status)
}

func TestRedeliveryAfterLeaseExpiryCompletes(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	q := queue.NewMemoryQueue(queue.WithClock(clock.Now), queue.WithLease(time.Minute), queue.WithWaitTime(0))
	f := newFixture(t)
	msg := f.seed(t, "d1", "report.txt", "text/plain", reportText, documents.StatusQueued)
	require.NoError(t, q.Send(ctx, msg))

	f.repo.Now = clock.Now
	f.worker.Now = clock.Now

	// First attempt claims the document and then the process dies.
	first, err := q.Receive(ctx, 1)
	require.NoError(t, err)
	require.Len(t, first, 1)
	crashed := "crashed-attempt"
	_, err = f.repo.Transition(ctx, "u1", "d1", documents.Transition{From: documents.StatusQueued, To: documents.StatusProcessing, ClaimToken: &crashed})
	require.NoError(t, err)

	none, err := q.Receive(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, none)

	clock.Advance(2 * time.Minute)
	second, err := q.Receive(ctx, 1)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, 2, second[0].ReceiveCount)

	decoded, err := queue.DecodeMessage(second[0].Body)
	require.NoError(t, err)
	out := f.worker.Process(ctx, decoded, second[0].ReceiveCount)
	require.Equal(t, Ack, out.Decision)
	require.NoError(t, q.Ack(ctx, second[0]))

	assert.Equal(t, documents.StatusReady, f.doc(t, "d1").Status)
	assert.Zero(t, q.Len())
	// The crashed attempt's receipt refers to a message that is already gone.
	assert.NoError(t, q.Ack(ctx, first[0]))
}

func TestReadyAlwaysHasChunks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inputs := []struct {
		id, name, mime, body string
	}{
		{"d1", "a.txt", "text/plain", reportText},
		{"d2", "b.md", "text/markdown", "## Plan\n\nHire two designers."},
		{"d3", "c.exe", "application/x-msdownload", "MZ"},
		{"d4", "d.txt", "text/plain", "   \n\t  "},
	}
	for _, in := range inputs {
		msg := f.seed(t, in.id, in.name, in.mime, in.body, documents.StatusQueued)
		f.worker.Process(ctx, msg, 1)
		f.worker.Process(ctx, msg, 2)
	}

	for _, in := range inputs {
		doc := f.doc(t, in.id)
		if doc.Status == documents.StatusReady {
			assert.Positive(t, f.chunkCount(t, in.id), in.id)
		} else {
			assert.Zero(t, f.chunkCount(t, in.id), in.id)
		}
	}
	assert.Equal(t, documents.StatusReady, f.doc(t, "d1").Status)
	assert.Equal(t, documents.StatusDeadLettered, f.doc(t, "d4").Status)
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, IsPermanent(Permanent(errors.New("bad"))))
	assert.True(t, IsPermanent(fmt.Errorf("wrap: %w", errBlobMissing)))
	assert.True(t, IsPermanent(fmt.Errorf("wrap: %w", llm.ErrPermanent)))
	assert.False(t, IsPermanent(errors.New("timeout")))
	assert.Nil(t, Permanent(nil))
}

func TestConcurrentDuplicateDeliveriesProcessOnce(t *testing.T) {
	f := newFixture(t)
	embedder := &gatedEmbedder{
		PlaceholderEmbedder: llm.PlaceholderEmbedder{Dimensions: 64},
		entered:             make(chan struct{}),
		release:             make(chan struct{}),
	}
	f.worker.Embedder = embedder
	msg := f.seed(t, "d1", "report.txt", "text/plain", reportText, documents.StatusQueued)

	winner := make(chan Outcome, 1)
	go func() { winner <- f.worker.Process(context.Background(), msg, 1) }()
	<-embedder.entered

	loser := f.worker.Process(context.Background(), msg, 2)
	close(embedder.release)
	won := <-winner

	assert.Equal(t, Nack, loser.Decision)
	assert.Equal(t, "retry", loser.Result)
	assert.Positive(t, loser.Delay)
	assert.Equal(t, "completed", won.Result)
	assert.Equal(t, 1, embedder.calls)
	assert.Equal(t, 1, f.chunks.replaces)
	doc := f.doc(t, "d1")
	assert.Equal(t, documents.StatusReady, doc.Status)
	assert.Zero(t, doc.RetryCount)
	assert.Empty(t, doc.ClaimToken)
}

func TestHeldClaimIsNotResumed(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	f := newFixture(t)
	f.repo.Now = clock.Now
	f.worker.Now = clock.Now
	msg := f.seed(t, "d1", "report.txt", "text/plain", reportText, documents.StatusQueued)
	other := "other-worker"
	_, err := f.repo.Transition(ctx, "u1", "d1", documents.Transition{From: documents.StatusQueued, To: documents.StatusProcessing, ClaimToken: &other})
	require.NoError(t, err)

	clock.Advance(10 * time.Second)
	out := f.worker.Process(ctx, msg, 2)

	assert.Equal(t, Nack, out.Decision)
	assert.Equal(t, 50*time.Second, out.Delay)
	assert.Zero(t, f.chunks.replaces)
	assert.Equal(t, other, f.doc(t, "d1").ClaimToken)
}

func TestRepeatedlyAbandonedDocumentCountsRetries(t *testing.T) {
	f := newFixture(t)
	msg := f.seed(t, "d1", "report.txt", "text/plain", reportText, documents.StatusProcessing)

	out := f.worker.Process(context.Background(), msg, 5)

	assert.Equal(t, Nack, out.Decision)
	assert.Zero(t, f.chunks.replaces)
	doc := f.doc(t, "d1")
	assert.Equal(t, documents.StatusQueued, doc.Status)
	assert.Equal(t, 1, doc.RetryCount)
	assert.Contains(t, doc.ErrorReason, "abandoned")
}

func TestRepeatedlyAbandonedDocumentDeadLetters(t *testing.T) {
	f := newFixture(t)
	f.worker.MaxRetries = 1
	msg := f.seed(t, "d1", "report.txt", "text/plain", reportText, documents.StatusProcessing)

	out := f.worker.Process(context.Background(), msg, 3)

	assert.Equal(t, Ack, out.Decision)
	assert.Equal(t, "dead_lettered", out.Result)
	assert.Equal(t, documents.StatusDeadLettered, f.doc(t, "d1").Status)
	assert.Zero(t, f.chunks.replaces)
}

type mismatchedChunks struct{ *countingChunks }

func (m mismatchedChunks) Replace(ctx context.Context, userID, documentID string, chunks []vectors.Chunk) error {
	return fmt.Errorf("insert chunk 0: %w", vectors.ErrDimensionMismatch)
}

func TestDimensionMismatchDeadLetters(t *testing.T) {
	f := newFixture(t)
	f.worker.Chunks = mismatchedChunks{f.chunks}
	msg := f.seed(t, "d1", "report.txt", "text/plain", reportText, documents.StatusQueued)

	out := f.worker.Process(context.Background(), msg, 1)

	assert.Equal(t, Ack, out.Decision)
	assert.Equal(t, "dead_lettered", out.Result)
	assert.Zero(t, f.doc(t, "d1").RetryCount)
}
