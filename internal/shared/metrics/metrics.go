package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

type counter struct {
	name  string
	help  string
	value atomic.Uint64
}

var (
	documentsUploaded   = &counter{name: "documents_uploaded_total", help: "Documents accepted by the upload endpoint"}
	jobsReceived        = &counter{name: "ingest_jobs_received_total", help: "Embedding job deliveries received"}
	jobsCompleted       = &counter{name: "ingest_jobs_completed_total", help: "Embedding jobs committed as ready"}
	jobsFailed          = &counter{name: "ingest_jobs_failed_total", help: "Embedding job attempts that failed transiently"}
	jobsDeadLettered    = &counter{name: "ingest_jobs_dead_lettered_total", help: "Documents moved to dead_lettered"}
	jobsDuplicate       = &counter{name: "ingest_jobs_duplicate_total", help: "Deliveries acknowledged without work"}
	jobsDropped         = &counter{name: "ingest_jobs_dropped_total", help: "Undecodable deliveries dropped"}
	jobsNacked          = &counter{name: "ingest_jobs_nacked_total", help: "Deliveries released for redelivery"}
	reconcileRequeued   = &counter{name: "reconcile_requeued_total", help: "Stale uploaded documents re-enqueued"}
	conversationReplies = &counter{name: "conversation_replies_total", help: "Assistant replies generated"}

	counters = []*counter{
		documentsUploaded,
		jobsReceived,
		jobsCompleted,
		jobsFailed,
		jobsDeadLettered,
		jobsDuplicate,
		jobsDropped,
		jobsNacked,
		reconcileRequeued,
		conversationReplies,
	}

	ingestDuration = newHistogram([]float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000, 300000})
)

func IncDocumentsUploaded() { documentsUploaded.value.Add(1) }
func IncJobsReceived() { jobsReceived.value.Add(1) }
func IncJobsCompleted() { jobsCompleted.value.Add(1) }
func IncJobsFailed() { jobsFailed.value.Add(1) }
func IncJobsDeadLettered() { jobsDeadLettered.value.Add(1) }
func IncJobsDuplicate() { jobsDuplicate.value.Add(1) }
func IncJobsDropped() { jobsDropped.value.Add(1) }
func IncJobsNacked() { jobsNacked.value.Add(1) }
func IncReconcileRequeued() { reconcileRequeued.value.Add(1) }
func IncConversationReplies() { conversationReplies.value.Add(1) }

// ObserveIngestDurationMs records one embedding job duration in milliseconds.
func ObserveIngestDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	ingestDuration.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	for _, c := range counters {
		writeCounter(&buf, c.name, c.help, c.value.Load())
	}
	writeHistogram(&buf, "ingest_duration_ms", "Embedding job duration in milliseconds", ingestDuration.Snapshot())
	return buf.String()
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

// Observe counts value in the first bucket that holds it; writeHistogram
// accumulates buckets on render.
func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
			return
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}
