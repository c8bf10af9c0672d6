package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryItem struct {
	id           string
	body         []byte
	receiveCount int
	visibleAt    time.Time
	receipt      string
}

// MemoryQueue is an in-process at-least-once queue with visibility leases.
type MemoryQueue struct {
	mu           sync.Mutex
	items        []*memoryItem
	lease        time.Duration
	waitTime     time.Duration
	pollInterval time.Duration
	now          func() time.Time
	notify       chan struct{}
}

// MemoryOption configures a MemoryQueue.
type MemoryOption func(*MemoryQueue)

// WithLease sets how long a received message stays invisible.
func WithLease(d time.Duration) MemoryOption {
	return func(q *MemoryQueue) { q.lease = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(q *MemoryQueue) { q.now = now }
}

// WithWaitTime sets how long Receive blocks when nothing is visible. Zero returns immediately.
func WithWaitTime(d time.Duration) MemoryOption {
	return func(q *MemoryQueue) { q.waitTime = d }
}

// NewMemoryQueue builds an empty queue.
func NewMemoryQueue(opts ...MemoryOption) *MemoryQueue {
	q := &MemoryQueue{
		lease:        5 * time.Minute,
		waitTime:     time.Second,
		pollInterval: 50 * time.Millisecond,
		now:          time.Now,
		notify:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Lease reports the visibility window applied on Receive.
func (q *MemoryQueue) Lease() time.Duration {
	return q.lease
}

// Send enqueues a message, immediately visible.
func (q *MemoryQueue) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := EncodeMessage(msg)
	if err != nil {
		return err
	}
	q.mu.Lock()
	q.items = append(q.items, &memoryItem{
		id:        uuid.NewString(),
		body:      payload,
		visibleAt: q.now(),
	})
	q.mu.Unlock()
	q.wake()
	return nil
}

// Receive leases up to max visible messages, waiting up to the configured wait time.
func (q *MemoryQueue) Receive(ctx context.Context, max int) ([]Delivery, error) {
	if max <= 0 {
		max = 1
	}
	deadline := time.Now().Add(q.waitTime)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if out := q.take(max); len(out) > 0 || q.waitTime <= 0 {
			return out, nil
		}
		if !time.Now().Before(deadline) {
			return nil, nil
		}
		timer := time.NewTimer(q.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (q *MemoryQueue) take(max int) []Delivery {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var out []Delivery
	for _, it := range q.items {
		if len(out) >= max {
			break
		}
		if it.visibleAt.After(now) {
			continue
		}
		it.receiveCount++
		it.receipt = uuid.NewString()
		it.visibleAt = now.Add(q.lease)
		out = append(out, Delivery{
			ID:           it.id,
			Receipt:      it.receipt,
			Body:         append([]byte(nil), it.body...),
			ReceiveCount: it.receiveCount,
			ReceivedAt:   now,
		})
	}
	return out
}

// Ack removes the message if the delivery still holds its lease.
func (q *MemoryQueue) Ack(ctx context.Context, d Delivery) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, it := range q.items {
		if it.id != d.ID {
			continue
		}
		if it.receipt != d.Receipt {
			return ErrStaleReceipt
		}
		q.items = append(q.items[:i], q.items[i+1:]...)
		return nil
	}
	return nil
}

// Nack makes the message visible again after delay.
func (q *MemoryQueue) Nack(ctx context.Context, d Delivery, delay time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	for _, it := range q.items {
		if it.id != d.ID {
			continue
		}
		if it.receipt != d.Receipt {
			q.mu.Unlock()
			return ErrStaleReceipt
		}
		it.visibleAt = q.now().Add(delay)
		it.receipt = ""
		break
	}
	q.mu.Unlock()
	q.wake()
	return nil
}

// Len reports messages not yet acked, in flight or not.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *MemoryQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

var _ Queue = (*MemoryQueue)(nil)
