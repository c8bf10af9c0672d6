package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

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

func newTestQueue(clock *fakeClock) *MemoryQueue {
	return NewMemoryQueue(WithClock(clock.Now), WithLease(time.Minute), WithWaitTime(0))
}

func job(id string) Message {
	return Message{UserID: "u1", DocumentID: id, ObjectKey: "u1/" + id, Version: 1}
}

func TestLeaseHidesMessageUntilExpiry(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(0, 0)}
	q := newTestQueue(clock)
	require.NoError(t, q.Send(ctx, job("d1")))

	first, err := q.Receive(ctx, 10)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, 1, first[0].ReceiveCount)

	again, err := q.Receive(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, again, "leased message must stay hidden")

	clock.Advance(61 * time.Second)
	redelivered, err := q.Receive(ctx, 10)
	require.NoError(t, err)
	require.Len(t, redelivered, 1)
	assert.Equal(t, first[0].ID, redelivered[0].ID)
	assert.Equal(t, 2, redelivered[0].ReceiveCount)
	assert.NotEqual(t, first[0].Receipt, redelivered[0].Receipt)

	assert.ErrorIs(t, q.Ack(ctx, first[0]), ErrStaleReceipt)
	require.NoError(t, q.Ack(ctx, redelivered[0]))
	assert.Equal(t, 0, q.Len())
}

func TestNackDelaysRedelivery(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(0, 0)}
	q := newTestQueue(clock)
	require.NoError(t, q.Send(ctx, job("d1")))

	got, err := q.Receive(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NoError(t, q.Nack(ctx, got[0], 10*time.Second))

	none, _ := q.Receive(ctx, 1)
	assert.Empty(t, none)

	clock.Advance(10 * time.Second)
	back, _ := q.Receive(ctx, 1)
	require.Len(t, back, 1)
	assert.Equal(t, 2, back[0].ReceiveCount)
}

func TestReceiveRespectsMax(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(0, 0)}
	q := newTestQueue(clock)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Send(ctx, job(id)))
	}
	got, err := q.Receive(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	rest, _ := q.Receive(ctx, 10)
	assert.Len(t, rest, 1)
}

func TestReceiveWaitsForSend(t *testing.T) {
	q := NewMemoryQueue(WithWaitTime(2 * time.Second))
	ctx := context.Background()

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = q.Send(ctx, job("late"))
	}()

	got, err := q.Receive(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
}
