package queue

import (
	"context"
	"errors"
	"time"
)

// ErrStaleReceipt is returned when a delivery's lease was already lost to a redelivery.
var ErrStaleReceipt = errors.New("queue: receipt no longer holds the lease")

// Client sends messages to a queue backend.
type Client interface {
	Send(ctx context.Context, msg Message) error
}

// Delivery is one leased receipt of a message. The same message may be
// delivered more than once.
type Delivery struct {
	ID           string
	Receipt      string
	Body         []byte
	ReceiveCount int
	ReceivedAt   time.Time
}

// Consumer leases messages. A delivery that is neither acked nor nacked
// before its lease expires becomes visible again.
type Consumer interface {
	Receive(ctx context.Context, max int) ([]Delivery, error)
	Ack(ctx context.Context, d Delivery) error
	Nack(ctx context.Context, d Delivery, delay time.Duration) error
}

// Queue is a backend that can both send and consume.
type Queue interface {
	Client
	Consumer
}
