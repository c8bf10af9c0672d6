package workerproc

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"docchat-backend/internal/queue"
	"docchat-backend/internal/shared/telemetry"
)

// ErrPushDelivery is returned by BatchConsumer.Receive; Lambda pushes records
// instead of the worker polling for them.
var ErrPushDelivery = errors.New("workerproc: batch consumer does not poll")

// BatchConsumer settles records of one Lambda SQS batch. Acked records are
// deleted by Lambda when the invocation returns. Nacked records are reported
// as batch item failures, and their visibility is shortened through Visibility
// when set so the retry delay is honoured.
type BatchConsumer struct {
	Visibility queue.Consumer

	mu     sync.Mutex
	failed []string
}

func (b *BatchConsumer) Receive(ctx context.Context, max int) ([]queue.Delivery, error) {
	return nil, ErrPushDelivery
}

func (b *BatchConsumer) Ack(ctx context.Context, d queue.Delivery) error {
	return nil
}

func (b *BatchConsumer) Nack(ctx context.Context, d queue.Delivery, delay time.Duration) error {
	b.mu.Lock()
	b.failed = append(b.failed, d.ID)
	b.mu.Unlock()
	if b.Visibility == nil {
		return nil
	}
	if err := b.Visibility.Nack(ctx, d, delay); err != nil {
		telemetry.Warn("worker.job.visibility_failed", map[string]any{
			"message_id": d.ID,
			"error":      err.Error(),
		})
	}
	return nil
}

// Failures lists the message ids to report back to Lambda.
func (b *BatchConsumer) Failures() []events.SQSBatchItemFailure {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]events.SQSBatchItemFailure, 0, len(b.failed))
	for _, id := range b.failed {
		out = append(out, events.SQSBatchItemFailure{ItemIdentifier: id})
	}
	return out
}

// DeliveryFromSQS converts a pushed Lambda record into a delivery.
func DeliveryFromSQS(record events.SQSMessage, receivedAt time.Time) queue.Delivery {
	count, _ := strconv.Atoi(record.Attributes["ApproximateReceiveCount"])
	return queue.Delivery{
		ID:           record.MessageId,
		Receipt:      record.ReceiptHandle,
		Body:         []byte(record.Body),
		ReceiveCount: count,
		ReceivedAt:   receivedAt,
	}
}

// HandleBatch runs every record through proc and returns the Lambda response.
func HandleBatch(ctx context.Context, proc Processor, visibility queue.Consumer, event events.SQSEvent) events.SQSEventResponse {
	consumer := &BatchConsumer{Visibility: visibility}
	now := time.Now().UTC()
	for _, record := range event.Records {
		HandleDelivery(ctx, proc, consumer, DeliveryFromSQS(record, now))
	}
	return events.SQSEventResponse{BatchItemFailures: consumer.Failures()}
}
