package workerproc

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"docchat-backend/internal/ingest"
	"docchat-backend/internal/queue"
)

func TestHandleBatchReportsNackedRecords(t *testing.T) {
	visibility := &fakeConsumer{}
	proc := &fakeProcessor{out: ingest.Outcome{Decision: ingest.Nack, Delay: 4 * time.Second}}
	body := encode(t, queue.Message{UserID: "u1", DocumentID: "d1", ObjectKey: "k", Version: 1})

	resp := HandleBatch(context.Background(), proc, visibility, events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "m1", ReceiptHandle: "r1", Body: string(body), Attributes: map[string]string{"ApproximateReceiveCount": "2"}},
		{MessageId: "m2", ReceiptHandle: "r2", Body: "{bad"},
	}})

	if len(resp.BatchItemFailures) != 1 || resp.BatchItemFailures[0].ItemIdentifier != "m1" {
		t.Fatalf("unexpected failures: %+v", resp.BatchItemFailures)
	}
	if visibility.nacked["m1"] != 4*time.Second {
		t.Fatalf("expected visibility change of 4s, got %+v", visibility.nacked)
	}
	if proc.count() != 1 {
		t.Fatalf("expected one processed record, got %d", proc.count())
	}
}

func TestHandleBatchAckedRecordsAreNotFailures(t *testing.T) {
	proc := &fakeProcessor{out: ingest.Outcome{Decision: ingest.Ack, Result: "completed"}}
	body := encode(t, queue.Message{UserID: "u1", DocumentID: "d1", ObjectKey: "k", Version: 1})

	resp := HandleBatch(context.Background(), proc, nil, events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "m1", Body: string(body)},
	}})

	if len(resp.BatchItemFailures) != 0 {
		t.Fatalf("expected no failures, got %+v", resp.BatchItemFailures)
	}
}

func TestDeliveryFromSQSReadsReceiveCount(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d := DeliveryFromSQS(events.SQSMessage{
		MessageId:     "m1",
		ReceiptHandle: "r1",
		Body:          "{}",
		Attributes:    map[string]string{"ApproximateReceiveCount": "3"},
	}, now)

	if d.ID != "m1" || d.Receipt != "r1" || d.ReceiveCount != 3 || !d.ReceivedAt.Equal(now) {
		t.Fatalf("unexpected delivery: %+v", d)
	}
}

func TestBatchConsumerDoesNotPoll(t *testing.T) {
	if _, err := (&BatchConsumer{}).Receive(context.Background(), 1); err != ErrPushDelivery {
		t.Fatalf("expected ErrPushDelivery, got %v", err)
	}
}
