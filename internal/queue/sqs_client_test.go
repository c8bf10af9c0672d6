package queue

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type fakeSQS struct {
	sent       []string
	messages   []sqstypes.Message
	deleted    []string
	visibility map[string]int32
	lastRecv   *sqs.ReceiveMessageInput
}

func (f *fakeSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sent = append(f.sent, aws.ToString(params.MessageBody))
	return &sqs.SendMessageOutput{MessageId: aws.String("m1")}, nil
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.lastRecv = params
	return &sqs.ReceiveMessageOutput{Messages: f.messages}, nil
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(params.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	if f.visibility == nil {
		f.visibility = map[string]int32{}
	}
	f.visibility[aws.ToString(params.ReceiptHandle)] = params.VisibilityTimeout
	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

func TestSQSReceiveMapsDeliveries(t *testing.T) {
	body, _ := EncodeMessage(job("d1"))
	fake := &fakeSQS{messages: []sqstypes.Message{{
		MessageId:     aws.String("m1"),
		ReceiptHandle: aws.String("r1"),
		Body:          aws.String(string(body)),
		Attributes:    map[string]string{"ApproximateReceiveCount": "3"},
	}}}
	client := NewSQSClientWithAPI(fake, "queue", 2*time.Minute)

	got, err := client.Receive(context.Background(), 50)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(got) != 1 || got[0].ReceiveCount != 3 || got[0].Receipt != "r1" {
		t.Fatalf("unexpected deliveries %+v", got)
	}
	if fake.lastRecv.MaxNumberOfMessages != 10 {
		t.Fatalf("expected batch capped at 10, got %d", fake.lastRecv.MaxNumberOfMessages)
	}
	if fake.lastRecv.VisibilityTimeout != 120 {
		t.Fatalf("expected visibility 120, got %d", fake.lastRecv.VisibilityTimeout)
	}
}

func TestSQSAckAndNack(t *testing.T) {
	fake := &fakeSQS{}
	client := NewSQSClientWithAPI(fake, "queue", time.Minute)
	ctx := context.Background()

	if err := client.Ack(ctx, Delivery{Receipt: "r1"}); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if len(fake.deleted) != 1 || fake.deleted[0] != "r1" {
		t.Fatalf("expected delete of r1, got %v", fake.deleted)
	}
	if err := client.Nack(ctx, Delivery{Receipt: "r2"}, 8*time.Second); err != nil {
		t.Fatalf("Nack: %v", err)
	}
	if fake.visibility["r2"] != 8 {
		t.Fatalf("expected visibility 8, got %d", fake.visibility["r2"])
	}
	if err := client.Ack(ctx, Delivery{}); err == nil {
		t.Fatalf("expected error for missing receipt")
	}
}
