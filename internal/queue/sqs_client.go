package queue

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

const (
	sqsMaxBatch        = 10
	sqsWaitTimeSeconds = 20
	// SQS rejects visibility changes beyond 12 hours.
	sqsMaxVisibility = 12 * time.Hour
)

// SQSAPI is the subset of the SQS client used by SQSClient.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// SQSClient sends and consumes embedding jobs on AWS SQS.
type SQSClient struct {
	client     SQSAPI
	queueURL   string
	visibility time.Duration
}

// NewSQSClient constructs an SQS-backed queue.
func NewSQSClient(ctx context.Context, region, queueURL string, visibility time.Duration) (*SQSClient, error) {
	queueURL = strings.TrimSpace(queueURL)
	if queueURL == "" {
		return nil, fmt.Errorf("SQS_QUEUE_URL is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if strings.TrimSpace(region) != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return NewSQSClientWithAPI(sqs.NewFromConfig(cfg), queueURL, visibility), nil
}

// NewSQSClientWithAPI wraps an existing SQS client.
func NewSQSClientWithAPI(client SQSAPI, queueURL string, visibility time.Duration) *SQSClient {
	return &SQSClient{client: client, queueURL: queueURL, visibility: visibility}
}

// Lease reports the visibility timeout requested on receive.
func (s *SQSClient) Lease() time.Duration {
	return s.visibility
}

// Send delivers a message to the configured SQS queue.
func (s *SQSClient) Send(ctx context.Context, msg Message) error {
	payload, err := EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode sqs message: %w", err)
	}

	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(payload)),
	})
	if err != nil {
		return fmt.Errorf("sqs send message: %w", err)
	}
	return nil
}

// Receive long-polls for up to max messages.
func (s *SQSClient) Receive(ctx context.Context, max int) ([]Delivery, error) {
	if max <= 0 || max > sqsMaxBatch {
		max = sqsMaxBatch
	}
	resp, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(s.queueURL),
		MaxNumberOfMessages: int32(max),
		WaitTimeSeconds:     sqsWaitTimeSeconds,
		VisibilityTimeout:   int32(s.visibility / time.Second),
		AttributeNames:      []sqstypes.QueueAttributeName{sqstypes.QueueAttributeName("ApproximateReceiveCount")},
	})
	if err != nil {
		return nil, fmt.Errorf("sqs receive message: %w", err)
	}

	now := time.Now().UTC()
	out := make([]Delivery, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		out = append(out, Delivery{
			ID:           aws.ToString(m.MessageId),
			Receipt:      aws.ToString(m.ReceiptHandle),
			Body:         []byte(aws.ToString(m.Body)),
			ReceiveCount: receiveCount(m),
			ReceivedAt:   now,
		})
	}
	return out, nil
}

// Ack deletes the message.
func (s *SQSClient) Ack(ctx context.Context, d Delivery) error {
	if d.Receipt == "" {
		return fmt.Errorf("sqs delete message: missing receipt handle")
	}
	if _, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(s.queueURL),
		ReceiptHandle: aws.String(d.Receipt),
	}); err != nil {
		return fmt.Errorf("sqs delete message: %w", err)
	}
	return nil
}

// Nack shortens the remaining visibility so the message redelivers after delay.
func (s *SQSClient) Nack(ctx context.Context, d Delivery, delay time.Duration) error {
	if d.Receipt == "" {
		return fmt.Errorf("sqs change visibility: missing receipt handle")
	}
	if delay < 0 {
		delay = 0
	}
	if delay > sqsMaxVisibility {
		delay = sqsMaxVisibility
	}
	if _, err := s.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(s.queueURL),
		ReceiptHandle:     aws.String(d.Receipt),
		VisibilityTimeout: int32(delay / time.Second),
	}); err != nil {
		return fmt.Errorf("sqs change visibility: %w", err)
	}
	return nil
}

func receiveCount(msg sqstypes.Message) int {
	if msg.Attributes == nil {
		return 0
	}
	raw := msg.Attributes["ApproximateReceiveCount"]
	if raw == "" {
		return 0
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return parsed
}

var _ Queue = (*SQSClient)(nil)
