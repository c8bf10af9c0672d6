package workerproc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"docchat-backend/internal/ingest"
	"docchat-backend/internal/queue"
	"docchat-backend/internal/shared/metrics"
	"docchat-backend/internal/shared/requestid"
	"docchat-backend/internal/shared/telemetry"
)

// MessageMeta captures details useful for logging and diagnostics.
type MessageMeta struct {
	BodyLen int
	BodySHA string
}

// ComputeMeta returns the body length and SHA-256 hash.
func ComputeMeta(body []byte) MessageMeta {
	if len(body) == 0 {
		return MessageMeta{}
	}
	sum := sha256.Sum256(body)
	return MessageMeta{BodyLen: len(body), BodySHA: hex.EncodeToString(sum[:])}
}

// ErrEmptyBody indicates an empty queue payload.
type ErrEmptyBody struct {
	Meta MessageMeta
}

func (e ErrEmptyBody) Error() string { return "empty message body" }

// ErrDecode indicates a JSON decode failure.
type ErrDecode struct {
	Meta MessageMeta
	Err  error
}

func (e ErrDecode) Error() string {
	if e.Err == nil {
		return "decode message"
	}
	return "decode message: " + e.Err.Error()
}

func (e ErrDecode) Unwrap() error { return e.Err }

// ErrInvalidMessage indicates a payload that decoded but misses required fields.
type ErrInvalidMessage struct {
	Meta      MessageMeta
	RequestID string
	Err       error
}

func (e ErrInvalidMessage) Error() string { return "invalid message: " + e.Err.Error() }

func (e ErrInvalidMessage) Unwrap() error { return e.Err }

// ParseMessage validates and decodes the queue payload.
func ParseMessage(body []byte) (queue.Message, MessageMeta, error) {
	meta := ComputeMeta(body)
	if strings.TrimSpace(string(body)) == "" {
		return queue.Message{}, meta, ErrEmptyBody{Meta: meta}
	}

	msg, err := queue.DecodeMessage(body)
	if err != nil {
		return queue.Message{}, meta, ErrDecode{Meta: meta, Err: err}
	}
	if err := msg.Validate(); err != nil {
		return msg, meta, ErrInvalidMessage{Meta: meta, RequestID: msg.RequestID, Err: err}
	}
	return msg, meta, nil
}

// Processor runs one embedding job.
type Processor interface {
	Process(ctx context.Context, msg queue.Message, receiveCount int) ingest.Outcome
}

// HandleDelivery parses d, runs it and settles it on the consumer. Payloads
// that can never be processed are acked so they do not redeliver forever.
func HandleDelivery(ctx context.Context, proc Processor, consumer queue.Consumer, d queue.Delivery) ingest.Outcome {
	msg, meta, err := ParseMessage(d.Body)
	if err != nil {
		fields := baseFields(d, msg)
		fields["body_len"] = meta.BodyLen
		if meta.BodySHA != "" {
			fields["body_sha256"] = meta.BodySHA
		}
		fields["error"] = err.Error()
		telemetry.Error(parseErrorEvent(err), fields)
		metrics.IncJobsDropped()
		settle(ctx, consumer, d, msg, ingest.Outcome{Decision: ingest.Ack})
		return ingest.Outcome{Decision: ingest.Ack, Result: "dropped"}
	}

	out := proc.Process(ctx, msg, d.ReceiveCount)
	settle(ctx, consumer, d, msg, out)
	return out
}

func parseErrorEvent(err error) string {
	var (
		empty   ErrEmptyBody
		invalid ErrInvalidMessage
	)
	switch {
	case errors.As(err, &empty):
		return "worker.job.empty_body"
	case errors.As(err, &invalid):
		return "worker.job.invalid_message"
	default:
		return "worker.job.decode_failed"
	}
}

// settle acks or nacks on a context that survives shutdown so a finished job
// is never redelivered just because the process is stopping.
func settle(ctx context.Context, consumer queue.Consumer, d queue.Delivery, msg queue.Message, out ingest.Outcome) {
	settleCtx := requestid.Detached(ctx)
	var err error
	if out.Decision == ingest.Nack {
		err = consumer.Nack(settleCtx, d, out.Delay)
	} else {
		err = consumer.Ack(settleCtx, d)
	}
	if err == nil {
		return
	}
	fields := baseFields(d, msg)
	fields["error"] = err.Error()
	if errors.Is(err, queue.ErrStaleReceipt) {
		telemetry.Warn("worker.job.lease_lost", fields)
		return
	}
	telemetry.Error("worker.job.settle_failed", fields)
}

func baseFields(d queue.Delivery, msg queue.Message) map[string]any {
	fields := map[string]any{
		"message_id":    d.ID,
		"receive_count": d.ReceiveCount,
	}
	if msg.DocumentID != "" {
		fields["document_id"] = msg.DocumentID
	}
	if strings.TrimSpace(msg.RequestID) != "" {
		fields["request_id"] = msg.RequestID
	}
	return fields
}
