package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/redis/go-redis/v9"

	"billingsync/internal/metrics"
	"billingsync/internal/types"
)

// Sink is one audit backend.
type Sink interface {
	Name() string
	Write(ctx context.Context, evt types.AuditEvent) error
}

// --- Postgres ---

// EventStore persists audit events. Satisfied by *db.AuditRepo.
type EventStore interface {
	Insert(ctx context.Context, evt types.AuditEvent) error
}

// PostgresSink writes events to webhook_audit_log.
type PostgresSink struct {
	store EventStore
}

func NewPostgresSink(store EventStore) *PostgresSink {
	return &PostgresSink{store: store}
}

func (s *PostgresSink) Name() string { return "postgres" }

func (s *PostgresSink) Write(ctx context.Context, evt types.AuditEvent) error {
	return s.store.Insert(ctx, evt)
}

// --- SQS ---

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSSink ships events to a queue consumed by the audit worker, which
// persists them. The message body is the JSON-encoded types.AuditEvent.
type SQSSink struct {
	client   SQSSender
	queueURL string
}

func NewSQSSink(client SQSSender, queueURL string) *SQSSink {
	return &SQSSink{client: client, queueURL: queueURL}
}

func (s *SQSSink) Name() string { return "sqs" }

func (s *SQSSink) Write(ctx context.Context, evt types.AuditEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("audit: failed to marshal event: %w", err)
	}

	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"event_name": {
				DataType:    aws.String("String"),
				StringValue: aws.String(evt.Name),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("audit: failed to send event to %s: %w", s.queueURL, err)
	}
	return nil
}

// --- Redis stream ---

// StreamAdder is the subset of redis.Cmdable used by RedisStreamSink.
type StreamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisStreamSink appends events to a capped Redis stream so that other
// services can tail billing activity.
type RedisStreamSink struct {
	client StreamAdder
	stream string
	maxLen int64
}

func NewRedisStreamSink(client StreamAdder, stream string, maxLen int64) *RedisStreamSink {
	return &RedisStreamSink{client: client, stream: stream, maxLen: maxLen}
}

func (s *RedisStreamSink) Name() string { return "redis" }

func (s *RedisStreamSink) Write(ctx context.Context, evt types.AuditEvent) error {
	attrs, err := json.Marshal(evt.Attributes)
	if err != nil {
		return fmt.Errorf("audit: failed to marshal attributes: %w", err)
	}

	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"id":                evt.ID,
			"name":              evt.Name,
			"request_id":        evt.RequestID,
			"provider_event_id": evt.ProviderEventID,
			"attributes":        string(attrs),
			"occurred_at":       evt.OccurredAt.UnixMilli(),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("audit: XADD %s: %w", s.stream, err)
	}
	return nil
}

// --- CloudWatch ---

// MetricSink counts events by name.
type MetricSink struct {
	recorder metrics.Recorder
}

func NewMetricSink(recorder metrics.Recorder) *MetricSink {
	return &MetricSink{recorder: recorder}
}

func (s *MetricSink) Name() string { return "cloudwatch" }

func (s *MetricSink) Write(ctx context.Context, evt types.AuditEvent) error {
	s.recorder.Count(ctx, types.MetricBillingEvent, 1, map[string]string{
		types.DimEventName: evt.Name,
	})
	return nil
}

// --- Log ---

// LogSink writes one structured line per event.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Write(ctx context.Context, evt types.AuditEvent) error {
	attrs := []any{
		"audit_id", evt.ID,
		"event", evt.Name,
		"request_id", evt.RequestID,
		"provider_event_id", evt.ProviderEventID,
		"attributes", map[string]any(evt.Attributes),
	}
	if len(evt.Payload) > 0 {
		attrs = append(attrs, "payload_bytes", len(evt.Payload))
	}
	s.logger.InfoContext(ctx, "audit", attrs...)
	return nil
}

var (
	_ Sink = (*PostgresSink)(nil)
	_ Sink = (*SQSSink)(nil)
	_ Sink = (*RedisStreamSink)(nil)
	_ Sink = (*MetricSink)(nil)
	_ Sink = (*LogSink)(nil)
)
