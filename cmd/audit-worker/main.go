// Package main is the entrypoint for the Audit Worker Lambda function.
//
// The API publishes audit events to the audit SQS queue when AUDIT_SINKS
// includes "sqs". This worker drains that queue into webhook_audit_log, and
// mirrors each event to the Redis stream when "redis" is also configured.
//
// Handler flow:
//
//	For each SQS message in the batch:
//	  1. Unmarshal types.AuditEvent from the message body.
//	  2. Write it to every sink concurrently.
//	  3. Report the message in batchItemFailures if any sink failed.
//
// Inserts are keyed by event id, so redelivered messages are stored once.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/redis/go-redis/v9"

	"billingsync/internal/audit"
	"billingsync/internal/config"
	"billingsync/internal/db"
	"billingsync/internal/types"
)

// Handler holds the dependencies for the audit worker Lambda handler.
type Handler struct {
	sinks  []audit.Sink
	logger *slog.Logger
}

// Handle processes an SQS event containing one or more audit events.
// Messages that fail are returned in batchItemFailures so SQS retries only
// those.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	for _, record := range sqsEvent.Records {
		if err := h.processMessage(ctx, record); err != nil {
			h.logger.Error("failed to persist audit event",
				"message_id", record.MessageId,
				"error", err.Error(),
			)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
	}

	return response, nil
}

func (h *Handler) processMessage(ctx context.Context, record events.SQSMessage) error {
	var evt types.AuditEvent
	if err := json.Unmarshal([]byte(record.Body), &evt); err != nil {
		// Permanent parse failure: retrying will not help, so ACK it.
		h.logger.Error("discarding malformed audit message",
			"message_id", record.MessageId,
			"error", err.Error(),
		)
		return nil
	}
	if evt.ID == "" || evt.Name == "" {
		h.logger.Error("discarding audit message without id or name",
			"message_id", record.MessageId,
		)
		return nil
	}

	if err := audit.WriteAll(ctx, h.sinks, evt); err != nil {
		return fmt.Errorf("event %s (%s): %w", evt.ID, evt.Name, err)
	}
	return nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	logger.Info("Audit Worker Lambda initializing (cold start)")

	var provider config.SecretProvider = config.NewEnvVarProvider()
	if dir := os.Getenv("SECRETS_DIR"); dir != "" {
		provider = config.NewFileProvider(dir)
	}
	cfg, err := config.LoadConfig(provider)
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	pool, err := db.NewPool(context.Background(), cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	sinks := []audit.Sink{audit.NewPostgresSink(db.NewAuditRepo(pool, logger))}

	if cfg.Audit.Enabled(config.AuditSinkRedis) && !cfg.Redis.URL.IsZero() {
		opts, err := redis.ParseURL(cfg.Redis.URL.Unmask())
		if err != nil {
			logger.Error("Failed to parse REDIS_URL", "error", err)
			os.Exit(1)
		}
		sinks = append(sinks, audit.NewRedisStreamSink(redis.NewClient(opts), cfg.Audit.RedisStream, cfg.Audit.StreamMaxLen))
	}

	handler := &Handler{sinks: sinks, logger: logger}

	logger.Info("Audit Worker Lambda initialized",
		"sinks", len(sinks),
		"redis_stream", cfg.Audit.Enabled(config.AuditSinkRedis),
	)

	lambda.Start(handler.Handle)
}
