// Package intake turns messages on a Kafka topic into pipeline runs.
package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"go.temporal.io/sdk/client"
	"image-processing-flow/internal/config"
	"image-processing-flow/internal/pipeline"
)

type starter interface {
	Start(ctx context.Context, req pipeline.Request) (client.WorkflowRun, error)
}

type Handler struct {
	starter  starter
	defaults config.Defaults
	logger   zerolog.Logger
}

func NewHandler(s starter, defaults config.Defaults, logger zerolog.Logger) *Handler {
	return &Handler{starter: s, defaults: defaults, logger: logger}
}

// Handle decodes one request and starts a run for it. Fields a message
// leaves empty are filled from the configured defaults, except the
// destination: a request without one is never uploaded.
func (h *Handler) Handle(ctx context.Context, msg kafka.Message) error {
	var req pipeline.Request
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		return fmt.Errorf("unmarshal request: %w", err)
	}
	if req.SourceBucket == "" {
		req.SourceBucket = h.defaults.SourceBucket
	}
	if req.Transform == "" {
		req.Transform = pipeline.TransformKind(h.defaults.Transform)
	}
	if err := req.Validate(); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}

	run, err := h.starter.Start(ctx, req)
	if err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}

	h.logger.Info().
		Str("workflow_id", run.GetID()).
		Str("run_id", run.GetRunID()).
		Str("source", req.SourceBucket+"/"+req.SourceKey).
		Msg("pipeline started")
	return nil
}

type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

type handler interface {
	Handle(ctx context.Context, msg kafka.Message) error
}

type Consumer struct {
	reader  reader
	handler handler
	logger  zerolog.Logger
}

func NewReader(cfg config.Kafka) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.Topic,
		GroupID: cfg.GroupID,
	})
}

func NewConsumer(r reader, h handler, logger zerolog.Logger) *Consumer {
	return &Consumer{reader: r, handler: h, logger: logger}
}

// Run fetches, handles and commits until ctx is cancelled. Messages that
// fail to handle are committed anyway so a bad message cannot block its
// partition.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		if err := c.handler.Handle(ctx, msg); err != nil {
			c.logger.Error().Err(err).
				Int64("offset", msg.Offset).
				Str("message", string(msg.Value)).
				Msg("failed to handle message")
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit message: %w", err)
		}
	}
}
