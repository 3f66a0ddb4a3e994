package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	appErr "github.com/samims/keepsake/internal/errors"
	"github.com/samims/keepsake/internal/model"
	"github.com/samims/keepsake/internal/service"
	"github.com/samims/keepsake/pkg/tracing"
)

const (
	requeueSource   = "kafka"
	redeliveryPause = time.Second
)

// RequeueConsumer applies manual re-queue requests read from a topic.
type RequeueConsumer struct {
	topic         string
	requeueSvc    service.RequeueService
	consumerGroup sarama.ConsumerGroup
	tracer        tracing.TracerInterface
	log           *slog.Logger
}

// NewRequeueConsumer constructs a new requeue consumer.
func NewRequeueConsumer(
	topic string,
	consumerGroup sarama.ConsumerGroup,
	requeueSvc service.RequeueService,
	tracer tracing.TracerInterface,
	log *slog.Logger,
) *RequeueConsumer {
	return &RequeueConsumer{
		topic:         topic,
		consumerGroup: consumerGroup,
		requeueSvc:    requeueSvc,
		tracer:        tracer,
		log:           log.With(slog.String("component", "requeue_consumer")),
	}
}

// Start runs the consumer loop until the context is canceled or the group is closed.
func (c *RequeueConsumer) Start(ctx context.Context) error {
	defer func() {
		if err := c.consumerGroup.Close(); err != nil {
			c.log.Warn("Failed to close consumer group", slog.Any("error", err))
		}
	}()

	c.log.Info("Kafka consumer started", slog.String("topic", c.topic))

	backoff := 1 * time.Second
	for {
		err := c.consumerGroup.Consume(ctx, []string{c.topic}, c)
		if err != nil {
			c.log.Error("Error consuming messages", slog.Any("error", err))
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return err
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}

		if ctx.Err() != nil {
			c.log.Info("Context cancelled, stopping consumer")
			return ctx.Err()
		}
	}
}

// Setup is called once when a new consumer session starts.
func (c *RequeueConsumer) Setup(session sarama.ConsumerGroupSession) error {
	for topic, partitions := range session.Claims() {
		c.log.Info("Partition assignment",
			slog.String("topic", topic),
			slog.Any("partitions", partitions),
		)
	}
	return nil
}

// Cleanup is called once when the consumer session ends.
func (c *RequeueConsumer) Cleanup(_ sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim handles every message of one assigned partition.
// A request that failed on storage ends the session so it is redelivered after rejoining.
func (c *RequeueConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		if !c.handle(session.Context(), message) {
			select {
			case <-session.Context().Done():
			case <-time.After(redeliveryPause):
			}
			return fmt.Errorf("requeue at offset %d not applied", message.Offset)
		}
		session.MarkMessage(message, "")
	}
	return nil
}

// handle applies one request and reports whether its offset may be committed.
// Requests that can never succeed are committed; storage failures are left for redelivery.
func (c *RequeueConsumer) handle(ctx context.Context, message *sarama.ConsumerMessage) bool {
	headers := make([]sarama.RecordHeader, 0, len(message.Headers))
	for _, h := range message.Headers {
		if h != nil {
			headers = append(headers, *h)
		}
	}
	ctx = tracing.ExtractTraceContext(ctx, headers)
	ctx, span := c.tracer.StartServerSpan(ctx, "kafka.consume_requeue")
	defer span.End()
	c.tracer.AddKafkaAttributes(span, message.Topic, "receive", message.Partition, message.Offset)

	var req model.RequeueRequest
	if err := json.Unmarshal(message.Value, &req); err != nil || req.KeepsakeID == uuid.Nil {
		c.log.Error("Skipping malformed requeue request",
			slog.Int64("offset", message.Offset),
			slog.Any("error", err))
		return true
	}

	err := c.requeueSvc.Requeue(ctx, req.KeepsakeID, requeueSource)
	switch {
	case err == nil:
		return true
	case appErr.IsNotFound(err), errors.Is(err, appErr.ErrNotRequeueable):
		return true
	default:
		c.tracer.RecordError(span, err)
		c.log.Error("Requeue failed, message will be redelivered",
			slog.String("keepsake_id", req.KeepsakeID.String()),
			slog.Any("error", err))
		return false
	}
}
