package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/attribute"

	"github.com/samims/keepsake/internal/model"
	"github.com/samims/keepsake/pkg/tracing"
)

// OutcomeProducer publishes keepsake outcome events.
type OutcomeProducer struct {
	asyncProducer sarama.AsyncProducer
	topic         string
	log           *slog.Logger
	wg            sync.WaitGroup
	closeOnce     sync.Once
	tracer        tracing.TracerInterface
}

// NewOutcomeProducer wraps an AsyncProducer. Call Start before publishing.
func NewOutcomeProducer(asyncProducer sarama.AsyncProducer, topic string, log *slog.Logger, tracer tracing.TracerInterface) *OutcomeProducer {
	if asyncProducer == nil || log == nil || tracer == nil {
		panic("NewOutcomeProducer: nil dependencies provided")
	}
	if topic == "" {
		panic("NewOutcomeProducer: topic must not be empty")
	}
	return &OutcomeProducer{
		asyncProducer: asyncProducer,
		topic:         topic,
		log:           log.With(slog.String("component", "outcome_producer")),
		tracer:        tracer,
	}
}

// Start launches background handlers for success and error channels
func (p *OutcomeProducer) Start(ctx context.Context) {
	p.wg.Add(2)
	go p.handleSuccess(ctx)
	go p.handleErrors(ctx)
}

func (p *OutcomeProducer) handleSuccess(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case msg, ok := <-p.asyncProducer.Successes():
			if !ok {
				return
			}
			key, _ := msg.Key.Encode()
			p.log.Debug("Outcome event delivered",
				slog.String("topic", msg.Topic),
				slog.Int64("offset", msg.Offset),
				slog.String("key", string(key)))
		case <-ctx.Done():
			return
		}
	}
}

func (p *OutcomeProducer) handleErrors(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case err, ok := <-p.asyncProducer.Errors():
			if !ok {
				return
			}
			p.log.Error("Outcome event delivery failed",
				slog.String("topic", err.Msg.Topic),
				slog.Any("error", err.Err))
		case <-ctx.Done():
			return
		}
	}
}

// Publish queues evt keyed by keepsake id, carrying the trace context in its headers.
func (p *OutcomeProducer) Publish(ctx context.Context, evt model.OutcomeEvent) error {
	ctx, span := p.tracer.StartClientSpan(ctx, "kafka.publish_outcome")
	defer span.End()

	data, err := json.Marshal(evt)
	if err != nil {
		p.tracer.RecordError(span, err)
		return fmt.Errorf("failed to marshal outcome event: %w", err)
	}

	key := evt.KeepsakeID.String()
	msg := &sarama.ProducerMessage{
		Topic:     p.topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(data),
		Timestamp: evt.At,
		Headers:   tracing.InjectTraceContext(ctx, nil),
	}

	select {
	case p.asyncProducer.Input() <- msg:
		p.tracer.AddAttributes(span,
			attribute.String(tracing.AttrMessagingDestination, p.topic),
			attribute.String(tracing.AttrKeepsakeID, key),
		)
		return nil
	case <-ctx.Done():
		p.tracer.RecordError(span, ctx.Err())
		return ctx.Err()
	}
}

// Close flushes queued events and waits for the handlers to exit.
func (p *OutcomeProducer) Close() {
	p.closeOnce.Do(func() {
		p.log.Info("Closing Kafka producer")
		p.asyncProducer.AsyncClose()
		p.wg.Wait()
	})
}
