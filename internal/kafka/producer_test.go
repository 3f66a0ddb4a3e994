package kafka

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/samims/keepsake/internal/model"
	"github.com/samims/keepsake/pkg/tracing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOutcomeProducer_Publish(t *testing.T) {
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Successes = true
	mp := mocks.NewAsyncProducer(t, cfg)
	mp.ExpectInputAndSucceed()

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	p := NewOutcomeProducer(mp, "keepsake.outcome", discardLogger(), tracing.NewTracer(tp.Tracer("test")))

	evt := model.OutcomeEvent{
		KeepsakeID: uuid.New(),
		OwnerID:    "owner-1",
		Kind:       model.KindDelivered,
		Status:     model.StatusSent,
		Reached:    1,
		Total:      2,
		RunID:      uuid.New(),
		At:         time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, p.Publish(context.Background(), evt))

	msg := <-mp.Successes()
	assert.Equal(t, "keepsake.outcome", msg.Topic)

	key, err := msg.Key.Encode()
	require.NoError(t, err)
	assert.Equal(t, evt.KeepsakeID.String(), string(key))

	value, err := msg.Value.Encode()
	require.NoError(t, err)
	var got model.OutcomeEvent
	require.NoError(t, json.Unmarshal(value, &got))
	assert.Equal(t, evt, got)

	var hasTraceParent bool
	for _, h := range msg.Headers {
		if string(h.Key) == "traceparent" {
			hasTraceParent = true
		}
	}
	assert.True(t, hasTraceParent, "trace context travels with the event")

	require.NoError(t, mp.Close())
}

func TestNewOutcomeProducer_PanicsOnMissingTopic(t *testing.T) {
	mp := mocks.NewAsyncProducer(t, mocks.NewTestConfig())
	defer func() { _ = mp.Close() }()

	assert.Panics(t, func() {
		NewOutcomeProducer(mp, "", discardLogger(), tracing.NewNoopTracer())
	})
	var nilProducer sarama.AsyncProducer
	assert.Panics(t, func() {
		NewOutcomeProducer(nilProducer, "topic", discardLogger(), tracing.NewNoopTracer())
	})
}
