package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func headerValue(msg kafka.Message, key string) string {
	return HeaderCarrier{Headers: &msg.Headers}.Get(key)
}

type registeredPayload struct {
	AccountID int64  `json:"account_id"`
	Email     string `json:"email"`
}

func TestNewEvent_Fields(t *testing.T) {
	data := registeredPayload{AccountID: 42, Email: "ada@example.com"}
	event, err := NewEvent("account.registered", "42", "account", "account-service", data)
	require.NoError(t, err)

	assert.NotEmpty(t, event.EventID)
	assert.Equal(t, "account.registered", event.EventType)
	assert.Equal(t, "42", event.AggregateID)
	assert.Equal(t, "account", event.AggregateType)
	assert.Equal(t, "account-service", event.Source)
	assert.Equal(t, 1, event.Version)
	assert.WithinDuration(t, time.Now().UTC(), event.Timestamp, 2*time.Second)

	var got registeredPayload
	require.NoError(t, event.UnmarshalData(&got))
	assert.Equal(t, data, got)
}

func TestNewEvent_InvalidData(t *testing.T) {
	_, err := NewEvent("account.registered", "1", "account", "account-service", make(chan int))
	require.Error(t, err)
}

func TestEvent_MarshalKeepsEnvelope(t *testing.T) {
	event, err := NewEvent("account.updated", "7", "account", "account-service", map[string]string{"first_name": "Ada"})
	require.NoError(t, err)
	event.WithCorrelationID("corr-1").WithMetadata("changed", "first_name")

	raw, err := event.Marshal()
	require.NoError(t, err)

	restored, err := UnmarshalEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, event.EventID, restored.EventID)
	assert.Equal(t, "corr-1", restored.CorrelationID)
	assert.Equal(t, "first_name", restored.Metadata["changed"])
}

func TestUnmarshalEvent_InvalidJSON(t *testing.T) {
	_, err := UnmarshalEvent([]byte("{not json"))
	require.Error(t, err)
}

func TestWithMetadata_NilMap(t *testing.T) {
	e := &Event{}
	e.WithMetadata("k", "v")
	assert.Equal(t, "v", e.Metadata["k"])
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "accounts.account.registered", Topic("accounts", "account", "registered"))
}

func TestPublish_WritesKeyedMessageWithHeaders(t *testing.T) {
	w := &fakeWriter{}
	reg := prometheus.NewRegistry()
	p := newProducer(w, []string{"localhost:9092"}, NewProducerMetrics(reg), discardLogger())

	event, err := NewEvent("account.registered", "42", "account", "account-service", registeredPayload{AccountID: 42})
	require.NoError(t, err)
	event.WithCorrelationID("corr-42")

	require.NoError(t, p.Publish(context.Background(), "accounts.account.registered", event))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "accounts.account.registered", msg.Topic)
	assert.Equal(t, "42", string(msg.Key))
	assert.Equal(t, "account.registered", headerValue(msg, "event_type"))
	assert.Equal(t, "account-service", headerValue(msg, "source"))
	assert.Equal(t, "corr-42", headerValue(msg, "correlation_id"))

	var env Event
	require.NoError(t, json.Unmarshal(msg.Value, &env))
	assert.Equal(t, event.EventID, env.EventID)

	assert.Equal(t, 1.0, counterValue(t, p.metrics.Published.WithLabelValues("accounts.account.registered")))
	assert.Equal(t, 0.0, counterValue(t, p.metrics.Errors.WithLabelValues("accounts.account.registered")))
}

func TestPublish_WriterErrorIsWrappedAndCounted(t *testing.T) {
	writeErr := errors.New("broker down")
	w := &fakeWriter{err: writeErr}
	p := newProducer(w, nil, NewProducerMetrics(prometheus.NewRegistry()), discardLogger())

	event, err := NewEvent("account.deactivated", "9", "account", "account-service", map[string]any{})
	require.NoError(t, err)

	err = p.Publish(context.Background(), "accounts.account.deactivated", event)
	require.Error(t, err)
	assert.ErrorIs(t, err, writeErr)
	assert.Contains(t, err.Error(), "accounts.account.deactivated")
	assert.Equal(t, 1.0, counterValue(t, p.metrics.Errors.WithLabelValues("accounts.account.deactivated")))
}

func TestPublish_NilMetrics(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, nil, nil, discardLogger())

	event, err := NewEvent("account.restored", "3", "account", "account-service", nil)
	require.NoError(t, err)
	require.NoError(t, p.Publish(context.Background(), "accounts.account.restored", event))
	assert.Len(t, w.msgs, 1)
}

func TestPublish_InjectsTraceContext(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "publish")
	defer span.End()

	w := &fakeWriter{}
	p := newProducer(w, nil, nil, discardLogger())
	event, err := NewEvent("account.updated", "5", "account", "account-service", nil)
	require.NoError(t, err)
	require.NoError(t, p.Publish(ctx, "accounts.account.updated", event))

	require.Len(t, w.msgs, 1)
	assert.Contains(t, headerValue(w.msgs[0], "traceparent"), span.SpanContext().TraceID().String())
}

func TestProducer_Close(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, nil, nil, discardLogger())
	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestOnCompletion_CountsAsyncFailures(t *testing.T) {
	p := newProducer(&fakeWriter{}, nil, NewProducerMetrics(prometheus.NewRegistry()), discardLogger())
	msgs := []kafka.Message{{Topic: "accounts.account.updated"}, {Topic: "accounts.account.updated"}}

	p.onCompletion(msgs, nil)
	assert.Equal(t, 0.0, counterValue(t, p.metrics.Errors.WithLabelValues("accounts.account.updated")))

	p.onCompletion(msgs, errors.New("leader not available"))
	assert.Equal(t, 2.0, counterValue(t, p.metrics.Errors.WithLabelValues("accounts.account.updated")))
}

func TestPingBrokers_NoBrokers(t *testing.T) {
	err := PingBrokers(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no brokers")
}

func TestHeaderCarrier_SetReplaces(t *testing.T) {
	var headers []kafka.Header
	c := HeaderCarrier{Headers: &headers}
	c.Set("a", "1")
	c.Set("a", "2")
	c.Set("b", "3")

	assert.Equal(t, "2", c.Get("a"))
	assert.Equal(t, "", c.Get("missing"))
	assert.ElementsMatch(t, []string{"a", "b"}, c.Keys())
}

func TestNewProducerMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewProducerMetrics(reg)
	assert.Panics(t, func() { NewProducerMetrics(reg) })
}
