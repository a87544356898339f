// Package events publishes unit run lifecycle events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	TypeRunStarted   = "unit.run.started"
	TypeRunCompleted = "unit.run.completed"
)

// RunEvent is a lifecycle event for one unit run.
type RunEvent struct {
	Type           string         `json:"type"`
	RunID          string         `json:"run_id"`
	TenantID       string         `json:"tenant_id,omitempty"`
	EndpointID     string         `json:"endpoint_id"`
	UnitID         string         `json:"unit_id"`
	SinkID         string         `json:"sink_id"`
	Mode           string         `json:"mode"`
	State          string         `json:"state,omitempty"`
	Stats          map[string]any `json:"stats,omitempty"`
	SourceEventIDs []string       `json:"source_event_ids,omitempty"`
	Error          string         `json:"error,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// Publisher is what the orchestrator depends on.
type Publisher interface {
	PublishRunEvent(ctx context.Context, evt *RunEvent) error
}

// Noop discards events. It is used when no brokers are configured.
type Noop struct{}

func (Noop) PublishRunEvent(context.Context, *RunEvent) error { return nil }

type Config struct {
	Brokers []string
	Topic   string
}

// ParseBrokers splits a comma-separated broker list.
func ParseBrokers(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

type Producer struct {
	writer *kafka.Writer
	topic  string
	logger ectologger.Logger
}

func NewProducer(cfg Config, logger ectologger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              100,
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		Async:                  false,
		AllowAutoTopicCreation: true,
	}
	return &Producer{writer: writer, topic: cfg.Topic, logger: logger}
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

func (p *Producer) PublishRunEvent(ctx context.Context, evt *RunEvent) error {
	if evt == nil {
		return fmt.Errorf("run event is nil")
	}
	ctx, span := tracing.StartSpan(ctx, "events.Producer.PublishRunEvent",
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", p.topic),
		attribute.String("run_id", evt.RunID),
		attribute.String("type", evt.Type))
	defer span.End()

	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	msg, err := Message(ctx, evt)
	if err != nil {
		tracing.RecordError(span, err, "failed to marshal run event")
		return err
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		tracing.RecordError(span, err, "failed to publish run event")
		metrics.KafkaMessagesPublished.WithLabelValues(p.topic, "error").Inc()
		p.logger.WithContext(ctx).WithError(err).Errorf("failed to publish run event to kafka topic %s", p.topic)
		return err
	}
	metrics.KafkaMessagesPublished.WithLabelValues(p.topic, "success").Inc()
	return nil
}

// Message renders evt as a kafka message keyed by endpoint and unit, so the
// events of one unit stay ordered within a partition.
func Message(ctx context.Context, evt *RunEvent) (kafka.Message, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal run event: %w", err)
	}

	headers := []kafka.Header{
		{Key: "type", Value: []byte(evt.Type)},
		{Key: "run_id", Value: []byte(evt.RunID)},
		{Key: "endpoint_id", Value: []byte(evt.EndpointID)},
		{Key: "unit_id", Value: []byte(evt.UnitID)},
	}
	if evt.TenantID != "" {
		headers = append(headers, kafka.Header{Key: "tenant_id", Value: []byte(evt.TenantID)})
	}
	if traceparent := tracing.GetTraceParent(ctx); traceparent != "" {
		headers = append(headers, kafka.Header{Key: "traceparent", Value: []byte(traceparent)})
	}
	if tracestate := tracing.GetTraceState(ctx); tracestate != "" {
		headers = append(headers, kafka.Header{Key: "tracestate", Value: []byte(tracestate)})
	}

	return kafka.Message{
		Key:     []byte(fmt.Sprintf("%s:%s", evt.EndpointID, evt.UnitID)),
		Value:   data,
		Headers: headers,
	}, nil
}
