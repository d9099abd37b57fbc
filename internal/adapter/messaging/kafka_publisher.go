package messaging

import (
	"context"
	"time"

	otelkafka "github.com/Trendyol/otel-kafka-konsumer"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

const eventTypeHeader = "event-type"

// Producer is the subset of the traced kafka writer the publisher needs.
type Producer interface {
	WriteMessage(ctx context.Context, msg kafka.Message) error
	Close() error
}

type KafkaConfig struct {
	Brokers      []string
	Topic        string
	ClientID     string
	BatchTimeout time.Duration
	BatchSize    int
}

// NewKafkaProducer builds a kafka writer that injects the trace context into
// message headers.
func NewKafkaProducer(cfg KafkaConfig, tp trace.TracerProvider) (Producer, error) {
	base := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           cfg.BatchTimeout,
		BatchSize:              cfg.BatchSize,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}

	writer, err := otelkafka.NewWriter(base,
		otelkafka.WithTracerProvider(tp),
		otelkafka.WithPropagator(propagation.TraceContext{}),
		otelkafka.WithAttributes(
			[]attribute.KeyValue{
				semconv.MessagingDestinationNameKey.String(cfg.Topic),
				attribute.String("messaging.kafka.client_id", cfg.ClientID),
			},
		),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create kafka writer")
	}
	return writer, nil
}

// KafkaPublisher keys every message by stock id so events of one stock keep
// their order within a partition.
type KafkaPublisher struct {
	producer Producer
	logger   *zap.Logger
}

func NewKafkaPublisher(producer Producer, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event domain.Event) error {
	msg, err := buildMessage(event)
	if err != nil {
		return err
	}

	if err := p.producer.WriteMessage(ctx, msg); err != nil {
		return errors.Wrapf(err, "publish %s %s", event.Type(), event.Meta().EventID)
	}

	p.logger.Debug("sent stock event",
		zap.String("event_type", event.Type()),
		zap.String("stock_id", event.Meta().StockID))
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

func buildMessage(event domain.Event) (kafka.Message, error) {
	env, err := NewEnvelope(event)
	if err != nil {
		return kafka.Message{}, err
	}
	payload, err := env.Marshal()
	if err != nil {
		return kafka.Message{}, errors.Wrap(err, "marshal envelope")
	}

	return kafka.Message{
		Key:   []byte(env.StockID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: eventTypeHeader, Value: []byte(env.EventType)},
		},
		Time: env.OccurredAt,
	}, nil
}
