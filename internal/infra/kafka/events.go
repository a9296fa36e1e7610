package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/axnihao/otp-service/internal/core/domain"
	"github.com/axnihao/otp-service/internal/core/port"
	"github.com/axnihao/otp-service/internal/infra/config"
)

const (
	schemaVersion = "1.0"

	topicCodeIssued   = "code.issued"
	topicCodeVerified = "code.verified"
)

// EventPublisher implements port.EventPublisher using Kafka.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewEventPublisher constructs a Kafka-backed event publisher.
func NewEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type envelopeMetadata map[string]string

type eventEnvelope struct {
	EventID   string           `json:"event_id"`
	EventType string           `json:"event_type"`
	RecordID  string           `json:"record_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Payload   any              `json:"payload"`
	Metadata  envelopeMetadata `json:"metadata,omitempty"`
}

func (p *EventPublisher) publish(_ context.Context, eventID, eventType, recordID string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	id := eventID
	if id == "" {
		id = uuid.NewString()
	}

	envelope := eventEnvelope{
		EventID:   id,
		EventType: eventType,
		RecordID:  recordID,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata: envelopeMetadata{
			"service":     p.appCfg.Name,
			"environment": p.appCfg.Env,
		},
	}

	value, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	topic := p.producer.TopicName(eventType)
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(recordID),
		Value: sarama.ByteEncoder(value),
	}

	p.producer.Producer().Input() <- msg

	p.logger.Debug("event queued",
		zap.String("event_id", id),
		zap.String("event_type", eventType),
		zap.String("topic", topic),
	)

	return nil
}

// PublishCodeIssued publishes otp.code.issued events.
func (p *EventPublisher) PublishCodeIssued(ctx context.Context, event domain.CodeIssuedEvent) error {
	payload := event
	payload.Address = ""
	return p.publish(ctx, event.EventID, topicCodeIssued, event.RecordID, event.IssuedAt, payload)
}

// PublishCodeVerified publishes otp.code.verified events.
func (p *EventPublisher) PublishCodeVerified(ctx context.Context, event domain.CodeVerifiedEvent) error {
	payload := event
	payload.Address = ""
	return p.publish(ctx, event.EventID, topicCodeVerified, event.RecordID, event.VerifiedAt, payload)
}

var _ port.EventPublisher = (*EventPublisher)(nil)
