package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/axnihao/otp-service/internal/core/domain"
	"github.com/axnihao/otp-service/internal/core/port"
)

// StubPublisher logs events instead of sending them to Kafka. Useful for development environments.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly event publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) logEvent(eventType, recordID string, at time.Time, payload any) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	p.logger.Info("stub event published",
		zap.String("event_type", eventType),
		zap.String("record_id", recordID),
		zap.Time("timestamp", at.UTC()),
		zap.Any("payload", payload),
	)
}

// PublishCodeIssued logs otp.code.issued events.
func (p *StubPublisher) PublishCodeIssued(_ context.Context, event domain.CodeIssuedEvent) error {
	payload := map[string]any{
		"record_id":      event.RecordID,
		"masked_address": event.MaskedAddress,
		"issued_at":      event.IssuedAt,
		"expires_at":     event.ExpiresAt,
		"delivered":      event.Delivered,
		"metadata":       event.Metadata,
	}
	p.logEvent("otp.code.issued", event.RecordID, event.IssuedAt, payload)
	return nil
}

// PublishCodeVerified logs otp.code.verified events.
func (p *StubPublisher) PublishCodeVerified(_ context.Context, event domain.CodeVerifiedEvent) error {
	payload := map[string]any{
		"record_id":      event.RecordID,
		"masked_address": event.MaskedAddress,
		"verified_at":    event.VerifiedAt,
		"attempts":       event.Attempts,
		"metadata":       event.Metadata,
	}
	p.logEvent("otp.code.verified", event.RecordID, event.VerifiedAt, payload)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
