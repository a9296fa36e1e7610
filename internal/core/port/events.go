package port

import (
	"context"

	"github.com/axnihao/otp-service/internal/core/domain"
)

// EventPublisher publishes domain events to the message bus.
type EventPublisher interface {
	PublishCodeIssued(ctx context.Context, event domain.CodeIssuedEvent) error
	PublishCodeVerified(ctx context.Context, event domain.CodeVerifiedEvent) error
}
