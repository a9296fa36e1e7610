package port

import (
	"context"
	"time"

	"github.com/axnihao/otp-service/internal/core/domain"
)

// CodeRepository is the persistence contract for outstanding one-time codes.
// It is the sole synchronization point between issuance and verification:
// IncrementAttempts must be an atomic increment-and-fetch conditional on
// attempts < max_attempts, returning repository.ErrAttemptsExhausted once the
// budget is spent, and MarkVerified must be conditional on the record still
// being unverified, returning repository.ErrAlreadyVerified when a racing
// call won the transition.
type CodeRepository interface {
	Insert(ctx context.Context, record domain.CodeRecord) error
	// FindLatestEligible returns the most recently created record for the
	// address with verified=false and expires_at still in the future. The
	// expiry comparison uses the store's clock, not the caller's.
	FindLatestEligible(ctx context.Context, address string) (*domain.CodeRecord, error)
	IncrementAttempts(ctx context.Context, id string) (int, error)
	MarkVerified(ctx context.Context, id string, verifiedAt time.Time) error
}
