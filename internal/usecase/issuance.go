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
	"github.com/axnihao/otp-service/internal/infra/config"
	"github.com/axnihao/otp-service/internal/infra/logger"
	"github.com/axnihao/otp-service/internal/infra/security"
)

const issuanceRateLimitScope = "otp_send"

var (
	// ErrIssuanceUnavailable indicates the service is not properly configured.
	ErrIssuanceUnavailable = errors.New("code issuance service unavailable")
	// ErrNotificationFailed indicates the code was persisted but delivery to
	// the address owner failed. The record remains valid; retrying issuance
	// creates a newer record that supersedes it.
	ErrNotificationFailed = errors.New("code notification failed")
)

// RateLimitExceededError reports that a sliding-window limit was hit.
type RateLimitExceededError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s", e.Scope)
}

// IssuanceService coordinates code generation, persistence, and delivery.
type IssuanceService struct {
	cfg        *config.AppConfig
	codes      port.CodeRepository
	notifier   port.Notifier
	rateLimits port.RateLimitStore
	events     port.EventPublisher
	logger     *zap.Logger
	now        func() time.Time

	codeLength  int
	validity    time.Duration
	maxAttempts int
}

// IssuanceResult describes the persisted code record. Code is the plaintext
// value; it is returned to the caller only for development flows and must
// never reach production responses.
type IssuanceResult struct {
	RecordID  string
	Address   string
	Code      string
	ExpiresAt time.Time
}

// NewIssuanceService constructs an IssuanceService.
func NewIssuanceService(cfg *config.AppConfig, codes port.CodeRepository, notifier port.Notifier, rateLimits port.RateLimitStore, events port.EventPublisher, log *zap.Logger) *IssuanceService {
	if log == nil {
		log = zap.NewNop()
	}

	s := &IssuanceService{
		cfg:         cfg,
		codes:       codes,
		notifier:    notifier,
		rateLimits:  rateLimits,
		events:      events,
		logger:      log,
		now:         time.Now,
		codeLength:  domain.DefaultCodeLength,
		validity:    domain.DefaultValidityWindow,
		maxAttempts: domain.DefaultMaxAttempts,
	}

	if cfg != nil {
		if cfg.OTP.CodeLength > 0 {
			s.codeLength = cfg.OTP.CodeLength
		}
		if cfg.OTP.ValidityWindow > 0 {
			s.validity = cfg.OTP.ValidityWindow
		}
		if cfg.OTP.MaxAttempts > 0 {
			s.maxAttempts = cfg.OTP.MaxAttempts
		}
	}

	return s
}

// WithClock allows tests to override the clock used by the service.
func (s *IssuanceService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// WithValidityWindow overrides the configured validity window.
func (s *IssuanceService) WithValidityWindow(window time.Duration) {
	if window > 0 {
		s.validity = window
	}
}

// Issue generates a fresh code for the address, persists it, and hands it to
// the notifier. Each call creates a new record; verification always selects
// the most recent eligible one, so older records are simply superseded.
func (s *IssuanceService) Issue(ctx context.Context, address string) (*IssuanceResult, error) {
	address = domain.NormalizeAddress(address)
	if address == "" {
		return nil, fmt.Errorf("address is required")
	}
	if s.codes == nil || s.notifier == nil {
		return nil, ErrIssuanceUnavailable
	}

	now := s.now().UTC()
	if err := s.enforceSendRateLimit(ctx, address, now); err != nil {
		return nil, err
	}

	code, err := security.GenerateNumericCode(s.codeLength)
	if err != nil {
		return nil, fmt.Errorf("generate code: %w", err)
	}

	record := domain.CodeRecord{
		ID:          uuid.NewString(),
		Address:     address,
		Code:        code,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.validity),
		Attempts:    0,
		MaxAttempts: s.maxAttempts,
		Verified:    false,
	}

	if err := s.codes.Insert(ctx, record); err != nil {
		return nil, fmt.Errorf("persist code record: %w", err)
	}

	result := &IssuanceResult{
		RecordID:  record.ID,
		Address:   address,
		Code:      code,
		ExpiresAt: record.ExpiresAt,
	}

	if err := s.notifier.Send(ctx, address, code, s.validity); err != nil {
		s.logger.Warn("code delivery failed",
			zap.String("record_id", record.ID),
			zap.String("address", logger.MaskEmail(address)),
			zap.Error(err),
		)
		s.publishIssuedEvent(ctx, record, false)
		return result, fmt.Errorf("%w: %v", ErrNotificationFailed, err)
	}

	s.publishIssuedEvent(ctx, record, true)

	s.logger.Info("code issued",
		zap.String("record_id", record.ID),
		zap.String("address", logger.MaskEmail(address)),
		zap.Time("expires_at", record.ExpiresAt),
	)

	return result, nil
}

func (s *IssuanceService) enforceSendRateLimit(ctx context.Context, address string, now time.Time) error {
	if s.rateLimits == nil || s.cfg == nil {
		return nil
	}

	limit := s.cfg.RateLimit.SendMaxAttempts
	if limit <= 0 {
		return nil
	}

	window := s.cfg.RateLimit.WindowDuration
	if window <= 0 {
		window = time.Hour
	}

	storageKey := fmt.Sprintf("%s:%s", issuanceRateLimitScope, address)

	if err := s.rateLimits.TrimWindow(ctx, storageKey, window, now); err != nil {
		s.logger.Warn("issuance rate limit trim failed", zap.String("scope", issuanceRateLimitScope), zap.Error(err))
		return nil
	}

	count, err := s.rateLimits.CountAttempts(ctx, storageKey, window, now)
	if err != nil {
		s.logger.Warn("issuance rate limit count failed", zap.String("scope", issuanceRateLimitScope), zap.Error(err))
		return nil
	}

	if count >= limit {
		retryAfter := time.Duration(0)
		if oldest, ok, err := s.rateLimits.OldestAttempt(ctx, storageKey, window, now); err == nil && ok {
			reset := oldest.Add(window)
			if reset.After(now) {
				retryAfter = reset.Sub(now)
			}
		} else if err != nil {
			s.logger.Warn("issuance rate limit oldest lookup failed", zap.Error(err))
		}
		return &RateLimitExceededError{Scope: issuanceRateLimitScope, RetryAfter: retryAfter}
	}

	if err := s.rateLimits.RecordAttempt(ctx, storageKey, now); err != nil {
		s.logger.Warn("issuance rate limit record failed", zap.Error(err))
	}

	return nil
}

func (s *IssuanceService) publishIssuedEvent(ctx context.Context, record domain.CodeRecord, delivered bool) {
	if s.events == nil {
		return
	}

	event := domain.CodeIssuedEvent{
		EventID:       uuid.NewString(),
		RecordID:      record.ID,
		Address:       record.Address,
		MaskedAddress: logger.MaskEmail(record.Address),
		IssuedAt:      record.CreatedAt,
		ExpiresAt:     record.ExpiresAt,
		Delivered:     delivered,
	}

	if err := s.events.PublishCodeIssued(ctx, event); err != nil {
		s.logger.Warn("publish code issued event failed", zap.String("record_id", record.ID), zap.Error(err))
	}
}
