package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/axnihao/otp-service/internal/infra/config"
)

type notifierMock struct {
	sendErr error

	addresses  []string
	codes      []string
	validities []time.Duration
}

func (m *notifierMock) Send(_ context.Context, address, code string, validity time.Duration) error {
	m.addresses = append(m.addresses, address)
	m.codes = append(m.codes, code)
	m.validities = append(m.validities, validity)
	return m.sendErr
}

type rateLimitStoreMock struct {
	count    int
	countErr error
	oldest   time.Time

	recorded []string
}

func (m *rateLimitStoreMock) TrimWindow(context.Context, string, time.Duration, time.Time) error {
	return nil
}

func (m *rateLimitStoreMock) CountAttempts(context.Context, string, time.Duration, time.Time) (int, error) {
	return m.count, m.countErr
}

func (m *rateLimitStoreMock) RecordAttempt(_ context.Context, identifier string, _ time.Time) error {
	m.recorded = append(m.recorded, identifier)
	return nil
}

func (m *rateLimitStoreMock) OldestAttempt(context.Context, string, time.Duration, time.Time) (time.Time, bool, error) {
	if m.oldest.IsZero() {
		return time.Time{}, false, nil
	}
	return m.oldest, true, nil
}

func issuanceConfig() *config.AppConfig {
	return &config.AppConfig{
		OTP: config.OTPSettings{
			CodeLength:     6,
			ValidityWindow: 10 * time.Minute,
			MaxAttempts:    5,
		},
		RateLimit: config.RateLimitSettings{
			WindowDuration:  time.Minute,
			SendMaxAttempts: 3,
		},
	}
}

func TestIssuanceService_IssuePersistsAndDelivers(t *testing.T) {
	fixed := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	store := newCodeStoreMock(func() time.Time { return fixed })
	notifier := &notifierMock{}
	limits := &rateLimitStoreMock{}
	events := &eventPublisherMock{}

	svc := NewIssuanceService(issuanceConfig(), store, notifier, limits, events, nil)
	svc.WithClock(func() time.Time { return fixed })

	result, err := svc.Issue(context.Background(), "  Alice@Example.COM ")
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	if result.Address != "alice@example.com" {
		t.Fatalf("expected normalized address, got %s", result.Address)
	}
	if len(result.Code) != 6 {
		t.Fatalf("expected 6-digit code, got %q", result.Code)
	}
	if !result.ExpiresAt.Equal(fixed.Add(10 * time.Minute)) {
		t.Fatalf("expected expiry 10m after issue, got %v", result.ExpiresAt)
	}

	stored := store.get(result.RecordID)
	if stored.Address != "alice@example.com" {
		t.Fatalf("expected normalized address persisted, got %s", stored.Address)
	}
	if stored.Code != result.Code {
		t.Fatalf("persisted code %q does not match result %q", stored.Code, result.Code)
	}
	if stored.Attempts != 0 || stored.Verified {
		t.Fatalf("expected fresh record, got attempts=%d verified=%v", stored.Attempts, stored.Verified)
	}
	if stored.MaxAttempts != 5 {
		t.Fatalf("expected max attempts 5, got %d", stored.MaxAttempts)
	}

	if len(notifier.codes) != 1 || notifier.codes[0] != result.Code {
		t.Fatalf("expected notifier to receive the issued code")
	}
	if notifier.validities[0] != 10*time.Minute {
		t.Fatalf("expected notifier to receive the validity window")
	}

	if len(events.issued) != 1 {
		t.Fatalf("expected one issued event, got %d", len(events.issued))
	}
	if !events.issued[0].Delivered {
		t.Fatalf("expected event to record successful delivery")
	}

	if len(limits.recorded) != 1 || limits.recorded[0] != "otp_send:alice@example.com" {
		t.Fatalf("expected rate-limit attempt recorded, got %v", limits.recorded)
	}
}

func TestIssuanceService_FreshCodePerIssue(t *testing.T) {
	fixed := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	store := newCodeStoreMock(func() time.Time { return fixed })
	notifier := &notifierMock{}

	svc := NewIssuanceService(issuanceConfig(), store, notifier, nil, nil, nil)
	svc.WithClock(func() time.Time { return fixed })

	first, err := svc.Issue(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("first issue failed: %v", err)
	}
	second, err := svc.Issue(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("second issue failed: %v", err)
	}

	if first.RecordID == second.RecordID {
		t.Fatalf("expected distinct records per issuance")
	}

	// Verification selects the newest record, so reissuing supersedes.
	latest, err := store.FindLatestEligible(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("FindLatestEligible failed: %v", err)
	}
	if latest.ID != second.RecordID {
		t.Fatalf("expected latest record %s, got %s", second.RecordID, latest.ID)
	}
}

func TestIssuanceService_PersistFailureSkipsDelivery(t *testing.T) {
	store := newCodeStoreMock(nil)
	store.failInsert = errors.New("connection reset")
	notifier := &notifierMock{}
	events := &eventPublisherMock{}

	svc := NewIssuanceService(issuanceConfig(), store, notifier, nil, events, nil)

	_, err := svc.Issue(context.Background(), "alice@example.com")
	if err == nil {
		t.Fatalf("expected error when persist fails")
	}
	if len(notifier.codes) != 0 {
		t.Fatalf("expected no delivery attempt after persist failure")
	}
	if len(events.issued) != 0 {
		t.Fatalf("expected no event after persist failure")
	}
}

func TestIssuanceService_DeliveryFailureKeepsRecord(t *testing.T) {
	fixed := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	store := newCodeStoreMock(func() time.Time { return fixed })
	notifier := &notifierMock{sendErr: errors.New("smtp timeout")}
	events := &eventPublisherMock{}

	svc := NewIssuanceService(issuanceConfig(), store, notifier, nil, events, nil)
	svc.WithClock(func() time.Time { return fixed })

	result, err := svc.Issue(context.Background(), "alice@example.com")
	if !errors.Is(err, ErrNotificationFailed) {
		t.Fatalf("expected ErrNotificationFailed, got %v", err)
	}
	if result == nil {
		t.Fatalf("expected the persisted record to be reported despite delivery failure")
	}

	stored := store.get(result.RecordID)
	if stored.Code != result.Code {
		t.Fatalf("expected the record to survive the delivery failure")
	}

	if len(events.issued) != 1 || events.issued[0].Delivered {
		t.Fatalf("expected an undelivered issued event")
	}
}

func TestIssuanceService_RateLimitExceeded(t *testing.T) {
	store := newCodeStoreMock(nil)
	notifier := &notifierMock{}
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	limits := &rateLimitStoreMock{count: 3, oldest: now.Add(-30 * time.Second)}

	svc := NewIssuanceService(issuanceConfig(), store, notifier, limits, nil, nil)
	svc.WithClock(func() time.Time { return now })

	_, err := svc.Issue(context.Background(), "alice@example.com")

	var limited *RateLimitExceededError
	if !errors.As(err, &limited) {
		t.Fatalf("expected RateLimitExceededError, got %v", err)
	}
	if limited.RetryAfter != 30*time.Second {
		t.Fatalf("expected retry-after 30s, got %v", limited.RetryAfter)
	}
	if len(limits.recorded) != 0 {
		t.Fatalf("expected rejected request not to consume the window")
	}
	if len(notifier.codes) != 0 {
		t.Fatalf("expected no delivery for a throttled request")
	}
	if len(store.order) != 0 {
		t.Fatalf("expected no record persisted for a throttled request")
	}
}

func TestIssuanceService_RateLimitStoreFailureIsOpen(t *testing.T) {
	fixed := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	store := newCodeStoreMock(func() time.Time { return fixed })
	notifier := &notifierMock{}
	limits := &rateLimitStoreMock{countErr: errors.New("redis down")}

	svc := NewIssuanceService(issuanceConfig(), store, notifier, limits, nil, nil)
	svc.WithClock(func() time.Time { return fixed })

	if _, err := svc.Issue(context.Background(), "alice@example.com"); err != nil {
		t.Fatalf("expected issuance to proceed when the limiter store fails, got %v", err)
	}
}

func TestIssuanceService_RequiresAddress(t *testing.T) {
	svc := NewIssuanceService(issuanceConfig(), newCodeStoreMock(nil), &notifierMock{}, nil, nil, nil)

	if _, err := svc.Issue(context.Background(), "   "); err == nil {
		t.Fatalf("expected error for blank address")
	}
}
