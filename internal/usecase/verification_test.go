package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/axnihao/otp-service/internal/core/domain"
	"github.com/axnihao/otp-service/internal/repository"
)

// codeStoreMock emulates the store contract in memory: the attempt increment
// is an atomic increment-and-fetch capped at the budget and the verified
// transition is conditional on the flag still being false. With staleReads
// set, lookups report zero attempts so every caller passes the budget guard
// and only the store-side conditional increment protects the counter.
type codeStoreMock struct {
	mu         sync.Mutex
	records    map[string]*domain.CodeRecord
	order      []string
	now        func() time.Time
	staleReads bool

	failInsert    error
	failIncrement error
	failVerify    error

	incrementCalls int
}

func newCodeStoreMock(now func() time.Time) *codeStoreMock {
	if now == nil {
		now = time.Now
	}
	return &codeStoreMock{
		records: make(map[string]*domain.CodeRecord),
		now:     now,
	}
}

func (m *codeStoreMock) Insert(_ context.Context, record domain.CodeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failInsert != nil {
		return m.failInsert
	}

	copied := record
	m.records[record.ID] = &copied
	m.order = append(m.order, record.ID)
	return nil
}

func (m *codeStoreMock) FindLatestEligible(_ context.Context, address string) (*domain.CodeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for i := len(m.order) - 1; i >= 0; i-- {
		record := m.records[m.order[i]]
		if record.Address != address {
			continue
		}
		if !record.Eligible(now) {
			continue
		}
		copied := *record
		if m.staleReads {
			copied.Attempts = 0
		}
		return &copied, nil
	}

	return nil, repository.ErrNotFound
}

func (m *codeStoreMock) IncrementAttempts(_ context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.incrementCalls++

	if m.failIncrement != nil {
		return 0, m.failIncrement
	}

	record, ok := m.records[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	if record.MaxAttempts > 0 && record.Attempts >= record.MaxAttempts {
		return 0, repository.ErrAttemptsExhausted
	}

	record.Attempts++
	return record.Attempts, nil
}

func (m *codeStoreMock) MarkVerified(_ context.Context, id string, verifiedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failVerify != nil {
		return m.failVerify
	}

	record, ok := m.records[id]
	if !ok {
		return repository.ErrNotFound
	}
	if record.Verified {
		return repository.ErrAlreadyVerified
	}

	record.Verified = true
	record.VerifiedAt = &verifiedAt
	return nil
}

func (m *codeStoreMock) get(id string) domain.CodeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.records[id]
}

func (m *codeStoreMock) seed(record domain.CodeRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := record
	m.records[record.ID] = &copied
	m.order = append(m.order, record.ID)
}

type eventPublisherMock struct {
	mu       sync.Mutex
	issued   []domain.CodeIssuedEvent
	verified []domain.CodeVerifiedEvent
}

func (m *eventPublisherMock) PublishCodeIssued(_ context.Context, event domain.CodeIssuedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issued = append(m.issued, event)
	return nil
}

func (m *eventPublisherMock) PublishCodeVerified(_ context.Context, event domain.CodeVerifiedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verified = append(m.verified, event)
	return nil
}

func seedRecord(store *codeStoreMock, id, address, code string, createdAt time.Time, validity time.Duration, attempts, maxAttempts int) {
	store.seed(domain.CodeRecord{
		ID:          id,
		Address:     address,
		Code:        code,
		CreatedAt:   createdAt,
		ExpiresAt:   createdAt.Add(validity),
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
	})
}

func TestVerificationService_CorrectCodeSucceeds(t *testing.T) {
	fixed := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	store := newCodeStoreMock(func() time.Time { return fixed })
	events := &eventPublisherMock{}
	seedRecord(store, "code-1", "alice@example.com", "042731", fixed.Add(-time.Minute), 10*time.Minute, 0, 5)

	svc := NewVerificationService(store, events, nil)
	svc.WithClock(func() time.Time { return fixed })

	result, err := svc.Verify(context.Background(), "alice@example.com", "042731")
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if result.RecordID != "code-1" {
		t.Fatalf("expected record code-1, got %s", result.RecordID)
	}
	if result.Attempts != 1 {
		t.Fatalf("expected one attempt consumed, got %d", result.Attempts)
	}
	if !result.VerifiedAt.Equal(fixed) {
		t.Fatalf("expected verified at %v, got %v", fixed, result.VerifiedAt)
	}

	stored := store.get("code-1")
	if !stored.Verified {
		t.Fatalf("expected record marked verified")
	}
	if stored.VerifiedAt == nil || !stored.VerifiedAt.Equal(fixed) {
		t.Fatalf("expected verified_at persisted")
	}
	if len(events.verified) != 1 {
		t.Fatalf("expected one verified event, got %d", len(events.verified))
	}
	if events.verified[0].MaskedAddress != "ali***@example.com" {
		t.Fatalf("expected masked address in event, got %s", events.verified[0].MaskedAddress)
	}
}

func TestVerificationService_NormalizesAddress(t *testing.T) {
	fixed := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	store := newCodeStoreMock(func() time.Time { return fixed })
	seedRecord(store, "code-1", "alice@example.com", "042731", fixed.Add(-time.Minute), 10*time.Minute, 0, 5)

	svc := NewVerificationService(store, nil, nil)
	svc.WithClock(func() time.Time { return fixed })

	if _, err := svc.Verify(context.Background(), "  Alice@Example.COM ", "042731"); err != nil {
		t.Fatalf("expected normalized lookup to succeed, got %v", err)
	}
}

func TestVerificationService_UnknownAddress(t *testing.T) {
	store := newCodeStoreMock(nil)
	svc := NewVerificationService(store, nil, nil)

	_, err := svc.Verify(context.Background(), "nobody@example.com", "123456")
	if !errors.Is(err, ErrCodeNotFound) {
		t.Fatalf("expected ErrCodeNotFound, got %v", err)
	}
	if store.incrementCalls != 0 {
		t.Fatalf("expected no attempt consumed for unknown address")
	}
}

func TestVerificationService_ExpiredCode(t *testing.T) {
	fixed := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	store := newCodeStoreMock(func() time.Time { return fixed })
	seedRecord(store, "code-1", "alice@example.com", "042731", fixed.Add(-2*time.Second), time.Second, 0, 5)

	svc := NewVerificationService(store, nil, nil)
	svc.WithClock(func() time.Time { return fixed })

	_, err := svc.Verify(context.Background(), "alice@example.com", "042731")
	if !errors.Is(err, ErrCodeNotFound) {
		t.Fatalf("expected ErrCodeNotFound for expired record, got %v", err)
	}
	if store.incrementCalls != 0 {
		t.Fatalf("expected expired record never selected nor charged")
	}
}

func TestVerificationService_WrongCodeConsumesBudget(t *testing.T) {
	fixed := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	store := newCodeStoreMock(func() time.Time { return fixed })
	seedRecord(store, "code-1", "alice@example.com", "042731", fixed.Add(-time.Minute), 10*time.Minute, 0, 5)

	svc := NewVerificationService(store, nil, nil)
	svc.WithClock(func() time.Time { return fixed })

	for i := 0; i < 5; i++ {
		_, err := svc.Verify(context.Background(), "alice@example.com", "999999")
		if !errors.Is(err, ErrInvalidCode) {
			t.Fatalf("attempt %d: expected ErrInvalidCode, got %v", i+1, err)
		}
	}

	// The budget is spent; even the correct code is rejected without a charge.
	_, err := svc.Verify(context.Background(), "alice@example.com", "042731")
	if !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("expected ErrAttemptsExhausted, got %v", err)
	}

	stored := store.get("code-1")
	if stored.Attempts != 5 {
		t.Fatalf("expected attempts frozen at 5, got %d", stored.Attempts)
	}
	if store.incrementCalls != 5 {
		t.Fatalf("expected exhausted record not to increment, got %d calls", store.incrementCalls)
	}
}

func TestVerificationService_SupersededCodeRejected(t *testing.T) {
	fixed := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	store := newCodeStoreMock(func() time.Time { return fixed })
	seedRecord(store, "code-old", "alice@example.com", "111111", fixed.Add(-2*time.Minute), 10*time.Minute, 0, 5)
	seedRecord(store, "code-new", "alice@example.com", "222222", fixed.Add(-time.Minute), 10*time.Minute, 0, 5)

	svc := NewVerificationService(store, nil, nil)
	svc.WithClock(func() time.Time { return fixed })

	// The older code's value is compared against the newest record only.
	_, err := svc.Verify(context.Background(), "alice@example.com", "111111")
	if !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected superseded code rejected, got %v", err)
	}

	if store.get("code-old").Attempts != 0 {
		t.Fatalf("expected superseded record untouched")
	}
	if store.get("code-new").Attempts != 1 {
		t.Fatalf("expected the attempt charged to the latest record")
	}

	result, err := svc.Verify(context.Background(), "alice@example.com", "222222")
	if err != nil {
		t.Fatalf("expected latest code to verify, got %v", err)
	}
	if result.RecordID != "code-new" {
		t.Fatalf("expected code-new verified, got %s", result.RecordID)
	}
}

func TestVerificationService_RetryAfterSuccess(t *testing.T) {
	fixed := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	store := newCodeStoreMock(func() time.Time { return fixed })
	seedRecord(store, "code-1", "alice@example.com", "042731", fixed.Add(-time.Minute), 10*time.Minute, 0, 5)

	svc := NewVerificationService(store, nil, nil)
	svc.WithClock(func() time.Time { return fixed })

	if _, err := svc.Verify(context.Background(), "alice@example.com", "042731"); err != nil {
		t.Fatalf("first verification failed: %v", err)
	}

	// A verified record is no longer eligible; the retry must not observe a
	// second success.
	_, err := svc.Verify(context.Background(), "alice@example.com", "042731")
	if !errors.Is(err, ErrCodeNotFound) {
		t.Fatalf("expected ErrCodeNotFound on retry, got %v", err)
	}
}

func TestVerificationService_IncrementFailureIsNonFatal(t *testing.T) {
	fixed := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	store := newCodeStoreMock(func() time.Time { return fixed })
	store.failIncrement = errors.New("connection reset")
	seedRecord(store, "code-1", "alice@example.com", "042731", fixed.Add(-time.Minute), 10*time.Minute, 0, 5)

	svc := NewVerificationService(store, nil, nil)
	svc.WithClock(func() time.Time { return fixed })

	result, err := svc.Verify(context.Background(), "alice@example.com", "042731")
	if err != nil {
		t.Fatalf("expected verification to proceed past a failed increment, got %v", err)
	}
	if result.Attempts != 1 {
		t.Fatalf("expected attempt count assumed as 1, got %d", result.Attempts)
	}
}

func TestVerificationService_TerminalWriteFailureIsFatal(t *testing.T) {
	fixed := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	store := newCodeStoreMock(func() time.Time { return fixed })
	store.failVerify = errors.New("connection reset")
	seedRecord(store, "code-1", "alice@example.com", "042731", fixed.Add(-time.Minute), 10*time.Minute, 0, 5)

	svc := NewVerificationService(store, nil, nil)
	svc.WithClock(func() time.Time { return fixed })

	_, err := svc.Verify(context.Background(), "alice@example.com", "042731")
	if err == nil {
		t.Fatalf("expected error when the terminal write fails")
	}
	if errors.Is(err, ErrCodeNotFound) || errors.Is(err, ErrInvalidCode) || errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("expected a storage error, got %v", err)
	}
	if !strings.Contains(err.Error(), "persist verification") {
		t.Fatalf("expected wrapped persist error, got %v", err)
	}
}

func TestVerificationService_ConcurrentCorrectSubmissions(t *testing.T) {
	fixed := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	store := newCodeStoreMock(func() time.Time { return fixed })
	seedRecord(store, "code-1", "alice@example.com", "042731", fixed.Add(-time.Minute), 10*time.Minute, 0, 5)

	svc := NewVerificationService(store, nil, nil)
	svc.WithClock(func() time.Time { return fixed })

	const callers = 12

	var wg sync.WaitGroup
	results := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.Verify(context.Background(), "alice@example.com", "042731")
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrCodeNotFound), errors.Is(err, ErrAttemptsExhausted):
		default:
			t.Fatalf("unexpected error under concurrency: %v", err)
		}
	}

	if successes != 1 {
		t.Fatalf("expected exactly one successful transition, got %d", successes)
	}

	stored := store.get("code-1")
	if !stored.Verified {
		t.Fatalf("expected record verified")
	}
	if stored.Attempts > stored.MaxAttempts {
		t.Fatalf("attempts %d exceeded budget %d", stored.Attempts, stored.MaxAttempts)
	}
}

func TestVerificationService_ConcurrentWrongGuessesCapCounter(t *testing.T) {
	fixed := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	store := newCodeStoreMock(func() time.Time { return fixed })
	// Stale lookups let every racer past the budget guard; the stored counter
	// must still stop at max_attempts.
	store.staleReads = true
	seedRecord(store, "code-1", "alice@example.com", "042731", fixed.Add(-time.Minute), 10*time.Minute, 0, 5)

	svc := NewVerificationService(store, nil, nil)
	svc.WithClock(func() time.Time { return fixed })

	const callers = 12

	var wg sync.WaitGroup
	results := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.Verify(context.Background(), "alice@example.com", "999999")
		}(i)
	}
	wg.Wait()

	for _, err := range results {
		if !errors.Is(err, ErrInvalidCode) && !errors.Is(err, ErrAttemptsExhausted) {
			t.Fatalf("unexpected error under concurrency: %v", err)
		}
	}

	stored := store.get("code-1")
	if stored.Attempts != stored.MaxAttempts {
		t.Fatalf("expected counter capped at %d, got %d", stored.MaxAttempts, stored.Attempts)
	}

	// The budget stays spent for later callers, correct code or not.
	_, err := svc.Verify(context.Background(), "alice@example.com", "042731")
	if !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("expected ErrAttemptsExhausted after the budget is spent, got %v", err)
	}
	if store.get("code-1").Attempts != stored.MaxAttempts {
		t.Fatalf("expected counter unchanged after exhaustion")
	}
}
